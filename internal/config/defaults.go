package config

import (
	"github.com/nvandessel/epistate/internal/immunity"
	"github.com/nvandessel/epistate/internal/infection"
	"github.com/nvandessel/epistate/internal/models"
	"github.com/nvandessel/epistate/internal/population"
	"github.com/nvandessel/epistate/internal/progression"
	"github.com/nvandessel/epistate/internal/screening"
)

// Default returns a configuration with sensible defaults: a synthetic town,
// one wild type seed per day for the first week, no interventions.
func Default() *Config {
	return &Config{
		Simulation: SimulationConfig{
			Seed:          4711,
			Days:          100,
			Generate:      population.DefaultGenerateParams(),
			SnapshotEvery: 7,
		},
		Calibration: CalibrationConfig{
			Parameter:       1e-5,
			SterilizingDays: infection.DefaultSterilizingDays,
		},
		Strains: map[string]StrainConfig{
			models.StrainSARSCoV2.String():   {Infectiousness: 1, SeriouslySick: 1, SeriouslySickVaccinated: 1, Critical: 1},
			models.StrainAlpha.String():      {Infectiousness: 1.55, SeriouslySick: 1, SeriouslySickVaccinated: 1, Critical: 1},
			models.StrainDelta.String():      {Infectiousness: 3.1, SeriouslySick: 2, SeriouslySickVaccinated: 1, Critical: 1},
			models.StrainOmicronBA1.String(): {Infectiousness: 3.1, SeriouslySick: 0.6, SeriouslySickVaccinated: 0.6, Critical: 1},
			models.StrainOmicronBA2.String(): {Infectiousness: 3.1 * 1.7, SeriouslySick: 0.6, SeriouslySickVaccinated: 0.6, Critical: 1},
			models.StrainA.String():          {Infectiousness: 3.1 * 1.7, SeriouslySick: 0.6, SeriouslySickVaccinated: 0.6, Critical: 1},
		},
		Antibody: AntibodyConfig{
			Beta:         immunity.DefaultBeta,
			HalfLifeDays: immunity.DefaultHalfLifeDays,
			Ceiling:      immunity.DefaultCeiling,
			NaturalWithOmicron: &NaturalWithOmicronConfig{
				Initial: map[string]float64{
					models.StrainSARSCoV2.String():   0.01,
					models.StrainAlpha.String():      0.01,
					models.StrainDelta.String():      0.2 / 6.4,
					models.StrainOmicronBA1.String(): 8.0,
					models.StrainOmicronBA2.String(): 8.0 / 1.4,
					models.StrainA.String():          8.0 / 1.4,
				},
				Boost: 15,
			},
			NaturalImmunization: map[string]string{
				models.StrainOmicronBA1.String(): models.ImmunizationNaturalWithOmicron.String(),
				models.StrainOmicronBA2.String(): models.ImmunizationNaturalWithOmicron.String(),
				models.StrainA.String():          models.ImmunizationNaturalWithOmicron.String(),
			},
		},
		Progression: ProgressionConfig{
			SymptomaticProbability: progression.DefaultSymptomaticProbability,
			Transitions:            defaultTransitions(),
			SeriouslySick: map[int]float64{
				0: 0.0006, 10: 0.0019, 20: 0.0081, 30: 0.019, 40: 0.027,
				50: 0.068, 60: 0.144, 70: 0.231, 80: 0.355,
			},
			Critical: map[int]float64{
				0: 0.05, 40: 0.063, 50: 0.122, 60: 0.274, 70: 0.432, 80: 0.709,
			},
			QuarantineDays: 14,
			SelfQuarantine: true,
		},
		Tracing: TracingConfig{
			Probability:      1,
			PeriodDays:       4,
			QuarantineStatus: string(models.QuarantineAtHome),
		},
		Seeding: SeedingConfig{
			Total:  10,
			MinAge: -1,
			MaxAge: -1,
			PerDay: map[string]map[int]int{
				models.StrainSARSCoV2.String(): {0: 2, 5: 0},
			},
		},
		Screening: ScreeningConfig{
			Strategy: string(screening.StrategyNone),
		},
		Events: EventsConfig{
			Kafka: KafkaConfig{
				Topic:    "epistate.events",
				ClientID: "epistate",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func defaultTransitions() map[string]DwellConfig {
	out := make(map[string]DwellConfig)
	for _, e := range []struct {
		from, to models.DiseaseStatus
		mean     float64
	}{
		{models.StatusInfectedButNotContagious, models.StatusContagious, 4},
		{models.StatusContagious, models.StatusShowingSymptoms, 2},
		{models.StatusContagious, models.StatusRecovered, 8},
		{models.StatusShowingSymptoms, models.StatusSeriouslySick, 4},
		{models.StatusShowingSymptoms, models.StatusRecovered, 8},
		{models.StatusSeriouslySick, models.StatusCritical, 1},
		{models.StatusSeriouslySick, models.StatusRecovered, 14},
		{models.StatusCritical, models.StatusSeriouslySickAfterCritical, 9},
		{models.StatusSeriouslySickAfterCritical, models.StatusRecovered, 14},
	} {
		out[progression.Edge{From: e.from, To: e.to}.String()] = DwellConfig{Mean: e.mean, Std: e.mean}
	}
	return out
}
