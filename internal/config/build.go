package config

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"

	"github.com/nvandessel/epistate/internal/curves"
	"github.com/nvandessel/epistate/internal/events"
	"github.com/nvandessel/epistate/internal/immunity"
	"github.com/nvandessel/epistate/internal/infection"
	"github.com/nvandessel/epistate/internal/models"
	"github.com/nvandessel/epistate/internal/policy"
	"github.com/nvandessel/epistate/internal/population"
	"github.com/nvandessel/epistate/internal/progression"
	"github.com/nvandessel/epistate/internal/publish"
	"github.com/nvandessel/epistate/internal/screening"
	"github.com/nvandessel/epistate/internal/seeding"
	"github.com/nvandessel/epistate/internal/sim"
	"github.com/nvandessel/epistate/internal/snapshot"
	"github.com/nvandessel/epistate/internal/tracing"
	"github.com/nvandessel/epistate/internal/vaccination"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// generateStream is the PCG stream used to generate synthetic populations.
const generateStream = 0x67656e

var logLevels = []string{"error", "warn", "warning", "info", "debug", "trace"}

// Validate checks the whole configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []error

	s := c.Simulation
	if s.Days < 0 {
		errs = append(errs, fmt.Errorf("simulation.days must not be negative, got %d", s.Days))
	}
	if s.Workers < 0 {
		errs = append(errs, fmt.Errorf("simulation.workers must not be negative, got %d", s.Workers))
	}
	if s.SnapshotEvery < 0 {
		errs = append(errs, fmt.Errorf("simulation.snapshot_every must not be negative, got %d", s.SnapshotEvery))
	}
	if s.Scenario == "" {
		if err := s.Generate.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("simulation.generate: %w", err))
		}
	}
	if _, err := c.Retention(); err != nil {
		errs = append(errs, fmt.Errorf("simulation retention: %w", err))
	}

	if _, err := c.EngineOptions(); err != nil {
		errs = append(errs, err)
	}

	for _, k := range c.Events.Kinds {
		if !slices.Contains(eventKinds, events.Kind(k)) {
			errs = append(errs, fmt.Errorf("events.kinds: unknown event kind %q", k))
		}
	}
	if len(c.Events.Kafka.Brokers) > 0 && c.Events.Kafka.Topic == "" {
		errs = append(errs, errors.New("events.kafka.topic is required when brokers are set"))
	}

	if c.Logging.Level != "" && !slices.Contains(logLevels, strings.ToLower(c.Logging.Level)) {
		errs = append(errs, fmt.Errorf("logging.level must be one of %v, got %q", logLevels, c.Logging.Level))
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

var eventKinds = []events.Kind{
	events.KindStatusChange,
	events.KindInfection,
	events.KindInitialInfection,
	events.KindQuarantine,
	events.KindTracing,
	events.KindVaccination,
	events.KindTest,
	events.KindWarning,
}

// EventKinds returns the configured event kind filter.
func (c *Config) EventKinds() []events.Kind {
	out := make([]events.Kind, len(c.Events.Kinds))
	for i, k := range c.Events.Kinds {
		out[i] = events.Kind(k)
	}
	return out
}

// EngineOptions converts the model sections into engine options. Sinks,
// logger and metrics are left for the caller.
func (c *Config) EngineOptions() (sim.Options, error) {
	var errs []error
	collect := func(section string, err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", section, err))
		}
	}

	opts := sim.Options{
		Seed:    c.Simulation.Seed,
		Workers: c.Simulation.Workers,
	}
	var err error
	opts.Infection, err = c.InfectionParams()
	collect("calibration", err)
	opts.Immunity, err = c.ImmunityModel()
	collect("antibody", err)
	opts.Progression, err = c.ProgressionParams()
	collect("progression", err)
	opts.Tracing, err = c.TracingParams()
	collect("tracing", err)
	opts.Seeding, err = c.SeedingParams()
	collect("seeding", err)
	opts.Vaccination, err = c.VaccinationParams()
	collect("vaccination", err)
	opts.Screening, err = c.ScreeningParams()
	collect("screening", err)
	opts.Policy, err = c.PolicyTable()
	collect("policy", err)

	if len(errs) > 0 {
		return sim.Options{}, errors.Join(errs...)
	}
	return opts, nil
}

// InfectionParams builds the infection model parameters.
func (c *Config) InfectionParams() (infection.Params, error) {
	var errs []error
	p := infection.Params{
		Calibration:     c.Calibration.Parameter,
		Beta:            c.Antibody.Beta,
		SterilizingDays: c.Calibration.SterilizingDays,
	}
	if !(p.Calibration >= 0) {
		errs = append(errs, fmt.Errorf("calibration parameter must not be negative, got %v", p.Calibration))
	}
	if p.SterilizingDays < 0 {
		errs = append(errs, fmt.Errorf("sterilizing days must not be negative, got %d", p.SterilizingDays))
	}

	var err error
	if p.AgeSusceptibility, err = ageTable(c.Calibration.AgeSusceptibility, 1); err != nil {
		errs = append(errs, fmt.Errorf("age_susceptibility: %w", err))
	}
	if p.AgeInfectivity, err = ageTable(c.Calibration.AgeInfectivity, 1); err != nil {
		errs = append(errs, fmt.Errorf("age_infectivity: %w", err))
	}
	if len(c.Calibration.OutdoorFraction) > 0 {
		for d, f := range c.Calibration.OutdoorFraction {
			if f < 0 || f > 1 {
				errs = append(errs, fmt.Errorf("outdoor fraction %v on day %d outside [0,1]", f, d))
			}
		}
		if p.OutdoorFraction, err = curves.NewCurve(c.Calibration.OutdoorFraction); err != nil {
			errs = append(errs, fmt.Errorf("outdoor_fraction: %w", err))
		}
	}

	strains, err := c.strains()
	if err != nil {
		errs = append(errs, err)
	}
	for s, sc := range strains {
		if !(sc.Infectiousness >= 0) {
			errs = append(errs, fmt.Errorf("infectiousness of %s must not be negative, got %v", s, sc.Infectiousness))
		}
		p.Infectiousness[s] = sc.Infectiousness
	}
	return p, errors.Join(errs...)
}

// strains resolves the strain section; every strain needs an entry.
func (c *Config) strains() (map[models.VirusStrain]StrainConfig, error) {
	out, err := byStrain(c.Strains)
	if err != nil {
		return nil, fmt.Errorf("strains: %w", err)
	}
	var errs []error
	for _, s := range models.Strains() {
		if _, ok := out[s]; !ok {
			errs = append(errs, fmt.Errorf("strains: %s is not configured", s))
		}
	}
	return out, errors.Join(errs...)
}

// ImmunityTable returns the built-in antibody tables with the configured
// entries applied. The result is not validated.
func (c *Config) ImmunityTable() (*immunity.Table, error) {
	a := c.Antibody
	t := immunity.DefaultTable()
	t.HalfLifeDays = a.HalfLifeDays
	t.Ceiling = a.Ceiling

	var errs []error
	if a.NaturalWithOmicron != nil {
		initial, err := byStrain(a.NaturalWithOmicron.Initial)
		if err != nil {
			errs = append(errs, fmt.Errorf("natural_with_omicron: %w", err))
		}
		t.SetNaturalWithOmicron(initial, a.NaturalWithOmicron.Boost)
	}

	ak50, err := byStrain(a.AK50)
	if err != nil {
		errs = append(errs, fmt.Errorf("ak50: %w", err))
	}
	for s, v := range ak50 {
		t.AK50[s] = v
	}

	initial, err := byType(a.Initial)
	if err != nil {
		errs = append(errs, fmt.Errorf("initial: %w", err))
	}
	for v, f := range initial {
		t.Base[v] = f
	}
	boost, err := byType(a.Boost)
	if err != nil {
		errs = append(errs, fmt.Errorf("boost: %w", err))
	}
	for v, f := range boost {
		t.Boost[v] = f
	}

	overrides, err := byType(a.Overrides)
	if err != nil {
		errs = append(errs, fmt.Errorf("overrides: %w", err))
	}
	for v, levels := range overrides {
		byS, err := byStrain(levels)
		if err != nil {
			errs = append(errs, fmt.Errorf("overrides of %s: %w", v, err))
			continue
		}
		merged := make(map[models.VirusStrain]float64, len(t.Override[v])+len(byS))
		for s, l := range t.Override[v] {
			merged[s] = l
		}
		for s, l := range byS {
			merged[s] = l
		}
		t.Override[v] = merged
	}
	return t, errors.Join(errs...)
}

// ImmunityModel builds and validates the antibody model.
func (c *Config) ImmunityModel() (*immunity.Model, error) {
	t, err := c.ImmunityTable()
	if err != nil {
		return nil, err
	}
	natural, err := byStrain(c.Antibody.NaturalImmunization)
	if err != nil {
		return nil, fmt.Errorf("natural_immunization: %w", err)
	}
	var opts []immunity.Option
	for s, name := range natural {
		v, err := models.ParseVaccinationType(name)
		if err != nil {
			return nil, fmt.Errorf("natural_immunization of %s: %w", s, err)
		}
		opts = append(opts, immunity.WithNaturalImmunization(s, v))
	}
	if !(c.Antibody.Beta > 0) {
		return nil, fmt.Errorf("beta must be positive, got %v", c.Antibody.Beta)
	}
	return immunity.New(t, opts...)
}

// ProgressionParams builds the disease progression parameters.
func (c *Config) ProgressionParams() (progression.Params, error) {
	pc := c.Progression
	p := progression.DefaultParams()
	p.SymptomaticProbability = pc.SymptomaticProbability
	p.ImmunityDays = pc.ImmunityDays
	p.QuarantineDays = pc.QuarantineDays
	p.SelfQuarantine = pc.SelfQuarantine

	var errs []error
	transitions, err := parseTransitions(pc.Transitions)
	if err != nil {
		errs = append(errs, err)
	}
	p.Transitions = transitions

	if len(pc.SeriouslySick) > 0 {
		if p.SeriouslySick, err = probabilityTable(pc.SeriouslySick); err != nil {
			errs = append(errs, fmt.Errorf("seriously_sick: %w", err))
		}
	}
	if len(pc.Critical) > 0 {
		if p.Critical, err = probabilityTable(pc.Critical); err != nil {
			errs = append(errs, fmt.Errorf("critical: %w", err))
		}
	}

	strains, err := c.strains()
	if err != nil {
		errs = append(errs, err)
	}
	for s, sc := range strains {
		p.Strains[s] = progression.StrainFactors{
			SeriouslySick:           sc.SeriouslySick,
			SeriouslySickVaccinated: sc.SeriouslySickVaccinated,
			Critical:                sc.Critical,
		}
	}
	if err := p.Validate(); err != nil {
		errs = append(errs, err)
	}
	return p, errors.Join(errs...)
}

// parseTransitions reads "from->to" keyed dwell distributions.
func parseTransitions(in map[string]DwellConfig) (progression.Transitions, error) {
	out := make(progression.Transitions, len(in))
	var errs []error
	for key, dc := range in {
		from, to, ok := strings.Cut(key, "->")
		if !ok {
			errs = append(errs, fmt.Errorf("transition %q: want from->to", key))
			continue
		}
		fs, err1 := models.ParseDiseaseStatus(strings.TrimSpace(from))
		ts, err2 := models.ParseDiseaseStatus(strings.TrimSpace(to))
		if err := errors.Join(err1, err2); err != nil {
			errs = append(errs, fmt.Errorf("transition %q: %w", key, err))
			continue
		}
		d, err := dc.Dwell()
		if err != nil {
			errs = append(errs, fmt.Errorf("transition %q: %w", key, err))
			continue
		}
		out[progression.Edge{From: fs, To: ts}] = d
	}
	return out, errors.Join(errs...)
}

// Dwell returns the distribution described by d.
func (d DwellConfig) Dwell() (progression.Dwell, error) {
	if d.Fixed != nil {
		if *d.Fixed < 0 {
			return nil, fmt.Errorf("fixed dwell must not be negative, got %d", *d.Fixed)
		}
		return progression.Fixed(*d.Fixed), nil
	}
	return progression.LogNormalWithMeanAndStd(d.Mean, d.Std)
}

// TracingParams builds the contact tracing parameters.
func (c *Config) TracingParams() (tracing.Params, error) {
	tc := c.Tracing
	p := tracing.Params{
		Enabled:                    tc.Enabled,
		StartDay:                   tc.StartDay,
		Probability:                tc.Probability,
		DelayDays:                  tc.DelayDays,
		PeriodDays:                 tc.PeriodDays,
		Capacity:                   tc.Capacity,
		QuarantineHouseholdMembers: tc.QuarantineHouseholdMembers,
		MinContactDurationSec:      tc.MinContactDurationSec,
	}
	status, err := models.ParseQuarantineStatus(tc.QuarantineStatus)
	if err != nil {
		return p, err
	}
	p.Status = status
	return p, p.Validate()
}

// SeedingParams builds the initial infection schedule.
func (c *Config) SeedingParams() (seeding.Params, error) {
	perDay, err := byStrain(c.Seeding.PerDay)
	if err != nil {
		return seeding.Params{}, fmt.Errorf("per_day: %w", err)
	}
	p := seeding.Params{
		PerDay: perDay,
		Total:  c.Seeding.Total,
		MinAge: c.Seeding.MinAge,
		MaxAge: c.Seeding.MaxAge,
	}
	return p, p.Validate()
}

// VaccinationParams builds the vaccination campaign.
func (c *Config) VaccinationParams() (vaccination.Params, error) {
	vc := c.Vaccination
	var errs []error
	share, err := byType(vc.Share)
	if err != nil {
		errs = append(errs, fmt.Errorf("share: %w", err))
	}
	boosterShare, err := byType(vc.BoosterShare)
	if err != nil {
		errs = append(errs, fmt.Errorf("booster_share: %w", err))
	}
	compliance, err := ageTable(vc.Compliance, 1)
	if err != nil {
		errs = append(errs, fmt.Errorf("compliance: %w", err))
	}
	p := vaccination.Params{
		Capacity:         vc.Capacity,
		BoosterCapacity:  vc.BoosterCapacity,
		Compliance:       compliance,
		Share:            share,
		BoosterShare:     boosterShare,
		BoosterAfterDays: vc.BoosterAfterDays,
	}
	if len(errs) == 0 {
		errs = append(errs, p.Validate())
	}
	return p, errors.Join(errs...)
}

// ScreeningParams builds the testing parameters.
func (c *Config) ScreeningParams() (screening.Params, error) {
	sc := c.Screening
	p := screening.Params{
		Strategy:          screening.Strategy(sc.Strategy),
		Activities:        sc.Activities,
		Capacity:          sc.Capacity,
		FalsePositiveRate: sc.FalsePositiveRate,
		FalseNegativeRate: sc.FalseNegativeRate,
		RetestAfterDays:   sc.RetestAfterDays,
	}
	return p, p.Validate()
}

// PolicyTable builds the restriction table. Home is never restricted.
func (c *Config) PolicyTable() (*policy.Table, error) {
	changes := make([]policy.Change, len(c.Policy.Restrictions))
	for i, r := range c.Policy.Restrictions {
		changes[i] = policy.Change{
			Day:               r.Day,
			Activity:          r.Activity,
			RemainingFraction: r.RemainingFraction,
			CiCorrection:      r.CiCorrection,
		}
		if r.Masks != nil {
			changes[i].Masks = &infection.MaskDistribution{
				Cloth:    r.Masks.Cloth,
				Surgical: r.Masks.Surgical,
				N95:      r.Masks.N95,
			}
		}
	}
	return policy.NewTable(changes, population.ActivityHome)
}

// Retention returns the snapshot file retention policy, nil to keep all.
func (c *Config) Retention() (snapshot.RetentionPolicy, error) {
	s := c.Simulation
	if s.SnapshotKeep < 0 {
		return nil, fmt.Errorf("snapshot_keep must not be negative, got %d", s.SnapshotKeep)
	}
	return snapshot.Policy(s.SnapshotKeep, s.SnapshotMaxAge, s.SnapshotMaxSize)
}

// Kafka returns the publisher configuration, or false when disabled.
func (c *Config) Kafka() (publish.Config, bool) {
	k := c.Events.Kafka
	if len(k.Brokers) == 0 {
		return publish.Config{}, false
	}
	return publish.Config{Brokers: k.Brokers, Topic: k.Topic, ClientID: k.ClientID}, true
}

// Scenario loads the configured population file or generates a synthetic
// town from the simulation seed.
func (c *Config) Scenario() (*population.Scenario, error) {
	if c.Simulation.Scenario != "" {
		return population.Load(c.Simulation.Scenario)
	}
	rnd := rand.New(rand.NewPCG(c.Simulation.Seed, generateStream))
	return population.Generate(c.Simulation.Generate, rnd)
}

func ageTable(points map[int]float64, fallback float64) (curves.AgeTable, error) {
	if len(points) == 0 {
		return curves.Constant(fallback), nil
	}
	return curves.NewAgeTable(points)
}

func probabilityTable(points map[int]float64) (curves.AgeTable, error) {
	for age, v := range points {
		if v < 0 || v > 1 {
			return curves.AgeTable{}, fmt.Errorf("probability %v at age %d outside [0,1]", v, age)
		}
	}
	return curves.NewAgeTable(points)
}

func byStrain[T any](in map[string]T) (map[models.VirusStrain]T, error) {
	if in == nil {
		return nil, nil
	}
	out := make(map[models.VirusStrain]T, len(in))
	var errs []error
	for name, v := range in {
		s, err := models.ParseVirusStrain(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out[s] = v
	}
	return out, errors.Join(errs...)
}

func byType[T any](in map[string]T) (map[models.VaccinationType]T, error) {
	if in == nil {
		return nil, nil
	}
	out := make(map[models.VaccinationType]T, len(in))
	var errs []error
	for name, v := range in {
		t, err := models.ParseVaccinationType(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out[t] = v
	}
	return out, errors.Join(errs...)
}
