// Package config provides unified configuration loading for epistate.
// It supports loading from YAML files and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nvandessel/epistate/internal/population"
)

// Config contains all epistate configuration settings. Strain and
// immunization names are map keys so that files stay readable; they are
// resolved and checked by Validate.
type Config struct {
	Simulation  SimulationConfig  `json:"simulation" yaml:"simulation"`
	Calibration CalibrationConfig `json:"calibration" yaml:"calibration"`
	// Strains holds per strain parameters keyed by strain name.
	Strains     map[string]StrainConfig `json:"strains" yaml:"strains"`
	Antibody    AntibodyConfig          `json:"antibody" yaml:"antibody"`
	Progression ProgressionConfig       `json:"progression" yaml:"progression"`
	Tracing     TracingConfig           `json:"tracing" yaml:"tracing"`
	Seeding     SeedingConfig           `json:"seeding" yaml:"seeding"`
	Vaccination VaccinationConfig       `json:"vaccination" yaml:"vaccination"`
	Screening   ScreeningConfig         `json:"screening" yaml:"screening"`
	Policy      PolicyConfig            `json:"policy" yaml:"policy"`
	Events      EventsConfig            `json:"events" yaml:"events"`
	Metrics     MetricsConfig           `json:"metrics" yaml:"metrics"`
	Logging     LoggingConfig           `json:"logging" yaml:"logging"`
}

// SimulationConfig selects the population and the run length.
type SimulationConfig struct {
	Seed uint64 `json:"seed" yaml:"seed"`
	Days int    `json:"days" yaml:"days"`
	// Workers bounds the parallel contact phase; 0 uses all CPUs.
	Workers int `json:"workers" yaml:"workers"`
	// Scenario is a population file. Empty generates a synthetic town.
	Scenario string                    `json:"scenario,omitempty" yaml:"scenario,omitempty"`
	Generate population.GenerateParams `json:"generate" yaml:"generate"`

	// SnapshotEvery writes a snapshot every n days; 0 only at the end.
	SnapshotEvery int    `json:"snapshot_every" yaml:"snapshot_every"`
	SnapshotDir   string `json:"snapshot_dir,omitempty" yaml:"snapshot_dir,omitempty"`
	// Retention of snapshot files. Zero values keep everything.
	SnapshotKeep    int    `json:"snapshot_keep" yaml:"snapshot_keep"`
	SnapshotMaxAge  string `json:"snapshot_max_age,omitempty" yaml:"snapshot_max_age,omitempty"`
	SnapshotMaxSize string `json:"snapshot_max_size,omitempty" yaml:"snapshot_max_size,omitempty"`
}

// CalibrationConfig configures the infection model.
type CalibrationConfig struct {
	Parameter float64 `json:"parameter" yaml:"parameter"`
	// Age curves as age -> value breakpoints. Empty means 1 for every age.
	AgeSusceptibility map[int]float64 `json:"age_susceptibility,omitempty" yaml:"age_susceptibility,omitempty"`
	AgeInfectivity    map[int]float64 `json:"age_infectivity,omitempty" yaml:"age_infectivity,omitempty"`
	// OutdoorFraction maps days to the share of seasonal contacts held
	// outdoors. Empty keeps everything indoors.
	OutdoorFraction map[int]float64 `json:"outdoor_fraction,omitempty" yaml:"outdoor_fraction,omitempty"`
	SterilizingDays int             `json:"sterilizing_days" yaml:"sterilizing_days"`
}

// StrainConfig holds infectiousness and severity factors of one strain.
type StrainConfig struct {
	Infectiousness          float64 `json:"infectiousness" yaml:"infectiousness"`
	SeriouslySick           float64 `json:"seriously_sick" yaml:"seriously_sick"`
	SeriouslySickVaccinated float64 `json:"seriously_sick_vaccinated" yaml:"seriously_sick_vaccinated"`
	Critical                float64 `json:"critical" yaml:"critical"`
}

// AntibodyConfig configures the antibody model. Tables are keyed by strain
// and immunization names and replace the built-in values entry by entry.
type AntibodyConfig struct {
	Beta         float64            `json:"beta" yaml:"beta"`
	HalfLifeDays float64            `json:"half_life_days" yaml:"half_life_days"`
	Ceiling      float64            `json:"ceiling" yaml:"ceiling"`
	AK50         map[string]float64 `json:"ak50,omitempty" yaml:"ak50,omitempty"`
	Initial      map[string]float64 `json:"initial,omitempty" yaml:"initial,omitempty"`
	Boost        map[string]float64 `json:"boost,omitempty" yaml:"boost,omitempty"`
	// Overrides holds absolute initial levels per immunization and strain.
	Overrides map[string]map[string]float64 `json:"overrides,omitempty" yaml:"overrides,omitempty"`
	// NaturalWithOmicron defines the initial levels of an infection with an
	// omicron strain. It has no built-in value.
	NaturalWithOmicron *NaturalWithOmicronConfig `json:"natural_with_omicron,omitempty" yaml:"natural_with_omicron,omitempty"`
	// NaturalImmunization maps a strain to the immunization type its
	// infections count as; unlisted strains count as natural.
	NaturalImmunization map[string]string `json:"natural_immunization,omitempty" yaml:"natural_immunization,omitempty"`
}

// NaturalWithOmicronConfig is the initial level per strain and boost factor.
type NaturalWithOmicronConfig struct {
	Initial map[string]float64 `json:"initial" yaml:"initial"`
	Boost   float64            `json:"boost" yaml:"boost"`
}

// DwellConfig is a dwell time distribution: Fixed days, or a log-normal
// with Mean and Std.
type DwellConfig struct {
	Fixed *int    `json:"fixed,omitempty" yaml:"fixed,omitempty"`
	Mean  float64 `json:"mean,omitempty" yaml:"mean,omitempty"`
	Std   float64 `json:"std,omitempty" yaml:"std,omitempty"`
}

// ProgressionConfig configures the disease progression.
type ProgressionConfig struct {
	SymptomaticProbability float64 `json:"symptomatic_probability" yaml:"symptomatic_probability"`
	// Transitions are keyed "from->to"; every edge must be present.
	Transitions    map[string]DwellConfig `json:"transitions" yaml:"transitions"`
	SeriouslySick  map[int]float64        `json:"seriously_sick" yaml:"seriously_sick"`
	Critical       map[int]float64        `json:"critical" yaml:"critical"`
	ImmunityDays   int                    `json:"immunity_days" yaml:"immunity_days"`
	QuarantineDays int                    `json:"quarantine_days" yaml:"quarantine_days"`
	SelfQuarantine bool                   `json:"self_quarantine" yaml:"self_quarantine"`
}

// TracingConfig configures contact tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	StartDay    int     `json:"start_day" yaml:"start_day"`
	Probability float64 `json:"probability" yaml:"probability"`
	DelayDays   int     `json:"delay_days" yaml:"delay_days"`
	PeriodDays  int     `json:"period_days" yaml:"period_days"`
	// Capacity maps days to index persons traced per day; -1 is unlimited.
	Capacity                   map[int]int `json:"capacity,omitempty" yaml:"capacity,omitempty"`
	QuarantineHouseholdMembers bool        `json:"quarantine_household_members" yaml:"quarantine_household_members"`
	QuarantineStatus           string      `json:"quarantine_status" yaml:"quarantine_status"`
	MinContactDurationSec      float64     `json:"min_contact_duration_sec" yaml:"min_contact_duration_sec"`
}

// SeedingConfig configures initial infections.
type SeedingConfig struct {
	Total  int `json:"total" yaml:"total"`
	MinAge int `json:"min_age" yaml:"min_age"`
	MaxAge int `json:"max_age" yaml:"max_age"`
	// PerDay maps strain names to day -> count schedules.
	PerDay map[string]map[int]int `json:"per_day" yaml:"per_day"`
}

// VaccinationConfig configures the vaccination campaign.
type VaccinationConfig struct {
	Capacity         map[int]int        `json:"capacity,omitempty" yaml:"capacity,omitempty"`
	BoosterCapacity  map[int]int        `json:"booster_capacity,omitempty" yaml:"booster_capacity,omitempty"`
	Compliance       map[int]float64    `json:"compliance,omitempty" yaml:"compliance,omitempty"`
	Share            map[string]float64 `json:"share,omitempty" yaml:"share,omitempty"`
	BoosterShare     map[string]float64 `json:"booster_share,omitempty" yaml:"booster_share,omitempty"`
	BoosterAfterDays int                `json:"booster_after_days" yaml:"booster_after_days"`
}

// ScreeningConfig configures testing.
type ScreeningConfig struct {
	Strategy          string      `json:"strategy" yaml:"strategy"`
	Activities        []string    `json:"activities,omitempty" yaml:"activities,omitempty"`
	Capacity          map[int]int `json:"capacity,omitempty" yaml:"capacity,omitempty"`
	FalsePositiveRate float64     `json:"false_positive_rate" yaml:"false_positive_rate"`
	FalseNegativeRate float64     `json:"false_negative_rate" yaml:"false_negative_rate"`
	RetestAfterDays   int         `json:"retest_after_days" yaml:"retest_after_days"`
}

// RestrictionConfig changes the restriction of one activity from Day on.
// Unset fields keep their previous value.
type RestrictionConfig struct {
	Day               int         `json:"day" yaml:"day"`
	Activity          string      `json:"activity" yaml:"activity"`
	RemainingFraction *float64    `json:"remaining_fraction,omitempty" yaml:"remaining_fraction,omitempty"`
	CiCorrection      *float64    `json:"ci_correction,omitempty" yaml:"ci_correction,omitempty"`
	Masks             *MaskConfig `json:"masks,omitempty" yaml:"masks,omitempty"`
}

// MaskConfig is the share of persons wearing each mask type.
type MaskConfig struct {
	Cloth    float64 `json:"cloth,omitempty" yaml:"cloth,omitempty"`
	Surgical float64 `json:"surgical,omitempty" yaml:"surgical,omitempty"`
	N95      float64 `json:"n95,omitempty" yaml:"n95,omitempty"`
}

// PolicyConfig lists the restrictions over time.
type PolicyConfig struct {
	Restrictions []RestrictionConfig `json:"restrictions,omitempty" yaml:"restrictions,omitempty"`
}

// EventsConfig selects the event sinks.
type EventsConfig struct {
	// JSONLDir enables the JSONL journal in that directory.
	JSONLDir string `json:"jsonl_dir,omitempty" yaml:"jsonl_dir,omitempty"`
	// Kinds restricts the JSONL journal and Kafka to these event kinds.
	Kinds []string `json:"kinds,omitempty" yaml:"kinds,omitempty"`
	// Database is the SQLite file for runs, snapshots and events.
	Database string      `json:"database,omitempty" yaml:"database,omitempty"`
	Kafka    KafkaConfig `json:"kafka" yaml:"kafka"`
}

// KafkaConfig enables publishing when Brokers is set.
type KafkaConfig struct {
	Brokers  []string `json:"brokers,omitempty" yaml:"brokers,omitempty"`
	Topic    string   `json:"topic" yaml:"topic"`
	ClientID string   `json:"client_id" yaml:"client_id"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Listen is the address of /metrics; empty disables the server.
	Listen string `json:"listen,omitempty" yaml:"listen,omitempty"`
}

// LoggingConfig configures operational logging.
type LoggingConfig struct {
	// Level sets the log verbosity: "error", "warn", "info" (default), "debug", or "trace".
	Level string `json:"level" yaml:"level"`
	// Format is "text" (default) or "json".
	Format string `json:"format" yaml:"format"`
}

// Load loads configuration from the default locations and environment variables.
// Order: defaults -> ~/.epistate/config.yaml -> environment variables
func Load() (*Config, error) {
	config := Default()

	homeDir, err := os.UserHomeDir()
	if err == nil {
		configPath := filepath.Join(homeDir, ".epistate", "config.yaml")
		if _, statErr := os.Stat(configPath); statErr == nil {
			fileConfig, loadErr := LoadFromFile(configPath)
			if loadErr != nil {
				return nil, fmt.Errorf("loading config file: %w", loadErr)
			}
			config = fileConfig
		}
	}

	applyEnvOverrides(config)
	return config, nil
}

// LoadFromFile loads configuration from a specific YAML file on top of the
// defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	config.Events.Database = expandEnvVars(config.Events.Database)
	config.Events.JSONLDir = expandEnvVars(config.Events.JSONLDir)
	config.Simulation.SnapshotDir = expandEnvVars(config.Simulation.SnapshotDir)
	return config, nil
}

// LoadWithOverrides loads path, or the default locations when path is
// empty, and applies environment overrides.
func LoadWithOverrides(path string) (*Config, error) {
	if path == "" {
		return Load()
	}
	config, err := LoadFromFile(path)
	if err != nil {
		return nil, err
	}
	applyEnvOverrides(config)
	return config, nil
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("EPISTATE_SEED"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			config.Simulation.Seed = n
		}
	}
	if v := os.Getenv("EPISTATE_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Simulation.Days = n
		}
	}
	if v := os.Getenv("EPISTATE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Simulation.Workers = n
		}
	}
	if v := os.Getenv("EPISTATE_SCENARIO"); v != "" {
		config.Simulation.Scenario = v
	}
	if v := os.Getenv("EPISTATE_CALIBRATION"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Calibration.Parameter = f
		}
	}
	if v := os.Getenv("EPISTATE_TRACING_ENABLED"); v != "" {
		config.Tracing.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("EPISTATE_DATABASE"); v != "" {
		config.Events.Database = v
	}
	if v := os.Getenv("EPISTATE_KAFKA_BROKERS"); v != "" {
		config.Events.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("EPISTATE_KAFKA_TOPIC"); v != "" {
		config.Events.Kafka.Topic = v
	}
	if v := os.Getenv("EPISTATE_METRICS_LISTEN"); v != "" {
		config.Metrics.Listen = v
	}
	if v := os.Getenv("EPISTATE_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("EPISTATE_LOG_FORMAT"); v != "" {
		config.Logging.Format = v
	}
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}
