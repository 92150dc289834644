package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nvandessel/epistate/internal/models"
	"github.com/nvandessel/epistate/internal/progression"
	"github.com/nvandessel/epistate/internal/screening"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	config := Default()

	if config.Simulation.Days != 100 {
		t.Errorf("expected Days 100, got %d", config.Simulation.Days)
	}
	if config.Simulation.Scenario != "" {
		t.Errorf("expected generated population by default, got scenario %q", config.Simulation.Scenario)
	}
	if config.Tracing.Enabled {
		t.Error("expected tracing to be disabled by default")
	}
	if config.Seeding.MinAge != -1 || config.Seeding.MaxAge != -1 {
		t.Errorf("expected unbounded seeding ages, got %d..%d", config.Seeding.MinAge, config.Seeding.MaxAge)
	}
	if len(config.Strains) != models.NumStrains {
		t.Errorf("expected %d strains, got %d", models.NumStrains, len(config.Strains))
	}
	if len(config.Progression.Transitions) != len(progression.ProgressionEdges()) {
		t.Errorf("expected every progression edge, got %d", len(config.Progression.Transitions))
	}
	if config.Logging.Level != "info" {
		t.Errorf("expected Logging.Level 'info', got '%s'", config.Logging.Level)
	}
}

func TestValidate_Valid(t *testing.T) {
	config := Default()
	if err := config.Validate(); err != nil {
		t.Errorf("expected valid config, got error: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
simulation:
  seed: 42
  days: 30
  workers: 4
calibration:
  parameter: 2.5e-5
  age_susceptibility: {0: 0.5, 20: 1}
tracing:
  enabled: true
  delay_days: 2
  capacity: {0: 10, 20: -1}
  quarantine_status: full
seeding:
  total: 3
  per_day:
    DELTA: {0: 3}
progression:
  transitions:
    infectedButNotContagious->contagious: {fixed: 4}
policy:
  restrictions:
    - day: 10
      activity: leisure
      remaining_fraction: 0.2
      masks: {n95: 0.9}
`)

	config, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if config.Simulation.Seed != 42 || config.Simulation.Days != 30 || config.Simulation.Workers != 4 {
		t.Errorf("unexpected simulation section: %+v", config.Simulation)
	}
	// Sections not in the file keep their defaults.
	if config.Logging.Format != "text" {
		t.Errorf("expected default log format, got %q", config.Logging.Format)
	}
	if len(config.Progression.Transitions) != len(progression.ProgressionEdges()) {
		t.Errorf("expected transitions to merge with defaults, got %d", len(config.Progression.Transitions))
	}

	opts, err := config.EngineOptions()
	if err != nil {
		t.Fatalf("EngineOptions failed: %v", err)
	}
	if opts.Seed != 42 || opts.Workers != 4 {
		t.Errorf("unexpected seed/workers %d/%d", opts.Seed, opts.Workers)
	}
	if opts.Infection.Calibration != 2.5e-5 {
		t.Errorf("expected calibration 2.5e-5, got %v", opts.Infection.Calibration)
	}
	if got := opts.Infection.AgeSusceptibility.At(10); got != 0.75 {
		t.Errorf("expected interpolated susceptibility 0.75 at age 10, got %v", got)
	}
	if !opts.Tracing.Enabled || opts.Tracing.Status != models.QuarantineFull || opts.Tracing.DelayDays != 2 {
		t.Errorf("unexpected tracing params: %+v", opts.Tracing)
	}
	if opts.Seeding.PerDay[models.StrainDelta][0] != 3 {
		t.Errorf("expected 3 DELTA seeds on day 0, got %v", opts.Seeding.PerDay)
	}
	edge := progression.Edge{From: models.StatusInfectedButNotContagious, To: models.StatusContagious}
	if d, ok := opts.Progression.Transitions[edge].(progression.Fixed); !ok || d != 4 {
		t.Errorf("expected fixed(4) dwell on %s, got %v", edge, opts.Progression.Transitions[edge])
	}
	if r := opts.Policy.At(12, "leisure"); r.RemainingFraction != 0.2 || r.Masks.N95 != 0.9 {
		t.Errorf("unexpected leisure restriction on day 12: %+v", r)
	}
	if r := opts.Policy.At(5, "leisure"); r.RemainingFraction != 1 {
		t.Errorf("expected no restriction before day 10, got %+v", r)
	}
}

func TestLoadFromFile_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_EPISTATE_DIR", "/tmp/epi")
	path := writeConfig(t, `
events:
  database: ${TEST_EPISTATE_DIR}/runs.db
  jsonl_dir: ${TEST_EPISTATE_DIR}/events
`)

	config, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if config.Events.Database != "/tmp/epi/runs.db" {
		t.Errorf("expected expanded database path, got '%s'", config.Events.Database)
	}
	if config.Events.JSONLDir != "/tmp/epi/events" {
		t.Errorf("expected expanded jsonl dir, got '%s'", config.Events.JSONLDir)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("EPISTATE_SEED", "99")
	t.Setenv("EPISTATE_DAYS", "12")
	t.Setenv("EPISTATE_CALIBRATION", "0.001")
	t.Setenv("EPISTATE_TRACING_ENABLED", "true")
	t.Setenv("EPISTATE_KAFKA_BROKERS", "a:9092,b:9092")
	t.Setenv("EPISTATE_LOG_LEVEL", "debug")

	config := Default()
	applyEnvOverrides(config)

	if config.Simulation.Seed != 99 {
		t.Errorf("expected Seed 99, got %d", config.Simulation.Seed)
	}
	if config.Simulation.Days != 12 {
		t.Errorf("expected Days 12, got %d", config.Simulation.Days)
	}
	if config.Calibration.Parameter != 0.001 {
		t.Errorf("expected calibration 0.001, got %v", config.Calibration.Parameter)
	}
	if !config.Tracing.Enabled {
		t.Error("expected tracing to be enabled")
	}
	if len(config.Events.Kafka.Brokers) != 2 {
		t.Errorf("expected 2 brokers, got %v", config.Events.Kafka.Brokers)
	}
	if config.Logging.Level != "debug" {
		t.Errorf("expected Logging.Level 'debug', got '%s'", config.Logging.Level)
	}
	if _, ok := config.Kafka(); !ok {
		t.Error("expected kafka to be enabled")
	}
}

func TestEnvOverrides_InvalidNumbersIgnored(t *testing.T) {
	t.Setenv("EPISTATE_DAYS", "many")

	config := Default()
	applyEnvOverrides(config)

	if config.Simulation.Days != 100 {
		t.Errorf("expected default Days, got %d", config.Simulation.Days)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"negative days", func(c *Config) { c.Simulation.Days = -1 }, "simulation.days"},
		{"unknown strain", func(c *Config) { c.Strains["OMICRON_BA5"] = StrainConfig{} }, `unknown virus strain "OMICRON_BA5"`},
		{"missing strain", func(c *Config) { delete(c.Strains, models.StrainAlpha.String()) }, "ALPHA is not configured"},
		{"missing edge", func(c *Config) {
			delete(c.Progression.Transitions, "contagious->recovered")
		}, "contagious->recovered is not configured"},
		{"not an edge", func(c *Config) {
			c.Progression.Transitions["susceptible->recovered"] = DwellConfig{Mean: 1, Std: 1}
		}, "is not a progression edge"},
		{"bad edge key", func(c *Config) {
			c.Progression.Transitions["contagious"] = DwellConfig{Mean: 1, Std: 1}
		}, "want from->to"},
		{"bad dwell", func(c *Config) {
			c.Progression.Transitions["contagious->recovered"] = DwellConfig{}
		}, "positive mean and std"},
		{"age out of range", func(c *Config) {
			c.Calibration.AgeInfectivity = map[int]float64{130: 1}
		}, "outside 0..127"},
		{"missing naturalWithOmicron", func(c *Config) { c.Antibody.NaturalWithOmicron = nil }, "naturalWithOmicron"},
		{"natural immunization not natural", func(c *Config) {
			c.Antibody.NaturalImmunization["DELTA"] = "mRNA"
		}, "non-natural immunization"},
		{"unknown vaccine", func(c *Config) {
			c.Vaccination.Share = map[string]float64{"sputnik": 1}
		}, `"sputnik"`},
		{"shares", func(c *Config) {
			c.Vaccination.Share = map[string]float64{"mRNA": 0.5}
		}, "sum to"},
		{"quarantine status", func(c *Config) { c.Tracing.QuarantineStatus = "no" }, "atHome or full"},
		{"screening strategy", func(c *Config) { c.Screening.Strategy = "random" }, "unknown testing strategy"},
		{"restrict home", func(c *Config) {
			c.Policy.Restrictions = []RestrictionConfig{{Day: 1, Activity: "home"}}
		}, "cannot be restricted"},
		{"event kind", func(c *Config) { c.Events.Kinds = []string{"gossip"} }, "unknown event kind"},
		{"kafka topic", func(c *Config) {
			c.Events.Kafka.Brokers = []string{"localhost:9092"}
			c.Events.Kafka.Topic = ""
		}, "topic is required"},
		{"log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"retention size", func(c *Config) { c.Simulation.SnapshotMaxSize = "lots" }, "retention"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := Default()
			tt.mutate(config)
			err := config.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got: %v", tt.want, err)
			}
		})
	}
}

func TestValidate_ValidLogLevels(t *testing.T) {
	for _, level := range []string{"error", "warn", "info", "debug", "trace", "DEBUG"} {
		config := Default()
		config.Logging.Level = level
		if err := config.Validate(); err != nil {
			t.Errorf("expected level %q to be valid, got: %v", level, err)
		}
	}
}

func TestImmunityModel_Overrides(t *testing.T) {
	config := Default()
	config.Antibody.AK50 = map[string]float64{"DELTA": 1}
	config.Antibody.Overrides = map[string]map[string]float64{
		"mRNA": {"DELTA": 7},
	}

	m, err := config.ImmunityModel()
	if err != nil {
		t.Fatalf("ImmunityModel failed: %v", err)
	}
	tab := m.Table()
	if tab.AK50[models.StrainDelta] != 1 {
		t.Errorf("expected DELTA ak50 1, got %v", tab.AK50[models.StrainDelta])
	}
	if got := tab.Initial(models.VaccineMRNA)[models.StrainDelta]; got != 7 {
		t.Errorf("expected mRNA initial level 7 against DELTA, got %v", got)
	}
	// Built-in overrides of other types survive.
	if got := tab.Initial(models.VaccineOmicronUpdate)[models.StrainOmicronBA1]; got != 10 {
		t.Errorf("expected omicronUpdate BA.1 level 10, got %v", got)
	}
}

func TestScreeningDefaultsToNone(t *testing.T) {
	p, err := Default().ScreeningParams()
	if err != nil {
		t.Fatal(err)
	}
	if p.Strategy != screening.StrategyNone {
		t.Errorf("expected strategy none, got %q", p.Strategy)
	}
}

func TestInfectionParams_SterilizingDays(t *testing.T) {
	p, err := Default().InfectionParams()
	if err != nil {
		t.Fatal(err)
	}
	if p.SterilizingDays != 90 {
		t.Errorf("default sterilizing days = %d, want 90", p.SterilizingDays)
	}

	path := writeConfig(t, "calibration:\n  sterilizing_days: 0\n")
	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	p, err = cfg.InfectionParams()
	if err != nil {
		t.Fatal(err)
	}
	if p.SterilizingDays != 0 {
		t.Errorf("sterilizing days = %d, want 0 to switch the window off", p.SterilizingDays)
	}
}

func TestScenario_GeneratedIsReproducible(t *testing.T) {
	config := Default()
	config.Simulation.Generate.Persons = 50

	a, err := config.Scenario()
	if err != nil {
		t.Fatal(err)
	}
	b, err := config.Scenario()
	if err != nil {
		t.Fatal(err)
	}
	if len(a.Persons) != 50 || len(a.Persons) != len(b.Persons) {
		t.Fatalf("expected 50 persons twice, got %d and %d", len(a.Persons), len(b.Persons))
	}
	for i := range a.Persons {
		pa, pb := a.Persons[i], b.Persons[i]
		if pa.ID != pb.ID || pa.Age != pb.Age || pa.Household != pb.Household {
			t.Fatalf("person %d differs: %+v vs %+v", i, pa, pb)
		}
	}
}

func TestLoadFromFile_NotFound(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoadFromFile_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "simulation: [unclosed")
	_, err := LoadFromFile(path)
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}
