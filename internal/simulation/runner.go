package simulation

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/nvandessel/epistate/internal/config"
	"github.com/nvandessel/epistate/internal/events"
	"github.com/nvandessel/epistate/internal/models"
	"github.com/nvandessel/epistate/internal/sim"
	"github.com/nvandessel/epistate/internal/store"
)

// Runner orchestrates multi-day simulation experiments against the real
// engine and run store.
type Runner struct {
	t     *testing.T
	store *store.SQLiteStore
}

// NewRunner creates a simulation runner with an isolated SQLite store
// and sandboxed HOME directory.
func NewRunner(t *testing.T) *Runner {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	s, err := store.Open(context.Background(), filepath.Join(tmpDir, store.DBFile))
	if err != nil {
		t.Fatalf("NewRunner: failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	return &Runner{t: t, store: s}
}

// Store returns the runner's run store.
func (r *Runner) Store() *store.SQLiteStore { return r.store }

// Run executes the scenario and returns the collected results.
func (r *Runner) Run(scenario Scenario) SimulationResult {
	r.t.Helper()
	ctx := context.Background()

	cfg := r.configure(scenario)
	opts, err := cfg.EngineOptions()
	if err != nil {
		r.t.Fatalf("%s: EngineOptions: %v", scenario.Name, err)
	}
	opts.RunID = runID(scenario.Name)

	// Phase 1: Build the population with the recorder and the store attached.
	rec := &events.Recorder{}
	sink := events.Multi{rec, r.store.EventSink(opts.RunID)}
	pop, err := cfg.Scenario()
	if err != nil {
		r.t.Fatalf("%s: Scenario: %v", scenario.Name, err)
	}
	world, err := pop.Build(sink)
	if err != nil {
		r.t.Fatalf("%s: Build: %v", scenario.Name, err)
	}
	opts.Sink = sink

	engine, err := sim.New(world, opts)
	if err != nil {
		r.t.Fatalf("%s: sim.New: %v", scenario.Name, err)
	}
	r.saveRun(ctx, opts.RunID, cfg)

	// Phase 2: Run days.
	days := make([]DayResult, 0, scenario.Days)
	for day := range scenario.Days {
		if scenario.BeforeDay != nil {
			scenario.BeforeDay(day, engine)
		}
		rep, err := engine.RunDay(ctx)
		if err != nil {
			r.t.Fatalf("%s: day %d: %v", scenario.Name, day, err)
		}
		days = append(days, DayResult{Report: rep, Quarantined: quarantined(world.Persons())})

		if scenario.SnapshotEvery > 0 && (day+1)%scenario.SnapshotEvery == 0 {
			r.saveSnapshot(ctx, engine)
		}
	}

	// Phase 3: Persist the events.
	if err := r.store.Flush(ctx); err != nil {
		r.t.Fatalf("%s: Flush: %v", scenario.Name, err)
	}

	return SimulationResult{
		Name:    scenario.Name,
		RunID:   opts.RunID,
		Persons: world.Population.Len(),
		Days:    days,
		Events:  rec.Events(),
		Engine:  engine,
		Store:   r.store,
		Config:  cfg,
	}
}

// configure applies the scenario to the default configuration.
func (r *Runner) configure(scenario Scenario) *config.Config {
	r.t.Helper()
	cfg := config.Default()
	if scenario.Persons > 0 {
		cfg.Simulation.Generate.Persons = scenario.Persons
	}
	if scenario.Workers > 0 {
		cfg.Simulation.Workers = scenario.Workers
	}
	if scenario.Configure != nil {
		scenario.Configure(cfg)
	}
	if err := cfg.Validate(); err != nil {
		r.t.Fatalf("%s: %v", scenario.Name, err)
	}
	return cfg
}

func (r *Runner) saveRun(ctx context.Context, id string, cfg *config.Config) {
	r.t.Helper()
	data, err := json.Marshal(cfg)
	if err != nil {
		r.t.Fatalf("saveRun: marshal config: %v", err)
	}
	err = r.store.SaveRun(ctx, store.Run{
		ID:        id,
		Seed:      cfg.Simulation.Seed,
		Config:    data,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		r.t.Fatalf("saveRun: %v", err)
	}
}

func (r *Runner) saveSnapshot(ctx context.Context, e *sim.Engine) {
	r.t.Helper()
	st, err := e.Snapshot()
	if err != nil {
		r.t.Fatalf("snapshot before day %d: %v", e.Day(), err)
	}
	if err := r.store.SaveSnapshot(ctx, st); err != nil {
		r.t.Fatalf("SaveSnapshot(%d): %v", e.Day(), err)
	}
}

func quarantined(persons []*models.Person) map[models.QuarantineStatus]int {
	out := make(map[models.QuarantineStatus]int, 3)
	for _, p := range persons {
		out[p.QuarantineStatus()]++
	}
	return out
}

func runID(name string) string {
	if name == "" {
		return "sim"
	}
	return "sim-" + strings.ReplaceAll(name, " ", "-")
}

// FormatDayDebug returns a debug string for a day result.
func FormatDayDebug(d DayResult) string {
	rep := d.Report
	s := fmt.Sprintf("Day %d: seeded=%d infections=%d traced=%d vaccinated=%d tests=%d\n",
		rep.Day, rep.Seeded, rep.Infections, rep.Traced, rep.Vaccination.FirstDoses, rep.Screening.Tests)
	statuses := make([]string, 0, len(rep.Counts))
	for st, n := range rep.Counts {
		statuses = append(statuses, fmt.Sprintf("  %s=%d", st, n))
	}
	slices.Sort(statuses)
	return s + strings.Join(statuses, "\n")
}
