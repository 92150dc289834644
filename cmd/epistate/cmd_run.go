package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nvandessel/epistate/internal/config"
	"github.com/nvandessel/epistate/internal/events"
	"github.com/nvandessel/epistate/internal/logging"
	"github.com/nvandessel/epistate/internal/metrics"
	"github.com/nvandessel/epistate/internal/models"
	"github.com/nvandessel/epistate/internal/publish"
	"github.com/nvandessel/epistate/internal/sim"
	"github.com/nvandessel/epistate/internal/snapshot"
	"github.com/nvandessel/epistate/internal/store"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a simulation",
		Long: `Run a simulation with the loaded configuration.

The population is read from simulation.scenario or generated from the
seed. Events go to the run database and, when configured, to a JSONL
journal and a Kafka topic. Snapshots are taken every
simulation.snapshot_every days and at the end of the run.

Examples:
  epistate run --days 60
  epistate run --config town.yaml --seed 7 --run-id town-7
  epistate run --resume town-7 --days 120     # continue from the latest snapshot
  epistate run --from ./snapshots/town-7-day00030.epi`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			f := runFlags{}
			f.days, _ = cmd.Flags().GetInt("days")
			f.seed, _ = cmd.Flags().GetUint64("seed")
			f.seedSet = cmd.Flags().Changed("seed")
			f.runID, _ = cmd.Flags().GetString("run-id")
			f.resume, _ = cmd.Flags().GetString("resume")
			f.from, _ = cmd.Flags().GetString("from")
			if listen, _ := cmd.Flags().GetString("metrics"); listen != "" {
				cfg.Metrics.Listen = listen
			}
			if f.resume != "" && f.from != "" {
				return fmt.Errorf("--resume and --from are mutually exclusive")
			}
			jsonOut, _ := cmd.Flags().GetBool("json")

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			return runSimulation(ctx, cfg, f, cmd.OutOrStdout(), jsonOut)
		},
	}

	cmd.Flags().Int("days", 0, "Simulate until this day (default simulation.days)")
	cmd.Flags().Uint64("seed", 0, "Override simulation.seed")
	cmd.Flags().String("run-id", "", "Run identifier (default: random)")
	cmd.Flags().String("resume", "", "Continue the run with this id from its latest stored snapshot")
	cmd.Flags().String("from", "", "Continue from a snapshot file")
	cmd.Flags().String("metrics", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	return cmd
}

type runFlags struct {
	days    int
	seed    uint64
	seedSet bool
	runID   string
	resume  string
	from    string
}

// runSimulation wires configuration, sinks and persistence around one
// engine and runs it to the last day.
func runSimulation(ctx context.Context, cfg *config.Config, f runFlags, out io.Writer, jsonOut bool) error {
	logger := logging.NewLoggerFormat(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)

	if f.seedSet {
		cfg.Simulation.Seed = f.seed
	}
	if f.days > 0 {
		cfg.Simulation.Days = f.days
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	// A resumed run takes its id and seed from the snapshot, so the
	// population is rebuilt exactly as it was generated.
	var resumeFrom *snapshot.State
	switch {
	case f.resume != "":
		if resumeFrom, err = st.LatestSnapshot(ctx, f.resume); err != nil {
			return fmt.Errorf("failed to load snapshot of %s: %w", f.resume, err)
		}
	case f.from != "":
		if resumeFrom, err = snapshot.Read(f.from); err != nil {
			return fmt.Errorf("failed to read snapshot: %w", err)
		}
	}
	runID := f.runID
	if resumeFrom != nil {
		runID = resumeFrom.RunID
		cfg.Simulation.Seed = resumeFrom.Seed
	}
	if runID == "" {
		runID = uuid.NewString()
	}

	opts, err := cfg.EngineOptions()
	if err != nil {
		return err
	}
	opts.RunID = runID
	opts.Logger = logger

	sinks, closeSinks, err := openSinks(cfg, st, runID, logger)
	if err != nil {
		return err
	}
	defer closeSinks()
	opts.Sink = sinks

	if cfg.Metrics.Listen != "" {
		opts.Metrics = metrics.New()
		stop := serveMetrics(cfg.Metrics.Listen, opts.Metrics, logger)
		defer stop()
	}

	scenario, err := cfg.Scenario()
	if err != nil {
		return fmt.Errorf("failed to load population: %w", err)
	}
	world, err := scenario.Build(sinks)
	if err != nil {
		return fmt.Errorf("failed to build population: %w", err)
	}

	var engine *sim.Engine
	if resumeFrom != nil {
		engine, err = sim.Restore(world, opts, resumeFrom)
	} else {
		engine, err = sim.New(world, opts)
	}
	if err != nil {
		return err
	}

	if resumeFrom == nil {
		if err := saveRun(ctx, st, runID, cfg); err != nil {
			return err
		}
	} else if _, err := st.GetRun(ctx, runID); errors.Is(err, store.ErrNotFound) {
		// resumed from a file written by another database
		if err := saveRun(ctx, st, runID, cfg); err != nil {
			return err
		}
	}

	retention, err := cfg.Retention()
	if err != nil {
		return err
	}
	snaps := &snapshotter{store: st, cfg: cfg.Simulation, retention: retention, logger: logger, last: engine.Day()}

	logger.Info("run started",
		"run", runID,
		"persons", world.Population.Len(),
		"from_day", engine.Day(),
		"to_day", cfg.Simulation.Days)

	remaining := cfg.Simulation.Days - engine.Day()
	runErr := engine.Run(ctx, remaining, func(rep sim.Report) error {
		printReport(out, rep, jsonOut)
		if err := st.Flush(ctx); err != nil {
			return err
		}
		every := cfg.Simulation.SnapshotEvery
		if every > 0 && (rep.Day+1)%every == 0 {
			return snaps.take(ctx, engine)
		}
		return nil
	})

	// Persist what was simulated even when the run was interrupted.
	saveCtx := context.WithoutCancel(ctx)
	if err := st.Flush(saveCtx); err != nil {
		return err
	}
	if engine.Day() > 0 && !snaps.has(engine.Day()) {
		if err := snaps.take(saveCtx, engine); err != nil {
			return err
		}
	}
	if errors.Is(runErr, context.Canceled) {
		logger.Warn("run interrupted", "run", runID, "day", engine.Day())
		return nil
	}
	if runErr != nil {
		return runErr
	}
	logger.Info("run finished", "run", runID, "days", engine.Day())
	return nil
}

// openSinks fans events out to the run database, the JSONL journal and
// Kafka. The returned func closes the journal and flushes the publisher.
func openSinks(cfg *config.Config, st *store.SQLiteStore, runID string, logger *slog.Logger) (events.Sink, func(), error) {
	kinds := cfg.EventKinds()
	sinks := events.Multi{st.EventSink(runID)}
	var closers []func()

	if dir := cfg.Events.JSONLDir; dir != "" {
		el := logging.NewEventLog(dir, kinds...)
		if el == nil {
			logger.Warn("event journal disabled", "dir", dir)
		} else {
			sinks = append(sinks, el)
			closers = append(closers, func() { el.Close() })
		}
	}

	if kc, ok := cfg.Kafka(); ok {
		pub, err := publish.NewKafka(kc, runID, logger)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, events.Filter{Sink: pub, Kinds: kinds})
		closers = append(closers, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := pub.Close(ctx); err != nil {
				logger.Warn("closing kafka publisher", "error", err)
			}
		})
	}

	return sinks, func() {
		for _, c := range closers {
			c()
		}
	}, nil
}

// serveMetrics starts the metrics endpoint and returns its shutdown func.
func serveMetrics(addr string, m *metrics.Metrics, logger *slog.Logger) func() {
	srv := &http.Server{
		Addr:              addr,
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", addr)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func saveRun(ctx context.Context, st *store.SQLiteStore, runID string, cfg *config.Config) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return st.SaveRun(ctx, store.Run{
		ID:        runID,
		Seed:      cfg.Simulation.Seed,
		Scenario:  cfg.Simulation.Scenario,
		Config:    data,
		CreatedAt: time.Now().UTC(),
	})
}

// snapshotter stores engine snapshots in the database and, when a
// directory is configured, as files subject to the retention policy.
type snapshotter struct {
	store     *store.SQLiteStore
	cfg       config.SimulationConfig
	retention snapshot.RetentionPolicy
	logger    *slog.Logger
	last      int
}

func (s *snapshotter) has(day int) bool { return s.last == day }

func (s *snapshotter) take(ctx context.Context, e *sim.Engine) error {
	state, err := e.Snapshot()
	if err != nil {
		return err
	}
	if err := s.store.SaveSnapshot(ctx, state); err != nil {
		return err
	}
	if s.cfg.SnapshotKeep > 0 {
		if _, err := s.store.PruneSnapshots(ctx, state.RunID, s.cfg.SnapshotKeep); err != nil {
			return err
		}
	}
	s.last = state.Day

	if dir := s.cfg.SnapshotDir; dir != "" {
		path := filepath.Join(dir, snapshot.FileName(state.RunID, state.Day))
		if err := snapshot.Write(path, state); err != nil {
			return err
		}
		if s.retention != nil {
			deleted, err := snapshot.ApplyRetention(dir, s.retention)
			if err != nil {
				s.logger.Warn("snapshot retention failed", "dir", dir, "error", err)
			} else if len(deleted) > 0 {
				s.logger.Debug("snapshots removed", "count", len(deleted))
			}
		}
	}
	s.logger.Debug("snapshot saved", "run", state.RunID, "day", state.Day)
	return nil
}

// dayLine is the JSON form of one day's report.
type dayLine struct {
	Day        int            `json:"day"`
	Seeded     int            `json:"seeded"`
	Infections int            `json:"infections"`
	Traced     int            `json:"traced"`
	FirstDoses int            `json:"first_doses"`
	Boosters   int            `json:"boosters"`
	Tests      int            `json:"tests"`
	Positives  int            `json:"positives"`
	Statuses   map[string]int `json:"statuses"`
	DurationMs int64          `json:"duration_ms"`
}

func printReport(w io.Writer, rep sim.Report, jsonOut bool) {
	if jsonOut {
		line := dayLine{
			Day:        rep.Day,
			Seeded:     rep.Seeded,
			Infections: rep.Infections,
			Traced:     rep.Traced,
			FirstDoses: rep.Vaccination.FirstDoses,
			Boosters:   rep.Vaccination.Boosters,
			Tests:      rep.Screening.Tests,
			Positives:  rep.Screening.Positives,
			Statuses:   make(map[string]int, len(rep.Counts)),
			DurationMs: rep.Duration.Milliseconds(),
		}
		for s, n := range rep.Counts {
			line.Statuses[string(s)] = n
		}
		json.NewEncoder(w).Encode(line)
		return
	}
	infected := 0
	for s, n := range rep.Counts {
		if s.IsInfected() {
			infected += n
		}
	}
	fmt.Fprintf(w, "day %4d  new=%-5d seeded=%-3d infected=%-6d recovered=%-6d traced=%-4d vaccinated=%d\n",
		rep.Day, rep.Infections, rep.Seeded, infected, rep.Counts[models.StatusRecovered], rep.Traced,
		rep.Vaccination.FirstDoses+rep.Vaccination.Boosters)
}
