package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nvandessel/epistate/internal/config"
	"github.com/nvandessel/epistate/internal/store"
)

// version is set at build time via ldflags.
var version = "0.1.0-dev"

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "epistate",
		Short: "Agent-based epidemic state engine",
		Long: `epistate simulates the spread of an infectious disease through a
population of persons meeting in containers (households, workplaces,
schools, leisure).

Each person carries a disease status, an immunization history, a
quarantine and a test status. Runs are reproducible from the seed, can be
snapshotted between days and resumed, and record every state change as an
event.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")
	rootCmd.PersistentFlags().String("config", "", "Configuration file (default ~/.epistate/config.yaml)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(),
		newRunsCmd(),
		newEventsCmd(),
		newSnapshotCmd(),
		newConfigCmd(),
		newAntibodyCmd(),
		newServeCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]string{"version": version})
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "epistate version %s\n", version)
			}
		},
	}
}

// loadConfig loads the file named by --config, or the global config, and
// validates it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadWithOverrides(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openStore opens the configured run database, defaulting to
// ~/.epistate/epistate.db.
func openStore(ctx context.Context, cfg *config.Config) (*store.SQLiteStore, error) {
	path := cfg.Events.Database
	if path == "" {
		dir, err := store.GlobalPath()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(dir, store.DBFile)
	}
	s, err := store.Open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return s, nil
}

// signalContext returns a context canceled on SIGINT/SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigChan := make(chan os.Signal, 1)
	notifySignals(sigChan)
	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
