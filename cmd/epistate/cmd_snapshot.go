package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nvandessel/epistate/internal/models"
	"github.com/nvandessel/epistate/internal/sim"
	"github.com/nvandessel/epistate/internal/snapshot"
)

func newSnapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Inspect, verify and export snapshots",
		Long: `Work with snapshot files.

A snapshot file holds a JSON header line followed by the gzip-compressed
state of every person and the engine's generator. The header carries a
SHA-256 checksum of the compressed payload.

Examples:
  epistate snapshot list ./snapshots
  epistate snapshot inspect ./snapshots/town-7-day00030.epi
  epistate snapshot verify ./snapshots/town-7-day00030.epi
  epistate snapshot export town-7 --day 30 -o town-7.epi`,
	}

	cmd.AddCommand(
		newSnapshotListCmd(),
		newSnapshotInspectCmd(),
		newSnapshotVerifyCmd(),
		newSnapshotExportCmd(),
	)
	return cmd
}

func newSnapshotListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list [dir]",
		Short: "List snapshot files in a directory (default simulation.snapshot_dir)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			var dir string
			if len(args) == 1 {
				dir = args[0]
			} else {
				cfg, err := loadConfig(cmd)
				if err != nil {
					return err
				}
				dir = cfg.Simulation.SnapshotDir
			}
			if dir == "" {
				return fmt.Errorf("no directory given and simulation.snapshot_dir is not set")
			}

			infos, err := snapshot.List(dir)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, map[string]any{"snapshots": infos, "count": len(infos)})
			}
			out := cmd.OutOrStdout()
			if len(infos) == 0 {
				fmt.Fprintf(out, "No snapshots in %s\n", dir)
				return nil
			}
			for _, i := range infos {
				fmt.Fprintf(out, "%-40s run=%s day=%d size=%d created=%s\n",
					filepath.Base(i.Path), i.RunID, i.Day, i.Size, i.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
}

func newSnapshotInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <file>",
		Short: "Show the header and population summary of a snapshot file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			header, err := snapshot.ReadHeader(args[0])
			if err != nil {
				return err
			}
			state, err := snapshot.Read(args[0])
			if err != nil {
				return err
			}
			counts := state.Counts()

			if jsonOut {
				statuses := make(map[string]int, len(counts))
				for s, n := range counts {
					statuses[string(s)] = n
				}
				return writeJSON(cmd, map[string]any{
					"header":   header,
					"statuses": statuses,
				})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "File:      %s\n", args[0])
			fmt.Fprintf(out, "Run:       %s\n", header.RunID)
			fmt.Fprintf(out, "Next day:  %d\n", header.Day)
			fmt.Fprintf(out, "Seed:      %d\n", state.Seed)
			fmt.Fprintf(out, "Persons:   %d\n", header.PersonCount)
			fmt.Fprintf(out, "Created:   %s\n", header.CreatedAt.Format("2006-01-02 15:04:05"))
			fmt.Fprintf(out, "Checksum:  %s\n", header.Checksum)
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Disease status:")
			for _, s := range sim.SortedStatuses(counts) {
				fmt.Fprintf(out, "  %-28s %d\n", s, counts[s])
			}
			quarantined := 0
			for _, p := range state.Persons {
				if p.Quarantine != models.QuarantineNo {
					quarantined++
				}
			}
			fmt.Fprintf(out, "\nQuarantined: %d\n", quarantined)
			return nil
		},
	}
}

func newSnapshotVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <file>",
		Short: "Verify snapshot file integrity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filePath := args[0]
			jsonOut, _ := cmd.Flags().GetBool("json")

			err := snapshot.Verify(filePath)
			if jsonOut {
				res := map[string]any{"file": filePath, "valid": err == nil}
				if err != nil {
					res["error"] = err.Error()
				}
				if encErr := writeJSON(cmd, res); encErr != nil {
					return encErr
				}
			}
			if err != nil {
				if !jsonOut {
					fmt.Fprintf(cmd.OutOrStdout(), "FAILED: %v\n  File: %s\n", err, filePath)
				}
				return fmt.Errorf("checksum verification failed")
			}
			if !jsonOut {
				fmt.Fprintf(cmd.OutOrStdout(), "OK: checksum verified\n  File: %s\n", filePath)
			}
			return nil
		},
	}
}

func newSnapshotExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <run-id>",
		Short: "Write a stored snapshot to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			day, _ := cmd.Flags().GetInt("day")
			output, _ := cmd.Flags().GetString("output")
			ctx := cmd.Context()

			st, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			var state *snapshot.State
			if cmd.Flags().Changed("day") {
				state, err = st.LoadSnapshot(ctx, args[0], day)
			} else {
				state, err = st.LatestSnapshot(ctx, args[0])
			}
			if err != nil {
				return err
			}
			if output == "" {
				output = snapshot.FileName(state.RunID, state.Day)
			}
			if err := snapshot.Write(output, state); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (run %s, day %d)\n", output, state.RunID, state.Day)
			return nil
		},
	}
	cmd.Flags().Int("day", 0, "Snapshot day (default: latest)")
	cmd.Flags().StringP("output", "o", "", "Output file (default <run>-day<N>.epi)")
	return cmd
}
