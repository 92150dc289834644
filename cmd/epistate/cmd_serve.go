package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nvandessel/epistate/internal/mcp"
	"github.com/nvandessel/epistate/internal/pathutil"
	"github.com/nvandessel/epistate/internal/store"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve stored runs to MCP clients over stdio",
		Long: `Start an MCP (Model Context Protocol) server over stdio exposing the run
database: run listing, population summaries, person state, event queries
the antibody calculator and snapshot export into
~/.epistate/snapshots or simulation.snapshot_dir.

Example client configuration:
  {
    "mcpServers": {
      "epistate": {"command": "epistate", "args": ["serve"]}
    }
  }`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			noAudit, _ := cmd.Flags().GetBool("no-audit")
			noExport, _ := cmd.Flags().GetBool("no-export")
			ctx := cmd.Context()

			st, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			model, err := cfg.ImmunityModel()
			if err != nil {
				return err
			}

			var auditDir string
			if !noAudit {
				if auditDir, err = store.GlobalPath(); err != nil {
					return err
				}
			}

			var snapshotDirs []string
			if !noExport {
				if snapshotDirs, err = pathutil.SnapshotDirs(cfg.Simulation.SnapshotDir); err != nil {
					return err
				}
			}

			server, err := mcp.NewServer(&mcp.Config{
				Name:     "epistate",
				Version:  version,
				Store:    st,
				Immunity: model,
				Beta:     cfg.Antibody.Beta,
				AuditDir: auditDir,

				SnapshotDirs: snapshotDirs,
			})
			if err != nil {
				return fmt.Errorf("failed to create MCP server: %w", err)
			}
			return server.Run(ctx)
		},
	}
	cmd.Flags().Bool("no-audit", false, "Do not write ~/.epistate/audit.jsonl")
	cmd.Flags().Bool("no-export", false, "Disable the snapshot export tool")
	return cmd
}
