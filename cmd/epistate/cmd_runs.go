package main

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nvandessel/epistate/internal/events"
	"github.com/nvandessel/epistate/internal/store"
)

func newRunsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "runs",
		Short: "List stored runs and their snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			jsonOut, _ := cmd.Flags().GetBool("json")
			ctx := cmd.Context()

			st, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			runs, err := st.Runs(ctx)
			if err != nil {
				return err
			}

			type runItem struct {
				ID        string `json:"id"`
				Seed      uint64 `json:"seed"`
				Scenario  string `json:"scenario,omitempty"`
				CreatedAt string `json:"created_at"`
				Snapshots []int  `json:"snapshots"`
			}
			items := make([]runItem, 0, len(runs))
			for _, r := range runs {
				infos, err := st.Snapshots(ctx, r.ID)
				if err != nil {
					return err
				}
				days := make([]int, 0, len(infos))
				for _, i := range infos {
					days = append(days, i.Day)
				}
				slices.Sort(days)
				items = append(items, runItem{
					ID:        r.ID,
					Seed:      r.Seed,
					Scenario:  r.Scenario,
					CreatedAt: r.CreatedAt.Format("2006-01-02 15:04:05"),
					Snapshots: days,
				})
			}

			if jsonOut {
				return writeJSON(cmd, map[string]any{"runs": items, "count": len(items)})
			}
			out := cmd.OutOrStdout()
			if len(items) == 0 {
				fmt.Fprintln(out, "No runs stored.")
				return nil
			}
			for _, r := range items {
				fmt.Fprintf(out, "%s  seed=%d  created=%s\n", r.ID, r.Seed, r.CreatedAt)
				if r.Scenario != "" {
					fmt.Fprintf(out, "  scenario:  %s\n", r.Scenario)
				}
				fmt.Fprintf(out, "  snapshots: %s\n", joinInts(r.Snapshots))
			}
			return nil
		},
	}
}

func newEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events <run-id>",
		Short: "Query the recorded events of a run",
		Long: `Query the state-change events recorded for a run.

Examples:
  epistate events town-7 --kind infection --from 10 --to 20
  epistate events town-7 --person p00042 --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			jsonOut, _ := cmd.Flags().GetBool("json")
			kinds, _ := cmd.Flags().GetStringSlice("kind")
			person, _ := cmd.Flags().GetString("person")
			from, _ := cmd.Flags().GetInt("from")
			to, _ := cmd.Flags().GetInt("to")
			limit, _ := cmd.Flags().GetInt("limit")
			ctx := cmd.Context()

			st, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			filter := store.EventFilter{RunID: args[0], PersonID: person, FromDay: from, ToDay: to, Limit: limit}
			for _, k := range kinds {
				filter.Kinds = append(filter.Kinds, events.Kind(k))
			}
			evs, err := st.Events(ctx, filter)
			if err != nil {
				return err
			}

			if jsonOut {
				return writeJSON(cmd, map[string]any{"events": evs, "count": len(evs)})
			}
			out := cmd.OutOrStdout()
			for _, e := range evs {
				fmt.Fprintf(out, "day %4d  %-17s %s\n", e.Day, e.Kind, describeEvent(e))
			}
			return nil
		},
	}
	cmd.Flags().StringSlice("kind", nil, "Only these event kinds")
	cmd.Flags().String("person", "", "Only events of this person")
	cmd.Flags().Int("from", 0, "First day")
	cmd.Flags().Int("to", 0, "Last day (inclusive, 0 = no limit)")
	cmd.Flags().Int("limit", 100, "Maximum number of events (0 = no limit)")
	return cmd
}

func describeEvent(e events.Event) string {
	var parts []string
	add := func(k, v string) {
		if v != "" {
			parts = append(parts, k+"="+v)
		}
	}
	add("person", e.PersonID)
	add("status", e.Status)
	add("infector", e.InfectorID)
	add("strain", e.Strain)
	add("container", e.Container)
	add("contact", e.ContactID)
	add("vaccine", e.Vaccine)
	if e.Booster {
		parts = append(parts, "booster")
	}
	add("message", e.Message)
	return strings.Join(parts, " ")
}

func joinInts(xs []int) string {
	if len(xs) == 0 {
		return "(none)"
	}
	s := make([]string, len(xs))
	for i, x := range xs {
		s[i] = fmt.Sprint(x)
	}
	return strings.Join(s, ", ")
}
