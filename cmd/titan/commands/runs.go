package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/titanworks/titan/pkg/engine"
	"github.com/titanworks/titan/pkg/stores"
)

// withStore opens the configured store for a read-only command.
func withStore(ctx context.Context, fn func(*stores.SQLiteStore) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(ctx, cfg.StoreConfig())
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func newRunsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect remediation runs",
		Long: `Inspect remediation runs recorded in the store.

Each run records its goal, status, the ordered trace of actions executed
and, for failed runs, the failing action and reason.`,
	}

	cmd.AddCommand(newRunsListCommand())
	cmd.AddCommand(newRunsShowCommand())

	return cmd
}

func newRunsListCommand() *cobra.Command {
	var (
		equipment string
		status    string
		limit     int
		offset    int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		Example: `  # List recent runs
  titan runs list

  # List failed runs for one machine
  titan runs list --equipment TYO-CNC-004 --status failed`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := stores.RunFilter{
				EquipmentID: equipment,
				Status:      engine.RunStatus(strings.ToUpper(status)),
				Limit:       limit,
				Offset:      offset,
			}
			if filter.Status != "" {
				if err := filter.Status.Validate(); err != nil {
					return err
				}
			}
			return withStore(cmd.Context(), func(store *stores.SQLiteStore) error {
				runs, err := store.ListRuns(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(stdout(), runs)
				}
				rows := make([][]string, 0, len(runs))
				for _, r := range runs {
					rows = append(rows, []string{
						r.ID, r.Goal, r.EquipmentID, string(r.Status),
						fmt.Sprintf("%d", len(r.Trace)), shortTime(r.CreatedAt),
					})
				}
				return table(stdout(), []string{"RUN", "GOAL", "EQUIPMENT", "STATUS", "STEPS", "CREATED"}, rows)
			})
		},
	}

	cmd.Flags().StringVar(&equipment, "equipment", "", "filter by equipment ID")
	cmd.Flags().StringVar(&status, "status", "", "filter by status (active, completed, failed, superseded)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of runs")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of runs to skip")

	return cmd
}

func newRunsShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a run with its steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(store *stores.SQLiteStore) error {
				run, err := store.GetRun(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(stdout(), run)
				}

				w := stdout()
				fmt.Fprintf(w, "Run:        %s\n", run.ID)
				fmt.Fprintf(w, "Goal:       %s\n", run.Goal)
				fmt.Fprintf(w, "Equipment:  %s (%s)\n", run.EquipmentID, run.Severity)
				fmt.Fprintf(w, "Status:     %s\n", run.Status)
				if run.ParentID != "" {
					fmt.Fprintf(w, "Parent:     %s\n", run.ParentID)
				}
				if run.EventID != "" {
					fmt.Fprintf(w, "Event:      %s\n", run.EventID)
				}
				fmt.Fprintf(w, "Created:    %s\n", shortTime(run.CreatedAt))
				if run.FinishedAt != nil {
					fmt.Fprintf(w, "Finished:   %s\n", shortTime(*run.FinishedAt))
				}
				if f := run.Failure; f != nil {
					fmt.Fprintf(w, "Failure:    %s [%s] %s (last fact %s)\n", orDash(f.Action), f.Code, f.Reason, orDash(string(f.LastFact)))
				}

				fmt.Fprintln(w)
				rows := make([][]string, 0, len(run.Steps))
				for i, s := range run.Steps {
					rows = append(rows, []string{fmt.Sprintf("%d", i+1), s.Action, string(s.Output), s.Duration.String()})
				}
				return table(w, []string{"#", "ACTION", "OUTPUT", "DURATION"}, rows)
			})
		},
	}

	return cmd
}
