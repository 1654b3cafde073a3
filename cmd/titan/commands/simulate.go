package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/titanworks/titan/pkg/ingress"
	"github.com/titanworks/titan/pkg/remediation"
	"github.com/titanworks/titan/pkg/stores"
)

// readEvents accepts a single event object or an array of events.
func readEvents(path string) ([]remediation.AnomalyEvent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var events []remediation.AnomalyEvent
		if err := json.Unmarshal(data, &events); err != nil {
			return nil, fmt.Errorf("failed to parse events %s: %w", path, err)
		}
		return events, nil
	}
	var event remediation.AnomalyEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("failed to parse event %s: %w", path, err)
	}
	return []remediation.AnomalyEvent{event}, nil
}

type simulation struct {
	Receipts        []ingress.Receipt         `json:"receipts"`
	Runs            []*stores.Run             `json:"runs"`
	Approvals       []*ingress.ApprovalResult `json:"approvals,omitempty"`
	Recommendations []*stores.Recommendation  `json:"recommendations"`
	Actions         []*stores.AutomatedAction `json:"actions"`
	WorkOrders      int                       `json:"workOrders"`
	Notifications   int                       `json:"notifications"`
}

func newSimulateCommand() *cobra.Command {
	var (
		eventFiles []string
		plantPath  string
		storePath  string
		concurrent bool
		approveAs  string
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run anomaly events against the simulated plant",
		Long: `Run anomaly events end to end against the in-memory plant.

Events are read from JSON files holding one event or an array of events and
submitted in order through the same ingress the server uses, so
deduplication, escalation and supersession apply. By default each event's
run finishes before the next event is submitted; --concurrent submits them
all at once.

The plant starts from the built-in fixture or from --plant. Results are
written to a throwaway store unless --store is given.`,
		Example: `  # Run one critical event
  titan simulate --event critical-x001.json

  # Run a scenario against a custom plant and approve the resulting recommendation
  titan simulate --event high.json --plant plant.yaml --approve-as alice

  # Submit a burst of events at once and keep the results
  titan simulate --event burst.json --concurrent --store sim.db`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var events []remediation.AnomalyEvent
			for _, f := range eventFiles {
				evs, err := readEvents(f)
				if err != nil {
					return err
				}
				events = append(events, evs...)
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if storePath == "" {
				dir, err := os.MkdirTemp("", "titan-sim-")
				if err != nil {
					return fmt.Errorf("failed to create scratch dir: %w", err)
				}
				defer os.RemoveAll(dir)
				storePath = filepath.Join(dir, "titan.db")
			}
			cfg.Store.Path = storePath

			tel, err := newTelemetry(cfg, "")
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			st, err := buildStack(ctx, cfg, tel, stackOptions{plantPath: plantPath, simulated: true})
			if err != nil {
				_ = tel.Shutdown(context.Background())
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if err := st.close(shutdownCtx); err != nil {
					log.Warn().Err(err).Msg("Shutdown incomplete")
				}
			}()

			log.Info().Int("events", len(events)).Bool("concurrent", concurrent).Msg("Simulating")

			result, err := simulate(ctx, st, events, concurrent, approveAs)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(stdout(), result)
			}
			return printSimulation(stdout(), result)
		},
	}

	cmd.Flags().StringArrayVarP(&eventFiles, "event", "e", nil, "JSON file with an event or an array of events (repeatable)")
	cmd.Flags().StringVarP(&plantPath, "plant", "p", "", "plant fixture YAML (default: built-in)")
	cmd.Flags().StringVar(&storePath, "store", "", "SQLite store to keep results in (default: scratch)")
	cmd.Flags().BoolVar(&concurrent, "concurrent", false, "submit all events without waiting for runs")
	cmd.Flags().StringVar(&approveAs, "approve-as", "", "approve every pending recommendation as this approver")
	_ = cmd.MarkFlagRequired("event")

	return cmd
}

func simulate(ctx context.Context, st *stack, events []remediation.AnomalyEvent, concurrent bool, approveAs string) (*simulation, error) {
	out := &simulation{}
	seen := make(map[string]bool)

	for _, ev := range events {
		receipt, err := st.service.Submit(ctx, ev)
		if err != nil {
			return nil, fmt.Errorf("event %s rejected: %w", ev.EventID, err)
		}
		out.Receipts = append(out.Receipts, receipt)
		if !concurrent {
			st.service.Wait()
		}
	}
	st.service.Wait()

	if approveAs != "" {
		pending, err := st.store.ListRecommendations(ctx, stores.RecommendationPending, 0, 0)
		if err != nil {
			return nil, err
		}
		for _, rec := range pending {
			res, err := st.service.Approve(ctx, rec.ID, approveAs)
			if err != nil {
				return nil, fmt.Errorf("failed to approve %s: %w", rec.ID, err)
			}
			out.Approvals = append(out.Approvals, res)
		}
	}

	addRun := func(id string) error {
		if id == "" || seen[id] {
			return nil
		}
		seen[id] = true
		run, err := st.store.GetRun(ctx, id)
		if err != nil {
			return err
		}
		out.Runs = append(out.Runs, run)
		return nil
	}
	for _, r := range out.Receipts {
		if err := addRun(r.RunID); err != nil {
			return nil, err
		}
	}
	for _, a := range out.Approvals {
		if err := addRun(a.RunID); err != nil {
			return nil, err
		}
	}

	var err error
	if out.Recommendations, err = st.store.ListRecommendations(ctx, "", 0, 0); err != nil {
		return nil, err
	}
	if out.Actions, err = st.store.ListAutomatedActions(ctx, "", 0, 0); err != nil {
		return nil, err
	}
	if st.plant != nil {
		out.WorkOrders = len(st.plant.WorkOrders())
		out.Notifications = len(st.plant.Notifications())
	}
	return out, nil
}

func printSimulation(w io.Writer, s *simulation) error {
	fmt.Fprintln(w, "Events:")
	rows := make([][]string, 0, len(s.Receipts))
	for _, r := range s.Receipts {
		rows = append(rows, []string{r.EventID, string(r.Decision), orDash(r.RunID), orDash(r.SupersededRunID)})
	}
	if err := table(w, []string{"EVENT", "DECISION", "RUN", "SUPERSEDED"}, rows); err != nil {
		return err
	}

	fmt.Fprintln(w, "\nRuns:")
	for _, run := range s.Runs {
		fmt.Fprintf(w, "  %s  %s  %s  %s\n", run.ID, run.Goal, run.EquipmentID, run.Status)
		fmt.Fprintf(w, "    trace: %s\n", strings.Join(run.Trace, " -> "))
		if f := run.Failure; f != nil {
			fmt.Fprintf(w, "    failed: %s [%s] %s\n", orDash(f.Action), f.Code, f.Reason)
		}
	}

	if len(s.Recommendations) > 0 {
		fmt.Fprintln(w, "\nRecommendations:")
		rows = rows[:0]
		for _, rec := range s.Recommendations {
			rows = append(rows, []string{rec.ID, rec.EquipmentID, string(rec.Status), rec.Urgency,
				fmt.Sprintf("%.2f", rec.EstimatedCost), orDash(rec.WorkOrderID)})
		}
		if err := table(w, []string{"ID", "EQUIPMENT", "STATUS", "URGENCY", "COST", "WORK ORDER"}, rows); err != nil {
			return err
		}
	}

	fmt.Fprintf(w, "\nAutomated actions: %d, work orders: %d, notifications: %d\n",
		len(s.Actions), s.WorkOrders, s.Notifications)
	return nil
}
