package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/titanworks/titan/pkg/stores"
)

func newRecommendationsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "recommendations",
		Aliases: []string{"recs"},
		Short:   "Review and decide HIGH-severity recommendations",
		Long: `Review maintenance recommendations produced for HIGH anomalies.

A pending recommendation can be approved, which re-enters the critical
response chain for the equipment, or dismissed. Recommendations expire
after ingress.recommendation_ttl.

approve and dismiss act directly on the configured store and capability
servers. Use the HTTP API when a server is running so that its
deduplication index sees the decision.`,
	}

	cmd.AddCommand(newRecommendationsListCommand())
	cmd.AddCommand(newRecommendationsApproveCommand())
	cmd.AddCommand(newRecommendationsDismissCommand())

	return cmd
}

func newRecommendationsListCommand() *cobra.Command {
	var (
		status string
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recommendations, newest first",
		Example: `  # Pending recommendations
  titan recommendations list --status pending

  # Everything, as JSON
  titan recommendations list --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(store *stores.SQLiteStore) error {
				recs, err := store.ListRecommendations(cmd.Context(), stores.RecommendationStatus(strings.ToUpper(status)), limit, offset)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(stdout(), recs)
				}
				rows := make([][]string, 0, len(recs))
				for _, r := range recs {
					rows = append(rows, []string{
						r.ID, r.EquipmentID, r.RiskLevel, string(r.Status), r.Urgency,
						fmt.Sprintf("%.2f", r.EstimatedCost), shortTime(r.ExpiresAt), orDash(r.DecidedBy),
					})
				}
				return table(stdout(), []string{"ID", "EQUIPMENT", "RISK", "STATUS", "URGENCY", "COST", "EXPIRES", "DECIDED BY"}, rows)
			})
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by status (pending, approved, completed, failed, dismissed, superseded, expired)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of recommendations")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of recommendations to skip")

	return cmd
}

// withService builds the full stack for a one-shot decision and drains it
// afterwards.
func withService(cmd *cobra.Command, fn func(*stack) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	tel, err := newTelemetry(cfg, "")
	if err != nil {
		return err
	}
	st, err := buildStack(cmd.Context(), cfg, tel, stackOptions{})
	if err != nil {
		_ = tel.Shutdown(context.Background())
		return err
	}
	runErr := fn(st)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return errors.Join(runErr, st.close(ctx))
}

func newRecommendationsApproveCommand() *cobra.Command {
	var by string

	cmd := &cobra.Command{
		Use:     "approve <recommendation-id>",
		Short:   "Approve a pending recommendation and run the response",
		Example: `  titan recommendations approve REC-1A2B3C4D --by alice`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(st *stack) error {
				res, err := st.service.Approve(cmd.Context(), args[0], by)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(stdout(), res)
				}
				w := stdout()
				fmt.Fprintf(w, "Recommendation %s approved by %s\n", res.RecommendationID, by)
				fmt.Fprintf(w, "Run %s: %s\n", res.RunID, res.Status)
				fmt.Fprintf(w, "  trace: %s\n", strings.Join(res.Trace, " -> "))
				if res.WorkOrderID != "" {
					fmt.Fprintf(w, "  work order: %s\n", res.WorkOrderID)
				}
				if f := res.Failure; f != nil {
					fmt.Fprintf(w, "  failed: %s [%s] %s\n", orDash(f.Action), f.Code, f.Reason)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&by, "by", "", "approver name")
	_ = cmd.MarkFlagRequired("by")

	return cmd
}

func newRecommendationsDismissCommand() *cobra.Command {
	var (
		by     string
		reason string
	)

	cmd := &cobra.Command{
		Use:     "dismiss <recommendation-id>",
		Short:   "Dismiss a pending recommendation",
		Example: `  titan recommendations dismiss REC-1A2B3C4D --by alice --reason "bearing replaced during shift"`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(st *stack) error {
				if err := st.service.Dismiss(cmd.Context(), args[0], by, reason); err != nil {
					return err
				}
				log.Info().Str("recommendation_id", args[0]).Str("by", by).Msg("Recommendation dismissed")
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&by, "by", "", "operator name")
	cmd.Flags().StringVar(&reason, "reason", "", "dismissal reason")
	_ = cmd.MarkFlagRequired("by")

	return cmd
}
