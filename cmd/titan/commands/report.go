package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/titanworks/titan/pkg/report"
	"github.com/titanworks/titan/pkg/stores"
)

func newReportCommand() *cobra.Command {
	var (
		out       string
		equipment string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Export runs, recommendations and actions to a workbook",
		Long: `Export the store to an XLSX workbook.

The workbook has a summary sheet with run and recommendation counts, and one
sheet each for runs, recommendations and automated actions.`,
		Example: `  # Export everything
  titan report --out titan.xlsx

  # Export one machine's history
  titan report --out x001.xlsx --equipment X-001`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(store *stores.SQLiteStore) error {
				data, err := report.Collect(cmd.Context(), store, equipment, limit, time.Now())
				if err != nil {
					return err
				}
				book, err := report.BuildWorkbook(data)
				if err != nil {
					return err
				}
				if err := os.WriteFile(out, book, 0o644); err != nil {
					return fmt.Errorf("failed to write report: %w", err)
				}
				log.Info().
					Str("path", out).
					Int("runs", len(data.Runs)).
					Int("recommendations", len(data.Recommendations)).
					Int("actions", len(data.Actions)).
					Msg("Report written")
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "titan-report.xlsx", "output file")
	cmd.Flags().StringVar(&equipment, "equipment", "", "limit the report to one equipment ID")
	cmd.Flags().IntVar(&limit, "limit", 1000, "maximum rows per sheet")

	return cmd
}
