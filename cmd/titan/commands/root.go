package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "titan",
		Short: "Titan - anomaly response orchestration",
		Long: `Titan turns equipment anomaly alerts into remediation runs.

A CRITICAL anomaly is handled end to end: diagnosis, urgency assessment,
emergency shutdown, parts sourcing, maintenance scheduling, compliance
verification and operator notification. A HIGH anomaly produces a costed
recommendation that waits for human approval.

Each run is planned by backward chaining over a catalogue of actions and
executed one step at a time against the plant's capability servers.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (CUE)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newServeCommand(version))
	rootCmd.AddCommand(newSimulateCommand())
	rootCmd.AddCommand(newCatalogCommand())
	rootCmd.AddCommand(newRunsCommand())
	rootCmd.AddCommand(newRecommendationsCommand())
	rootCmd.AddCommand(newReportCommand())
	rootCmd.AddCommand(newTokenCommand())
	rootCmd.AddCommand(newVersionCommand(version, commit, buildDate))

	return rootCmd
}
