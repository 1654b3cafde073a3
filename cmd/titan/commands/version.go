package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

func newVersionCommand(version, commit, buildDate string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if jsonOutput {
				return printJSON(stdout(), map[string]string{
					"version":   version,
					"commit":    commit,
					"buildDate": buildDate,
					"go":        runtime.Version(),
				})
			}
			fmt.Fprintf(stdout(), "titan %s (commit: %s, built: %s, %s)\n", version, commit, buildDate, runtime.Version())
			return nil
		},
	}
}
