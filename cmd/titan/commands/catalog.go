package commands

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/titanworks/titan/pkg/capability"
	"github.com/titanworks/titan/pkg/engine"
	"github.com/titanworks/titan/pkg/telemetry"
)

func newCatalogCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect the action catalogue",
		Long: `Inspect the remediation action catalogue.

The catalogue is validated at startup: every non-seed input must be
producible, each output type has exactly one producer, branch actions cover
their whole family and the dependency graph is acyclic.`,
	}

	cmd.AddCommand(newCatalogValidateCommand())
	cmd.AddCommand(newCatalogGraphCommand())

	return cmd
}

// catalogRegistry builds the registry as serve would, over a plant that is
// never called.
func catalogRegistry(cmd *cobra.Command) (*engine.Registry, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	tel := telemetry.Nop()
	pe, err := newPolicyEngine(cmd.Context(), cfg, tel)
	if err != nil {
		return nil, err
	}
	client := capability.Chain(capability.NewPlant(nil), capability.DefaultAllowList(), cfg.Capability.Timeout.Std())
	return newRegistry(cfg, client, pe)
}

func newCatalogValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the catalogue, strategy script and policies",
		Example: `  # Validate with the configured strategy and policy directory
  titan catalog validate --config titan.cue`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := catalogRegistry(cmd)
			if err != nil {
				return err
			}

			actions := reg.Actions()
			if jsonOutput {
				descs := make([]engine.ActionDescriptor, 0, len(actions))
				for _, a := range actions {
					descs = append(descs, a.Descriptor())
				}
				return printJSON(stdout(), map[string]any{
					"valid":   true,
					"goals":   reg.Goals(),
					"actions": descs,
				})
			}

			rows := make([][]string, 0, len(actions))
			for _, a := range actions {
				d := a.Descriptor()
				rows = append(rows, []string{
					d.Name,
					joinTypes(d.Inputs),
					joinTypes(d.Outputs),
					orDash(d.CapabilityGroup),
				})
			}
			if err := table(stdout(), []string{"ACTION", "INPUTS", "OUTPUTS", "GROUP"}, rows); err != nil {
				return err
			}
			log.Info().Int("actions", len(actions)).Int("goals", len(reg.Goals())).Msg("Catalogue is valid")
			return nil
		},
	}

	return cmd
}

func newCatalogGraphCommand() *cobra.Command {
	var dot bool

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Show the action dependency graph",
		Example: `  # Print actions by depth
  titan catalog graph

  # Render with Graphviz
  titan catalog graph --dot | dot -Tsvg > catalogue.svg`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := catalogRegistry(cmd)
			if err != nil {
				return err
			}
			g, err := reg.Graph()
			if err != nil {
				return err
			}
			if dot {
				fmt.Fprint(stdout(), g.ToDOT())
				return nil
			}
			if jsonOutput {
				return printJSON(stdout(), g.Levels())
			}
			for i, level := range g.Levels() {
				fmt.Fprintf(stdout(), "%2d  %s\n", i, strings.Join(level, ", "))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dot, "dot", false, "output Graphviz DOT")

	return cmd
}

func joinTypes(types []engine.FactType) string {
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = string(t)
	}
	return strings.Join(parts, ", ")
}
