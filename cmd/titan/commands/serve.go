package commands

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/titanworks/titan/pkg/api"
	"github.com/titanworks/titan/pkg/telemetry"
)

func newServeCommand(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the anomaly ingress and HTTP API",
		Long: `Start the Titan server.

The server accepts anomaly events over HTTP, deduplicates and escalates them,
runs remediation chains against the configured capability servers and
serves run status, recommendations and the approval workflow.

Approvals require api.jwt_secret (or TITAN_JWT_SECRET). Without it the
approve and dismiss endpoints answer 503.`,
		Example: `  # Serve with the simulated plant and defaults
  titan serve

  # Serve with a config file
  titan serve --config /etc/titan/titan.cue`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			tel, err := newTelemetry(cfg, version)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			st, err := buildStack(ctx, cfg, tel, stackOptions{})
			if err != nil {
				_ = tel.Shutdown(context.Background())
				return err
			}

			logger := tel.Logger.NewComponentLogger("serve")
			z := logger.Zerolog()
			z.Info().
				Str("version", version).
				Str("config", cfg.Source).
				Str("capability_mode", cfg.Capability.Mode).
				Str("store", cfg.Store.Path).
				Int("actions", len(st.registry.Actions())).
				Msg("Titan starting")
			if cfg.API.JWTSecret == "" {
				z.Warn().Msg("No JWT secret configured, approvals are disabled")
			}

			server := api.NewServer(cfg.APIConfig(), st.service, st.store, tel)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return server.Run(gctx) })
			g.Go(func() error { return st.service.RunSweeper(gctx) })
			if cfg.Policy.Dir != "" && cfg.Policy.Watch {
				paths := []string{cfg.Policy.Dir}
				err := st.policies.Watch(gctx, paths, func(count int, err error) {
					publishPolicyReload(tel, cfg.Policy.Dir, count, err)
				})
				if err != nil {
					z.Warn().Err(err).Msg("Policy watch disabled")
				}
			}

			runErr := g.Wait()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout.Std()+30*time.Second)
			defer cancel()
			if err := st.close(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("Shutdown incomplete")
			}
			if runErr != nil {
				return runErr
			}
			log.Info().Msg("Titan stopped")
			return nil
		},
	}

	return cmd
}

func publishPolicyReload(tel *telemetry.Telemetry, dir string, count int, err error) {
	level, msg := telemetry.EventLevelInfo, "Policies reloaded"
	data := map[string]interface{}{"dir": dir, "count": count}
	if err != nil {
		level, msg = telemetry.EventLevelError, "Policy reload rejected, keeping previous set"
		data["error"] = err.Error()
	}
	_ = tel.Events.Publish(telemetry.Event{
		Type:    telemetry.EventTypePolicyReloaded,
		Source:  "policy",
		Message: msg,
		Level:   level,
		Data:    data,
	})
}
