package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/titanworks/titan/pkg/capability"
	"github.com/titanworks/titan/pkg/config"
	"github.com/titanworks/titan/pkg/engine"
	"github.com/titanworks/titan/pkg/ingress"
	"github.com/titanworks/titan/pkg/policy"
	"github.com/titanworks/titan/pkg/remediation"
	"github.com/titanworks/titan/pkg/stores"
	"github.com/titanworks/titan/pkg/telemetry"
)

// stack is the wired engine shared by serve, simulate and the offline
// approval commands.
type stack struct {
	cfg      *config.Config
	tel      *telemetry.Telemetry
	store    *stores.SQLiteStore
	plant    *capability.Plant // nil in http mode
	client   capability.Client
	policies *policy.Engine
	registry *engine.Registry
	executor *engine.Executor
	service  *ingress.Service
}

// stackOptions override parts of the configuration for one command.
type stackOptions struct {
	// plantPath replaces capability.plant and forces simulated mode.
	plantPath string

	// simulated forces the in-memory plant regardless of capability.mode.
	simulated bool
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func newTelemetry(cfg *config.Config, version string) (*telemetry.Telemetry, error) {
	tel, err := telemetry.NewTelemetry(cfg.TelemetryConfig(version))
	if err != nil {
		return nil, fmt.Errorf("failed to initialise telemetry: %w", err)
	}
	return tel, nil
}

func openStore(ctx context.Context, cfg stores.Config) (*stores.SQLiteStore, error) {
	store, err := stores.NewSQLiteStore(cfg)
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to migrate store: %w", err)
	}
	return store, nil
}

// newClient builds the guarded, time-bounded and instrumented capability
// client for the configured mode.
func newClient(cfg *config.Config, tel *telemetry.Telemetry, opts stackOptions) (capability.Client, *capability.Plant, error) {
	var (
		base  capability.Client
		plant *capability.Plant
	)

	if opts.simulated || opts.plantPath != "" || cfg.Capability.Mode == "simulated" {
		path := cfg.Capability.Plant
		if opts.plantPath != "" {
			path = opts.plantPath
		}
		spec := capability.DefaultPlantSpec()
		if path != "" {
			loaded, err := capability.LoadPlantSpec(path)
			if err != nil {
				return nil, nil, err
			}
			spec = loaded
		}
		plant = capability.NewPlant(spec)
		base = plant
	} else {
		base = capability.NewHTTPClient(cfg.HTTPConfig())
	}

	client := capability.Chain(base, capability.DefaultAllowList(), cfg.Capability.Timeout.Std())
	return capability.Instrumented(client, tel), plant, nil
}

func newStrategy(cfg *config.Config) (capability.Strategy, error) {
	s := cfg.Capability.Strategy
	if s.Kind != "script" {
		return capability.Deterministic{}, nil
	}
	return capability.LoadScriptStrategy(s.Script, s.Timeout.Std())
}

func newPolicyEngine(ctx context.Context, cfg *config.Config, tel *telemetry.Telemetry) (*policy.Engine, error) {
	pe, err := policy.NewEngine(tel.Logger.NewComponentLogger("policy").Zerolog())
	if err != nil {
		return nil, fmt.Errorf("failed to create policy engine: %w", err)
	}
	if cfg.Policy.Dir != "" {
		if err := pe.LoadPolicies(ctx, []string{cfg.Policy.Dir}); err != nil {
			return nil, err
		}
	}
	return pe, nil
}

// newRegistry builds and validates the action catalogue over client.
func newRegistry(cfg *config.Config, client capability.Client, classifier remediation.RegulationClassifier) (*engine.Registry, error) {
	strategy, err := newStrategy(cfg)
	if err != nil {
		return nil, err
	}
	performer := capability.NewPerformer(client, strategy, capability.DefaultAllowList())
	catalog := remediation.NewCatalog(performer, remediation.WithClassifier(classifier))
	return catalog.NewRegistry()
}

// buildStack wires configuration, store, capabilities, policies, the
// catalogue, the executor and the ingress service.
func buildStack(ctx context.Context, cfg *config.Config, tel *telemetry.Telemetry, opts stackOptions) (*stack, error) {
	s := &stack{cfg: cfg, tel: tel}

	var err error
	if s.store, err = openStore(ctx, cfg.StoreConfig()); err != nil {
		return nil, err
	}
	stores.AttachAudit(tel.Events, s.store, tel.Logger)

	fail := func(err error) (*stack, error) {
		_ = s.store.Close()
		return nil, err
	}

	if s.client, s.plant, err = newClient(cfg, tel, opts); err != nil {
		return fail(err)
	}
	if s.policies, err = newPolicyEngine(ctx, cfg, tel); err != nil {
		return fail(err)
	}
	if s.registry, err = newRegistry(cfg, s.client, s.policies); err != nil {
		return fail(err)
	}
	s.executor, err = engine.NewExecutor(s.registry,
		engine.WithMaxSteps(cfg.Engine.MaxSteps),
		engine.WithObserver(telemetry.NewRunObserver(tel)),
	)
	if err != nil {
		return fail(err)
	}
	if s.service, err = ingress.NewService(cfg.IngressConfig(), s.executor, s.client, s.store, tel); err != nil {
		return fail(err)
	}
	return s, nil
}

// close drains the ingress service, then releases the store and telemetry.
func (s *stack) close(ctx context.Context) error {
	return errors.Join(
		s.service.Shutdown(ctx),
		s.store.Close(),
		s.tel.Shutdown(ctx),
	)
}
