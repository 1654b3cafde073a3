// Package telemetry provides observability for the titan orchestrator.
//
// It integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus) and an in-process lifecycle event
// bus into one Telemetry value that is created at startup and passed to the
// executor, the ingress service and the API.
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = version
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	executor := engine.NewExecutor(registry,
//	    engine.WithObserver(telemetry.NewRunObserver(tel)))
//
// # Structured Logging
//
// Loggers are scoped by component and carry run fields:
//
//	logger := tel.Logger.NewComponentLogger("ingress")
//	logger.WithRunID(run.ID).WithEquipment(run.EquipmentID).Info("Run started")
//	logger.WithAction("reserveParts").WithError(err).Error("Action failed")
//
// With a file Output the log is rotated by size and age (lumberjack).
//
// # Distributed Tracing
//
// A run is one span; each action and capability call is a child span:
//
//	ctx, span := tel.Tracer.StartRunSpan(ctx, run.ID, string(run.Goal), run.EquipmentID)
//	defer span.End()
//
// Exporters: otlp (gRPC), stdout, none.
//
// # Metrics
//
// Prometheus collectors live in a private registry served by
// Metrics.Handler:
//
//   - titan_runs_started_total{goal}
//   - titan_runs_finished_total{goal,status}
//   - titan_run_duration_seconds{goal,status}
//   - titan_active_runs
//   - titan_actions_executed_total{action,outcome}
//   - titan_action_duration_seconds{action}
//   - titan_capability_calls_total{group,operation}
//   - titan_capability_call_duration_seconds{group,operation}
//   - titan_capability_errors_total{group,operation,code}
//   - titan_ingress_decisions_total{decision}
//   - titan_dedup_index_entries
//   - titan_recommendation_transitions_total{status}
//   - titan_errors_by_code_total{code}
//
// # Lifecycle Events
//
// Run transitions, ingress decisions, recommendation changes, reservation
// releases and policy reloads are published on the event bus. The SQLite
// audit log is one subscriber:
//
//	tel.Events.Subscribe(func(e telemetry.Event) {
//	    fmt.Println(e.Type, e.RunID)
//	}, telemetry.FilterByLevel(telemetry.EventLevelWarning))
//
// Delivery is asynchronous by default; TestConfig delivers synchronously.
package telemetry
