package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/titanworks/titan/pkg/engine"
)

// RunObserver turns engine lifecycle callbacks into spans, metrics, log
// lines and bus events.
type RunObserver struct {
	tel    *Telemetry
	logger *Logger
}

// NewRunObserver creates an observer for tel.
func NewRunObserver(tel *Telemetry) *RunObserver {
	return &RunObserver{tel: tel, logger: tel.Logger.NewComponentLogger("executor")}
}

var _ engine.Observer = (*RunObserver)(nil)

type runSpanKey struct{}

// RunStarted implements engine.Observer.
func (o *RunObserver) RunStarted(ctx context.Context, run *engine.Run) context.Context {
	ctx, span := o.tel.Tracer.StartRunSpan(ctx, run.ID, string(run.Goal), run.EquipmentID)
	ctx = context.WithValue(ctx, runSpanKey{}, span)

	o.tel.Metrics.RecordRunStarted(string(run.Goal))
	_ = o.tel.Events.PublishRun(EventTypeRunStarted, run.ID, run.EquipmentID,
		fmt.Sprintf("Run %s started for %s", run.ID, run.Goal),
		map[string]interface{}{"goal": string(run.Goal), "severity": run.Severity, "parent": run.ParentID})

	logger := o.logger.WithRunID(run.ID).WithEquipment(run.EquipmentID)
	logger.zlog.Info().Str("goal", string(run.Goal)).Strs("seed", factNames(run.Facts.Types())).Msg("Run started")
	return logger.WithContext(ctx)
}

type actionSpanKey struct{}

// ActionStarted implements engine.Observer.
func (o *RunObserver) ActionStarted(ctx context.Context, run *engine.Run, action engine.ActionDescriptor) context.Context {
	ctx, span := o.tel.Tracer.StartActionSpan(ctx, action.Name, action.CapabilityGroup)
	return context.WithValue(ctx, actionSpanKey{}, span)
}

// ActionFinished implements engine.Observer.
func (o *RunObserver) ActionFinished(ctx context.Context, run *engine.Run, action engine.ActionDescriptor, out engine.Fact, err error, elapsed time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	o.tel.Metrics.RecordAction(action.Name, outcome, elapsed)

	if span, ok := ctx.Value(actionSpanKey{}).(trace.Span); ok {
		if err != nil {
			span.SetAttributes(AttrErrorCode.String(engine.ErrorCode(err)))
			RecordError(span, err)
		} else {
			span.SetAttributes(AttrFactType.String(string(out.FactType())))
			RecordSuccess(span)
		}
		span.End()
	}

	if err != nil {
		o.tel.Metrics.RecordError(engine.ErrorCode(err))
		_ = o.tel.Events.Publish(Event{
			Type:        EventTypeActionFailed,
			Source:      "engine",
			RunID:       run.ID,
			EquipmentID: run.EquipmentID,
			Message:     fmt.Sprintf("Action %s failed: %v", action.Name, err),
			Level:       EventLevelError,
			Data:        map[string]interface{}{"action": action.Name, "code": engine.ErrorCode(err)},
		})
		return
	}
	_ = o.tel.Events.Publish(Event{
		Type:        EventTypeActionCompleted,
		Source:      "engine",
		RunID:       run.ID,
		EquipmentID: run.EquipmentID,
		Message:     fmt.Sprintf("Action %s produced %s", action.Name, out.FactType()),
		Data: map[string]interface{}{
			"action":      action.Name,
			"fact":        string(out.FactType()),
			"duration_ms": elapsed.Milliseconds(),
		},
	})
}

// RunFinished implements engine.Observer.
func (o *RunObserver) RunFinished(ctx context.Context, run *engine.Run) {
	status := run.Status()
	duration := time.Since(run.CreatedAt)
	o.tel.Metrics.RecordRunFinished(string(run.Goal), string(status), duration)

	data := map[string]interface{}{
		"goal":   string(run.Goal),
		"status": string(status),
		"trace":  run.Trace(),
	}
	var runErr error
	eventType := EventTypeRunCompleted
	switch status {
	case engine.RunStatusFailed:
		eventType = EventTypeRunFailed
		if f := run.Failure(); f != nil {
			data["action"] = f.Action
			data["code"] = f.Code
			data["last_fact"] = string(f.LastFact)
			runErr = fmt.Errorf("%s: %s", f.Code, f.Reason)
		}
	case engine.RunStatusSuperseded:
		eventType = EventTypeRunSuperseded
	}

	if span, ok := ctx.Value(runSpanKey{}).(trace.Span); ok {
		span.SetAttributes(AttrRunStatus.String(string(status)))
		if runErr != nil {
			RecordError(span, runErr)
		} else {
			RecordSuccess(span)
		}
		span.End()
	}

	_ = o.tel.Events.PublishRun(eventType, run.ID, run.EquipmentID,
		fmt.Sprintf("Run %s finished with status %s", run.ID, status), data)

	logger := FromContext(ctx)
	evt := logger.zlog.Info()
	if status == engine.RunStatusFailed {
		evt = logger.zlog.Warn()
	}
	evt.Str("status", string(status)).
		Strs("trace", run.Trace()).
		Dur("duration", duration).
		Msg("Run finished")
}

func factNames(types []engine.FactType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}
