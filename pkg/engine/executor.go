package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultMaxSteps bounds the actions a single run may execute.
const DefaultMaxSteps = 32

// Observer receives run and action lifecycle callbacks. Returned contexts
// are threaded into the next callback, which lets tracers nest spans.
type Observer interface {
	RunStarted(ctx context.Context, run *Run) context.Context
	ActionStarted(ctx context.Context, run *Run, action ActionDescriptor) context.Context
	ActionFinished(ctx context.Context, run *Run, action ActionDescriptor, out Fact, err error, elapsed time.Duration)
	RunFinished(ctx context.Context, run *Run)
}

// ExecutorOption customises an Executor.
type ExecutorOption func(*Executor)

// WithMaxSteps overrides DefaultMaxSteps.
func WithMaxSteps(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.maxSteps = n
		}
	}
}

// WithObserver adds a lifecycle observer.
func WithObserver(o Observer) ExecutorOption {
	return func(e *Executor) {
		if o != nil {
			e.observers = append(e.observers, o)
		}
	}
}

// Executor drives the plan-act loop of a run. Actions within a run execute
// strictly one at a time; separate runs may execute concurrently on the
// same Executor.
type Executor struct {
	registry  *Registry
	planner   *Planner
	maxSteps  int
	observers []Observer
}

// NewExecutor creates an executor. The registry must already be validated.
func NewExecutor(registry *Registry, opts ...ExecutorOption) (*Executor, error) {
	if !registry.Validated() {
		if err := registry.Validate(); err != nil {
			return nil, err
		}
	}
	e := &Executor{
		registry: registry,
		planner:  NewPlanner(registry),
		maxSteps: DefaultMaxSteps,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Planner returns the executor's planner.
func (e *Executor) Planner() *Planner {
	return e.planner
}

// Execute runs the loop until the goal fact exists, an action fails, no
// action can progress, or the run is superseded. The returned error is nil
// for COMPLETED and SUPERSEDED runs.
func (e *Executor) Execute(ctx context.Context, run *Run) error {
	defer run.finish()

	for _, o := range e.observers {
		ctx = o.RunStarted(ctx, run)
	}
	defer func() {
		for _, o := range e.observers {
			o.RunFinished(ctx, run)
		}
	}()

	logger := log.With().
		Str("run_id", run.ID).
		Str("goal", string(run.Goal)).
		Str("equipment_id", run.EquipmentID).
		Logger()

	for steps := 0; ; steps++ {
		if status := run.Status(); status != RunStatusActive {
			logger.Info().Str("status", string(status)).Msg("Run stopped before next action")
			return nil
		}

		if run.Facts.Has(run.Goal) {
			run.transition(RunStatusCompleted, nil)
			logger.Info().Strs("trace", run.Trace()).Msg("Run completed")
			return nil
		}

		if steps >= e.maxSteps {
			err := NewPlanningDeadEndError(run.Goal, run.Facts.Types()).
				WithDetail("max_steps", e.maxSteps)
			return e.fail(run, "", err)
		}

		action, err := e.planner.Next(run.Goal, run.Facts)
		if err != nil {
			logger.Error().Err(err).Msg("Planning dead end")
			return e.fail(run, "", err)
		}

		if err := e.step(ctx, run, action); err != nil {
			logger.Error().Err(err).Str("action", action.Descriptor().Name).Msg("Action failed")
			return e.fail(run, action.Descriptor().Name, err)
		}
	}
}

func (e *Executor) step(ctx context.Context, run *Run, action Action) error {
	desc := action.Descriptor()
	actx := ctx
	for _, o := range e.observers {
		actx = o.ActionStarted(actx, run, desc)
	}

	started := time.Now()
	out, err := e.invoke(actx, run, action)
	elapsed := time.Since(started)

	if err == nil {
		err = checkOutput(desc, out)
	}
	if err == nil {
		err = run.Facts.Put(out)
	}

	for _, o := range e.observers {
		o.ActionFinished(actx, run, desc, out, err, elapsed)
	}
	if err != nil {
		return err
	}

	run.record(StepRecord{
		Action:     desc.Name,
		Output:     out.FactType(),
		StartedAt:  started.UTC(),
		FinishedAt: started.Add(elapsed).UTC(),
		Duration:   elapsed,
	})
	log.Debug().
		Str("run_id", run.ID).
		Str("action", desc.Name).
		Str("output", string(out.FactType())).
		Dur("duration", elapsed).
		Msg("Action completed")
	return nil
}

// invoke runs the action body, turning a panic into a permanent error so a
// faulty action fails its run instead of the process.
func (e *Executor) invoke(ctx context.Context, run *Run, action Action) (out Fact, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewPermanentError(fmt.Sprintf("action panicked: %v", r), nil).
				WithCode(ErrCodeInternal)
		}
	}()
	return action.Execute(ctx, run.Facts)
}

func checkOutput(desc ActionDescriptor, out Fact) error {
	if out == nil {
		return NewMalformedResultError("action produced no fact", nil)
	}
	if !desc.Produces(out.FactType()) {
		return NewMalformedResultError(
			fmt.Sprintf("action produced undeclared fact %s", out.FactType()), nil).
			WithDetail("declared", desc.Outputs)
	}
	return nil
}

func (e *Executor) fail(run *Run, action string, err error) error {
	var ee *EngineError
	if !errors.As(err, &ee) {
		ee = NewPermanentError("action failed", err).WithCode(ErrCodeInternal)
	}
	if ee.Action == "" && action != "" {
		ee.WithAction(action)
	}

	failure := &Failure{
		Action: action,
		Code:   ErrorCode(ee),
		Reason: ee.Error(),
		Facts:  run.Facts.Types(),
	}
	if last := run.Facts.Last(); last != nil {
		failure.LastFact = last.FactType()
	}

	if !run.transition(RunStatusFailed, failure) {
		// superseded while the failing action was in flight
		return nil
	}
	return ee
}
