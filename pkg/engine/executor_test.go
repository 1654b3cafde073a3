package engine

import (
	"context"
	"testing"
	"time"
)

func newTestExecutor(t *testing.T, r *Registry, opts ...ExecutorOption) *Executor {
	t.Helper()
	e, err := NewExecutor(r, opts...)
	if err != nil {
		t.Fatalf("NewExecutor failed: %v", err)
	}
	return e
}

func TestExecutor_BranchPaths(t *testing.T) {
	tests := []struct {
		name   string
		choice FactType
		want   []string
	}{
		{name: "calm path", choice: "Calm", want: []string{"probe", "triage", "fixDirect", "close"}},
		{name: "urgent path", choice: "Urgent", want: []string{"probe", "triage", "halt", "fixAfterHalt", "close"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs := &recordingObserver{}
			e := newTestExecutor(t, diamondRegistry(t, tt.choice), WithObserver(obs))
			run, err := NewRun("Done", "EQ-1", []Fact{fact("Seed")})
			if err != nil {
				t.Fatal(err)
			}

			if err := e.Execute(context.Background(), run); err != nil {
				t.Fatalf("Execute failed: %v", err)
			}

			if run.Status() != RunStatusCompleted {
				t.Errorf("status = %s, want COMPLETED", run.Status())
			}
			if !equalStrings(run.Trace(), tt.want) {
				t.Errorf("trace = %v, want %v", run.Trace(), tt.want)
			}
			if _, ok := run.Result(); !ok {
				t.Error("expected goal fact")
			}
			if obs.started != 1 || obs.finished != 1 {
				t.Errorf("observer run callbacks = %d/%d, want 1/1", obs.started, obs.finished)
			}
			if !equalStrings(obs.actions, tt.want) {
				t.Errorf("observer actions = %v", obs.actions)
			}
			select {
			case <-run.Done():
			default:
				t.Error("Done channel should be closed")
			}
		})
	}
}

func TestExecutor_ActionFailure(t *testing.T) {
	r := NewRegistry()
	r.DeclareGoal("Done")
	r.MustRegister(
		produce("probe", []FactType{"Seed"}, "Reading"),
		NewAction(ActionDescriptor{
			Name: "callOut", Inputs: []FactType{"Reading"}, Outputs: []FactType{"Order"}, CapabilityGroup: "maintenance",
		}, func(ctx context.Context, facts FactReader) (Fact, error) {
			return nil, NewCapabilityError("maintenance", "schedule_maintenance", errBoom)
		}),
		goal("close", []FactType{"Order"}, "Done"),
	)

	e := newTestExecutor(t, r)
	run, _ := NewRun("Done", "EQ-1", []Fact{fact("Seed")})
	err := e.Execute(context.Background(), run)

	if !IsCapabilityError(err) {
		t.Fatalf("expected capability error, got %v", err)
	}
	if run.Status() != RunStatusFailed {
		t.Fatalf("status = %s, want FAILED", run.Status())
	}

	f := run.Failure()
	if f == nil {
		t.Fatal("expected failure details")
	}
	if f.Action != "callOut" {
		t.Errorf("failing action = %s, want callOut", f.Action)
	}
	if f.LastFact != "Reading" {
		t.Errorf("last fact = %s, want Reading", f.LastFact)
	}
	if f.Code != ErrCodeCapability {
		t.Errorf("code = %s, want %s", f.Code, ErrCodeCapability)
	}
	if !equalStrings(run.Trace(), []string{"probe"}) {
		t.Errorf("trace = %v", run.Trace())
	}
}

func TestExecutor_DeadEnd(t *testing.T) {
	e := newTestExecutor(t, diamondRegistry(t, "Calm"))
	run, _ := NewRun("Done", "EQ-1", []Fact{fact("Other")})

	err := e.Execute(context.Background(), run)
	if !IsPlanningDeadEnd(err) {
		t.Fatalf("expected dead end, got %v", err)
	}
	if run.Status() != RunStatusFailed {
		t.Errorf("status = %s, want FAILED", run.Status())
	}
	if run.Failure().Action != "" {
		t.Errorf("dead end should not name an action, got %s", run.Failure().Action)
	}
	if run.Failure().LastFact != "Other" {
		t.Errorf("last fact = %s, want Other", run.Failure().LastFact)
	}
}

func TestExecutor_UndeclaredOutput(t *testing.T) {
	r := NewRegistry()
	r.DeclareGoal("Done")
	r.MustRegister(
		NewAction(ActionDescriptor{Name: "liar", Inputs: []FactType{"Seed"}, Outputs: []FactType{"Reading"}},
			func(ctx context.Context, facts FactReader) (Fact, error) {
				return fact("Something"), nil
			}),
		goal("close", []FactType{"Reading"}, "Done"),
	)

	run, _ := NewRun("Done", "EQ-1", []Fact{fact("Seed")})
	err := newTestExecutor(t, r).Execute(context.Background(), run)
	if !IsMalformedResult(err) {
		t.Fatalf("expected malformed result, got %v", err)
	}
	if run.Failure().Action != "liar" {
		t.Errorf("failing action = %s", run.Failure().Action)
	}
}

func TestExecutor_PanicFailsRun(t *testing.T) {
	r := NewRegistry()
	r.DeclareGoal("Done")
	r.MustRegister(
		NewAction(ActionDescriptor{Name: "explode", Inputs: []FactType{"Seed"}, Outputs: []FactType{"Done"}, Goal: true},
			func(ctx context.Context, facts FactReader) (Fact, error) {
				panic("kaboom")
			}),
	)

	run, _ := NewRun("Done", "EQ-1", []Fact{fact("Seed")})
	err := newTestExecutor(t, r).Execute(context.Background(), run)
	if err == nil {
		t.Fatal("expected error from panicking action")
	}
	if run.Status() != RunStatusFailed {
		t.Errorf("status = %s, want FAILED", run.Status())
	}
}

func TestExecutor_SupersededCooperatively(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})

	r := NewRegistry()
	r.DeclareGoal("Done")
	r.MustRegister(
		NewAction(ActionDescriptor{Name: "slow", Inputs: []FactType{"Seed"}, Outputs: []FactType{"Reading"}, CapabilityGroup: "sensor"},
			func(ctx context.Context, facts FactReader) (Fact, error) {
				close(entered)
				<-release
				return fact("Reading"), nil
			}),
		goal("close", []FactType{"Reading"}, "Done"),
	)

	e := newTestExecutor(t, r)
	run, _ := NewRun("Done", "EQ-1", []Fact{fact("Seed")})

	errCh := make(chan error, 1)
	go func() { errCh <- e.Execute(context.Background(), run) }()

	<-entered
	if !run.Supersede() {
		t.Fatal("Supersede should succeed on an active run")
	}
	close(release)

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("superseded run should not return an error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("executor did not stop")
	}

	if run.Status() != RunStatusSuperseded {
		t.Errorf("status = %s, want SUPERSEDED", run.Status())
	}
	// the in-flight action finished, but nothing further was scheduled
	if !equalStrings(run.Trace(), []string{"slow"}) {
		t.Errorf("trace = %v, want [slow]", run.Trace())
	}
	if run.Facts.Has("Done") {
		t.Error("goal must not be produced after supersession")
	}
	if run.Supersede() {
		t.Error("Supersede must not apply twice")
	}
}

func TestExecutor_MaxSteps(t *testing.T) {
	e := newTestExecutor(t, diamondRegistry(t, "Urgent"), WithMaxSteps(2))
	run, _ := NewRun("Done", "EQ-1", []Fact{fact("Seed")})

	err := e.Execute(context.Background(), run)
	if !IsPlanningDeadEnd(err) {
		t.Fatalf("expected dead end after step limit, got %v", err)
	}
	if len(run.Trace()) != 2 {
		t.Errorf("executed %d steps, want 2", len(run.Trace()))
	}
}

func TestExecutor_ConcurrentRuns(t *testing.T) {
	e := newTestExecutor(t, diamondRegistry(t, "Calm"))

	runs := make([]*Run, 20)
	errs := make(chan error, len(runs))
	for i := range runs {
		run, _ := NewRun("Done", "EQ", []Fact{fact("Seed")})
		runs[i] = run
		go func() { errs <- e.Execute(context.Background(), run) }()
	}
	for range runs {
		if err := <-errs; err != nil {
			t.Errorf("Execute failed: %v", err)
		}
	}
	for _, run := range runs {
		if run.Status() != RunStatusCompleted {
			t.Errorf("run %s status = %s", run.ID, run.Status())
		}
	}
}

func TestRunStatus(t *testing.T) {
	for _, s := range []RunStatus{RunStatusCompleted, RunStatusFailed, RunStatusSuperseded} {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	if RunStatusActive.IsTerminal() {
		t.Error("ACTIVE is not terminal")
	}
	if err := RunStatus("PAUSED").Validate(); err == nil {
		t.Error("expected invalid status error")
	}
}
