package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type testFact struct {
	typ   FactType
	value string
}

func (f testFact) FactType() FactType { return f.typ }

type testVariant struct {
	typ    FactType
	family FactType
}

func (v testVariant) FactType() FactType { return v.typ }
func (v testVariant) Branch() FactType   { return v.family }

func fact(t FactType) Fact { return testFact{typ: t} }

// produce returns an action that emits a plain fact of type out.
func produce(name string, inputs []FactType, out FactType) Action {
	return NewAction(ActionDescriptor{Name: name, Inputs: inputs, Outputs: []FactType{out}},
		func(ctx context.Context, facts FactReader) (Fact, error) {
			return fact(out), nil
		})
}

// branch returns an action that emits the chosen variant of family.
func branch(name string, inputs []FactType, family FactType, variants []FactType, choose func(FactReader) FactType) Action {
	return NewAction(ActionDescriptor{Name: name, Inputs: inputs, Outputs: variants},
		func(ctx context.Context, facts FactReader) (Fact, error) {
			return testVariant{typ: choose(facts), family: family}, nil
		})
}

func goal(name string, inputs []FactType, out FactType) Action {
	a := produce(name, inputs, out)
	d := a.Descriptor()
	d.Goal = true
	return NewAction(d, func(ctx context.Context, facts FactReader) (Fact, error) {
		return fact(out), nil
	})
}

// diamondRegistry:
//
//	Seed -> probe -> Reading -> triage -> (Urgent | Calm)
//	Urgent -> halt -> Halted -> fixAfterHalt -> Fixed
//	Calm   -> fixDirect -> Fixed
//	Fixed  -> close -> Done (goal)
func diamondRegistry(t *testing.T, choice FactType) *Registry {
	t.Helper()
	r := NewRegistry()
	r.DeclareGoal("Done")
	if err := r.DeclareBranch("Triage", "Urgent", "Calm"); err != nil {
		t.Fatalf("DeclareBranch failed: %v", err)
	}
	r.MustRegister(
		produce("probe", []FactType{"Seed"}, "Reading"),
		branch("triage", []FactType{"Reading"}, "Triage", []FactType{"Urgent", "Calm"},
			func(FactReader) FactType { return choice }),
		produce("halt", []FactType{"Urgent"}, "Halted"),
		produce("fixAfterHalt", []FactType{"Reading", "Halted"}, "Fixed"),
		produce("fixDirect", []FactType{"Reading", "Calm"}, "Fixed"),
		goal("close", []FactType{"Fixed"}, "Done"),
	)
	if err := r.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	return r
}

type recordingObserver struct {
	mu       sync.Mutex
	started  int
	finished int
	actions  []string
	errs     []error
}

func (o *recordingObserver) RunStarted(ctx context.Context, run *Run) context.Context {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started++
	return ctx
}

func (o *recordingObserver) ActionStarted(ctx context.Context, run *Run, d ActionDescriptor) context.Context {
	return ctx
}

func (o *recordingObserver) ActionFinished(ctx context.Context, run *Run, d ActionDescriptor, out Fact, err error, elapsed time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.actions = append(o.actions, d.Name)
	if err != nil {
		o.errs = append(o.errs, err)
	}
}

func (o *recordingObserver) RunFinished(ctx context.Context, run *Run) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished++
}

var errBoom = errors.New("boom")

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
