package engine

import (
	"strings"
	"testing"
)

func TestRegistry_Validate(t *testing.T) {
	tests := []struct {
		name     string
		build    func(r *Registry)
		wantErr  bool
		wantCode string
	}{
		{
			name: "converging actions with distinct inputs",
			build: func(r *Registry) {
				r.DeclareGoal("Done")
				r.MustRegister(
					produce("fromA", []FactType{"A"}, "X"),
					produce("fromB", []FactType{"B"}, "X"),
					goal("finish", []FactType{"X"}, "Done"),
				)
			},
		},
		{
			name: "same inputs same output is ambiguous",
			build: func(r *Registry) {
				r.DeclareGoal("Done")
				r.MustRegister(
					produce("first", []FactType{"A", "B"}, "X"),
					produce("second", []FactType{"B", "A"}, "X"),
					goal("finish", []FactType{"X"}, "Done"),
				)
			},
			wantErr:  true,
			wantCode: ErrCodeAmbiguousAction,
		},
		{
			name: "branch with undeclared variants",
			build: func(r *Registry) {
				r.DeclareGoal("Done")
				r.MustRegister(
					branch("split", []FactType{"A"}, "Fork", []FactType{"L", "R"}, nil),
					goal("finish", []FactType{"L"}, "Done"),
				)
			},
			wantErr:  true,
			wantCode: ErrCodeCatalogueInvalid,
		},
		{
			name: "goal without goal action",
			build: func(r *Registry) {
				r.DeclareGoal("Done")
				r.MustRegister(produce("almost", []FactType{"A"}, "Done"))
			},
			wantErr:  true,
			wantCode: ErrCodeCatalogueInvalid,
		},
		{
			name: "goal action producing non-goal",
			build: func(r *Registry) {
				r.MustRegister(goal("finish", []FactType{"A"}, "X"))
			},
			wantErr:  true,
			wantCode: ErrCodeCatalogueInvalid,
		},
		{
			name: "cycle between actions",
			build: func(r *Registry) {
				r.DeclareGoal("Done")
				r.MustRegister(
					produce("ping", []FactType{"B"}, "A"),
					produce("pong", []FactType{"A"}, "B"),
					goal("finish", []FactType{"A"}, "Done"),
				)
			},
			wantErr:  true,
			wantCode: ErrCodeCatalogueInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			tt.build(r)
			err := r.Validate()

			if tt.wantErr {
				if err == nil {
					t.Fatal("expected validation error")
				}
				if ErrorCode(err) != tt.wantCode {
					t.Errorf("code = %s, want %s (%v)", ErrorCode(err), tt.wantCode, err)
				}
				if r.Validated() {
					t.Error("registry must not be marked valid")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !r.Validated() {
				t.Error("registry should be marked valid")
			}
		})
	}
}

func TestRegistry_AmbiguityNamesBothActions(t *testing.T) {
	r := NewRegistry()
	r.DeclareGoal("Done")
	r.MustRegister(
		produce("diagnoseLeft", []FactType{"Event"}, "Diagnosis"),
		produce("diagnoseRight", []FactType{"Event"}, "Diagnosis"),
		goal("finish", []FactType{"Diagnosis"}, "Done"),
	)

	err := r.Validate()
	if !IsAmbiguousAction(err) {
		t.Fatalf("expected ambiguous action error, got %v", err)
	}
	if !strings.Contains(err.Error(), "diagnoseLeft") || !strings.Contains(err.Error(), "diagnoseRight") {
		t.Errorf("error should name both actions: %v", err)
	}
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()

	if err := r.Register(produce("", []FactType{"A"}, "B")); err == nil {
		t.Error("expected error for empty name")
	}
	if err := r.Register(produce("noInputs", nil, "B")); err == nil {
		t.Error("expected error for action without inputs")
	}
	if err := r.Register(produce("once", []FactType{"A"}, "B")); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := r.Register(produce("once", []FactType{"C"}, "D")); err == nil {
		t.Error("expected error for duplicate name")
	}

	if _, ok := r.Action("once"); !ok {
		t.Error("registered action not found")
	}
	if len(r.Actions()) != 1 {
		t.Errorf("Actions len = %d, want 1", len(r.Actions()))
	}
}

func TestRegistry_DeclareBranch(t *testing.T) {
	r := NewRegistry()
	if err := r.DeclareBranch("Fork", "L"); err == nil {
		t.Error("expected error for single-variant branch")
	}
	if err := r.DeclareBranch("Fork", "L", "R"); err != nil {
		t.Fatalf("DeclareBranch failed: %v", err)
	}
	if err := r.DeclareBranch("Other", "L", "M"); err == nil {
		t.Error("expected error for variant reused across families")
	}
	if r.Family("R") != "Fork" {
		t.Errorf("Family(R) = %s, want Fork", r.Family("R"))
	}
}

func TestActionGraph(t *testing.T) {
	r := diamondRegistry(t, "Calm")
	g, err := r.Graph()
	if err != nil {
		t.Fatalf("Graph failed: %v", err)
	}

	if g.Len() != 6 {
		t.Errorf("graph has %d nodes, want 6", g.Len())
	}

	levels := g.Levels()
	if len(levels) == 0 || levels[0][0] != "probe" {
		t.Errorf("first level = %v, want [probe]", levels)
	}

	closeNode, ok := g.Node("close")
	if !ok {
		t.Fatal("close node missing")
	}
	if !closeNode.Goal {
		t.Error("close should be a goal node")
	}
	if !equalStrings(closeNode.DependsOn, []string{"fixAfterHalt", "fixDirect"}) {
		t.Errorf("close depends on %v", closeNode.DependsOn)
	}

	triage, _ := g.Node("triage")
	if !triage.Branch {
		t.Error("triage should be a branch node")
	}
	// fixAfterHalt consumes Reading too, so probe feeds it directly.
	probe, _ := g.Node("probe")
	if !equalStrings(probe.Feeds, []string{"fixAfterHalt", "fixDirect", "triage"}) {
		t.Errorf("probe feeds %v", probe.Feeds)
	}

	dot := g.ToDOT()
	for _, want := range []string{"digraph ActionCatalogue", "\"triage\" -> \"halt\"", "lightgreen"} {
		if !strings.Contains(dot, want) {
			t.Errorf("DOT output missing %q", want)
		}
	}
}
