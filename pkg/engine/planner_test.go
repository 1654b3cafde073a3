package engine

import "testing"

func TestPlanner_ShortestChain(t *testing.T) {
	r := diamondRegistry(t, "Calm")
	p := NewPlanner(r)
	facts, _ := NewFactStore(fact("Seed"))

	plan, err := p.Plan("Done", facts)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	want := []string{"probe", "triage", "fixDirect", "close"}
	if !equalStrings(plan.Actions, want) {
		t.Errorf("plan = %v, want %v", plan.Actions, want)
	}
	if plan.Len() != 4 {
		t.Errorf("Len = %d, want 4", plan.Len())
	}
}

func TestPlanner_BranchForeclosure(t *testing.T) {
	r := diamondRegistry(t, "Urgent")
	p := NewPlanner(r)
	facts, _ := NewFactStore(fact("Seed"), fact("Reading"), testVariant{typ: "Urgent", family: "Triage"})

	plan, err := p.Plan("Done", facts)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	want := []string{"halt", "fixAfterHalt", "close"}
	if !equalStrings(plan.Actions, want) {
		t.Errorf("plan = %v, want %v", plan.Actions, want)
	}
}

func TestPlanner_GoalAlreadyPresent(t *testing.T) {
	r := diamondRegistry(t, "Calm")
	facts, _ := NewFactStore(fact("Done"))

	plan, err := NewPlanner(r).Plan("Done", facts)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if !plan.Empty() {
		t.Errorf("expected empty plan, got %v", plan.Actions)
	}

	next, err := NewPlanner(r).Next("Done", facts)
	if err != nil || next != nil {
		t.Errorf("Next = %v, %v; want nil, nil", next, err)
	}
}

func TestPlanner_DeadEnd(t *testing.T) {
	tests := []struct {
		name  string
		facts []Fact
	}{
		{name: "no seed", facts: []Fact{fact("Unrelated")}},
		{
			name: "branch foreclosed path without producer",
			facts: []Fact{
				fact("Reading"),
				testVariant{typ: "Urgent", family: "Triage"},
			},
		},
	}

	r := NewRegistry()
	r.DeclareGoal("Done")
	if err := r.DeclareBranch("Triage", "Urgent", "Calm"); err != nil {
		t.Fatal(err)
	}
	r.MustRegister(
		produce("probe", []FactType{"Seed"}, "Reading"),
		branch("triage", []FactType{"Reading"}, "Triage", []FactType{"Urgent", "Calm"}, nil),
		goal("close", []FactType{"Calm"}, "Done"),
	)
	if err := r.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			facts, err := NewFactStore(tt.facts...)
			if err != nil {
				t.Fatal(err)
			}
			_, err = NewPlanner(r).Plan("Done", facts)
			if !IsPlanningDeadEnd(err) {
				t.Errorf("expected planning dead end, got %v", err)
			}
		})
	}
}

func TestPlanner_FamilyInput(t *testing.T) {
	r := NewRegistry()
	r.DeclareGoal("Proposal")
	if err := r.DeclareBranch("Stock", "InStock", "OutOfStock"); err != nil {
		t.Fatal(err)
	}
	r.MustRegister(
		branch("check", []FactType{"Seed"}, "Stock", []FactType{"InStock", "OutOfStock"}, nil),
		goal("propose", []FactType{"Seed", "Stock"}, "Proposal"),
	)
	if err := r.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	for _, variant := range []FactType{"InStock", "OutOfStock"} {
		facts, _ := NewFactStore(fact("Seed"), testVariant{typ: variant, family: "Stock"})
		plan, err := NewPlanner(r).Plan("Proposal", facts)
		if err != nil {
			t.Fatalf("Plan with %s failed: %v", variant, err)
		}
		if !equalStrings(plan.Actions, []string{"propose"}) {
			t.Errorf("plan with %s = %v, want [propose]", variant, plan.Actions)
		}
	}
}

func TestPlanner_SkipsSatisfiedPrefix(t *testing.T) {
	r := diamondRegistry(t, "Calm")
	facts, _ := NewFactStore(fact("Reading"), testVariant{typ: "Calm", family: "Triage"})

	next, err := NewPlanner(r).Next("Done", facts)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if next.Descriptor().Name != "fixDirect" {
		t.Errorf("next = %s, want fixDirect", next.Descriptor().Name)
	}
}
