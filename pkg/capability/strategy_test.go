package capability

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/titanworks/titan/pkg/engine"
)

func partsIntent() Intent {
	return Intent{
		Name:  "assessParts",
		Group: GroupInventory,
		Facts: map[string]any{"equipmentId": "X-001", "facilityId": "DET"},
		Calls: []Call{
			{Operation: OpGetCompatibleParts, Args: map[string]any{"equipmentId": "X-001", "faultType": "BEARING"}},
			{Operation: OpCheckStock, Args: map[string]any{"sku": "BRG-6205"}},
		},
		Required: []string{OpGetCompatibleParts},
	}
}

func TestPerformer_Deterministic(t *testing.T) {
	plant := NewPlant(nil)
	p := NewPerformer(plant, nil, nil)

	out, err := p.Perform(context.Background(), partsIntent())
	if err != nil {
		t.Fatalf("Perform failed: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("results = %d, want 2", len(out))
	}

	res, ok := out.First(OpCheckStock)
	if !ok {
		t.Fatal("missing check_stock result")
	}
	var level StockLevel
	if err := res.Decode(&level); err != nil {
		t.Fatal(err)
	}
	if level.At("DET") != 10 {
		t.Errorf("DET stock = %d, want 10", level.At("DET"))
	}
	if len(out.All(OpReserveParts)) != 0 {
		t.Error("unexpected reserve_parts result")
	}
}

type fixedStrategy []Call

func (s fixedStrategy) Select(context.Context, Intent) ([]Call, error) { return s, nil }

func TestPerformer_Contract(t *testing.T) {
	tests := []struct {
		name     string
		strategy Strategy
		check    func(error) bool
	}{
		{
			name:     "disallowed operation",
			strategy: fixedStrategy{{Operation: OpGetCompatibleParts}, {Operation: OpCreateShipment}},
			check:    engine.IsPermanent,
		},
		{
			name:     "required operation dropped",
			strategy: fixedStrategy{{Operation: OpCheckStock, Args: map[string]any{"sku": "BRG-6205"}}},
			check:    engine.IsMalformedResult,
		},
		{
			name: "too many calls",
			strategy: func() fixedStrategy {
				var calls fixedStrategy
				for i := 0; i <= DefaultMaxCalls; i++ {
					calls = append(calls, Call{Operation: OpGetCompatibleParts})
				}
				return calls
			}(),
			check: engine.IsMalformedResult,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plant := NewPlant(nil)
			p := NewPerformer(plant, tt.strategy, nil)
			_, err := p.Perform(context.Background(), partsIntent())
			if err == nil || !tt.check(err) {
				t.Fatalf("unexpected error: %v", err)
			}
			if n := len(plant.Calls()); n != 0 {
				t.Errorf("plant received %d calls, want 0 on contract violation", n)
			}
		})
	}
}

func TestPerformer_StopsAtFirstFailure(t *testing.T) {
	plant := NewPlant(nil)
	plant.FailOn(GroupInventory, OpGetCompatibleParts, "catalogue offline")
	p := NewPerformer(plant, nil, nil)

	out, err := p.Perform(context.Background(), partsIntent())
	if !engine.IsCapabilityError(err) {
		t.Fatalf("error = %v, want capability error", err)
	}
	if len(out) != 0 {
		t.Errorf("outcome = %d results, want 0", len(out))
	}
	if plant.CallCount(OpCheckStock) != 0 {
		t.Error("check_stock should not run after a failed call")
	}
}

func TestScriptStrategy(t *testing.T) {
	src := `
def select(intent, calls, facts):
    out = []
    for c in calls:
        out.append(c)
    if intent.name == "assessParts":
        out.append({"operation": "find_alternatives", "args": {"sku": "BRG-6205"}})
    return out
`
	s := NewScriptStrategy("strategy.star", src, time.Second)
	calls, err := s.Select(context.Background(), partsIntent())
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if len(calls) != 3 {
		t.Fatalf("calls = %d, want 3", len(calls))
	}
	if calls[2].Operation != OpFindAlternatives || calls[2].Args["sku"] != "BRG-6205" {
		t.Errorf("added call = %+v", calls[2])
	}

	p := NewPerformer(NewPlant(nil), s, nil)
	out, err := p.Perform(context.Background(), partsIntent())
	if err != nil {
		t.Fatalf("Perform failed: %v", err)
	}
	if _, ok := out.First(OpFindAlternatives); !ok {
		t.Error("missing find_alternatives result")
	}
}

func TestScriptStrategy_Bounded(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{
			name: "missing select",
			src:  "x = 1\n",
			want: "must define select",
		},
		{
			name: "runaway loop",
			src: `
def select(intent, calls, facts):
    n = 0
    for i in range(100000000):
        n += i
    return calls
`,
			want: "",
		},
		{
			name: "wrong shape",
			src: `
def select(intent, calls, facts):
    return "everything"
`,
			want: "list",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewScriptStrategy("strategy.star", tt.src, time.Second)
			_, err := s.Select(context.Background(), partsIntent())
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.want != "" && !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}
