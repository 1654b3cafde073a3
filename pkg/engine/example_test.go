package engine_test

import (
	"context"
	"fmt"

	"github.com/titanworks/titan/pkg/engine"
)

type note struct{ kind engine.FactType }

func (n note) FactType() engine.FactType { return n.kind }

func emit(kind engine.FactType) engine.ActionFunc {
	return func(ctx context.Context, facts engine.FactReader) (engine.Fact, error) {
		return note{kind: kind}, nil
	}
}

// Example_run demonstrates registering a small catalogue and driving a run
// from a seed fact to its goal.
func Example_run() {
	registry := engine.NewRegistry()
	registry.DeclareGoal("Report")
	registry.MustRegister(
		engine.NewAction(engine.ActionDescriptor{
			Name:    "inspect",
			Inputs:  []engine.FactType{"Alarm"},
			Outputs: []engine.FactType{"Finding"},
		}, emit("Finding")),
		engine.NewAction(engine.ActionDescriptor{
			Name:    "summarise",
			Inputs:  []engine.FactType{"Alarm", "Finding"},
			Outputs: []engine.FactType{"Report"},
			Goal:    true,
		}, emit("Report")),
	)

	executor, err := engine.NewExecutor(registry)
	if err != nil {
		fmt.Println("invalid catalogue:", err)
		return
	}

	run, _ := engine.NewRun("Report", "PRESS-7", []engine.Fact{note{kind: "Alarm"}})
	if err := executor.Execute(context.Background(), run); err != nil {
		fmt.Println("run failed:", err)
		return
	}

	fmt.Println(run.Status())
	fmt.Println(run.Trace())
	// Output:
	// COMPLETED
	// [inspect summarise]
}
