package engine

// Plan is the shortest action chain from the current facts to a goal. It is
// recomputed after every action, so only its first step is ever executed
// directly.
type Plan struct {
	Goal    FactType `json:"goal"`
	Actions []string `json:"actions"`

	steps []Action
}

// Empty reports whether the goal is already satisfied.
func (p *Plan) Empty() bool {
	return len(p.steps) == 0
}

// Len returns the number of actions still required.
func (p *Plan) Len() int {
	return len(p.steps)
}

// Planner performs reachability search over the fact/action graph.
type Planner struct {
	registry *Registry
}

// NewPlanner creates a planner over the given registry.
func NewPlanner(registry *Registry) *Planner {
	return &Planner{registry: registry}
}

// Plan finds the shortest chain of actions that produces goal from facts.
//
// The search is a fixed-point relaxation: every fact type gets the cheapest
// known producer whose inputs are themselves present or producible. A branch
// action counts as a producer of all its variants; variants foreclosed by an
// already materialised sibling are excluded, and actions whose output already
// exists are never candidates. Ties keep the earliest registered action.
func (p *Planner) Plan(goal FactType, facts *FactStore) (*Plan, error) {
	if facts.Has(goal) {
		return &Plan{Goal: goal}, nil
	}

	actions := p.registry.Actions()
	producer := make(map[FactType]Action)
	cost := make(map[FactType]int)

	// Each improvement strictly lowers one cost; the bound only guards
	// against a catalogue that slipped past validation.
	limit := (len(actions) + 1) * (len(actions) + 1)
	for changed, rounds := true, 0; changed && rounds < limit; rounds++ {
		changed = false
		for _, a := range actions {
			d := a.Descriptor()
			if p.exhausted(d, facts) {
				continue
			}
			chain, ok := resolve(d.Inputs, facts, producer)
			if !ok || containsAction(chain, d.Name) {
				continue
			}
			c := len(chain) + 1

			for _, out := range d.Outputs {
				family := p.registry.Family(out)
				if facts.foreclosed(out, family) {
					continue
				}
				for _, t := range []FactType{out, family} {
					if t == "" || facts.Has(t) {
						continue
					}
					if old, known := cost[t]; !known || c < old {
						cost[t] = c
						producer[t] = a
						changed = true
					}
				}
			}
		}
	}

	chain, ok := resolve([]FactType{goal}, facts, producer)
	if !ok {
		return nil, NewPlanningDeadEndError(goal, facts.sortedTypes())
	}

	plan := &Plan{Goal: goal, steps: chain, Actions: make([]string, len(chain))}
	for i, a := range chain {
		plan.Actions[i] = a.Descriptor().Name
	}
	return plan, nil
}

// Next returns the action to execute now in pursuit of goal.
func (p *Planner) Next(goal FactType, facts *FactStore) (Action, error) {
	plan, err := p.Plan(goal, facts)
	if err != nil {
		return nil, err
	}
	if plan.Empty() {
		return nil, nil
	}
	return plan.steps[0], nil
}

// exhausted reports whether an action can no longer run because one of its
// outputs, or its branch family, is already present.
func (p *Planner) exhausted(d ActionDescriptor, facts *FactStore) bool {
	for _, out := range d.Outputs {
		if facts.Has(out) {
			return true
		}
		if family := p.registry.Family(out); family != "" && facts.Has(family) {
			return true
		}
	}
	return false
}

// resolve expands targets into an ordered chain using the chosen producers.
// Every action appears after the producers of its inputs.
func resolve(targets []FactType, facts *FactStore, producer map[FactType]Action) ([]Action, bool) {
	var chain []Action
	added := make(map[string]bool)
	visiting := make(map[FactType]bool)

	var visit func(t FactType) bool
	visit = func(t FactType) bool {
		if facts.Has(t) {
			return true
		}
		a, ok := producer[t]
		if !ok || visiting[t] {
			return false
		}
		d := a.Descriptor()
		if added[d.Name] {
			return true
		}

		visiting[t] = true
		defer delete(visiting, t)

		for _, in := range d.Inputs {
			if !visit(in) {
				return false
			}
		}
		if !added[d.Name] {
			added[d.Name] = true
			chain = append(chain, a)
		}
		return true
	}

	for _, t := range targets {
		if !visit(t) {
			return nil, false
		}
	}
	return chain, true
}

func containsAction(chain []Action, name string) bool {
	for _, a := range chain {
		if a.Descriptor().Name == name {
			return true
		}
	}
	return false
}
