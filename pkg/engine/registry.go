package engine

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry is the fixed catalogue of actions, goal types and branch families.
// It is populated at startup, validated once, and read-only afterwards.
type Registry struct {
	mu       sync.RWMutex
	actions  []Action
	byName   map[string]Action
	goals    map[FactType]bool
	families map[FactType]FactType // variant -> family
	variants map[FactType][]FactType
	valid    bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName:   make(map[string]Action),
		goals:    make(map[FactType]bool),
		families: make(map[FactType]FactType),
		variants: make(map[FactType][]FactType),
	}
}

// DeclareGoal marks t as a goal type.
func (r *Registry) DeclareGoal(t FactType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.goals[t] = true
	r.valid = false
}

// DeclareBranch registers a sealed family and its variants.
func (r *Registry) DeclareBranch(family FactType, variants ...FactType) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if family == "" || len(variants) < 2 {
		return NewPermanentError("branch needs a family and at least two variants", nil).
			WithCode(ErrCodeCatalogueInvalid).
			WithDetail("family", string(family))
	}
	if _, exists := r.variants[family]; exists {
		return NewPermanentError(fmt.Sprintf("branch %s declared twice", family), nil).
			WithCode(ErrCodeCatalogueInvalid)
	}
	for _, v := range variants {
		if other, taken := r.families[v]; taken {
			return NewPermanentError(
				fmt.Sprintf("variant %s already belongs to branch %s", v, other), nil).
				WithCode(ErrCodeCatalogueInvalid)
		}
		r.families[v] = family
	}
	r.variants[family] = append([]FactType(nil), variants...)
	r.valid = false
	return nil
}

// Register adds an action to the catalogue.
func (r *Registry) Register(a Action) error {
	d := a.Descriptor()
	if d.Name == "" {
		return NewPermanentError("action has empty name", nil).WithCode(ErrCodeCatalogueInvalid)
	}
	if len(d.Inputs) == 0 || len(d.Outputs) == 0 {
		return NewPermanentError("action must declare inputs and outputs", nil).
			WithCode(ErrCodeCatalogueInvalid).
			WithAction(d.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[d.Name]; exists {
		return NewPermanentError(fmt.Sprintf("duplicate action name: %s", d.Name), nil).
			WithCode(ErrCodeCatalogueInvalid).
			WithAction(d.Name)
	}
	r.actions = append(r.actions, a)
	r.byName[d.Name] = a
	r.valid = false
	return nil
}

// MustRegister is Register for static catalogues; it panics on error.
func (r *Registry) MustRegister(actions ...Action) {
	for _, a := range actions {
		if err := r.Register(a); err != nil {
			panic(err)
		}
	}
}

// Validate checks the catalogue before any event is processed:
//   - no two actions share the same (inputs -> output) edge
//   - branch actions only yield variants of a single declared family
//   - goal actions produce declared goal types, and every goal has a producer
//   - the action graph is acyclic
func (r *Registry) Validate() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	edges := make(map[string]string)
	producedGoals := make(map[FactType]bool)

	for _, a := range r.actions {
		d := a.Descriptor()
		sig := signature(d.Inputs)

		for _, out := range d.Outputs {
			key := sig + "->" + string(out)
			if prev, exists := edges[key]; exists {
				return NewAmbiguousActionError(prev, d.Name, d.Inputs, out)
			}
			edges[key] = d.Name
		}

		if d.IsBranch() {
			family := r.families[d.Outputs[0]]
			if family == "" {
				return NewPermanentError("branch action yields undeclared variants", nil).
					WithCode(ErrCodeCatalogueInvalid).
					WithAction(d.Name)
			}
			for _, out := range d.Outputs[1:] {
				if r.families[out] != family {
					return NewPermanentError("branch action yields variants of different families", nil).
						WithCode(ErrCodeCatalogueInvalid).
						WithAction(d.Name)
				}
			}
		}

		if d.Goal {
			for _, out := range d.Outputs {
				if !r.goals[out] {
					return NewPermanentError(fmt.Sprintf("goal action produces non-goal type %s", out), nil).
						WithCode(ErrCodeCatalogueInvalid).
						WithAction(d.Name)
				}
				producedGoals[out] = true
			}
		}
	}

	for goal := range r.goals {
		if !producedGoals[goal] {
			return NewPermanentError(fmt.Sprintf("goal %s has no goal action", goal), nil).
				WithCode(ErrCodeCatalogueInvalid)
		}
	}

	if _, err := buildActionGraph(r.actions, r.families); err != nil {
		return err
	}

	r.valid = true
	return nil
}

// Validated reports whether Validate has succeeded since the last change.
func (r *Registry) Validated() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.valid
}

// Actions returns the registered actions in registration order.
func (r *Registry) Actions() []Action {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Action(nil), r.actions...)
}

// Action returns the action with the given name.
func (r *Registry) Action(name string) (Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byName[name]
	return a, ok
}

// IsGoal reports whether t is a declared goal type.
func (r *Registry) IsGoal(t FactType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.goals[t]
}

// Goals returns the declared goal types, sorted.
func (r *Registry) Goals() []FactType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]FactType, 0, len(r.goals))
	for g := range r.goals {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Family returns the branch family of variant t, or empty.
func (r *Registry) Family(t FactType) FactType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.families[t]
}

// Graph builds the action graph for inspection and rendering.
func (r *Registry) Graph() (*ActionGraph, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return buildActionGraph(r.actions, r.families)
}

func signature(inputs []FactType) string {
	names := make([]string, len(inputs))
	for i, t := range inputs {
		names[i] = string(t)
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}
