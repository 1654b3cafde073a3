package engine

import "context"

// ActionDescriptor is the static metadata of an action. The planner only
// ever reasons about descriptors; Execute is opaque to it.
type ActionDescriptor struct {
	// Name uniquely identifies the action in a registry.
	Name string `json:"name"`

	// Description is a short human-readable summary.
	Description string `json:"description,omitempty"`

	// Inputs are the fact types that must all be present before the action can run.
	// A branch family may be named to accept any of its variants.
	Inputs []FactType `json:"inputs"`

	// Outputs lists the fact types the action may produce. Ordinary actions
	// declare exactly one; branch actions declare every variant of their family.
	Outputs []FactType `json:"outputs"`

	// CapabilityGroup is the external capability group the action calls, or
	// empty for pure-logic actions.
	CapabilityGroup string `json:"capability_group,omitempty"`

	// Goal marks a goal-achieving action.
	Goal bool `json:"goal,omitempty"`
}

// IsBranch reports whether the action resolves a branch.
func (d ActionDescriptor) IsBranch() bool {
	return len(d.Outputs) > 1
}

// IsPure reports whether the action makes no external calls.
func (d ActionDescriptor) IsPure() bool {
	return d.CapabilityGroup == ""
}

// Produces reports whether t is one of the declared outputs.
func (d ActionDescriptor) Produces(t FactType) bool {
	for _, o := range d.Outputs {
		if o == t {
			return true
		}
	}
	return false
}

// Action is a registered step in a remediation chain.
type Action interface {
	Descriptor() ActionDescriptor
	Execute(ctx context.Context, facts FactReader) (Fact, error)
}

// ActionFunc is the body of an action built with NewAction.
type ActionFunc func(ctx context.Context, facts FactReader) (Fact, error)

type funcAction struct {
	desc ActionDescriptor
	fn   ActionFunc
}

// NewAction binds a descriptor to a function body.
func NewAction(desc ActionDescriptor, fn ActionFunc) Action {
	return &funcAction{desc: desc, fn: fn}
}

func (a *funcAction) Descriptor() ActionDescriptor { return a.desc }

func (a *funcAction) Execute(ctx context.Context, facts FactReader) (Fact, error) {
	return a.fn(ctx, facts)
}
