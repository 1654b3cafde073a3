package policy

import (
	"time"
)

// Package is the Rego package every classification policy contributes to.
const Package = "titan.regulation"

// Query is the document a classification reads.
const Query = "data." + Package

// Policy is one Rego module contributing to the regulation document.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description is taken from the leading comment block of the module.
	Description string `json:"description"`

	// Rego contains the module source.
	Rego string `json:"rego"`

	// Enabled indicates if the policy takes part in classification.
	Enabled bool `json:"enabled"`

	// Builtin marks policies shipped with the binary. They survive reloads.
	Builtin bool `json:"builtin"`

	// Source is the file a loaded policy came from.
	Source string `json:"source,omitempty"`

	Tags []string `json:"tags,omitempty"`

	LoadedAt time.Time `json:"loaded_at"`
}

// Input is the document a classification is evaluated against.
type Input struct {
	EquipmentID string `json:"equipment_id"`
	FacilityID  string `json:"facility_id"`
}

// Match is one reason an equipment is regulated.
type Match struct {
	Framework string `json:"framework"`
	Reason    string `json:"reason"`
	Policy    string `json:"policy,omitempty"`
}

// Decision is the evaluated regulation document.
type Decision struct {
	Regulated bool    `json:"regulated"`
	Framework string  `json:"framework,omitempty"`
	Matches   []Match `json:"matches,omitempty"`

	// Policies lists the enabled policies the decision was made with.
	Policies    []string      `json:"policies"`
	Duration    time.Duration `json:"duration"`
	EvaluatedAt time.Time     `json:"evaluated_at"`
}
