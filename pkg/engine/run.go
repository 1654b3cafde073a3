package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RunStatus represents the lifecycle state of a run.
type RunStatus string

const (
	// RunStatusActive indicates the run is still planning or executing.
	RunStatusActive RunStatus = "ACTIVE"

	// RunStatusCompleted indicates a goal fact was produced.
	RunStatusCompleted RunStatus = "COMPLETED"

	// RunStatusFailed indicates an action failed or no action could progress.
	RunStatusFailed RunStatus = "FAILED"

	// RunStatusSuperseded indicates a higher-severity event took over the equipment.
	RunStatusSuperseded RunStatus = "SUPERSEDED"
)

// IsTerminal returns true if the run status represents a final state.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusSuperseded
}

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusActive, RunStatusCompleted, RunStatusFailed, RunStatusSuperseded:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// StepRecord records one executed action.
type StepRecord struct {
	Action     string        `json:"action"`
	Output     FactType      `json:"output"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`
}

// Failure describes how far a failed run got.
type Failure struct {
	// Action is the failing action, empty for planning dead ends.
	Action string `json:"action,omitempty"`

	// Code is the engine error code.
	Code string `json:"code"`

	// Reason is the error message.
	Reason string `json:"reason"`

	// LastFact is the type of the last successfully produced fact.
	LastFact FactType `json:"last_fact,omitempty"`

	// Facts lists every fact type present when the run failed.
	Facts []FactType `json:"facts,omitempty"`
}

// Run is one execution of the planner for one triggering event.
type Run struct {
	ID          string
	Goal        FactType
	EquipmentID string
	Severity    string
	ParentID    string
	Facts       *FactStore
	CreatedAt   time.Time

	mu         sync.Mutex
	status     RunStatus
	steps      []StepRecord
	failure    *Failure
	finishedAt time.Time
	done       chan struct{}
	doneOnce   sync.Once
}

// RunOption customises a new run.
type RunOption func(*Run)

// WithRunID overrides the generated run id.
func WithRunID(id string) RunOption {
	return func(r *Run) { r.ID = id }
}

// WithSeverity records the triggering severity.
func WithSeverity(severity string) RunOption {
	return func(r *Run) { r.Severity = severity }
}

// WithParent links a run to the run it was re-entered from.
func WithParent(parentID string) RunOption {
	return func(r *Run) { r.ParentID = parentID }
}

// NewRun creates an ACTIVE run whose fact store is seeded with seed.
func NewRun(goal FactType, equipmentID string, seed []Fact, opts ...RunOption) (*Run, error) {
	facts, err := NewFactStore(seed...)
	if err != nil {
		return nil, err
	}
	r := &Run{
		ID:          uuid.New().String(),
		Goal:        goal,
		EquipmentID: equipmentID,
		Facts:       facts,
		CreatedAt:   time.Now().UTC(),
		status:      RunStatusActive,
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Status returns the current status.
func (r *Run) Status() RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Supersede marks an ACTIVE run as SUPERSEDED. The executor notices at its
// next planner iteration; an in-flight action is allowed to finish.
func (r *Run) Supersede() bool {
	return r.transition(RunStatusSuperseded, nil)
}

func (r *Run) transition(to RunStatus, failure *Failure) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != RunStatusActive {
		return false
	}
	r.status = to
	r.failure = failure
	r.finishedAt = time.Now().UTC()
	return true
}

func (r *Run) record(step StepRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, step)
}

func (r *Run) finish() {
	r.doneOnce.Do(func() { close(r.done) })
}

// Done is closed when the executor has stopped working on the run.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Steps returns a copy of the executed steps.
func (r *Run) Steps() []StepRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]StepRecord(nil), r.steps...)
}

// Trace returns the executed action names in order.
func (r *Run) Trace() []string {
	steps := r.Steps()
	out := make([]string, len(steps))
	for i, s := range steps {
		out[i] = s.Action
	}
	return out
}

// Failure returns failure details for FAILED runs.
func (r *Run) Failure() *Failure {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failure
}

// FinishedAt returns when the run left ACTIVE, or the zero time.
func (r *Run) FinishedAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finishedAt
}

// Result returns the goal fact once the run has completed.
func (r *Run) Result() (Fact, bool) {
	return r.Facts.Get(r.Goal)
}
