package stores

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/titanworks/titan/pkg/engine"
)

var (
	// ErrNotFound is wrapped by lookups of missing records.
	ErrNotFound = errors.New("not found")

	// ErrConflict is wrapped when a conditional update finds the record in
	// another state.
	ErrConflict = errors.New("conflicting state")
)

// RecommendationStatus is the lifecycle state of a HIGH recommendation.
type RecommendationStatus string

const (
	RecommendationPending    RecommendationStatus = "PENDING"
	RecommendationApproved   RecommendationStatus = "APPROVED"
	RecommendationCompleted  RecommendationStatus = "COMPLETED"
	RecommendationDismissed  RecommendationStatus = "DISMISSED"
	RecommendationSuperseded RecommendationStatus = "SUPERSEDED"
	RecommendationExpired    RecommendationStatus = "EXPIRED"
	RecommendationFailed     RecommendationStatus = "FAILED"
)

// Run is the persisted form of an engine run.
type Run struct {
	ID          string              `json:"id"`
	Goal        string              `json:"goal"`
	EquipmentID string              `json:"equipment_id"`
	Severity    string              `json:"severity"`
	ParentID    string              `json:"parent_id,omitempty"`
	EventID     string              `json:"event_id,omitempty"`
	Status      engine.RunStatus    `json:"status"`
	Trace       []string            `json:"trace"`
	Failure     *engine.Failure     `json:"failure,omitempty"`
	Steps       []engine.StepRecord `json:"steps,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	FinishedAt  *time.Time          `json:"finished_at,omitempty"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// FactRecord is one serialized fact of a run, in insertion order.
type FactRecord struct {
	RunID    string `json:"run_id"`
	Seq      int    `json:"seq"`
	FactType string `json:"fact_type"`
	Body     string `json:"body"` // JSON blob
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	EquipmentID string
	Status      engine.RunStatus
	Limit       int
	Offset      int
}

// Recommendation is a HIGH-severity proposal awaiting a human decision.
type Recommendation struct {
	ID                 string               `json:"id"`
	RunID              string               `json:"run_id"`
	EquipmentID        string               `json:"equipment_id"`
	FacilityID         string               `json:"facility_id"`
	RiskLevel          string               `json:"risk_level"`
	FailureProbability float64              `json:"failure_probability"`
	ProbableCause      string               `json:"probable_cause"`
	FaultType          string               `json:"fault_type"`
	Urgency            string               `json:"urgency"`
	RecommendedAction  string               `json:"recommended_action"`
	Parts              string               `json:"parts"` // JSON blob
	EstimatedCost      float64              `json:"estimated_cost"`
	Status             RecommendationStatus `json:"status"`
	CreatedAt          time.Time            `json:"created_at"`
	ExpiresAt          time.Time            `json:"expires_at"`
	DecidedAt          *time.Time           `json:"decided_at,omitempty"`
	DecidedBy          string               `json:"decided_by,omitempty"`
	ApprovalRunID      string               `json:"approval_run_id,omitempty"`
	WorkOrderID        string               `json:"work_order_id,omitempty"`
	Notes              string               `json:"notes,omitempty"`
}

// Expired reports whether the recommendation can no longer be approved.
func (r *Recommendation) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

// RecommendationUpdate carries the fields set by a status transition. Empty
// fields are left unchanged.
type RecommendationUpdate struct {
	DecidedBy     string
	DecidedAt     *time.Time
	ApprovalRunID string
	WorkOrderID   string
	Notes         string
}

// AutomatedAction records the outcome of an automatic CRITICAL response.
type AutomatedAction struct {
	ID               string    `json:"id"`
	RunID            string    `json:"run_id"`
	EquipmentID      string    `json:"equipment_id"`
	FacilityID       string    `json:"facility_id"`
	ActionType       string    `json:"action_type"`
	WorkOrderID      string    `json:"work_order_id"`
	Parts            string    `json:"parts"` // JSON blob
	ComplianceStatus string    `json:"compliance_status,omitempty"`
	NotificationSent bool      `json:"notification_sent"`
	Summary          string    `json:"summary"`
	CreatedAt        time.Time `json:"created_at"`
}

// AuditEntry represents an audit log entry
type AuditEntry struct {
	ID        int64     `json:"id"`
	Action    string    `json:"action"`
	Actor     string    `json:"actor"`
	TargetID  *string   `json:"target_id,omitempty"`
	Details   *string   `json:"details,omitempty"` // JSON blob
	Timestamp time.Time `json:"timestamp"`
}

// Store defines the interface for persistence operations
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Runs
	SaveRun(ctx context.Context, run *engine.Run, eventID string) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error)
	LoadFacts(ctx context.Context, runID string) ([]*FactRecord, error)

	// Recommendations
	CreateRecommendation(ctx context.Context, rec *Recommendation) error
	GetRecommendation(ctx context.Context, id string) (*Recommendation, error)
	ListRecommendations(ctx context.Context, status RecommendationStatus, limit, offset int) ([]*Recommendation, error)
	HasPendingRecommendation(ctx context.Context, equipmentID string) (bool, error)
	PendingRecommendations(ctx context.Context, equipmentID string) ([]*Recommendation, error)
	TransitionRecommendation(ctx context.Context, id string, from, to RecommendationStatus, update RecommendationUpdate) error
	ExpireRecommendations(ctx context.Context, now time.Time) (int64, error)

	// Automated actions
	CreateAutomatedAction(ctx context.Context, action *AutomatedAction) error
	ListAutomatedActions(ctx context.Context, equipmentID string, limit, offset int) ([]*AutomatedAction, error)

	// Redelivery guard
	MarkEventProcessed(ctx context.Context, eventID, equipmentID string) (bool, error)

	// Audit
	CreateAuditEntry(ctx context.Context, entry *AuditEntry) error
	ListAuditEntries(ctx context.Context, action *string, actor *string, limit, offset int) ([]*AuditEntry, error)

	// Transactions
	BeginTx(ctx context.Context) (*sql.Tx, error)
	CommitTx(tx *sql.Tx) error
	RollbackTx(tx *sql.Tx) error

	// Health
	HealthCheck(ctx context.Context) error
}
