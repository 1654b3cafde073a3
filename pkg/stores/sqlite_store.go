package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/titanworks/titan/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db   *sql.DB
	path string
	cfg  Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 8
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 4
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{
		path: cfg.Path,
		cfg:  cfg,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate&_time_format=sqlite", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// BeginTx starts a new transaction
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}

// CommitTx commits a transaction
func (s *SQLiteStore) CommitTx(tx *sql.Tx) error {
	return tx.Commit()
}

// RollbackTx rolls back a transaction
func (s *SQLiteStore) RollbackTx(tx *sql.Tx) error {
	return tx.Rollback()
}

// SaveRun upserts a run together with its step trace and a snapshot of its
// facts. Facts are immutable, so already stored facts are kept as they are.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *engine.Run, eventID string) error {
	trace, err := json.Marshal(run.Trace())
	if err != nil {
		return fmt.Errorf("failed to encode trace: %w", err)
	}
	var failure *string
	if f := run.Failure(); f != nil {
		raw, err := json.Marshal(f)
		if err != nil {
			return fmt.Errorf("failed to encode failure: %w", err)
		}
		str := string(raw)
		failure = &str
	}
	var finishedAt *time.Time
	if t := run.FinishedAt(); !t.IsZero() {
		t = t.UTC()
		finishedAt = &t
	}

	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = s.RollbackTx(tx) }()

	query := `
		INSERT INTO runs (
			id, goal, equipment_id, severity, parent_id, event_id,
			status, trace, failure, created_at, finished_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			trace = excluded.trace,
			failure = excluded.failure,
			finished_at = excluded.finished_at,
			updated_at = excluded.updated_at
	`
	_, err = tx.ExecContext(ctx, query,
		run.ID,
		string(run.Goal),
		run.EquipmentID,
		run.Severity,
		run.ParentID,
		eventID,
		string(run.Status()),
		string(trace),
		failure,
		run.CreatedAt.UTC(),
		finishedAt,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM run_steps WHERE run_id = ?`, run.ID); err != nil {
		return fmt.Errorf("failed to clear run steps: %w", err)
	}
	for i, step := range run.Steps() {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO run_steps (run_id, seq, action, output, started_at, finished_at, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, run.ID, i, step.Action, string(step.Output), step.StartedAt.UTC(), step.FinishedAt.UTC(), step.Duration.Milliseconds())
		if err != nil {
			return fmt.Errorf("failed to save run step: %w", err)
		}
	}

	for i, t := range run.Facts.Types() {
		f, ok := run.Facts.Get(t)
		if !ok {
			continue
		}
		body, err := json.Marshal(f)
		if err != nil {
			return fmt.Errorf("failed to encode fact %s: %w", t, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO run_facts (run_id, seq, fact_type, body) VALUES (?, ?, ?, ?)
		`, run.ID, i, string(t), string(body))
		if err != nil {
			return fmt.Errorf("failed to save fact %s: %w", t, err)
		}
	}

	if err := s.CommitTx(tx); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

const runColumns = `id, goal, equipment_id, severity, parent_id, event_id, status, trace, failure, created_at, finished_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	run := &Run{}
	var trace string
	var failure sql.NullString
	err := row.Scan(
		&run.ID,
		&run.Goal,
		&run.EquipmentID,
		&run.Severity,
		&run.ParentID,
		&run.EventID,
		&run.Status,
		&trace,
		&failure,
		&run.CreatedAt,
		&run.FinishedAt,
		&run.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(trace), &run.Trace); err != nil {
		return nil, fmt.Errorf("failed to decode trace of run %s: %w", run.ID, err)
	}
	if failure.Valid {
		run.Failure = &engine.Failure{}
		if err := json.Unmarshal([]byte(failure.String), run.Failure); err != nil {
			return nil, fmt.Errorf("failed to decode failure of run %s: %w", run.ID, err)
		}
	}
	return run, nil
}

// GetRun retrieves a run with its steps.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = ?`

	run, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT action, output, started_at, finished_at, duration_ms
		FROM run_steps
		WHERE run_id = ?
		ORDER BY seq ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list run steps: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var step engine.StepRecord
		var durationMs int64
		if err := rows.Scan(&step.Action, &step.Output, &step.StartedAt, &step.FinishedAt, &durationMs); err != nil {
			return nil, fmt.Errorf("failed to scan run step: %w", err)
		}
		step.Duration = time.Duration(durationMs) * time.Millisecond
		run.Steps = append(run.Steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run steps: %w", err)
	}

	return run, nil
}

// ListRuns lists runs newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error) {
	if filter.Limit <= 0 {
		filter.Limit = 100
	}
	query := `
		SELECT ` + runColumns + `
		FROM runs
		WHERE (? = '' OR equipment_id = ?)
		  AND (? = '' OR status = ?)
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query,
		filter.EquipmentID, filter.EquipmentID,
		string(filter.Status), string(filter.Status),
		filter.Limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// LoadFacts returns the stored facts of a run in the order they were produced.
func (s *SQLiteStore) LoadFacts(ctx context.Context, runID string) ([]*FactRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, seq, fact_type, body
		FROM run_facts
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load facts: %w", err)
	}
	defer rows.Close()

	facts := []*FactRecord{}
	for rows.Next() {
		f := &FactRecord{}
		if err := rows.Scan(&f.RunID, &f.Seq, &f.FactType, &f.Body); err != nil {
			return nil, fmt.Errorf("failed to scan fact: %w", err)
		}
		facts = append(facts, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating facts: %w", err)
	}
	return facts, nil
}

// CreateRecommendation creates a new recommendation record
func (s *SQLiteStore) CreateRecommendation(ctx context.Context, rec *Recommendation) error {
	query := `
		INSERT INTO recommendations (
			id, run_id, equipment_id, facility_id, risk_level, failure_probability,
			probable_cause, fault_type, urgency, recommended_action, parts,
			estimated_cost, status, created_at, expires_at, notes
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	parts := rec.Parts
	if parts == "" {
		parts = "[]"
	}

	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.RunID,
		rec.EquipmentID,
		rec.FacilityID,
		rec.RiskLevel,
		rec.FailureProbability,
		rec.ProbableCause,
		rec.FaultType,
		rec.Urgency,
		rec.RecommendedAction,
		parts,
		rec.EstimatedCost,
		rec.Status,
		rec.CreatedAt.UTC(),
		rec.ExpiresAt.UTC(),
		rec.Notes,
	)
	if err != nil {
		return fmt.Errorf("failed to create recommendation: %w", err)
	}

	return nil
}

const recommendationColumns = `id, run_id, equipment_id, facility_id, risk_level, failure_probability,
	probable_cause, fault_type, urgency, recommended_action, parts, estimated_cost, status,
	created_at, expires_at, decided_at, decided_by, approval_run_id, work_order_id, notes`

func scanRecommendation(row rowScanner) (*Recommendation, error) {
	rec := &Recommendation{}
	err := row.Scan(
		&rec.ID,
		&rec.RunID,
		&rec.EquipmentID,
		&rec.FacilityID,
		&rec.RiskLevel,
		&rec.FailureProbability,
		&rec.ProbableCause,
		&rec.FaultType,
		&rec.Urgency,
		&rec.RecommendedAction,
		&rec.Parts,
		&rec.EstimatedCost,
		&rec.Status,
		&rec.CreatedAt,
		&rec.ExpiresAt,
		&rec.DecidedAt,
		&rec.DecidedBy,
		&rec.ApprovalRunID,
		&rec.WorkOrderID,
		&rec.Notes,
	)
	return rec, err
}

// GetRecommendation retrieves a recommendation by ID
func (s *SQLiteStore) GetRecommendation(ctx context.Context, id string) (*Recommendation, error) {
	query := `SELECT ` + recommendationColumns + ` FROM recommendations WHERE id = ?`

	rec, err := scanRecommendation(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("recommendation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recommendation: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) queryRecommendations(ctx context.Context, query string, args ...any) ([]*Recommendation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list recommendations: %w", err)
	}
	defer rows.Close()

	recs := []*Recommendation{}
	for rows.Next() {
		rec, err := scanRecommendation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recommendation: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating recommendations: %w", err)
	}
	return recs, nil
}

// ListRecommendations lists recommendations newest first, optionally by status.
func (s *SQLiteStore) ListRecommendations(ctx context.Context, status RecommendationStatus, limit, offset int) ([]*Recommendation, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT ` + recommendationColumns + `
		FROM recommendations
		WHERE (? = '' OR status = ?)
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`
	return s.queryRecommendations(ctx, query, string(status), string(status), limit, offset)
}

// HasPendingRecommendation reports whether equipment already has a proposal
// awaiting a decision.
func (s *SQLiteStore) HasPendingRecommendation(ctx context.Context, equipmentID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM recommendations WHERE equipment_id = ? AND status = ?
	`, equipmentID, RecommendationPending).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to count pending recommendations: %w", err)
	}
	return count > 0, nil
}

// PendingRecommendations lists the pending recommendations of one equipment.
func (s *SQLiteStore) PendingRecommendations(ctx context.Context, equipmentID string) ([]*Recommendation, error) {
	query := `
		SELECT ` + recommendationColumns + `
		FROM recommendations
		WHERE equipment_id = ? AND status = ?
		ORDER BY created_at ASC
	`
	return s.queryRecommendations(ctx, query, equipmentID, RecommendationPending)
}

// TransitionRecommendation moves a recommendation from one status to another.
// The update is conditional on the current status, so concurrent deciders
// cannot both win; the loser gets ErrConflict.
func (s *SQLiteStore) TransitionRecommendation(ctx context.Context, id string, from, to RecommendationStatus, update RecommendationUpdate) error {
	query := `
		UPDATE recommendations
		SET status = ?,
			decided_at = COALESCE(?, decided_at),
			decided_by = CASE WHEN ? = '' THEN decided_by ELSE ? END,
			approval_run_id = CASE WHEN ? = '' THEN approval_run_id ELSE ? END,
			work_order_id = CASE WHEN ? = '' THEN work_order_id ELSE ? END,
			notes = CASE WHEN ? = '' THEN notes ELSE ? END
		WHERE id = ? AND status = ?
	`
	var decidedAt *time.Time
	if update.DecidedAt != nil {
		t := update.DecidedAt.UTC()
		decidedAt = &t
	}

	result, err := s.db.ExecContext(ctx, query,
		to,
		decidedAt,
		update.DecidedBy, update.DecidedBy,
		update.ApprovalRunID, update.ApprovalRunID,
		update.WorkOrderID, update.WorkOrderID,
		update.Notes, update.Notes,
		id, from,
	)
	if err != nil {
		return fmt.Errorf("failed to update recommendation: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 1 {
		return nil
	}

	current, err := s.GetRecommendation(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("recommendation %s is %s, not %s: %w", id, current.Status, from, ErrConflict)
}

// ExpireRecommendations marks pending recommendations past their expiry as
// EXPIRED and returns how many were changed.
func (s *SQLiteStore) ExpireRecommendations(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE recommendations SET status = ?, decided_at = ?
		WHERE status = ? AND expires_at < ?
	`, RecommendationExpired, now.UTC(), RecommendationPending, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to expire recommendations: %w", err)
	}
	return result.RowsAffected()
}

// CreateAutomatedAction records an automatic CRITICAL response.
func (s *SQLiteStore) CreateAutomatedAction(ctx context.Context, action *AutomatedAction) error {
	query := `
		INSERT INTO automated_actions (
			id, run_id, equipment_id, facility_id, action_type, work_order_id,
			parts, compliance_status, notification_sent, summary, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	parts := action.Parts
	if parts == "" {
		parts = "[]"
	}

	_, err := s.db.ExecContext(ctx, query,
		action.ID,
		action.RunID,
		action.EquipmentID,
		action.FacilityID,
		action.ActionType,
		action.WorkOrderID,
		parts,
		action.ComplianceStatus,
		action.NotificationSent,
		action.Summary,
		action.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create automated action: %w", err)
	}
	return nil
}

// ListAutomatedActions lists automated actions newest first, optionally for
// one equipment.
func (s *SQLiteStore) ListAutomatedActions(ctx context.Context, equipmentID string, limit, offset int) ([]*AutomatedAction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, equipment_id, facility_id, action_type, work_order_id,
			   parts, compliance_status, notification_sent, summary, created_at
		FROM automated_actions
		WHERE (? = '' OR equipment_id = ?)
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, equipmentID, equipmentID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list automated actions: %w", err)
	}
	defer rows.Close()

	actions := []*AutomatedAction{}
	for rows.Next() {
		a := &AutomatedAction{}
		err := rows.Scan(
			&a.ID,
			&a.RunID,
			&a.EquipmentID,
			&a.FacilityID,
			&a.ActionType,
			&a.WorkOrderID,
			&a.Parts,
			&a.ComplianceStatus,
			&a.NotificationSent,
			&a.Summary,
			&a.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan automated action: %w", err)
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating automated actions: %w", err)
	}
	return actions, nil
}

// MarkEventProcessed records an inbound event id. It returns false when the
// id was already recorded, i.e. the event is a redelivery.
func (s *SQLiteStore) MarkEventProcessed(ctx context.Context, eventID, equipmentID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO processed_events (event_id, equipment_id, processed_at)
		VALUES (?, ?, ?)
	`, eventID, equipmentID, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to record processed event: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows == 1, nil
}

// CreateAuditEntry creates a new audit log entry
func (s *SQLiteStore) CreateAuditEntry(ctx context.Context, entry *AuditEntry) error {
	query := `
		INSERT INTO audit (action, actor, target_id, details, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		entry.Action,
		entry.Actor,
		entry.TargetID,
		entry.Details,
		entry.Timestamp.UTC(),
	)

	if err != nil {
		return fmt.Errorf("failed to create audit entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get audit entry ID: %w", err)
	}

	entry.ID = id
	return nil
}

// ListAuditEntries lists audit entries with optional filters and pagination
func (s *SQLiteStore) ListAuditEntries(ctx context.Context, action *string, actor *string, limit, offset int) ([]*AuditEntry, error) {
	query := `
		SELECT id, action, actor, target_id, details, timestamp
		FROM audit
		WHERE (? IS NULL OR action = ?)
		  AND (? IS NULL OR actor = ?)
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, action, action, actor, actor, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	entries := []*AuditEntry{}
	for rows.Next() {
		entry := &AuditEntry{}
		err := rows.Scan(
			&entry.ID,
			&entry.Action,
			&entry.Actor,
			&entry.TargetID,
			&entry.Details,
			&entry.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}

	return entries, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}
