package ingress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/titanworks/titan/pkg/capability"
	"github.com/titanworks/titan/pkg/engine"
	"github.com/titanworks/titan/pkg/remediation"
	"github.com/titanworks/titan/pkg/stores"
	"github.com/titanworks/titan/pkg/telemetry"
)

// SupersedeNote is recorded on recommendations overtaken by a CRITICAL event.
const SupersedeNote = "Superseded by CRITICAL alert - auto-response triggered"

// Automated action types.
const (
	ActionTypeEmergencyResponse = "EMERGENCY_RESPONSE"
	ActionTypeApprovedResponse  = "APPROVED_RECOMMENDATION"
)

// Store is the persistence the ingress service needs.
type Store interface {
	SaveRun(ctx context.Context, run *engine.Run, eventID string) error
	LoadFacts(ctx context.Context, runID string) ([]*stores.FactRecord, error)
	MarkEventProcessed(ctx context.Context, eventID, equipmentID string) (bool, error)
	CreateRecommendation(ctx context.Context, rec *stores.Recommendation) error
	GetRecommendation(ctx context.Context, id string) (*stores.Recommendation, error)
	HasPendingRecommendation(ctx context.Context, equipmentID string) (bool, error)
	PendingRecommendations(ctx context.Context, equipmentID string) ([]*stores.Recommendation, error)
	TransitionRecommendation(ctx context.Context, id string, from, to stores.RecommendationStatus, update stores.RecommendationUpdate) error
	ExpireRecommendations(ctx context.Context, now time.Time) (int64, error)
	CreateAutomatedAction(ctx context.Context, action *stores.AutomatedAction) error
}

// Config holds ingress settings.
type Config struct {
	// ValidityWindow is how long a completed run keeps discarding repeats
	// of its (equipment, severity) key. Zero keeps them until recovery.
	ValidityWindow time.Duration

	// RecommendationTTL is how long a HIGH recommendation can be approved.
	RecommendationTTL time.Duration

	LabourHours float64
	LabourRate  float64

	// SweepInterval paces expiry of recommendations and index entries.
	SweepInterval time.Duration
}

// DefaultConfig returns the standard ingress settings.
func DefaultConfig() Config {
	return Config{
		ValidityWindow:    time.Hour,
		RecommendationTTL: 48 * time.Hour,
		LabourHours:       remediation.DefaultLabourHours,
		LabourRate:        remediation.DefaultLabourRate,
		SweepInterval:     time.Minute,
	}
}

// Receipt tells the caller what happened to a submitted event.
type Receipt struct {
	Decision        Decision `json:"decision"`
	EventID         string   `json:"eventId"`
	RunID           string   `json:"runId,omitempty"`
	SupersededRunID string   `json:"supersededRunId,omitempty"`
}

// ApprovalResult is the outcome of an approved recommendation's run.
type ApprovalResult struct {
	RecommendationID string                               `json:"recommendationId"`
	RunID            string                               `json:"runId"`
	Status           engine.RunStatus                     `json:"status"`
	Trace            []string                             `json:"trace"`
	WorkOrderID      string                               `json:"workOrderId,omitempty"`
	Response         *remediation.CriticalAnomalyResponse `json:"response,omitempty"`
	Failure          *engine.Failure                      `json:"failure,omitempty"`
}

// job is one run owned by the service.
type job struct {
	run   *engine.Run
	event remediation.AnomalyEvent

	// after is a superseded job that must finish first.
	after *job

	// recommendationID is set for approval runs.
	recommendationID string
	approver         string

	// Set by the run goroutine before done is closed.
	response *remediation.CriticalAnomalyResponse

	done chan struct{}
}

// Option customises a Service.
type Option func(*Service)

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service is the anomaly event ingress. It deduplicates and escalates
// events, spawns one run per accepted event and handles what happens after
// a run: automated action records, notifications, recommendations,
// approvals and compensation.
type Service struct {
	cfg      Config
	executor *engine.Executor
	client   capability.Client
	store    Store
	tel      *telemetry.Telemetry
	logger   *telemetry.Logger
	index    *Index
	now      func() time.Time

	mu   sync.Mutex
	jobs map[string]*job

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewService creates the ingress service. client is used for notifications
// and compensation and should carry the same guard and timeout as the
// catalogue's client.
func NewService(cfg Config, executor *engine.Executor, client capability.Client, store Store, tel *telemetry.Telemetry, opts ...Option) (*Service, error) {
	if executor == nil || client == nil || store == nil {
		return nil, engine.NewPermanentError("ingress needs an executor, a capability client and a store", nil).
			WithCode(engine.ErrCodeValidation)
	}
	if tel == nil {
		tel = telemetry.Nop()
	}
	def := DefaultConfig()
	if cfg.RecommendationTTL <= 0 {
		cfg.RecommendationTTL = def.RecommendationTTL
	}
	if cfg.LabourHours <= 0 {
		cfg.LabourHours = def.LabourHours
	}
	if cfg.LabourRate <= 0 {
		cfg.LabourRate = def.LabourRate
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		cfg:      cfg,
		executor: executor,
		client:   client,
		store:    store,
		tel:      tel,
		logger:   tel.Logger.NewComponentLogger("ingress"),
		index:    NewIndex(cfg.ValidityWindow),
		now:      func() time.Time { return time.Now().UTC() },
		jobs:     make(map[string]*job),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Index exposes the dedup/escalation index.
func (s *Service) Index() *Index {
	return s.index
}

// Submit accepts an anomaly event. It decides under the index lock whether
// the event starts, supersedes or duplicates a run, starts the run in the
// background and returns without waiting for it.
func (s *Service) Submit(ctx context.Context, event remediation.AnomalyEvent) (Receipt, error) {
	ev := event.Normalize(s.now())
	if err := ev.Validate(); err != nil {
		s.tel.Metrics.RecordIngressDecision("rejected")
		return Receipt{}, err
	}
	severity := ev.Severity()
	logger := s.logger.WithEquipment(ev.EquipmentID).WithField("event_id", ev.EventID)

	first, err := s.store.MarkEventProcessed(ctx, ev.EventID, ev.EquipmentID)
	if err != nil {
		return Receipt{}, engine.NewTransientError("failed to record event", err).WithCode(engine.ErrCodeInternal)
	}
	if !first {
		logger.Info("Ignoring redelivered event")
		s.decided(DecisionRedelivered)
		s.publish(telemetry.EventTypeEventRedelivered, "", ev.EquipmentID, telemetry.EventLevelInfo,
			fmt.Sprintf("Event %s already processed", ev.EventID), map[string]interface{}{"event_id": ev.EventID})
		return Receipt{Decision: DecisionRedelivered, EventID: ev.EventID}, nil
	}

	if severity == remediation.SeverityHigh {
		pending, err := s.store.HasPendingRecommendation(ctx, ev.EquipmentID)
		if err != nil {
			return Receipt{}, engine.NewTransientError("failed to check pending recommendations", err).
				WithCode(engine.ErrCodeInternal)
		}
		if pending {
			logger.Info("Skipping HIGH event, a recommendation is already pending")
			s.decided(DecisionPendingApproval)
			return Receipt{Decision: DecisionPendingApproval, EventID: ev.EventID}, nil
		}
	}

	seed, goal, err := remediation.Seed(ev)
	if err != nil {
		return Receipt{}, err
	}
	run, err := engine.NewRun(goal, ev.EquipmentID, seed, engine.WithSeverity(string(severity)))
	if err != nil {
		return Receipt{}, err
	}

	adm := s.index.Admit(Key{EquipmentID: ev.EquipmentID, Severity: severity}, run.ID, s.now())
	s.tel.Metrics.SetIndexEntries(s.index.Len())
	s.decided(adm.Decision)

	if adm.Decision == DecisionDuplicate {
		logger.WithRunID(adm.RunID).Info("Discarding duplicate event")
		s.publish(telemetry.EventTypeEventDuplicate, adm.RunID, ev.EquipmentID, telemetry.EventLevelInfo,
			fmt.Sprintf("Duplicate %s event for %s", severity, ev.EquipmentID),
			map[string]interface{}{"event_id": ev.EventID, "severity": string(severity)})
		return Receipt{Decision: DecisionDuplicate, EventID: ev.EventID, RunID: adm.RunID}, nil
	}

	j := &job{run: run, event: ev, done: make(chan struct{})}
	if adm.Superseded != "" {
		j.after = s.supersede(adm.Superseded, run.ID)
	}
	if err := s.start(ctx, j); err != nil {
		s.index.Release(run.ID)
		return Receipt{}, err
	}

	z := logger.WithRunID(run.ID).Zerolog()
	z.Info().
		Str("severity", string(severity)).
		Str("decision", string(adm.Decision)).
		Int("failure_probability", remediation.Percent(ev.Prediction.FailureProbability)).
		Str("probable_cause", ev.Prediction.ProbableCause).
		Msg("Anomaly accepted")

	return Receipt{
		Decision:        adm.Decision,
		EventID:         ev.EventID,
		RunID:           run.ID,
		SupersededRunID: adm.Superseded,
	}, nil
}

// supersede marks an active run SUPERSEDED. The run notices at its next
// planner iteration; an in-flight capability call is not interrupted.
func (s *Service) supersede(prevID, byID string) *job {
	s.mu.Lock()
	prev := s.jobs[prevID]
	s.mu.Unlock()
	if prev == nil {
		return nil
	}
	if prev.run.Supersede() {
		s.logger.WithRunID(prevID).WithEquipment(prev.run.EquipmentID).WithField("superseded_by", byID).
			Warn("Run superseded by a higher-severity event")
	}
	return prev
}

func (s *Service) start(ctx context.Context, j *job) error {
	if err := s.store.SaveRun(ctx, j.run, j.event.EventID); err != nil {
		return engine.NewTransientError("failed to save run", err).WithCode(engine.ErrCodeInternal)
	}
	s.mu.Lock()
	s.jobs[j.run.ID] = j
	s.mu.Unlock()

	s.wg.Add(1)
	go s.execute(j)
	return nil
}

func (s *Service) execute(j *job) {
	defer s.wg.Done()
	defer close(j.done)
	defer func() {
		s.mu.Lock()
		delete(s.jobs, j.run.ID)
		s.mu.Unlock()
	}()

	run := j.run
	ctx := s.tel.WithContext(s.ctx)
	persist := context.WithoutCancel(ctx)
	logger := s.logger.WithRunID(run.ID).WithEquipment(run.EquipmentID)

	// A superseding run starts once the run it replaced has stopped, so a
	// recommendation created by a run that finished in the meantime is
	// still cancelled below.
	if j.after != nil {
		select {
		case <-j.after.done:
		case <-ctx.Done():
		}
	}
	if run.Severity == string(remediation.SeverityCritical) && j.recommendationID == "" {
		s.cancelPending(persist, run.EquipmentID)
	}

	if err := s.executor.Execute(ctx, run); err != nil {
		logger.WithError(err).Warn("Run failed")
	}

	status := run.Status()
	switch status {
	case engine.RunStatusCompleted:
		s.index.Complete(run.ID, s.now())
	case engine.RunStatusFailed:
		s.index.Release(run.ID)
	}
	s.tel.Metrics.SetIndexEntries(s.index.Len())

	if err := s.store.SaveRun(persist, run, j.event.EventID); err != nil {
		logger.WithError(err).Error("Failed to persist run")
	}

	switch status {
	case engine.RunStatusCompleted:
		if run.Goal == remediation.TypeCriticalAnomalyResponse {
			s.recordCritical(persist, j)
		} else {
			s.recordRecommendation(persist, j)
		}
	case engine.RunStatusFailed, engine.RunStatusSuperseded:
		s.release(persist, run.ID, run.EquipmentID, remediation.HeldReservations(run.Facts))
	}

	if j.recommendationID != "" {
		s.settleApproval(persist, j)
	}
}

// recordCritical records the automated action and sends the maintenance
// alert. The alert is sent here rather than left to the catalogue so every
// completed CRITICAL response notifies exactly once.
func (s *Service) recordCritical(ctx context.Context, j *job) {
	run := j.run
	logger := s.logger.WithRunID(run.ID).WithEquipment(run.EquipmentID)

	resp, ok := engine.Lookup[remediation.CriticalAnomalyResponse](run.Facts, remediation.TypeCriticalAnomalyResponse)
	if !ok {
		logger.Error("Completed CRITICAL run has no response")
		return
	}
	diag, _ := engine.Lookup[remediation.FaultDiagnosis](run.Facts, remediation.TypeFaultDiagnosis)

	resp.NotificationSent = s.notify(ctx, run.ID, diag, resp.WorkOrderID)

	parts, _ := json.Marshal(resp.PartsReserved)
	actionType := ActionTypeEmergencyResponse
	if j.recommendationID != "" {
		actionType = ActionTypeApprovedResponse
	}
	action := &stores.AutomatedAction{
		ID:               newID("ACT"),
		RunID:            run.ID,
		EquipmentID:      run.EquipmentID,
		FacilityID:       diag.FacilityID,
		ActionType:       actionType,
		WorkOrderID:      resp.WorkOrderID,
		Parts:            string(parts),
		ComplianceStatus: resp.ComplianceStatus,
		NotificationSent: resp.NotificationSent,
		Summary:          resp.Summary,
		CreatedAt:        s.now(),
	}
	if err := s.store.CreateAutomatedAction(ctx, action); err != nil {
		logger.WithError(err).Error("Failed to record automated action")
	}

	j.response = &resp
	z := logger.Zerolog()
	z.Info().
		Str("action_id", action.ID).
		Str("work_order_id", resp.WorkOrderID).
		Int("parts_reserved", len(resp.PartsReserved)).
		Bool("notification_sent", resp.NotificationSent).
		Msg("CRITICAL response complete")
}

func (s *Service) notify(ctx context.Context, runID string, diag remediation.FaultDiagnosis, workOrderID string) bool {
	args := map[string]any{
		"recipient":    diag.FacilityID,
		"templateType": "MAINTENANCE_ALERT",
		"variables": map[string]any{
			"equipment_id":        diag.EquipmentID,
			"facility_id":         diag.FacilityID,
			"probable_cause":      diag.ProbableCause,
			"failure_probability": fmt.Sprintf("%d%%", remediation.Percent(diag.FailureProbability)),
			"work_order_id":       workOrderID,
		},
	}
	receipt, err := capability.Call[capability.NotificationReceipt](ctx, s.client,
		capability.GroupCommunications, capability.OpSendNotification, args)
	if err != nil {
		s.logger.WithRunID(runID).WithEquipment(diag.EquipmentID).WithError(err).Warn("Maintenance alert failed")
		return false
	}
	s.publish(telemetry.EventTypeNotificationSent, runID, diag.EquipmentID, telemetry.EventLevelInfo,
		fmt.Sprintf("Maintenance alert sent to %s", diag.FacilityID),
		map[string]interface{}{"notification_id": receipt.NotificationID, "work_order_id": workOrderID})
	return true
}

// recordRecommendation turns a completed HIGH run into a PENDING
// recommendation, unless one is already pending for the equipment.
func (s *Service) recordRecommendation(ctx context.Context, j *job) {
	run := j.run
	logger := s.logger.WithRunID(run.ID).WithEquipment(run.EquipmentID)

	resp, ok := engine.Lookup[remediation.HighAnomalyResponse](run.Facts, remediation.TypeHighAnomalyResponse)
	if !ok {
		logger.Error("Completed HIGH run has no response")
		return
	}
	diag, _ := engine.Lookup[remediation.FaultDiagnosis](run.Facts, remediation.TypeFaultDiagnosis)
	assessment, _ := run.Facts.Get(remediation.FamilyPartsAssessment)

	pending, err := s.store.HasPendingRecommendation(ctx, run.EquipmentID)
	if err != nil {
		logger.WithError(err).Error("Failed to check pending recommendations")
		return
	}
	if pending {
		logger.Info("Recommendation already pending, not creating another")
		return
	}

	lines := proposedParts(assessment)
	parts, _ := json.Marshal(lines)
	now := s.now()
	rec := &stores.Recommendation{
		ID:                 newID("REC"),
		RunID:              run.ID,
		EquipmentID:        run.EquipmentID,
		FacilityID:         diag.FacilityID,
		RiskLevel:          j.event.Prediction.RiskLevel,
		FailureProbability: diag.FailureProbability,
		ProbableCause:      diag.ProbableCause,
		FaultType:          resp.FaultType,
		Urgency:            resp.Urgency,
		RecommendedAction:  resp.RecommendedAction,
		Parts:              string(parts),
		EstimatedCost:      remediation.EstimateCost(lines, s.cfg.LabourHours, s.cfg.LabourRate),
		Status:             stores.RecommendationPending,
		CreatedAt:          now,
		ExpiresAt:          now.Add(s.cfg.RecommendationTTL),
	}
	if rec.RiskLevel == "" {
		rec.RiskLevel = remediation.RiskHigh
	}
	if err := s.store.CreateRecommendation(ctx, rec); err != nil {
		logger.WithError(err).Error("Failed to create recommendation")
		return
	}

	s.tel.Metrics.RecordRecommendation(string(rec.Status))
	s.publish(telemetry.EventTypeRecommendationCreated, run.ID, run.EquipmentID, telemetry.EventLevelInfo,
		fmt.Sprintf("Recommendation %s awaiting approval: %s", rec.ID, rec.RecommendedAction),
		map[string]interface{}{"recommendation_id": rec.ID, "estimated_cost": rec.EstimatedCost})
	z := logger.Zerolog()
	z.Info().
		Str("recommendation_id", rec.ID).
		Float64("estimated_cost", rec.EstimatedCost).
		Str("recommended_action", rec.RecommendedAction).
		Msg("HIGH response complete, awaiting approval")
}

// proposedParts lists the parts a recommendation would use: the local lines
// when stock is available, otherwise the lines to fetch from the source.
func proposedParts(assessment engine.Fact) []remediation.ReservedPart {
	var lines []remediation.CompatiblePart
	facility := ""
	switch a := assessment.(type) {
	case remediation.PartsAvailable:
		lines, facility = a.Parts, a.FacilityID
	case remediation.PartsUnavailable:
		lines, facility = a.PartsNeeded, a.NearestFacilityWithStock
	}
	out := make([]remediation.ReservedPart, 0, len(lines))
	for _, p := range lines {
		out = append(out, remediation.ReservedPart{
			SKU:        p.SKU,
			Name:       p.Name,
			Quantity:   p.QuantityNeeded,
			UnitPrice:  p.UnitPrice,
			FacilityID: facility,
		})
	}
	return out
}

// cancelPending supersedes the pending recommendations of an equipment and
// releases whatever their runs still hold.
func (s *Service) cancelPending(ctx context.Context, equipmentID string) {
	logger := s.logger.WithEquipment(equipmentID)
	recs, err := s.store.PendingRecommendations(ctx, equipmentID)
	if err != nil {
		logger.WithError(err).Error("Failed to list pending recommendations")
		return
	}
	now := s.now()
	n := 0
	for _, rec := range recs {
		err := s.store.TransitionRecommendation(ctx, rec.ID, stores.RecommendationPending, stores.RecommendationSuperseded,
			stores.RecommendationUpdate{DecidedAt: &now, DecidedBy: "system", Notes: SupersedeNote})
		if errors.Is(err, stores.ErrConflict) {
			continue
		}
		if err != nil {
			logger.WithError(err).WithField("recommendation_id", rec.ID).Error("Failed to supersede recommendation")
			continue
		}
		n++
		s.tel.Metrics.RecordRecommendation(string(stores.RecommendationSuperseded))
		s.publish(telemetry.EventTypeRecommendationChanged, rec.RunID, equipmentID, telemetry.EventLevelWarning,
			fmt.Sprintf("Recommendation %s superseded by CRITICAL alert", rec.ID),
			map[string]interface{}{"recommendation_id": rec.ID, "status": string(stores.RecommendationSuperseded)})
		if held, err := s.heldBy(ctx, rec.RunID); err == nil {
			s.release(ctx, rec.RunID, equipmentID, held)
		}
	}
	if n > 0 {
		logger.Infof("Superseded %d pending HIGH recommendation(s)", n)
	}
}

// release gives back reservations. Failures are logged and published; they
// never replace the outcome of the run being compensated.
func (s *Service) release(ctx context.Context, runID, equipmentID string, held []remediation.ReservedPart) int {
	released := 0
	for _, p := range held {
		_, err := capability.Call[capability.Release](ctx, s.client, capability.GroupInventory,
			capability.OpReleaseReservation, map[string]any{"reservationId": p.ReservationID})
		if err != nil {
			s.logger.WithRunID(runID).WithEquipment(equipmentID).WithError(err).
				WithField("reservation_id", p.ReservationID).Warn("Failed to release reservation")
			s.publish(telemetry.EventTypeCompensationFailed, runID, equipmentID, telemetry.EventLevelError,
				fmt.Sprintf("Reservation %s could not be released: %v", p.ReservationID, err),
				map[string]interface{}{"reservation_id": p.ReservationID, "sku": p.SKU})
			continue
		}
		released++
		s.publish(telemetry.EventTypeReservationReleased, runID, equipmentID, telemetry.EventLevelInfo,
			fmt.Sprintf("Released %d x %s (%s)", p.Quantity, p.SKU, p.ReservationID),
			map[string]interface{}{"reservation_id": p.ReservationID, "sku": p.SKU, "quantity": p.Quantity})
	}
	return released
}

// facts rebuilds the stored facts of a finished run.
func (s *Service) facts(ctx context.Context, runID string) (*engine.FactStore, error) {
	records, err := s.store.LoadFacts(ctx, runID)
	if err != nil {
		return nil, engine.NewTransientError("failed to load run facts", err).WithCode(engine.ErrCodeInternal)
	}
	facts := make([]engine.Fact, 0, len(records))
	for _, r := range records {
		f, err := remediation.DecodeFact(engine.FactType(r.FactType), []byte(r.Body))
		if err != nil {
			return nil, err
		}
		facts = append(facts, f)
	}
	return engine.NewFactStore(facts...)
}

func (s *Service) heldBy(ctx context.Context, runID string) ([]remediation.ReservedPart, error) {
	facts, err := s.facts(ctx, runID)
	if err != nil {
		return nil, err
	}
	return remediation.HeldReservations(facts), nil
}

// ObserveRisk records the latest risk level of an equipment. A return to
// normal clears its index entries so the next anomaly starts fresh. It
// returns the number of entries cleared.
func (s *Service) ObserveRisk(equipmentID, riskLevel string) int {
	if !remediation.IsNormalRisk(riskLevel) {
		return 0
	}
	n := s.index.Clear(equipmentID)
	s.tel.Metrics.SetIndexEntries(s.index.Len())
	if n > 0 {
		s.logger.WithEquipment(equipmentID).WithField("risk_level", riskLevel).Info("Equipment back to normal, index cleared")
		s.publish(telemetry.EventTypeIndexCleared, "", equipmentID, telemetry.EventLevelInfo,
			fmt.Sprintf("%s returned to %s", equipmentID, strings.ToUpper(riskLevel)),
			map[string]interface{}{"cleared": n})
	}
	return n
}

// ActiveRun returns a run the service is still executing.
func (s *Service) ActiveRun(id string) (*engine.Run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, false
	}
	return j.run, true
}

// Wait blocks until every run started so far has finished and its results
// have been recorded.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Sweep expires stale recommendations and index entries.
func (s *Service) Sweep(ctx context.Context) error {
	now := s.now()
	pruned := s.index.Prune(now)
	s.tel.Metrics.SetIndexEntries(s.index.Len())
	n, err := s.store.ExpireRecommendations(ctx, now)
	if err != nil {
		return err
	}
	if n > 0 || pruned > 0 {
		z := s.logger.Zerolog()
		z.Info().Int64("expired_recommendations", n).Int("pruned_entries", pruned).Msg("Sweep complete")
	}
	return nil
}

// RunSweeper calls Sweep every SweepInterval until ctx is done.
func (s *Service) RunSweeper(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.WithError(err).Warn("Sweep failed")
			}
		}
	}
}

// Shutdown waits for in-flight runs. When ctx expires first, the remaining
// runs are cancelled.
func (s *Service) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return fmt.Errorf("ingress shutdown: %w", ctx.Err())
	}
}

func (s *Service) decided(d Decision) {
	s.tel.Metrics.RecordIngressDecision(string(d))
}

func (s *Service) publish(eventType, runID, equipmentID, level, message string, data map[string]interface{}) {
	_ = s.tel.Events.Publish(telemetry.Event{
		Type:        eventType,
		Source:      "ingress",
		RunID:       runID,
		EquipmentID: equipmentID,
		Message:     message,
		Level:       level,
		Data:        data,
	})
}

// newID returns prefix-XXXXXXXX with eight upper-case hex digits.
func newID(prefix string) string {
	return prefix + "-" + strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
}
