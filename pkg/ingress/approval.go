package ingress

import (
	"context"
	"errors"
	"fmt"

	"github.com/titanworks/titan/pkg/engine"
	"github.com/titanworks/titan/pkg/remediation"
	"github.com/titanworks/titan/pkg/stores"
	"github.com/titanworks/titan/pkg/telemetry"
)

// pending fetches a recommendation that must still be awaiting a decision.
func (s *Service) pending(ctx context.Context, id string) (*stores.Recommendation, error) {
	rec, err := s.store.GetRecommendation(ctx, id)
	if errors.Is(err, stores.ErrNotFound) {
		return nil, engine.NewPermanentError(fmt.Sprintf("recommendation %s not found", id), err).
			WithCode(engine.ErrCodeNotFound)
	}
	if err != nil {
		return nil, engine.NewTransientError("failed to load recommendation", err).WithCode(engine.ErrCodeInternal)
	}
	if rec.Status != stores.RecommendationPending {
		return nil, engine.NewConflictError(
			fmt.Sprintf("recommendation %s is %s, not PENDING", id, rec.Status), nil).
			WithCode(engine.ErrCodeInvalidState).
			WithDetail("status", string(rec.Status))
	}

	now := s.now()
	if rec.Expired(now) {
		err := s.store.TransitionRecommendation(ctx, id, stores.RecommendationPending, stores.RecommendationExpired,
			stores.RecommendationUpdate{DecidedAt: &now, DecidedBy: "system"})
		if err != nil && !errors.Is(err, stores.ErrConflict) {
			s.logger.WithError(err).WithField("recommendation_id", id).Warn("Failed to expire recommendation")
		}
		s.tel.Metrics.RecordRecommendation(string(stores.RecommendationExpired))
		return nil, engine.NewConflictError(fmt.Sprintf("recommendation %s expired at %s", id,
			rec.ExpiresAt.Format("2006-01-02T15:04:05Z07:00")), nil).
			WithCode(engine.ErrCodeInvalidState).
			WithDetail("status", string(stores.RecommendationExpired))
	}
	return rec, nil
}

// approvalSeed rebuilds the diagnosis and parts assessment the HIGH run
// produced, so the approved run neither diagnoses nor checks stock again.
func (s *Service) approvalSeed(ctx context.Context, rec *stores.Recommendation) ([]engine.Fact, error) {
	facts, err := s.facts(ctx, rec.RunID)
	if err != nil {
		return nil, err
	}
	diag, err := engine.Require[remediation.FaultDiagnosis](facts, remediation.TypeFaultDiagnosis)
	if err != nil {
		return nil, err
	}
	parts, ok := facts.Get(remediation.FamilyPartsAssessment)
	if !ok {
		return nil, engine.NewPermanentError(
			fmt.Sprintf("run %s has no parts assessment", rec.RunID), nil).
			WithCode(engine.ErrCodeInvalidState)
	}
	return remediation.ApprovalSeed(diag, parts)
}

// Approve re-enters the CRITICAL goal for a PENDING recommendation and waits
// for the resulting run. The recommendation moves to APPROVED before the run
// starts and to COMPLETED or FAILED once it finishes.
func (s *Service) Approve(ctx context.Context, id, approver string) (*ApprovalResult, error) {
	if approver == "" {
		return nil, engine.NewPermanentError("approver is required", nil).WithCode(engine.ErrCodeValidation)
	}
	rec, err := s.pending(ctx, id)
	if err != nil {
		return nil, err
	}
	seed, err := s.approvalSeed(ctx, rec)
	if err != nil {
		return nil, err
	}
	run, err := engine.NewRun(remediation.TypeCriticalAnomalyResponse, rec.EquipmentID, seed,
		engine.WithSeverity(string(remediation.SeverityCritical)),
		engine.WithParent(rec.RunID))
	if err != nil {
		return nil, err
	}

	key := Key{EquipmentID: rec.EquipmentID, Severity: remediation.SeverityCritical}
	if active, ok := s.index.Claim(key, run.ID); !ok {
		return nil, engine.NewConflictError(
			fmt.Sprintf("a CRITICAL response is already running for %s", rec.EquipmentID), nil).
			WithCode(engine.ErrCodeInvalidState).
			WithDetail("run_id", active)
	}

	now := s.now()
	err = s.store.TransitionRecommendation(ctx, id, stores.RecommendationPending, stores.RecommendationApproved,
		stores.RecommendationUpdate{DecidedBy: approver, DecidedAt: &now, ApprovalRunID: run.ID})
	if err != nil {
		s.index.Release(run.ID)
		if errors.Is(err, stores.ErrConflict) {
			return nil, engine.NewConflictError(fmt.Sprintf("recommendation %s was decided concurrently", id), err).
				WithCode(engine.ErrCodeInvalidState)
		}
		return nil, engine.NewTransientError("failed to approve recommendation", err).WithCode(engine.ErrCodeInternal)
	}
	s.tel.Metrics.RecordRecommendation(string(stores.RecommendationApproved))
	s.publish(telemetry.EventTypeRecommendationChanged, run.ID, rec.EquipmentID, telemetry.EventLevelInfo,
		fmt.Sprintf("Recommendation %s approved by %s", id, approver),
		map[string]interface{}{"recommendation_id": id, "status": string(stores.RecommendationApproved), "actor": approver})

	j := &job{
		run:              run,
		event:            remediation.AnomalyEvent{EquipmentID: rec.EquipmentID, FacilityID: rec.FacilityID},
		recommendationID: id,
		approver:         approver,
		done:             make(chan struct{}),
	}
	if err := s.start(ctx, j); err != nil {
		s.index.Release(run.ID)
		return nil, err
	}
	s.logger.WithRunID(run.ID).WithEquipment(rec.EquipmentID).WithField("recommendation_id", id).
		WithField("approved_by", approver).Info("Recommendation approved, executing CRITICAL response")

	select {
	case <-j.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	result := &ApprovalResult{
		RecommendationID: id,
		RunID:            run.ID,
		Status:           run.Status(),
		Trace:            run.Trace(),
		Response:         j.response,
		Failure:          run.Failure(),
	}
	if j.response != nil {
		result.WorkOrderID = j.response.WorkOrderID
	}
	return result, nil
}

// settleApproval closes the recommendation behind an approval run.
func (s *Service) settleApproval(ctx context.Context, j *job) {
	to := stores.RecommendationFailed
	update := stores.RecommendationUpdate{}
	if j.response != nil {
		to = stores.RecommendationCompleted
		update.WorkOrderID = j.response.WorkOrderID
	} else if f := j.run.Failure(); f != nil {
		update.Notes = fmt.Sprintf("Approved response failed at %s: %s", f.Action, f.Reason)
	} else {
		update.Notes = fmt.Sprintf("Approved response ended %s", j.run.Status())
	}

	err := s.store.TransitionRecommendation(ctx, j.recommendationID, stores.RecommendationApproved, to, update)
	if err != nil {
		s.logger.WithRunID(j.run.ID).WithError(err).WithField("recommendation_id", j.recommendationID).
			Error("Failed to settle approved recommendation")
		return
	}
	s.tel.Metrics.RecordRecommendation(string(to))
	level := telemetry.EventLevelInfo
	if to == stores.RecommendationFailed {
		level = telemetry.EventLevelError
	}
	s.publish(telemetry.EventTypeRecommendationChanged, j.run.ID, j.run.EquipmentID, level,
		fmt.Sprintf("Recommendation %s %s", j.recommendationID, to),
		map[string]interface{}{"recommendation_id": j.recommendationID, "status": string(to), "actor": j.approver})
}

// Dismiss rejects a PENDING recommendation and releases anything its run
// still holds.
func (s *Service) Dismiss(ctx context.Context, id, by, reason string) error {
	if by == "" {
		return engine.NewPermanentError("dismissing user is required", nil).WithCode(engine.ErrCodeValidation)
	}
	rec, err := s.pending(ctx, id)
	if err != nil {
		return err
	}
	now := s.now()
	err = s.store.TransitionRecommendation(ctx, id, stores.RecommendationPending, stores.RecommendationDismissed,
		stores.RecommendationUpdate{DecidedBy: by, DecidedAt: &now, Notes: reason})
	if errors.Is(err, stores.ErrConflict) {
		return engine.NewConflictError(fmt.Sprintf("recommendation %s was decided concurrently", id), err).
			WithCode(engine.ErrCodeInvalidState)
	}
	if err != nil {
		return engine.NewTransientError("failed to dismiss recommendation", err).WithCode(engine.ErrCodeInternal)
	}

	s.tel.Metrics.RecordRecommendation(string(stores.RecommendationDismissed))
	s.publish(telemetry.EventTypeRecommendationChanged, rec.RunID, rec.EquipmentID, telemetry.EventLevelInfo,
		fmt.Sprintf("Recommendation %s dismissed by %s", id, by),
		map[string]interface{}{"recommendation_id": id, "status": string(stores.RecommendationDismissed), "actor": by, "reason": reason})
	s.logger.WithEquipment(rec.EquipmentID).WithField("recommendation_id", id).WithField("dismissed_by", by).
		Info("Recommendation dismissed")

	if held, err := s.heldBy(ctx, rec.RunID); err == nil {
		s.release(ctx, rec.RunID, rec.EquipmentID, held)
	}
	return nil
}
