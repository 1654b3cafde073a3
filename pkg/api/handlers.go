package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/titanworks/titan/pkg/engine"
	"github.com/titanworks/titan/pkg/ingress"
	"github.com/titanworks/titan/pkg/remediation"
	"github.com/titanworks/titan/pkg/stores"
)

// RiskObservation is the body of POST /equipment/{id}/risk.
type RiskObservation struct {
	RiskLevel string `json:"riskLevel"`
}

// DismissRequest is the body of POST /recommendations/{id}/dismiss.
type DismissRequest struct {
	Reason string `json:"reason"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, into any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidRequest, fmt.Sprintf("invalid JSON body: %v", err))
		return false
	}
	return true
}

// pagination reads limit and offset; zero limit lets the store default.
func pagination(r *http.Request) (limit, offset int, err error) {
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			return 0, 0, fmt.Errorf("invalid limit %q", v)
		}
	}
	if v := q.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			return 0, 0, fmt.Errorf("invalid offset %q", v)
		}
	}
	return limit, offset, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.HealthCheck(r.Context()); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"reason": err.Error(),
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSubmitEvent answers 202 when a run was started and 200 when the
// event was absorbed (duplicate, redelivery, pending approval).
func (s *Server) handleSubmitEvent(w http.ResponseWriter, r *http.Request) {
	var event remediation.AnomalyEvent
	if !decodeBody(w, r, &event) {
		return
	}
	receipt, err := s.ingress.Submit(r.Context(), event)
	if err != nil {
		respondFailure(w, err)
		return
	}
	status := http.StatusOK
	if receipt.Decision == ingress.DecisionStart || receipt.Decision == ingress.DecisionSupersede {
		status = http.StatusAccepted
	}
	respondJSON(w, status, receipt)
}

func (s *Server) handleObserveRisk(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var obs RiskObservation
	if !decodeBody(w, r, &obs) {
		return
	}
	if obs.RiskLevel == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "riskLevel is required")
		return
	}
	cleared := s.ingress.ObserveRisk(id, obs.RiskLevel)
	respondJSON(w, http.StatusOK, map[string]any{
		"equipmentId": id,
		"riskLevel":   strings.ToUpper(obs.RiskLevel),
		"cleared":     cleared,
	})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pagination(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}
	q := r.URL.Query()
	runs, err := s.store.ListRuns(r.Context(), stores.RunFilter{
		EquipmentID: q.Get("equipment"),
		Status:      engine.RunStatus(strings.ToUpper(q.Get("status"))),
		Limit:       limit,
		Offset:      offset,
	})
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, run)
}

func (s *Server) handleListRecommendations(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pagination(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}
	status := stores.RecommendationStatus(strings.ToUpper(r.URL.Query().Get("status")))
	recs, err := s.store.ListRecommendations(r.Context(), status, limit, offset)
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, recs)
}

func (s *Server) handleGetRecommendation(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.GetRecommendation(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleListActions(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pagination(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}
	actions, err := s.store.ListAutomatedActions(r.Context(), r.URL.Query().Get("equipment"), limit, offset)
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, actions)
}

// handleApprove blocks until the approved run finishes. A run that fails
// still answers 200; the result carries the failure.
func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	approver := ApproverFromContext(r.Context())

	result, err := s.ingress.Approve(r.Context(), id, approver)
	if err != nil {
		respondFailure(w, err)
		return
	}
	s.logger.WithField("recommendation_id", id).WithField("approver", approver).
		WithRunID(result.RunID).Infof("Recommendation approved, run %s", result.Status)
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	by := ApproverFromContext(r.Context())

	var req DismissRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	if err := s.ingress.Dismiss(r.Context(), id, by, req.Reason); err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"recommendationId": id,
		"status":           string(stores.RecommendationDismissed),
		"dismissedBy":      by,
	})
}
