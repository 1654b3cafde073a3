package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/titanworks/titan/pkg/engine"
	"github.com/titanworks/titan/pkg/stores"
)

// APIError is the body of every error response.
type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Error codes that do not come from the engine.
const (
	ErrCodeInvalidRequest    = "INVALID_REQUEST"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeApprovalsDisabled = "APPROVALS_DISABLED"
	ErrCodeTimeout           = "TIMEOUT"
)

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, APIError{Code: code, Message: message})
}

// respondFailure maps a service or store error onto a status code.
func respondFailure(w http.ResponseWriter, err error) {
	body := APIError{Code: engine.ErrorCode(err), Message: err.Error()}
	var ee *engine.EngineError
	if errors.As(err, &ee) && len(ee.Details) > 0 {
		body.Details = ee.Details
	}

	status := http.StatusInternalServerError
	switch {
	case body.Code == engine.ErrCodeValidation:
		status = http.StatusBadRequest
	case engine.IsNotFound(err) || errors.Is(err, stores.ErrNotFound):
		status = http.StatusNotFound
		body.Code = engine.ErrCodeNotFound
	case engine.IsConflict(err) || errors.Is(err, stores.ErrConflict):
		status = http.StatusConflict
		if body.Code == engine.ErrCodeInternal {
			body.Code = engine.ErrCodeInvalidState
		}
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
		body.Code = ErrCodeTimeout
	}
	respondJSON(w, status, body)
}
