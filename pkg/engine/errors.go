package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for recovery decisions.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure that may succeed when the
	// triggering condition is re-reported. Examples: capability timeouts, unreachable providers.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassThrottled indicates rate limiting or quota exhaustion at a capability provider.
	ErrorClassThrottled ErrorClass = "throttled"

	// ErrorClassConflict indicates a state conflict.
	// Examples: a fact type already present, a run already terminated.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassPermanent indicates a non-recoverable error.
	// Examples: invalid catalogue, unreachable goal, malformed capability result.
	ErrorClassPermanent ErrorClass = "permanent"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code identifies the failure kind for programmatic handling.
	Code string `json:"code,omitempty"`

	// Action is the action name that caused the error, if applicable.
	Action string `json:"action,omitempty"`

	// Operation is the capability operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	switch {
	case e.Action != "" && e.Operation != "":
		msg = fmt.Sprintf("%s (action=%s, operation=%s)", msg, e.Action, e.Operation)
	case e.Action != "":
		msg = fmt.Sprintf("%s (action=%s)", msg, e.Action)
	case e.Operation != "":
		msg = fmt.Sprintf("%s (operation=%s)", msg, e.Operation)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassTransient, Message: message, Err: err}
}

// NewThrottledError creates a new throttled error.
func NewThrottledError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassThrottled, Message: message, Err: err}
}

// NewConflictError creates a new conflict error.
func NewConflictError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassConflict, Message: message, Err: err}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassPermanent, Message: message, Err: err}
}

// WithAction adds action context to an error.
func (e *EngineError) WithAction(action string) *EngineError {
	e.Action = action
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Error codes.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeInvalidState      = "INVALID_STATE"
	ErrCodeInternal          = "INTERNAL_ERROR"
	ErrCodePlanningDeadEnd   = "PLANNING_DEAD_END"
	ErrCodeCapability        = "CAPABILITY_ERROR"
	ErrCodeCapabilityTimeout = "CAPABILITY_TIMEOUT"
	ErrCodeMalformedResult   = "MALFORMED_RESULT"
	ErrCodeDuplicateFact     = "DUPLICATE_FACT"
	ErrCodeAmbiguousAction   = "AMBIGUOUS_ACTION"
	ErrCodeCatalogueInvalid  = "CATALOGUE_INVALID"
	ErrCodeSuperseded        = "SUPERSEDED"
)

// NewDuplicateFactError reports an attempt to write a fact type that already exists.
func NewDuplicateFactError(t FactType) *EngineError {
	return NewConflictError(fmt.Sprintf("fact %s already present", t), nil).
		WithCode(ErrCodeDuplicateFact).
		WithDetail("fact_type", string(t))
}

// NewPlanningDeadEndError reports that no chain of actions can reach goal.
func NewPlanningDeadEndError(goal FactType, present []FactType) *EngineError {
	names := make([]string, len(present))
	for i, t := range present {
		names[i] = string(t)
	}
	return NewPermanentError(fmt.Sprintf("no action chain reaches goal %s", goal), nil).
		WithCode(ErrCodePlanningDeadEnd).
		WithDetail("goal", string(goal)).
		WithDetail("facts", names)
}

// NewAmbiguousActionError reports two actions sharing one input-signature to output edge.
func NewAmbiguousActionError(first, second string, inputs []FactType, output FactType) *EngineError {
	return NewPermanentError(
		fmt.Sprintf("actions %s and %s both produce %s from %v", first, second, output, inputs), nil).
		WithCode(ErrCodeAmbiguousAction).
		WithDetail("actions", []string{first, second}).
		WithDetail("output", string(output))
}

// NewCapabilityError reports a failed capability invocation.
func NewCapabilityError(group, operation string, err error) *EngineError {
	return NewTransientError(fmt.Sprintf("capability %s failed", group), err).
		WithCode(ErrCodeCapability).
		WithOperation(operation).
		WithDetail("group", group)
}

// NewCapabilityTimeoutError reports a capability invocation that exceeded its deadline.
func NewCapabilityTimeoutError(group, operation string, err error) *EngineError {
	return NewTransientError(fmt.Sprintf("capability %s timed out", group), err).
		WithCode(ErrCodeCapabilityTimeout).
		WithOperation(operation).
		WithDetail("group", group)
}

// NewMalformedResultError reports structured output that does not satisfy its contract.
func NewMalformedResultError(message string, err error) *EngineError {
	return NewPermanentError(message, err).WithCode(ErrCodeMalformedResult)
}

func hasCode(err error, code string) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
	}
	return false
}

// IsThrottled returns true if the error is classified as throttled.
func IsThrottled(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassThrottled
	}
	return false
}

// IsConflict returns true if the error is classified as a conflict.
func IsConflict(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassConflict
	}
	return false
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassPermanent
	}
	return false
}

// IsPlanningDeadEnd reports whether err is a planning dead end.
func IsPlanningDeadEnd(err error) bool { return hasCode(err, ErrCodePlanningDeadEnd) }

// IsCapabilityError reports whether err came from a capability invocation, timeouts included.
func IsCapabilityError(err error) bool {
	return hasCode(err, ErrCodeCapability) || hasCode(err, ErrCodeCapabilityTimeout)
}

// IsTimeout reports whether err is a capability timeout.
func IsTimeout(err error) bool { return hasCode(err, ErrCodeCapabilityTimeout) }

// IsDuplicateFact reports whether err is a write-once violation.
func IsDuplicateFact(err error) bool { return hasCode(err, ErrCodeDuplicateFact) }

// IsAmbiguousAction reports whether err is a catalogue ambiguity.
func IsAmbiguousAction(err error) bool { return hasCode(err, ErrCodeAmbiguousAction) }

// IsMalformedResult reports whether err is a structured output contract violation.
func IsMalformedResult(err error) bool { return hasCode(err, ErrCodeMalformedResult) }

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return hasCode(err, ErrCodeNotFound) }

// ErrorCode returns the code carried by err, or ErrCodeInternal for foreign errors.
func ErrorCode(err error) string {
	var e *EngineError
	if errors.As(err, &e) && e.Code != "" {
		return e.Code
	}
	return ErrCodeInternal
}
