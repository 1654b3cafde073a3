package engine

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestEngineError_Classification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
		permanent bool
		conflict  bool
		check     func(error) bool
	}{
		{name: "capability", err: NewCapabilityError("inventory", "check_stock", errBoom), transient: true, check: IsCapabilityError},
		{name: "timeout", err: NewCapabilityTimeoutError("inventory", "check_stock", errBoom), transient: true, check: IsTimeout},
		{name: "duplicate", err: NewDuplicateFactError("Reading"), conflict: true, check: IsDuplicateFact},
		{name: "dead end", err: NewPlanningDeadEndError("Done", []FactType{"Seed"}), permanent: true, check: IsPlanningDeadEnd},
		{name: "ambiguous", err: NewAmbiguousActionError("a", "b", []FactType{"X"}, "Y"), permanent: true, check: IsAmbiguousAction},
		{name: "malformed", err: NewMalformedResultError("bad", nil), permanent: true, check: IsMalformedResult},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if IsTransient(tt.err) != tt.transient {
				t.Errorf("IsTransient = %v", IsTransient(tt.err))
			}
			if IsPermanent(tt.err) != tt.permanent {
				t.Errorf("IsPermanent = %v", IsPermanent(tt.err))
			}
			if IsConflict(tt.err) != tt.conflict {
				t.Errorf("IsConflict = %v", IsConflict(tt.err))
			}
			if !tt.check(tt.err) {
				t.Error("code predicate should match")
			}

			wrapped := fmt.Errorf("outer: %w", tt.err)
			if !tt.check(wrapped) {
				t.Error("code predicate should see through wrapping")
			}
		})
	}
}

func TestEngineError_TimeoutIsCapabilityError(t *testing.T) {
	err := NewCapabilityTimeoutError("logistics", "create_shipment", nil)
	if !IsCapabilityError(err) {
		t.Error("timeouts belong to the capability error family")
	}
	if IsTimeout(NewCapabilityError("logistics", "create_shipment", nil)) {
		t.Error("plain capability error is not a timeout")
	}
}

func TestEngineError_Message(t *testing.T) {
	err := NewCapabilityError("inventory", "check_stock", errBoom).WithAction("assessPartsDirect")
	msg := err.Error()
	for _, want := range []string{"transient", "inventory", "assessPartsDirect", "check_stock", "boom"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}
	if !errors.Is(err, errBoom) {
		t.Error("errors.Is should reach the cause")
	}
	if !errors.Is(err, &EngineError{Class: ErrorClassTransient, Code: ErrCodeCapability}) {
		t.Error("errors.Is should match class and code")
	}
}

func TestErrorCode(t *testing.T) {
	if ErrorCode(errBoom) != ErrCodeInternal {
		t.Errorf("foreign errors map to %s", ErrCodeInternal)
	}
	if ErrorCode(NewDuplicateFactError("X")) != ErrCodeDuplicateFact {
		t.Error("expected duplicate fact code")
	}
	e := NewPermanentError("x", nil).WithDetail("k", 1)
	if e.Details["k"] != 1 {
		t.Error("detail not recorded")
	}
}
