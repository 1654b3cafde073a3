package capability

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/titanworks/titan/pkg/engine"
)

// AllowList restricts which operations may be called per group.
type AllowList map[Group][]string

// DefaultAllowList returns the operations the remediation catalogue uses,
// plus the read-only helpers a reasoning strategy may add.
func DefaultAllowList() AllowList {
	return AllowList{
		GroupSensor:      {OpGetEquipmentStatus, OpGetSensorReadings},
		GroupMaintenance: {OpPredictFailure, OpEstimateRUL, OpScheduleMaintenance, OpGetMaintenanceHistory},
		GroupInventory: {
			OpGetCompatibleParts, OpCheckStock, OpFindAlternatives,
			OpReserveParts, OpReleaseReservation,
		},
		GroupLogistics:      {OpEstimateShipping, OpCreateShipment, OpTrackShipment, OpGetCarriers},
		GroupGovernance:     {OpGetComplianceReport, OpTraceMaterialBatch},
		GroupCommunications: {OpSendNotification},
	}
}

// Allows reports whether op is permitted for group.
func (a AllowList) Allows(group Group, op string) bool {
	for _, allowed := range a[group] {
		if allowed == op {
			return true
		}
	}
	return false
}

// Operations returns the sorted operations of group.
func (a AllowList) Operations(group Group) []string {
	out := append([]string(nil), a[group]...)
	sort.Strings(out)
	return out
}

// Guard rejects requests outside the allow-list before they reach next.
func Guard(next Client, allow AllowList) Client {
	return ClientFunc(func(ctx context.Context, req Request) (Result, error) {
		if !allow.Allows(req.Group, req.Operation) {
			return nil, engine.NewPermanentError(
				fmt.Sprintf("operation %s not allowed", req), nil).
				WithCode(engine.ErrCodeCapability).
				WithOperation(req.Operation).
				WithDetail("group", string(req.Group))
		}
		return next.Invoke(ctx, req)
	})
}

// WithTimeout bounds every call to next by d. The call is abandoned, not
// pre-empted, when the deadline passes: an adapter that ignores its context
// keeps running in the background but the caller is released.
func WithTimeout(next Client, d time.Duration) Client {
	if d <= 0 {
		return next
	}
	return ClientFunc(func(ctx context.Context, req Request) (Result, error) {
		callCtx, cancel := context.WithTimeout(ctx, d)
		defer cancel()

		type reply struct {
			res Result
			err error
		}
		ch := make(chan reply, 1)
		go func() {
			res, err := next.Invoke(callCtx, req)
			ch <- reply{res: res, err: err}
		}()

		select {
		case r := <-ch:
			if r.err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
				return nil, engine.NewCapabilityTimeoutError(string(req.Group), req.Operation, r.err).
					WithDetail("timeout", d.String())
			}
			return r.res, wrap(r.err, req)
		case <-callCtx.Done():
			if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
				return nil, engine.NewCapabilityTimeoutError(string(req.Group), req.Operation, callCtx.Err()).
					WithDetail("timeout", d.String())
			}
			return nil, engine.NewCapabilityError(string(req.Group), req.Operation, callCtx.Err())
		}
	})
}

// Chain applies the standard decorators: allow-list guard, then timeout.
func Chain(next Client, allow AllowList, timeout time.Duration) Client {
	return Guard(WithTimeout(next, timeout), allow)
}
