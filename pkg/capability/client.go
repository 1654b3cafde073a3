// Package capability is the boundary between remediation actions and the
// external systems they call: equipment sensors, maintenance planning,
// inventory, logistics, governance and communications.
//
// Every call is a Request naming a group and an operation; every reply is a
// structured Result or a classified engine error. Adapters (HTTP, simulated
// plant) and decorators (allow-list guard, per-call timeout, instrumentation)
// all implement the same Client interface.
package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/titanworks/titan/pkg/engine"
)

// Group names a capability group.
type Group string

const (
	GroupSensor         Group = "sensor"
	GroupMaintenance    Group = "maintenance"
	GroupInventory      Group = "inventory"
	GroupLogistics      Group = "logistics"
	GroupGovernance     Group = "governance"
	GroupCommunications Group = "communications"
)

// Groups returns every known group.
func Groups() []Group {
	return []Group{
		GroupSensor, GroupMaintenance, GroupInventory,
		GroupLogistics, GroupGovernance, GroupCommunications,
	}
}

// Operation names.
const (
	OpGetEquipmentStatus    = "get_equipment_status"
	OpGetSensorReadings     = "get_sensor_readings"
	OpPredictFailure        = "predict_failure"
	OpEstimateRUL           = "estimate_rul"
	OpScheduleMaintenance   = "schedule_maintenance"
	OpGetMaintenanceHistory = "get_maintenance_history"
	OpGetCompatibleParts    = "get_compatible_parts"
	OpCheckStock            = "check_stock"
	OpFindAlternatives      = "find_alternatives"
	OpReserveParts          = "reserve_parts"
	OpReleaseReservation    = "release_reservation"
	OpEstimateShipping      = "estimate_shipping"
	OpCreateShipment        = "create_shipment"
	OpTrackShipment         = "track_shipment"
	OpGetCarriers           = "get_carriers"
	OpGetComplianceReport   = "get_compliance_report"
	OpTraceMaterialBatch    = "trace_material_batch"
	OpSendNotification      = "send_notification"
)

// Request is a single capability invocation.
type Request struct {
	Group     Group          `json:"group"`
	Operation string         `json:"operation"`
	Args      map[string]any `json:"args,omitempty"`
}

// String returns "group.operation".
func (r Request) String() string {
	return fmt.Sprintf("%s.%s", r.Group, r.Operation)
}

// Result is the structured output of a capability call.
type Result map[string]any

// Decode converts the result into a typed struct via its JSON form. A
// result that does not fit the target is a malformed-result error.
func (r Result) Decode(into any) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return engine.NewMalformedResultError("capability result is not serialisable", err)
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return engine.NewMalformedResultError("capability result does not match contract", err)
	}
	return nil
}

// Client invokes capabilities.
type Client interface {
	Invoke(ctx context.Context, req Request) (Result, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, req Request) (Result, error)

// Invoke calls f.
func (f ClientFunc) Invoke(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}

// Call is Invoke followed by Decode.
func Call[T any](ctx context.Context, c Client, group Group, operation string, args map[string]any) (T, error) {
	var out T
	res, err := c.Invoke(ctx, Request{Group: group, Operation: operation, Args: args})
	if err != nil {
		return out, err
	}
	if err := res.Decode(&out); err != nil {
		return out, withCall(err, group, operation)
	}
	return out, nil
}

// ResultOf converts a struct into a Result, the inverse of Decode.
func ResultOf(v any) (Result, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out Result
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func withCall(err error, group Group, operation string) error {
	var ee *engine.EngineError
	if errors.As(err, &ee) {
		return ee.WithOperation(operation).WithDetail("group", string(group))
	}
	return err
}

// wrap classifies a raw adapter error as a capability error unless it
// already carries an engine classification.
func wrap(err error, req Request) error {
	if err == nil {
		return nil
	}
	var ee *engine.EngineError
	if errors.As(err, &ee) {
		return err
	}
	return engine.NewCapabilityError(string(req.Group), req.Operation, err)
}
