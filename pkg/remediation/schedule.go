package remediation

import (
	"context"
	"fmt"
	"time"

	"github.com/titanworks/titan/pkg/capability"
	"github.com/titanworks/titan/pkg/engine"
)

// Maintenance types requested from the maintenance group.
const (
	MaintenanceEmergency  = "EMERGENCY"
	MaintenancePredictive = "PREDICTIVE"
)

func (c *Catalog) scheduleWithLocalParts() engine.Action {
	desc := engine.ActionDescriptor{
		Name:            ActionScheduleWithLocalParts,
		Description:     "Schedule emergency maintenance using parts stocked locally",
		Inputs:          []engine.FactType{TypeFaultDiagnosis, TypePartsAvailable},
		Outputs:         []engine.FactType{TypeMaintenanceOrder},
		CapabilityGroup: string(capability.GroupMaintenance),
	}
	return engine.NewAction(desc, func(ctx context.Context, facts engine.FactReader) (engine.Fact, error) {
		d, err := engine.Require[FaultDiagnosis](facts, TypeFaultDiagnosis)
		if err != nil {
			return nil, err
		}
		pa, err := engine.Require[PartsAvailable](facts, TypePartsAvailable)
		if err != nil {
			return nil, err
		}
		notes := fmt.Sprintf("%s fault, %d%% failure probability, %s urgency; parts available locally",
			d.FaultType, Percent(d.FailureProbability), d.Urgency)
		order, err := c.schedule(ctx, ActionScheduleWithLocalParts, d, MaintenanceEmergency, time.Time{}, notes, pa.Parts)
		if err != nil {
			return nil, err
		}
		order.Summary = fmt.Sprintf("%s maintenance %s scheduled for %s: %s fault at %d%% failure probability, %d part line(s) reserved locally",
			order.MaintenanceType, order.WorkOrderID, d.EquipmentID, d.FaultType,
			Percent(d.FailureProbability), len(order.PartsReserved))
		return order, nil
	})
}

func (c *Catalog) scheduleWithProcuredParts() engine.Action {
	desc := engine.ActionDescriptor{
		Name:            ActionScheduleWithProcuredParts,
		Description:     "Schedule maintenance coordinated with an incoming parts shipment",
		Inputs:          []engine.FactType{TypeFaultDiagnosis, TypeCrossFacilityResult},
		Outputs:         []engine.FactType{TypeMaintenanceOrder},
		CapabilityGroup: string(capability.GroupMaintenance),
	}
	return engine.NewAction(desc, func(ctx context.Context, facts engine.FactReader) (engine.Fact, error) {
		d, err := engine.Require[FaultDiagnosis](facts, TypeFaultDiagnosis)
		if err != nil {
			return nil, err
		}
		cf, err := engine.Require[CrossFacilityResult](facts, TypeCrossFacilityResult)
		if err != nil {
			return nil, err
		}
		mtype := MaintenancePredictive
		if d.Urgency == UrgencyImmediate {
			mtype = MaintenanceEmergency
		}
		notes := fmt.Sprintf("%s fault, %d%% failure probability, %s urgency; parts in transit from %s on shipment %s, ETA %s",
			d.FaultType, Percent(d.FailureProbability), d.Urgency,
			cf.SourceFacility, cf.ShipmentID, cf.EstimatedArrival.Format(time.RFC3339))
		parts := cf.PartsRequired
		if len(parts) == 0 {
			parts = cf.PartsShipped
		}
		order, err := c.schedule(ctx, ActionScheduleWithProcuredParts, d, mtype, cf.EstimatedArrival, notes, parts)
		if err != nil {
			return nil, err
		}
		order.Summary = fmt.Sprintf("%s maintenance %s scheduled for %s: %s fault at %d%% failure probability, parts shipped from %s (%s, ETA %s)",
			order.MaintenanceType, order.WorkOrderID, d.EquipmentID, d.FaultType,
			Percent(d.FailureProbability), cf.SourceFacility, cf.ShipmentID,
			cf.EstimatedArrival.Format(time.RFC3339))
		return order, nil
	})
}

// schedule creates the work order and then reserves its parts. A reservation
// failure leaves the work order in place; nothing has been reserved yet.
func (c *Catalog) schedule(ctx context.Context, name string, d FaultDiagnosis, mtype string,
	when time.Time, notes string, parts []CompatiblePart) (MaintenanceOrder, error) {
	args := map[string]any{
		"equipmentId":     d.EquipmentID,
		"facilityId":      d.FacilityID,
		"maintenanceType": mtype,
		"faultType":       d.FaultType,
		"notes":           notes,
	}
	if !when.IsZero() {
		args["scheduledDate"] = when.UTC().Format(time.RFC3339Nano)
	}
	intentFacts := map[string]any{
		"equipmentId": d.EquipmentID,
		"facilityId":  d.FacilityID,
		"urgency":     d.Urgency,
	}

	out, err := c.performer.Perform(ctx, capability.Intent{
		Name:     name,
		Group:    capability.GroupMaintenance,
		Facts:    intentFacts,
		Calls:    []capability.Call{{Operation: capability.OpScheduleMaintenance, Args: args}},
		Required: []string{capability.OpScheduleMaintenance},
	})
	if err != nil {
		return MaintenanceOrder{}, err
	}
	wo, err := decode[capability.WorkOrder](out, capability.OpScheduleMaintenance)
	if err != nil {
		return MaintenanceOrder{}, err
	}
	if wo.WorkOrderID == "" {
		return MaintenanceOrder{}, engine.NewMalformedResultError("work order has no id", nil).
			WithOperation(capability.OpScheduleMaintenance)
	}

	reserved, err := c.reserve(ctx, name, d, wo.WorkOrderID, parts)
	if err != nil {
		return MaintenanceOrder{}, engine.NewTransientError("work order created but parts reservation failed", err).
			WithCode(engine.ErrorCode(err)).
			WithOperation(capability.OpReserveParts).
			WithDetail("work_order_id", wo.WorkOrderID)
	}

	return MaintenanceOrder{
		EquipmentID:        d.EquipmentID,
		FacilityID:         d.FacilityID,
		WorkOrderID:        wo.WorkOrderID,
		MaintenanceType:    mtype,
		Priority:           wo.Priority,
		Technician:         wo.Technician,
		PartsReserved:      reserved,
		ScheduledDate:      wo.ScheduledDate,
		RegulatedEquipment: d.RegulatedEquipment,
	}, nil
}

func (c *Catalog) reserve(ctx context.Context, name string, d FaultDiagnosis, workOrderID string,
	parts []CompatiblePart) ([]ReservedPart, error) {
	if len(parts) == 0 {
		return []ReservedPart{}, nil
	}
	items := make([]capability.ReservationItem, len(parts))
	for i, p := range parts {
		items[i] = capability.ReservationItem{SKU: p.SKU, Quantity: p.QuantityNeeded}
	}
	out, err := c.performer.Perform(ctx, capability.Intent{
		Name:  name + ".reserve",
		Group: capability.GroupInventory,
		Facts: map[string]any{"equipmentId": d.EquipmentID, "workOrderId": workOrderID},
		Calls: []capability.Call{{Operation: capability.OpReserveParts, Args: map[string]any{
			"facilityId":  d.FacilityID,
			"workOrderId": workOrderID,
			"items":       items,
		}}},
		Required: []string{capability.OpReserveParts},
	})
	if err != nil {
		return nil, err
	}
	res, err := decode[capability.Reservations](out, capability.OpReserveParts)
	if err != nil {
		return nil, err
	}

	bySKU := make(map[string]capability.Reservation, len(res.Reservations))
	for _, r := range res.Reservations {
		bySKU[r.SKU] = r
	}
	reserved := make([]ReservedPart, 0, len(parts))
	for _, p := range parts {
		r, ok := bySKU[p.SKU]
		if !ok || r.ReservationID == "" {
			return nil, engine.NewMalformedResultError(fmt.Sprintf("no reservation returned for %s", p.SKU), nil).
				WithOperation(capability.OpReserveParts)
		}
		facility := r.FacilityID
		if facility == "" {
			facility = d.FacilityID
		}
		reserved = append(reserved, ReservedPart{
			SKU:           p.SKU,
			Name:          p.Name,
			Quantity:      r.Quantity,
			UnitPrice:     p.UnitPrice,
			FacilityID:    facility,
			ReservationID: r.ReservationID,
		})
	}
	return reserved, nil
}
