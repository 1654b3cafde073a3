package remediation

import (
	"context"
	"fmt"
	"strings"

	"github.com/titanworks/titan/pkg/capability"
	"github.com/titanworks/titan/pkg/engine"
)

func (c *Catalog) checkCompliance() engine.Action {
	desc := engine.ActionDescriptor{
		Name:        ActionCheckCompliance,
		Description: "Decide whether the order needs regulatory verification",
		Inputs:      []engine.FactType{TypeMaintenanceOrder, TypeFaultDiagnosis},
		Outputs:     []engine.FactType{TypeRegulatedMaintenanceOrder, TypeUnregulatedMaintenanceOrder},
	}
	return engine.NewAction(desc, func(ctx context.Context, facts engine.FactReader) (engine.Fact, error) {
		order, err := engine.Require[MaintenanceOrder](facts, TypeMaintenanceOrder)
		if err != nil {
			return nil, err
		}
		d, err := engine.Require[FaultDiagnosis](facts, TypeFaultDiagnosis)
		if err != nil {
			return nil, err
		}
		if d.RegulatedEquipment {
			return RegulatedMaintenanceOrder{Order: order}, nil
		}
		return UnregulatedMaintenanceOrder{Order: order}, nil
	})
}

func (c *Catalog) verifyCompliance() engine.Action {
	desc := engine.ActionDescriptor{
		Name:            ActionVerifyCompliance,
		Description:     "Check compliance status and trace material batches for regulated equipment",
		Inputs:          []engine.FactType{TypeRegulatedMaintenanceOrder, TypeFaultDiagnosis},
		Outputs:         []engine.FactType{TypeComplianceVerification},
		CapabilityGroup: string(capability.GroupGovernance),
	}
	return engine.NewAction(desc, func(ctx context.Context, facts engine.FactReader) (engine.Fact, error) {
		reg, err := engine.Require[RegulatedMaintenanceOrder](facts, TypeRegulatedMaintenanceOrder)
		if err != nil {
			return nil, err
		}
		d, err := engine.Require[FaultDiagnosis](facts, TypeFaultDiagnosis)
		if err != nil {
			return nil, err
		}
		order := reg.Order
		out, err := c.performer.Perform(ctx, capability.Intent{
			Name:  ActionVerifyCompliance,
			Group: capability.GroupGovernance,
			Facts: map[string]any{
				"equipmentId":     order.EquipmentID,
				"facilityId":      order.FacilityID,
				"workOrderId":     order.WorkOrderID,
				"maintenanceType": order.MaintenanceType,
			},
			Calls: []capability.Call{
				{Operation: capability.OpGetComplianceReport, Args: map[string]any{"equipmentId": order.EquipmentID}},
				{Operation: capability.OpTraceMaterialBatch, Args: map[string]any{
					"equipmentId": order.EquipmentID, "workOrderId": order.WorkOrderID,
				}},
			},
			Required: []string{capability.OpGetComplianceReport, capability.OpTraceMaterialBatch},
		})
		if err != nil {
			return nil, err
		}
		report, err := decode[capability.ComplianceReport](out, capability.OpGetComplianceReport)
		if err != nil {
			return nil, err
		}
		batch, err := decode[capability.BatchTrace](out, capability.OpTraceMaterialBatch)
		if err != nil {
			return nil, err
		}

		status := strings.ToUpper(report.Status)
		switch status {
		case ComplianceCleared, ComplianceHoldRequired, ComplianceReviewNeeded:
		default:
			return nil, engine.NewMalformedResultError(fmt.Sprintf("unknown compliance status %q", report.Status), nil).
				WithOperation(capability.OpGetComplianceReport)
		}
		framework := report.Framework
		if framework == "" {
			framework = d.Framework
		}

		return ComplianceVerification{
			EquipmentID:         order.EquipmentID,
			WorkOrderID:         order.WorkOrderID,
			ComplianceStatus:    status,
			RegulatoryFramework: framework,
			MaterialBatchID:     batch.BatchID,
			AuditTrailRef:       report.AuditTrailRef,
			Order:               order,
		}, nil
	})
}

func (c *Catalog) finalize() engine.Action {
	desc := engine.ActionDescriptor{
		Name:        ActionFinalize,
		Description: "Build the response for an unregulated order",
		Inputs:      []engine.FactType{TypeUnregulatedMaintenanceOrder},
		Outputs:     []engine.FactType{TypeCriticalAnomalyResponse},
		Goal:        true,
	}
	return engine.NewAction(desc, func(ctx context.Context, facts engine.FactReader) (engine.Fact, error) {
		u, err := engine.Require[UnregulatedMaintenanceOrder](facts, TypeUnregulatedMaintenanceOrder)
		if err != nil {
			return nil, err
		}
		return CriticalAnomalyResponse{
			EquipmentID:   u.Order.EquipmentID,
			WorkOrderID:   u.Order.WorkOrderID,
			PartsReserved: u.Order.PartsReserved,
			Summary:       u.Order.Summary,
		}, nil
	})
}

func (c *Catalog) finalizeWithCompliance() engine.Action {
	desc := engine.ActionDescriptor{
		Name:        ActionFinalizeWithCompliance,
		Description: "Build the response including compliance verification",
		Inputs:      []engine.FactType{TypeComplianceVerification},
		Outputs:     []engine.FactType{TypeCriticalAnomalyResponse},
		Goal:        true,
	}
	return engine.NewAction(desc, func(ctx context.Context, facts engine.FactReader) (engine.Fact, error) {
		cv, err := engine.Require[ComplianceVerification](facts, TypeComplianceVerification)
		if err != nil {
			return nil, err
		}
		order := cv.Order
		return CriticalAnomalyResponse{
			EquipmentID:   order.EquipmentID,
			WorkOrderID:   order.WorkOrderID,
			PartsReserved: order.PartsReserved,
			Summary: fmt.Sprintf("%s | Compliance: %s (%s) | Batch: %s",
				order.Summary, cv.ComplianceStatus, cv.RegulatoryFramework, cv.MaterialBatchID),
			ComplianceStatus: cv.ComplianceStatus,
			Framework:        cv.RegulatoryFramework,
		}, nil
	})
}

// finalizeRecommendation consumes whichever parts variant the run produced.
// It never schedules work.
func (c *Catalog) finalizeRecommendation() engine.Action {
	desc := engine.ActionDescriptor{
		Name:        ActionFinalizeRecommendation,
		Description: "Assemble a maintenance proposal for human approval",
		Inputs:      []engine.FactType{TypeFaultDiagnosis, FamilyPartsAssessment},
		Outputs:     []engine.FactType{TypeHighAnomalyResponse},
		Goal:        true,
	}
	return engine.NewAction(desc, func(ctx context.Context, facts engine.FactReader) (engine.Fact, error) {
		d, err := engine.Require[FaultDiagnosis](facts, TypeFaultDiagnosis)
		if err != nil {
			return nil, err
		}
		assessment, ok := facts.Get(FamilyPartsAssessment)
		if !ok {
			return nil, engine.NewPermanentError("required input missing", nil).
				WithCode(engine.ErrCodeInvalidState).
				WithDetail("fact_type", string(FamilyPartsAssessment))
		}
		return Recommend(d, assessment), nil
	})
}

// Recommend builds the HIGH response for a diagnosis and parts assessment.
func Recommend(d FaultDiagnosis, assessment engine.Fact) HighAnomalyResponse {
	kind := "preventive"
	if d.Urgency == UrgencyImmediate {
		kind = "emergency"
	}

	resp := HighAnomalyResponse{
		EquipmentID:   d.EquipmentID,
		PartsReserved: []ReservedPart{},
		FaultType:     d.FaultType,
		Urgency:       d.Urgency,
		Summary:       fmt.Sprintf("Diagnosed %s with %d%% failure probability", d.FaultType, Percent(d.FailureProbability)),
	}

	var partsNote string
	switch a := assessment.(type) {
	case PartsAvailable:
		resp.PartsAvailable = true
		for _, p := range a.Parts {
			resp.PartsReserved = append(resp.PartsReserved, ReservedPart{
				SKU:        p.SKU,
				Name:       p.Name,
				Quantity:   p.QuantityNeeded,
				UnitPrice:  p.UnitPrice,
				FacilityID: a.FacilityID,
			})
		}
		partsNote = "Parts available locally."
	case PartsUnavailable:
		resp.SourceFacility = a.NearestFacilityWithStock
		partsNote = "Parts need cross-facility procurement from " + a.NearestFacilityWithStock
	}
	resp.RecommendedAction = fmt.Sprintf("Schedule %s maintenance for %s fault. %s", kind, d.FaultType, partsNote)
	return resp
}
