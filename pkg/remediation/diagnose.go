package remediation

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/titanworks/titan/pkg/capability"
	"github.com/titanworks/titan/pkg/engine"
)

// eventOf extracts the anomaly event from either seed wrapper.
func eventOf(facts engine.FactReader, input engine.FactType) (AnomalyEvent, error) {
	switch input {
	case TypeCriticalAnomalyInput:
		in, err := engine.Require[CriticalAnomalyInput](facts, input)
		return in.Event, err
	case TypeHighAnomalyInput:
		in, err := engine.Require[HighAnomalyInput](facts, input)
		return in.Event, err
	}
	return AnomalyEvent{}, engine.NewPermanentError(fmt.Sprintf("unsupported seed %s", input), nil).
		WithCode(engine.ErrCodeInvalidState)
}

// diagnose builds one diagnose action per seed wrapper. The wrappers keep the
// two goals from sharing an ambiguous entry edge.
func (c *Catalog) diagnose(name string, input engine.FactType) engine.Action {
	desc := engine.ActionDescriptor{
		Name:            name,
		Description:     "Analyze the anomaly to determine fault type, remaining life and urgency",
		Inputs:          []engine.FactType{input},
		Outputs:         []engine.FactType{TypeFaultDiagnosis},
		CapabilityGroup: string(capability.GroupMaintenance),
	}
	return engine.NewAction(desc, func(ctx context.Context, facts engine.FactReader) (engine.Fact, error) {
		event, err := eventOf(facts, input)
		if err != nil {
			return nil, err
		}
		args := map[string]any{"equipmentId": event.EquipmentID, "facilityId": event.FacilityID}

		out, err := c.performer.Perform(ctx, capability.Intent{
			Name:  name,
			Group: capability.GroupMaintenance,
			Facts: map[string]any{
				"equipmentId":        event.EquipmentID,
				"facilityId":         event.FacilityID,
				"failureProbability": event.Prediction.FailureProbability,
				"probableCause":      event.Prediction.ProbableCause,
			},
			Calls: []capability.Call{
				{Operation: capability.OpPredictFailure, Args: args},
				{Operation: capability.OpEstimateRUL, Args: args},
			},
			Required: []string{capability.OpPredictFailure, capability.OpEstimateRUL},
		})
		if err != nil {
			return nil, err
		}
		pred, err := decode[capability.FailurePrediction](out, capability.OpPredictFailure)
		if err != nil {
			return nil, err
		}
		rul, err := decode[capability.RULEstimate](out, capability.OpEstimateRUL)
		if err != nil {
			return nil, err
		}
		if rul.RULHours < 0 {
			return nil, engine.NewMalformedResultError(
				fmt.Sprintf("negative remaining life %.1fh", rul.RULHours), nil).
				WithOperation(capability.OpEstimateRUL)
		}

		cause := event.Prediction.ProbableCause
		if cause == "" {
			cause = pred.ProbableCause
		}
		fault := NormalizeFault(pred.FaultType)
		if fault == "" {
			fault = InferFaultType(cause)
		}
		if fault == "" {
			return nil, engine.NewMalformedResultError("could not determine fault type", nil).
				WithOperation(capability.OpPredictFailure).
				WithDetail("fault_type", pred.FaultType).
				WithDetail("probable_cause", cause)
		}

		probability := event.Prediction.FailureProbability
		if probability == 0 {
			probability = pred.FailureProbability
		}

		reg, err := c.classifier.Classify(ctx, event.EquipmentID, event.FacilityID)
		if err != nil {
			return nil, engine.NewPermanentError("regulation classification failed", err).
				WithCode(engine.ErrCodeInternal)
		}

		d := FaultDiagnosis{
			EquipmentID:        event.EquipmentID,
			FacilityID:         event.FacilityID,
			FaultType:          fault,
			FailureProbability: probability,
			ProbableCause:      cause,
			EstimatedRULHours:  rul.RULHours,
			Urgency:            ClassifyUrgency(rul.RULHours),
			RegulatedEquipment: reg.Regulated,
			Framework:          reg.Framework,
		}
		log.Debug().
			Str("equipment_id", d.EquipmentID).
			Str("fault_type", d.FaultType).
			Str("urgency", d.Urgency).
			Bool("regulated", d.RegulatedEquipment).
			Msg("Diagnosis complete")
		return d, nil
	})
}

func (c *Catalog) assessUrgency() engine.Action {
	desc := engine.ActionDescriptor{
		Name:        ActionAssessUrgency,
		Description: "Choose between emergency shutdown and direct parts assessment",
		Inputs:      []engine.FactType{TypeFaultDiagnosis},
		Outputs:     []engine.FactType{TypeImmediateUrgency, TypeDeferrableUrgency},
	}
	return engine.NewAction(desc, func(ctx context.Context, facts engine.FactReader) (engine.Fact, error) {
		d, err := engine.Require[FaultDiagnosis](facts, TypeFaultDiagnosis)
		if err != nil {
			return nil, err
		}
		if d.Urgency == UrgencyImmediate {
			return ImmediateUrgency{EquipmentID: d.EquipmentID, FacilityID: d.FacilityID}, nil
		}
		return DeferrableUrgency{EquipmentID: d.EquipmentID, FacilityID: d.FacilityID, Urgency: d.Urgency}, nil
	})
}

func (c *Catalog) emergencyShutdown() engine.Action {
	desc := engine.ActionDescriptor{
		Name:            ActionEmergencyShutdown,
		Description:     "Halt equipment with immediate failure risk",
		Inputs:          []engine.FactType{TypeImmediateUrgency},
		Outputs:         []engine.FactType{TypeShutdownConfirmation},
		CapabilityGroup: string(capability.GroupSensor),
	}
	return engine.NewAction(desc, func(ctx context.Context, facts engine.FactReader) (engine.Fact, error) {
		u, err := engine.Require[ImmediateUrgency](facts, TypeImmediateUrgency)
		if err != nil {
			return nil, err
		}
		out, err := c.performer.Perform(ctx, capability.Intent{
			Name:     ActionEmergencyShutdown,
			Group:    capability.GroupSensor,
			Facts:    map[string]any{"equipmentId": u.EquipmentID, "facilityId": u.FacilityID},
			Calls:    []capability.Call{{Operation: capability.OpGetEquipmentStatus, Args: map[string]any{"equipmentId": u.EquipmentID}}},
			Required: []string{capability.OpGetEquipmentStatus},
		})
		if err != nil {
			return nil, err
		}
		st, err := decode[capability.EquipmentStatus](out, capability.OpGetEquipmentStatus)
		if err != nil {
			return nil, err
		}

		status := "HALTED"
		switch st.State {
		case "STOPPED", "IDLE", "OFFLINE", "MAINTENANCE":
			status = "ALREADY_STOPPED"
		}
		log.Warn().
			Str("equipment_id", u.EquipmentID).
			Str("previous_state", st.State).
			Str("shutdown_status", status).
			Msg("Emergency shutdown")
		return ShutdownConfirmation{
			EquipmentID:    u.EquipmentID,
			FacilityID:     u.FacilityID,
			ShutdownStatus: status,
			PreviousState:  st.State,
			ShutdownTime:   c.now().UTC(),
		}, nil
	})
}
