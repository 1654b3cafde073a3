package remediation

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/titanworks/titan/pkg/engine"
)

// Fact types of the anomaly-response catalogue.
const (
	TypeCriticalAnomalyInput        engine.FactType = "CriticalAnomalyInput"
	TypeHighAnomalyInput            engine.FactType = "HighAnomalyInput"
	TypeFaultDiagnosis              engine.FactType = "FaultDiagnosis"
	TypeShutdownConfirmation        engine.FactType = "ShutdownConfirmation"
	TypeCrossFacilityResult         engine.FactType = "CrossFacilityResult"
	TypeMaintenanceOrder            engine.FactType = "MaintenanceOrder"
	TypeComplianceVerification      engine.FactType = "ComplianceVerification"
	TypeCriticalAnomalyResponse     engine.FactType = "CriticalAnomalyResponse"
	TypeHighAnomalyResponse         engine.FactType = "HighAnomalyResponse"
	TypeImmediateUrgency            engine.FactType = "ImmediateUrgency"
	TypeDeferrableUrgency           engine.FactType = "DeferrableUrgency"
	TypePartsAvailable              engine.FactType = "PartsAvailable"
	TypePartsUnavailable            engine.FactType = "PartsUnavailable"
	TypeRegulatedMaintenanceOrder   engine.FactType = "RegulatedMaintenanceOrder"
	TypeUnregulatedMaintenanceOrder engine.FactType = "UnregulatedMaintenanceOrder"
)

// Branch families. Exactly one variant of each may exist in a run.
const (
	FamilyUrgencyAssessment     engine.FactType = "UrgencyAssessment"
	FamilyPartsAssessment       engine.FactType = "PartsAssessment"
	FamilyComplianceRequirement engine.FactType = "ComplianceRequirement"
)

// Urgency classifications derived from remaining useful life.
const (
	UrgencyImmediate  = "IMMEDIATE"
	UrgencyWithin24h  = "WITHIN_24H"
	UrgencyWithinWeek = "WITHIN_WEEK"
)

// Compliance statuses reported by governance.
const (
	ComplianceCleared      = "CLEARED"
	ComplianceHoldRequired = "HOLD_REQUIRED"
	ComplianceReviewNeeded = "REVIEW_NEEDED"
)

// CriticalAnomalyInput seeds a run aiming at CriticalAnomalyResponse.
type CriticalAnomalyInput struct {
	Event AnomalyEvent `json:"event"`
}

func (CriticalAnomalyInput) FactType() engine.FactType { return TypeCriticalAnomalyInput }

// HighAnomalyInput seeds a run aiming at HighAnomalyResponse.
type HighAnomalyInput struct {
	Event AnomalyEvent `json:"event"`
}

func (HighAnomalyInput) FactType() engine.FactType { return TypeHighAnomalyInput }

// FaultDiagnosis is the outcome of diagnosing an anomaly.
type FaultDiagnosis struct {
	EquipmentID        string  `json:"equipmentId"`
	FacilityID         string  `json:"facilityId"`
	FaultType          string  `json:"faultType"`
	FailureProbability float64 `json:"failureProbability"`
	ProbableCause      string  `json:"probableCause"`
	EstimatedRULHours  float64 `json:"estimatedRulHours"`
	Urgency            string  `json:"urgency"`
	RegulatedEquipment bool    `json:"regulatedEquipment"`
	Framework          string  `json:"framework,omitempty"`
}

func (FaultDiagnosis) FactType() engine.FactType { return TypeFaultDiagnosis }

// ImmediateUrgency routes the run through an emergency shutdown.
type ImmediateUrgency struct {
	EquipmentID string `json:"equipmentId"`
	FacilityID  string `json:"facilityId"`
}

func (ImmediateUrgency) FactType() engine.FactType { return TypeImmediateUrgency }
func (ImmediateUrgency) Branch() engine.FactType   { return FamilyUrgencyAssessment }

// DeferrableUrgency lets the run assess parts without halting the machine.
type DeferrableUrgency struct {
	EquipmentID string `json:"equipmentId"`
	FacilityID  string `json:"facilityId"`
	Urgency     string `json:"urgency"`
}

func (DeferrableUrgency) FactType() engine.FactType { return TypeDeferrableUrgency }
func (DeferrableUrgency) Branch() engine.FactType   { return FamilyUrgencyAssessment }

// ShutdownConfirmation records the halt of equipment at immediate risk.
type ShutdownConfirmation struct {
	EquipmentID    string    `json:"equipmentId"`
	FacilityID     string    `json:"facilityId"`
	ShutdownStatus string    `json:"shutdownStatus"`
	PreviousState  string    `json:"previousState"`
	ShutdownTime   time.Time `json:"shutdownTime"`
}

func (ShutdownConfirmation) FactType() engine.FactType { return TypeShutdownConfirmation }

// CompatiblePart is one part line of a parts assessment.
type CompatiblePart struct {
	SKU             string  `json:"sku"`
	Name            string  `json:"name"`
	QuantityNeeded  int     `json:"quantityNeeded"`
	QuantityInStock int     `json:"quantityInStock"`
	UnitPrice       float64 `json:"unitPrice"`
}

// PartsAvailable means every primary part is stocked at the facility.
type PartsAvailable struct {
	EquipmentID        string           `json:"equipmentId"`
	FacilityID         string           `json:"facilityId"`
	FaultType          string           `json:"faultType"`
	Parts              []CompatiblePart `json:"parts"`
	EstimatedPartsCost float64          `json:"estimatedPartsCost"`
}

func (PartsAvailable) FactType() engine.FactType { return TypePartsAvailable }
func (PartsAvailable) Branch() engine.FactType   { return FamilyPartsAssessment }

// PartsUnavailable names the parts short locally and where they can be found.
type PartsUnavailable struct {
	EquipmentID              string           `json:"equipmentId"`
	FacilityID               string           `json:"facilityId"`
	FaultType                string           `json:"faultType"`
	PartsNeeded              []CompatiblePart `json:"partsNeeded"`
	NearestFacilityWithStock string           `json:"nearestFacilityWithStock"`
}

func (PartsUnavailable) FactType() engine.FactType { return TypePartsUnavailable }
func (PartsUnavailable) Branch() engine.FactType   { return FamilyPartsAssessment }

// CrossFacilityResult describes a transfer of parts from another facility.
type CrossFacilityResult struct {
	EquipmentID      string           `json:"equipmentId"`
	FacilityID       string           `json:"facilityId"`
	SourceFacility   string           `json:"sourceFacility"`
	ShipmentID       string           `json:"shipmentId"`
	Carrier          string           `json:"carrier,omitempty"`
	EstimatedArrival time.Time        `json:"estimatedArrival"`
	PartsShipped     []CompatiblePart `json:"partsShipped"`
	PartsRequired    []CompatiblePart `json:"partsRequired"`
	ShippingCost     float64          `json:"shippingCost"`
}

func (CrossFacilityResult) FactType() engine.FactType { return TypeCrossFacilityResult }

// ReservedPart is a part held for a work order. ReservationID is empty when
// the part is only proposed.
type ReservedPart struct {
	SKU           string  `json:"sku"`
	Name          string  `json:"name"`
	Quantity      int     `json:"quantity"`
	UnitPrice     float64 `json:"unitPrice"`
	FacilityID    string  `json:"facilityId"`
	ReservationID string  `json:"reservationId,omitempty"`
}

// MaintenanceOrder is a scheduled work order with its reserved parts.
type MaintenanceOrder struct {
	EquipmentID        string         `json:"equipmentId"`
	FacilityID         string         `json:"facilityId"`
	WorkOrderID        string         `json:"workOrderId"`
	MaintenanceType    string         `json:"maintenanceType"`
	Priority           string         `json:"priority,omitempty"`
	Technician         string         `json:"technician,omitempty"`
	PartsReserved      []ReservedPart `json:"partsReserved"`
	ScheduledDate      time.Time      `json:"scheduledDate"`
	RegulatedEquipment bool           `json:"regulatedEquipment"`
	Summary            string         `json:"summary"`
}

func (MaintenanceOrder) FactType() engine.FactType { return TypeMaintenanceOrder }

// RegulatedMaintenanceOrder holds an order that needs compliance clearance.
type RegulatedMaintenanceOrder struct {
	Order MaintenanceOrder `json:"order"`
}

func (RegulatedMaintenanceOrder) FactType() engine.FactType { return TypeRegulatedMaintenanceOrder }
func (RegulatedMaintenanceOrder) Branch() engine.FactType   { return FamilyComplianceRequirement }

// UnregulatedMaintenanceOrder holds an order that can be closed directly.
type UnregulatedMaintenanceOrder struct {
	Order MaintenanceOrder `json:"order"`
}

func (UnregulatedMaintenanceOrder) FactType() engine.FactType { return TypeUnregulatedMaintenanceOrder }
func (UnregulatedMaintenanceOrder) Branch() engine.FactType   { return FamilyComplianceRequirement }

// ComplianceVerification is the governance verdict for a regulated order.
type ComplianceVerification struct {
	EquipmentID         string           `json:"equipmentId"`
	WorkOrderID         string           `json:"workOrderId"`
	ComplianceStatus    string           `json:"complianceStatus"`
	RegulatoryFramework string           `json:"regulatoryFramework"`
	MaterialBatchID     string           `json:"materialBatchId"`
	AuditTrailRef       string           `json:"auditTrailRef"`
	Order               MaintenanceOrder `json:"order"`
}

func (ComplianceVerification) FactType() engine.FactType { return TypeComplianceVerification }

// CriticalAnomalyResponse is the goal of an automated CRITICAL run.
type CriticalAnomalyResponse struct {
	EquipmentID      string         `json:"equipmentId"`
	WorkOrderID      string         `json:"workOrderId"`
	PartsReserved    []ReservedPart `json:"partsReserved"`
	NotificationSent bool           `json:"notificationSent"`
	Summary          string         `json:"summary"`
	ComplianceStatus string         `json:"complianceStatus,omitempty"`
	Framework        string         `json:"framework,omitempty"`
}

func (CriticalAnomalyResponse) FactType() engine.FactType { return TypeCriticalAnomalyResponse }

// HighAnomalyResponse is the goal of a HIGH run: a proposal awaiting approval.
type HighAnomalyResponse struct {
	EquipmentID       string         `json:"equipmentId"`
	RecommendationID  string         `json:"recommendationId,omitempty"`
	PartsReserved     []ReservedPart `json:"partsReserved"`
	RecommendedAction string         `json:"recommendedAction"`
	Summary           string         `json:"summary"`
	FaultType         string         `json:"faultType"`
	Urgency           string         `json:"urgency"`
	PartsAvailable    bool           `json:"partsAvailable"`
	SourceFacility    string         `json:"sourceFacility,omitempty"`
}

func (HighAnomalyResponse) FactType() engine.FactType { return TypeHighAnomalyResponse }

var factFactories = map[engine.FactType]func() engine.Fact{
	TypeCriticalAnomalyInput:        func() engine.Fact { return &CriticalAnomalyInput{} },
	TypeHighAnomalyInput:            func() engine.Fact { return &HighAnomalyInput{} },
	TypeFaultDiagnosis:              func() engine.Fact { return &FaultDiagnosis{} },
	TypeImmediateUrgency:            func() engine.Fact { return &ImmediateUrgency{} },
	TypeDeferrableUrgency:           func() engine.Fact { return &DeferrableUrgency{} },
	TypeShutdownConfirmation:        func() engine.Fact { return &ShutdownConfirmation{} },
	TypePartsAvailable:              func() engine.Fact { return &PartsAvailable{} },
	TypePartsUnavailable:            func() engine.Fact { return &PartsUnavailable{} },
	TypeCrossFacilityResult:         func() engine.Fact { return &CrossFacilityResult{} },
	TypeMaintenanceOrder:            func() engine.Fact { return &MaintenanceOrder{} },
	TypeRegulatedMaintenanceOrder:   func() engine.Fact { return &RegulatedMaintenanceOrder{} },
	TypeUnregulatedMaintenanceOrder: func() engine.Fact { return &UnregulatedMaintenanceOrder{} },
	TypeComplianceVerification:      func() engine.Fact { return &ComplianceVerification{} },
	TypeCriticalAnomalyResponse:     func() engine.Fact { return &CriticalAnomalyResponse{} },
	TypeHighAnomalyResponse:         func() engine.Fact { return &HighAnomalyResponse{} },
}

// DecodeFact rebuilds a stored fact from its type name and JSON body. The
// returned fact is a value, never a pointer, so typed lookups keep working.
func DecodeFact(t engine.FactType, raw []byte) (engine.Fact, error) {
	factory, ok := factFactories[t]
	if !ok {
		return nil, engine.NewPermanentError(fmt.Sprintf("unknown fact type %s", t), nil).
			WithCode(engine.ErrCodeValidation)
	}
	ptr := factory()
	if err := json.Unmarshal(raw, ptr); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", t, err)
	}
	return deref(ptr), nil
}

func deref(f engine.Fact) engine.Fact {
	switch v := f.(type) {
	case *CriticalAnomalyInput:
		return *v
	case *HighAnomalyInput:
		return *v
	case *FaultDiagnosis:
		return *v
	case *ImmediateUrgency:
		return *v
	case *DeferrableUrgency:
		return *v
	case *ShutdownConfirmation:
		return *v
	case *PartsAvailable:
		return *v
	case *PartsUnavailable:
		return *v
	case *CrossFacilityResult:
		return *v
	case *MaintenanceOrder:
		return *v
	case *RegulatedMaintenanceOrder:
		return *v
	case *UnregulatedMaintenanceOrder:
		return *v
	case *ComplianceVerification:
		return *v
	case *CriticalAnomalyResponse:
		return *v
	case *HighAnomalyResponse:
		return *v
	}
	return f
}

// HeldReservations lists the parts in a run's facts that carry a live
// reservation. These are what compensation must release.
func HeldReservations(facts engine.FactReader) []ReservedPart {
	var held []ReservedPart
	collect := func(parts []ReservedPart) {
		for _, p := range parts {
			if p.ReservationID != "" {
				held = append(held, p)
			}
		}
	}
	if order, ok := engine.Lookup[MaintenanceOrder](facts, TypeMaintenanceOrder); ok {
		collect(order.PartsReserved)
		return held
	}
	if resp, ok := engine.Lookup[HighAnomalyResponse](facts, TypeHighAnomalyResponse); ok {
		collect(resp.PartsReserved)
	}
	return held
}
