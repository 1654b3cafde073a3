package remediation

import (
	"context"
	"testing"
	"time"

	"github.com/titanworks/titan/pkg/engine"
)

func TestClassifyUrgency(t *testing.T) {
	tests := []struct {
		rul  float64
		want string
	}{
		{0, UrgencyImmediate},
		{23.9, UrgencyImmediate},
		{24, UrgencyWithin24h},
		{60, UrgencyWithin24h},
		{72, UrgencyWithin24h},
		{72.5, UrgencyWithinWeek},
		{500, UrgencyWithinWeek},
	}
	for _, tt := range tests {
		if got := ClassifyUrgency(tt.rul); got != tt.want {
			t.Errorf("ClassifyUrgency(%v) = %s, want %s", tt.rul, got, tt.want)
		}
	}
}

func TestInferFaultType(t *testing.T) {
	tests := []struct {
		cause string
		want  string
	}{
		{"Bearing degradation", FaultBearing},
		{"Spindle runout above tolerance", FaultSpindle},
		{"Coolant flow restriction", FaultCoolant},
		{"Intermittent drive fault", FaultElectrical},
		{"Servo motor winding overheating", FaultMotor},
		{"unexplained noise", ""},
	}
	for _, tt := range tests {
		if got := InferFaultType(tt.cause); got != tt.want {
			t.Errorf("InferFaultType(%q) = %q, want %q", tt.cause, got, tt.want)
		}
	}
}

func TestDefaultFacility(t *testing.T) {
	tests := map[string]string{
		"TYO-CNC-004": "TYO",
		"det-7":       "DET",
		"AB":          "AB",
	}
	for id, want := range tests {
		if got := DefaultFacility(id); got != want {
			t.Errorf("DefaultFacility(%q) = %q, want %q", id, got, want)
		}
	}
}

func TestPrefixClassifier(t *testing.T) {
	c := DefaultClassifier()
	tests := []struct {
		id        string
		regulated bool
	}{
		{"TYO-CNC-004", true},
		{"mun-mill-002", true},
		{"X-001", false},
		{"DET-TYO-1", false},
	}
	for _, tt := range tests {
		reg, err := c.Classify(context.Background(), tt.id, "")
		if err != nil {
			t.Fatalf("Classify(%s) failed: %v", tt.id, err)
		}
		if reg.Regulated != tt.regulated {
			t.Errorf("Classify(%s) = %+v", tt.id, reg)
		}
		if reg.Regulated && reg.Framework != "AS9100" {
			t.Errorf("framework = %q", reg.Framework)
		}
	}
}

func TestEstimateCost(t *testing.T) {
	parts := []ReservedPart{{SKU: "BRG-6205", Quantity: 2, UnitPrice: 45.5}}
	if got := EstimateCost(parts, DefaultLabourHours, DefaultLabourRate); got != 541 {
		t.Errorf("cost = %v, want 541", got)
	}
	if got := EstimateCost(nil, DefaultLabourHours, DefaultLabourRate); got != 0 {
		t.Errorf("cost without parts = %v, want 0", got)
	}
}

func TestRecommend_ImmediateUrgency(t *testing.T) {
	d := FaultDiagnosis{EquipmentID: "X-002", FaultType: FaultMotor, FailureProbability: 0.914, Urgency: UrgencyImmediate}
	resp := Recommend(d, PartsUnavailable{NearestFacilityWithStock: "CHI"})
	if resp.RecommendedAction != "Schedule emergency maintenance for MOTOR fault. Parts need cross-facility procurement from CHI" {
		t.Errorf("recommended action = %q", resp.RecommendedAction)
	}
	if resp.Summary != "Diagnosed MOTOR with 91% failure probability" {
		t.Errorf("summary = %q", resp.Summary)
	}
	if len(resp.PartsReserved) != 0 || resp.SourceFacility != "CHI" {
		t.Errorf("response = %+v", resp)
	}
}

func TestAnomalyEvent_Validate(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		event   AnomalyEvent
		wantErr bool
	}{
		{
			name:  "facility derived",
			event: AnomalyEvent{EventType: "anomaly_critical", EquipmentID: "DET-LATHE-1", Prediction: Prediction{FailureProbability: 0.9}},
		},
		{
			name:    "unknown type",
			event:   AnomalyEvent{EventType: "ANOMALY_LOW", EquipmentID: "X-001"},
			wantErr: true,
		},
		{
			name:    "missing equipment",
			event:   AnomalyEvent{EventType: EventTypeHigh},
			wantErr: true,
		},
		{
			name:    "probability out of range",
			event:   AnomalyEvent{EventType: EventTypeHigh, EquipmentID: "X-001", Prediction: Prediction{FailureProbability: 1.4}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := tt.event.Normalize(now)
			err := ev.Validate()
			if tt.wantErr {
				if engine.ErrorCode(err) != engine.ErrCodeValidation {
					t.Errorf("error = %v, want VALIDATION_ERROR", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ev.FacilityID != "DET" || ev.EventID == "" || !ev.Timestamp.Equal(now) {
				t.Errorf("normalized = %+v", ev)
			}
			if ev.Severity() != SeverityCritical {
				t.Errorf("severity = %s", ev.Severity())
			}
		})
	}
}

func TestDecodeFact(t *testing.T) {
	raw := []byte(`{"equipmentId":"X-001","facilityId":"DET","faultType":"BEARING","parts":[{"sku":"BRG-6205","quantityNeeded":2}]}`)
	f, err := DecodeFact(TypePartsAvailable, raw)
	if err != nil {
		t.Fatalf("DecodeFact failed: %v", err)
	}
	pa, ok := f.(PartsAvailable)
	if !ok {
		t.Fatalf("decoded %T, want PartsAvailable value", f)
	}
	if pa.Branch() != FamilyPartsAssessment || len(pa.Parts) != 1 {
		t.Errorf("decoded = %+v", pa)
	}

	if _, err := DecodeFact("Nope", raw); err == nil {
		t.Error("expected error for unknown type")
	}
}
