package remediation

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/titanworks/titan/pkg/engine"
)

// Event types emitted by the upstream scoring pipeline.
const (
	EventTypeCritical = "ANOMALY_CRITICAL"
	EventTypeHigh     = "ANOMALY_HIGH"
)

// Severity is the escalation level of an anomaly.
type Severity string

const (
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Rank orders severities so a higher rank supersedes a lower one.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityHigh:
		return 1
	default:
		return 0
	}
}

// Risk levels carried by risk observations. LOW and MEDIUM mean the equipment
// has returned to normal.
const (
	RiskLow      = "LOW"
	RiskMedium   = "MEDIUM"
	RiskHigh     = "HIGH"
	RiskCritical = "CRITICAL"
)

// IsNormalRisk reports whether a risk level counts as recovered.
func IsNormalRisk(level string) bool {
	switch strings.ToUpper(level) {
	case RiskLow, RiskMedium, "NORMAL":
		return true
	}
	return false
}

// Prediction is the scoring result attached to an anomaly event.
type Prediction struct {
	FailureProbability float64   `json:"failureProbability" validate:"gte=0,lte=1"`
	RiskLevel          string    `json:"riskLevel,omitempty"`
	ProbableCause      string    `json:"probableCause,omitempty"`
	VibrationAvg       float64   `json:"vibrationAvg,omitempty"`
	TemperatureAvg     float64   `json:"temperatureAvg,omitempty"`
	PowerAvg           float64   `json:"powerAvg,omitempty"`
	RPMAvg             float64   `json:"rpmAvg,omitempty"`
	PressureAvg        float64   `json:"pressureAvg,omitempty"`
	TorqueAvg          float64   `json:"torqueAvg,omitempty"`
	ScoredAt           time.Time `json:"scoredAt,omitempty"`
}

// AnomalyEvent is one severity-classified anomaly notification.
type AnomalyEvent struct {
	EventID     string     `json:"eventId" validate:"required"`
	EventType   string     `json:"eventType" validate:"required,oneof=ANOMALY_CRITICAL ANOMALY_HIGH"`
	EquipmentID string     `json:"equipmentId" validate:"required,max=64"`
	FacilityID  string     `json:"facilityId" validate:"required,max=16"`
	Timestamp   time.Time  `json:"timestamp,omitempty"`
	Prediction  Prediction `json:"prediction"`
}

// Severity derives the escalation level from the event type.
func (e AnomalyEvent) Severity() Severity {
	switch e.EventType {
	case EventTypeCritical:
		return SeverityCritical
	case EventTypeHigh:
		return SeverityHigh
	default:
		return ""
	}
}

// DetectedAt returns the scoring time, falling back to the event timestamp.
func (e AnomalyEvent) DetectedAt() time.Time {
	if !e.Prediction.ScoredAt.IsZero() {
		return e.Prediction.ScoredAt
	}
	return e.Timestamp
}

// Normalize fills defaults the upstream producer may omit: a facility derived
// from the equipment id, an event id and a timestamp.
func (e AnomalyEvent) Normalize(now time.Time) AnomalyEvent {
	e.EquipmentID = strings.TrimSpace(e.EquipmentID)
	e.EventType = strings.ToUpper(strings.TrimSpace(e.EventType))
	if e.FacilityID == "" {
		e.FacilityID = DefaultFacility(e.EquipmentID)
	}
	if e.EventID == "" {
		e.EventID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = now.UTC()
	}
	if e.Prediction.RiskLevel == "" {
		e.Prediction.RiskLevel = string(e.Severity())
	}
	return e
}

var validate = validator.New()

// Validate checks the event against its struct constraints.
func (e AnomalyEvent) Validate() error {
	if err := validate.Struct(e); err != nil {
		var verrs validator.ValidationErrors
		fields := []string{}
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s(%s)", fe.Field(), fe.Tag()))
			}
		}
		return engine.NewPermanentError("invalid anomaly event", err).
			WithCode(engine.ErrCodeValidation).
			WithDetail("fields", fields)
	}
	return nil
}
