package remediation

import (
	"context"
	"math"
	"strings"
)

// Fault types recognised by the parts catalogue.
const (
	FaultBearing    = "BEARING"
	FaultMotor      = "MOTOR"
	FaultSpindle    = "SPINDLE"
	FaultCoolant    = "COOLANT"
	FaultElectrical = "ELECTRICAL"
)

// Labour defaults used to cost a recommendation.
const (
	DefaultLabourHours = 6.0
	DefaultLabourRate  = 75.0
)

// ClassifyUrgency maps remaining useful life onto an urgency class.
func ClassifyUrgency(rulHours float64) string {
	switch {
	case rulHours < 24:
		return UrgencyImmediate
	case rulHours <= 72:
		return UrgencyWithin24h
	default:
		return UrgencyWithinWeek
	}
}

var faultKeywords = []struct {
	fault    string
	keywords []string
}{
	{FaultBearing, []string{"bearing"}},
	{FaultSpindle, []string{"spindle"}},
	{FaultCoolant, []string{"coolant", "pump"}},
	{FaultElectrical, []string{"electrical", "drive", "power", "voltage", "current"}},
	{FaultMotor, []string{"motor", "servo", "winding"}},
}

// InferFaultType guesses the fault type from a free-text probable cause.
// It returns "" when nothing matches.
func InferFaultType(probableCause string) string {
	cause := strings.ToLower(probableCause)
	for _, fk := range faultKeywords {
		for _, kw := range fk.keywords {
			if strings.Contains(cause, kw) {
				return fk.fault
			}
		}
	}
	return ""
}

// NormalizeFault upper-cases a fault type and rejects unknown values.
func NormalizeFault(fault string) string {
	switch f := strings.ToUpper(strings.TrimSpace(fault)); f {
	case FaultBearing, FaultMotor, FaultSpindle, FaultCoolant, FaultElectrical:
		return f
	}
	return ""
}

// DefaultFacility derives a facility code from an equipment id prefix.
func DefaultFacility(equipmentID string) string {
	if len(equipmentID) < 3 {
		return strings.ToUpper(equipmentID)
	}
	return strings.ToUpper(equipmentID[:3])
}

// Percent renders a probability as a whole percentage.
func Percent(p float64) int {
	return int(math.Round(p * 100))
}

// EstimateCost prices a set of parts plus labour.
func EstimateCost(parts []ReservedPart, labourHours, labourRate float64) float64 {
	if len(parts) == 0 {
		return 0
	}
	total := 0.0
	for _, p := range parts {
		total += p.UnitPrice * float64(p.Quantity)
	}
	return total + labourHours*labourRate
}

// Regulation is the regulatory classification of one piece of equipment.
type Regulation struct {
	Regulated bool   `json:"regulated"`
	Framework string `json:"framework,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// RegulationClassifier decides whether equipment produces regulated output.
type RegulationClassifier interface {
	Classify(ctx context.Context, equipmentID, facilityID string) (Regulation, error)
}

// PrefixClassifier marks equipment regulated by id prefix.
type PrefixClassifier struct {
	Prefixes  []string
	Framework string
}

// DefaultClassifier treats Tokyo and Munich equipment as aerospace-regulated.
func DefaultClassifier() PrefixClassifier {
	return PrefixClassifier{Prefixes: []string{"TYO", "MUN"}, Framework: "AS9100"}
}

func (c PrefixClassifier) Classify(_ context.Context, equipmentID, _ string) (Regulation, error) {
	id := strings.ToUpper(equipmentID)
	for _, p := range c.Prefixes {
		if strings.HasPrefix(id, strings.ToUpper(p)) {
			return Regulation{Regulated: true, Framework: c.Framework, Reason: "prefix " + p}, nil
		}
	}
	return Regulation{}, nil
}
