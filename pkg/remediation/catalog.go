package remediation

import (
	"fmt"
	"time"

	"github.com/titanworks/titan/pkg/capability"
	"github.com/titanworks/titan/pkg/engine"
)

// Action names of the catalogue.
const (
	ActionDiagnose                  = "diagnose"
	ActionDiagnoseHigh              = "diagnoseHigh"
	ActionAssessUrgency             = "assessUrgency"
	ActionEmergencyShutdown         = "emergencyShutdown"
	ActionAssessPartsAfterShutdown  = "assessPartsAfterShutdown"
	ActionAssessPartsDirect         = "assessPartsDirect"
	ActionProcureCrossFacility      = "procureCrossFacility"
	ActionScheduleWithLocalParts    = "scheduleWithLocalParts"
	ActionScheduleWithProcuredParts = "scheduleWithProcuredParts"
	ActionCheckCompliance           = "checkCompliance"
	ActionVerifyCompliance          = "verifyCompliance"
	ActionFinalize                  = "finalize"
	ActionFinalizeWithCompliance    = "finalizeWithCompliance"
	ActionFinalizeRecommendation    = "finalizeRecommendation"
)

// Catalog builds the anomaly-response actions over a capability performer
// and a regulation classifier.
type Catalog struct {
	performer  *capability.Performer
	classifier RegulationClassifier
	now        func() time.Time
}

// CatalogOption configures a Catalog.
type CatalogOption func(*Catalog)

// WithClassifier replaces the default prefix-based regulation rule.
func WithClassifier(c RegulationClassifier) CatalogOption {
	return func(cat *Catalog) {
		if c != nil {
			cat.classifier = c
		}
	}
}

// WithClock sets the time source used for shutdown timestamps.
func WithClock(now func() time.Time) CatalogOption {
	return func(cat *Catalog) {
		if now != nil {
			cat.now = now
		}
	}
}

// NewCatalog creates a catalogue whose actions call capabilities through p.
func NewCatalog(p *capability.Performer, opts ...CatalogOption) *Catalog {
	c := &Catalog{
		performer:  p,
		classifier: DefaultClassifier(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Actions returns every action of the catalogue.
func (c *Catalog) Actions() []engine.Action {
	return []engine.Action{
		c.diagnose(ActionDiagnose, TypeCriticalAnomalyInput),
		c.diagnose(ActionDiagnoseHigh, TypeHighAnomalyInput),
		c.assessUrgency(),
		c.emergencyShutdown(),
		c.assessParts(ActionAssessPartsAfterShutdown, TypeShutdownConfirmation,
			"Find compatible parts for equipment that has been shut down"),
		c.assessParts(ActionAssessPartsDirect, TypeDeferrableUrgency,
			"Find compatible parts and check local stock"),
		c.procureCrossFacility(),
		c.scheduleWithLocalParts(),
		c.scheduleWithProcuredParts(),
		c.checkCompliance(),
		c.verifyCompliance(),
		c.finalize(),
		c.finalizeWithCompliance(),
		c.finalizeRecommendation(),
	}
}

// NewRegistry declares goals and branches, registers the catalogue and
// validates it.
func (c *Catalog) NewRegistry() (*engine.Registry, error) {
	r := engine.NewRegistry()
	r.DeclareGoal(TypeCriticalAnomalyResponse)
	r.DeclareGoal(TypeHighAnomalyResponse)

	branches := []struct {
		family   engine.FactType
		variants []engine.FactType
	}{
		{FamilyUrgencyAssessment, []engine.FactType{TypeImmediateUrgency, TypeDeferrableUrgency}},
		{FamilyPartsAssessment, []engine.FactType{TypePartsAvailable, TypePartsUnavailable}},
		{FamilyComplianceRequirement, []engine.FactType{TypeRegulatedMaintenanceOrder, TypeUnregulatedMaintenanceOrder}},
	}
	for _, b := range branches {
		if err := r.DeclareBranch(b.family, b.variants...); err != nil {
			return nil, err
		}
	}

	for _, a := range c.Actions() {
		if err := r.Register(a); err != nil {
			return nil, err
		}
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// GoalFor returns the goal type a run for the given severity aims at.
func GoalFor(s Severity) (engine.FactType, error) {
	switch s {
	case SeverityCritical:
		return TypeCriticalAnomalyResponse, nil
	case SeverityHigh:
		return TypeHighAnomalyResponse, nil
	}
	return "", engine.NewPermanentError(fmt.Sprintf("no goal for severity %q", s), nil).
		WithCode(engine.ErrCodeValidation)
}

// Seed returns the seed facts and goal for a fresh event.
func Seed(event AnomalyEvent) ([]engine.Fact, engine.FactType, error) {
	goal, err := GoalFor(event.Severity())
	if err != nil {
		return nil, "", err
	}
	if goal == TypeCriticalAnomalyResponse {
		return []engine.Fact{CriticalAnomalyInput{Event: event}}, goal, nil
	}
	return []engine.Fact{HighAnomalyInput{Event: event}}, goal, nil
}

// ApprovalSeed returns the facts an approved recommendation re-enters the
// CRITICAL goal with: the diagnosis and the parts assessment variant.
func ApprovalSeed(diagnosis FaultDiagnosis, parts engine.Fact) ([]engine.Fact, error) {
	switch parts.(type) {
	case PartsAvailable, PartsUnavailable:
		return []engine.Fact{diagnosis, parts}, nil
	}
	return nil, engine.NewPermanentError("approval seed needs a parts assessment", nil).
		WithCode(engine.ErrCodeInvalidState).
		WithDetail("fact_type", fmt.Sprintf("%T", parts))
}

// decode pulls the first result of op out of an outcome.
func decode[T any](out capability.Outcome, op string) (T, error) {
	var v T
	res, ok := out.First(op)
	if !ok {
		return v, engine.NewMalformedResultError(fmt.Sprintf("no %s result", op), nil).WithOperation(op)
	}
	if err := res.Decode(&v); err != nil {
		return v, err
	}
	return v, nil
}
