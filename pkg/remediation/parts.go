package remediation

import (
	"context"
	"fmt"
	"sort"

	"github.com/titanworks/titan/pkg/capability"
	"github.com/titanworks/titan/pkg/engine"
)

// assessParts builds the parts assessment reached either after a shutdown or
// directly from a deferrable urgency. Both converge on the same branch.
func (c *Catalog) assessParts(name string, via engine.FactType, description string) engine.Action {
	desc := engine.ActionDescriptor{
		Name:            name,
		Description:     description,
		Inputs:          []engine.FactType{TypeFaultDiagnosis, via},
		Outputs:         []engine.FactType{TypePartsAvailable, TypePartsUnavailable},
		CapabilityGroup: string(capability.GroupInventory),
	}
	return engine.NewAction(desc, func(ctx context.Context, facts engine.FactReader) (engine.Fact, error) {
		d, err := engine.Require[FaultDiagnosis](facts, TypeFaultDiagnosis)
		if err != nil {
			return nil, err
		}
		if !facts.Has(via) {
			return nil, engine.NewPermanentError("required input missing", nil).
				WithCode(engine.ErrCodeInvalidState).
				WithDetail("fact_type", string(via))
		}
		return c.lookupParts(ctx, name, d)
	})
}

func (c *Catalog) lookupParts(ctx context.Context, name string, d FaultDiagnosis) (engine.Fact, error) {
	intentFacts := map[string]any{
		"equipmentId": d.EquipmentID,
		"facilityId":  d.FacilityID,
		"faultType":   d.FaultType,
	}
	out, err := c.performer.Perform(ctx, capability.Intent{
		Name:  name,
		Group: capability.GroupInventory,
		Facts: intentFacts,
		Calls: []capability.Call{{
			Operation: capability.OpGetCompatibleParts,
			Args:      map[string]any{"equipmentId": d.EquipmentID, "faultType": d.FaultType},
		}},
		Required: []string{capability.OpGetCompatibleParts},
	})
	if err != nil {
		return nil, err
	}
	catalogue, err := decode[capability.CompatibleParts](out, capability.OpGetCompatibleParts)
	if err != nil {
		return nil, err
	}
	required := primaryParts(catalogue.Parts)
	if len(required) == 0 {
		return nil, engine.NewMalformedResultError(
			fmt.Sprintf("no compatible parts for %s fault", d.FaultType), nil).
			WithOperation(capability.OpGetCompatibleParts)
	}

	calls := make([]capability.Call, len(required))
	for i, p := range required {
		calls[i] = capability.Call{Operation: capability.OpCheckStock, Args: map[string]any{"sku": p.SKU}}
	}
	out, err = c.performer.Perform(ctx, capability.Intent{
		Name:     name + ".stock",
		Group:    capability.GroupInventory,
		Facts:    intentFacts,
		Calls:    calls,
		Required: []string{capability.OpCheckStock},
	})
	if err != nil {
		return nil, err
	}

	levels := make(map[string]capability.StockLevel, len(required))
	for _, cr := range out.All(capability.OpCheckStock) {
		var level capability.StockLevel
		if err := cr.Result.Decode(&level); err != nil {
			return nil, err
		}
		levels[level.SKU] = level
	}

	parts := make([]CompatiblePart, 0, len(required))
	short := make([]CompatiblePart, 0)
	cost := 0.0
	for _, p := range required {
		level, ok := levels[p.SKU]
		if !ok {
			return nil, engine.NewMalformedResultError(fmt.Sprintf("no stock level for %s", p.SKU), nil).
				WithOperation(capability.OpCheckStock)
		}
		cp := CompatiblePart{
			SKU:             p.SKU,
			Name:            p.Name,
			QuantityNeeded:  p.QuantityNeeded,
			QuantityInStock: level.At(d.FacilityID),
			UnitPrice:       p.UnitPrice,
		}
		parts = append(parts, cp)
		cost += cp.UnitPrice * float64(cp.QuantityNeeded)
		if cp.QuantityInStock < cp.QuantityNeeded {
			short = append(short, cp)
		}
	}

	if len(short) == 0 {
		return PartsAvailable{
			EquipmentID:        d.EquipmentID,
			FacilityID:         d.FacilityID,
			FaultType:          d.FaultType,
			Parts:              parts,
			EstimatedPartsCost: cost,
		}, nil
	}
	return PartsUnavailable{
		EquipmentID:              d.EquipmentID,
		FacilityID:               d.FacilityID,
		FaultType:                d.FaultType,
		PartsNeeded:              parts,
		NearestFacilityWithStock: sourceFacility(short, levels, d.FacilityID),
	}, nil
}

// primaryParts keeps the parts flagged primary, or all of them when none is.
func primaryParts(parts []capability.PartSpec) []capability.PartSpec {
	var out []capability.PartSpec
	for _, p := range parts {
		if p.Primary {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		out = parts
	}
	for i := range out {
		if out[i].QuantityNeeded <= 0 {
			out[i].QuantityNeeded = 1
		}
	}
	return out
}

// sourceFacility picks the facility able to cover every shortfall, preferring
// the one with the most stock of the short parts. Ties resolve by name.
func sourceFacility(short []CompatiblePart, levels map[string]capability.StockLevel, local string) string {
	totals := make(map[string]int)
	covers := make(map[string]int)
	for _, p := range short {
		need := p.QuantityNeeded - p.QuantityInStock
		for _, f := range levels[p.SKU].Facilities {
			if f.FacilityID == local {
				continue
			}
			totals[f.FacilityID] += f.Quantity
			if f.Quantity >= need {
				covers[f.FacilityID]++
			}
		}
	}

	var candidates []string
	for fac, n := range covers {
		if n == len(short) {
			candidates = append(candidates, fac)
		}
	}
	if len(candidates) == 0 {
		return ""
	}
	sort.Slice(candidates, func(i, j int) bool {
		if totals[candidates[i]] != totals[candidates[j]] {
			return totals[candidates[i]] > totals[candidates[j]]
		}
		return candidates[i] < candidates[j]
	})
	return candidates[0]
}

func (c *Catalog) procureCrossFacility() engine.Action {
	desc := engine.ActionDescriptor{
		Name:            ActionProcureCrossFacility,
		Description:     "Arrange a cross-facility transfer for out-of-stock parts",
		Inputs:          []engine.FactType{TypeFaultDiagnosis, TypePartsUnavailable},
		Outputs:         []engine.FactType{TypeCrossFacilityResult},
		CapabilityGroup: string(capability.GroupLogistics),
	}
	return engine.NewAction(desc, func(ctx context.Context, facts engine.FactReader) (engine.Fact, error) {
		d, err := engine.Require[FaultDiagnosis](facts, TypeFaultDiagnosis)
		if err != nil {
			return nil, err
		}
		pu, err := engine.Require[PartsUnavailable](facts, TypePartsUnavailable)
		if err != nil {
			return nil, err
		}
		source := pu.NearestFacilityWithStock
		if source == "" {
			return nil, engine.NewConflictError(
				fmt.Sprintf("no facility stocks the parts needed for %s", pu.EquipmentID), nil).
				WithCode(engine.ErrCodeInvalidState)
		}

		var shipped []CompatiblePart
		var items []capability.ReservationItem
		var checks []capability.Call
		units := 0
		for _, p := range pu.PartsNeeded {
			need := p.QuantityNeeded - p.QuantityInStock
			if need <= 0 {
				continue
			}
			line := p
			line.QuantityNeeded = need
			shipped = append(shipped, line)
			items = append(items, capability.ReservationItem{SKU: p.SKU, Quantity: need})
			checks = append(checks, capability.Call{
				Operation: capability.OpCheckStock,
				Args:      map[string]any{"sku": p.SKU, "facilityId": source},
			})
			units += need
		}
		intentFacts := map[string]any{
			"equipmentId":    pu.EquipmentID,
			"facilityId":     pu.FacilityID,
			"sourceFacility": source,
			"faultType":      d.FaultType,
		}

		out, err := c.performer.Perform(ctx, capability.Intent{
			Name:     ActionProcureCrossFacility + ".verify",
			Group:    capability.GroupInventory,
			Facts:    intentFacts,
			Calls:    checks,
			Required: []string{capability.OpCheckStock},
		})
		if err != nil {
			return nil, err
		}
		for _, cr := range out.All(capability.OpCheckStock) {
			var level capability.StockLevel
			if err := cr.Result.Decode(&level); err != nil {
				return nil, err
			}
			for _, it := range items {
				if it.SKU == level.SKU && level.At(source) < it.Quantity {
					return nil, engine.NewConflictError(
						fmt.Sprintf("%s no longer stocks %d x %s", source, it.Quantity, it.SKU), nil).
						WithCode(engine.ErrCodeInvalidState)
				}
			}
		}

		out, err = c.performer.Perform(ctx, capability.Intent{
			Name:  ActionProcureCrossFacility,
			Group: capability.GroupLogistics,
			Facts: intentFacts,
			Calls: []capability.Call{
				{Operation: capability.OpEstimateShipping, Args: map[string]any{
					"from": source, "to": pu.FacilityID, "quantity": units,
				}},
				{Operation: capability.OpCreateShipment, Args: map[string]any{
					"from": source, "to": pu.FacilityID, "items": items, "expedited": true,
				}},
			},
			Required: []string{capability.OpCreateShipment},
		})
		if err != nil {
			return nil, err
		}
		shipment, err := decode[capability.Shipment](out, capability.OpCreateShipment)
		if err != nil {
			return nil, err
		}
		if shipment.ShipmentID == "" {
			return nil, engine.NewMalformedResultError("shipment has no id", nil).
				WithOperation(capability.OpCreateShipment)
		}
		var carrier string
		if quote, err := decode[capability.ShippingQuote](out, capability.OpEstimateShipping); err == nil {
			carrier = quote.Carrier
		}

		return CrossFacilityResult{
			EquipmentID:      pu.EquipmentID,
			FacilityID:       pu.FacilityID,
			SourceFacility:   source,
			ShipmentID:       shipment.ShipmentID,
			Carrier:          carrier,
			EstimatedArrival: shipment.EstimatedArrival,
			PartsShipped:     shipped,
			PartsRequired:    pu.PartsNeeded,
			ShippingCost:     shipment.Cost,
		}, nil
	})
}
