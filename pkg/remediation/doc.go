// Package remediation is the anomaly-response catalogue: the inbound event
// model, the facts a run accumulates and the actions that turn an anomaly
// into a scheduled work order or a recommendation.
//
// CRITICAL events aim at CriticalAnomalyResponse:
//
//	diagnose -> assessUrgency -+-> emergencyShutdown -> assessPartsAfterShutdown -+
//	                           +-> assessPartsDirect --------------------------------+
//	  -+-> scheduleWithLocalParts ------------------------------+
//	   +-> procureCrossFacility -> scheduleWithProcuredParts ---+
//	  -> checkCompliance -+-> finalize
//	                      +-> verifyCompliance -> finalizeWithCompliance
//
// HIGH events share diagnosis and parts assessment and end at
// finalizeRecommendation, which proposes work without scheduling it.
//
// Capability calls go through a capability.Performer, so the operations an
// action issues can be chosen by a strategy while the action still owns the
// interpretation of the results.
package remediation
