// Package policy decides which equipment is regulated, using Open Policy
// Agent.
//
// Every policy is a Rego module in package titan.regulation. The built-in
// regulation-core module derives the decision:
//
//	regulated   true when at least one match exists
//	framework   the first framework among the matches, alphabetically
//
// and contributing modules add reasons to the match set:
//
//	package titan.regulation
//
//	import rego.v1
//
//	match contains {"framework": "FAA-PART21", "reason": "facility ICT"} if {
//		input.facility_id == "ICT"
//	}
//
// The built-in aerospace-prefixes module marks equipment whose id starts
// with TYO or MUN as AS9100.
//
// Operator policies are loaded from a directory and reloaded when a .rego
// file changes:
//
//	eng, err := policy.NewEngine(logger)
//	if err != nil {
//		return err
//	}
//	err = eng.Watch(ctx, []string{"/etc/titan/policies"}, func(n int, err error) {
//		// report the reload
//	})
//
// A set that fails to compile is rejected as a whole and the previous set
// stays active. Engine implements remediation.RegulationClassifier and is
// handed to the catalogue with remediation.WithClassifier.
package policy
