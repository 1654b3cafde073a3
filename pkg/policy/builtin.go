package policy

import (
	"time"
)

// GetBuiltinPolicies returns the policies shipped with the binary.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		regulationCorePolicy(),
		aerospacePrefixPolicy(),
	}
}

// regulationCorePolicy folds every contributed match into the decision.
// Operator policies only add to `match`; they never define `regulated`.
func regulationCorePolicy() Policy {
	return Policy{
		Name:        "regulation-core",
		Description: "Derives regulated and framework from the contributed matches",
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"core"},
		LoadedAt:    time.Now(),
		Rego: `package titan.regulation

import rego.v1

default regulated := false

# match may have no contributors at all, so it is read through data.
regulated if count(data.titan.regulation.match) > 0

frameworks := sort({m.framework | some m in data.titan.regulation.match})

# The alphabetically first framework wins when several apply.
framework := frameworks[0] if count(frameworks) > 0
`,
	}
}

// aerospacePrefixPolicy treats Tokyo and Munich equipment as AS9100.
func aerospacePrefixPolicy() Policy {
	return Policy{
		Name:        "aerospace-prefixes",
		Description: "Equipment at the Tokyo and Munich plants produces AS9100 aerospace parts",
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"aerospace", "as9100"},
		LoadedAt:    time.Now(),
		Rego: `package titan.regulation

import rego.v1

aerospace_prefixes := {"TYO", "MUN"}

match contains {"framework": "AS9100", "reason": sprintf("equipment prefix %s", [p]), "policy": "aerospace-prefixes"} if {
	some p in aerospace_prefixes
	startswith(upper(input.equipment_id), p)
}
`,
	}
}
