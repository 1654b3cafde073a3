// Package config loads the titan configuration file.
//
// The file is CUE. It is unified with an embedded schema that supplies
// defaults and range constraints, decoded into Config and then checked with
// validator struct tags. Every setting is optional; an empty file (or no
// file at all) runs the simulated plant with a local SQLite store.
//
//	engine: max_steps: 32
//
//	capability: {
//		mode:    "http"
//		timeout: "10s"
//		endpoints: {
//			sensor:         "http://sensors.plant.local/rpc"
//			maintenance:    "http://cmms.plant.local/rpc"
//			inventory:      "http://erp.plant.local/rpc"
//			logistics:      "http://erp.plant.local/rpc"
//			governance:     "http://qms.plant.local/rpc"
//			communications: "http://notify.plant.local/rpc"
//		}
//	}
//
//	ingress: {
//		validity_window:    "1h"
//		recommendation_ttl: "48h"
//	}
//
//	policy: dir: "/etc/titan/policies"
//
// Unknown keys are rejected. TITAN_STORE_PATH, TITAN_LISTEN and
// TITAN_JWT_SECRET override the file.
//
// Errors are reported as ValidationErrors, positioned at the offending line
// when the problem comes from CUE.
package config
