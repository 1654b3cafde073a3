// Package api serves the titan HTTP interface: anomaly event ingestion,
// equipment risk observations, run and recommendation status, and the
// approval workflow.
//
// Approve and dismiss require an HS256 bearer token whose role claim equals
// the configured approver role; the token subject is recorded as the
// decision maker. Without a configured secret those two routes answer 503.
//
//	POST /api/v1/events
//	POST /api/v1/equipment/{id}/risk
//	GET  /api/v1/runs[?equipment=&status=&limit=&offset=]
//	GET  /api/v1/runs/{id}
//	GET  /api/v1/recommendations[?status=]
//	GET  /api/v1/recommendations/{id}
//	POST /api/v1/recommendations/{id}/approve
//	POST /api/v1/recommendations/{id}/dismiss
//	GET  /api/v1/actions[?equipment=]
//	GET  /metrics
//	GET  /healthz
package api
