// Package stores persists what the orchestration service needs to keep
// beyond a single run: finished runs with their step trace and fact
// snapshot, HIGH recommendations awaiting a decision, automated CRITICAL
// responses, the ids of events already processed (the redelivery guard) and
// an audit log fed from the lifecycle event bus.
//
// The SQLite implementation runs in WAL mode with embedded migrations.
package stores
