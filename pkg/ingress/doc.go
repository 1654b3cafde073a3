// Package ingress admits anomaly events and drives the runs they start.
//
// Every event passes three checks before a run is spawned:
//
//   - the event id guard in the store discards broker redeliveries;
//   - a HIGH event is skipped while a recommendation for the same equipment
//     awaits a decision;
//   - the Index decides, under one lock, whether the event starts a run,
//     duplicates a live one, or supersedes a lower-severity run in progress.
//
// Runs execute in the background. When one finishes the service persists it
// and acts on the outcome: a CRITICAL response records an automated action
// and sends the maintenance alert, a HIGH response becomes a PENDING
// recommendation, and a failed or superseded run has its part reservations
// released.
//
// Approve re-enters the CRITICAL goal from the diagnosis and parts
// assessment of the recommendation's run, so nothing is diagnosed twice.
package ingress
