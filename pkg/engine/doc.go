// Package engine implements the goal-directed orchestration core: a
// write-once fact store, a static action catalogue, a reachability planner
// and the plan-act loop that drives one run to its goal.
//
// # Overview
//
// A run starts from seed facts and a goal fact type. After every action the
// planner recomputes the shortest chain of actions from the current facts to
// the goal and the executor runs only its first step:
//
//	seed facts -> Planner.Next -> Action.Execute -> FactStore.Put -> Planner.Next -> ... -> goal
//
// Re-planning after each step is what makes branches work: a branch action
// materialises one variant of a sealed family, which forecloses the actions
// registered against its siblings.
//
// # Facts
//
// Facts are typed by a nominal FactType. The FactStore holds at most one
// fact per type and at most one variant per branch family; a second write
// fails with a DUPLICATE_FACT error. Because facts never change, planning is
// a deterministic search and never backtracks.
//
// # Catalogue
//
// Actions declare their inputs, possible outputs, capability group and
// whether they achieve a goal. Registry.Validate rejects catalogues where
// two actions share an (inputs -> output) edge; distinct wrapper fact types
// are the way to give two consumers of the same payload separate edges.
//
// # Errors
//
// All failures are *EngineError values classified by ErrorClass and Code:
//
//   - PLANNING_DEAD_END: no chain reaches the goal
//   - CAPABILITY_ERROR, CAPABILITY_TIMEOUT: an external capability failed
//   - MALFORMED_RESULT: an action or capability broke its output contract
//   - DUPLICATE_FACT: write-once violation
//   - AMBIGUOUS_ACTION, CATALOGUE_INVALID: rejected at startup
//
// A failed run keeps a Failure describing the failing action, the last fact
// produced and the facts present at that point.
//
// # Concurrency
//
// Runs are independent and may execute in parallel on one Executor. Within
// a run actions are strictly sequential. Supersession is cooperative: Run.Supersede
// flips the status and the executor stops at its next iteration.
package engine
