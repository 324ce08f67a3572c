// Package engine implements the program-verify controller of an RRAM array.
//
// A programming operation walks INIT -> SWEEP -> DONE | PARTIAL:
//
//   - INIT selects the target cells, reads each once and drops the ones
//     already at target. An empty working set goes straight to DONE.
//   - SWEEP walks the recipe grid in ascending order. At each point one
//     pulse is issued per wordline that still has unconverged cells, then
//     the working set is re-read and converged cells leave it.
//   - DONE means every cell met its target; PARTIAL means the grid ran out
//     first. Neither is an error.
//
// The controller is strictly sequential: one pulse or measurement is in
// flight at a time, and the only goroutines involved belong to the
// instrument layer behind the Pulser and Meter interfaces.
//
// Events are stamped with a logical Clock so traces are reproducible.
// Wall-clock time never orders anything.
package engine
