// Package harness runs program-verify scenarios against a scripted array.
//
// A scenario names a settings directory, an operation and the cells it
// selects, the resistances the array starts with, and how resistances
// respond to particular recipes. The harness runs the real controller
// against that script, checks the invariants every operation must hold,
// then checks the scenario's expectations.
//
// # Scenario Format
//
//	name: set_converges
//	description: "Two cells on one row reach target at different steps"
//	settings: ../settings
//	mode: SET
//	request:
//	  wordlines: [WL_0]
//	  bitlines: [BL_0, BL_1]
//	initial:
//	  default: 100000
//	script:
//	  - pw: 100
//	    aggressor: 1.2
//	    cells: [WL_0/BL_0]
//	    res: 40000
//	expect:
//	  state: DONE
//	  iterations: 3
//	  cells:
//	    WL_0/BL_0: {success: true, recipe: {pw: 100, aggressor: 1.2}}
//	  working_sets:
//	    - [WL_0/BL_0, WL_0/BL_1]
//	    - [WL_0/BL_1]
//	    - []
//
// A script entry fires when a pulse with its recipe reaches a listed cell
// (every pulsed cell if cells is empty); vwl narrows the match to one gate
// level. Instead of state, expect.error names the error class the
// operation must fail with: config_error, selection_error, overflow,
// hardware_fault or sync_timeout.
//
// # Invariants
//
// Every run, whatever its expectations, is checked for:
//   - strictly increasing event seq
//   - grid points visited in strictly increasing order
//   - a working set that only ever shrinks
//   - pulses that drive only the remaining cells of the pulsed row
//   - no more iterations than grid points
//
// # Deterministic Testing
//
// Operations run with a fixed operation ID, a fresh logical clock and a
// recording sleeper, so the same scenario always yields the same trace.
// RunWithGolden compares that trace with testdata/golden/<name>.golden.
package harness
