package harness

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/roach88/rram/internal/cells"
	"github.com/roach88/rram/internal/engine"
	"github.com/roach88/rram/internal/topology"
	"github.com/roach88/rram/internal/waveform"
)

// resTolerance is the relative tolerance of expected resistances.
const resTolerance = 1e-6

// AssertionError is an expectation that did not hold.
type AssertionError struct {
	Type     string         // What was checked, e.g. "state" or "cell WL_0/BL_0"
	Expected string         // Human-readable expected outcome
	Actual   string         // Human-readable actual outcome
	Trace    []engine.Event // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s", ev.Seq, ev.Kind)
			if ev.Recipe != nil {
				fmt.Fprintf(&buf, " %s", recipeString(*ev.Recipe))
			}
			if ev.Wordline != "" {
				fmt.Fprintf(&buf, " %s", ev.Wordline)
			}
			if len(ev.WorkingSet) > 0 {
				fmt.Fprintf(&buf, " ws=%v", ev.WorkingSet)
			}
			buf.WriteByte('\n')
		}
	}
	return buf.String()
}

func fail(r *Result, typ, expected, actual string) {
	r.AddError((&AssertionError{Type: typ, Expected: expected, Actual: actual, Trace: r.Trace}).Error())
}

// checkExpectations compares the result with the scenario's expectations.
func checkExpectations(s *Scenario, r *Result) {
	e := s.Expect

	if e.Error != "" {
		if r.Err == nil {
			fail(r, "error", e.Error, "no error")
		} else if got := ErrorClass(r.Err); !matchesClass(e.Error, r.Err) {
			fail(r, "error", e.Error, fmt.Sprintf("%s: %v", got, r.Err))
		}
	} else if r.Err != nil {
		fail(r, "error", "none", fmt.Sprintf("%s: %v", ErrorClass(r.Err), r.Err))
		return
	}

	if e.State != "" && r.Outcome != nil && string(r.Outcome.State) != e.State {
		fail(r, "state", e.State, string(r.Outcome.State))
	}
	if e.Iterations != nil && r.Outcome != nil && r.Outcome.Iterations != *e.Iterations {
		fail(r, "iterations", fmt.Sprint(*e.Iterations), fmt.Sprint(r.Outcome.Iterations))
	}
	if e.Pulses != nil && r.Pulses != *e.Pulses {
		fail(r, "pulses", fmt.Sprint(*e.Pulses), fmt.Sprint(r.Pulses))
	}

	checkCells(s, r)
	checkWorkingSets(e.WorkingSets, r)
}

// cellResults returns the per-cell outcome: the result's cells, or the
// snapshot of a hardware fault.
func cellResults(r *Result) []engine.CellResult {
	if r.Outcome != nil {
		return r.Outcome.Cells
	}
	var hf *engine.HardwareFault
	if errors.As(r.Err, &hf) {
		return hf.Snapshot
	}
	return nil
}

func checkCells(s *Scenario, r *Result) {
	if len(s.Expect.Cells) == 0 {
		return
	}
	byName := make(map[string]engine.CellResult)
	for _, c := range cellResults(r) {
		byName[c.Cell.String()] = c
	}

	names := make([]string, 0, len(s.Expect.Cells))
	for name := range s.Expect.Cells {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		want := s.Expect.Cells[name]
		id, _ := cells.ParseCellID(name)
		got, ok := byName[id.String()]
		typ := "cell " + name
		if !ok {
			fail(r, typ, "cell in result", "missing")
			continue
		}
		if want.Success != nil && got.Success != *want.Success {
			fail(r, typ, fmt.Sprintf("success=%t", *want.Success), fmt.Sprintf("success=%t", got.Success))
		}
		if want.Res != nil && !closeTo(got.Resistance, *want.Res) {
			fail(r, typ, fmt.Sprintf("res=%g", *want.Res), fmt.Sprintf("res=%g", got.Resistance))
		}
		if want.NoRecipe && got.Recipe != nil {
			fail(r, typ, "no recipe", recipeString(*got.Recipe))
		}
		if w := want.Recipe; w != nil {
			switch {
			case got.Recipe == nil:
				fail(r, typ, fmt.Sprintf("recipe pw=%d aggressor=%g", w.PW, w.Aggressor), "no recipe")
			case got.Recipe.PulseWidth != w.PW ||
				math.Abs(got.Recipe.Aggressor-w.Aggressor) > voltTolerance ||
				(w.Gate != nil && math.Abs(got.Recipe.Gate-*w.Gate) > voltTolerance):
				fail(r, typ, fmt.Sprintf("recipe pw=%d aggressor=%g", w.PW, w.Aggressor), recipeString(*got.Recipe))
			}
		}
	}
}

func checkWorkingSets(want [][]string, r *Result) {
	if want == nil {
		return
	}
	iterations := r.events(engine.EventIteration)
	if len(iterations) != len(want) {
		fail(r, "working_sets", fmt.Sprintf("%d iterations", len(want)), fmt.Sprintf("%d iterations", len(iterations)))
		return
	}
	for i, ev := range iterations {
		if !sameNames(ev.WorkingSet, want[i]) {
			fail(r, fmt.Sprintf("working_sets[%d]", i), fmt.Sprint(want[i]), fmt.Sprint(ev.WorkingSet))
		}
	}
}

func sameNames(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	g := setOf(got)
	for _, w := range want {
		id, err := cells.ParseCellID(w)
		if err != nil || !g[id.String()] {
			return false
		}
	}
	return true
}

func closeTo(got, want float64) bool {
	return math.Abs(got-want) <= resTolerance*math.Max(math.Abs(want), 1)
}

// ErrorClass names the class of an operation error.
func ErrorClass(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, engine.ErrSyncTimeout):
		return ErrorTimeout
	case engine.IsHardwareFault(err):
		return ErrorHardware
	case waveform.IsOverflowError(err):
		return ErrorOverflow
	case cells.IsSelectionError(err):
		return ErrorSelection
	case topology.IsConfigError(err):
		return ErrorConfig
	default:
		return "unknown"
	}
}

// matchesClass reports whether err belongs to class. A sync timeout is
// also a hardware fault.
func matchesClass(class string, err error) bool {
	if class == ErrorHardware {
		return engine.IsHardwareFault(err)
	}
	return ErrorClass(err) == class
}
