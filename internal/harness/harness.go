package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/rram/internal/cells"
	"github.com/roach88/rram/internal/config"
	"github.com/roach88/rram/internal/engine"
	"github.com/roach88/rram/internal/recipe"
	"github.com/roach88/rram/internal/testutil"
	"github.com/roach88/rram/internal/topology"
)

// Run executes a scenario and returns the result.
//
// An error is returned only when the scenario itself cannot be set up
// (unreadable settings, a script naming unknown cells). Errors from the
// operation are compared with expect.error instead.
//
// Execution flow:
// 1. Load settings and resolve the polarity
// 2. Build the scripted array and a controller with deterministic helpers
// 3. Run the operation, collecting the event trace
// 4. Check invariants, then expectations
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario, nil)
}

// RunContext is Run with a context and a logger for the controller. A nil
// logger discards controller logs.
func RunContext(ctx context.Context, scenario *Scenario, logger *slog.Logger) (*Result, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	mode, err := recipe.ParseMode(scenario.Mode)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}

	settings, err := config.Load(scenario.Settings)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}
	if scenario.Polarity != "" {
		settings.Device.Polarity = scenario.Polarity
	}
	if scenario.MaxLen > 0 {
		settings.Pulse.MaxLen = scenario.MaxLen
	}

	result := NewResult()
	es, err := settings.Engine()
	if err != nil {
		result.Err = err
		checkExpectations(scenario, result)
		return result, nil
	}

	array, err := newScriptedArray(es, scenario)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}
	sleeper := testutil.NewRecordingSleeper()

	ctl, err := engine.New(es, array, array,
		engine.WithLogger(logger),
		engine.WithSleeper(sleeper),
		engine.WithIDGenerator(testutil.NewFixedIDGenerator(scenario.OperationID)),
		engine.WithClock(engine.NewClock()),
		engine.WithObserver(func(ev engine.Event) { result.Trace = append(result.Trace, ev) }),
	)
	if err != nil {
		result.Err = err
		checkExpectations(scenario, result)
		return result, nil
	}

	req, err := scenario.Request.selection()
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}
	if mode == recipe.ModeRead {
		result.Outcome, result.Err = ctl.Read(ctx, req)
	} else {
		result.Outcome, result.Err = ctl.Program(ctx, mode, req)
	}
	result.Pulses = array.pulses
	result.Settled = sleeper.Total()

	for _, msg := range checkInvariants(result, es.Topology) {
		result.AddError(msg)
	}
	checkExpectations(scenario, result)
	return result, nil
}

func (r Request) selection() (engine.Request, error) {
	req := engine.Request{
		Selection: cells.Selection{
			Wordlines:        topology.IDs(r.Wordlines...),
			Bitlines:         topology.IDs(r.Bitlines...),
			ExcludedBitlines: topology.IDs(r.ExcludeBitlines...),
		},
		Averaged: r.Averaged,
	}
	for _, name := range r.Cells {
		id, err := cells.ParseCellID(name)
		if err != nil {
			return engine.Request{}, err
		}
		req.Cells = append(req.Cells, id)
	}
	return req, nil
}

// checkInvariants verifies what every operation must hold, whatever the
// scenario expects.
func checkInvariants(r *Result, topo *topology.Topology) []string {
	var errs []string

	for i := 1; i < len(r.Trace); i++ {
		if r.Trace[i].Seq <= r.Trace[i-1].Seq {
			errs = append(errs, fmt.Sprintf("invariant: seq %d follows %d", r.Trace[i].Seq, r.Trace[i-1].Seq))
		}
	}

	var (
		prev       *recipe.Recipe
		ws         map[string]bool
		iterations int
	)
	for _, ev := range r.Trace {
		switch ev.Kind {
		case engine.EventInit:
			ws = setOf(ev.WorkingSet)
		case engine.EventPulse:
			errs = append(errs, checkPulse(topo, ev, ws)...)
		case engine.EventIteration:
			iterations++
			if ev.Recipe == nil {
				errs = append(errs, fmt.Sprintf("invariant: iteration %d has no recipe", ev.Seq))
				continue
			}
			if prev != nil && !gridBefore(*prev, *ev.Recipe) {
				errs = append(errs, fmt.Sprintf("invariant: grid point %s does not follow %s", recipeString(*ev.Recipe), recipeString(*prev)))
			}
			prev = ev.Recipe
			next := setOf(ev.WorkingSet)
			for name := range next {
				if !ws[name] {
					errs = append(errs, fmt.Sprintf("invariant: %s rejoined the working set at seq %d", name, ev.Seq))
				}
			}
			ws = next
		}
	}

	if out := r.Outcome; out != nil && out.Mode.Programs() {
		if iterations > out.GridSize {
			errs = append(errs, fmt.Sprintf("invariant: %d iterations over a grid of %d", iterations, out.GridSize))
		}
		if out.Iterations != iterations {
			errs = append(errs, fmt.Sprintf("invariant: result reports %d iterations, trace has %d", out.Iterations, iterations))
		}
		if out.State == engine.StateDone && len(out.Failed()) > 0 {
			errs = append(errs, fmt.Sprintf("invariant: DONE with %d failed cells", len(out.Failed())))
		}
		if out.State == engine.StatePartial && len(out.Failed()) == 0 {
			errs = append(errs, "invariant: PARTIAL with no failed cells")
		}
	}
	return errs
}

// checkPulse verifies a pulse drives only the remaining cells of its row,
// plus the control channels.
func checkPulse(topo *topology.Topology, ev engine.Event, ws map[string]bool) []string {
	var errs []string
	allowed := topology.NewChannelSet(topo.Control...)
	remaining := false
	for name := range ws {
		id, err := cells.ParseCellID(name)
		if err != nil || string(id.WL) != ev.Wordline {
			continue
		}
		remaining = true
		sl, _ := topo.SourcelineFor(id.BL)
		allowed.Add(id.WL, id.BL, sl)
	}
	if !remaining {
		errs = append(errs, fmt.Sprintf("invariant: pulse at seq %d on %s, which has no remaining cells", ev.Seq, ev.Wordline))
	}
	for _, ch := range ev.Active {
		if !allowed.Has(topology.ChannelID(ch)) {
			errs = append(errs, fmt.Sprintf("invariant: pulse at seq %d drives %s outside the working set", ev.Seq, ch))
		}
	}
	return errs
}

func setOf(names []string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

// gridBefore reports whether a precedes b in grid order.
func gridBefore(a, b recipe.Recipe) bool {
	if a.PulseWidth != b.PulseWidth {
		return a.PulseWidth < b.PulseWidth
	}
	if a.Aggressor != b.Aggressor {
		return a.Aggressor < b.Aggressor
	}
	return a.Gate < b.Gate
}

func recipeString(r recipe.Recipe) string {
	return fmt.Sprintf("(pw=%d aggressor=%g vwl=%g)", r.PulseWidth, r.Aggressor, r.Gate)
}
