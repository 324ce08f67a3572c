package harness

import (
	"context"
	"fmt"
	"math"

	"github.com/roach88/rram/internal/cells"
	"github.com/roach88/rram/internal/engine"
	"github.com/roach88/rram/internal/recipe"
	"github.com/roach88/rram/internal/topology"
	"github.com/roach88/rram/internal/waveform"
)

// voltTolerance is how close a recipe level must be to a script entry.
const voltTolerance = 1e-6

// scriptedArray is the array behind a scenario. Pulses apply the script;
// reads compute sourceline currents from the present resistances.
type scriptedArray struct {
	topo   *topology.Topology
	layout *waveform.Layout
	shunt  float64
	// gateOn is the wordline level above which a cell conducts in a read.
	gateOn float64

	res    map[cells.CellID]float64
	levels map[topology.ChannelID]float64
	script []scriptEntry
	fault  *Fault

	pulses   int
	measures int
}

type scriptEntry struct {
	Response
	cells map[cells.CellID]bool
}

func newScriptedArray(s engine.Settings, sc *Scenario) (*scriptedArray, error) {
	layout, err := waveform.NewLayout(s.Topology.Groups)
	if err != nil {
		return nil, err
	}
	a := &scriptedArray{
		topo:   s.Topology,
		layout: layout,
		shunt:  s.ShuntRes,
		gateOn: (s.Read.VWL + s.Read.UnselectedGate()) / 2,
		res:    make(map[cells.CellID]float64),
		levels: make(map[topology.ChannelID]float64),
		fault:  sc.Fault,
	}
	for _, wl := range s.Topology.Wordlines {
		for _, bl := range s.Topology.Bitlines {
			a.res[cells.CellID{WL: wl, BL: bl}] = sc.Initial.Default
		}
	}
	for name, r := range sc.Initial.Cells {
		id, err := a.cell(name)
		if err != nil {
			return nil, fmt.Errorf("initial: %w", err)
		}
		a.res[id] = r
	}
	for i, resp := range sc.Script {
		e := scriptEntry{Response: resp}
		if len(resp.Cells) > 0 {
			e.cells = make(map[cells.CellID]bool)
			for _, name := range resp.Cells {
				id, err := a.cell(name)
				if err != nil {
					return nil, fmt.Errorf("script[%d]: %w", i, err)
				}
				e.cells[id] = true
			}
		}
		a.script = append(a.script, e)
	}
	return a, nil
}

func (a *scriptedArray) cell(name string) (cells.CellID, error) {
	id, err := cells.ParseCellID(name)
	if err != nil {
		return cells.CellID{}, err
	}
	if _, ok := a.res[id]; !ok {
		return cells.CellID{}, fmt.Errorf("cell %s is not in the array", name)
	}
	return id, nil
}

func (a *scriptedArray) failure(stage string, n int) error {
	if a.fault == nil || a.fault.Stage != stage || a.fault.At != n {
		return nil
	}
	if a.fault.Timeout {
		return fmt.Errorf("scripted %s fault: %w", stage, engine.ErrSyncTimeout)
	}
	return fmt.Errorf("scripted %s fault", stage)
}

// Pulse applies every matching script entry to the cells whose wordline,
// bitline and sourceline are all driven by the pulse.
func (a *scriptedArray) Pulse(_ context.Context, req engine.PulseRequest) error {
	a.pulses++
	if err := a.failure(StagePulse, a.pulses); err != nil {
		return err
	}
	on := a.active(req.Pulse)
	for _, wl := range a.topo.Wordlines {
		if !on.Has(wl) {
			continue
		}
		for _, bl := range a.topo.Bitlines {
			sl, _ := a.topo.SourcelineFor(bl)
			if !on.Has(bl) || !on.Has(sl) {
				continue
			}
			id := cells.CellID{WL: wl, BL: bl}
			for _, e := range a.script {
				if e.matches(req.Recipe, id) {
					a.res[id] = e.Res
				}
			}
		}
	}
	return nil
}

func (e scriptEntry) matches(r recipe.Recipe, id cells.CellID) bool {
	if r.PulseWidth != e.PW || math.Abs(r.Aggressor-e.Aggressor) > voltTolerance {
		return false
	}
	if e.Gate != nil && math.Abs(r.Gate-*e.Gate) > voltTolerance {
		return false
	}
	return e.cells == nil || e.cells[id]
}

// active returns every channel high at some sample of the pulse.
func (a *scriptedArray) active(p *waveform.Pulse) topology.ChannelSet {
	on := make(topology.ChannelSet)
	for gi, g := range p.Groups {
		var seen uint64
		for _, w := range p.Waveforms[gi] {
			seen |= w
		}
		for i, bit := range a.layout.Unpack(gi, seen) {
			if bit {
				on.Add(g.Channels[i])
			}
		}
	}
	return on
}

func (a *scriptedArray) Bias(_ context.Context, levels []engine.Level) error {
	for _, l := range levels {
		a.levels[l.Channel] = l.Volts
	}
	return nil
}

func (a *scriptedArray) Measure(_ context.Context, q engine.Quantity, channels [][]topology.ChannelID) ([][]float64, error) {
	if q == engine.QuantityCurrent {
		a.measures++
		if err := a.failure(StageMeasure, a.measures); err != nil {
			return nil, err
		}
	}
	out := make([][]float64, len(channels))
	for s, ids := range channels {
		out[s] = make([]float64, len(ids))
		for k, id := range ids {
			out[s][k] = a.sample(q, id)
		}
	}
	return out, nil
}

func (a *scriptedArray) sample(q engine.Quantity, id topology.ChannelID) float64 {
	if q == engine.QuantityVoltage {
		return a.levels[id]
	}
	ch, _ := a.topo.Lookup(id)
	if ch.Role != topology.RoleSourceline {
		return 0
	}
	var i float64
	for _, wl := range a.topo.Wordlines {
		if a.levels[wl] < a.gateOn {
			continue
		}
		for _, bl := range a.topo.Bitlines {
			if sl, _ := a.topo.SourcelineFor(bl); sl != id {
				continue
			}
			r := a.res[cells.CellID{WL: wl, BL: bl}]
			i += (a.levels[bl] - a.levels[id]) / (r + a.shunt)
		}
	}
	return i
}
