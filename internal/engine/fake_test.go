package engine

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/rram/internal/cells"
	"github.com/roach88/rram/internal/recipe"
	"github.com/roach88/rram/internal/topology"
	"github.com/roach88/rram/internal/waveform"
)

// fakeArray is a scripted array: pulses call a script that rewrites
// resistances, reads compute currents from the current resistances.
type fakeArray struct {
	t      *testing.T
	topo   *topology.Topology
	layout *waveform.Layout
	shunt  float64
	gateOn float64

	res    map[cells.CellID]float64
	levels map[topology.ChannelID]float64
	noise  []float64

	script func(r recipe.Recipe, pulsed []cells.CellID)

	pulses       []PulseRequest
	pulsedCells  [][]cells.CellID
	currentReads int
	pulseErr     error
	pulseErrAt   int
	measureErr   error
	measureErrAt int
}

func newFakeArray(t *testing.T, s Settings) *fakeArray {
	t.Helper()
	layout, err := waveform.NewLayout(s.Topology.Groups)
	require.NoError(t, err)
	return &fakeArray{
		t:      t,
		topo:   s.Topology,
		layout: layout,
		shunt:  s.ShuntRes,
		gateOn: 1.0,
		res:    make(map[cells.CellID]float64),
		levels: make(map[topology.ChannelID]float64),
	}
}

func (f *fakeArray) setAll(r float64) {
	for _, wl := range f.topo.Wordlines {
		for _, bl := range f.topo.Bitlines {
			f.res[cells.CellID{WL: wl, BL: bl}] = r
		}
	}
}

// active returns every channel high at some point of the pulse.
func (f *fakeArray) active(p *waveform.Pulse) topology.ChannelSet {
	on := make(topology.ChannelSet)
	for gi, g := range p.Groups {
		var any uint64
		for _, w := range p.Waveforms[gi] {
			any |= w
		}
		for i, bit := range f.layout.Unpack(gi, any) {
			if bit {
				on.Add(g.Channels[i])
			}
		}
	}
	return on
}

func (f *fakeArray) Pulse(_ context.Context, req PulseRequest) error {
	f.pulses = append(f.pulses, req)
	if f.pulseErr != nil && len(f.pulses) >= f.pulseErrAt {
		return f.pulseErr
	}
	on := f.active(req.Pulse)
	var pulsed []cells.CellID
	for _, wl := range f.topo.Wordlines {
		if !on.Has(wl) {
			continue
		}
		for _, bl := range f.topo.Bitlines {
			sl, _ := f.topo.SourcelineFor(bl)
			if on.Has(bl) && on.Has(sl) {
				pulsed = append(pulsed, cells.CellID{WL: wl, BL: bl})
			}
		}
	}
	f.pulsedCells = append(f.pulsedCells, pulsed)
	if f.script != nil {
		f.script(req.Recipe, pulsed)
	}
	return nil
}

func (f *fakeArray) Bias(_ context.Context, levels []Level) error {
	for _, l := range levels {
		f.levels[l.Channel] = l.Volts
	}
	return nil
}

func (f *fakeArray) Measure(_ context.Context, q Quantity, channels [][]topology.ChannelID) ([][]float64, error) {
	factor := 1.0
	if q == QuantityCurrent {
		f.currentReads++
		if f.measureErr != nil && f.currentReads >= f.measureErrAt {
			return nil, f.measureErr
		}
		if len(f.noise) > 0 {
			factor = f.noise[(f.currentReads-1)%len(f.noise)]
		}
	}
	out := make([][]float64, len(channels))
	for s, ids := range channels {
		out[s] = make([]float64, len(ids))
		for k, id := range ids {
			out[s][k] = f.sample(q, id, factor)
		}
	}
	return out, nil
}

func (f *fakeArray) sample(q Quantity, id topology.ChannelID, factor float64) float64 {
	if q == QuantityVoltage {
		return f.levels[id]
	}
	ch, _ := f.topo.Lookup(id)
	switch ch.Role {
	case topology.RoleWordline:
		return 1e-9
	case topology.RoleSourceline:
		var i float64
		for _, wl := range f.topo.Wordlines {
			if f.levels[wl] < f.gateOn {
				continue
			}
			for _, bl := range f.topo.Bitlines {
				if sl, _ := f.topo.SourcelineFor(bl); sl != id {
					continue
				}
				r := f.res[cells.CellID{WL: wl, BL: bl}] * factor
				i += (f.levels[bl] - f.levels[id]) / (r + f.shunt)
			}
		}
		return i
	}
	return 0
}

type countingSleeper struct {
	calls []time.Duration
}

func (s *countingSleeper) Sleep(d time.Duration) { s.calls = append(s.calls, d) }

func testTopology(t *testing.T, wls, bls int, sharedSL bool) *topology.Topology {
	t.Helper()
	name := func(prefix string, i int) string { return prefix + "_" + string(rune('0'+i)) }
	var wl, bl, sl []string
	for i := 0; i < wls; i++ {
		wl = append(wl, name("WL", i))
	}
	for i := 0; i < bls; i++ {
		bl = append(bl, name("BL", i))
		if !sharedSL {
			sl = append(sl, name("SL", i))
		}
	}
	if sharedSL {
		sl = []string{"SL_0"}
	}
	topo, err := topology.New(topology.Spec{
		Sessions: []topology.SessionSpec{
			{Name: "PXI6571Slot9", Groups: []topology.GroupSpec{
				{Name: "BLs", Word: 0, Channels: bl},
				{Name: "SLs", Word: 0, Channels: sl},
			}},
			{Name: "PXI6571Slot8", Groups: []topology.GroupSpec{
				{Name: "WLs", Word: 0, Channels: wl},
				{Name: "CTL", Word: 1, Channels: []string{"WL_IN"}},
			}},
		},
		Wordlines:   wl,
		Bitlines:    bl,
		Sourcelines: sl,
		Control:     []string{"WL_IN"},
	})
	require.NoError(t, err)
	return topo
}

func testSettings(t *testing.T, wls, bls int) Settings {
	t.Helper()
	return Settings{
		Topology: testTopology(t, wls, bls, false),
		Ops: map[recipe.Mode]recipe.Op{
			recipe.ModeSet: {
				VWL: 2.0, VBL: 1.0, VSL: 0, SettlingTime: time.Millisecond,
				Sweep: recipe.Sweep{
					PW:        recipe.IntRange{Start: 100, Stop: 300, Step: 100},
					Aggressor: recipe.Range{Start: 1.0, Stop: 1.4, Step: 0.2},
				},
			},
			recipe.ModeReset: {
				VWL: 2.5, VBL: 0, VSL: 1.0, VWLUnselOffset: 0.2,
				Sweep: recipe.Sweep{
					PW:        recipe.IntRange{Start: 100},
					Aggressor: recipe.Range{Start: 1.0, Stop: 2.5, Step: 0.5},
				},
			},
			recipe.ModeForm: {
				VWL: 2.0, VBL: 2.0, VSL: 0,
				Sweep: recipe.Sweep{
					PW:        recipe.IntRange{Start: 200},
					Aggressor: recipe.Range{Start: 2.0, Stop: 3.0, Step: 0.5},
					Gate:      &recipe.Range{Start: 1.5, Stop: 2.5, Step: 0.5},
				},
			},
		},
		Targets:       recipe.Targets{recipe.ModeSet: 50e3, recipe.ModeReset: 200e3, recipe.ModeForm: 50e3},
		Read:          recipe.ReadBias{VWL: 1.5, VBL: 0.2, VSL: 0},
		ReadSettle:    time.Microsecond,
		Timing:        waveform.Timing{Prepulse: 2, GateSettle: 2, ChannelSettle: 2, Postpulse: 2},
		MaxLen:        512,
		GateGroups:    []string{"WLs", "CTL"},
		Envelope:      recipe.DefaultEnvelope,
		AveragedReads: 3,
	}
}

type harnessOpts struct {
	events  *[]Event
	sleeper *countingSleeper
}

func newTestController(t *testing.T, s Settings, fake *fakeArray, h harnessOpts) *Controller {
	t.Helper()
	opts := []Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithIDGenerator(NewFixedGenerator("op-1", "op-2", "op-3")),
	}
	if h.events != nil {
		opts = append(opts, WithObserver(func(ev Event) { *h.events = append(*h.events, ev) }))
	}
	if h.sleeper != nil {
		opts = append(opts, WithSleeper(h.sleeper))
	} else {
		opts = append(opts, WithSleeper(&countingSleeper{}))
	}
	c, err := New(s, fake, fake, opts...)
	require.NoError(t, err)
	return c
}

func cellID(wl, bl string) cells.CellID {
	return cells.CellID{WL: topology.ChannelID(wl), BL: topology.ChannelID(bl)}
}
