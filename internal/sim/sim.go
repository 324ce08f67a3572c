// Package sim is a deterministic 1T1R crossbar model that stands in for
// lab hardware. It exposes one instrument.Session per configured session,
// all sharing a single array state, so the controller and instrument rig
// run end to end without a tester.
//
// The device model is deliberately simple. A cell switches only while its
// wordline is above GateThreshold. Each pulse sample with a cell voltage
// (VBL-VSL) above SetThreshold pulls resistance toward MinRes; each sample
// below -ResetThreshold pushes it toward MaxRes. The step is proportional
// to the overdrive.
package sim

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/roach88/rram/internal/cells"
	"github.com/roach88/rram/internal/engine"
	"github.com/roach88/rram/internal/instrument"
	"github.com/roach88/rram/internal/topology"
	"github.com/roach88/rram/internal/waveform"
)

// Params describes the simulated devices.
type Params struct {
	InitialRes     float64 `json:"initial_res"`
	MinRes         float64 `json:"min_res"`
	MaxRes         float64 `json:"max_res"`
	SetThreshold   float64 `json:"set_threshold"`
	ResetThreshold float64 `json:"reset_threshold"`
	GateThreshold  float64 `json:"gate_threshold"`
	// Rate is the fractional step per sample per volt of overdrive.
	Rate     float64 `json:"rate"`
	ShuntRes float64 `json:"shunt_res"`
	Leakage  float64 `json:"leakage"`
	// Variation spreads initial resistance and rate by up to +/- this
	// fraction per cell, drawn from Seed.
	Variation float64 `json:"variation"`
	Seed      uint64  `json:"seed"`
}

// DefaultParams returns a plausible HfO2-like device.
func DefaultParams() Params {
	return Params{
		InitialRes:     100e3,
		MinRes:         5e3,
		MaxRes:         1e6,
		SetThreshold:   0.6,
		ResetThreshold: 0.6,
		GateThreshold:  0.8,
		Rate:           0.01,
		Leakage:        1e-12,
	}
}

type wordKey struct {
	session int
	word    int
}

// Array is the shared simulated state.
type Array struct {
	mu     sync.Mutex
	topo   *topology.Topology
	layout *waveform.Layout
	params Params

	res  []float64
	rate []float64

	static map[topology.ChannelID]float64
	drive  map[topology.ChannelID]engine.DriveLevel
	staged map[wordKey][]uint64
	width  int
	armed  []bool
	pulses int
}

// New builds an array for topo.
func New(topo *topology.Topology, p Params) (*Array, error) {
	if p.MinRes <= 0 || p.MaxRes <= p.MinRes {
		return nil, topology.NewConfigError(topology.ErrCodeInvalidValue, "sim", "need 0 < min_res < max_res")
	}
	if p.Variation < 0 || p.Variation >= 1 {
		return nil, topology.NewConfigError(topology.ErrCodeInvalidValue, "sim.variation", "must be in [0, 1)")
	}
	layout, err := waveform.NewLayout(topo.Groups)
	if err != nil {
		return nil, err
	}
	n := len(topo.Wordlines) * len(topo.Bitlines)
	a := &Array{
		topo:   topo,
		layout: layout,
		params: p,
		res:    make([]float64, n),
		rate:   make([]float64, n),
		static: make(map[topology.ChannelID]float64),
		drive:  make(map[topology.ChannelID]engine.DriveLevel),
		staged: make(map[wordKey][]uint64),
		armed:  make([]bool, len(topo.Sessions)),
	}
	rng := rand.New(rand.NewPCG(p.Seed, p.Seed^0x9e3779b97f4a7c15))
	spread := func() float64 { return 1 + p.Variation*(2*rng.Float64()-1) }
	for i := range a.res {
		a.res[i] = clamp(p.InitialRes*spread(), p.MinRes, p.MaxRes)
		a.rate[i] = p.Rate * spread()
	}
	return a, nil
}

// Sessions returns one driver session per topology session.
func (a *Array) Sessions() []instrument.Session {
	out := make([]instrument.Session, len(a.topo.Sessions))
	for i, s := range a.topo.Sessions {
		out[i] = &session{a: a, idx: i, name: s.Name}
	}
	return out
}

// Pulses returns the number of bursts applied.
func (a *Array) Pulses() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pulses
}

func (a *Array) cellIndex(id cells.CellID) (int, error) {
	r, ok := a.topo.WordlineIndex(id.WL)
	if !ok {
		return 0, fmt.Errorf("unknown wordline %q", id.WL)
	}
	c, ok := a.topo.BitlineIndex(id.BL)
	if !ok {
		return 0, fmt.Errorf("unknown bitline %q", id.BL)
	}
	return r*len(a.topo.Bitlines) + c, nil
}

// Resistance returns the true resistance of a cell.
func (a *Array) Resistance(id cells.CellID) (float64, error) {
	i, err := a.cellIndex(id)
	if err != nil {
		return 0, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.res[i], nil
}

// SetResistance overrides the resistance of a cell.
func (a *Array) SetResistance(id cells.CellID, r float64) error {
	i, err := a.cellIndex(id)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.res[i] = clamp(r, a.params.MinRes, a.params.MaxRes)
	return nil
}

// apply plays the staged pattern. Caller holds mu.
func (a *Array) apply() {
	a.pulses++
	p := a.params
	nbl := len(a.topo.Bitlines)
	volts := make(map[topology.ChannelID]float64)
	for t := 0; t < a.width; t++ {
		for gi, g := range a.layout.Groups() {
			samples := a.staged[wordKey{g.Session, g.Word}]
			var w uint64
			if t < len(samples) {
				w = samples[t]
			}
			for ci, on := range a.layout.Unpack(gi, w) {
				id := g.Channels[ci]
				d := a.drive[id]
				if on {
					volts[id] = d.High
				} else {
					volts[id] = d.Low
				}
			}
		}
		for r, wl := range a.topo.Wordlines {
			if volts[wl] < p.GateThreshold {
				continue
			}
			for c, bl := range a.topo.Bitlines {
				sl, _ := a.topo.SourcelineFor(bl)
				v := volts[bl] - volts[sl]
				i := r*nbl + c
				switch {
				case v > p.SetThreshold:
					step := min(1, a.rate[i]*(v-p.SetThreshold))
					a.res[i] -= (a.res[i] - p.MinRes) * step
				case v < -p.ResetThreshold:
					step := min(1, a.rate[i]*(-v-p.ResetThreshold))
					a.res[i] += (p.MaxRes - a.res[i]) * step
				}
			}
		}
	}
}

// current returns the DC current into channel id under the forced levels.
// Caller holds mu.
func (a *Array) current(id topology.ChannelID) float64 {
	ch, ok := a.topo.Lookup(id)
	if !ok {
		return 0
	}
	p := a.params
	nbl := len(a.topo.Bitlines)
	var total float64
	switch ch.Role {
	case topology.RoleWordline:
		if a.static[id] >= p.GateThreshold {
			return p.Leakage
		}
		return 0
	case topology.RoleSourceline, topology.RoleBitline:
		for r, wl := range a.topo.Wordlines {
			if a.static[wl] < p.GateThreshold {
				continue
			}
			for c, bl := range a.topo.Bitlines {
				sl, _ := a.topo.SourcelineFor(bl)
				if sl != id && bl != id {
					continue
				}
				i := (a.static[bl] - a.static[sl]) / (a.res[r*nbl+c] + p.ShuntRes)
				if bl == id {
					i = -i
				}
				total += i
			}
		}
	}
	return total
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(hi, v))
}

// session is one instrument's view of the shared array.
type session struct {
	a    *Array
	idx  int
	name string
}

func (s *session) Name() string { return s.name }

func (s *session) WriteWaveform(_ context.Context, word int, samples []uint64) error {
	s.a.mu.Lock()
	defer s.a.mu.Unlock()
	s.a.staged[wordKey{s.idx, word}] = append([]uint64(nil), samples...)
	return nil
}

func (s *session) SetPulseWidth(_ context.Context, width int) error {
	if width < 0 {
		return fmt.Errorf("pulse width %d", width)
	}
	s.a.mu.Lock()
	defer s.a.mu.Unlock()
	s.a.width = width
	return nil
}

func (s *session) SetDrive(_ context.Context, levels []engine.DriveLevel) error {
	s.a.mu.Lock()
	defer s.a.mu.Unlock()
	for _, l := range levels {
		ch, ok := s.a.topo.Lookup(l.Channel)
		if !ok || ch.Session != s.idx {
			return fmt.Errorf("channel %q is not on this instrument", l.Channel)
		}
		s.a.drive[l.Channel] = l
	}
	return nil
}

func (s *session) Commit(context.Context) error { return nil }

func (s *session) Burst(context.Context) error {
	s.a.mu.Lock()
	defer s.a.mu.Unlock()
	s.a.apply()
	return nil
}

func (s *session) Arm(context.Context) error {
	s.a.mu.Lock()
	defer s.a.mu.Unlock()
	s.a.armed[s.idx] = true
	return nil
}

// Trigger plays the shared pattern once for every armed session.
func (s *session) Trigger(context.Context) error {
	s.a.mu.Lock()
	defer s.a.mu.Unlock()
	if !s.a.armed[s.idx] {
		return fmt.Errorf("trigger on unarmed session")
	}
	s.a.apply()
	for i := range s.a.armed {
		s.a.armed[i] = false
	}
	return nil
}

// WaitUntilDone returns at once after a trigger; a session still armed
// never completes and waits for ctx.
func (s *session) WaitUntilDone(ctx context.Context) error {
	s.a.mu.Lock()
	armed := s.a.armed[s.idx]
	s.a.mu.Unlock()
	if !armed {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func (s *session) Force(_ context.Context, levels []engine.Level) error {
	s.a.mu.Lock()
	defer s.a.mu.Unlock()
	for _, l := range levels {
		s.a.static[l.Channel] = l.Volts
	}
	return nil
}

func (s *session) Measure(_ context.Context, q engine.Quantity, channels []topology.ChannelID) ([]float64, error) {
	s.a.mu.Lock()
	defer s.a.mu.Unlock()
	out := make([]float64, len(channels))
	for k, id := range channels {
		ch, ok := s.a.topo.Lookup(id)
		if !ok || ch.Session != s.idx {
			return nil, fmt.Errorf("channel %q is not on this instrument", id)
		}
		if q == engine.QuantityVoltage {
			out[k] = s.a.static[id]
			continue
		}
		out[k] = s.a.current(id)
	}
	return out, nil
}
