package waveform

import (
	"github.com/roach88/rram/internal/mask"
	"github.com/roach88/rram/internal/topology"
)

// Phase names of the standard pulse, in playback order.
const (
	PhasePrepulse      = "prepulse"
	PhaseGateSettle    = "gate_settle"
	PhaseBody          = "body"
	PhaseChannelSettle = "channel_settle"
	PhasePostpulse     = "postpulse"
)

// Phase is a run of identical samples. Masks holds one mask per layout
// group, in layout order.
type Phase struct {
	Name     string
	Duration int
	Masks    []mask.Mask
}

// Pulse is one synthesized pulse: a sample array of exactly max_len entries
// per group, and the number of meaningful leading samples.
type Pulse struct {
	Groups     []topology.PinGroup
	Waveforms  [][]uint64
	PulseWidth int
}

// Word is the merged sample stream of every group sharing one hardware word.
type Word struct {
	Session int
	Word    int
	Groups  []int
	Samples []uint64
}

// Words ORs the waveforms of groups sharing a hardware word. Words are
// returned in order of first appearance.
func (p *Pulse) Words() []Word {
	var out []Word
	index := make(map[wordKey]int)
	for gi, g := range p.Groups {
		k := wordKey{g.Session, g.Word}
		wi, ok := index[k]
		if !ok {
			wi = len(out)
			index[k] = wi
			out = append(out, Word{Session: g.Session, Word: g.Word, Samples: make([]uint64, len(p.Waveforms[gi]))})
		}
		out[wi].Groups = append(out[wi].Groups, gi)
		for t, v := range p.Waveforms[gi] {
			out[wi].Samples[t] |= v
		}
	}
	return out
}

// Synthesizer turns phases into padded sample arrays for a fixed layout and
// buffer size.
type Synthesizer struct {
	layout *Layout
	maxLen int
}

// NewSynthesizer creates a synthesizer whose output arrays hold maxLen
// samples.
func NewSynthesizer(layout *Layout, maxLen int) (*Synthesizer, error) {
	if maxLen <= 0 {
		return nil, topology.NewConfigError(topology.ErrCodeInvalidValue, "pulse.max_len", "must be positive, got %d", maxLen)
	}
	return &Synthesizer{layout: layout, maxLen: maxLen}, nil
}

// MaxLen returns the buffer size.
func (s *Synthesizer) MaxLen() int { return s.maxLen }

// Layout returns the bit layout used for packing.
func (s *Synthesizer) Layout() *Layout { return s.layout }

// Synthesize packs phases in order and zero-pads each group to MaxLen.
// A zero-duration phase contributes nothing; an empty mask packs to zero.
func (s *Synthesizer) Synthesize(phases []Phase) (*Pulse, error) {
	if len(phases) == 0 {
		return nil, topology.NewConfigError(topology.ErrCodeInvalidValue, "phases", "a pulse needs at least one phase")
	}
	groups := s.layout.Groups()
	width := 0
	for _, ph := range phases {
		if ph.Duration < 0 {
			return nil, topology.NewConfigError(topology.ErrCodeInvalidValue, ph.Name, "negative duration %d", ph.Duration)
		}
		if len(ph.Masks) != len(groups) {
			return nil, topology.NewConfigError(topology.ErrCodeLengthMismatch, ph.Name,
				"phase has %d masks for %d groups", len(ph.Masks), len(groups))
		}
		for gi, m := range ph.Masks {
			if m.Group.Name != groups[gi].Name {
				return nil, topology.NewConfigError(topology.ErrCodeLengthMismatch, ph.Name,
					"mask %d is for group %q, want %q", gi, m.Group.Name, groups[gi].Name)
			}
		}
		width += ph.Duration
	}
	if width > s.maxLen {
		return nil, &OverflowError{Length: width, Max: s.maxLen}
	}

	p := &Pulse{Groups: groups, Waveforms: make([][]uint64, len(groups)), PulseWidth: width}
	for gi := range groups {
		samples := make([]uint64, s.maxLen)
		t := 0
		for _, ph := range phases {
			w := s.layout.Pack(gi, ph.Masks[gi].Active)
			for end := t + ph.Duration; t < end; t++ {
				samples[t] = w
			}
		}
		p.Waveforms[gi] = samples
	}
	return p, nil
}

// Timing holds the sample counts of the standard five-phase pulse.
type Timing struct {
	Prepulse      int
	GateSettle    int
	Body          int
	ChannelSettle int
	Postpulse     int
}

// Standard returns the five phases of a program pulse. The body drives
// every active channel; the surrounding phases drive only the groups named
// in gateGroups, so the gate is up before and after the aggressor lines.
func Standard(t Timing, body []mask.Mask, gateGroups map[string]bool) []Phase {
	gate := mask.Restrict(body, gateGroups)
	return []Phase{
		{Name: PhasePrepulse, Duration: t.Prepulse, Masks: gate},
		{Name: PhaseGateSettle, Duration: t.GateSettle, Masks: gate},
		{Name: PhaseBody, Duration: t.Body, Masks: body},
		{Name: PhaseChannelSettle, Duration: t.ChannelSettle, Masks: gate},
		{Name: PhasePostpulse, Duration: t.Postpulse, Masks: gate},
	}
}
