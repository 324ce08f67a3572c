// Package waveform packs phased channel masks into the time-indexed integer
// words a digital pattern instrument plays back.
//
// Each pin group owns a contiguous run of bits inside its hardware word.
// Groups that share a (session, word) pair are stacked in group order, so
// their packed values can be OR-ed into one sample without colliding.
// Within a group, channel 0 sits at the most significant bit of the run.
package waveform

import (
	"github.com/roach88/rram/internal/topology"
)

type wordKey struct {
	session int
	word    int
}

// Layout is the bit-offset table for a fixed list of pin groups. It is
// computed once and shared by every synthesis.
type Layout struct {
	groups  []topology.PinGroup
	offsets []uint
}

// NewLayout computes bit offsets for groups. Groups sharing a hardware word
// must fit in topology.MaxGroupBits together.
func NewLayout(groups []topology.PinGroup) (*Layout, error) {
	used := make(map[wordKey]int)
	l := &Layout{groups: groups, offsets: make([]uint, len(groups))}
	for gi, g := range groups {
		if g.Size() == 0 || g.Size() > topology.MaxGroupBits {
			return nil, topology.NewConfigError(topology.ErrCodeGroupSize, g.Name,
				"group must hold 1..%d channels, has %d", topology.MaxGroupBits, g.Size())
		}
		k := wordKey{g.Session, g.Word}
		if used[k]+g.Size() > topology.MaxGroupBits {
			return nil, topology.NewConfigError(topology.ErrCodeGroupSize, g.Name,
				"word %d of session %d overflows at %d bits", g.Word, g.Session, used[k]+g.Size())
		}
		l.offsets[gi] = uint(used[k])
		used[k] += g.Size()
	}
	return l, nil
}

// Groups returns the groups in layout order.
func (l *Layout) Groups() []topology.PinGroup { return l.groups }

// Offset returns the lowest bit used by group gi.
func (l *Layout) Offset(gi int) uint { return l.offsets[gi] }

// Bit returns the bit position of channel index i of group gi.
func (l *Layout) Bit(gi, i int) uint {
	return l.offsets[gi] + uint(l.groups[gi].Size()-1-i)
}

// Pack encodes the activity vector of group gi. Entries past the group size
// are ignored.
func (l *Layout) Pack(gi int, active []bool) uint64 {
	var w uint64
	n := min(len(active), l.groups[gi].Size())
	for i := 0; i < n; i++ {
		if active[i] {
			w |= 1 << l.Bit(gi, i)
		}
	}
	return w
}

// Unpack decodes the bits of group gi from w. Bits belonging to other
// groups are ignored.
func (l *Layout) Unpack(gi int, w uint64) []bool {
	active := make([]bool, l.groups[gi].Size())
	for i := range active {
		active[i] = w&(1<<l.Bit(gi, i)) != 0
	}
	return active
}
