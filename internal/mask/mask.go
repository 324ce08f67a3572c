// Package mask tracks which channels are driven during a pulse phase.
//
// A Mask is one boolean vector per pin group, in the group's channel order.
// Build derives masks from a set of selected channels; Alter narrows or
// widens existing masks as cells converge, without rebuilding them.
// Both are pure: inputs are never modified.
package mask

import (
	"github.com/roach88/rram/internal/topology"
)

// Mask is the activity vector of one pin group.
// len(Active) == Group.Size() for the life of the mask.
type Mask struct {
	Group  topology.PinGroup
	Active []bool
}

// Get returns the state of channel id and whether the group contains it.
func (m Mask) Get(id topology.ChannelID) (active, ok bool) {
	for i, ch := range m.Group.Channels {
		if ch == id {
			return m.Active[i], true
		}
	}
	return false, false
}

// Selected returns the active channels in group order.
func (m Mask) Selected() []topology.ChannelID {
	var out []topology.ChannelID
	for i, on := range m.Active {
		if on {
			out = append(out, m.Group.Channels[i])
		}
	}
	return out
}

// Any reports whether at least one channel is active.
func (m Mask) Any() bool {
	for _, on := range m.Active {
		if on {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the activity vector.
func (m Mask) Clone() Mask {
	active := make([]bool, len(m.Active))
	copy(active, m.Active)
	return Mask{Group: m.Group, Active: active}
}

// Build returns one mask per group with mask[c] == (c ∈ selected).
//
// A selected channel absent from every group is a configuration error: a
// misnamed channel must never be silently ignored.
func Build(selected []topology.ChannelID, groups []topology.PinGroup) ([]Mask, error) {
	if err := checkKnown(selected, groups, "selected"); err != nil {
		return nil, err
	}
	sel := topology.NewChannelSet(selected...)

	masks := make([]Mask, len(groups))
	for gi, g := range groups {
		active := make([]bool, g.Size())
		for i, ch := range g.Channels {
			active[i] = sel.Has(ch)
		}
		masks[gi] = Mask{Group: g, Active: active}
	}
	return masks, nil
}

// Alter returns new masks with mask[c] = (mask[c] ∨ c∈add) ∧ ¬(c∈remove).
// Group order and vector lengths are preserved.
func Alter(masks []Mask, add, remove []topology.ChannelID) ([]Mask, error) {
	groups := make([]topology.PinGroup, len(masks))
	for i, m := range masks {
		groups[i] = m.Group
	}
	if err := checkKnown(add, groups, "add"); err != nil {
		return nil, err
	}
	if err := checkKnown(remove, groups, "remove"); err != nil {
		return nil, err
	}
	addSet := topology.NewChannelSet(add...)
	removeSet := topology.NewChannelSet(remove...)

	out := make([]Mask, len(masks))
	for gi, m := range masks {
		next := m.Clone()
		for i, ch := range m.Group.Channels {
			next.Active[i] = (m.Active[i] || addSet.Has(ch)) && !removeSet.Has(ch)
		}
		out[gi] = next
	}
	return out, nil
}

// Restrict returns copies of masks where every group not listed in keep is
// all-inactive. Used to derive a phase that drives only some groups.
func Restrict(masks []Mask, keep map[string]bool) []Mask {
	out := make([]Mask, len(masks))
	for gi, m := range masks {
		if keep[m.Group.Name] {
			out[gi] = m.Clone()
			continue
		}
		out[gi] = Mask{Group: m.Group, Active: make([]bool, len(m.Active))}
	}
	return out
}

// Selected flattens the active channels of all masks, group by group.
func Selected(masks []Mask) []topology.ChannelID {
	var out []topology.ChannelID
	for _, m := range masks {
		out = append(out, m.Selected()...)
	}
	return out
}

func checkKnown(ids []topology.ChannelID, groups []topology.PinGroup, field string) error {
	if len(ids) == 0 {
		return nil
	}
	known := make(topology.ChannelSet)
	for _, g := range groups {
		known.Add(g.Channels...)
	}
	for _, id := range ids {
		if !known.Has(id) {
			return topology.NewConfigError(topology.ErrCodeUnknownChannel, field,
				"channel %q is not in any configured pin group", id)
		}
	}
	return nil
}
