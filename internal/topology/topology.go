package topology

import "fmt"

// MaxGroupBits is the width of one packed hardware word.
const MaxGroupBits = 64

// GroupSpec is the configured form of a pin group.
type GroupSpec struct {
	Name string
	// Word identifies the physical hardware word inside the session.
	// Groups of one session that share a Word are packed side by side.
	Word     int
	Channels []string
}

// SessionSpec is the configured form of one hardware session.
type SessionSpec struct {
	Name   string
	Groups []GroupSpec
}

// Spec is the raw topology as read from settings.
type Spec struct {
	Sessions    []SessionSpec
	Wordlines   []string
	Bitlines    []string
	Sourcelines []string
	Control     []string

	// DefaultWordlines/DefaultBitlines are used when an operation does not
	// name any cells. Empty means "all".
	DefaultWordlines []string
	DefaultBitlines  []string
}

// PinGroup is an ordered, fixed-size sequence of channels driven together as
// one packed word per timestep. Channel order defines bit position.
type PinGroup struct {
	Name     string
	Session  int
	Word     int
	Channels []ChannelID
}

// Size returns the number of channels in the group.
func (g PinGroup) Size() int { return len(g.Channels) }

// Session is one hardware instrument and the groups it drives.
type Session struct {
	Name   string
	Groups []int
}

// Topology is the validated, immutable channel map.
type Topology struct {
	Sessions []Session
	Groups   []PinGroup

	Wordlines   []ChannelID
	Bitlines    []ChannelID
	Sourcelines []ChannelID
	Control     []ChannelID

	DefaultWordlines []ChannelID
	DefaultBitlines  []ChannelID

	channels map[ChannelID]Channel
	groupIdx map[string]int
	wlIdx    map[ChannelID]int
	blIdx    map[ChannelID]int
}

// New validates spec and builds a Topology.
//
// Every channel must appear in exactly one pin group, groups hold 1..64
// channels, groups sharing a hardware word must fit in 64 bits together,
// and sourcelines pair 1:1 with bitlines unless a single sourceline is
// shared by every bitline.
func New(spec Spec) (*Topology, error) {
	if len(spec.Sessions) == 0 {
		return nil, NewConfigError(ErrCodeMissingKey, "topology.sessions", "at least one session is required")
	}

	t := &Topology{
		channels: make(map[ChannelID]Channel),
		groupIdx: make(map[string]int),
		wlIdx:    make(map[ChannelID]int),
		blIdx:    make(map[ChannelID]int),
	}

	for si, ss := range spec.Sessions {
		sess := Session{Name: ss.Name}
		wordBits := make(map[int]int)
		for _, gs := range ss.Groups {
			field := fmt.Sprintf("topology.sessions[%d].groups.%s", si, gs.Name)
			if _, dup := t.groupIdx[gs.Name]; dup {
				return nil, NewConfigError(ErrCodeDuplicateChannel, field, "pin group %q defined twice", gs.Name)
			}
			if len(gs.Channels) == 0 || len(gs.Channels) > MaxGroupBits {
				return nil, NewConfigError(ErrCodeGroupSize, field, "group must hold 1..%d channels, has %d", MaxGroupBits, len(gs.Channels))
			}
			wordBits[gs.Word] += len(gs.Channels)
			if wordBits[gs.Word] > MaxGroupBits {
				return nil, NewConfigError(ErrCodeGroupSize, field, "groups sharing word %d need %d bits (max %d)", gs.Word, wordBits[gs.Word], MaxGroupBits)
			}

			gi := len(t.Groups)
			group := PinGroup{Name: gs.Name, Session: si, Word: gs.Word, Channels: IDs(gs.Channels...)}
			for ci, id := range group.Channels {
				if _, dup := t.channels[id]; dup {
					return nil, NewConfigError(ErrCodeDuplicateChannel, field, "channel %q belongs to more than one group", id)
				}
				t.channels[id] = Channel{ID: id, Session: si, Group: gi, Index: ci}
			}
			t.Groups = append(t.Groups, group)
			t.groupIdx[gs.Name] = gi
			sess.Groups = append(sess.Groups, gi)
		}
		t.Sessions = append(t.Sessions, sess)
	}

	var err error
	if t.Wordlines, err = t.assignRole(spec.Wordlines, RoleWordline, "topology.wordlines"); err != nil {
		return nil, err
	}
	if t.Bitlines, err = t.assignRole(spec.Bitlines, RoleBitline, "topology.bitlines"); err != nil {
		return nil, err
	}
	if t.Sourcelines, err = t.assignRole(spec.Sourcelines, RoleSourceline, "topology.sourcelines"); err != nil {
		return nil, err
	}
	if t.Control, err = t.assignRole(spec.Control, RoleControl, "topology.control"); err != nil {
		return nil, err
	}

	if len(t.Wordlines) == 0 || len(t.Bitlines) == 0 || len(t.Sourcelines) == 0 {
		return nil, NewConfigError(ErrCodeMissingKey, "topology", "wordlines, bitlines and sourcelines must all be non-empty")
	}
	if len(t.Sourcelines) != 1 && len(t.Sourcelines) != len(t.Bitlines) {
		return nil, NewConfigError(ErrCodeLengthMismatch, "topology.sourcelines",
			"%d sourcelines cannot pair with %d bitlines (need equal counts or exactly one)", len(t.Sourcelines), len(t.Bitlines))
	}

	for i, id := range t.Wordlines {
		t.wlIdx[id] = i
	}
	for i, id := range t.Bitlines {
		t.blIdx[id] = i
	}

	t.DefaultWordlines = IDs(spec.DefaultWordlines...)
	for _, id := range t.DefaultWordlines {
		if _, ok := t.wlIdx[id]; !ok {
			return nil, NewConfigError(ErrCodeUnknownChannel, "topology.default_wordlines", "%q is not a configured wordline", id)
		}
	}
	t.DefaultBitlines = IDs(spec.DefaultBitlines...)
	for _, id := range t.DefaultBitlines {
		if _, ok := t.blIdx[id]; !ok {
			return nil, NewConfigError(ErrCodeUnknownChannel, "topology.default_bitlines", "%q is not a configured bitline", id)
		}
	}
	if len(t.DefaultWordlines) == 0 {
		t.DefaultWordlines = t.Wordlines
	}
	if len(t.DefaultBitlines) == 0 {
		t.DefaultBitlines = t.Bitlines
	}

	return t, nil
}

func (t *Topology) assignRole(names []string, role Role, field string) ([]ChannelID, error) {
	ids := IDs(names...)
	for _, id := range ids {
		ch, ok := t.channels[id]
		if !ok {
			return nil, NewConfigError(ErrCodeUnknownChannel, field, "channel %q is not in any pin group", id)
		}
		if ch.Role != RoleOther {
			return nil, NewConfigError(ErrCodeDuplicateChannel, field, "channel %q is already a %s", id, ch.Role)
		}
		ch.Role = role
		t.channels[id] = ch
	}
	return ids, nil
}

// Lookup resolves a channel ID.
func (t *Topology) Lookup(id ChannelID) (Channel, bool) {
	ch, ok := t.channels[id]
	return ch, ok
}

// Has reports whether id is a configured channel.
func (t *Topology) Has(id ChannelID) bool {
	_, ok := t.channels[id]
	return ok
}

// GroupIndex returns the index of the named pin group.
func (t *Topology) GroupIndex(name string) (int, bool) {
	i, ok := t.groupIdx[name]
	return i, ok
}

// WordlineIndex returns the position of id in Wordlines.
func (t *Topology) WordlineIndex(id ChannelID) (int, bool) {
	i, ok := t.wlIdx[id]
	return i, ok
}

// BitlineIndex returns the position of id in Bitlines.
func (t *Topology) BitlineIndex(id ChannelID) (int, bool) {
	i, ok := t.blIdx[id]
	return i, ok
}

// SourcelineFor returns the sourceline paired with bitline bl.
func (t *Topology) SourcelineFor(bl ChannelID) (ChannelID, bool) {
	i, ok := t.blIdx[bl]
	if !ok {
		return "", false
	}
	if len(t.Sourcelines) == 1 {
		return t.Sourcelines[0], true
	}
	return t.Sourcelines[i], true
}

// GroupsWithRole returns the indices of groups holding at least one channel
// of the given role, in group order.
func (t *Topology) GroupsWithRole(role Role) []int {
	var out []int
	for gi, g := range t.Groups {
		for _, id := range g.Channels {
			if t.channels[id].Role == role {
				out = append(out, gi)
				break
			}
		}
	}
	return out
}

// BySession splits ids by the session that owns them, preserving order.
// Unknown IDs are reported as a ConfigError.
func (t *Topology) BySession(ids []ChannelID) ([][]ChannelID, error) {
	out := make([][]ChannelID, len(t.Sessions))
	for i := range out {
		out[i] = []ChannelID{}
	}
	for _, id := range ids {
		ch, ok := t.channels[id]
		if !ok {
			return nil, NewConfigError(ErrCodeUnknownChannel, "", "channel %q is not in any pin group", id)
		}
		out[ch.Session] = append(out[ch.Session], id)
	}
	return out, nil
}
