package topology

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ChannelID names one electrical contact. Two IDs are equal iff they refer
// to the same channel; build them with NewChannelID.
type ChannelID string

// NewChannelID normalises a configured channel name (NFC, surrounding
// whitespace removed).
func NewChannelID(name string) ChannelID {
	return ChannelID(norm.NFC.String(strings.TrimSpace(name)))
}

// IDs converts a list of names into channel IDs.
func IDs(names ...string) []ChannelID {
	ids := make([]ChannelID, len(names))
	for i, n := range names {
		ids[i] = NewChannelID(n)
	}
	return ids
}

// String returns the channel name.
func (c ChannelID) String() string { return string(c) }

// Role is the part a channel plays in the array.
type Role int

const (
	RoleOther Role = iota
	RoleWordline
	RoleBitline
	RoleSourceline
	RoleControl
)

func (r Role) String() string {
	switch r {
	case RoleWordline:
		return "wordline"
	case RoleBitline:
		return "bitline"
	case RoleSourceline:
		return "sourceline"
	case RoleControl:
		return "control"
	default:
		return "other"
	}
}

// Channel is the resolved placement of a ChannelID.
type Channel struct {
	ID      ChannelID
	Session int // index into Topology.Sessions
	Group   int // index into Topology.Groups
	Index   int // position inside the group; defines bit order
	Role    Role
}

// ChannelSet is a membership set of channel IDs.
type ChannelSet map[ChannelID]struct{}

// NewChannelSet builds a set from ids.
func NewChannelSet(ids ...ChannelID) ChannelSet {
	s := make(ChannelSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has reports membership.
func (s ChannelSet) Has(id ChannelID) bool {
	_, ok := s[id]
	return ok
}

// Add inserts ids.
func (s ChannelSet) Add(ids ...ChannelID) {
	for _, id := range ids {
		s[id] = struct{}{}
	}
}
