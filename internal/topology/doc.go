// Package topology describes the fixed electrical wiring of a test setup.
//
// A Topology is built once from configuration and never mutated afterwards.
// It records which hardware session and pin group every channel belongs to,
// the bit order of each pin group, and the role a channel plays in the
// memory array (wordline, bitline, sourceline or always-active control
// signal).
//
// Channel names are normalised exactly once, by NewChannelID, so the rest of
// the code compares ChannelID values and never re-parses names.
package topology
