package engine

import (
	"time"

	"github.com/roach88/rram/internal/recipe"
	"github.com/roach88/rram/internal/topology"
	"github.com/roach88/rram/internal/waveform"
)

// DefaultAveragedReads is the number of reads averaged in averaged mode.
const DefaultAveragedReads = 3

// Settings is everything the controller needs from lab configuration,
// already resolved for one device polarity.
type Settings struct {
	Topology *topology.Topology

	// Ops holds the bias set and sweep of each programming mode.
	Ops     map[recipe.Mode]recipe.Op
	Targets recipe.Targets

	Read          recipe.ReadBias
	ReadSettle    time.Duration
	ShuntRes      float64
	AveragedReads int

	Timing waveform.Timing
	MaxLen int
	// GateGroups are driven during the phases around the pulse body.
	// Empty means every group holding a wordline.
	GateGroups []string

	Envelope recipe.Envelope
}

// Op returns the bias set of mode or an E204 ConfigError.
func (s Settings) Op(mode recipe.Mode) (recipe.Op, error) {
	op, ok := s.Ops[mode]
	if !ok {
		return recipe.Op{}, topology.NewConfigError(topology.ErrCodeMissingKey, "op."+mode.String(), "no recipe for %s", mode)
	}
	return op, nil
}
