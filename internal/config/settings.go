package config

import (
	"maps"
	"slices"
	"time"

	"github.com/roach88/rram/internal/engine"
	"github.com/roach88/rram/internal/recipe"
	"github.com/roach88/rram/internal/sim"
	"github.com/roach88/rram/internal/topology"
	"github.com/roach88/rram/internal/waveform"
)

// Device identifies the chip under test.
type Device struct {
	Chip     string `json:"chip"`
	Device   string `json:"device"`
	Polarity string `json:"polarity"`
}

// Read holds read timing and the read bias of every polarity.
type Read struct {
	SettlingTime  time.Duration
	ShuntRes      float64
	AveragedReads int
	Bias          map[string]recipe.ReadBias
}

// Pulse holds waveform timing. Timing.Body is set per recipe.
type Pulse struct {
	Timing     waveform.Timing
	MaxLen     int
	GateGroups []string
}

// Settings is a loaded settings directory.
type Settings struct {
	Device   Device
	Topology topology.Spec
	// Ops maps mode then polarity to a bias set.
	Ops         map[recipe.Mode]map[string]recipe.Op
	Read        Read
	Targets     recipe.Targets
	Pulse       Pulse
	Envelope    recipe.Envelope
	SyncTimeout time.Duration
	Sim         sim.Params

	Dir   string
	Files int
}

// Polarities returns the polarities configured for mode.
func (s *Settings) Polarities(mode recipe.Mode) []string {
	return slices.Sorted(maps.Keys(s.Ops[mode]))
}

// Engine resolves the device polarity and builds controller settings.
// Modes with no recipe for the polarity are left out; the controller
// reports E204 if one of them is run.
func (s *Settings) Engine() (engine.Settings, error) {
	topo, err := topology.New(s.Topology)
	if err != nil {
		return engine.Settings{}, err
	}

	pol := s.Device.Polarity
	read, ok := s.Read.Bias[pol]
	if !ok {
		return engine.Settings{}, topology.NewConfigError(topology.ErrCodeMissingKey, "read."+pol, "no read bias for polarity %s", pol)
	}

	ops := make(map[recipe.Mode]recipe.Op)
	for mode, byPol := range s.Ops {
		if op, ok := byPol[pol]; ok {
			ops[mode] = op
		}
	}

	return engine.Settings{
		Topology:      topo,
		Ops:           ops,
		Targets:       s.Targets,
		Read:          read,
		ReadSettle:    s.Read.SettlingTime,
		ShuntRes:      s.Read.ShuntRes,
		AveragedReads: s.Read.AveragedReads,
		Timing:        s.Pulse.Timing,
		MaxLen:        s.Pulse.MaxLen,
		GateGroups:    s.Pulse.GateGroups,
		Envelope:      s.Envelope,
	}, nil
}
