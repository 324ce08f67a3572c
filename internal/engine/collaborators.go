package engine

import (
	"context"
	"time"

	"github.com/roach88/rram/internal/recipe"
	"github.com/roach88/rram/internal/topology"
	"github.com/roach88/rram/internal/waveform"
)

// DriveLevel is the voltage a channel drives while its waveform bit is
// high and while it is low.
type DriveLevel struct {
	Channel topology.ChannelID `json:"channel"`
	High    float64            `json:"high"`
	Low     float64            `json:"low"`
}

// Level is a static voltage forced on a channel.
type Level struct {
	Channel topology.ChannelID `json:"channel"`
	Volts   float64            `json:"volts"`
}

// Quantity is what a Meter samples.
type Quantity int

const (
	QuantityVoltage Quantity = iota
	QuantityCurrent
)

func (q Quantity) String() string {
	if q == QuantityCurrent {
		return "current"
	}
	return "voltage"
}

// PulseRequest is one physical pulse.
type PulseRequest struct {
	Recipe recipe.Recipe
	Pulse  *waveform.Pulse
	Drives []DriveLevel
}

// Pulser commits a pulse to hardware and plays it. Pulse blocks until
// every participating session has finished.
type Pulser interface {
	Pulse(ctx context.Context, req PulseRequest) error
}

// Meter forces static levels and samples channels.
type Meter interface {
	// Bias forces levels; channels not listed keep their previous level.
	Bias(ctx context.Context, levels []Level) error

	// Measure samples q on each channel. channels holds one list per
	// session (possibly empty); the result mirrors its shape.
	Measure(ctx context.Context, q Quantity, channels [][]topology.ChannelID) ([][]float64, error)
}

// Sleeper blocks for settling delays. Settling is never cut short, so
// Sleep takes no context.
type Sleeper interface {
	Sleep(d time.Duration)
}

type wallSleeper struct{}

func (wallSleeper) Sleep(d time.Duration) { time.Sleep(d) }
