// Package instrument drives digital pattern instruments on behalf of the
// controller: it implements engine.Pulser and engine.Meter over one driver
// Session per physical instrument.
package instrument

import (
	"context"

	"github.com/roach88/rram/internal/engine"
	"github.com/roach88/rram/internal/topology"
)

// Session is one instrument as exposed by its driver. Calls on a single
// session are never concurrent, except WaitUntilDone which the rig calls
// for every session of a synchronized burst at once.
type Session interface {
	Name() string

	// WriteWaveform loads the source waveform of one hardware word.
	WriteWaveform(ctx context.Context, word int, samples []uint64) error
	// SetPulseWidth programs the pattern length register.
	SetPulseWidth(ctx context.Context, width int) error
	// SetDrive sets the high/low levels of the listed channels.
	SetDrive(ctx context.Context, levels []engine.DriveLevel) error
	// Commit applies pending configuration.
	Commit(ctx context.Context) error

	// Burst plays the pattern and blocks until it completes.
	Burst(ctx context.Context) error

	// Arm prepares a burst that starts on the shared trigger.
	Arm(ctx context.Context) error
	// Trigger fires the shared trigger; called on the leader only.
	Trigger(ctx context.Context) error
	// WaitUntilDone blocks until the armed burst completes or ctx ends.
	WaitUntilDone(ctx context.Context) error

	// Force sets static PPMU levels.
	Force(ctx context.Context, levels []engine.Level) error
	// Measure samples q on channels, in order.
	Measure(ctx context.Context, q engine.Quantity, channels []topology.ChannelID) ([]float64, error)
}
