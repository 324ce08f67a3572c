package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/rram/internal/recipe"
)

// ErrSyncTimeout is returned by a Pulser when the sessions of a
// multi-instrument pulse do not all report completion in time.
var ErrSyncTimeout = errors.New("trigger-synchronized sessions did not complete in time")

// HardwareFaultCode categorizes hardware faults.
type HardwareFaultCode string

const (
	// FaultTriggerTimeout means a synchronized pulse did not complete.
	FaultTriggerTimeout HardwareFaultCode = "TRIGGER_TIMEOUT"

	// FaultDriverFailure means the driver rejected a call.
	FaultDriverFailure HardwareFaultCode = "DRIVER_FAILURE"
)

// Fault stages.
const (
	StagePulse   = "pulse"
	StageBias    = "bias"
	StageMeasure = "measure"
)

// HardwareFault aborts an operation. An applied pulse cannot be undone, so
// nothing is retried; Snapshot carries the last known state of every
// selected cell for diagnosis.
type HardwareFault struct {
	Code  HardwareFaultCode
	Stage string
	// Recipe is the grid point being applied, nil during INIT.
	Recipe   *recipe.Recipe
	Snapshot []CellResult
	Err      error
}

func (e *HardwareFault) Error() string {
	if e.Recipe != nil {
		return fmt.Sprintf("%s during %s (pw=%d aggressor=%gV gate=%gV): %v",
			e.Code, e.Stage, e.Recipe.PulseWidth, e.Recipe.Aggressor, e.Recipe.Gate, e.Err)
	}
	return fmt.Sprintf("%s during %s: %v", e.Code, e.Stage, e.Err)
}

func (e *HardwareFault) Unwrap() error { return e.Err }

// IsHardwareFault reports whether err is or wraps a *HardwareFault.
func IsHardwareFault(err error) bool {
	var hf *HardwareFault
	return errors.As(err, &hf)
}

func newHardwareFault(stage string, r *recipe.Recipe, snapshot []CellResult, err error) *HardwareFault {
	code := FaultDriverFailure
	if errors.Is(err, ErrSyncTimeout) {
		code = FaultTriggerTimeout
	}
	return &HardwareFault{Code: code, Stage: stage, Recipe: r, Snapshot: snapshot, Err: err}
}
