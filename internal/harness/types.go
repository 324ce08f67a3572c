package harness

import (
	"time"

	"github.com/roach88/rram/internal/engine"
)

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall test success: every invariant held and every
	// expectation matched.
	Pass bool `json:"pass"`

	// Trace contains every controller event in seq order.
	Trace []engine.Event `json:"trace"`

	// Errors contains invariant and expectation failures.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Outcome is the operation result; nil if the operation failed.
	Outcome *engine.Result `json:"outcome,omitempty"`

	// Err is the error the operation returned, if any.
	Err error `json:"-"`

	// Pulses counts the pulses the array received.
	Pulses int `json:"pulses"`

	// Settled is the total settling time the controller waited.
	Settled time.Duration `json:"settled"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []engine.Event{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// events returns the trace events of kind k.
func (r *Result) events(k engine.EventKind) []engine.Event {
	var out []engine.Event
	for _, ev := range r.Trace {
		if ev.Kind == k {
			out = append(out, ev)
		}
	}
	return out
}
