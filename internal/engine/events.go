package engine

import "github.com/roach88/rram/internal/recipe"

// EventKind names a controller event.
type EventKind string

const (
	EventStart     EventKind = "start"
	EventInit      EventKind = "init"
	EventPulse     EventKind = "pulse"
	EventIteration EventKind = "iteration"
	EventFinish    EventKind = "finish"
)

// Event is one step of an operation. Events carry no measured values, so a
// trace only changes when the controller's decisions change.
type Event struct {
	Seq         int64          `json:"seq"`
	Kind        EventKind      `json:"kind"`
	OperationID string         `json:"operation_id"`
	Mode        recipe.Mode    `json:"mode"`
	Recipe      *recipe.Recipe `json:"recipe,omitempty"`
	Wordline    string         `json:"wordline,omitempty"`
	PulseWidth  int            `json:"pulse_width,omitempty"`
	// Active lists the channels driven in a pulse body.
	Active     []string `json:"active,omitempty"`
	Converged  []string `json:"converged,omitempty"`
	WorkingSet []string `json:"working_set,omitempty"`
	State      State    `json:"state,omitempty"`
}

// Observer receives events synchronously, in seq order.
type Observer func(Event)
