package engine

import (
	"github.com/roach88/rram/internal/cells"
	"github.com/roach88/rram/internal/recipe"
	"github.com/roach88/rram/internal/topology"
)

// State is the terminal state of an operation.
type State string

const (
	StateDone    State = "DONE"
	StatePartial State = "PARTIAL"
)

// CellResult is the outcome for one cell.
type CellResult struct {
	Cell cells.CellID       `json:"cell"`
	SL   topology.ChannelID `json:"sl"`
	Row  int                `json:"row"`
	Col  int                `json:"col"`
	cells.Measurement
	// Recipe is the grid point that brought the cell to target; nil if the
	// cell was already at target or never got there.
	Recipe  *recipe.Recipe `json:"recipe,omitempty"`
	Success bool           `json:"success"`
}

// Result is the structured outcome of one operation.
type Result struct {
	ID         string       `json:"id"`
	Mode       recipe.Mode  `json:"mode"`
	State      State        `json:"state"`
	Target     float64      `json:"target,omitempty"`
	GridSize   int          `json:"grid_size,omitempty"`
	Iterations int          `json:"iterations"`
	Cells      []CellResult `json:"cells"`
}

// Failed returns the cells that did not reach target.
func (r *Result) Failed() []CellResult {
	var out []CellResult
	for _, c := range r.Cells {
		if !c.Success {
			out = append(out, c)
		}
	}
	return out
}
