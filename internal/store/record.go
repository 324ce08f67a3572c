package store

import (
	"fmt"
	"time"

	"github.com/roach88/rram/internal/cells"
	"github.com/roach88/rram/internal/engine"
	"github.com/roach88/rram/internal/recipe"
)

// Read classification of a cell.
const (
	StateSet     = "set"
	StateReset   = "reset"
	StateUnknown = "unknown"
)

// RunInfo describes an operation about to be logged.
type RunInfo struct {
	ID       string
	Name     string
	Chip     string
	Device   string
	Mode     recipe.Mode
	Settings string
	Started  time.Time
}

// Run is a logged operation.
type Run struct {
	RunInfo
	Day   string
	Index int
	State string
}

// Label is the lab-log name of the run, e.g. "2026-10-16_SET_0003".
func (r Run) Label() string {
	return fmt.Sprintf("%s_%s_%04d", r.Day, r.Name, r.Index)
}

// Record is one (cell, operation) row.
type Record struct {
	Seq    int64
	RunID  string
	Chip   string
	Device string
	Mode   recipe.Mode
	WL     string
	BL     string
	SL     string
	cells.Measurement
	// Recipe is nil when no pulse brought the cell to target.
	Recipe  *recipe.Recipe
	Success bool
	// State is the read classification; empty for program rows.
	State string
}

// Classify names the state of a cell from its resistance.
func Classify(r float64, targets recipe.Targets) string {
	if t, ok := targets[recipe.ModeSet]; ok && r < t {
		return StateSet
	}
	if t, ok := targets[recipe.ModeReset]; ok && r > t {
		return StateReset
	}
	return StateUnknown
}

// RecordsFromResult converts a controller result into log rows, one per
// cell in result order.
func RecordsFromResult(chip, device string, res *engine.Result, targets recipe.Targets) []Record {
	out := make([]Record, 0, len(res.Cells))
	for _, c := range res.Cells {
		rec := Record{
			Chip:        chip,
			Device:      device,
			Mode:        res.Mode,
			WL:          string(c.Cell.WL),
			BL:          string(c.Cell.BL),
			SL:          string(c.SL),
			Measurement: c.Measurement,
			Success:     c.Success,
		}
		if c.Recipe != nil {
			r := *c.Recipe
			rec.Recipe = &r
		}
		if res.Mode == recipe.ModeRead {
			rec.State = Classify(c.Resistance, targets)
		}
		out = append(out, rec)
	}
	return out
}
