package recipe

import (
	"iter"
	"math"

	"github.com/roach88/rram/internal/topology"
)

const (
	// voltScale is the inverse of the resolution grid voltages are rounded to.
	voltScale = 1e9
	// arangeSlack absorbs float error when counting range points.
	arangeSlack = 1e-9
)

// Range is a half-open voltage sweep [Start, Stop) with increment Step.
// Step 0 is the single value Start.
type Range struct {
	Start float64 `json:"start"`
	Stop  float64 `json:"stop"`
	Step  float64 `json:"step"`
}

// Fixed returns the single-point range v.
func Fixed(v float64) Range { return Range{Start: v, Stop: v} }

// Validate rejects negative steps and empty ranges.
func (r Range) Validate(field string) error {
	if r.Step < 0 {
		return topology.NewConfigError(topology.ErrCodeInvalidValue, field, "step must not be negative, got %g", r.Step)
	}
	if r.Len() == 0 {
		return topology.NewConfigError(topology.ErrCodeInvalidValue, field, "range [%g, %g) step %g is empty", r.Start, r.Stop, r.Step)
	}
	return nil
}

// Len returns the number of points.
func (r Range) Len() int {
	if r.Step == 0 {
		return 1
	}
	if r.Step < 0 {
		return 0
	}
	n := math.Ceil((r.Stop-r.Start)/r.Step - arangeSlack)
	if n <= 0 {
		return 0
	}
	return int(n)
}

// At returns point k, rounded to 1 nV.
func (r Range) At(k int) float64 {
	return math.Round((r.Start+float64(k)*r.Step)*voltScale) / voltScale
}

// Values returns every point in ascending order.
func (r Range) Values() []float64 {
	out := make([]float64, r.Len())
	for k := range out {
		out[k] = r.At(k)
	}
	return out
}

// IntRange is a half-open pulse-width sweep in timesteps. Step 0 is the
// single value Start.
type IntRange struct {
	Start int `json:"start"`
	Stop  int `json:"stop"`
	Step  int `json:"step"`
}

// Validate rejects negative widths, negative steps and empty ranges.
func (r IntRange) Validate(field string) error {
	if r.Start < 0 || r.Step < 0 {
		return topology.NewConfigError(topology.ErrCodeInvalidValue, field, "start and step must not be negative")
	}
	if r.Len() == 0 {
		return topology.NewConfigError(topology.ErrCodeInvalidValue, field, "range [%d, %d) step %d is empty", r.Start, r.Stop, r.Step)
	}
	return nil
}

// Len returns the number of points.
func (r IntRange) Len() int {
	if r.Step == 0 {
		return 1
	}
	if r.Step < 0 || r.Stop <= r.Start {
		return 0
	}
	return (r.Stop - r.Start + r.Step - 1) / r.Step
}

// Values returns every point in ascending order.
func (r IntRange) Values() []int {
	out := make([]int, r.Len())
	for k := range out {
		out[k] = r.Start + k*r.Step
	}
	return out
}

// Recipe is one point of the escalation grid.
type Recipe struct {
	Mode       Mode    `json:"mode"`
	PulseWidth int     `json:"pw"`
	Aggressor  float64 `json:"aggressor"`
	Gate       float64 `json:"vwl"`
	// Complement is the fixed level of the non-swept line.
	Complement float64 `json:"complement"`
	// GateUnselOffset biases unselected wordlines above Base.
	GateUnselOffset float64 `json:"vwl_unsel_offset"`
}

// VBL returns the bitline level.
func (r Recipe) VBL() float64 {
	if r.Mode.AggressorIsSourceline() {
		return r.Complement
	}
	return r.Aggressor
}

// VSL returns the sourceline level.
func (r Recipe) VSL() float64 {
	if r.Mode.AggressorIsSourceline() {
		return r.Aggressor
	}
	return r.Complement
}

// VWL returns the selected wordline level.
func (r Recipe) VWL() float64 { return r.Gate }

// Base is the reference level the unselected biases are built on: VSL for
// SET and FORM, VBL for RESET.
func (r Recipe) Base() float64 { return r.Complement }

// UnselectedGate is the level of wordlines outside the pulsed row.
func (r Recipe) UnselectedGate() float64 { return r.Base() + r.GateUnselOffset }

// UnselectedAggressor is the level of aggressor lines whose cells are not
// being pulsed.
func (r Recipe) UnselectedAggressor() float64 { return UnselectedBias(r.Base(), r.Aggressor) }

// UnselectedBias interpolates a quarter of the way from base to active.
func UnselectedBias(base, active float64) float64 {
	return base + (active-base)/4
}

// Grid is the ordered set of recipes for one operation.
type Grid struct {
	Mode            Mode
	Widths          IntRange
	Aggressor       Range
	Gate            Range
	Complement      float64
	GateUnselOffset float64
}

// Validate checks every axis.
func (g Grid) Validate() error {
	if err := g.Widths.Validate("sweep.pw"); err != nil {
		return err
	}
	if err := g.Aggressor.Validate("sweep." + g.Mode.AggressorKey()); err != nil {
		return err
	}
	return g.Gate.Validate("sweep.vwl")
}

// Size returns the number of grid points.
func (g Grid) Size() int { return g.Widths.Len() * g.Aggressor.Len() * g.Gate.Len() }

// All yields recipes with pulse width outermost, then aggressor, then gate,
// each ascending. Values are computed as they are consumed.
func (g Grid) All() iter.Seq[Recipe] {
	return func(yield func(Recipe) bool) {
		for _, pw := range g.Widths.Values() {
			for a := 0; a < g.Aggressor.Len(); a++ {
				for w := 0; w < g.Gate.Len(); w++ {
					r := Recipe{
						Mode:            g.Mode,
						PulseWidth:      pw,
						Aggressor:       g.Aggressor.At(a),
						Gate:            g.Gate.At(w),
						Complement:      g.Complement,
						GateUnselOffset: g.GateUnselOffset,
					}
					if !yield(r) {
						return
					}
				}
			}
		}
	}
}
