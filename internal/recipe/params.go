package recipe

import (
	"time"

	"github.com/roach88/rram/internal/topology"
)

// Sweep holds the configured sweep axes of one operation.
type Sweep struct {
	PW        IntRange `json:"pw"`
	Aggressor Range    `json:"aggressor"`
	// Gate is optional; nil holds the gate at Op.VWL.
	Gate *Range `json:"vwl,omitempty"`
}

// Op is the configured bias set of one mode and polarity.
type Op struct {
	VWL            float64       `json:"vwl"`
	VBL            float64       `json:"vbl"`
	VSL            float64       `json:"vsl"`
	VWLUnselOffset float64       `json:"vwl_unsel_offset"`
	SettlingTime   time.Duration `json:"settling_time"`
	Sweep          Sweep         `json:"sweep"`
}

// Grid builds the escalation grid of mode from the configured biases.
// The complement line is held at its configured level.
func (o Op) Grid(mode Mode) Grid {
	complement := o.VSL
	if mode.AggressorIsSourceline() {
		complement = o.VBL
	}
	gate := Fixed(o.VWL)
	if o.Sweep.Gate != nil {
		gate = *o.Sweep.Gate
	}
	return Grid{
		Mode:            mode,
		Widths:          o.Sweep.PW,
		Aggressor:       o.Sweep.Aggressor,
		Gate:            gate,
		Complement:      complement,
		GateUnselOffset: o.VWLUnselOffset,
	}
}

// ReadBias is the bias set of a read.
type ReadBias struct {
	VWL            float64 `json:"vwl"`
	VBL            float64 `json:"vbl"`
	VSL            float64 `json:"vsl"`
	VWLUnselOffset float64 `json:"vwl_unsel_offset"`
}

// UnselectedGate is the level of wordlines not being read.
func (b ReadBias) UnselectedGate() float64 { return b.VSL + b.VWLUnselOffset }

// Check verifies every read level against e.
func (b ReadBias) Check(e Envelope) error {
	if err := e.Check("read.vwl", b.VWL); err != nil {
		return err
	}
	if err := e.Check("read.vbl", b.VBL); err != nil {
		return err
	}
	if err := e.Check("read.vsl", b.VSL); err != nil {
		return err
	}
	return e.Check("read.vwl_unsel", b.UnselectedGate())
}

// Targets maps each programming mode to its target resistance in ohms.
type Targets map[Mode]float64

// Target returns the target of m or an E204 ConfigError.
func (t Targets) Target(m Mode) (float64, error) {
	v, ok := t[m]
	if !ok {
		return 0, topology.NewConfigError(topology.ErrCodeMissingKey, "target_res."+m.String(), "no target resistance for %s", m)
	}
	return v, nil
}
