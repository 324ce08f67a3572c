package recipe

import "github.com/roach88/rram/internal/topology"

// Envelope is the safe voltage window. Levels outside it are rejected,
// never clamped.
type Envelope struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// DefaultEnvelope is the window of the lab's pin electronics.
var DefaultEnvelope = Envelope{Min: -2, Max: 6}

// Check returns an E206 ConfigError if v is outside the envelope.
func (e Envelope) Check(name string, v float64) error {
	if v < e.Min || v > e.Max {
		return topology.NewConfigError(topology.ErrCodeVoltageEnvelope, name,
			"%.4g V outside safe envelope [%g, %g] V", v, e.Min, e.Max)
	}
	return nil
}

// CheckRecipe checks every level recipe r can drive.
func (e Envelope) CheckRecipe(r Recipe) error {
	levels := []struct {
		name string
		v    float64
	}{
		{"vwl", r.VWL()},
		{"vbl", r.VBL()},
		{"vsl", r.VSL()},
		{"vwl_unsel", r.UnselectedGate()},
		{"unselected_" + r.Mode.AggressorKey(), r.UnselectedAggressor()},
	}
	for _, l := range levels {
		if err := e.Check(l.name, l.v); err != nil {
			return err
		}
	}
	return nil
}
