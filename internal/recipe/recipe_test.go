package recipe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rram/internal/topology"
)

func TestRange_Values(t *testing.T) {
	tests := []struct {
		name string
		r    Range
		want []float64
	}{
		{"half open", Range{Start: 1.0, Stop: 1.4, Step: 0.2}, []float64{1.0, 1.2}},
		{"float slack", Range{Start: 0.1, Stop: 0.4, Step: 0.1}, []float64{0.1, 0.2, 0.3}},
		{"partial last step", Range{Start: 2, Stop: 2.5, Step: 0.2}, []float64{2, 2.2, 2.4}},
		{"fixed", Fixed(1.7), []float64{1.7}},
		{"empty", Range{Start: 1, Stop: 1, Step: 0.1}, []float64{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.r.Values())
			assert.Equal(t, len(tt.want), tt.r.Len())
		})
	}
}

func TestRange_Validate(t *testing.T) {
	assert.NoError(t, Fixed(0).Validate("x"))
	assert.Equal(t, topology.ErrCodeInvalidValue, topology.ConfigErrorCode(Range{Start: 0, Stop: 1, Step: -0.1}.Validate("x")))
	assert.Equal(t, topology.ErrCodeInvalidValue, topology.ConfigErrorCode(Range{Start: 2, Stop: 1, Step: 0.1}.Validate("x")))
}

func TestIntRange_Values(t *testing.T) {
	assert.Equal(t, []int{100, 200}, IntRange{Start: 100, Stop: 300, Step: 100}.Values())
	assert.Equal(t, []int{100, 200, 300}, IntRange{Start: 100, Stop: 301, Step: 100}.Values())
	assert.Equal(t, []int{50}, IntRange{Start: 50}.Values())
	assert.Empty(t, IntRange{Start: 5, Stop: 5, Step: 1}.Values())
	assert.Error(t, IntRange{Start: -1, Stop: 5, Step: 1}.Validate("pw"))
}

func TestGrid_Order(t *testing.T) {
	g := Grid{
		Mode:      ModeSet,
		Widths:    IntRange{Start: 100, Stop: 300, Step: 100},
		Aggressor: Range{Start: 1.0, Stop: 1.4, Step: 0.2},
		Gate:      Range{Start: 2.0, Stop: 2.2, Step: 0.1},
	}
	require.Equal(t, 8, g.Size())

	type point struct {
		pw   int
		a, w float64
	}
	var got []point
	for r := range g.All() {
		got = append(got, point{r.PulseWidth, r.Aggressor, r.Gate})
	}
	assert.Equal(t, []point{
		{100, 1.0, 2.0}, {100, 1.0, 2.1}, {100, 1.2, 2.0}, {100, 1.2, 2.1},
		{200, 1.0, 2.0}, {200, 1.0, 2.1}, {200, 1.2, 2.0}, {200, 1.2, 2.1},
	}, got)
}

func TestGrid_EarlyStop(t *testing.T) {
	g := Grid{Mode: ModeSet, Widths: IntRange{Start: 1, Stop: 100, Step: 1}, Aggressor: Fixed(1), Gate: Fixed(2)}
	n := 0
	for range g.All() {
		n++
		if n == 3 {
			break
		}
	}
	assert.Equal(t, 3, n)
}

func TestRecipe_AggressorAssignment(t *testing.T) {
	op := Op{VWL: 2, VBL: 1.5, VSL: 0, VWLUnselOffset: 0.5, Sweep: Sweep{
		PW:        IntRange{Start: 10},
		Aggressor: Range{Start: 1, Stop: 2, Step: 0.5},
	}}

	set := op.Grid(ModeSet)
	var vbls []float64
	for r := range set.All() {
		assert.Equal(t, 0.0, r.VSL())
		assert.Equal(t, 2.0, r.VWL())
		vbls = append(vbls, r.VBL())
	}
	assert.Equal(t, []float64{1, 1.5}, vbls)

	reset := op.Grid(ModeReset)
	var vsls []float64
	for r := range reset.All() {
		assert.Equal(t, 1.5, r.VBL(), "bitline held at configured level")
		vsls = append(vsls, r.VSL())
	}
	assert.Equal(t, []float64{1, 1.5}, vsls)
}

func TestRecipe_UnselectedLevels(t *testing.T) {
	r := Recipe{Mode: ModeSet, Aggressor: 2.0, Gate: 3, Complement: 0.4, GateUnselOffset: 0.1}
	assert.Equal(t, 0.4, r.Base())
	assert.InDelta(t, 0.8, r.UnselectedAggressor(), 1e-12)
	assert.InDelta(t, 0.5, r.UnselectedGate(), 1e-12)

	r.Mode = ModeReset
	assert.Equal(t, 0.4, r.VBL())
	assert.Equal(t, 2.0, r.VSL())
}

func TestMode_Converged(t *testing.T) {
	assert.True(t, ModeSet.Converged(40e3, 50e3))
	assert.True(t, ModeSet.Converged(50e3, 50e3))
	assert.False(t, ModeSet.Converged(60e3, 50e3))
	assert.True(t, ModeForm.Converged(10e3, 50e3))
	assert.True(t, ModeReset.Converged(250e3, 200e3))
	assert.False(t, ModeReset.Converged(30e3, 200e3))
}

func TestParseMode(t *testing.T) {
	for _, m := range []Mode{ModeRead, ModeSet, ModeReset, ModeForm} {
		got, err := ParseMode(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	got, err := ParseMode(" reset ")
	require.NoError(t, err)
	assert.Equal(t, ModeReset, got)
	_, err = ParseMode("ERASE")
	assert.Error(t, err)
}

func TestEnvelope(t *testing.T) {
	e := DefaultEnvelope
	assert.NoError(t, e.Check("vbl", 6))
	assert.NoError(t, e.Check("vbl", -2))
	err := e.Check("vbl", 6.5)
	assert.Equal(t, topology.ErrCodeVoltageEnvelope, topology.ConfigErrorCode(err))

	r := Recipe{Mode: ModeSet, Aggressor: 3, Gate: 7}
	assert.Contains(t, e.CheckRecipe(r).Error(), "vwl")

	b := ReadBias{VWL: 1, VBL: 0.3, VSL: 0, VWLUnselOffset: -3}
	assert.Contains(t, b.Check(e).Error(), "read.vwl_unsel")
}

func TestTargets(t *testing.T) {
	targets := Targets{ModeSet: 50e3}
	v, err := targets.Target(ModeSet)
	require.NoError(t, err)
	assert.Equal(t, 50e3, v)
	_, err = targets.Target(ModeReset)
	assert.Equal(t, topology.ErrCodeMissingKey, topology.ConfigErrorCode(err))
}
