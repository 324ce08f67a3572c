package cells

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rram/internal/topology"
)

func testArray(t *testing.T, defaultWLs ...string) *Array {
	t.Helper()
	topo, err := topology.New(topology.Spec{
		Sessions: []topology.SessionSpec{
			{Name: "bl", Groups: []topology.GroupSpec{
				{Name: "BLs", Channels: []string{"BL_0", "BL_1", "BL_2"}},
				{Name: "SLs", Channels: []string{"SL_0", "SL_1", "SL_2"}},
			}},
			{Name: "wl", Groups: []topology.GroupSpec{
				{Name: "WLs", Channels: []string{"WL_0", "WL_1"}},
			}},
		},
		Wordlines:        []string{"WL_0", "WL_1"},
		Bitlines:         []string{"BL_0", "BL_1", "BL_2"},
		Sourcelines:      []string{"SL_0", "SL_1", "SL_2"},
		DefaultWordlines: defaultWLs,
	})
	require.NoError(t, err)
	return NewArray(topo)
}

func ids(a *Array, idx []int) []string {
	out := make([]string, len(idx))
	for i, k := range idx {
		out[i] = a.Cell(k).String()
	}
	return out
}

func TestNewArray_DerivesSourcelines(t *testing.T) {
	a := testArray(t)
	require.Equal(t, 6, a.Len())
	c := a.Cell(4)
	assert.Equal(t, "WL_1/BL_1", c.String())
	assert.Equal(t, topology.ChannelID("SL_1"), c.SL)
	assert.Equal(t, 1, c.Row)
	assert.Equal(t, 1, c.Col)
}

func TestSelectCells(t *testing.T) {
	tests := []struct {
		name string
		sel  Selection
		want []string
	}{
		{
			name: "defaults",
			sel:  Selection{},
			want: []string{"WL_0/BL_0", "WL_0/BL_1", "WL_0/BL_2", "WL_1/BL_0", "WL_1/BL_1", "WL_1/BL_2"},
		},
		{
			name: "cross product with exclusion",
			sel:  Selection{Wordlines: topology.IDs("WL_1"), ExcludedBitlines: topology.IDs("BL_1")},
			want: []string{"WL_1/BL_0", "WL_1/BL_2"},
		},
		{
			name: "explicit cells merged without duplicates",
			sel: Selection{
				Wordlines: topology.IDs("WL_0"),
				Bitlines:  topology.IDs("BL_0"),
				Cells:     []CellID{{WL: "WL_0", BL: "BL_0"}, {WL: "WL_1", BL: "BL_2"}},
			},
			want: []string{"WL_0/BL_0", "WL_1/BL_2"},
		},
		{
			name: "explicit cells only",
			sel:  Selection{Cells: []CellID{{WL: "WL_1", BL: "BL_0"}}},
			want: []string{"WL_1/BL_0"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := testArray(t)
			got, err := a.SelectCells(tt.sel)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(a, got))
		})
	}
}

func TestSelectCells_DefaultWordlines(t *testing.T) {
	a := testArray(t, "WL_1")
	got, err := a.SelectCells(Selection{Bitlines: topology.IDs("BL_0")})
	require.NoError(t, err)
	assert.Equal(t, []string{"WL_1/BL_0"}, ids(a, got))
}

func TestSelectCells_UnknownNames(t *testing.T) {
	tests := []struct {
		name string
		sel  Selection
		kind string
	}{
		{"wordline", Selection{Wordlines: topology.IDs("WL_9")}, "wordline"},
		{"bitline", Selection{Bitlines: topology.IDs("SL_0")}, "bitline"},
		{"excluded", Selection{ExcludedBitlines: topology.IDs("BL_7")}, "excluded bitline"},
		{"cell", Selection{Cells: []CellID{{WL: "WL_0", BL: "BL_9"}}}, "cell"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := testArray(t).SelectCells(tt.sel)
			require.Error(t, err)
			assert.True(t, IsSelectionError(err))
			var se *SelectionError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.kind, se.Kind)
		})
	}
}

func TestParseCellID(t *testing.T) {
	id, err := ParseCellID(" WL_0 / BL_3")
	require.NoError(t, err)
	assert.Equal(t, CellID{WL: "WL_0", BL: "BL_3"}, id)

	for _, bad := range []string{"WL_0", "/BL_0", "WL_0/"} {
		_, err := ParseCellID(bad)
		assert.Error(t, err, bad)
	}
}

func TestWorkingSet_Update(t *testing.T) {
	ws := NewWorkingSet(6, []int{0, 2, 4})
	assert.Equal(t, 3, ws.Len())

	ws.Update([]int{5, 2}, []int{0, 3})
	assert.Equal(t, []int{2, 4, 5}, ws.Members())
	assert.False(t, ws.Has(0))
	assert.False(t, ws.Has(-1))

	ws.Update(nil, []int{2, 4, 5, 99})
	assert.True(t, ws.Empty())
}

func TestArray_RowsAndReset(t *testing.T) {
	a := testArray(t)
	assert.Equal(t, [][]int{{1, 2}, {3, 5}}, a.Rows([]int{5, 1, 3, 2}))

	a.Record(1, Measurement{Resistance: 10})
	a.Cell(1).Converged = true
	a.Reset()
	assert.False(t, a.Cell(1).Measured)
	assert.False(t, a.Cell(1).Converged)
	assert.Zero(t, a.Cell(1).Last.Resistance)
}
