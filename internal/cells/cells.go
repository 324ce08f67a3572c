// Package cells holds the per-cell state of a crossbar array and the
// working set of cells still being programmed.
//
// Cells live in a flat arena indexed by row*len(bitlines)+col. A working
// set is a set of arena indices; it never copies cell state.
package cells

import (
	"fmt"
	"strings"

	"github.com/roach88/rram/internal/topology"
)

// CellID identifies a cell by its wordline and bitline.
type CellID struct {
	WL topology.ChannelID
	BL topology.ChannelID
}

func (c CellID) String() string { return string(c.WL) + "/" + string(c.BL) }

// ParseCellID parses "WL/BL".
func ParseCellID(s string) (CellID, error) {
	wl, bl, ok := strings.Cut(s, "/")
	if !ok || strings.TrimSpace(wl) == "" || strings.TrimSpace(bl) == "" {
		return CellID{}, fmt.Errorf("cell %q: want WL/BL", s)
	}
	return CellID{WL: topology.NewChannelID(wl), BL: topology.NewChannelID(bl)}, nil
}

// Measurement is one resolved reading of a cell.
type Measurement struct {
	Resistance  float64 `json:"res"`
	Conductance float64 `json:"cond"`
	Current     float64 `json:"meas_i"`
	Voltage     float64 `json:"meas_v"`
	Leakage     float64 `json:"leakage"`
}

// Cell is one arena slot.
type Cell struct {
	CellID
	SL  topology.ChannelID
	Row int
	Col int

	Last      Measurement
	Measured  bool
	Converged bool
}

// Array is the arena of every addressable cell of a topology.
type Array struct {
	topo  *topology.Topology
	cells []Cell
}

// NewArray creates one cell per (wordline, bitline) pair.
func NewArray(topo *topology.Topology) *Array {
	a := &Array{topo: topo, cells: make([]Cell, len(topo.Wordlines)*len(topo.Bitlines))}
	for r, wl := range topo.Wordlines {
		for c, bl := range topo.Bitlines {
			sl, _ := topo.SourcelineFor(bl)
			a.cells[a.index(r, c)] = Cell{CellID: CellID{WL: wl, BL: bl}, SL: sl, Row: r, Col: c}
		}
	}
	return a
}

func (a *Array) index(row, col int) int { return row*len(a.topo.Bitlines) + col }

// Len returns the number of cells in the arena.
func (a *Array) Len() int { return len(a.cells) }

// Topology returns the topology the arena was built from.
func (a *Array) Topology() *topology.Topology { return a.topo }

// Cell returns the cell at arena index i.
func (a *Array) Cell(i int) *Cell { return &a.cells[i] }

// Index resolves a cell ID to its arena index.
func (a *Array) Index(id CellID) (int, bool) {
	r, ok := a.topo.WordlineIndex(id.WL)
	if !ok {
		return 0, false
	}
	c, ok := a.topo.BitlineIndex(id.BL)
	if !ok {
		return 0, false
	}
	return a.index(r, c), true
}

// Record stores a measurement for cell i.
func (a *Array) Record(i int, m Measurement) {
	a.cells[i].Last = m
	a.cells[i].Measured = true
}

// Reset clears measurements and convergence flags before a new operation.
func (a *Array) Reset() {
	for i := range a.cells {
		a.cells[i].Last = Measurement{}
		a.cells[i].Measured = false
		a.cells[i].Converged = false
	}
}
