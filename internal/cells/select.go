package cells

import (
	"errors"
	"fmt"

	"github.com/roach88/rram/internal/topology"
)

// SelectionError reports a requested wordline, bitline or cell that is not
// part of the configured array.
type SelectionError struct {
	Kind string `json:"kind"` // "wordline", "bitline", "excluded bitline" or "cell"
	Name string `json:"name"`
}

func (e *SelectionError) Error() string {
	return fmt.Sprintf("unknown %s %q", e.Kind, e.Name)
}

// IsSelectionError reports whether err is or wraps a *SelectionError.
func IsSelectionError(err error) bool {
	var se *SelectionError
	return errors.As(err, &se)
}

// Selection names the cells an operation targets.
//
// The cross-product Wordlines x (Bitlines - ExcludedBitlines) is formed
// first, then explicit Cells are merged in. When Cells is empty, an empty
// Wordlines or Bitlines list falls back to the topology defaults.
type Selection struct {
	Cells            []CellID
	Wordlines        []topology.ChannelID
	Bitlines         []topology.ChannelID
	ExcludedBitlines []topology.ChannelID
}

// SelectCells resolves sel into arena indices: cross-product cells in
// wordline-major order, followed by explicit cells not already covered.
func (a *Array) SelectCells(sel Selection) ([]int, error) {
	wls, bls := sel.Wordlines, sel.Bitlines
	if len(sel.Cells) == 0 {
		if len(wls) == 0 {
			wls = a.topo.DefaultWordlines
		}
		if len(bls) == 0 {
			bls = a.topo.DefaultBitlines
		}
	}

	rows := make([]int, 0, len(wls))
	for _, wl := range wls {
		r, ok := a.topo.WordlineIndex(wl)
		if !ok {
			return nil, &SelectionError{Kind: "wordline", Name: string(wl)}
		}
		rows = append(rows, r)
	}
	excluded := make(map[int]bool, len(sel.ExcludedBitlines))
	for _, bl := range sel.ExcludedBitlines {
		c, ok := a.topo.BitlineIndex(bl)
		if !ok {
			return nil, &SelectionError{Kind: "excluded bitline", Name: string(bl)}
		}
		excluded[c] = true
	}
	cols := make([]int, 0, len(bls))
	for _, bl := range bls {
		c, ok := a.topo.BitlineIndex(bl)
		if !ok {
			return nil, &SelectionError{Kind: "bitline", Name: string(bl)}
		}
		if !excluded[c] {
			cols = append(cols, c)
		}
	}

	seen := make(map[int]bool)
	var out []int
	add := func(i int) {
		if !seen[i] {
			seen[i] = true
			out = append(out, i)
		}
	}
	for _, r := range rows {
		for _, c := range cols {
			add(a.index(r, c))
		}
	}
	for _, id := range sel.Cells {
		i, ok := a.Index(id)
		if !ok {
			return nil, &SelectionError{Kind: "cell", Name: id.String()}
		}
		add(i)
	}
	return out, nil
}
