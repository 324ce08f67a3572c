package cells

import "slices"

// WorkingSet is a set of arena indices.
type WorkingSet struct {
	in    []bool
	count int
}

// NewWorkingSet creates a set over an arena of n cells holding members.
func NewWorkingSet(n int, members []int) *WorkingSet {
	ws := &WorkingSet{in: make([]bool, n)}
	ws.Update(members, nil)
	return ws
}

// Update inserts add, then deletes remove. Indices outside the arena are
// ignored.
func (ws *WorkingSet) Update(add, remove []int) {
	for _, i := range add {
		if i >= 0 && i < len(ws.in) && !ws.in[i] {
			ws.in[i] = true
			ws.count++
		}
	}
	for _, i := range remove {
		if i >= 0 && i < len(ws.in) && ws.in[i] {
			ws.in[i] = false
			ws.count--
		}
	}
}

// Has reports membership of arena index i.
func (ws *WorkingSet) Has(i int) bool { return i >= 0 && i < len(ws.in) && ws.in[i] }

// Len returns the number of members.
func (ws *WorkingSet) Len() int { return ws.count }

// Empty reports whether the set has no members.
func (ws *WorkingSet) Empty() bool { return ws.count == 0 }

// Members returns the members in ascending arena order.
func (ws *WorkingSet) Members() []int {
	out := make([]int, 0, ws.count)
	for i, in := range ws.in {
		if in {
			out = append(out, i)
		}
	}
	return out
}

// Rows groups members by arena row. Rows are ascending, as are the members
// within each row.
func (a *Array) Rows(members []int) [][]int {
	byRow := make(map[int][]int)
	var rows []int
	for _, i := range members {
		r := a.cells[i].Row
		if _, ok := byRow[r]; !ok {
			rows = append(rows, r)
		}
		byRow[r] = append(byRow[r], i)
	}
	slices.Sort(rows)
	out := make([][]int, len(rows))
	for k, r := range rows {
		out[k] = byRow[r]
		slices.Sort(out[k])
	}
	return out
}
