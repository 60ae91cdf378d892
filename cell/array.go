package cell

import "sort"

// Array is a sorted, duplicate-free sequence of cells supporting binary
// search. Element arrays are ordered and matched by the full cell order
// including level; node arrays are ordered and matched by position
// alone, since a node's identity is independent of the level of the
// element that generated it.
type Array struct {
	cells []Cell
	nodal bool
}

// NewArray sorts the given cells, removes duplicates and returns the
// resulting element array. The input slice is taken over by the array.
func NewArray(cells []Cell) *Array {
	a := &Array{cells: cells}
	a.sortUnique()
	return a
}

// NewNodeArray sorts the given cells by position, removes positional
// duplicates and returns the resulting node array.
func NewNodeArray(cells []Cell) *Array {
	a := &Array{cells: cells, nodal: true}
	a.sortUnique()
	return a
}

func (a *Array) cmp(x, y Cell) int {
	if a.nodal {
		return x.CompareEncoding(y)
	}
	return x.Compare(y)
}

func (a *Array) sortUnique() {
	sort.Slice(a.cells, func(i, j int) bool {
		return a.cmp(a.cells[i], a.cells[j]) < 0
	})
	if len(a.cells) == 0 {
		return
	}
	k := 1
	for i := 1; i < len(a.cells); i++ {
		if a.cmp(a.cells[k-1], a.cells[i]) != 0 {
			a.cells[k] = a.cells[i]
			k++
		}
	}
	a.cells = a.cells[:k]
}

// Len returns the number of cells in the array.
func (a *Array) Len() int { return len(a.cells) }

// At returns the i-th cell in sorted order.
func (a *Array) At(i int) Cell { return a.cells[i] }

// Cells exposes the backing slice in sorted order. Callers must not
// reorder it.
func (a *Array) Cells() []Cell { return a.cells }

// Find returns the index of q in the array, or -1 if absent. Element
// arrays require an exact level match; node arrays match by position.
func (a *Array) Find(q Cell) int {
	lo, hi := 0, len(a.cells)
	for lo < hi {
		mid := (lo + hi) / 2
		if a.cells[mid].CompareEncoding(q) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(a.cells) && a.cells[lo].CompareEncoding(q) == 0 {
		if a.nodal || a.cells[lo].Level == q.Level {
			return lo
		}
	}
	return -1
}

// Contains reports whether q is present in the array.
func (a *Array) Contains(q Cell) bool { return a.Find(q) >= 0 }

// Duplicate returns a deep copy of the array.
func (a *Array) Duplicate() *Array {
	c := make([]Cell, len(a.cells))
	copy(c, a.cells)
	return &Array{cells: c, nodal: a.nodal}
}
