package cell

// Hash is an unordered set of cells with O(1) insert-if-absent. It is
// the workhorse of the refinement and balancing passes, which build
// large candidate sets before sorting them once into an Array.
type Hash struct {
	set map[Cell]struct{}
}

// NewHash returns an empty hash set.
func NewHash() *Hash {
	return &Hash{set: make(map[Cell]struct{})}
}

// Add inserts c and reports whether it was not already present.
func (h *Hash) Add(c Cell) bool {
	if _, ok := h.set[c]; ok {
		return false
	}
	h.set[c] = struct{}{}
	return true
}

// Contains reports whether c is in the set.
func (h *Hash) Contains(c Cell) bool {
	_, ok := h.set[c]
	return ok
}

// Len returns the number of cells in the set.
func (h *Hash) Len() int { return len(h.set) }

// Slice returns the cells in unspecified order.
func (h *Hash) Slice() []Cell {
	out := make([]Cell, 0, len(h.set))
	for c := range h.set {
		out = append(out, c)
	}
	return out
}

// ToArray sorts the set into an element array.
func (h *Hash) ToArray() *Array { return NewArray(h.Slice()) }

// ToNodeArray sorts the set into a node array.
func (h *Hash) ToNodeArray() *Array { return NewNodeArray(h.Slice()) }
