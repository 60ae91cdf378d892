// Package cell implements the fixed-precision integer encoding for the
// leaves of a forest of quadtrees (2D) or octrees (3D).
//
// A cell locates a square or cube region within one coarse block of the
// geometric decomposition. Coordinates are integers in [0, 2^MaxLevel)
// aligned to the cell's own side length, so that parents, children,
// siblings and same-level neighbors are all derivable with bit
// arithmetic and no tree traversal. Cells are ordered by block, then by
// the Morton (bit-interleaved) order of their coordinates, then by
// level; this is the total order used for sorting, binary search and
// the contiguous partitioning of cells across ranks.
package cell

import "math/bits"

// MaxLevel is the finest representable refinement depth. Coordinates
// occupy MaxLevel bits of an int32.
const MaxLevel = 30

// MaxCoord is the side length of a block in integer coordinates. Valid
// cell coordinates lie in [0, MaxCoord).
const MaxCoord int32 = 1 << MaxLevel

// Dim is the spatial dimension of a forest. Cells in a 2D forest keep
// Z == 0, which lets a single encoding serve both dimensions.
type Dim uint8

const (
	D2 Dim = 2
	D3 Dim = 3
)

// NumChildren returns the number of children of one cell: 4 or 8.
func (d Dim) NumChildren() int { return 1 << d }

// NumFaces returns the number of (d-1)-dimensional sides of one cell:
// 4 edges in 2D, 6 faces in 3D.
func (d Dim) NumFaces() int { return int(2 * d) }

// NumCorners returns the number of corners of one cell: 4 or 8.
func (d Dim) NumCorners() int { return 1 << d }

// NumEdges returns the number of 1-dimensional edges of a 3D cell.
// It is zero in 2D, where the sides returned by NumFaces are the edges.
func (d Dim) NumEdges() int {
	if d == D3 {
		return 12
	}
	return 0
}

// Cell identifies one node of the implicit spatial tree of a block.
// The zero value is the level-0 root cell of block 0.
//
// Invariant: X, Y and Z are multiples of the side length 2^(MaxLevel-Level).
type Cell struct {
	Block int32 // id of the owning coarse block
	X     int32
	Y     int32
	Z     int32 // always zero in 2D
	Level int32 // refinement depth, 0 <= Level <= MaxLevel
}

// Size returns the cell side length h = 2^(MaxLevel-Level).
func (c Cell) Size() int32 { return 1 << (MaxLevel - c.Level) }

// CompareEncoding orders two cells by block and Morton position,
// ignoring the level. This is the ordering used for ownership interval
// matching and for node records, whose identity is position alone.
func (c Cell) CompareEncoding(o Cell) int {
	if c.Block != o.Block {
		return int(c.Block) - int(o.Block)
	}
	xx := uint32(c.X ^ o.X)
	yy := uint32(c.Y ^ o.Y)
	zz := uint32(c.Z ^ o.Z)

	// The coordinate holding the most significant differing bit decides
	// the order; on equal magnitude z outranks y outranks x, matching
	// the bit-interleaving priority of the Morton encoding.
	lx, ly, lz := bits.Len32(xx), bits.Len32(yy), bits.Len32(zz)
	switch {
	case lz >= ly && lz >= lx && lz > 0:
		return int(c.Z) - int(o.Z)
	case ly >= lx && ly > 0:
		return int(c.Y) - int(o.Y)
	case lx > 0:
		return int(c.X) - int(o.X)
	}
	return 0
}

// Compare is the strict total order over cells: encoding order with the
// level as the final tiebreak, so that a cell sorts before its own
// descendants sharing the lower corner.
func (c Cell) Compare(o Cell) int {
	if r := c.CompareEncoding(o); r != 0 {
		return r
	}
	return int(c.Level) - int(o.Level)
}

// Parent returns the cell one level coarser containing c.
// The result is unspecified for Level == 0.
func (c Cell) Parent() Cell {
	h := c.Size()
	return Cell{
		Block: c.Block,
		X:     c.X &^ h,
		Y:     c.Y &^ h,
		Z:     c.Z &^ h,
		Level: c.Level - 1,
	}
}

// ChildID returns the index of c within its parent, in [0, 2^d).
// Bit 0 selects the upper half in x, bit 1 in y, and bit 2 in z.
func (c Cell) ChildID(d Dim) int {
	h := c.Size()
	id := 0
	if c.X&h != 0 {
		id |= 1
	}
	if c.Y&h != 0 {
		id |= 2
	}
	if d == D3 && c.Z&h != 0 {
		id |= 4
	}
	return id
}

// Sibling returns the sibling of c with the given child index at the
// same level.
func (c Cell) Sibling(d Dim, id int) Cell {
	h := c.Size()
	s := Cell{
		Block: c.Block,
		X:     c.X &^ h,
		Y:     c.Y &^ h,
		Z:     c.Z &^ h,
		Level: c.Level,
	}
	if id&1 != 0 {
		s.X += h
	}
	if id&2 != 0 {
		s.Y += h
	}
	if d == D3 && id&4 != 0 {
		s.Z += h
	}
	return s
}

// Child returns the child of c with the given index, one level finer.
// The result is unspecified for Level == MaxLevel.
func (c Cell) Child(d Dim, id int) Cell {
	h := int32(1) << (MaxLevel - c.Level - 1)
	ch := Cell{Block: c.Block, X: c.X, Y: c.Y, Z: c.Z, Level: c.Level + 1}
	if id&1 != 0 {
		ch.X += h
	}
	if id&2 != 0 {
		ch.Y += h
	}
	if d == D3 && id&4 != 0 {
		ch.Z += h
	}
	return ch
}

// Contains reports whether the region of c encloses the lower corner of
// o. Both cells must belong to the same block for a true result.
func (c Cell) Contains(o Cell) bool {
	h := c.Size()
	return c.Block == o.Block &&
		o.X >= c.X && o.X < c.X+h &&
		o.Y >= c.Y && o.Y < c.Y+h &&
		o.Z >= c.Z && o.Z < c.Z+h
}

// FaceNeighbor returns the same-level neighbor across one side of the
// cell: edge index 0..3 in 2D (-x, +x, -y, +y), face index 0..5 in 3D
// (-x, +x, -y, +y, -z, +z). The result may have coordinates outside
// [0, MaxCoord); callers detect this with InBounds and resolve the
// neighbor through the block connectivity.
func (c Cell) FaceNeighbor(face int) Cell {
	h := c.Size()
	n := c
	switch face {
	case 0:
		n.X -= h
	case 1:
		n.X += h
	case 2:
		n.Y -= h
	case 3:
		n.Y += h
	case 4:
		n.Z -= h
	case 5:
		n.Z += h
	}
	return n
}

// EdgeNeighbor returns the same-level neighbor across one of the twelve
// edges of a 3D cell. Edges 0-3 are aligned with x, 4-7 with y and
// 8-11 with z; within each group bit 0 selects the upper side in the
// first transverse direction and bit 1 in the second.
func (c Cell) EdgeNeighbor(edge int) Cell {
	h := c.Size()
	n := c
	switch {
	case edge < 4:
		n.Y += h * (2*int32(edge&1) - 1)
		n.Z += h * (2*int32((edge>>1)&1) - 1)
	case edge < 8:
		j := edge - 4
		n.X += h * (2*int32(j&1) - 1)
		n.Z += h * (2*int32((j>>1)&1) - 1)
	default:
		j := edge - 8
		n.X += h * (2*int32(j&1) - 1)
		n.Y += h * (2*int32((j>>1)&1) - 1)
	}
	return n
}

// CornerNeighbor returns the same-level neighbor diagonally across the
// given corner, indexed like ChildID.
func (c Cell) CornerNeighbor(d Dim, corner int) Cell {
	h := c.Size()
	n := c
	n.X += h * (2*int32(corner&1) - 1)
	n.Y += h * (2*int32((corner>>1)&1) - 1)
	if d == D3 {
		n.Z += h * (2*int32((corner>>2)&1) - 1)
	}
	return n
}

// InBounds reports whether the cell lies inside its block's coordinate
// domain. Neighbor derivations of boundary cells produce out-of-bounds
// results that must be transformed into an adjacent block's frame.
func (c Cell) InBounds(d Dim) bool {
	if c.X < 0 || c.X >= MaxCoord || c.Y < 0 || c.Y >= MaxCoord {
		return false
	}
	if d == D3 && (c.Z < 0 || c.Z >= MaxCoord) {
		return false
	}
	return true
}
