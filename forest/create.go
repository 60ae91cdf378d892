package forest

import (
	"fmt"
	"math/rand"

	"github.com/notargets/forestmesh/cell"
)

// blockRange returns the half-open range of blocks this rank seeds.
// Blocks split evenly across ranks with the remainder going to the
// low ranks.
func (f *Forest) blockRange() (int, int) {
	n := f.conn.NumBlocks()
	size := f.comm.Size()
	rank := f.comm.Rank()
	per := n / size
	rem := n % size
	start := rank*per + min(rank, rem)
	end := start + per
	if rank < rem {
		end++
	}
	return start, end
}

// CreateTrees seeds the forest with a uniform refinement of every
// block at the given level. Collective.
func (f *Forest) CreateTrees(level int32) error {
	if level < 0 || level > f.opts.MaxLevel {
		return fmt.Errorf("%w: level %d with maximum %d", ErrInvalidLevel,
			level, f.opts.MaxLevel)
	}
	start, end := f.blockRange()
	h := int32(1) << (cell.MaxLevel - level)
	n := int32(1) << level

	var cells []cell.Cell
	nz := int32(1)
	if f.dim() == cell.D3 {
		nz = n
	}
	for b := start; b < end; b++ {
		for k := int32(0); k < nz; k++ {
			for j := int32(0); j < n; j++ {
				for i := int32(0); i < n; i++ {
					cells = append(cells, cell.Cell{
						Block: int32(b), X: i * h, Y: j * h, Z: k * h, Level: level,
					})
				}
			}
		}
	}
	f.cells = cell.NewArray(cells)
	f.updateOwners()
	f.invalidateNodes()
	f.state = StateSeeded
	return nil
}

// CreateRandomTrees seeds each locally owned block with nrand cells at
// random positions and levels in [minLevel, maxLevel]. Every block
// receives seeds, so Balance can complete the set into a tiling of the
// whole domain. Collective.
func (f *Forest) CreateRandomTrees(rng *rand.Rand, nrand int, minLevel, maxLevel int32) error {
	if minLevel < 0 || maxLevel > f.opts.MaxLevel || minLevel > maxLevel {
		return fmt.Errorf("%w: random levels [%d, %d]", ErrInvalidLevel,
			minLevel, maxLevel)
	}
	start, end := f.blockRange()
	var cells []cell.Cell
	for b := start; b < end; b++ {
		for i := 0; i < nrand; i++ {
			level := minLevel + rng.Int31n(maxLevel-minLevel+1)
			h := int32(1) << (cell.MaxLevel - level)
			n := int32(1) << level
			q := cell.Cell{
				Block: int32(b),
				X:     rng.Int31n(n) * h,
				Y:     rng.Int31n(n) * h,
				Level: level,
			}
			if f.dim() == cell.D3 {
				q.Z = rng.Int31n(n) * h
			}
			cells = append(cells, q)
		}
	}
	f.cells = cell.NewArray(cells)
	f.updateOwners()
	f.invalidateNodes()
	f.state = StateSeeded
	return nil
}

// Refine adapts the forest: deltas[i] moves local leaf i by that many
// levels, negative to coarsen, clipped to the configured bounds. A nil
// deltas slice refines everything one level. Refined leaves are
// replaced by sibling-0 seeds of each new family; Balance expands the
// seeds into the complete mesh. Collective.
func (f *Forest) Refine(deltas []int) error {
	if f.state < StateSeeded {
		return fmt.Errorf("%w: refine in state %s", ErrLifecycle, f.state)
	}
	if deltas != nil && len(deltas) != f.cells.Len() {
		return fmt.Errorf("forest: %d refinement deltas for %d cells",
			len(deltas), f.cells.Len())
	}

	hash := cell.NewHash()
	ext := cell.NewHash()
	add := func(q cell.Cell) {
		if f.cellOwner(q) == f.comm.Rank() {
			hash.Add(q)
		} else {
			ext.Add(q)
		}
	}

	for i := 0; i < f.cells.Len(); i++ {
		q := f.cells.At(i)
		delta := 1
		if deltas != nil {
			delta = deltas[i]
		}
		switch {
		case delta == 0:
			hash.Add(q)

		case delta < 0:
			if q.Level <= f.opts.MinLevel {
				hash.Add(q)
				break
			}
			level := q.Level + int32(delta)
			if level < f.opts.MinLevel {
				level = f.opts.MinLevel
			}
			h := int32(1) << (cell.MaxLevel - level)
			c := cell.Cell{
				Block: q.Block,
				X:     q.X &^ (h - 1),
				Y:     q.Y &^ (h - 1),
				Z:     q.Z &^ (h - 1),
				Level: level,
			}
			add(c)

		default:
			if q.Level >= f.opts.MaxLevel {
				hash.Add(q)
				break
			}
			level := q.Level + int32(delta)
			if level > f.opts.MaxLevel {
				level = f.opts.MaxLevel
			}
			// Seed one sibling-0 cell per new family covering q.
			ref := int32(1) << (level - q.Level - 1)
			h := int32(1) << (cell.MaxLevel - level)
			nz := int32(1)
			if f.dim() == cell.D3 {
				nz = ref
			}
			for kk := int32(0); kk < nz; kk++ {
				for jj := int32(0); jj < ref; jj++ {
					for ii := int32(0); ii < ref; ii++ {
						add(cell.Cell{
							Block: q.Block,
							X:     q.X + 2*ii*h,
							Y:     q.Y + 2*jj*h,
							Z:     q.Z + 2*kk*h,
							Level: level,
						})
					}
				}
			}
		}
	}

	// Route cells that moved out of the local ownership interval, then
	// merge whatever arrives.
	extArr := ext.ToArray()
	recv, _, _, err := f.distribute(extArr.Cells())
	if err != nil {
		return err
	}
	for _, q := range recv {
		hash.Add(q)
	}

	f.cells = hash.ToArray()
	f.updateOwners()
	f.invalidateNodes()
	f.state = StateSeeded
	return nil
}

// Coarsen returns a new forest one level coarser, sharing connectivity
// and transport. Sibling-0 leaves lift to their parents and their
// siblings drop out, so complete families shrink four (or eight) to
// one. The result is seeded but not necessarily balanced. Collective.
func (f *Forest) Coarsen() (*Forest, error) {
	if f.state < StateSeeded {
		return nil, fmt.Errorf("%w: coarsen in state %s", ErrLifecycle, f.state)
	}
	var cells []cell.Cell
	for i := 0; i < f.cells.Len(); i++ {
		q := f.cells.At(i)
		if q.Level > 0 {
			if q.ChildID(f.dim()) == 0 {
				cells = append(cells, q.Parent())
			}
		} else {
			cells = append(cells, q)
		}
	}
	coarse := &Forest{
		comm:  f.comm,
		conn:  f.conn,
		opts:  f.opts,
		state: StateSeeded,
		cells: cell.NewArray(cells),
	}
	coarse.updateOwners()
	return coarse, nil
}

// Repartition redistributes the leaves so every rank holds an equal
// share, preserving the global sorted order. Node data is invalidated;
// 2:1 balance is unaffected. Collective.
func (f *Forest) Repartition() error {
	if f.state < StateSeeded {
		return fmt.Errorf("%w: repartition in state %s", ErrLifecycle, f.state)
	}
	size := f.comm.Size()
	rank := f.comm.Rank()
	counts := f.comm.AllGatherInt(f.cells.Len())

	oldPtr := make([]int, size+1)
	for r, n := range counts {
		oldPtr[r+1] = oldPtr[r] + n
	}
	total := oldPtr[size]
	per := total / size
	rem := total % size
	newPtr := make([]int, size+1)
	for r := 0; r < size; r++ {
		newPtr[r+1] = newPtr[r] + per
		if r < rem {
			newPtr[r+1]++
		}
	}

	// Overlap of the local old interval with every new interval gives
	// the send layout; the reverse overlap gives the receive layout.
	sendPtr := make([]int, size+1)
	recvPtr := make([]int, size+1)
	for r := 0; r < size; r++ {
		sendPtr[r+1] = clamp(newPtr[r+1], oldPtr[rank], oldPtr[rank+1]) - oldPtr[rank]
		recvPtr[r+1] = clamp(oldPtr[r+1], newPtr[rank], newPtr[rank+1]) - newPtr[rank]
	}

	recv, err := f.comm.ExchangeCells(f.cells.Cells(), sendPtr, recvPtr)
	if err != nil {
		return err
	}
	f.cells = cell.NewArray(recv)
	f.updateOwners()
	f.invalidateNodes()
	if f.state == StateNoded {
		f.state = StateBalanced
	}
	return nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
