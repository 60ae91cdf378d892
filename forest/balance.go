package forest

import (
	"fmt"

	"github.com/notargets/forestmesh/cell"
)

// balancer carries the working state of one Balance call. The hash
// holds locally owned sibling-0 representatives, ext holds remotely
// owned ones, and out collects the ext cells discovered since the last
// exchange round.
type balancer struct {
	f     *Forest
	hash  *cell.Hash
	ext   *cell.Hash
	queue *cell.Queue
	out   []cell.Cell
}

func (b *balancer) insert(q cell.Cell) {
	if b.f.cellOwner(q) == b.f.comm.Rank() {
		if b.hash.Add(q) {
			b.queue.Push(q)
		}
	} else if b.ext.Add(q) {
		b.queue.Push(q)
		b.out = append(b.out, q)
	}
}

// add routes q to the insert path, transforming it into the adjacent
// blocks when it lies outside its own block's domain.
func (b *balancer) add(q cell.Cell) {
	if q.InBounds(b.f.dim()) {
		b.insert(q)
	} else {
		b.f.routeCell(q, 2*q.Size(), b.insert)
	}
}

// step adds the coarse neighbors required for q to be 2:1 balanced:
// the sibling-0 representative of every face-adjacent (and optionally
// edge- and corner-adjacent) family at the parent level.
func (b *balancer) step(q cell.Cell) {
	if q.Level <= 1 {
		return
	}
	dim := b.f.dim()
	p := q.Parent()
	for face := 0; face < dim.NumFaces(); face++ {
		b.add(p.FaceNeighbor(face).Sibling(dim, 0))
	}
	if dim == cell.D3 {
		for edge := 0; edge < dim.NumEdges(); edge++ {
			b.add(p.EdgeNeighbor(edge).Sibling(dim, 0))
		}
	}
	if b.f.opts.CornerBalance {
		for corner := 0; corner < dim.NumCorners(); corner++ {
			b.add(p.CornerNeighbor(dim, corner).Sibling(dim, 0))
		}
	}
}

// Balance enforces 2:1 level balance across the forest: adjacent
// leaves differ by at most one level across faces and, with the
// CornerBalance option, across corners. The mesh is completed to tile
// the domain, overlapping coarse cells are replaced by their finest
// refinement, and ownership intervals are recomputed. Collective.
func (f *Forest) Balance() error {
	if f.state < StateSeeded {
		return fmt.Errorf("%w: balance in state %s", ErrLifecycle, f.state)
	}
	dim := f.dim()
	rank := f.comm.Rank()
	b := &balancer{
		f:     f,
		hash:  cell.NewHash(),
		ext:   cell.NewHash(),
		queue: cell.NewQueue(),
	}

	// Seed the sibling-0 representative of every leaf and balance it.
	for i := 0; i < f.cells.Len(); i++ {
		q := f.cells.At(i).Sibling(dim, 0)
		if f.cellOwner(q) == rank {
			b.hash.Add(q)
		} else if b.ext.Add(q) {
			b.out = append(b.out, q)
		}
		b.step(q)
	}

	// Alternate local fixed-point propagation with global exchange of
	// the remotely owned cells discovered during the round, until no
	// rank discovers anything new.
	for {
		for {
			q, ok := b.queue.Pop()
			if !ok {
				break
			}
			b.step(q)
		}

		pending := 0
		for _, n := range f.comm.AllGatherInt(len(b.out)) {
			pending += n
		}
		if pending == 0 {
			break
		}
		list := cell.NewArray(b.out)
		b.out = nil
		recv, _, _, err := f.distribute(list.Cells())
		if err != nil {
			return err
		}
		for _, q := range recv {
			if b.hash.Add(q) {
				b.queue.Push(q)
			}
		}
	}

	// Expand each sibling-0 representative into its complete family,
	// routing siblings that belong to another rank.
	var remote []cell.Cell
	for _, q := range b.hash.Slice() {
		if q.Level == 0 {
			continue
		}
		for j := 0; j < dim.NumChildren(); j++ {
			s := q.Sibling(dim, j)
			if f.cellOwner(s) == rank {
				b.hash.Add(s)
			} else {
				remote = append(remote, s)
			}
		}
	}
	list := cell.NewArray(remote)
	recv, _, _, err := f.distribute(list.Cells())
	if err != nil {
		return err
	}
	for _, q := range recv {
		b.hash.Add(q)
	}

	// Linearize: a coarse cell overlapped by finer descendants is not
	// a leaf. Ancestors sort immediately before their descendants, so
	// a single stack scan removes them. An ancestor and its first
	// descendant share an encoding position and therefore a rank, so
	// the scan needs no further communication.
	sorted := b.hash.ToArray()
	leaves := make([]cell.Cell, 0, sorted.Len())
	for i := 0; i < sorted.Len(); i++ {
		q := sorted.At(i)
		for n := len(leaves); n > 0 && leaves[n-1].Contains(q); n-- {
			leaves = leaves[:n-1]
		}
		leaves = append(leaves, q)
	}

	f.cells = cell.NewArray(leaves)
	f.updateOwners()
	f.invalidateNodes()
	f.state = StateBalanced
	return nil
}
