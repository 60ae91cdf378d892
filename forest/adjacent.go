package forest

import (
	"github.com/notargets/forestmesh/cell"
)

// faceChildIDs returns the child ids of the half-size cells touching
// the given face of their parent.
func faceChildIDs(d cell.Dim, face int) []int {
	axis := uint(face / 2)
	side := face % 2
	ids := make([]int, 0, d.NumChildren()/2)
	for id := 0; id < d.NumChildren(); id++ {
		if (id>>axis)&1 == side {
			ids = append(ids, id)
		}
	}
	return ids
}

// edgeChildIDs returns the two child ids touching the given 3D edge of
// their parent.
func edgeChildIDs(edge int) [2]int {
	j := edge % 4
	b0 := j & 1
	b1 := (j >> 1) & 1
	switch edge / 4 {
	case 0:
		return [2]int{b0<<1 | b1<<2, 1 | b0<<1 | b1<<2}
	case 1:
		return [2]int{b0 | b1<<2, b0 | 2 | b1<<2}
	default:
		return [2]int{b0 | b1<<1, b0 | b1<<1 | 4}
	}
}

// computeAdjacent builds the ghost layer. Every local leaf probes its
// surroundings at one level finer; any probe owned by another rank
// sends the leaf to that rank. The received cells form the adjacent
// array: the remote leaves bordering this rank's partition.
func (f *Forest) computeAdjacent() error {
	type ghostKey struct {
		c cell.Cell
		r int
	}
	seen := make(map[ghostKey]struct{})
	var list []cell.Cell
	var dests []int
	rank := f.comm.Rank()
	dim := f.dim()

	record := func(orig cell.Cell, owner int) {
		if owner == rank {
			return
		}
		k := ghostKey{orig, owner}
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		list = append(list, orig)
		dests = append(dests, owner)
	}
	probe := func(orig, q cell.Cell) {
		if q.InBounds(dim) {
			record(orig, f.cellOwner(q))
		} else {
			f.routeCell(q, q.Size(), func(img cell.Cell) {
				record(orig, f.cellOwner(img))
			})
		}
	}

	for i := 0; i < f.cells.Len(); i++ {
		leaf := f.cells.At(i)
		fine := leaf
		fine.Level++
		for face := 0; face < dim.NumFaces(); face++ {
			for _, id := range faceChildIDs(dim, face) {
				probe(leaf, fine.Sibling(dim, id).FaceNeighbor(face))
			}
		}
		if dim == cell.D3 {
			for edge := 0; edge < dim.NumEdges(); edge++ {
				for _, id := range edgeChildIDs(edge) {
					probe(leaf, fine.Sibling(dim, id).EdgeNeighbor(edge))
				}
			}
		}
		for corner := 0; corner < dim.NumCorners(); corner++ {
			probe(leaf, fine.Sibling(dim, corner).CornerNeighbor(dim, corner))
		}
	}

	recv, err := f.distributeToRanks(list, dests)
	if err != nil {
		return err
	}
	f.ghosts = cell.NewArray(recv)
	return nil
}

// containsRefined reports whether a probe cell one level finer than a
// leaf exists as an element, searching the local leaves and the
// adjacent array, following the probe across block boundaries when it
// leaves its block's domain.
func (f *Forest) containsRefined(p cell.Cell, adj *cell.Array) bool {
	search := func(q cell.Cell) bool {
		if f.cells.Contains(q) {
			return true
		}
		return adj != nil && adj.Contains(q)
	}
	if p.InBounds(f.dim()) {
		return search(p)
	}
	found := false
	f.routeCell(p, p.Size(), func(img cell.Cell) {
		if !found && search(img) {
			found = true
		}
	})
	return found
}

// computeDepEdges finds the hanging interfaces. An entity of a leaf is
// dependent when a finer element exists on its far side; the nodes on
// the coarse side of such an interface are constrained by the fine
// side. Both local leaves and ghost leaves are scanned so that
// interfaces straddling the partition boundary are seen from the
// coarse side regardless of which rank owns it.
func (f *Forest) computeDepEdges() {
	f.depEdges = nil
	f.depFaces = nil
	dim := f.dim()

	for iter := 0; iter < 2; iter++ {
		var arr, adj *cell.Array
		if iter == 0 {
			arr, adj = f.cells, f.ghosts
		} else {
			arr, adj = f.ghosts, nil
		}
		if arr == nil {
			continue
		}

		for i := 0; i < arr.Len(); i++ {
			q := arr.At(i)
			fine := q
			fine.Level++

			for face := 0; face < dim.NumFaces(); face++ {
				for _, id := range faceChildIDs(dim, face) {
					if f.containsRefined(fine.Sibling(dim, id).FaceNeighbor(face), adj) {
						if dim == cell.D3 {
							f.depFaces = append(f.depFaces, depEdge{q, face})
							// The fine children across the face also hang
							// over the face's four edges.
							for _, e := range faceEdgeIndices(face) {
								f.depEdges = append(f.depEdges, depEdge{q, e})
							}
						} else {
							f.depEdges = append(f.depEdges, depEdge{q, face})
						}
						break
					}
				}
			}
			if dim == cell.D3 {
				for edge := 0; edge < dim.NumEdges(); edge++ {
					for _, id := range edgeChildIDs(edge) {
						if f.containsRefined(fine.Sibling(dim, id).EdgeNeighbor(edge), adj) {
							f.depEdges = append(f.depEdges, depEdge{q, edge})
							break
						}
					}
				}
			}
		}
	}
}
