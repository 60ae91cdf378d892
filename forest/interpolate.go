package forest

import (
	"fmt"
	"sort"

	"github.com/notargets/forestmesh/cell"
)

// Interpolator accepts the rows of a coarse-to-fine interpolation
// operator, one row per fine node, with columns in global coarse node
// numbers.
type Interpolator interface {
	AddRow(row int, cols []int32, wts []float64) error
}

// Owner returns the rank whose leaf interval contains q.
func (f *Forest) Owner(q cell.Cell) int { return f.cellOwner(q) }

// FindEnclosing returns the local leaf whose closed extent contains
// the node position n. Containment is inclusive on both ends so that
// positions on shared faces resolve to a unique local leaf.
func (f *Forest) FindEnclosing(n cell.Cell) (cell.Cell, bool) {
	idx := sort.Search(f.cells.Len(), func(i int) bool {
		return f.cells.At(i).CompareEncoding(n) > 0
	})
	for i := idx - 1; i >= 0 && i >= idx-2; i-- {
		q := f.cells.At(i)
		if f.containsClosed(q, n) {
			return q, true
		}
	}
	return cell.Cell{}, false
}

func (f *Forest) containsClosed(q, n cell.Cell) bool {
	if q.Block != n.Block {
		return false
	}
	h := q.Size()
	if n.X < q.X || n.X > q.X+h || n.Y < q.Y || n.Y > q.Y+h {
		return false
	}
	if f.dim() == cell.D3 && (n.Z < q.Z || n.Z > q.Z+h) {
		return false
	}
	return true
}

// CreateInterpolation builds the operator mapping a field on the
// coarse forest onto this (finer) forest's independent nodes. Each
// rank contributes the rows of the fine nodes whose enclosing coarse
// element it owns; columns reference independent coarse nodes only,
// with hanging coarse nodes expanded through their constraint rows.
// Both forests must have nodes; they share the transport and
// connectivity but may be partitioned differently. Collective.
func (f *Forest) CreateInterpolation(coarse *Forest, interp Interpolator) error {
	if coarse == nil || f.state < StateNoded || coarse.state < StateNoded {
		return fmt.Errorf("%w: interpolation requires noded fine and coarse forests",
			ErrLifecycle)
	}
	rank := f.comm.Rank()
	hmax := cell.MaxCoord

	// The locally owned independent fine nodes, in position order.
	var pos []cell.Cell
	var num []int32
	lo, hi := int32(f.nodeRange[rank]), int32(f.nodeRange[rank+1])
	for i := 0; i < f.nodes.Len(); i++ {
		if t := f.nodeNums[i]; t >= lo && t < hi {
			pos = append(pos, f.nodes.At(i))
			num = append(num, t)
		}
	}

	// Route each fine node to the rank owning its enclosing coarse
	// element, carrying the global fine number alongside.
	recvPos, sendPtr, recvPtr, err := coarse.distribute(pos)
	if err != nil {
		return err
	}
	recvNum, err := coarse.comm.ExchangeInts(num, sendPtr, recvPtr)
	if err != nil {
		return err
	}

	cdepPtr, cdepCon, cdepWts := coarse.DepNodeConn()
	nw := []float64{1.0}

	for i, n := range recvPos {
		q, ok := coarse.FindEnclosing(n)
		if !ok {
			return fmt.Errorf("%w: fine node %v on rank %d", ErrNoEnclosing,
				n, f.comm.Rank())
		}
		h := q.Size()
		hc := h / int32(coarse.order-1)

		// Positions truncated onto the last lattice coordinate stand
		// for the block extent.
		adj := func(x int32) int32 {
			if x == hmax-1 {
				return hmax
			}
			return x
		}
		Nu := interpWeights1D(coarse.order, adj(n.X)-q.X, h)
		Nv := interpWeights1D(coarse.order, adj(n.Y)-q.Y, h)
		Nw := nw
		if coarse.dim() == cell.D3 {
			Nw = interpWeights1D(coarse.order, adj(n.Z)-q.Z, h)
		}

		var cols []int32
		var wts []float64
		for kk := range Nw {
			for jj := range Nv {
				for ii := range Nu {
					weight := Nu[ii] * Nv[jj] * Nw[kk]
					if weight == 0 {
						continue
					}
					node := cell.Cell{
						Block: q.Block,
						X:     q.X + int32(ii)*hc,
						Y:     q.Y + int32(jj)*hc,
						Z:     q.Z + int32(kk)*hc,
					}
					coarse.transformNode(&node)
					idx := coarse.nodes.Find(node)
					if idx < 0 {
						return fmt.Errorf("forest: coarse node %v missing on rank %d",
							node, f.comm.Rank())
					}
					if t := coarse.nodeNums[idx]; t >= 0 {
						cols = append(cols, t)
						wts = append(wts, weight)
					} else {
						di := int(-t) - 1
						for jp := cdepPtr[di]; jp < cdepPtr[di+1]; jp++ {
							cols = append(cols, cdepCon[jp])
							wts = append(wts, weight*cdepWts[jp])
						}
					}
				}
			}
		}
		cols, wts = mergeColumns(cols, wts)
		if err := interp.AddRow(int(recvNum[i]), cols, wts); err != nil {
			return err
		}
	}
	return nil
}
