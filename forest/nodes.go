package forest

import (
	"fmt"
	"math"

	"github.com/notargets/forestmesh/cell"
	"github.com/notargets/forestmesh/geom"
)

// knotVector returns the 1D interpolation knots in [0, 1].
func knotVector(order int, itype InterpolationType) []float64 {
	k := make([]float64, order)
	k[order-1] = 1.0
	for i := 1; i < order-1; i++ {
		if itype == GaussLobattoPoints {
			k[i] = 0.5 * (1.0 - math.Cos(math.Pi*float64(i)/float64(order-1)))
		} else {
			k[i] = float64(i) / float64(order-1)
		}
	}
	return k
}

// nodeCoord maps a lattice coordinate to the parametric range [0, 1].
// The last representable coordinate stands in for the block extent,
// which itself is not representable.
func nodeCoord(x int32) float64 {
	if x == 0 {
		return 0.0
	}
	if x == cell.MaxCoord-1 {
		return 1.0
	}
	return float64(x) / float64(cell.MaxCoord)
}

// faceEdgeIndices returns the local indices of the four edges bounding
// a local 3D face.
func faceEdgeIndices(fi int) [4]int {
	s := fi % 2
	switch fi / 2 {
	case 0:
		return [4]int{4 + s, 6 + s, 8 + s, 10 + s}
	case 1:
		return [4]int{s, 2 + s, 8 + 2*s, 9 + 2*s}
	default:
		return [4]int{2 * s, 2*s + 1, 4 + 2*s, 5 + 2*s}
	}
}

// latticeNodes calls fn with the canonical node record of every lattice
// point of the leaf q, in lexicographic (i fastest) order. Node records
// carry no level: identity is position alone.
func (f *Forest) latticeNodes(q cell.Cell, fn func(cell.Cell)) {
	hs := q.Size() / int32(f.order-1)
	no := f.order
	nk := 1
	if f.dim() == cell.D3 {
		nk = no
	}
	for k := 0; k < nk; k++ {
		for j := 0; j < no; j++ {
			for i := 0; i < no; i++ {
				n := cell.Cell{
					Block: q.Block,
					X:     q.X + int32(i)*hs,
					Y:     q.Y + int32(j)*hs,
					Z:     q.Z + int32(k)*hs,
				}
				f.transformNode(&n)
				fn(n)
			}
		}
	}
}

// edgeNodeAt returns the canonical node record at parameter u along
// the given edge of element d.
func (f *Forest) edgeNodeAt(d cell.Cell, eindex int, u int32) cell.Cell {
	h := d.Size()
	n := cell.Cell{Block: d.Block, X: d.X, Y: d.Y, Z: d.Z}
	if f.dim() == cell.D2 {
		if eindex < 2 {
			n.X += h * int32(eindex%2)
			n.Y += u
		} else {
			n.X += u
			n.Y += h * int32(eindex%2)
		}
	} else {
		j := eindex % 4
		switch eindex / 4 {
		case 0:
			n.X += u
			n.Y += h * int32(j&1)
			n.Z += h * int32((j>>1)&1)
		case 1:
			n.Y += u
			n.X += h * int32(j&1)
			n.Z += h * int32((j>>1)&1)
		default:
			n.Z += u
			n.X += h * int32(j&1)
			n.Y += h * int32((j>>1)&1)
		}
	}
	f.transformNode(&n)
	return n
}

// faceNodeAt returns the canonical node record at parameters (s, t) on
// the given face of 3D element d.
func (f *Forest) faceNodeAt(d cell.Cell, fi int, s, t int32) cell.Cell {
	h := d.Size()
	n := cell.Cell{Block: d.Block, X: d.X, Y: d.Y, Z: d.Z}
	switch fi / 2 {
	case 0:
		n.X += h * int32(fi%2)
		n.Y += s
		n.Z += t
	case 1:
		n.Y += h * int32(fi%2)
		n.X += s
		n.Z += t
	default:
		n.Z += h * int32(fi%2)
		n.X += s
		n.Y += t
	}
	f.transformNode(&n)
	return n
}

// depEdgeNodes calls fn with the hanging node positions on the given
// edge of the coarse element d and their edge parameter: the fine
// half-edge lattice points that do not coincide with the coarse
// lattice.
func (f *Forest) depEdgeNodes(d cell.Cell, eindex int, fn func(cell.Cell, int32)) {
	m := int32(f.order - 1)
	hf := d.Size() / (2 * m)
	for i := int32(1); i < 2*m; i += 2 {
		u := i * hf
		fn(f.edgeNodeAt(d, eindex, u), u)
	}
}

// depFaceNodes calls fn with the hanging node positions interior to the
// given face of the coarse 3D element d and their face parameters. The
// face's boundary edges are covered by depEdgeNodes.
func (f *Forest) depFaceNodes(d cell.Cell, fi int, fn func(cell.Cell, int32, int32)) {
	m := int32(f.order - 1)
	hf := d.Size() / (2 * m)
	for j := int32(1); j < 2*m; j++ {
		for i := int32(1); i < 2*m; i++ {
			if i%2 == 0 && j%2 == 0 {
				continue
			}
			fn(f.faceNodeAt(d, fi, i*hf, j*hf), i*hf, j*hf)
		}
	}
}

// CreateNodes derives a globally consistent node numbering from the
// balanced leaves. Each leaf carries an order^d lattice of nodes;
// coincident lattice points across leaves and blocks are a single
// node. Independent nodes receive contiguous global numbers per owning
// rank; hanging nodes receive local numbers -(d+1) and constraint rows
// built by DepNodeConn. A non-nil evaluator fills the physical node
// positions. Collective.
func (f *Forest) CreateNodes(order int, itype InterpolationType, eval geom.Evaluator) error {
	if f.state < StateBalanced {
		return fmt.Errorf("%w: create nodes in state %s", ErrLifecycle, f.state)
	}
	if order < 2 || order > 3 {
		return fmt.Errorf("%w: order %d", ErrUnsupportedOrder, order)
	}
	// The hanging node lattice subdivides cells in steps of
	// h/(2(order-1)), which must stay on the integer lattice at the
	// finest permitted level.
	if cell.MaxLevel-f.opts.MaxLevel < int32(order-1) {
		return fmt.Errorf("%w: order %d needs a refinement ceiling of at most %d",
			ErrUnsupportedOrder, order, cell.MaxLevel-int32(order-1))
	}
	f.order = order
	f.itype = itype
	f.knots = knotVector(order, itype)
	rank := f.comm.Rank()

	if err := f.computeAdjacent(); err != nil {
		return err
	}
	f.computeDepEdges()

	// Collect the canonical node records of every local leaf.
	set := make(map[cell.Cell]struct{})
	for i := 0; i < f.cells.Len(); i++ {
		f.latticeNodes(f.cells.At(i), func(n cell.Cell) {
			set[n] = struct{}{}
		})
	}
	all := make([]cell.Cell, 0, len(set))
	for n := range set {
		all = append(all, n)
	}
	f.nodes = cell.NewNodeArray(all)

	// Mark the hanging nodes. Dependent interfaces recorded from ghost
	// leaves may extend past the local node set; positions not present
	// locally belong to another rank's fine side.
	dep := make([]bool, f.nodes.Len())
	mark := func(n cell.Cell) {
		if idx := f.nodes.Find(n); idx >= 0 {
			dep[idx] = true
		}
	}
	for _, de := range f.depEdges {
		f.depEdgeNodes(de.cell, de.index, func(n cell.Cell, _ int32) { mark(n) })
	}
	for _, df := range f.depFaces {
		f.depFaceNodes(df.cell, df.index, func(n cell.Cell, _, _ int32) { mark(n) })
	}

	// Number the locally owned independent nodes and the local
	// dependent nodes.
	f.nodeNums = make([]int32, f.nodes.Len())
	nowned := 0
	f.numDep = 0
	var remote []cell.Cell
	for i := 0; i < f.nodes.Len(); i++ {
		switch {
		case dep[i]:
			f.numDep++
			f.nodeNums[i] = int32(-f.numDep)
		case f.cellOwner(f.nodes.At(i)) == rank:
			f.nodeNums[i] = int32(nowned)
			nowned++
		default:
			remote = append(remote, f.nodes.At(i))
		}
	}

	// Shift into the global range.
	counts := f.comm.AllGatherInt(nowned)
	f.nodeRange = make([]int, f.comm.Size()+1)
	for r, n := range counts {
		f.nodeRange[r+1] = f.nodeRange[r] + n
	}
	base := int32(f.nodeRange[rank])
	for i := range f.nodeNums {
		if f.nodeNums[i] >= 0 && !dep[i] {
			f.nodeNums[i] += base
		}
	}

	if err := f.resolveRemoteNodes(remote); err != nil {
		return err
	}

	// Element connectivity in lexicographic node order.
	nper := f.order * f.order
	if f.dim() == cell.D3 {
		nper *= f.order
	}
	f.elemConn = make([]int32, 0, nper*f.cells.Len())
	for i := 0; i < f.cells.Len(); i++ {
		f.latticeNodes(f.cells.At(i), func(n cell.Cell) {
			f.elemConn = append(f.elemConn, f.nodeNums[f.nodes.Find(n)])
		})
	}

	if eval != nil {
		if err := f.evalPoints(eval); err != nil {
			return err
		}
	}
	if err := f.createDepNodeConn(); err != nil {
		return err
	}
	f.state = StateNoded
	return nil
}

// resolveRemoteNodes fills in the global numbers of independent nodes
// owned by other ranks: each position is sent to its owner, looked up
// there, and the number returned on the reverse of the same layout.
func (f *Forest) resolveRemoteNodes(remote []cell.Cell) error {
	sorted := cell.NewNodeArray(remote)
	query, sendPtr, recvPtr, err := f.distribute(sorted.Cells())
	if err != nil {
		return err
	}
	reply := make([]int32, len(query))
	for i, n := range query {
		idx := f.nodes.Find(n)
		if idx < 0 {
			return fmt.Errorf("forest: node query %v not present on owner rank %d",
				n, f.comm.Rank())
		}
		reply[i] = f.nodeNums[idx]
	}
	nums, err := f.comm.ExchangeInts(reply, recvPtr, sendPtr)
	if err != nil {
		return err
	}
	for i := 0; i < sorted.Len(); i++ {
		idx := f.nodes.Find(sorted.At(i))
		if nums[i] < 0 {
			log.WithFields(map[string]interface{}{
				"node": sorted.At(i),
				"rank": f.comm.Rank(),
			}).Warn("owner reports dependent node for locally independent position")
		}
		f.nodeNums[idx] = nums[i]
	}
	return nil
}

// evalPoints computes the physical node positions through the geometry
// evaluator. Every leaf evaluates its own lattice; shared nodes are
// written more than once with coincident results on a conforming
// geometry.
func (f *Forest) evalPoints(eval geom.Evaluator) error {
	f.points = make([]geom.Point, f.nodes.Len())
	no := f.order
	nk := 1
	if f.dim() == cell.D3 {
		nk = no
	}
	for i := 0; i < f.cells.Len(); i++ {
		q := f.cells.At(i)
		hs := q.Size() / int32(no-1)
		d := float64(q.Size()) / float64(cell.MaxCoord)
		u0 := nodeCoord(q.X)
		v0 := nodeCoord(q.Y)
		w0 := nodeCoord(q.Z)

		for k := 0; k < nk; k++ {
			for j := 0; j < no; j++ {
				for ii := 0; ii < no; ii++ {
					n := cell.Cell{
						Block: q.Block,
						X:     q.X + int32(ii)*hs,
						Y:     q.Y + int32(j)*hs,
						Z:     q.Z + int32(k)*hs,
					}
					f.transformNode(&n)
					f.points[f.nodes.Find(n)] = eval.EvalPoint(int(q.Block),
						u0+d*f.knots[ii], v0+d*f.knots[j], w0+d*f.knots[k])
				}
			}
		}
	}
	return nil
}
