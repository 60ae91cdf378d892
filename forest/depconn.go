package forest

import (
	"sort"

	"github.com/notargets/forestmesh/cell"
)

// interpWeights1D returns the Lagrange weights of the coarse lattice
// nodes of an edge of length h evaluated at parameter u.
func interpWeights1D(order int, u, h int32) []float64 {
	ud := float64(u) / float64(h)
	if order == 2 {
		return []float64{1.0 - ud, ud}
	}
	return []float64{
		2.0 * (0.5 - ud) * (1.0 - ud),
		4.0 * ud * (1.0 - ud),
		2.0 * ud * (ud - 0.5),
	}
}

// depRow is one constraint under assembly: the master node positions
// and weights expressing a hanging node as a combination of the coarse
// side's lattice.
type depRow struct {
	masters []cell.Cell
	wts     []float64
}

// createDepNodeConn assembles the hanging node constraints into CSR
// form. Master numbers owned by other ranks are resolved with one
// lookup round trip; masters that are themselves hanging are expanded
// through their own constraint rows.
func (f *Forest) createDepNodeConn() error {
	rows := make([]depRow, f.numDep)
	hs := func(d cell.Cell) int32 { return d.Size() / int32(f.order-1) }

	depIndex := func(n cell.Cell) int {
		idx := f.nodes.Find(n)
		if idx < 0 || f.nodeNums[idx] >= 0 {
			return -1
		}
		return int(-f.nodeNums[idx]) - 1
	}

	for _, de := range f.depEdges {
		f.depEdgeNodes(de.cell, de.index, func(n cell.Cell, u int32) {
			di := depIndex(n)
			if di < 0 || rows[di].masters != nil {
				return
			}
			wts := interpWeights1D(f.order, u, de.cell.Size())
			masters := make([]cell.Cell, f.order)
			for m := 0; m < f.order; m++ {
				masters[m] = f.edgeNodeAt(de.cell, de.index, int32(m)*hs(de.cell))
			}
			rows[di] = depRow{masters: masters, wts: wts}
		})
	}
	for _, df := range f.depFaces {
		f.depFaceNodes(df.cell, df.index, func(n cell.Cell, s, t int32) {
			di := depIndex(n)
			if di < 0 || rows[di].masters != nil {
				return
			}
			wu := interpWeights1D(f.order, s, df.cell.Size())
			wv := interpWeights1D(f.order, t, df.cell.Size())
			masters := make([]cell.Cell, 0, f.order*f.order)
			wts := make([]float64, 0, f.order*f.order)
			for j := 0; j < f.order; j++ {
				for i := 0; i < f.order; i++ {
					masters = append(masters,
						f.faceNodeAt(df.cell, df.index, int32(i)*hs(df.cell), int32(j)*hs(df.cell)))
					wts = append(wts, wu[i]*wv[j])
				}
			}
			rows[di] = depRow{masters: masters, wts: wts}
		})
	}

	// Resolve master positions to node numbers. Positions absent from
	// the local node set live on other ranks.
	ext := cell.NewHash()
	for _, r := range rows {
		for _, m := range r.masters {
			if f.nodes.Find(m) < 0 {
				ext.Add(m)
			}
		}
	}
	remote, err := f.lookupRemoteNums(ext)
	if err != nil {
		return err
	}
	numOf := func(m cell.Cell) (int32, bool) {
		if idx := f.nodes.Find(m); idx >= 0 {
			return f.nodeNums[idx], true
		}
		num, ok := remote[m]
		return num, ok
	}

	// Expand chained constraints: a master that is itself hanging is
	// replaced by its own masters with multiplied weights. Balance
	// bounds the chain depth, so iterate to a fixed point.
	resolved := make([][]int32, f.numDep)
	weights := make([][]float64, f.numDep)
	for di, r := range rows {
		cols := make([]int32, 0, len(r.masters))
		wts := make([]float64, 0, len(r.masters))
		for mi, m := range r.masters {
			num, ok := numOf(m)
			if !ok {
				log.WithField("node", m).Warn("hanging node master not resolvable")
				continue
			}
			cols = append(cols, num)
			wts = append(wts, r.wts[mi])
		}
		resolved[di] = cols
		weights[di] = wts
	}
	for di := range resolved {
		resolved[di], weights[di] = f.flattenRow(resolved[di], weights[di], rows, numOf, 0)
	}

	// Pack into CSR, merging duplicate columns.
	f.depPtr = make([]int32, f.numDep+1)
	f.depCon = f.depCon[:0]
	f.depWts = f.depWts[:0]
	for di := range resolved {
		cols, wts := mergeColumns(resolved[di], weights[di])
		f.depCon = append(f.depCon, cols...)
		f.depWts = append(f.depWts, wts...)
		f.depPtr[di+1] = int32(len(f.depCon))
	}
	return nil
}

// flattenRow substitutes hanging masters by their own constraint rows.
func (f *Forest) flattenRow(cols []int32, wts []float64, rows []depRow,
	numOf func(cell.Cell) (int32, bool), depth int) ([]int32, []float64) {
	if depth > cell.MaxLevel {
		log.Warn("hanging node constraint chain did not terminate")
		return cols, wts
	}
	chained := false
	for _, c := range cols {
		if c < 0 {
			chained = true
			break
		}
	}
	if !chained {
		return cols, wts
	}
	outc := make([]int32, 0, len(cols))
	outw := make([]float64, 0, len(wts))
	for i, c := range cols {
		if c >= 0 {
			outc = append(outc, c)
			outw = append(outw, wts[i])
			continue
		}
		di := int(-c) - 1
		if di >= len(rows) || rows[di].masters == nil {
			// A remote rank's hanging master: its constraint row is not
			// local, so the reference cannot be expanded here.
			log.WithField("dep", di).Warn("hanging master constrained on another rank")
			continue
		}
		r := rows[di]
		for mi, m := range r.masters {
			num, ok := numOf(m)
			if !ok {
				continue
			}
			outc = append(outc, num)
			outw = append(outw, wts[i]*r.wts[mi])
		}
	}
	return f.flattenRow(outc, outw, rows, numOf, depth+1)
}

// lookupRemoteNums sends node positions to their owning ranks and
// returns the global numbers reported back.
func (f *Forest) lookupRemoteNums(ext *cell.Hash) (map[cell.Cell]int32, error) {
	sorted := ext.ToNodeArray()
	query, sendPtr, recvPtr, err := f.distribute(sorted.Cells())
	if err != nil {
		return nil, err
	}
	reply := make([]int32, len(query))
	for i, n := range query {
		if idx := f.nodes.Find(n); idx >= 0 {
			reply[i] = f.nodeNums[idx]
		} else {
			log.WithField("node", n).Warn("remote master lookup missed on owner")
			reply[i] = 0
		}
	}
	nums, err := f.comm.ExchangeInts(reply, recvPtr, sendPtr)
	if err != nil {
		return nil, err
	}
	out := make(map[cell.Cell]int32, sorted.Len())
	for i := 0; i < sorted.Len(); i++ {
		// A negative reply encodes a dependent index local to the owner
		// rank; it cannot be referenced from here.
		if nums[i] < 0 {
			log.WithField("node", sorted.At(i)).Warn(
				"remote master is itself a hanging node; constraint left partial")
			continue
		}
		out[sorted.At(i)] = nums[i]
	}
	return out, nil
}

// mergeColumns sorts a constraint row by column and accumulates
// duplicate entries.
func mergeColumns(cols []int32, wts []float64) ([]int32, []float64) {
	idx := make([]int, len(cols))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return cols[idx[a]] < cols[idx[b]] })
	outc := make([]int32, 0, len(cols))
	outw := make([]float64, 0, len(wts))
	for _, i := range idx {
		if n := len(outc); n > 0 && outc[n-1] == cols[i] {
			outw[n-1] += wts[i]
		} else {
			outc = append(outc, cols[i])
			outw = append(outw, wts[i])
		}
	}
	return outc, outw
}

// DepNodeConn returns the hanging node constraints in CSR form: the
// d-th local dependent node is the weighted combination of the
// independent nodes conn[ptr[d]:ptr[d+1]] with the parallel weights.
func (f *Forest) DepNodeConn() (ptr, conn []int32, weights []float64) {
	return f.depPtr, f.depCon, f.depWts
}
