package forest

import (
	"math"
	"sort"

	"github.com/notargets/forestmesh/cell"
)

// cellOwner returns the rank owning the partition interval that
// contains q in encoding order.
func (f *Forest) cellOwner(q cell.Cell) int {
	// The owner is the last rank whose first cell does not exceed q.
	return sort.Search(f.comm.Size()-1, func(r int) bool {
		return f.owners[r+1].CompareEncoding(q) > 0
	})
}

// updateOwners gathers the first leaf of every rank. Empty ranks take
// the next rank's first cell, collapsing their interval to nothing; a
// trailing empty rank closes at a block id beyond every real block.
func (f *Forest) updateOwners() {
	first := cell.Cell{Level: -1}
	if f.cells != nil && f.cells.Len() > 0 {
		first = f.cells.At(0)
	}
	owners := f.comm.AllGatherCells(first)
	for r := len(owners) - 1; r >= 1; r-- {
		if owners[r].Level < 0 {
			if r == len(owners)-1 {
				owners[r] = cell.Cell{Block: math.MaxInt32}
			} else {
				owners[r] = owners[r+1]
			}
		}
	}
	owners[0] = cell.Cell{}
	f.owners = owners
}

// matchIntervals splits a list sorted by encoding into per-rank
// segments along the ownership intervals, returning offsets of length
// size+1.
func (f *Forest) matchIntervals(list []cell.Cell) []int {
	size := f.comm.Size()
	ptr := make([]int, size+1)
	index := 0
	for rank := 0; rank < size-1; rank++ {
		for index < len(list) && f.owners[rank+1].CompareEncoding(list[index]) > 0 {
			index++
		}
		ptr[rank+1] = index
	}
	ptr[size] = len(list)
	return ptr
}

// distribute routes cells to the ranks owning their positions. The
// input must be sorted by encoding; the local segment is passed through
// in place. The returned offsets allow a reply along the reverse paths.
func (f *Forest) distribute(list []cell.Cell) (recv []cell.Cell, sendPtr, recvPtr []int, err error) {
	sendPtr = f.matchIntervals(list)
	size := f.comm.Size()
	counts := make([]int, size)
	for r := 0; r < size; r++ {
		counts[r] = sendPtr[r+1] - sendPtr[r]
	}
	recvCounts, err := f.comm.AllToAllCounts(counts)
	if err != nil {
		return nil, nil, nil, err
	}
	recvPtr = make([]int, size+1)
	for r, n := range recvCounts {
		recvPtr[r+1] = recvPtr[r] + n
	}
	recv, err = f.comm.ExchangeCells(list, sendPtr, recvPtr)
	if err != nil {
		return nil, nil, nil, err
	}
	return recv, sendPtr, recvPtr, nil
}

// distributeToRanks routes cells to explicit destination ranks instead
// of position owners. Pairs are sorted by destination first; cells for
// this rank are passed through.
func (f *Forest) distributeToRanks(list []cell.Cell, dests []int) ([]cell.Cell, error) {
	type pair struct {
		c cell.Cell
		r int
	}
	pairs := make([]pair, len(list))
	for i := range list {
		pairs[i] = pair{c: list[i], r: dests[i]}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].r != pairs[j].r {
			return pairs[i].r < pairs[j].r
		}
		return pairs[i].c.Compare(pairs[j].c) < 0
	})

	size := f.comm.Size()
	send := make([]cell.Cell, len(pairs))
	counts := make([]int, size)
	for i, p := range pairs {
		send[i] = p.c
		counts[p.r]++
	}
	sendPtr := make([]int, size+1)
	for r := 0; r < size; r++ {
		sendPtr[r+1] = sendPtr[r] + counts[r]
	}
	recvCounts, err := f.comm.AllToAllCounts(counts)
	if err != nil {
		return nil, err
	}
	recvPtr := make([]int, size+1)
	for r, n := range recvCounts {
		recvPtr[r+1] = recvPtr[r] + n
	}
	return f.comm.ExchangeCells(send, sendPtr, recvPtr)
}
