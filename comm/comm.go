// Package comm provides the message transport between the ranks of a
// distributed forest. Ranks run as goroutines inside one process and
// exchange messages over per-pair FIFO channels, following an SPMD
// discipline: every rank calls the same sequence of collective
// operations, and each collective matches its sends and receives
// internally. The forest algorithms only consume this package's
// collectives, so the transport could be swapped for a wire protocol
// without touching them.
package comm

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/notargets/forestmesh/cell"
)

// ErrTransport reports a malformed exchange, such as mismatched count
// and offset arrays.
var ErrTransport = errors.New("transport error")

// pairDepth bounds the number of undelivered messages per ordered rank
// pair. Every collective includes a symmetric count exchange, so a rank
// can run at most a couple of collectives ahead of a peer; the bound is
// generous against that.
const pairDepth = 64

type message struct {
	cells  []cell.Cell
	ints   []int32
	floats []float64
}

// World owns the channels connecting a fixed set of ranks.
type World struct {
	size int
	ch   [][]chan message // ch[src][dst]
}

// NewWorld creates a transport for the given number of ranks.
func NewWorld(size int) (*World, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: world size %d", ErrTransport, size)
	}
	w := &World{size: size, ch: make([][]chan message, size)}
	for i := range w.ch {
		w.ch[i] = make([]chan message, size)
		for j := range w.ch[i] {
			if i != j {
				w.ch[i][j] = make(chan message, pairDepth)
			}
		}
	}
	return w, nil
}

// Size returns the number of ranks.
func (w *World) Size() int { return w.size }

// Comm returns the endpoint for one rank.
func (w *World) Comm(rank int) *Comm {
	if rank < 0 || rank >= w.size {
		panic(fmt.Sprintf("comm: rank %d out of world of size %d", rank, w.size))
	}
	return &Comm{w: w, rank: rank}
}

// Run executes fn concurrently on every rank and returns the first
// error any rank produced. It is the usual entry point for tests and
// drivers.
func (w *World) Run(fn func(c *Comm) error) error {
	errs := make([]error, w.size)
	var wg sync.WaitGroup
	for r := 0; r < w.size; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			if err := fn(w.Comm(r)); err != nil {
				logrus.WithFields(logrus.Fields{
					"rank": r,
				}).WithError(err).Error("rank failed")
				errs[r] = fmt.Errorf("rank %d: %w", r, err)
			}
		}(r)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Comm is one rank's endpoint into a World. A Comm must only be used
// from the goroutine driving that rank.
type Comm struct {
	w    *World
	rank int
}

// Rank returns this endpoint's rank.
func (c *Comm) Rank() int { return c.rank }

// Size returns the number of ranks in the world.
func (c *Comm) Size() int { return c.w.size }

// send posts a message to dst. Payload slices are copied so the caller
// may reuse its buffers as soon as the collective returns, even if the
// receiving rank has not drained the channel yet.
func (c *Comm) send(dst int, m message) {
	if m.cells != nil {
		m.cells = append([]cell.Cell(nil), m.cells...)
	}
	if m.ints != nil {
		m.ints = append([]int32(nil), m.ints...)
	}
	if m.floats != nil {
		m.floats = append([]float64(nil), m.floats...)
	}
	c.w.ch[c.rank][dst] <- m
}

func (c *Comm) recv(src int) message {
	return <-c.w.ch[src][c.rank]
}

// AllGatherCells collects one cell from every rank, indexed by rank.
func (c *Comm) AllGatherCells(local cell.Cell) []cell.Cell {
	out := make([]cell.Cell, c.Size())
	out[c.rank] = local
	if c.Size() == 1 {
		return out
	}
	for dst := 0; dst < c.Size(); dst++ {
		if dst != c.rank {
			c.send(dst, message{cells: []cell.Cell{local}})
		}
	}
	for src := 0; src < c.Size(); src++ {
		if src != c.rank {
			out[src] = c.recv(src).cells[0]
		}
	}
	return out
}

// AllGatherInt collects one integer from every rank, indexed by rank.
func (c *Comm) AllGatherInt(local int) []int {
	out := make([]int, c.Size())
	out[c.rank] = local
	if c.Size() == 1 {
		return out
	}
	for dst := 0; dst < c.Size(); dst++ {
		if dst != c.rank {
			c.send(dst, message{ints: []int32{int32(local)}})
		}
	}
	for src := 0; src < c.Size(); src++ {
		if src != c.rank {
			out[src] = int(c.recv(src).ints[0])
		}
	}
	return out
}

// AllToAllCounts sends counts[i] to rank i and returns the counts
// received from every rank. It is the handshake preceding every data
// exchange, and doubles as a rendezvous keeping ranks loosely in step.
func (c *Comm) AllToAllCounts(counts []int) ([]int, error) {
	if len(counts) != c.Size() {
		return nil, fmt.Errorf("%w: %d counts for %d ranks",
			ErrTransport, len(counts), c.Size())
	}
	out := make([]int, c.Size())
	out[c.rank] = counts[c.rank]
	for dst := 0; dst < c.Size(); dst++ {
		if dst != c.rank {
			c.send(dst, message{ints: []int32{int32(counts[dst])}})
		}
	}
	for src := 0; src < c.Size(); src++ {
		if src != c.rank {
			out[src] = int(c.recv(src).ints[0])
		}
	}
	return out, nil
}

// checkPtrs validates a pair of offset arrays delimiting per-rank
// segments, as produced by AllToAllCounts prefix sums.
func (c *Comm) checkPtrs(sendPtr, recvPtr []int, sendLen int) error {
	if len(sendPtr) != c.Size()+1 || len(recvPtr) != c.Size()+1 {
		return fmt.Errorf("%w: offset arrays must have %d entries",
			ErrTransport, c.Size()+1)
	}
	if sendPtr[c.Size()] != sendLen {
		return fmt.Errorf("%w: send offsets end at %d but payload has %d entries",
			ErrTransport, sendPtr[c.Size()], sendLen)
	}
	for i := 0; i < c.Size(); i++ {
		if sendPtr[i] > sendPtr[i+1] || recvPtr[i] > recvPtr[i+1] {
			return fmt.Errorf("%w: offsets decrease at rank %d", ErrTransport, i)
		}
	}
	return nil
}

// ExchangeCells performs a sparse all-to-all of cells. send[sendPtr[i]:
// sendPtr[i+1]] goes to rank i; the result holds the segment from rank
// i at recvPtr[i]:recvPtr[i+1]. The recvPtr offsets come from a prior
// AllToAllCounts, and swapping the two offset arrays routes a reply
// back along the reverse paths of a previous exchange.
func (c *Comm) ExchangeCells(send []cell.Cell, sendPtr, recvPtr []int) ([]cell.Cell, error) {
	if err := c.checkPtrs(sendPtr, recvPtr, len(send)); err != nil {
		return nil, err
	}
	out := make([]cell.Cell, recvPtr[c.Size()])
	for dst := 0; dst < c.Size(); dst++ {
		if dst == c.rank || sendPtr[dst] == sendPtr[dst+1] {
			continue
		}
		c.send(dst, message{cells: send[sendPtr[dst]:sendPtr[dst+1]]})
	}
	copy(out[recvPtr[c.rank]:recvPtr[c.rank+1]], send[sendPtr[c.rank]:sendPtr[c.rank+1]])
	for src := 0; src < c.Size(); src++ {
		if src == c.rank || recvPtr[src] == recvPtr[src+1] {
			continue
		}
		m := c.recv(src)
		if len(m.cells) != recvPtr[src+1]-recvPtr[src] {
			return nil, fmt.Errorf("%w: rank %d sent %d cells, expected %d",
				ErrTransport, src, len(m.cells), recvPtr[src+1]-recvPtr[src])
		}
		copy(out[recvPtr[src]:recvPtr[src+1]], m.cells)
	}
	return out, nil
}

// ExchangeInts performs a sparse all-to-all of integer tags with the
// same segment layout as ExchangeCells.
func (c *Comm) ExchangeInts(send []int32, sendPtr, recvPtr []int) ([]int32, error) {
	if err := c.checkPtrs(sendPtr, recvPtr, len(send)); err != nil {
		return nil, err
	}
	out := make([]int32, recvPtr[c.Size()])
	for dst := 0; dst < c.Size(); dst++ {
		if dst == c.rank || sendPtr[dst] == sendPtr[dst+1] {
			continue
		}
		c.send(dst, message{ints: send[sendPtr[dst]:sendPtr[dst+1]]})
	}
	copy(out[recvPtr[c.rank]:recvPtr[c.rank+1]], send[sendPtr[c.rank]:sendPtr[c.rank+1]])
	for src := 0; src < c.Size(); src++ {
		if src == c.rank || recvPtr[src] == recvPtr[src+1] {
			continue
		}
		m := c.recv(src)
		if len(m.ints) != recvPtr[src+1]-recvPtr[src] {
			return nil, fmt.Errorf("%w: rank %d sent %d ints, expected %d",
				ErrTransport, src, len(m.ints), recvPtr[src+1]-recvPtr[src])
		}
		copy(out[recvPtr[src]:recvPtr[src+1]], m.ints)
	}
	return out, nil
}

// ExchangeFloats performs a sparse all-to-all of float64 payloads with
// the same segment layout as ExchangeCells.
func (c *Comm) ExchangeFloats(send []float64, sendPtr, recvPtr []int) ([]float64, error) {
	if err := c.checkPtrs(sendPtr, recvPtr, len(send)); err != nil {
		return nil, err
	}
	out := make([]float64, recvPtr[c.Size()])
	for dst := 0; dst < c.Size(); dst++ {
		if dst == c.rank || sendPtr[dst] == sendPtr[dst+1] {
			continue
		}
		c.send(dst, message{floats: send[sendPtr[dst]:sendPtr[dst+1]]})
	}
	copy(out[recvPtr[c.rank]:recvPtr[c.rank+1]], send[sendPtr[c.rank]:sendPtr[c.rank+1]])
	for src := 0; src < c.Size(); src++ {
		if src == c.rank || recvPtr[src] == recvPtr[src+1] {
			continue
		}
		m := c.recv(src)
		if len(m.floats) != recvPtr[src+1]-recvPtr[src] {
			return nil, fmt.Errorf("%w: rank %d sent %d floats, expected %d",
				ErrTransport, src, len(m.floats), recvPtr[src+1]-recvPtr[src])
		}
		copy(out[recvPtr[src]:recvPtr[src+1]], m.floats)
	}
	return out, nil
}
