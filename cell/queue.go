package cell

// Queue is a FIFO worklist of cells. The balancing pass pushes newly
// discovered cells while draining, so the queue grows without bound
// until the fixed point is reached.
type Queue struct {
	items []Cell
	head  int
}

// NewQueue returns an empty queue.
func NewQueue() *Queue { return &Queue{} }

// Push appends c to the back of the queue.
func (q *Queue) Push(c Cell) {
	q.items = append(q.items, c)
}

// Pop removes and returns the front cell. The second result is false
// when the queue is empty.
func (q *Queue) Pop() (Cell, bool) {
	if q.head >= len(q.items) {
		return Cell{}, false
	}
	c := q.items[q.head]
	q.head++
	// Reclaim the drained prefix once it dominates the backing slice.
	if q.head > 1024 && q.head*2 > len(q.items) {
		q.items = append(q.items[:0], q.items[q.head:]...)
		q.head = 0
	}
	return c, true
}

// Len returns the number of queued cells.
func (q *Queue) Len() int { return len(q.items) - q.head }
