package relay

import "sync"

// Queue is an unbounded multi-producer multi-consumer FIFO of units. With
// a limit set, Push evicts the oldest unit instead of growing past it, so
// producers never block.
type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   []Unit
	limit   int
	closed  bool
	dropped uint64
}

// NewQueue creates a queue; limit <= 0 means unbounded
func NewQueue(limit int) *Queue {
	q := &Queue{limit: limit}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends u. It reports whether the oldest unit was evicted to make
// room, and returns false for ok once the queue is closed.
func (q *Queue) Push(u Unit) (evicted, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false, false
	}
	if q.limit > 0 && len(q.items) >= q.limit {
		q.items[0] = Unit{}
		q.items = q.items[1:]
		q.dropped++
		evicted = true
	}
	q.items = append(q.items, u)
	q.cond.Signal()
	return evicted, true
}

// Pop blocks until a unit is available. After Close it keeps returning the
// remaining units and then ok=false.
func (q *Queue) Pop() (u Unit, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return Unit{}, false
	}
	u = q.items[0]
	q.items[0] = Unit{}
	q.items = q.items[1:]
	return u, true
}

// Len returns the number of queued units
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns how many units were evicted
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Close stops accepting units and wakes every waiting consumer
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
