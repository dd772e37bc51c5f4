package core

import (
	"sync"
	"sync/atomic"
)

const (
	defaultQueueCap     = 16
	compactMinCap       = 64 // Don't compact if capacity is less than this
	compactShrinkFactor = 4  // Trigger compaction when len < cap/4
)

// =============================================================================
// LocalQueue: a processor's ready queue
// =============================================================================

// LocalQueue is the FIFO of ready coroutines owned by one processor.
//
// The owner pushes and pops at the head; any other processor may steal
// the back half concurrently. While the owner is blocked the queue is
// closed and pushes are refused, so the caller re-homes the coroutine.
type LocalQueue struct {
	mu     sync.Mutex
	items  []*Coroutine
	closed bool
}

func NewLocalQueue() *LocalQueue {
	return &LocalQueue{
		items: make([]*Coroutine, 0, defaultQueueCap),
	}
}

// Push appends co to the tail. It returns false if the queue is closed.
func (q *LocalQueue) Push(co *Coroutine) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, co)
	return true
}

// PushMany appends all of cos, or none of them if the queue is closed.
func (q *LocalQueue) PushMany(cos []*Coroutine) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, cos...)
	return true
}

// Pop removes the head.
func (q *LocalQueue) Pop() (*Coroutine, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}

	co := q.items[0]
	// Zero out the element in the underlying array to prevent memory leak
	q.items[0] = nil
	q.items = q.items[1:]
	q.maybeCompactLocked()

	return co, true
}

// StealHalf removes the back half of the queue, rounded down, and returns
// it in queue order. A queue of one is never stolen from.
func (q *LocalQueue) StealHalf() []*Coroutine {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items)
	steal := n / 2
	if steal == 0 {
		return nil
	}
	keep := n - steal

	out := make([]*Coroutine, steal)
	copy(out, q.items[keep:])
	clear(q.items[keep:])
	q.items = q.items[:keep]
	q.maybeCompactLocked()

	return out
}

// CloseAndDrain closes the queue and returns everything it held.
func (q *LocalQueue) CloseAndDrain() []*Coroutine {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	out := q.items
	q.items = make([]*Coroutine, 0, defaultQueueCap)
	return out
}

// Reopen accepts pushes again after CloseAndDrain.
func (q *LocalQueue) Reopen() {
	q.mu.Lock()
	q.closed = false
	q.mu.Unlock()
}

func (q *LocalQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *LocalQueue) IsEmpty() bool {
	return q.Len() == 0
}

func (q *LocalQueue) maybeCompactLocked() {
	n := len(q.items)
	c := cap(q.items)

	if c < compactMinCap {
		return
	}
	if n == 0 {
		q.items = make([]*Coroutine, 0, defaultQueueCap)
		return
	}
	if n*compactShrinkFactor >= c {
		return
	}

	newCap := max(max(c/2, defaultQueueCap), n)

	newSlice := make([]*Coroutine, n, newCap)
	copy(newSlice, q.items)
	q.items = newSlice
}

// =============================================================================
// globalQueue: scheduler-owned overflow queue
// =============================================================================

// globalQueue is guarded by the scheduler lock; size mirrors len(items)
// so processors can skip the lock when it is empty.
type globalQueue struct {
	items []*Coroutine
	size  atomic.Int64
}

func (g *globalQueue) push(cos ...*Coroutine) {
	g.items = append(g.items, cos...)
	g.size.Store(int64(len(g.items)))
}

func (g *globalQueue) takeAll() []*Coroutine {
	out := g.items
	g.items = nil
	g.size.Store(0)
	return out
}

func (g *globalQueue) len() int {
	return int(g.size.Load())
}
