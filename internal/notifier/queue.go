package notifier

import (
	"sync"

	"github.com/roach88/opnotify/internal/ir"
)

// inputType distinguishes between input kinds.
type inputType int

const (
	// inputOperation is a newly confirmed operation to dispatch.
	inputOperation inputType = iota + 1
	// inputSubscription is a subscription to resolve.
	inputSubscription
	// inputSweep asks the loop to prune abandoned waiters.
	inputSweep
	// inputStats asks the loop for a registry snapshot.
	inputStats
)

// input is one item of the merged sequence the run loop consumes.
type input struct {
	typ       inputType
	operation *ir.Operation
	sub       *Subscription
	stats     chan<- Stats
}

// inputQueue is the unbounded FIFO between producers and the run loop.
//
// Any goroutine may Enqueue; only the run loop dequeues. A slow store lookup
// in the loop therefore never back-pressures the upstream feeds.
//
// signal holds at most one pending wakeup. It is closed by Close, so a loop
// selecting on Wait() also observes shutdown.
type inputQueue struct {
	mu     sync.Mutex
	items  []input
	head   int
	closed bool
	signal chan struct{}
}

func newInputQueue() *inputQueue {
	return &inputQueue{signal: make(chan struct{}, 1)}
}

// Enqueue appends in and wakes the loop. Returns false once closed.
func (q *inputQueue) Enqueue(in input) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, in)
	select {
	case q.signal <- struct{}{}:
	default: // a wakeup is already pending
	}
	return true
}

// TryDequeue pops the oldest input, or reports false when none is queued.
func (q *inputQueue) TryDequeue() (input, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.head == len(q.items) {
		return input{}, false
	}
	in := q.items[q.head]
	q.items[q.head] = input{} // release the waiter reference
	q.head++
	if q.head == len(q.items) {
		q.items, q.head = q.items[:0], 0
	}
	return in, true
}

// Wait returns the wakeup channel.
func (q *inputQueue) Wait() <-chan struct{} {
	return q.signal
}

// Drained reports whether the queue is closed and nothing is left in it.
func (q *inputQueue) Drained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && q.head == len(q.items)
}

// Close stops further enqueues. Queued inputs remain dequeueable.
func (q *inputQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.signal)
	}
}
