package notifier

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// IDGenerator generates waiter IDs for log correlation.
// Implemented by UUIDv7Generator (production) and test fixtures.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 waiter IDs.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Waiter is a one-shot completion handle.
//
// The notifier delivers at most one value. The caller reads it from C() or
// Wait(), and may Cancel() at any time to signal it is no longer interested.
// A cancelled waiter is never delivered to and is pruned by the next sweep.
type Waiter[T any] struct {
	id        string
	result    chan T
	done      chan struct{}
	cancel    sync.Once
	submitted atomic.Bool
	delivered atomic.Bool
}

// NewWaiter creates a waiter with the given ID.
func NewWaiter[T any](id string) *Waiter[T] {
	return &Waiter[T]{
		id:     id,
		result: make(chan T, 1),
		done:   make(chan struct{}),
	}
}

// ID returns the waiter's correlation ID.
func (w *Waiter[T]) ID() string {
	return w.id
}

// C returns the channel the outcome is delivered on.
func (w *Waiter[T]) C() <-chan T {
	return w.result
}

// Cancel marks the waiter as abandoned. Safe to call more than once.
func (w *Waiter[T]) Cancel() {
	w.cancel.Do(func() { close(w.done) })
}

// Abandoned reports whether Cancel has been called.
func (w *Waiter[T]) Abandoned() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the outcome arrives or ctx ends. When ctx ends first the
// waiter is cancelled.
func (w *Waiter[T]) Wait(ctx context.Context) (T, error) {
	select {
	case v := <-w.result:
		return v, nil
	case <-ctx.Done():
		w.Cancel()
		var zero T
		return zero, ctx.Err()
	}
}

// deliver hands v to the caller. Returns false if the caller already gave up.
//
// Panics if called twice: double delivery is a notifier bug, not a
// condition to tolerate.
func (w *Waiter[T]) deliver(v T) bool {
	if !w.delivered.CompareAndSwap(false, true) {
		panic(fmt.Errorf("%w: %s", ErrWaiterReused, w.id))
	}
	if w.Abandoned() {
		return false
	}
	// Capacity 1 and a single send: never blocks.
	w.result <- v
	return true
}

// claim marks the waiter as handed to a notifier. Returns false if it
// already was; a waiter parks in at most one bucket.
func (w *Waiter[T]) claim() bool {
	return w.submitted.CompareAndSwap(false, true)
}

// deliverAll delivers a fresh outcome from next to every waiter in order and
// returns how many accepted it. A gone waiter does not stop delivery to its
// siblings.
func deliverAll[T any](waiters []*Waiter[T], next func() T) int {
	delivered := 0
	for _, w := range waiters {
		if w.deliver(next()) {
			delivered++
		}
	}
	return delivered
}
