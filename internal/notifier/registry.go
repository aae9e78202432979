package notifier

import (
	"github.com/tidwall/btree"
)

// MaxListenersPerEntity bounds a single bucket. Further waiters for the same
// (entity, level) are dropped instead of growing memory without limit.
const MaxListenersPerEntity = 4096

// bucket holds the waiters pending for one key, in registration order.
type bucket[K any, T any] struct {
	key     K
	waiters []*Waiter[T]
}

// registry maps entity identity to its bucket for one (kind, level) pair.
//
// INVARIANTS:
//   - len(bucket.waiters) <= limit
//   - no empty bucket is ever stored
//   - waiters equals the sum of all bucket lengths
//
// Not safe for concurrent use; owned by the notifier's run goroutine.
type registry[K any, T any] struct {
	tree    *btree.BTreeG[*bucket[K, T]]
	limit   int
	waiters int
}

func newRegistry[K any, T any](less func(a, b K) bool, limit int) *registry[K, T] {
	return &registry[K, T]{
		tree: btree.NewBTreeG(func(a, b *bucket[K, T]) bool {
			return less(a.key, b.key)
		}),
		limit: limit,
	}
}

// tryRegister appends w to the bucket for key. Returns false, leaving the
// registry unchanged, if the bucket is full.
func (r *registry[K, T]) tryRegister(key K, w *Waiter[T]) bool {
	b, ok := r.tree.Get(&bucket[K, T]{key: key})
	if !ok {
		if r.limit < 1 {
			return false
		}
		r.tree.Set(&bucket[K, T]{key: key, waiters: []*Waiter[T]{w}})
		r.waiters++
		return true
	}
	if len(b.waiters) >= r.limit {
		return false
	}
	b.waiters = append(b.waiters, w)
	r.waiters++
	return true
}

// drain removes and returns the whole bucket for key.
func (r *registry[K, T]) drain(key K) ([]*Waiter[T], bool) {
	b, ok := r.tree.Delete(&bucket[K, T]{key: key})
	if !ok {
		return nil, false
	}
	r.waiters -= len(b.waiters)
	return b.waiters, true
}

// pending returns the number of waiters parked for key.
func (r *registry[K, T]) pending(key K) int {
	b, ok := r.tree.Get(&bucket[K, T]{key: key})
	if !ok {
		return 0
	}
	return len(b.waiters)
}

// prune drops abandoned waiters and removes buckets left empty.
// Returns how many waiters were removed.
func (r *registry[K, T]) prune() int {
	var empty []*bucket[K, T]
	removed := 0

	r.tree.Scan(func(b *bucket[K, T]) bool {
		kept := b.waiters[:0]
		for _, w := range b.waiters {
			if w.Abandoned() {
				removed++
				continue
			}
			kept = append(kept, w)
		}
		// Clear the tail so dropped waiters can be collected.
		for i := len(kept); i < len(b.waiters); i++ {
			b.waiters[i] = nil
		}
		b.waiters = kept
		if len(kept) == 0 {
			empty = append(empty, b)
		}
		return true
	})

	// The tree must not be mutated structurally during Scan.
	for _, b := range empty {
		r.tree.Delete(b)
	}
	r.waiters -= removed
	return removed
}

// buckets returns the number of stored buckets.
func (r *registry[K, T]) buckets() int {
	return r.tree.Len()
}
