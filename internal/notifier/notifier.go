package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/opnotify/internal/ir"
)

// DefaultSweepInterval is how often abandoned waiters are pruned.
const DefaultSweepInterval = 30 * time.Second

// Notifier matches subscriptions against confirmed operations.
//
// CRITICAL: All registry access and all store lookups happen in the Run
// goroutine. External callers only enqueue.
//
// Thread-safety model:
//   - Subscribe*, Publish, Stats, Stop: safe from any goroutine
//   - Run: must be called from exactly one goroutine
type Notifier struct {
	adapter       storeAdapter
	queue         *inputQueue
	idGen         IDGenerator
	maxListeners  int
	sweepInterval time.Duration

	// One registry per (entity kind, level); see registry.go for invariants.
	txCommitted *registry[ir.TxHash, ir.TxReceipt]
	txVerified  *registry[ir.TxHash, ir.TxReceipt]
	opCommitted *registry[ir.SerialID, ir.PriorityOpStatus]
	opVerified  *registry[ir.SerialID, ir.PriorityOpStatus]

	feedClosed atomic.Bool
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithMaxListeners overrides MaxListenersPerEntity. Values below 1 are ignored.
func WithMaxListeners(n int) Option {
	return func(nt *Notifier) {
		if n >= 1 {
			nt.maxListeners = n
		}
	}
}

// WithSweepInterval sets how often abandoned waiters are pruned.
// Zero disables the sweep.
func WithSweepInterval(d time.Duration) Option {
	return func(nt *Notifier) {
		nt.sweepInterval = d
	}
}

// WithIDGenerator sets the waiter ID generator used by SubscribeTx and
// SubscribePriorityOp.
func WithIDGenerator(g IDGenerator) Option {
	return func(nt *Notifier) {
		nt.idGen = g
	}
}

// New creates a Notifier reading confirmation state from storage.
// A nil storage is allowed: every subscription is then parked.
func New(storage Storage, opts ...Option) *Notifier {
	n := &Notifier{
		adapter:       storeAdapter{storage: storage},
		queue:         newInputQueue(),
		idGen:         UUIDv7Generator{},
		maxListeners:  MaxListenersPerEntity,
		sweepInterval: DefaultSweepInterval,
	}

	for _, opt := range opts {
		opt(n)
	}

	lessHash := func(a, b ir.TxHash) bool { return a.Compare(b) < 0 }
	lessSerial := func(a, b ir.SerialID) bool { return a < b }
	n.txCommitted = newRegistry[ir.TxHash, ir.TxReceipt](lessHash, n.maxListeners)
	n.txVerified = newRegistry[ir.TxHash, ir.TxReceipt](lessHash, n.maxListeners)
	n.opCommitted = newRegistry[ir.SerialID, ir.PriorityOpStatus](lessSerial, n.maxListeners)
	n.opVerified = newRegistry[ir.SerialID, ir.PriorityOpStatus](lessSerial, n.maxListeners)

	return n
}

// Subscribe submits a subscription for resolution by the Run loop.
// Returns a *SubscriptionError for malformed subscriptions or a waiter that
// was already submitted, and ErrStopped once the notifier has shut down.
func (n *Notifier) Subscribe(sub Subscription) error {
	if err := sub.Validate(); err != nil {
		return err
	}
	if !sub.claim() {
		return &SubscriptionError{
			Code:     ErrCodeWaiterSubmitted,
			Message:  "waiter already submitted",
			WaiterID: sub.WaiterID(),
		}
	}
	if !n.queue.Enqueue(input{typ: inputSubscription, sub: &sub}) {
		return ErrStopped
	}
	return nil
}

// SubscribeTx waits for transaction hash to reach level.
func (n *Notifier) SubscribeTx(hash ir.TxHash, level ir.Level) (*Waiter[ir.TxReceipt], error) {
	w := NewWaiter[ir.TxReceipt](n.idGen.Generate())
	if err := n.Subscribe(TxSubscription(hash, level, w)); err != nil {
		return nil, fmt.Errorf("subscribe tx %s: %w", hash, err)
	}
	return w, nil
}

// SubscribePriorityOp waits for priority operation serialID to reach level.
func (n *Notifier) SubscribePriorityOp(serialID ir.SerialID, level ir.Level) (*Waiter[ir.PriorityOpStatus], error) {
	w := NewWaiter[ir.PriorityOpStatus](n.idGen.Generate())
	if err := n.Subscribe(PriorityOpSubscription(serialID, level, w)); err != nil {
		return nil, fmt.Errorf("subscribe priority op %d: %w", serialID, err)
	}
	return w, nil
}

// Publish submits a newly confirmed operation for dispatch.
// Returns an error wrapping ErrInvalidOperation if op is malformed.
func (n *Notifier) Publish(op ir.Operation) error {
	if err := op.Validate(); err != nil {
		return fmt.Errorf("publish block %d: %w: %w", op.BlockNumber, ErrInvalidOperation, err)
	}
	if !n.queue.Enqueue(input{typ: inputOperation, operation: &op}) {
		return ErrStopped
	}
	return nil
}

// Sweep asks the loop to prune abandoned waiters now rather than at the
// next sweep tick.
func (n *Notifier) Sweep() error {
	if !n.queue.Enqueue(input{typ: inputSweep}) {
		return ErrStopped
	}
	return nil
}

// Stats is a snapshot of the pending waiters per registry.
type Stats struct {
	TxCommitted         int `json:"tx_committed"`
	TxVerified          int `json:"tx_verified"`
	PriorityOpCommitted int `json:"priority_op_committed"`
	PriorityOpVerified  int `json:"priority_op_verified"`
	Buckets             int `json:"buckets"`
}

// Pending returns the total number of parked waiters.
func (s Stats) Pending() int {
	return s.TxCommitted + s.TxVerified + s.PriorityOpCommitted + s.PriorityOpVerified
}

// Stats asks the Run loop for a snapshot. Blocks until the loop answers or
// ctx ends.
func (n *Notifier) Stats(ctx context.Context) (Stats, error) {
	reply := make(chan Stats, 1)
	if !n.queue.Enqueue(input{typ: inputStats, stats: reply}) {
		return Stats{}, ErrStopped
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
}

// Stop closes the input queue. Run processes what is already queued and
// returns nil.
func (n *Notifier) Stop() {
	n.queue.Close()
}

// Run merges the two feeds into the input queue and processes inputs one at
// a time until a feed ends, Stop is called, or ctx is cancelled.
//
// Either feed may be nil, in which case only Publish/Subscribe feed the loop.
// When a feed closes, inputs already queued are still processed and Run
// returns ErrFeedClosed. No ordering between the two feeds is imposed beyond
// arrival order.
//
// CRITICAL: Must be called from exactly ONE goroutine, at most once.
func (n *Notifier) Run(ctx context.Context, ops <-chan ir.Operation, subs <-chan Subscription) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if ops != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pump(ctx, n, "operations", ops, func(op ir.Operation) input {
				return input{typ: inputOperation, operation: &op}
			})
		}()
	}
	if subs != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pump(ctx, n, "subscriptions", subs, func(sub Subscription) input {
				return input{typ: inputSubscription, sub: &sub}
			})
		}()
	}
	if n.sweepInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n.sweeper(ctx)
		}()
	}

	slog.Info("notifier starting",
		"max_listeners", n.maxListeners,
		"sweep_interval", n.sweepInterval.String(),
	)
	return n.loop(ctx)
}

// loop is the single consumer of the input queue.
func (n *Notifier) loop(ctx context.Context) error {
	for {
		in, ok := n.queue.TryDequeue()
		if ok {
			n.process(ctx, in)
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("notifier stopping: context cancelled")
			n.queue.Close()
			return ctx.Err()

		case <-n.queue.Wait():
			// The signal channel is closed once the queue closes, so this
			// case keeps firing until the remaining inputs are drained.
			if n.queue.Drained() {
				if n.feedClosed.Load() {
					slog.Info("notifier stopping: input feed closed")
					return ErrFeedClosed
				}
				slog.Info("notifier stopping: queue closed")
				return nil
			}
		}
	}
}

// process routes an input to its handler.
// CRITICAL: Called only from the Run goroutine.
func (n *Notifier) process(ctx context.Context, in input) {
	switch in.typ {
	case inputSubscription:
		n.resolve(ctx, in.sub)
	case inputOperation:
		n.dispatch(in.operation)
	case inputSweep:
		n.sweep()
	case inputStats:
		in.stats <- n.snapshot()
	default:
		// Log and continue: a bad input must not stop the loop.
		slog.Error("unknown input type", "type", int(in.typ))
	}
}

// sweep prunes abandoned waiters from all registries.
func (n *Notifier) sweep() {
	removed := n.txCommitted.prune() + n.txVerified.prune() +
		n.opCommitted.prune() + n.opVerified.prune()
	if removed > 0 {
		slog.Debug("pruned abandoned waiters", "removed", removed)
	}
}

func (n *Notifier) snapshot() Stats {
	return Stats{
		TxCommitted:         n.txCommitted.waiters,
		TxVerified:          n.txVerified.waiters,
		PriorityOpCommitted: n.opCommitted.waiters,
		PriorityOpVerified:  n.opVerified.waiters,
		Buckets: n.txCommitted.buckets() + n.txVerified.buckets() +
			n.opCommitted.buckets() + n.opVerified.buckets(),
	}
}

func (n *Notifier) txRegistry(level ir.Level) *registry[ir.TxHash, ir.TxReceipt] {
	if level == ir.Verified {
		return n.txVerified
	}
	return n.txCommitted
}

func (n *Notifier) opRegistry(level ir.Level) *registry[ir.SerialID, ir.PriorityOpStatus] {
	if level == ir.Verified {
		return n.opVerified
	}
	return n.opCommitted
}

// pump forwards a feed into the input queue, preserving its order. When the
// feed ends it closes the queue, which ends the loop once drained.
func pump[T any](ctx context.Context, n *Notifier, name string, feed <-chan T, wrap func(T) input) {
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-feed:
			if !ok {
				slog.Info("input feed closed", "feed", name)
				n.feedClosed.Store(true)
				n.queue.Close()
				return
			}
			if !n.queue.Enqueue(wrap(v)) {
				return
			}
		}
	}
}

// sweeper enqueues a sweep input every sweepInterval so pruning runs on the
// loop goroutine like everything else.
func (n *Notifier) sweeper(ctx context.Context) {
	ticker := time.NewTicker(n.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n.Sweep() != nil {
				return
			}
		}
	}
}
