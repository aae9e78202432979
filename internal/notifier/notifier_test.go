package notifier

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/opnotify/internal/ir"
	"github.com/roach88/opnotify/internal/testutil"
)

// startNotifier runs n in the background and returns a func that stops it
// and returns Run's error.
func startNotifier(t *testing.T, n *Notifier, ops <-chan ir.Operation, subs <-chan Subscription) func() error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- n.Run(ctx, ops, subs)
	}()
	return func() error {
		defer cancel()
		n.Stop()
		select {
		case err := <-errCh:
			return err
		case <-time.After(5 * time.Second):
			t.Fatal("notifier did not stop")
			return nil
		}
	}
}

func waitFor[T any](t *testing.T, w *Waiter[T]) T {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	v, err := w.Wait(ctx)
	require.NoError(t, err, "waiter %s was not answered", w.ID())
	return v
}

func TestNew_Defaults(t *testing.T) {
	n := New(nil)

	assert.Equal(t, MaxListenersPerEntity, n.maxListeners)
	assert.Equal(t, DefaultSweepInterval, n.sweepInterval)
	assert.IsType(t, UUIDv7Generator{}, n.idGen)
}

func TestNew_Options(t *testing.T) {
	gen := testutil.NewFixedIDGenerator("x")
	n := New(nil, WithMaxListeners(3), WithSweepInterval(time.Second), WithIDGenerator(gen))

	assert.Equal(t, 3, n.maxListeners)
	assert.Equal(t, 3, n.txCommitted.limit)
	assert.Equal(t, 3, n.opVerified.limit)
	assert.Equal(t, time.Second, n.sweepInterval)

	n = New(nil, WithMaxListeners(0))
	assert.Equal(t, MaxListenersPerEntity, n.maxListeners, "non-positive limit ignored")
}

func TestNotifier_ScenarioA_SubscribeThenDispatch(t *testing.T) {
	n := newTestNotifier(t, testutil.NewFakeStorage())
	stop := startNotifier(t, n, nil, nil)

	w, err := n.SubscribeTx(hashH, ir.Committed)
	require.NoError(t, err)
	assert.Equal(t, "w-1", w.ID())
	require.NoError(t, n.Publish(*commitOp(10, txEntity(hashH, true, nil))))

	got := waitFor(t, w)
	assert.Equal(t, ir.TxReceipt{TxHash: hashH.String(), BlockNumber: 10, Success: true}, got)
	require.NoError(t, stop())
}

func TestNotifier_ScenarioB_AlreadyVerified(t *testing.T) {
	fs := testutil.NewFakeStorage()
	stored := ir.TxReceipt{TxHash: hashH.String(), BlockNumber: 2, Success: true, Verified: true}
	fs.PutReceipt(hashH, stored)
	n := newTestNotifier(t, fs)
	stop := startNotifier(t, n, nil, nil)

	w, err := n.SubscribeTx(hashH, ir.Verified)
	require.NoError(t, err)
	assert.Equal(t, stored, waitFor(t, w))

	stats, err := n.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Buckets)
	require.NoError(t, stop())
}

func TestNotifier_ScenarioC_PriorityOpVerifiedLater(t *testing.T) {
	fs := testutil.NewFakeStorage()
	fs.PutPriorityOp(7, 3)
	fs.PutOperation(3, ir.ActionVerify, false)
	n := newTestNotifier(t, fs)
	stop := startNotifier(t, n, nil, nil)

	w, err := n.SubscribePriorityOp(7, ir.Verified)
	require.NoError(t, err)

	stats, err := n.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PriorityOpVerified, "waiter must be parked")

	require.NoError(t, n.Publish(*verifyOp(3, opEntity(7))))
	assert.Equal(t, ir.PriorityOpStatus{Executed: true, Block: int64Ptr(3)}, waitFor(t, w))
	require.NoError(t, stop())
}

func TestNotifier_ScenarioD_TwoWaitersSameOutcome(t *testing.T) {
	n := newTestNotifier(t, nil)
	stop := startNotifier(t, n, nil, nil)

	w1, err := n.SubscribeTx(hashH, ir.Committed)
	require.NoError(t, err)
	w2, err := n.SubscribeTx(hashH, ir.Committed)
	require.NoError(t, err)
	require.NoError(t, n.Publish(*commitOp(10, txEntity(hashH, true, nil))))

	assert.Equal(t, waitFor(t, w1), waitFor(t, w2))
	require.NoError(t, stop())
}

func TestNotifier_Feeds_ProcessedInOrderThenFeedClosed(t *testing.T) {
	n := newTestNotifier(t, nil)
	w := NewWaiter[ir.TxReceipt]("feed-w")

	subs := make(chan Subscription, 1)
	subs <- TxSubscription(hashH, ir.Committed, w)
	close(subs)

	err := n.Run(context.Background(), nil, subs)
	assert.ErrorIs(t, err, ErrFeedClosed)

	// The queued subscription was resolved before the loop stopped.
	assert.Equal(t, 1, n.txCommitted.pending(hashH))
	assert.ErrorIs(t, n.Publish(*commitOp(1)), ErrStopped)
}

func TestNotifier_Feeds_OperationFeed(t *testing.T) {
	n := newTestNotifier(t, nil)
	ops := make(chan ir.Operation)
	subs := make(chan Subscription)

	errCh := make(chan error, 1)
	go func() { errCh <- n.Run(context.Background(), ops, subs) }()

	w := NewWaiter[ir.TxReceipt]("feed-w")
	subs <- TxSubscription(hashH, ir.Committed, w)

	// The two feeds are independent; wait until the subscription is parked
	// before confirming.
	require.Eventually(t, func() bool {
		s, err := n.Stats(context.Background())
		return err == nil && s.TxCommitted == 1
	}, 2*time.Second, 5*time.Millisecond)

	ops <- *commitOp(11, txEntity(hashH, true, nil))
	assert.Equal(t, int64(11), waitFor(t, w).BlockNumber)

	close(ops)
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrFeedClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after feed closed")
	}
}

func TestNotifier_Run_StopsOnContext(t *testing.T) {
	n := newTestNotifier(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- n.Run(ctx, make(chan ir.Operation), nil) }()

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop on context cancel")
	}

	_, err := n.SubscribeTx(hashH, ir.Committed)
	assert.ErrorIs(t, err, ErrStopped)
}

func TestNotifier_Subscribe_Invalid(t *testing.T) {
	n := newTestNotifier(t, nil)

	err := n.Subscribe(Subscription{Kind: KindTx, TxHash: hashH, Level: ir.Committed})
	require.Error(t, err)
	assert.True(t, IsInvalidSubscription(err))

	w := NewWaiter[ir.PriorityOpStatus]("w")
	err = n.Subscribe(PriorityOpSubscription(1, ir.Level(9), w))
	var se *SubscriptionError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, ErrCodeInvalidLevel, se.Code)
	assert.Equal(t, "w", se.WaiterID)

	_, err = n.SubscribeTx(hashH, ir.Level(0))
	assert.True(t, IsInvalidSubscription(err))

	err = n.Subscribe(Subscription{})
	require.ErrorAs(t, err, &se)
	assert.Equal(t, ErrCodeInvalidKind, se.Code)
}

func TestNotifier_Subscribe_WaiterSubmittedTwice(t *testing.T) {
	n := newTestNotifier(t, nil)
	stop := startNotifier(t, n, nil, nil)

	w := NewWaiter[ir.TxReceipt]("twice")
	require.NoError(t, n.Subscribe(TxSubscription(hashH, ir.Committed, w)))

	err := n.Subscribe(TxSubscription(hashH, ir.Verified, w))
	var se *SubscriptionError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, ErrCodeWaiterSubmitted, se.Code)
	assert.Equal(t, "twice", se.WaiterID)

	// The loop survives both commit and verify of the same tx.
	require.NoError(t, n.Publish(*commitOp(1, txEntity(hashH, true, nil))))
	require.NoError(t, n.Publish(*verifyOp(1, txEntity(hashH, true, nil))))
	r := waitFor(t, w)
	assert.False(t, r.Verified)

	stats, err := n.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Pending())
	require.NoError(t, stop())
}

func TestNotifier_Publish_RejectsMalformedOperation(t *testing.T) {
	n := newTestNotifier(t, nil)
	stop := startNotifier(t, n, nil, nil)

	w, err := n.SubscribeTx(hashH, ir.Committed)
	require.NoError(t, err)

	err = n.Publish(*commitOp(10, txEntity(hashH, true, nil), ir.ExecutedEntity{}))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidOperation)
	assert.Contains(t, err.Error(), "entities[1]")

	err = n.Publish(ir.Operation{Action: "FINALIZE", BlockNumber: 10})
	assert.ErrorIs(t, err, ErrInvalidOperation)

	// Nothing was queued, so the waiter is still parked.
	stats, err := n.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TxCommitted)
	_, ok := received(w)
	assert.False(t, ok)

	require.NoError(t, n.Publish(*commitOp(10, txEntity(hashH, true, nil))))
	assert.Equal(t, int64(10), waitFor(t, w).BlockNumber)
	require.NoError(t, stop())
}

func TestNotifier_FeedOperationWithMalformedEntity(t *testing.T) {
	n := newTestNotifier(t, nil)
	ops := make(chan ir.Operation, 1)
	stop := startNotifier(t, n, ops, nil)

	w, err := n.SubscribeTx(hashH, ir.Committed)
	require.NoError(t, err)
	_, err = n.Stats(context.Background())
	require.NoError(t, err)

	// Feed inputs bypass Publish; the loop still releases valid siblings.
	ops <- *commitOp(10, txEntity(hashH, true, nil), ir.ExecutedEntity{})
	assert.Equal(t, int64(10), waitFor(t, w).BlockNumber)
	require.NoError(t, stop())
}

func TestNotifier_SweepPrunesAbandonedWaiters(t *testing.T) {
	n := newTestNotifier(t, nil, WithSweepInterval(10*time.Millisecond))
	stop := startNotifier(t, n, nil, nil)

	gone, err := n.SubscribeTx(hashH, ir.Committed)
	require.NoError(t, err)
	kept, err := n.SubscribePriorityOp(1, ir.Verified)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = gone.Wait(ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.Eventually(t, func() bool {
		s, err := n.Stats(context.Background())
		return err == nil && s.TxCommitted == 0 && s.PriorityOpVerified == 1 && s.Buckets == 1
	}, 2*time.Second, 10*time.Millisecond)

	// A pruned waiter is never delivered to, even if its tx shows up.
	require.NoError(t, n.Publish(*commitOp(1, txEntity(hashH, true, nil))))
	require.NoError(t, n.Publish(*verifyOp(1, opEntity(1))))
	waitFor(t, kept)
	_, ok := received(gone)
	assert.False(t, ok)

	require.NoError(t, stop())
}

func TestNotifier_NoMissedWakeup(t *testing.T) {
	// Whatever the order of subscribe and dispatch, a store that reflects
	// the dispatch answers late subscribers.
	fs := testutil.NewFakeStorage()
	n := newTestNotifier(t, fs)
	stop := startNotifier(t, n, nil, nil)

	early, err := n.SubscribeTx(hashH, ir.Committed)
	require.NoError(t, err)

	op := commitOp(20, txEntity(hashH, true, nil))
	fs.PutReceipt(hashH, ir.TxReceipt{TxHash: hashH.String(), BlockNumber: 20, Success: true})
	require.NoError(t, n.Publish(*op))

	late, err := n.SubscribeTx(hashH, ir.Committed)
	require.NoError(t, err)

	assert.Equal(t, waitFor(t, early), waitFor(t, late))
	require.NoError(t, stop())
}

func TestStats_Pending(t *testing.T) {
	s := Stats{TxCommitted: 1, TxVerified: 2, PriorityOpCommitted: 3, PriorityOpVerified: 4}
	assert.Equal(t, 10, s.Pending())
}

func TestNotifier_SweepOnDemand(t *testing.T) {
	n := newTestNotifier(t, nil)
	stop := startNotifier(t, n, nil, nil)

	w, err := n.SubscribeTx(hashJ, ir.Verified)
	require.NoError(t, err)
	w.Cancel()
	require.NoError(t, n.Sweep())

	stats, err := n.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Pending())
	assert.Equal(t, 0, stats.Buckets)

	require.NoError(t, stop())
	assert.ErrorIs(t, n.Sweep(), ErrStopped)
}
