package feed

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/opnotify/internal/ir"
	"github.com/roach88/opnotify/internal/store"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "feed.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func recordConfirmed(t *testing.T, st *store.Store, block int64, action ir.ActionType, serial ir.SerialID) {
	t.Helper()
	ctx := context.Background()
	op := ir.Operation{
		Action:      action,
		BlockNumber: block,
		Entities:    []ir.ExecutedEntity{{PriorityOp: &ir.ExecutedPriorityOp{SerialID: serial}}},
	}
	require.NoError(t, st.WriteOperation(ctx, op))
	_, err := st.ConfirmOperation(ctx, block, action)
	require.NoError(t, err)
}

func next(t *testing.T, ch <-chan ir.Operation) ir.Operation {
	t.Helper()
	select {
	case op, ok := <-ch:
		require.True(t, ok, "feed closed early")
		return op
	case <-time.After(2 * time.Second):
		t.Fatal("no operation emitted")
		return ir.Operation{}
	}
}

func TestPoller_EmitsInConfirmationOrder(t *testing.T) {
	st := openStore(t)
	recordConfirmed(t, st, 1, ir.ActionCommit, 10)
	recordConfirmed(t, st, 2, ir.ActionCommit, 20)
	recordConfirmed(t, st, 1, ir.ActionVerify, 10)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := NewPoller(st, 0, 10*time.Millisecond, WithBatchSize(2))
	ch := p.Start(ctx)

	first := next(t, ch)
	assert.Equal(t, ir.ActionCommit, first.Action)
	assert.Equal(t, int64(1), first.BlockNumber)
	require.Len(t, first.Entities, 1)
	assert.Equal(t, ir.SerialID(10), first.Entities[0].PriorityOp.SerialID)

	assert.Equal(t, int64(2), next(t, ch).BlockNumber)

	third := next(t, ch)
	assert.Equal(t, ir.ActionVerify, third.Action)
	assert.Equal(t, int64(1), third.BlockNumber)

	// Later confirmations are picked up by the next poll.
	recordConfirmed(t, st, 3, ir.ActionCommit, 30)
	assert.Equal(t, int64(3), next(t, ch).BlockNumber)
	require.Eventually(t, func() bool { return p.Cursor() == 4 }, time.Second, 5*time.Millisecond)
}

func TestPoller_StartsAfterCursor(t *testing.T) {
	st := openStore(t)
	recordConfirmed(t, st, 1, ir.ActionCommit, 1)
	recordConfirmed(t, st, 2, ir.ActionCommit, 2)

	last, err := st.LastConfirmedSeq(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := NewPoller(st, last, 10*time.Millisecond).Start(ctx)

	recordConfirmed(t, st, 5, ir.ActionCommit, 5)
	assert.Equal(t, int64(5), next(t, ch).BlockNumber)
}

func TestPoller_ClosesOnContextEnd(t *testing.T) {
	st := openStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	ch := NewPoller(st, 0, 10*time.Millisecond).Start(ctx)

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("feed not closed after cancel")
	}
}

type flakySource struct {
	mu    sync.Mutex
	fails int
	ops   []store.ConfirmedOperation
}

func (f *flakySource) ReadOperationsAfter(_ context.Context, after int64, limit int) ([]store.ConfirmedOperation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return nil, errors.New("database is locked")
	}
	out := []store.ConfirmedOperation{}
	for _, c := range f.ops {
		if c.Seq > after && len(out) < limit {
			out = append(out, c)
		}
	}
	return out, nil
}

func TestPoller_RetriesAfterReadError(t *testing.T) {
	src := &flakySource{
		fails: 2,
		ops: []store.ConfirmedOperation{
			{Seq: 1, Operation: ir.Operation{Action: ir.ActionCommit, BlockNumber: 9}},
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := NewPoller(src, 0, 5*time.Millisecond).Start(ctx)

	assert.Equal(t, int64(9), next(t, ch).BlockNumber)
}
