package notifier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUIDv7Generator(t *testing.T) {
	gen := UUIDv7Generator{}

	id := gen.Generate()
	parsed, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
	assert.NotEqual(t, id, gen.Generate())
}

func TestWaiter_DeliverOnce(t *testing.T) {
	w := NewWaiter[int]("w-1")

	assert.True(t, w.deliver(42))
	select {
	case v := <-w.C():
		assert.Equal(t, 42, v)
	default:
		t.Fatal("value not delivered")
	}
}

func TestWaiter_SecondDeliverPanics(t *testing.T) {
	w := NewWaiter[int]("w-1")
	w.deliver(1)

	defer func() {
		r := recover()
		require.NotNil(t, r, "second deliver must panic")
		err, ok := r.(error)
		require.True(t, ok)
		assert.True(t, errors.Is(err, ErrWaiterReused))
		assert.Contains(t, err.Error(), "w-1")
	}()
	w.deliver(2)
}

func TestWaiter_CancelledIsNotDelivered(t *testing.T) {
	w := NewWaiter[int]("w-1")
	w.Cancel()
	w.Cancel() // idempotent

	assert.True(t, w.Abandoned())
	assert.False(t, w.deliver(1))
	select {
	case <-w.C():
		t.Fatal("cancelled waiter received a value")
	default:
	}
}

func TestWaiter_Wait(t *testing.T) {
	w := NewWaiter[string]("w-1")
	go w.deliver("done")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	v, err := w.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "done", v)
}

func TestWaiter_Wait_ContextCancels(t *testing.T) {
	w := NewWaiter[string]("w-1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := w.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, w.Abandoned(), "ctx end should abandon the waiter")
}

func TestDeliverAll_SkipsGoneWaiters(t *testing.T) {
	a := NewWaiter[int]("a")
	b := NewWaiter[int]("b")
	c := NewWaiter[int]("c")
	b.Cancel()

	calls := 0
	n := deliverAll([]*Waiter[int]{a, b, c}, func() int { calls++; return 9 })

	assert.Equal(t, 2, n)
	assert.Equal(t, 9, <-a.C())
	assert.Equal(t, 9, <-c.C())
	assert.Equal(t, 3, calls)
}

func TestWaiter_ClaimOnce(t *testing.T) {
	w := NewWaiter[int]("w")
	assert.True(t, w.claim())
	assert.False(t, w.claim())
}
