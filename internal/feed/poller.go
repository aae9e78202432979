// Package feed produces the notifier's upstream "new confirmed operation"
// feed by tailing the confirmation store.
package feed

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/roach88/opnotify/internal/ir"
	"github.com/roach88/opnotify/internal/store"
)

// DefaultBatchSize bounds the operations read per store query.
const DefaultBatchSize = 256

// Source is the part of the store the poller reads.
// Implemented by *store.Store.
type Source interface {
	ReadOperationsAfter(ctx context.Context, after int64, limit int) ([]store.ConfirmedOperation, error)
}

// Poller emits confirmed operations in confirmation order.
//
// Each operation is emitted once per Poller: the cursor only moves forward
// past operations that were handed to the consumer.
type Poller struct {
	src      Source
	interval time.Duration
	batch    int
	cursor   atomic.Int64
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithBatchSize overrides DefaultBatchSize. Values below 1 are ignored.
func WithBatchSize(n int) PollerOption {
	return func(p *Poller) {
		if n >= 1 {
			p.batch = n
		}
	}
}

// NewPoller creates a poller that emits operations confirmed after
// sequence number after, checking the store every interval.
func NewPoller(src Source, after int64, interval time.Duration, opts ...PollerOption) *Poller {
	p := &Poller{
		src:      src,
		interval: interval,
		batch:    DefaultBatchSize,
	}
	p.cursor.Store(after)
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Cursor returns the sequence number of the last emitted operation.
func (p *Poller) Cursor() int64 {
	return p.cursor.Load()
}

// Start launches the polling goroutine. The returned channel is closed when
// ctx ends.
func (p *Poller) Start(ctx context.Context) <-chan ir.Operation {
	out := make(chan ir.Operation)
	go func() {
		defer close(out)
		p.run(ctx, out)
	}()
	return out
}

func (p *Poller) run(ctx context.Context, out chan<- ir.Operation) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if !p.poll(ctx, out) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// poll drains everything confirmed since the cursor. Returns false when ctx
// ended mid-send.
func (p *Poller) poll(ctx context.Context, out chan<- ir.Operation) bool {
	for {
		ops, err := p.src.ReadOperationsAfter(ctx, p.cursor.Load(), p.batch)
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			// Log and retry on the next tick.
			slog.Warn("operation feed read failed", "after", p.cursor.Load(), "error", err)
			return true
		}

		for _, c := range ops {
			select {
			case out <- c.Operation:
				p.cursor.Store(c.Seq)
			case <-ctx.Done():
				return false
			}
			slog.Debug("operation emitted",
				"seq", c.Seq,
				"block", c.Operation.BlockNumber,
				"action", string(c.Operation.Action),
			)
		}

		if len(ops) < p.batch {
			return true
		}
	}
}
