package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/opnotify/internal/ir"
	"github.com/roach88/opnotify/internal/notifier"
	"github.com/roach88/opnotify/internal/store"
	"github.com/roach88/opnotify/internal/testutil"
)

// runTimeout bounds a whole scenario run.
const runTimeout = 10 * time.Second

// TraceEntry records what happened to one waiter.
type TraceEntry struct {
	Waiter    string         `json:"waiter"`
	Kind      string         `json:"kind"`
	ID        string         `json:"id"`
	Level     string         `json:"level"`
	Delivered bool           `json:"delivered"`
	Outcome   map[string]any `json:"outcome,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every assertion held.
	Pass bool `json:"pass"`

	// Trace lists every waiter in subscription order.
	Trace []TraceEntry `json:"trace"`

	// Pending is the number of waiters still parked when the run ended.
	Pending int `json:"pending"`

	// Errors contains assertion failure messages.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEntry{},
		Errors: []string{},
	}
}

// AddError adds an assertion failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// subscribed is a waiter created by a subscribe step.
type subscribed struct {
	step   *SubscribeStep
	cancel func()
	// collect returns the delivered outcome, if any, without blocking.
	collect func() (map[string]any, bool)
}

// Harness executes one scenario against a notifier and store.
type Harness struct {
	store    *store.Store
	notifier *notifier.Notifier
	logger   *slog.Logger
	waiters  map[string]*subscribed
	order    []string
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
//
// Execution flow:
//  1. Create fresh in-memory database and write the seed operations
//  2. Start the notifier with no upstream feeds
//  3. Submit every step in order
//  4. Stop the notifier once the queue drains
//  5. Collect outcomes and evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	for i, seed := range scenario.Seed {
		if err := persist(ctx, st, seed.Operation, seed.Confirm); err != nil {
			return nil, fmt.Errorf("seed[%d]: %w", i, err)
		}
	}

	opts := []notifier.Option{
		notifier.WithIDGenerator(testutil.NewSequenceIDGenerator("waiter")),
		notifier.WithSweepInterval(0),
	}
	if scenario.MaxListeners > 0 {
		opts = append(opts, notifier.WithMaxListeners(scenario.MaxListeners))
	}

	h := &Harness{
		store:    st,
		notifier: notifier.New(st, opts...),
		logger:   slog.Default().With("component", "harness"),
		waiters:  make(map[string]*subscribed),
	}

	runErr := make(chan error, 1)
	go func() { runErr <- h.notifier.Run(ctx, nil, nil) }()

	for i, step := range scenario.Steps {
		if err := h.execute(ctx, step); err != nil {
			h.notifier.Stop()
			<-runErr
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	stats, err := h.notifier.Stats(ctx)
	if err != nil {
		h.notifier.Stop()
		<-runErr
		return nil, fmt.Errorf("failed to read notifier stats: %w", err)
	}
	h.notifier.Stop()
	if err := <-runErr; err != nil {
		return nil, fmt.Errorf("notifier: %w", err)
	}

	result := NewResult()
	result.Pending = stats.Pending()
	for _, name := range h.order {
		result.Trace = append(result.Trace, h.traceEntry(name))
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	h.logger.Debug("scenario finished", "name", scenario.Name, "pass", result.Pass)

	return result, nil
}

// execute submits one step to the notifier.
func (h *Harness) execute(ctx context.Context, step Step) error {
	switch {
	case step.Subscribe != nil:
		return h.subscribe(step.Subscribe)

	case step.Dispatch != nil:
		// Earlier subscriptions must resolve before the store changes under them.
		if err := h.settle(ctx); err != nil {
			return err
		}
		if err := persist(ctx, h.store, *step.Dispatch, true); err != nil {
			return err
		}
		return h.notifier.Publish(*step.Dispatch)

	case step.Cancel != "":
		w, ok := h.waiters[step.Cancel]
		if !ok {
			return fmt.Errorf("unknown waiter %q", step.Cancel)
		}
		if err := h.settle(ctx); err != nil {
			return err
		}
		w.cancel()
		return nil

	case step.Sweep:
		return h.notifier.Sweep()
	}
	return errors.New("empty step")
}

// settle blocks until every input submitted so far has been processed.
// Stats requests travel through the same queue, so the reply is a barrier.
func (h *Harness) settle(ctx context.Context) error {
	_, err := h.notifier.Stats(ctx)
	return err
}

func (h *Harness) subscribe(step *SubscribeStep) error {
	s := &subscribed{step: step}

	var sub notifier.Subscription
	if step.Tx != nil {
		w := notifier.NewWaiter[ir.TxReceipt](step.Waiter)
		sub = notifier.TxSubscription(*step.Tx, step.Level, w)
		s.cancel = w.Cancel
		s.collect = func() (map[string]any, bool) {
			select {
			case r := <-w.C():
				return r.CanonicalMap(), true
			default:
				return nil, false
			}
		}
	} else {
		w := notifier.NewWaiter[ir.PriorityOpStatus](step.Waiter)
		sub = notifier.PriorityOpSubscription(*step.PriorityOp, step.Level, w)
		s.cancel = w.Cancel
		s.collect = func() (map[string]any, bool) {
			select {
			case st := <-w.C():
				return st.CanonicalMap(), true
			default:
				return nil, false
			}
		}
	}

	if err := h.notifier.Subscribe(sub); err != nil {
		return err
	}
	h.waiters[step.Waiter] = s
	h.order = append(h.order, step.Waiter)
	return nil
}

func (h *Harness) traceEntry(name string) TraceEntry {
	s := h.waiters[name]
	entry := TraceEntry{
		Waiter: name,
		Level:  s.step.Level.String(),
	}
	if s.step.Tx != nil {
		entry.Kind = notifier.KindTx.String()
		entry.ID = s.step.Tx.String()
	} else {
		entry.Kind = notifier.KindPriorityOp.String()
		entry.ID = fmt.Sprint(uint64(*s.step.PriorityOp))
	}
	entry.Outcome, entry.Delivered = s.collect()
	return entry
}

// persist writes op and optionally confirms it.
func persist(ctx context.Context, st *store.Store, op ir.Operation, confirm bool) error {
	if err := st.WriteOperation(ctx, op); err != nil {
		return err
	}
	if !confirm {
		return nil
	}
	_, err := st.ConfirmOperation(ctx, op.BlockNumber, op.Action)
	return err
}
