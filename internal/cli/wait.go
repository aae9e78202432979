package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/opnotify/internal/config"
	"github.com/roach88/opnotify/internal/feed"
	"github.com/roach88/opnotify/internal/ir"
	"github.com/roach88/opnotify/internal/notifier"
	"github.com/roach88/opnotify/internal/store"
)

// WaitOptions holds flags for the wait command.
type WaitOptions struct {
	*RootOptions
	Database string
	Level    string
	Timeout  time.Duration

	// IDGenerator overrides the waiter ID generator (for testing).
	IDGenerator notifier.IDGenerator
}

// NewWaitCommand creates the wait command and its tx / priority-op
// subcommands.
func NewWaitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WaitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "wait",
		Short: "Block until an entity reaches a confirmation level",
		Long: `Block until a transaction or priority operation is committed or verified.

Answers at once if the store already has the outcome. Otherwise the
notifier tails newly confirmed operations until one releases the waiter.
Exits with code 1 if --timeout passes first.

Examples:
  opnotify wait tx 0x5f1c...e9 --level verified --timeout 2m
  opnotify wait priority-op 7 --db ./opnotify.db --format json`,
	}
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")
	cmd.PersistentFlags().StringVar(&opts.Level, "level", "committed", "confirmation level (committed|verified)")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "give up after this long (0 waits forever)")

	cmd.AddCommand(&cobra.Command{
		Use:           "tx <hash>",
		Short:         "Wait for a transaction",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := ir.ParseTxHash(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid tx hash", err)
			}
			return runWait(opts, cmd, fmt.Sprintf("tx %s", hash), func(ctx context.Context, n *notifier.Notifier, level ir.Level) (any, string, error) {
				w, err := n.SubscribeTx(hash, level)
				if err != nil {
					return nil, "", err
				}
				receipt, err := w.Wait(ctx)
				if err != nil {
					return nil, "", err
				}
				return receipt, describeReceipt(receipt), nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:           "priority-op <serial-id>",
		Short:         "Wait for a priority operation",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			serialID, err := parseSerialID(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid serial id", err)
			}
			return runWait(opts, cmd, fmt.Sprintf("priority op %d", serialID), func(ctx context.Context, n *notifier.Notifier, level ir.Level) (any, string, error) {
				w, err := n.SubscribePriorityOp(serialID, level)
				if err != nil {
					return nil, "", err
				}
				status, err := w.Wait(ctx)
				if err != nil {
					return nil, "", err
				}
				return status, describePriorityOp(serialID, status), nil
			})
		},
	})

	return cmd
}

// awaitFunc subscribes on n and blocks for the outcome.
type awaitFunc func(ctx context.Context, n *notifier.Notifier, level ir.Level) (data any, text string, err error)

func runWait(opts *WaitOptions, cmd *cobra.Command, what string, await awaitFunc) error {
	out := opts.formatter(cmd)

	level, err := ir.ParseLevel(opts.Level)
	if err != nil {
		_ = out.Error(ErrCodeInvalidInput, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid level", err)
	}

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if opts.Database != "" {
		cfg.DB = opts.Database
	}

	st, err := opts.openStore(cfg.DB)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()
	if opts.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	rn, err := startNotifier(ctx, st, cfg, opts.IDGenerator)
	if err != nil {
		return err
	}

	data, text, err := await(rn.ctx, rn.Notifier, level)
	runErr := rn.stop()

	switch {
	case err == nil:
		return out.Success(data, text)
	case errors.Is(err, context.DeadlineExceeded):
		msg := fmt.Sprintf("timed out after %s waiting for %s to be %s", opts.Timeout, what, level)
		_ = out.Error(ErrCodeTimeout, msg, nil)
		return NewExitError(ExitFailure, msg)
	case runErr != nil && !errors.Is(runErr, context.Canceled):
		return WrapExitError(ExitCommandError, "notifier stopped", runErr)
	default:
		return WrapExitError(ExitCommandError, fmt.Sprintf("waiting for %s", what), err)
	}
}

// runningNotifier is a notifier fed by a store poller.
type runningNotifier struct {
	*notifier.Notifier

	// ctx ends when the caller's context ends or the notifier stops early.
	ctx    context.Context
	cancel context.CancelFunc
	done   chan error
}

// startNotifier runs a notifier on st, fed with operations confirmed from
// now on. Earlier confirmations are answered from the store itself.
func startNotifier(parent context.Context, st *store.Store, cfg config.Config, ids notifier.IDGenerator) (*runningNotifier, error) {
	last, err := st.LastConfirmedSeq(parent)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to read confirmation log", err)
	}

	opts := []notifier.Option{
		notifier.WithMaxListeners(cfg.MaxListenersPerEntity),
		notifier.WithSweepInterval(cfg.SweepInterval),
	}
	if ids != nil {
		opts = append(opts, notifier.WithIDGenerator(ids))
	}
	n := notifier.New(st, opts...)

	ctx, cancel := context.WithCancel(parent)
	ops := feed.NewPoller(st, last, cfg.PollInterval).Start(ctx)

	rn := &runningNotifier{Notifier: n, ctx: ctx, cancel: cancel, done: make(chan error, 1)}
	go func() {
		err := n.Run(ctx, ops, nil)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			slog.Error("notifier stopped", "error", err)
		}
		rn.done <- err
		// Unblock waiters if the loop ended on its own.
		cancel()
	}()
	slog.Debug("notifier started", "after_seq", last, "poll_interval", cfg.PollInterval.String())
	return rn, nil
}

// stop cancels the notifier and returns Run's error.
func (rn *runningNotifier) stop() error {
	rn.cancel()
	return <-rn.done
}
