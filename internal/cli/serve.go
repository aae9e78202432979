package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/opnotify/internal/ir"
	"github.com/roach88/opnotify/internal/notifier"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Database    string
	Level       string
	Txs         []string
	PriorityOps []string

	// IDGenerator overrides the waiter ID generator (for testing).
	IDGenerator notifier.IDGenerator
}

// Outcome is one released waiter, as printed by serve.
type Outcome struct {
	Waiter     string               `json:"waiter"`
	Kind       string               `json:"kind"`
	ID         string               `json:"id"`
	Receipt    *ir.TxReceipt        `json:"receipt,omitempty"`
	PriorityOp *ir.PriorityOpStatus `json:"priority_op,omitempty"`
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the notifier against the confirmation store",
		Long: `Run the notifier, tailing newly confirmed operations from the store.

Each --tx and --priority-op registers a waiter at --level. Outcomes are
printed as they are released (one JSON document per line with
--format json). serve exits once every waiter is answered, or on
Ctrl-C. With no waiters it runs until interrupted, logging dispatches
with --verbose.

Example:
  opnotify serve --db ./opnotify.db --level verified --tx 0x5f1c...e9 --priority-op 7`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")
	cmd.Flags().StringVar(&opts.Level, "level", "committed", "confirmation level (committed|verified)")
	cmd.Flags().StringSliceVar(&opts.Txs, "tx", nil, "transaction hash to wait for (repeatable)")
	cmd.Flags().StringSliceVar(&opts.PriorityOps, "priority-op", nil, "priority operation serial id to wait for (repeatable)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	level, err := ir.ParseLevel(opts.Level)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid level", err)
	}
	hashes := make([]ir.TxHash, 0, len(opts.Txs))
	for _, s := range opts.Txs {
		h, err := ir.ParseTxHash(s)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --tx", err)
		}
		hashes = append(hashes, h)
	}
	serials := make([]ir.SerialID, 0, len(opts.PriorityOps))
	for _, s := range opts.PriorityOps {
		id, err := parseSerialID(s)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --priority-op", err)
		}
		serials = append(serials, id)
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
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	rn, err := startNotifier(ctx, st, cfg, opts.IDGenerator)
	if err != nil {
		return err
	}

	outcomes := make(chan Outcome)
	var wg sync.WaitGroup
	for _, h := range hashes {
		h := h
		w, err := rn.SubscribeTx(h, level)
		if err != nil {
			rn.stop()
			return WrapExitError(ExitCommandError, "failed to subscribe", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if receipt, err := w.Wait(rn.ctx); err == nil {
				rn.send(outcomes, Outcome{Waiter: w.ID(), Kind: notifier.KindTx.String(), ID: h.String(), Receipt: &receipt})
			}
		}()
	}
	for _, id := range serials {
		id := id
		w, err := rn.SubscribePriorityOp(id, level)
		if err != nil {
			rn.stop()
			return WrapExitError(ExitCommandError, "failed to subscribe", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if status, err := w.Wait(rn.ctx); err == nil {
				rn.send(outcomes, Outcome{Waiter: w.ID(), Kind: notifier.KindPriorityOp.String(), ID: fmt.Sprint(uint64(id)), PriorityOp: &status})
			}
		}()
	}

	watching := len(hashes) + len(serials)
	slog.Info("notifier serving", "db", cfg.DB, "level", level.String(), "waiters", watching)
	if watching == 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), "Notifier running. Press Ctrl-C to stop.")
	}

	allDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(allDone)
	}()
	// With nothing to watch, only a signal or a notifier failure ends serve.
	var finished <-chan struct{} = allDone
	if watching == 0 {
		finished = nil
	}

	answered := 0
loop:
	for {
		select {
		case o := <-outcomes:
			answered++
			if err := printOutcome(opts, cmd, o); err != nil {
				rn.stop()
				return err
			}
		case <-finished:
			break loop
		case <-rn.ctx.Done():
			break loop
		}
	}

	runErr := rn.stop()
	<-allDone
	if answered < watching {
		slog.Info("notifier stopped with waiters pending", "pending", watching-answered)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return WrapExitError(ExitFailure, "notifier error", runErr)
	}
	slog.Info("notifier stopped gracefully")
	return nil
}

// send hands o to the printer unless the notifier is shutting down.
func (rn *runningNotifier) send(out chan<- Outcome, o Outcome) {
	select {
	case out <- o:
	case <-rn.ctx.Done():
	}
}

func printOutcome(opts *ServeOptions, cmd *cobra.Command, o Outcome) error {
	if opts.Format == "json" {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(o)
	}
	var text string
	if o.Receipt != nil {
		text = describeReceipt(*o.Receipt)
	} else {
		id, _ := parseSerialID(o.ID)
		text = describePriorityOp(id, *o.PriorityOp)
	}
	_, err := fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s\n", o.Waiter, text)
	return err
}
