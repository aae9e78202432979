package cli

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/opnotify/internal/ir"
	"github.com/roach88/opnotify/internal/store"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	Database string
}

// PriorityOpStatusResult is the status priority-op JSON payload.
type PriorityOpStatusResult struct {
	SerialID ir.SerialID `json:"serial_id"`
	Executed bool        `json:"executed"`
	Block    *int64      `json:"block"`
	Verified bool        `json:"verified"`
}

// NewStatusCommand creates the status command and its tx / priority-op
// subcommands.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show what the confirmation store knows about an entity",
		Long: `Show what the confirmation store knows about an entity, without waiting.

Exits with code 1 if the entity has not been executed yet.

Examples:
  opnotify status tx 0x5f1c...e9 --db ./opnotify.db
  opnotify status priority-op 7 --db ./opnotify.db --format json`,
	}
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")

	cmd.AddCommand(&cobra.Command{
		Use:           "tx <hash>",
		Short:         "Show a transaction receipt",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatusTx(opts, args[0], cmd)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:           "priority-op <serial-id>",
		Short:         "Show a priority operation's execution status",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatusPriorityOp(opts, args[0], cmd)
		},
	})

	return cmd
}

func runStatusTx(opts *StatusOptions, hashArg string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	hash, err := ir.ParseTxHash(hashArg)
	if err != nil {
		_ = out.Error(ErrCodeInvalidInput, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid tx hash", err)
	}

	st, err := opts.openStore(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	receipt, err := st.TxReceipt(commandContext(cmd), hash)
	if errors.Is(err, store.ErrNotFound) {
		msg := fmt.Sprintf("tx %s has not been executed", hash)
		_ = out.Error(ErrCodeNotFound, msg, nil)
		return NewExitError(ExitFailure, msg)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read receipt", err)
	}

	return out.Success(receipt, describeReceipt(receipt))
}

func runStatusPriorityOp(opts *StatusOptions, idArg string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	serialID, err := parseSerialID(idArg)
	if err != nil {
		_ = out.Error(ErrCodeInvalidInput, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid serial id", err)
	}

	st, err := opts.openStore(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := commandContext(cmd)
	rec, err := st.ExecutedPriorityOp(ctx, serialID)
	if errors.Is(err, store.ErrNotFound) {
		msg := fmt.Sprintf("priority op %d has not been executed", serialID)
		_ = out.Error(ErrCodeNotFound, msg, nil)
		return NewExitError(ExitFailure, msg)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read priority op", err)
	}

	result := PriorityOpStatusResult{SerialID: serialID, Executed: true, Block: &rec.BlockNumber}
	verify, err := st.StoredOperation(ctx, rec.BlockNumber, ir.ActionVerify)
	switch {
	case err == nil:
		result.Verified = verify.Confirmed
	case !errors.Is(err, store.ErrNotFound):
		return WrapExitError(ExitCommandError, "failed to read block verification", err)
	}

	text := describePriorityOp(serialID, ir.PriorityOpStatus{Executed: true, Block: result.Block})
	if result.Verified {
		text += ", verified"
	}
	return out.Success(result, text)
}

// parseSerialID parses a decimal priority operation serial id.
func parseSerialID(s string) (ir.SerialID, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid serial id %q", s)
	}
	return ir.SerialID(n), nil
}

func describeReceipt(r ir.TxReceipt) string {
	level := ir.Committed
	if r.Verified {
		level = ir.Verified
	}
	outcome := "success"
	if !r.Success {
		outcome = "failed"
		if r.FailReason != nil {
			outcome += ": " + *r.FailReason
		}
	}
	return fmt.Sprintf("tx 0x%s %s in block %d (%s)", r.TxHash, level, r.BlockNumber, outcome)
}

func describePriorityOp(serialID ir.SerialID, s ir.PriorityOpStatus) string {
	if !s.Executed || s.Block == nil {
		return fmt.Sprintf("priority op %d not executed", serialID)
	}
	return fmt.Sprintf("priority op %d executed in block %d", serialID, *s.Block)
}
