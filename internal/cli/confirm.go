package cli

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/opnotify/internal/ir"
	"github.com/roach88/opnotify/internal/store"
)

// ConfirmOptions holds flags for the confirm command.
type ConfirmOptions struct {
	*RootOptions
	Database string
}

// ConfirmResult is the confirm command's JSON payload.
type ConfirmResult struct {
	Action      ir.ActionType `json:"action"`
	BlockNumber int64         `json:"block_number"`
	Seq         int64         `json:"seq"`
}

// NewConfirmCommand creates the confirm command.
func NewConfirmCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ConfirmOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "confirm <block> <commit|verify>",
		Short: "Mark a recorded block operation as confirmed",
		Long: `Mark a recorded block operation as confirmed.

Confirmed operations are picked up by running notifiers (wait, serve) and
released to their waiters. Confirming twice is a no-op.

Example:
  opnotify confirm --db ./opnotify.db 10 verify`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfirm(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")

	return cmd
}

func runConfirm(opts *ConfirmOptions, blockArg, actionArg string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	block, err := strconv.ParseInt(blockArg, 10, 64)
	if err != nil || block < 0 {
		_ = out.Error(ErrCodeInvalidInput, fmt.Sprintf("invalid block number %q", blockArg), nil)
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid block number %q", blockArg))
	}
	action, err := ir.ParseActionType(actionArg)
	if err != nil {
		_ = out.Error(ErrCodeInvalidInput, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid action", err)
	}

	st, err := opts.openStore(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	seq, err := st.ConfirmOperation(commandContext(cmd), block, action)
	if errors.Is(err, store.ErrNotFound) {
		msg := fmt.Sprintf("no %s operation recorded for block %d", action, block)
		_ = out.Error(ErrCodeNotFound, msg, nil)
		return WrapExitError(ExitCommandError, msg, err)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to confirm operation", err)
	}

	return out.Success(
		ConfirmResult{Action: action, BlockNumber: block, Seq: seq},
		fmt.Sprintf("Confirmed %s for block %d (seq %d)", action, block, seq),
	)
}
