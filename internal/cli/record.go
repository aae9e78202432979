package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/opnotify/internal/ir"
	"github.com/roach88/opnotify/internal/store"
)

// RecordOptions holds flags for the record command.
type RecordOptions struct {
	*RootOptions
	Database string
	Confirm  bool
}

// RecordResult is the record command's JSON payload.
type RecordResult struct {
	Action      ir.ActionType `json:"action"`
	BlockNumber int64         `json:"block_number"`
	Entities    int           `json:"entities"`
	Confirmed   bool          `json:"confirmed"`
	Seq         int64         `json:"seq,omitempty"`
}

// NewRecordCommand creates the record command.
func NewRecordCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecordOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "record <operation-file>",
		Short: "Write a block operation to the confirmation store",
		Long: `Write a block operation and the entities it executed to the store.

The operation file is YAML, JSON, or CUE. CUE files are checked against the
built-in #Operation schema. The operation is stored unconfirmed unless
--confirm is given.

Example:
  opnotify record --db ./opnotify.db block-10-commit.yaml --confirm
  opnotify record --db ./opnotify.db block-10-verify.cue`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecord(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")
	cmd.Flags().BoolVar(&opts.Confirm, "confirm", false, "mark the operation confirmed after writing it")

	return cmd
}

func runRecord(opts *RecordOptions, path string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	op, err := LoadOperation(path)
	if err != nil {
		var loadErr *LoadError
		if errors.As(err, &loadErr) {
			_ = out.Error(loadErr.Code, loadErr.Error(), nil)
		}
		return WrapExitError(ExitCommandError, "failed to load operation", err)
	}

	st, err := opts.openStore(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := commandContext(cmd)
	if err := st.WriteOperation(ctx, op); err != nil {
		return WrapExitError(ExitCommandError, "failed to write operation", err)
	}
	slog.Debug("operation recorded", "block", op.BlockNumber, "action", string(op.Action), "entities", len(op.Entities))

	result := RecordResult{
		Action:      op.Action,
		BlockNumber: op.BlockNumber,
		Entities:    len(op.Entities),
	}
	text := fmt.Sprintf("Recorded %s for block %d (%d entities)", op.Action, op.BlockNumber, len(op.Entities))

	if opts.Confirm {
		seq, err := st.ConfirmOperation(ctx, op.BlockNumber, op.Action)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to confirm operation", err)
		}
		result.Confirmed = true
		result.Seq = seq
		text += fmt.Sprintf(", confirmed as seq %d", seq)
	}

	return out.Success(result, text)
}

// openStore opens the database named by flag, or the configured one.
func (o *RootOptions) openStore(flag string) (*store.Store, error) {
	path := flag
	if path == "" {
		cfg, err := o.loadConfig()
		if err != nil {
			return nil, err
		}
		path = cfg.DB
	}
	slog.Debug("opening database", "path", path)
	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

// commandContext returns the command's context, or Background when the
// command was executed without one.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
