package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/opnotify/internal/ir"
)

// WriteOperation records a block action and the entities it executed in a
// single transaction. The action starts unconfirmed.
//
// Uses ON CONFLICT DO NOTHING throughout, so rewriting the same operation is a
// no-op. Entities are keyed by identity: a verify operation repeating the
// entities of its commit does not duplicate them.
func (s *Store) WriteOperation(ctx context.Context, op ir.Operation) error {
	if err := op.Validate(); err != nil {
		return fmt.Errorf("write operation: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write operation: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	_, err = tx.ExecContext(ctx, `
		INSERT INTO operations (block_number, action_type)
		VALUES (?, ?)
		ON CONFLICT(block_number, action_type) DO NOTHING
	`, op.BlockNumber, string(op.Action))
	if err != nil {
		return fmt.Errorf("write operation: insert action: %w", err)
	}

	for i, e := range op.Entities {
		switch {
		case e.Tx != nil:
			var failReason sql.NullString
			if e.Tx.FailReason != nil {
				failReason = sql.NullString{String: *e.Tx.FailReason, Valid: true}
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO executed_transactions
				(tx_hash, block_number, block_index, success, fail_reason)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT(tx_hash) DO NOTHING
			`, e.Tx.Hash.String(), op.BlockNumber, i, e.Tx.Success, failReason)
			if err != nil {
				return fmt.Errorf("write operation: insert tx %s: %w", e.Tx.Hash, err)
			}
		case e.PriorityOp != nil:
			_, err = tx.ExecContext(ctx, `
				INSERT INTO executed_priority_operations
				(serial_id, block_number, block_index)
				VALUES (?, ?, ?)
				ON CONFLICT(serial_id) DO NOTHING
			`, int64(e.PriorityOp.SerialID), op.BlockNumber, i)
			if err != nil {
				return fmt.Errorf("write operation: insert priority op %d: %w", e.PriorityOp.SerialID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write operation: commit: %w", err)
	}
	return nil
}

// ConfirmOperation marks a stored block action as confirmed and returns its
// confirm_seq. Confirming twice returns the original seq unchanged.
//
// Returns ErrNotFound (wrapped) if the action was never written.
func (s *Store) ConfirmOperation(ctx context.Context, blockNumber int64, action ir.ActionType) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("confirm operation: begin tx: %w", err)
	}
	defer tx.Rollback()

	var (
		id        int64
		confirmed bool
		seq       sql.NullInt64
	)
	err = tx.QueryRowContext(ctx, `
		SELECT id, confirmed, confirm_seq FROM operations
		WHERE block_number = ? AND action_type = ?
	`, blockNumber, string(action)).Scan(&id, &confirmed, &seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("confirm operation %d/%s: %w", blockNumber, action, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("confirm operation: select: %w", err)
	}
	if confirmed {
		return seq.Int64, nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE operations
		SET confirmed = 1,
		    confirm_seq = (SELECT COALESCE(MAX(confirm_seq), 0) + 1 FROM operations)
		WHERE id = ?
	`, id)
	if err != nil {
		return 0, fmt.Errorf("confirm operation: update: %w", err)
	}

	if err := tx.QueryRowContext(ctx, `SELECT confirm_seq FROM operations WHERE id = ?`, id).Scan(&seq); err != nil {
		return 0, fmt.Errorf("confirm operation: read seq: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("confirm operation: commit: %w", err)
	}
	return seq.Int64, nil
}
