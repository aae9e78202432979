package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/roach88/opnotify/internal/ir"
)

// ConfirmedOperation is an operation read back from the confirmation log.
type ConfirmedOperation struct {
	Seq       int64
	Operation ir.Operation
}

// TxReceipt returns the stored receipt for a transaction.
// Verified is true when the VERIFY action of the receipt's block is confirmed.
//
// Returns ErrNotFound (wrapped) if the transaction was never executed.
func (s *Store) TxReceipt(ctx context.Context, hash ir.TxHash) (ir.TxReceipt, error) {
	var (
		receipt    ir.TxReceipt
		failReason sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT t.tx_hash, t.block_number, t.success, t.fail_reason,
		       EXISTS (
		           SELECT 1 FROM operations o
		           WHERE o.block_number = t.block_number
		             AND o.action_type = 'VERIFY'
		             AND o.confirmed = 1
		       )
		FROM executed_transactions t
		WHERE t.tx_hash = ?
	`, hash.String()).Scan(&receipt.TxHash, &receipt.BlockNumber, &receipt.Success, &failReason, &receipt.Verified)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.TxReceipt{}, fmt.Errorf("tx receipt %s: %w", hash, ErrNotFound)
	}
	if err != nil {
		return ir.TxReceipt{}, fmt.Errorf("tx receipt %s: %w", hash, err)
	}
	if failReason.Valid {
		reason := failReason.String
		receipt.FailReason = &reason
	}
	return receipt, nil
}

// ExecutedPriorityOp returns the execution record of a priority operation.
//
// Returns ErrNotFound (wrapped) if the operation was never executed.
func (s *Store) ExecutedPriorityOp(ctx context.Context, serialID ir.SerialID) (ir.ExecutedPriorityOpRecord, error) {
	var (
		rec ir.ExecutedPriorityOpRecord
		id  int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT serial_id, block_number FROM executed_priority_operations
		WHERE serial_id = ?
	`, int64(serialID)).Scan(&id, &rec.BlockNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.ExecutedPriorityOpRecord{}, fmt.Errorf("priority op %d: %w", serialID, ErrNotFound)
	}
	if err != nil {
		return ir.ExecutedPriorityOpRecord{}, fmt.Errorf("priority op %d: %w", serialID, err)
	}
	rec.SerialID = ir.SerialID(id)
	return rec, nil
}

// StoredOperation returns the stored state of one block action.
//
// Returns ErrNotFound (wrapped) if the action was never written.
func (s *Store) StoredOperation(ctx context.Context, blockNumber int64, action ir.ActionType) (ir.StoredOperation, error) {
	var (
		op  ir.StoredOperation
		act string
		seq sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT block_number, action_type, confirmed, confirm_seq FROM operations
		WHERE block_number = ? AND action_type = ?
	`, blockNumber, string(action)).Scan(&op.BlockNumber, &act, &op.Confirmed, &seq)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.StoredOperation{}, fmt.Errorf("operation %d/%s: %w", blockNumber, action, ErrNotFound)
	}
	if err != nil {
		return ir.StoredOperation{}, fmt.Errorf("operation %d/%s: %w", blockNumber, action, err)
	}
	op.Action = ir.ActionType(act)
	op.Seq = seq.Int64
	return op, nil
}

// LastConfirmedSeq returns the highest confirm_seq, or 0 if nothing is confirmed.
func (s *Store) LastConfirmedSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(confirm_seq), 0) FROM operations`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("last confirmed seq: %w", err)
	}
	return seq, nil
}

// ReadOperationsAfter returns up to limit confirmed operations with
// confirm_seq > after, ordered by confirm_seq ASC. Entities are returned in
// block order.
//
// Returns an empty slice (not nil) if nothing new is confirmed.
func (s *Store) ReadOperationsAfter(ctx context.Context, after int64, limit int) ([]ConfirmedOperation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT confirm_seq, block_number, action_type FROM operations
		WHERE confirmed = 1 AND confirm_seq > ?
		ORDER BY confirm_seq ASC
		LIMIT ?
	`, after, limit)
	if err != nil {
		return nil, fmt.Errorf("query operations: %w", err)
	}

	ops := []ConfirmedOperation{}
	for rows.Next() {
		var (
			c   ConfirmedOperation
			act string
		)
		if err := rows.Scan(&c.Seq, &c.Operation.BlockNumber, &act); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		c.Operation.Action = ir.ActionType(act)
		ops = append(ops, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate operations: %w", err)
	}
	// Single connection pool: rows must be released before the entity queries.
	rows.Close()

	for i := range ops {
		entities, err := s.readEntities(ctx, ops[i].Operation.BlockNumber)
		if err != nil {
			return nil, err
		}
		ops[i].Operation.Entities = entities
	}
	return ops, nil
}

type indexedEntity struct {
	index  int64
	entity ir.ExecutedEntity
}

// readEntities loads the executed entities of a block in block_index order.
func (s *Store) readEntities(ctx context.Context, blockNumber int64) ([]ir.ExecutedEntity, error) {
	var all []indexedEntity

	txRows, err := s.db.QueryContext(ctx, `
		SELECT block_index, tx_hash, success, fail_reason FROM executed_transactions
		WHERE block_number = ?
	`, blockNumber)
	if err != nil {
		return nil, fmt.Errorf("query block %d transactions: %w", blockNumber, err)
	}
	for txRows.Next() {
		var (
			idx        int64
			hashHex    string
			success    bool
			failReason sql.NullString
		)
		if err := txRows.Scan(&idx, &hashHex, &success, &failReason); err != nil {
			txRows.Close()
			return nil, fmt.Errorf("scan block %d transaction: %w", blockNumber, err)
		}
		hash, err := ir.ParseTxHash(hashHex)
		if err != nil {
			txRows.Close()
			return nil, fmt.Errorf("block %d: %w", blockNumber, err)
		}
		etx := &ir.ExecutedTx{Hash: hash, Success: success}
		if failReason.Valid {
			reason := failReason.String
			etx.FailReason = &reason
		}
		all = append(all, indexedEntity{index: idx, entity: ir.ExecutedEntity{Tx: etx}})
	}
	if err := txRows.Err(); err != nil {
		txRows.Close()
		return nil, fmt.Errorf("iterate block %d transactions: %w", blockNumber, err)
	}
	txRows.Close()

	opRows, err := s.db.QueryContext(ctx, `
		SELECT block_index, serial_id FROM executed_priority_operations
		WHERE block_number = ?
	`, blockNumber)
	if err != nil {
		return nil, fmt.Errorf("query block %d priority ops: %w", blockNumber, err)
	}
	for opRows.Next() {
		var idx, serial int64
		if err := opRows.Scan(&idx, &serial); err != nil {
			opRows.Close()
			return nil, fmt.Errorf("scan block %d priority op: %w", blockNumber, err)
		}
		all = append(all, indexedEntity{
			index:  idx,
			entity: ir.ExecutedEntity{PriorityOp: &ir.ExecutedPriorityOp{SerialID: ir.SerialID(serial)}},
		})
	}
	if err := opRows.Err(); err != nil {
		opRows.Close()
		return nil, fmt.Errorf("iterate block %d priority ops: %w", blockNumber, err)
	}
	opRows.Close()

	sort.SliceStable(all, func(i, j int) bool { return all[i].index < all[j].index })

	entities := make([]ir.ExecutedEntity, len(all))
	for i, e := range all {
		entities[i] = e.entity
	}
	return entities, nil
}
