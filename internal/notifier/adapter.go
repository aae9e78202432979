package notifier

import (
	"context"
	"log/slog"

	"github.com/roach88/opnotify/internal/ir"
)

// Storage is the read side of the confirmation store.
// Implemented by *store.Store.
type Storage interface {
	TxReceipt(ctx context.Context, hash ir.TxHash) (ir.TxReceipt, error)
	ExecutedPriorityOp(ctx context.Context, serialID ir.SerialID) (ir.ExecutedPriorityOpRecord, error)
	StoredOperation(ctx context.Context, blockNumber int64, action ir.ActionType) (ir.StoredOperation, error)
}

// storeAdapter turns every store failure into "no answer available".
//
// A failing or unreachable store must never stop the loop or reject a
// subscription; the worst outcome is that a waiter is parked when it could
// have been answered at once.
type storeAdapter struct {
	storage Storage
}

func (a storeAdapter) lookupTransaction(ctx context.Context, hash ir.TxHash) (ir.TxReceipt, bool) {
	if a.storage == nil {
		return ir.TxReceipt{}, false
	}
	receipt, err := a.storage.TxReceipt(ctx, hash)
	if err != nil {
		slog.Debug("tx lookup gave no answer", "tx_hash", hash.String(), "error", err)
		return ir.TxReceipt{}, false
	}
	return receipt, true
}

// lookupPriorityOp returns the committed status of an executed priority
// operation and the block it executed in.
func (a storeAdapter) lookupPriorityOp(ctx context.Context, serialID ir.SerialID) (ir.PriorityOpStatus, int64, bool) {
	if a.storage == nil {
		return ir.PriorityOpStatus{}, 0, false
	}
	rec, err := a.storage.ExecutedPriorityOp(ctx, serialID)
	if err != nil {
		slog.Debug("priority op lookup gave no answer", "serial_id", uint64(serialID), "error", err)
		return ir.PriorityOpStatus{}, 0, false
	}
	block := rec.BlockNumber
	return ir.PriorityOpStatus{Executed: true, Block: &block}, block, true
}

// lookupBlockConfirmation reports whether the block's action for level is
// confirmed. ok is false when the store has no answer.
func (a storeAdapter) lookupBlockConfirmation(ctx context.Context, blockNumber int64, level ir.Level) (confirmed bool, ok bool) {
	if a.storage == nil {
		return false, false
	}
	action := ir.ActionCommit
	if level == ir.Verified {
		action = ir.ActionVerify
	}
	op, err := a.storage.StoredOperation(ctx, blockNumber, action)
	if err != nil {
		slog.Debug("block confirmation lookup gave no answer",
			"block", blockNumber,
			"action", string(action),
			"error", err,
		)
		return false, false
	}
	return op.Confirmed, true
}
