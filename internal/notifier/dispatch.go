package notifier

import (
	"log/slog"

	"github.com/roach88/opnotify/internal/ir"
)

// dispatch releases every waiter for every entity the operation touched.
// A malformed entity is skipped; the rest of the block is still dispatched.
// CRITICAL: Called only from the run goroutine.
func (n *Notifier) dispatch(op *ir.Operation) {
	if op.Action != ir.ActionCommit && op.Action != ir.ActionVerify {
		slog.Warn("dropping operation with unknown action", "block", op.BlockNumber, "action", string(op.Action))
		return
	}
	level := op.Action.Level()
	txs := n.txRegistry(level)
	ops := n.opRegistry(level)

	for i, e := range op.Entities {
		if err := e.Validate(); err != nil {
			slog.Warn("skipping invalid entity", "block", op.BlockNumber, "index", i, "error", err)
			continue
		}
		switch {
		case e.Tx != nil:
			waiters, ok := txs.drain(e.Tx.Hash)
			if !ok {
				continue
			}
			receipt := ir.TxReceipt{
				TxHash:      e.Tx.Hash.String(),
				BlockNumber: op.BlockNumber,
				Success:     e.Tx.Success,
				FailReason:  e.Tx.FailReason,
				Verified:    op.Action == ir.ActionVerify,
			}
			delivered := deliverAll(waiters, receipt.Clone)
			slog.Debug("tx waiters released",
				"tx_hash", receipt.TxHash,
				"level", level.String(),
				"block", op.BlockNumber,
				"waiters", len(waiters),
				"delivered", delivered,
			)

		case e.PriorityOp != nil:
			waiters, ok := ops.drain(e.PriorityOp.SerialID)
			if !ok {
				continue
			}
			block := op.BlockNumber
			status := ir.PriorityOpStatus{Executed: true, Block: &block}
			delivered := deliverAll(waiters, status.Clone)
			slog.Debug("priority op waiters released",
				"serial_id", uint64(e.PriorityOp.SerialID),
				"level", level.String(),
				"block", op.BlockNumber,
				"waiters", len(waiters),
				"delivered", delivered,
			)
		}
	}
}
