package notifier

import (
	"context"
	"log/slog"

	"github.com/roach88/opnotify/internal/ir"
)

// resolve answers a subscription from the store or parks its waiter.
// CRITICAL: Called only from the run goroutine. The store read and the
// registration below must not be separated by any other input.
func (n *Notifier) resolve(ctx context.Context, sub *Subscription) {
	if err := sub.Validate(); err != nil {
		slog.Warn("dropping invalid subscription", "error", err)
		return
	}

	switch sub.Kind {
	case KindTx:
		n.resolveTx(ctx, sub.TxHash, sub.Level, sub.txWaiter)
	case KindPriorityOp:
		n.resolvePriorityOp(ctx, sub.SerialID, sub.Level, sub.opWaiter)
	}
}

func (n *Notifier) resolveTx(ctx context.Context, hash ir.TxHash, level ir.Level, w *Waiter[ir.TxReceipt]) {
	// Maybe the tx was executed already.
	if receipt, ok := n.adapter.lookupTransaction(ctx, hash); ok {
		if level == ir.Committed || receipt.Verified {
			w.deliver(receipt)
			slog.Debug("subscription answered from store",
				"waiter", w.ID(),
				"tx_hash", receipt.TxHash,
				"level", level.String(),
				"block", receipt.BlockNumber,
			)
			return
		}
	}

	if !n.txRegistry(level).tryRegister(hash, w) {
		slog.Warn("listener limit reached, dropping subscription",
			"waiter", w.ID(),
			"tx_hash", hash.String(),
			"level", level.String(),
			"limit", n.maxListeners,
		)
		return
	}
	slog.Debug("subscription parked", "waiter", w.ID(), "tx_hash", hash.String(), "level", level.String())
}

func (n *Notifier) resolvePriorityOp(ctx context.Context, serialID ir.SerialID, level ir.Level, w *Waiter[ir.PriorityOpStatus]) {
	if status, block, ok := n.adapter.lookupPriorityOp(ctx, serialID); ok {
		answered := level == ir.Committed
		if !answered {
			// Executed is not enough for Verified: the block's verify must be confirmed.
			confirmed, ok := n.adapter.lookupBlockConfirmation(ctx, block, ir.Verified)
			answered = ok && confirmed
		}
		if answered {
			w.deliver(status)
			slog.Debug("subscription answered from store",
				"waiter", w.ID(),
				"serial_id", uint64(serialID),
				"level", level.String(),
				"block", block,
			)
			return
		}
	}

	if !n.opRegistry(level).tryRegister(serialID, w) {
		slog.Warn("listener limit reached, dropping subscription",
			"waiter", w.ID(),
			"serial_id", uint64(serialID),
			"level", level.String(),
			"limit", n.maxListeners,
		)
		return
	}
	slog.Debug("subscription parked", "waiter", w.ID(), "serial_id", uint64(serialID), "level", level.String())
}
