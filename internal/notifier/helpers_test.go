package notifier

import (
	"testing"

	"github.com/roach88/opnotify/internal/ir"
	"github.com/roach88/opnotify/internal/testutil"
)

var (
	hashH = ir.MustParseTxHash("0x1111111111111111111111111111111111111111111111111111111111111111")
	hashJ = ir.MustParseTxHash("2222222222222222222222222222222222222222222222222222222222222222")
)

func newTestNotifier(t *testing.T, storage Storage, opts ...Option) *Notifier {
	t.Helper()
	base := []Option{
		WithIDGenerator(testutil.NewSequenceIDGenerator("w")),
		WithSweepInterval(0),
	}
	return New(storage, append(base, opts...)...)
}

// received returns the value waiting on w, if any, without blocking.
func received[T any](w *Waiter[T]) (T, bool) {
	select {
	case v := <-w.C():
		return v, true
	default:
		var zero T
		return zero, false
	}
}

func commitOp(block int64, entities ...ir.ExecutedEntity) *ir.Operation {
	return &ir.Operation{Action: ir.ActionCommit, BlockNumber: block, Entities: entities}
}

func verifyOp(block int64, entities ...ir.ExecutedEntity) *ir.Operation {
	return &ir.Operation{Action: ir.ActionVerify, BlockNumber: block, Entities: entities}
}

func txEntity(hash ir.TxHash, success bool, failReason *string) ir.ExecutedEntity {
	return ir.ExecutedEntity{Tx: &ir.ExecutedTx{Hash: hash, Success: success, FailReason: failReason}}
}

func opEntity(serialID ir.SerialID) ir.ExecutedEntity {
	return ir.ExecutedEntity{PriorityOp: &ir.ExecutedPriorityOp{SerialID: serialID}}
}

func strPtr(s string) *string { return &s }

func int64Ptr(n int64) *int64 { return &n }
