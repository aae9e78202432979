package notifier

import (
	"github.com/roach88/opnotify/internal/ir"
)

// EntityKind distinguishes the two kinds of waitable entity.
type EntityKind int

const (
	// KindTx is a transaction, keyed by hash.
	KindTx EntityKind = iota + 1
	// KindPriorityOp is a priority operation, keyed by serial id.
	KindPriorityOp
)

func (k EntityKind) String() string {
	switch k {
	case KindTx:
		return "tx"
	case KindPriorityOp:
		return "priority_op"
	default:
		return "unknown"
	}
}

// Subscription asks to be told when an entity reaches a level.
// Build one with TxSubscription or PriorityOpSubscription.
type Subscription struct {
	Kind     EntityKind
	TxHash   ir.TxHash
	SerialID ir.SerialID
	Level    ir.Level

	txWaiter *Waiter[ir.TxReceipt]
	opWaiter *Waiter[ir.PriorityOpStatus]
}

// TxSubscription subscribes w to transaction hash at level.
func TxSubscription(hash ir.TxHash, level ir.Level, w *Waiter[ir.TxReceipt]) Subscription {
	return Subscription{Kind: KindTx, TxHash: hash, Level: level, txWaiter: w}
}

// PriorityOpSubscription subscribes w to priority operation serialID at level.
func PriorityOpSubscription(serialID ir.SerialID, level ir.Level, w *Waiter[ir.PriorityOpStatus]) Subscription {
	return Subscription{Kind: KindPriorityOp, SerialID: serialID, Level: level, opWaiter: w}
}

// WaiterID returns the ID of the subscription's waiter, or "" if it has none.
func (s Subscription) WaiterID() string {
	switch {
	case s.Kind == KindTx && s.txWaiter != nil:
		return s.txWaiter.ID()
	case s.Kind == KindPriorityOp && s.opWaiter != nil:
		return s.opWaiter.ID()
	default:
		return ""
	}
}

// claim marks the subscription's waiter as submitted.
func (s Subscription) claim() bool {
	if s.Kind == KindTx {
		return s.txWaiter.claim()
	}
	return s.opWaiter.claim()
}

// Validate returns a *SubscriptionError if the subscription can never resolve.
func (s Subscription) Validate() error {
	switch s.Kind {
	case KindTx:
		if s.txWaiter == nil {
			return &SubscriptionError{Code: ErrCodeMissingWaiter, Message: "tx subscription has no waiter"}
		}
	case KindPriorityOp:
		if s.opWaiter == nil {
			return &SubscriptionError{Code: ErrCodeMissingWaiter, Message: "priority op subscription has no waiter"}
		}
	default:
		return &SubscriptionError{Code: ErrCodeInvalidKind, Message: "unknown entity kind"}
	}
	if !s.Level.Valid() {
		return &SubscriptionError{
			Code:     ErrCodeInvalidLevel,
			Message:  "level must be committed or verified, got " + s.Level.String(),
			WaiterID: s.WaiterID(),
		}
	}
	return nil
}
