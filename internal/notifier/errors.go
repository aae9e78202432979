package notifier

import (
	"errors"
	"fmt"
)

var (
	// ErrFeedClosed is returned by Run when one of its input feeds ends.
	ErrFeedClosed = errors.New("input feed closed")

	// ErrStopped is returned when submitting to a notifier whose queue is closed.
	ErrStopped = errors.New("notifier stopped")

	// ErrWaiterReused is the panic value (wrapped) when a waiter is delivered to twice.
	ErrWaiterReused = errors.New("waiter delivered twice")

	// ErrInvalidOperation is returned (wrapped) by Publish for a malformed operation.
	ErrInvalidOperation = errors.New("invalid operation")
)

// SubscriptionErrorCode categorizes malformed subscriptions.
type SubscriptionErrorCode string

const (
	// ErrCodeInvalidKind indicates the subscription names no entity kind.
	ErrCodeInvalidKind SubscriptionErrorCode = "INVALID_KIND"

	// ErrCodeInvalidLevel indicates the level is neither committed nor verified.
	ErrCodeInvalidLevel SubscriptionErrorCode = "INVALID_LEVEL"

	// ErrCodeMissingWaiter indicates the subscription carries no waiter to deliver to.
	ErrCodeMissingWaiter SubscriptionErrorCode = "MISSING_WAITER"

	// ErrCodeWaiterSubmitted indicates the waiter was already passed to Subscribe.
	ErrCodeWaiterSubmitted SubscriptionErrorCode = "WAITER_SUBMITTED"
)

// SubscriptionError reports a subscription that can never be resolved.
type SubscriptionError struct {
	Code     SubscriptionErrorCode
	Message  string
	WaiterID string
}

// Error implements the error interface.
func (e *SubscriptionError) Error() string {
	if e.WaiterID != "" {
		return fmt.Sprintf("%s: %s (waiter=%s)", e.Code, e.Message, e.WaiterID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsInvalidSubscription returns true if err is (or wraps) a SubscriptionError.
func IsInvalidSubscription(err error) bool {
	var se *SubscriptionError
	return errors.As(err, &se)
}
