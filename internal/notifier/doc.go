// Package notifier lets callers wait for a transaction or priority operation
// to reach the committed or verified level without polling.
//
// ARCHITECTURE:
//
// Single-Owner Event Loop:
// Both input feeds (newly confirmed operations and new subscriptions) are
// pumped into one FIFO queue. Run() dequeues inputs one at a time, so the
// waiter registries and the store adapter are only ever touched from the
// run goroutine. The registries carry no locks of their own.
//
// Subscription Flow:
//  1. Query the store for the entity's current status
//  2. If the status satisfies the requested level, deliver at once
//  3. Otherwise park the waiter in the bucket for (entity, level)
//
// Steps 1 and 3 are not atomic with respect to dispatch. That is safe only
// because no dispatch is processed between them: the loop finishes one input
// before dequeuing the next. Do not move either step off the run goroutine.
//
// Dispatch Flow:
// For every entity of a confirmed operation, in block order, the matching
// bucket is removed from its registry and every waiter in it receives the
// same outcome.
//
// DEGRADED CONDITIONS:
//   - Store errors are treated as "not confirmed yet"; the waiter is parked
//   - A bucket holding MaxListenersPerEntity waiters drops new waiters
//   - Delivery to a cancelled waiter is a no-op
//
// All of these leave the caller waiting; callers bound their wait with a
// context. Cancelled waiters are pruned by the periodic sweep.
package notifier
