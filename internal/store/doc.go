// Package store provides the SQLite-backed confirmation store.
//
// The store records which blocks have been committed and verified and which
// entities each block executed:
//   - Operations: one row per (block_number, action_type), with a confirmed flag
//   - Executed transactions: receipt fields keyed by tx hash
//   - Executed priority operations: block number keyed by serial id
//
// The notifier only reads from the store. Writers are the record/confirm CLI
// commands and whatever upstream component persists blocks.
//
// # Ordering
//
// Confirming an operation stamps it with confirm_seq, a strictly increasing
// counter. Feeds tail confirmed operations by confirm_seq, never by wall
// time, so a restarted poller resumes in the same order.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
