// Package ir holds the data model shared by the notifier, the store and the CLI.
//
// ir imports nothing internal. Everything else imports ir.
//
// Key constraints:
//   - Entity identities never collide across kinds: transactions are keyed by a
//     32-byte hash, priority operations by a 64-bit serial id
//   - Verified implies Committed for the same entity, but the two levels are
//     tracked and waited on independently
//   - All JSON/YAML tags use snake_case
//   - NO float types anywhere; block numbers are int64
package ir
