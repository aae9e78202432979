// Package harness runs notifier scenarios end to end and compares their
// traces against golden files.
//
// A scenario seeds a fresh SQLite confirmation store, then feeds the
// notifier a sequence of steps:
//
//	subscribe  register a named waiter for a tx or priority op at a level
//	dispatch   persist, confirm and publish a block operation
//	cancel     abandon a named waiter
//	sweep      prune abandoned waiters
//
// Steps are submitted in order through the notifier's single input queue,
// so the run is deterministic. The resulting trace lists every waiter in
// subscription order with the outcome it received, if any.
package harness
