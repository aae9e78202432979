package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/opnotify/internal/ir"
	"github.com/roach88/opnotify/internal/store"
)

type opKey struct {
	block  int64
	action ir.ActionType
}

// FakeStorage is an in-memory confirmation store for notifier tests.
//
// Unknown keys return store.ErrNotFound, like the SQLite store. Err, when
// set, is returned by every lookup.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FakeStorage struct {
	mu         sync.Mutex
	receipts   map[ir.TxHash]ir.TxReceipt
	ops        map[ir.SerialID]ir.ExecutedPriorityOpRecord
	operations map[opKey]ir.StoredOperation
	err        error
	calls      int
}

// NewFakeStorage creates an empty fake store.
func NewFakeStorage() *FakeStorage {
	return &FakeStorage{
		receipts:   make(map[ir.TxHash]ir.TxReceipt),
		ops:        make(map[ir.SerialID]ir.ExecutedPriorityOpRecord),
		operations: make(map[opKey]ir.StoredOperation),
	}
}

// PutReceipt stores a transaction receipt.
func (f *FakeStorage) PutReceipt(hash ir.TxHash, r ir.TxReceipt) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts[hash] = r
}

// PutPriorityOp records an executed priority operation.
func (f *FakeStorage) PutPriorityOp(serialID ir.SerialID, blockNumber int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops[serialID] = ir.ExecutedPriorityOpRecord{SerialID: serialID, BlockNumber: blockNumber}
}

// PutOperation records a block action with its confirmation flag.
func (f *FakeStorage) PutOperation(blockNumber int64, action ir.ActionType, confirmed bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.operations[opKey{blockNumber, action}] = ir.StoredOperation{
		BlockNumber: blockNumber,
		Action:      action,
		Confirmed:   confirmed,
	}
}

// FailWith makes every subsequent lookup return err. Pass nil to recover.
func (f *FakeStorage) FailWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// Calls returns the number of lookups served so far.
func (f *FakeStorage) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// TxReceipt implements notifier.Storage.
func (f *FakeStorage) TxReceipt(_ context.Context, hash ir.TxHash) (ir.TxReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return ir.TxReceipt{}, f.err
	}
	r, ok := f.receipts[hash]
	if !ok {
		return ir.TxReceipt{}, fmt.Errorf("tx %s: %w", hash, store.ErrNotFound)
	}
	return r, nil
}

// ExecutedPriorityOp implements notifier.Storage.
func (f *FakeStorage) ExecutedPriorityOp(_ context.Context, serialID ir.SerialID) (ir.ExecutedPriorityOpRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return ir.ExecutedPriorityOpRecord{}, f.err
	}
	rec, ok := f.ops[serialID]
	if !ok {
		return ir.ExecutedPriorityOpRecord{}, fmt.Errorf("priority op %d: %w", serialID, store.ErrNotFound)
	}
	return rec, nil
}

// StoredOperation implements notifier.Storage.
func (f *FakeStorage) StoredOperation(_ context.Context, blockNumber int64, action ir.ActionType) (ir.StoredOperation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return ir.StoredOperation{}, f.err
	}
	op, ok := f.operations[opKey{blockNumber, action}]
	if !ok {
		return ir.StoredOperation{}, fmt.Errorf("operation %d/%s: %w", blockNumber, action, store.ErrNotFound)
	}
	return op, nil
}
