package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/opnotify/internal/ir"
)

// createTestStore creates a new store in a temp dir for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// testHash returns a hash whose every byte is b.
func testHash(b byte) ir.TxHash {
	var h ir.TxHash
	for i := range h {
		h[i] = b
	}
	return h
}

func txEntity(hash ir.TxHash, success bool, failReason *string) ir.ExecutedEntity {
	return ir.ExecutedEntity{Tx: &ir.ExecutedTx{Hash: hash, Success: success, FailReason: failReason}}
}

func priorityOpEntity(serial ir.SerialID) ir.ExecutedEntity {
	return ir.ExecutedEntity{PriorityOp: &ir.ExecutedPriorityOp{SerialID: serial}}
}
