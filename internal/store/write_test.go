package store

import (
	"context"
	"errors"
	"testing"

	"github.com/roach88/opnotify/internal/ir"
)

func TestWriteOperation_StoresEntities(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	reason := "insufficient balance"
	op := ir.Operation{
		Action:      ir.ActionCommit,
		BlockNumber: 10,
		Entities: []ir.ExecutedEntity{
			txEntity(testHash(0xaa), true, nil),
			priorityOpEntity(7),
			txEntity(testHash(0xbb), false, &reason),
		},
	}
	if err := s.WriteOperation(ctx, op); err != nil {
		t.Fatalf("WriteOperation() failed: %v", err)
	}

	var txCount, opCount int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM executed_transactions").Scan(&txCount); err != nil {
		t.Fatal(err)
	}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM executed_priority_operations").Scan(&opCount); err != nil {
		t.Fatal(err)
	}
	if txCount != 2 {
		t.Errorf("executed_transactions = %d, want 2", txCount)
	}
	if opCount != 1 {
		t.Errorf("executed_priority_operations = %d, want 1", opCount)
	}

	stored, err := s.StoredOperation(ctx, 10, ir.ActionCommit)
	if err != nil {
		t.Fatalf("StoredOperation() failed: %v", err)
	}
	if stored.Confirmed {
		t.Error("new operation should start unconfirmed")
	}
}

func TestWriteOperation_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	op := ir.Operation{
		Action:      ir.ActionCommit,
		BlockNumber: 1,
		Entities:    []ir.ExecutedEntity{txEntity(testHash(0x01), true, nil)},
	}
	for i := 0; i < 3; i++ {
		if err := s.WriteOperation(ctx, op); err != nil {
			t.Fatalf("WriteOperation() #%d failed: %v", i, err)
		}
	}

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM operations").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("operations = %d, want 1", count)
	}
}

func TestWriteOperation_RejectsInvalid(t *testing.T) {
	s := createTestStore(t)

	err := s.WriteOperation(context.Background(), ir.Operation{
		Action:   ir.ActionCommit,
		Entities: []ir.ExecutedEntity{{}},
	})
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
}

func TestConfirmOperation_AssignsIncreasingSeq(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, op := range []ir.Operation{
		{Action: ir.ActionCommit, BlockNumber: 1},
		{Action: ir.ActionCommit, BlockNumber: 2},
		{Action: ir.ActionVerify, BlockNumber: 1},
	} {
		if err := s.WriteOperation(ctx, op); err != nil {
			t.Fatalf("WriteOperation() failed: %v", err)
		}
	}

	seq1, err := s.ConfirmOperation(ctx, 2, ir.ActionCommit)
	if err != nil {
		t.Fatalf("ConfirmOperation() failed: %v", err)
	}
	seq2, err := s.ConfirmOperation(ctx, 1, ir.ActionVerify)
	if err != nil {
		t.Fatalf("ConfirmOperation() failed: %v", err)
	}
	if seq1 != 1 || seq2 != 2 {
		t.Errorf("seqs = (%d, %d), want (1, 2)", seq1, seq2)
	}

	again, err := s.ConfirmOperation(ctx, 2, ir.ActionCommit)
	if err != nil {
		t.Fatalf("second ConfirmOperation() failed: %v", err)
	}
	if again != seq1 {
		t.Errorf("re-confirm seq = %d, want %d (unchanged)", again, seq1)
	}

	last, err := s.LastConfirmedSeq(ctx)
	if err != nil {
		t.Fatalf("LastConfirmedSeq() failed: %v", err)
	}
	if last != 2 {
		t.Errorf("LastConfirmedSeq() = %d, want 2", last)
	}
}

func TestConfirmOperation_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.ConfirmOperation(context.Background(), 99, ir.ActionVerify)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
