package queue

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/fairsettle/fairsettle/internal/models"
	"github.com/fairsettle/fairsettle/internal/storage/sqlite"
)

func newTestQueue(t *testing.T) (*Queue, *sqlite.SQLiteStore) {
	t.Helper()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return New(store), store
}

func createSettlement(t *testing.T, store *sqlite.SQLiteStore) *models.Settlement {
	t.Helper()
	s := &models.Settlement{
		Initiator:      "alice",
		TotalAmount:    10,
		TotalDeposited: 10,
		State:          models.StatePending,
		Timeout:        3600,
		TotalTransfers: 1,
	}
	transfers := []models.Transfer{{Index: 0, From: "a", To: "b", Amount: 10}}
	if err := store.CreateSettlement(context.Background(), s, transfers); err != nil {
		t.Fatalf("CreateSettlement failed: %v", err)
	}
	return s
}

func TestEnqueueAssignsIncreasingPositions(t *testing.T) {
	q, store := newTestQueue(t)
	ctx := context.Background()

	a := createSettlement(t, store)
	b := createSettlement(t, store)

	posA, err := q.Enqueue(ctx, a)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	posB, err := q.Enqueue(ctx, b)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	if posA != 0 {
		t.Errorf("expected first position 0, got %d", posA)
	}
	if posB <= posA {
		t.Errorf("expected position %d > %d", posB, posA)
	}
	if a.State != models.StateInitiated {
		t.Errorf("expected INITIATED after enqueue, got %s", a.State)
	}
}

func TestHeadIsLowestQueuedPosition(t *testing.T) {
	q, store := newTestQueue(t)
	ctx := context.Background()

	a := createSettlement(t, store)
	b := createSettlement(t, store)
	q.Enqueue(ctx, a)
	q.Enqueue(ctx, b)

	head, err := q.Head(ctx)
	if err != nil {
		t.Fatalf("Head failed: %v", err)
	}
	if head.ID != a.ID {
		t.Errorf("expected head %d, got %d", a.ID, head.ID)
	}

	isHead, err := q.IsHead(ctx, b.ID)
	if err != nil {
		t.Fatalf("IsHead failed: %v", err)
	}
	if isHead {
		t.Error("expected B not to be head while A is queued")
	}
}

func TestTerminalAndDisputedDropOutOfHead(t *testing.T) {
	q, store := newTestQueue(t)
	ctx := context.Background()

	a := createSettlement(t, store)
	b := createSettlement(t, store)
	q.Enqueue(ctx, a)
	q.Enqueue(ctx, b)

	a.State = models.StateDisputed
	if err := store.UpdateSettlement(ctx, a); err != nil {
		t.Fatalf("UpdateSettlement failed: %v", err)
	}

	head, err := q.Head(ctx)
	if err != nil {
		t.Fatalf("Head failed: %v", err)
	}
	if head.ID != b.ID {
		t.Errorf("expected B to become head once A disputed, got %d", head.ID)
	}

	// Dispute resolved: A regains its original slot ahead of B.
	a.State = models.StateInitiated
	if err := store.UpdateSettlement(ctx, a); err != nil {
		t.Fatalf("UpdateSettlement failed: %v", err)
	}
	head, _ = q.Head(ctx)
	if head.ID != a.ID {
		t.Errorf("expected A to regain head after resolution, got %d", head.ID)
	}
}

func TestEmptyQueue(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	if _, err := q.Head(ctx); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound on empty queue, got %v", err)
	}
	isHead, err := q.IsHead(ctx, 1)
	if err != nil {
		t.Fatalf("IsHead failed: %v", err)
	}
	if isHead {
		t.Error("expected nothing to be head of an empty queue")
	}

	n, err := q.Length(ctx)
	if err != nil {
		t.Fatalf("Length failed: %v", err)
	}
	if n != 0 {
		t.Errorf("expected length 0, got %d", n)
	}
}

func TestLengthCountsQueuedOnly(t *testing.T) {
	q, store := newTestQueue(t)
	ctx := context.Background()

	a := createSettlement(t, store)
	b := createSettlement(t, store)
	createSettlement(t, store) // stays PENDING, never queued

	q.Enqueue(ctx, a)
	q.Enqueue(ctx, b)

	n, _ := q.Length(ctx)
	if n != 2 {
		t.Errorf("expected length 2, got %d", n)
	}

	a.State = models.StateFinalized
	store.UpdateSettlement(ctx, a)

	n, _ = q.Length(ctx)
	if n != 1 {
		t.Errorf("expected length 1 after finalization, got %d", n)
	}
}
