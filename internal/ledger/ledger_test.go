package ledger

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/fairsettle/fairsettle/internal/events"
	"github.com/fairsettle/fairsettle/internal/models"
	"github.com/fairsettle/fairsettle/internal/storage/sqlite"
)

func newTestLedger(t *testing.T) (*Ledger, *sqlite.SQLiteStore, *events.Bus) {
	t.Helper()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	bus := events.NewBus()
	return New(store, bus), store, bus
}

func createSettlement(t *testing.T, store *sqlite.SQLiteStore, total int64) *models.Settlement {
	t.Helper()
	s := &models.Settlement{
		Initiator:      "alice",
		TotalAmount:    total,
		State:          models.StatePending,
		Timeout:        3600,
		TotalTransfers: 1,
	}
	transfers := []models.Transfer{{Index: 0, From: "a", To: "b", Amount: total}}
	if err := store.CreateSettlement(context.Background(), s, transfers); err != nil {
		t.Fatalf("CreateSettlement failed: %v", err)
	}
	return s
}

func TestCreditAccumulates(t *testing.T) {
	l, store, _ := newTestLedger(t)
	ctx := context.Background()
	s := createSettlement(t, store, 100)

	total, err := l.Credit(ctx, s, "bob", 60)
	if err != nil {
		t.Fatalf("Credit failed: %v", err)
	}
	if total != 60 {
		t.Errorf("expected total 60, got %d", total)
	}

	total, err = l.Credit(ctx, s, "carol", 40)
	if err != nil {
		t.Fatalf("Credit failed: %v", err)
	}
	if total != 100 {
		t.Errorf("expected total 100, got %d", total)
	}

	// Durable: re-read from the store.
	got, err := store.GetSettlement(ctx, s.ID)
	if err != nil {
		t.Fatalf("GetSettlement failed: %v", err)
	}
	if got.TotalDeposited != 100 {
		t.Errorf("expected persisted total 100, got %d", got.TotalDeposited)
	}
}

func TestCreditOverfund(t *testing.T) {
	l, store, _ := newTestLedger(t)
	ctx := context.Background()
	s := createSettlement(t, store, 100)

	if _, err := l.Credit(ctx, s, "bob", 101); !errors.Is(err, models.ErrOverfunded) {
		t.Errorf("expected ErrOverfunded, got %v", err)
	}
	if s.TotalDeposited != 0 {
		t.Errorf("rejected credit mutated the settlement: %d", s.TotalDeposited)
	}
}

func TestCreditOverflowChecked(t *testing.T) {
	l, store, _ := newTestLedger(t)
	ctx := context.Background()
	s := createSettlement(t, store, math.MaxInt64)
	s.TotalDeposited = math.MaxInt64 - 1

	if _, err := l.Credit(ctx, s, "bob", math.MaxInt64); !errors.Is(err, models.ErrAmountOverflow) {
		t.Errorf("expected ErrAmountOverflow, got %v", err)
	}
}

func TestDebitBounds(t *testing.T) {
	l, store, _ := newTestLedger(t)
	s := createSettlement(t, store, 100)
	s.TotalDeposited = 50

	if err := l.Debit(s, 50); err != nil {
		t.Errorf("expected debit within balance to pass, got %v", err)
	}
	if err := l.Debit(s, 51); !errors.Is(err, models.ErrInsufficientFunds) {
		t.Errorf("expected ErrInsufficientFunds, got %v", err)
	}
	if err := l.Debit(s, 0); !errors.Is(err, models.ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestRefundAllReturnsEachContribution(t *testing.T) {
	l, store, _ := newTestLedger(t)
	ctx := context.Background()
	s := createSettlement(t, store, 100)

	l.Credit(ctx, s, "bob", 70)
	l.Credit(ctx, s, "carol", 30)

	refunded, err := l.RefundAll(ctx, s)
	if err != nil {
		t.Fatalf("RefundAll failed: %v", err)
	}
	if refunded != 100 {
		t.Errorf("expected refunded 100, got %d", refunded)
	}
	if s.TotalDeposited != 0 || s.State != models.StateFailed {
		t.Errorf("expected zeroed FAILED settlement, got deposited=%d state=%s", s.TotalDeposited, s.State)
	}

	for party, want := range map[string]int64{"bob": 70, "carol": 30} {
		balance, err := l.Balance(ctx, party)
		if err != nil {
			t.Fatalf("Balance failed: %v", err)
		}
		if balance != want {
			t.Errorf("expected %s refunded %d, got %d", party, want, balance)
		}
	}
}

func TestCreditEmitsEvent(t *testing.T) {
	l, store, bus := newTestLedger(t)
	ctx := context.Background()
	s := createSettlement(t, store, 100)

	var got []events.Event
	bus.Subscribe(func(e events.Event) { got = append(got, e) })

	if _, err := l.Credit(ctx, s, "bob", 25); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("expected 1 event, got %d", len(got))
	}
	e := got[0]
	if e.Type != events.DepositReceived || e.SettlementID != s.ID || e.Party != "bob" || e.Amount != 25 {
		t.Errorf("unexpected event: %+v", e)
	}
	if e.ID == "" {
		t.Error("expected event ID assigned")
	}
}

func TestBalanceUnknownPartyIsZero(t *testing.T) {
	l, _, _ := newTestLedger(t)
	balance, err := l.Balance(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if balance != 0 {
		t.Errorf("expected zero balance, got %d", balance)
	}
}
