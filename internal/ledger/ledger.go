// Package ledger implements escrow accounting for settlements.
//
// The ledger is the only component that moves money: deposits in, payouts
// and refunds out. Every balance change is checked against the settlement's
// bounds before it is written, and the write happens in a single storage
// transaction, so no intermediate state where an invariant is violated is
// ever observable.
package ledger

import (
	"context"
	"fmt"

	"github.com/fairsettle/fairsettle/internal/events"
	"github.com/fairsettle/fairsettle/internal/models"
	"github.com/fairsettle/fairsettle/internal/storage"
)

// Ledger tracks deposits against each settlement's required total and
// maintains payout account balances.
type Ledger struct {
	store storage.Store
	bus   *events.Bus
}

// New creates a ledger over the given store.
func New(store storage.Store, bus *events.Bus) *Ledger {
	return &Ledger{store: store, bus: bus}
}

// Credit increases the settlement's deposited total by amount on behalf of
// depositor. It fails with models.ErrOverfunded if the deposit would exceed
// the settlement total, and with models.ErrInvalidAmount for non-positive
// amounts. Returns the new deposited total.
func (l *Ledger) Credit(ctx context.Context, s *models.Settlement, depositor string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, models.ErrInvalidAmount
	}

	newTotal, err := models.AddAmount(s.TotalDeposited, amount)
	if err != nil {
		return 0, err
	}
	if newTotal > s.TotalAmount {
		return 0, fmt.Errorf("%w: %d deposited + %d > %d total",
			models.ErrOverfunded, s.TotalDeposited, amount, s.TotalAmount)
	}

	d := &models.Deposit{
		SettlementID: s.ID,
		Depositor:    depositor,
		Amount:       amount,
	}
	if err := l.store.AddDeposit(ctx, d, newTotal); err != nil {
		return 0, err
	}
	s.TotalDeposited = newTotal

	l.bus.Publish(events.Event{
		Type:         events.DepositReceived,
		SettlementID: s.ID,
		Party:        depositor,
		Amount:       amount,
	})
	return newTotal, nil
}

// Debit validates that amount does not exceed the settlement's deposited
// balance. It fails with models.ErrInsufficientFunds otherwise. The actual
// balance write happens in the store: execution debits the disbursed batch
// from the deposited total in the same transaction that credits recipients,
// and RefundAll drains whatever remains.
func (l *Ledger) Debit(s *models.Settlement, amount int64) error {
	if amount <= 0 {
		return models.ErrInvalidAmount
	}
	if amount > s.TotalDeposited {
		return fmt.Errorf("%w: %d > %d deposited",
			models.ErrInsufficientFunds, amount, s.TotalDeposited)
	}
	return nil
}

// RefundAll returns the settlement's undisbursed balance to its depositors,
// zeroes the deposited total, and fails the settlement. Each depositor
// receives at most their contributed sum; funds a partial execution already
// paid out are not refunded again. The refunded amount is the settlement's
// deposited total before the call.
func (l *Ledger) RefundAll(ctx context.Context, s *models.Settlement) (int64, error) {
	refunded := s.TotalDeposited
	if err := l.store.ApplyRefund(ctx, s.ID); err != nil {
		return 0, err
	}
	s.TotalDeposited = 0
	s.State = models.StateFailed

	l.bus.Publish(events.Event{
		Type:         events.SettlementRefunded,
		SettlementID: s.ID,
		Amount:       refunded,
	})
	return refunded, nil
}

// Balance returns the payout balance for a party. Payout balances are
// credited when transfers execute and when deposits are refunded.
func (l *Ledger) Balance(ctx context.Context, party string) (int64, error) {
	return l.store.AccountBalance(ctx, party)
}
