// Package storage provides abstractions for persistent data storage.
package storage

import (
	"context"

	"github.com/fairsettle/fairsettle/internal/models"
)

// Store defines the interface for settlement storage operations.
// This abstraction allows swapping storage backends (SQLite, PostgreSQL, etc.)
// without changing the engine or service layers.
//
// Methods that touch more than one table apply all of their writes in a
// single storage transaction: a crash never leaves a settlement half-updated.
type Store interface {
	// CreateSettlement persists a new settlement with its transfers,
	// assigning the next monotonic settlement ID. The s.ID field is
	// populated by the store; the caller stamps CreatedAt.
	CreateSettlement(ctx context.Context, s *models.Settlement, transfers []models.Transfer) error

	// GetSettlement retrieves a settlement by ID.
	// Returns models.ErrNotFound for unknown IDs.
	GetSettlement(ctx context.Context, id int64) (*models.Settlement, error)

	// GetTransfers retrieves a settlement's transfers ordered by index.
	GetTransfers(ctx context.Context, id int64) ([]models.Transfer, error)

	// UpdateSettlement persists the mutable settlement fields (state,
	// deposited total, executed count, dispute reason).
	UpdateSettlement(ctx context.Context, s *models.Settlement) error

	// NextSettlementID returns the ID the next created settlement will
	// receive, without allocating it.
	NextSettlementID(ctx context.Context) (int64, error)

	// AddDeposit records a deposit and sets the settlement's deposited
	// total to newTotal in one transaction.
	AddDeposit(ctx context.Context, d *models.Deposit, newTotal int64) error

	// ListDeposits returns all deposits for a settlement in insertion
	// order.
	ListDeposits(ctx context.Context, settlementID int64) ([]models.Deposit, error)

	// ApplyExecution marks the transfers at the given indexes executed,
	// credits each recipient's payout account, debits the disbursed
	// amount from the deposited total, advances the executed counter, and
	// moves the settlement to newState, all in one transaction.
	ApplyExecution(ctx context.Context, settlementID int64, indexes []int, newState models.State) error

	// ApplyRefund returns the undisbursed balance to depositors in
	// deposit order (each capped at their contributed sum), zeroes the
	// deposited total, and moves the settlement to FAILED, all in one
	// transaction.
	ApplyRefund(ctx context.Context, settlementID int64) error

	// AssignQueuePosition allocates the next queue position, stamps it on
	// the settlement, and moves it to INITIATED in one transaction.
	AssignQueuePosition(ctx context.Context, settlementID int64) (int64, error)

	// QueueHead returns the settlement with the lowest queue position
	// among those in INITIATED or EXECUTING, or models.ErrNotFound when
	// the queue is empty.
	QueueHead(ctx context.Context) (*models.Settlement, error)

	// QueueLength returns the number of settlements in INITIATED or
	// EXECUTING.
	QueueLength(ctx context.Context) (int, error)

	// AccountBalance returns the payout balance for a party.
	// Unknown parties have balance zero.
	AccountBalance(ctx context.Context, party string) (int64, error)

	// CreateUser persists a new user.
	CreateUser(ctx context.Context, u *models.User) error

	// GetUserByEmail retrieves a user by email, models.ErrNotFound if
	// absent.
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)

	// GetUserByID retrieves a user by ID, models.ErrNotFound if absent.
	GetUserByID(ctx context.Context, id string) (*models.User, error)

	// Close releases any resources held by the store.
	Close() error
}
