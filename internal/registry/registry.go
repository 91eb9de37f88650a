// Package registry owns the set of settlement records and their transfer
// line items.
package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/fairsettle/fairsettle/internal/events"
	"github.com/fairsettle/fairsettle/internal/models"
	"github.com/fairsettle/fairsettle/internal/storage"
)

// Registry validates and persists settlements.
type Registry struct {
	store storage.Store
	bus   *events.Bus
	now   func() time.Time
}

// New creates a registry over the given store. now stamps creation times and
// therefore anchors refund deadlines; nil defaults to time.Now.
func New(store storage.Store, bus *events.Bus, now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{store: store, bus: bus, now: now}
}

// TransferSpec describes one requested transfer line item.
type TransferSpec struct {
	From   string `json:"from" binding:"required"`
	To     string `json:"to" binding:"required"`
	Amount int64  `json:"amount" binding:"required"`
}

// Create validates the transfer list, computes the settlement total with
// checked arithmetic, and persists the settlement in PENDING state with a
// fresh monotonic ID.
func (r *Registry) Create(ctx context.Context, initiator string, specs []TransferSpec, timeout int64, priceSymbol string) (*models.Settlement, error) {
	if len(specs) == 0 {
		return nil, models.ErrEmptyTransferList
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("%w: timeout must be positive", models.ErrInvalidAmount)
	}

	var total int64
	transfers := make([]models.Transfer, len(specs))
	for i, spec := range specs {
		if spec.Amount <= 0 {
			return nil, fmt.Errorf("%w: transfer %d", models.ErrInvalidAmount, i)
		}
		sum, err := models.AddAmount(total, spec.Amount)
		if err != nil {
			return nil, err
		}
		total = sum
		transfers[i] = models.Transfer{
			Index:  i,
			From:   spec.From,
			To:     spec.To,
			Amount: spec.Amount,
		}
	}

	s := &models.Settlement{
		Initiator:      initiator,
		TotalAmount:    total,
		State:          models.StatePending,
		CreatedAt:      r.now().Unix(),
		Timeout:        timeout,
		TotalTransfers: len(transfers),
		PriceSymbol:    priceSymbol,
	}
	if err := r.store.CreateSettlement(ctx, s, transfers); err != nil {
		return nil, err
	}

	r.bus.Publish(events.Event{
		Type:         events.SettlementCreated,
		SettlementID: s.ID,
		Party:        initiator,
		Amount:       total,
	})
	return s, nil
}

// Get returns the settlement or models.ErrNotFound.
func (r *Registry) Get(ctx context.Context, id int64) (*models.Settlement, error) {
	return r.store.GetSettlement(ctx, id)
}

// GetWithTransfers returns the settlement and its transfers in index order.
func (r *Registry) GetWithTransfers(ctx context.Context, id int64) (*models.Settlement, []models.Transfer, error) {
	s, err := r.store.GetSettlement(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	transfers, err := r.store.GetTransfers(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return s, transfers, nil
}

// ExecutionPlan selects up to count not-yet-executed transfers in index
// order and determines the state the settlement lands in after they run.
// Fails with models.ErrInvalidBatch when count is non-positive or exceeds
// the remaining unexecuted transfers.
func (r *Registry) ExecutionPlan(s *models.Settlement, transfers []models.Transfer, count int) ([]int, models.State, error) {
	remaining := s.TotalTransfers - s.ExecutedTransfers
	if count <= 0 || count > remaining {
		return nil, "", fmt.Errorf("%w: %d requested, %d remaining",
			models.ErrInvalidBatch, count, remaining)
	}

	indexes := make([]int, 0, count)
	for _, t := range transfers {
		if t.Executed {
			continue
		}
		indexes = append(indexes, t.Index)
		if len(indexes) == count {
			break
		}
	}
	if len(indexes) != count {
		return nil, "", fmt.Errorf("%w: transfer rows disagree with executed counter",
			models.ErrInvalidBatch)
	}

	newState := models.StateExecuting
	if s.ExecutedTransfers+count == s.TotalTransfers {
		newState = models.StateFinalized
	}
	return indexes, newState, nil
}

// NextID returns the ID the next created settlement will receive.
func (r *Registry) NextID(ctx context.Context) (int64, error) {
	return r.store.NextSettlementID(ctx)
}
