// Package engine implements the settlement state machine.
//
// The engine is the single entry point for every mutating operation. It
// serializes them with a mutex so one caller's operation, including all of
// its invariant checks, completes before the next is observed. Concurrent
// callers therefore race only on timing of arrival; execution order is
// decided by the fair-ordering queue, never by arrival order.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fairsettle/fairsettle/internal/events"
	"github.com/fairsettle/fairsettle/internal/ledger"
	"github.com/fairsettle/fairsettle/internal/metrics"
	"github.com/fairsettle/fairsettle/internal/models"
	"github.com/fairsettle/fairsettle/internal/priceguard"
	"github.com/fairsettle/fairsettle/internal/queue"
	"github.com/fairsettle/fairsettle/internal/registry"
	"github.com/fairsettle/fairsettle/internal/storage"
)

// Caller identifies the authenticated identity driving an operation.
type Caller struct {
	ID   string
	Role models.Role
}

// Admin reports whether the caller holds the admin role.
func (c Caller) Admin() bool {
	return c.Role == models.RoleAdmin
}

// Options configures the engine.
type Options struct {
	// Guard supplies secured prices for price-denominated settlements.
	Guard priceguard.Guard

	// MinConfidence is the lowest acceptable confidence score (0-100)
	// for a secured quote.
	MinConfidence int

	// Now overrides the clock; defaults to time.Now.
	Now func() time.Time
}

// Engine orchestrates the registry, ledger, and queue.
type Engine struct {
	mu sync.Mutex

	store    storage.Store
	registry *registry.Registry
	ledger   *ledger.Ledger
	queue    *queue.Queue
	bus      *events.Bus
	metrics  *metrics.Metrics

	guard         priceguard.Guard
	minConfidence int
	now           func() time.Time
}

// New creates an engine over the given store.
func New(store storage.Store, bus *events.Bus, m *metrics.Metrics, opts Options) *Engine {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		store:         store,
		registry:      registry.New(store, bus, now),
		ledger:        ledger.New(store, bus),
		queue:         queue.New(store),
		bus:           bus,
		metrics:       m,
		guard:         opts.Guard,
		minConfidence: opts.MinConfidence,
		now:           now,
	}
}

// Create registers a new settlement in PENDING state and returns it.
// timeout is the refund deadline in seconds after creation.
func (e *Engine) Create(ctx context.Context, caller Caller, transfers []registry.TransferSpec, timeout int64, priceSymbol string) (s *models.Settlement, err error) {
	defer func() { e.metrics.Observe("create", err) }()
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.registry.Create(ctx, caller.ID, transfers, timeout, priceSymbol)
}

// Deposit credits amount toward the settlement total on behalf of the
// caller and returns the new deposited total.
func (e *Engine) Deposit(ctx context.Context, caller Caller, id, amount int64) (total int64, err error) {
	defer func() { e.metrics.Observe("deposit", err) }()
	e.mu.Lock()
	defer e.mu.Unlock()

	s, err := e.registry.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	if err := checkMutable(s); err != nil {
		return 0, err
	}

	total, err = e.ledger.Credit(ctx, s, caller.ID, amount)
	if err != nil {
		return 0, err
	}
	e.metrics.DepositedTotal.Add(float64(amount))
	return total, nil
}

// Initiate moves a fully funded PENDING settlement into the execution queue
// and returns its assigned position. Only the settlement's initiator may
// call it. Price-denominated settlements are validated against the price
// guard first, before any state changes.
func (e *Engine) Initiate(ctx context.Context, caller Caller, id int64) (pos int64, err error) {
	defer func() { e.metrics.Observe("initiate", err) }()
	e.mu.Lock()
	defer e.mu.Unlock()

	s, err := e.registry.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	if err := checkMutable(s); err != nil {
		return 0, err
	}
	if s.State != models.StatePending {
		return 0, fmt.Errorf("%w: cannot initiate from %s", models.ErrInvalidTransition, s.State)
	}
	if caller.ID != s.Initiator {
		return 0, fmt.Errorf("%w: only the initiator may initiate", models.ErrUnauthorized)
	}
	if !s.FullyFunded() {
		return 0, fmt.Errorf("%w: %d of %d deposited",
			models.ErrNotFullyFunded, s.TotalDeposited, s.TotalAmount)
	}
	if err := e.checkPrice(ctx, s); err != nil {
		return 0, err
	}

	pos, err = e.queue.Enqueue(ctx, s)
	if err != nil {
		return 0, err
	}

	e.bus.Publish(events.Event{
		Type:         events.SettlementInitiated,
		SettlementID: s.ID,
		Party:        caller.ID,
	})
	e.updateQueueGauge(ctx)
	return pos, nil
}

// Execute runs up to count not-yet-executed transfers of the queue-head
// settlement in their original order, crediting each recipient's payout
// account. The settlement moves to EXECUTING on partial progress and
// FINALIZED once every transfer has run, at which point the queue advances.
// Returns the number of transfers executed by this call.
func (e *Engine) Execute(ctx context.Context, caller Caller, id int64, count int) (executed int, err error) {
	defer func() { e.metrics.Observe("execute", err) }()
	e.mu.Lock()
	defer e.mu.Unlock()

	s, transfers, err := e.registry.GetWithTransfers(ctx, id)
	if err != nil {
		return 0, err
	}
	if err := checkMutable(s); err != nil {
		return 0, err
	}

	// Only the queue head may execute; everyone else gets a retryable
	// ordering error rather than a blocking wait.
	isHead, err := e.queue.IsHead(ctx, id)
	if err != nil {
		return 0, err
	}
	if !isHead {
		return 0, fmt.Errorf("%w: settlement %d", models.ErrQueueOrder, id)
	}

	indexes, newState, err := e.registry.ExecutionPlan(s, transfers, count)
	if err != nil {
		return 0, err
	}

	// No transfer executes against undeposited funds.
	var batchTotal int64
	for _, idx := range indexes {
		batchTotal, err = models.AddAmount(batchTotal, transfers[idx].Amount)
		if err != nil {
			return 0, err
		}
	}
	if err := e.ledger.Debit(s, batchTotal); err != nil {
		return 0, err
	}

	if err := e.store.ApplyExecution(ctx, id, indexes, newState); err != nil {
		return 0, err
	}
	e.metrics.ExecutedTransfers.Add(float64(len(indexes)))

	e.bus.Publish(events.Event{
		Type:         events.TransfersExecuted,
		SettlementID: id,
		Amount:       batchTotal,
		Count:        len(indexes),
	})
	if newState == models.StateFinalized {
		e.bus.Publish(events.Event{
			Type:         events.SettlementFinalized,
			SettlementID: id,
		})
		e.updateQueueGauge(ctx)
	}
	return len(indexes), nil
}

// Refund returns every depositor their contribution once the settlement's
// timeout has passed without finalization, then fails the settlement.
// Callable by the initiator, any depositor, or an admin. Idempotence is by
// error: refunding a FAILED settlement yields ErrAlreadyTerminal and changes
// nothing.
func (e *Engine) Refund(ctx context.Context, caller Caller, id int64) (refunded int64, err error) {
	defer func() { e.metrics.Observe("refund", err) }()
	e.mu.Lock()
	defer e.mu.Unlock()

	s, err := e.registry.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	if err := checkMutable(s); err != nil {
		return 0, err
	}
	if e.now().Unix() <= s.RefundDeadline() {
		return 0, fmt.Errorf("%w: eligible after %d", models.ErrTimeoutNotReached, s.RefundDeadline())
	}
	if err := e.checkRefundCaller(ctx, caller, s); err != nil {
		return 0, err
	}

	refunded, err = e.ledger.RefundAll(ctx, s)
	if err != nil {
		return 0, err
	}
	e.metrics.RefundedTotal.Add(float64(refunded))
	e.updateQueueGauge(ctx)
	return refunded, nil
}

// Dispute halts a settlement before finalization. Callable by the initiator
// or an admin. A disputed settlement accepts neither execute nor refund
// until an admin resolves it.
func (e *Engine) Dispute(ctx context.Context, caller Caller, id int64, reason string) (err error) {
	defer func() { e.metrics.Observe("dispute", err) }()
	e.mu.Lock()
	defer e.mu.Unlock()

	s, err := e.registry.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := checkMutable(s); err != nil {
		return err
	}
	if caller.ID != s.Initiator && !caller.Admin() {
		return fmt.Errorf("%w: only the initiator or an admin may dispute", models.ErrUnauthorized)
	}

	s.State = models.StateDisputed
	s.DisputeReason = reason
	if err := e.store.UpdateSettlement(ctx, s); err != nil {
		return err
	}

	e.bus.Publish(events.Event{
		Type:         events.SettlementDisputed,
		SettlementID: id,
		Party:        caller.ID,
	})
	e.updateQueueGauge(ctx)
	return nil
}

// ResolveDispute applies an external authority's decision to a DISPUTED
// settlement. Admin only. OutcomeResume returns the settlement to the queue
// at its original position; OutcomeFail refunds all depositors and fails it.
// Returns the resulting state.
func (e *Engine) ResolveDispute(ctx context.Context, caller Caller, id int64, outcome models.DisputeOutcome) (state models.State, err error) {
	defer func() { e.metrics.Observe("resolve_dispute", err) }()
	e.mu.Lock()
	defer e.mu.Unlock()

	if !caller.Admin() {
		return "", fmt.Errorf("%w: dispute resolution requires the admin role", models.ErrUnauthorized)
	}

	s, err := e.registry.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if s.State != models.StateDisputed {
		return "", fmt.Errorf("%w: settlement is not disputed", models.ErrInvalidTransition)
	}

	switch outcome {
	case models.OutcomeResume:
		switch {
		case s.QueuePosition == nil:
			// Disputed before initiation; back to collecting deposits.
			s.State = models.StatePending
		case s.ExecutedTransfers > 0:
			s.State = models.StateExecuting
		default:
			s.State = models.StateInitiated
		}
		s.DisputeReason = ""
		if err := e.store.UpdateSettlement(ctx, s); err != nil {
			return "", err
		}
	case models.OutcomeFail:
		if _, err := e.ledger.RefundAll(ctx, s); err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("%w: %q", models.ErrInvalidOutcome, outcome)
	}

	e.bus.Publish(events.Event{
		Type:         events.DisputeResolved,
		SettlementID: id,
		Party:        caller.ID,
	})
	e.updateQueueGauge(ctx)
	return s.State, nil
}

// CanInitiate re-checks the initiate preconditions without mutating state.
// Returns a human-readable reason when initiation would fail.
func (e *Engine) CanInitiate(ctx context.Context, caller Caller, id int64) (bool, string, error) {
	s, err := e.registry.Get(ctx, id)
	if err != nil {
		return false, "", err
	}

	switch {
	case s.State != models.StatePending:
		return false, fmt.Sprintf("settlement is %s, not PENDING", s.State), nil
	case caller.ID != s.Initiator:
		return false, "caller is not the initiator", nil
	case !s.FullyFunded():
		return false, fmt.Sprintf("only %d of %d deposited", s.TotalDeposited, s.TotalAmount), nil
	}
	if err := e.checkPrice(ctx, s); err != nil {
		return false, "secured price unavailable or untrusted", nil
	}
	return true, "", nil
}

// EligibleForRefund reports whether the settlement's timeout has passed and
// it can still be refunded.
func (e *Engine) EligibleForRefund(ctx context.Context, id int64) (bool, error) {
	s, err := e.registry.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if s.State.Terminal() || s.State == models.StateDisputed {
		return false, nil
	}
	return e.now().Unix() > s.RefundDeadline(), nil
}

// Get returns the settlement.
func (e *Engine) Get(ctx context.Context, id int64) (*models.Settlement, error) {
	return e.registry.Get(ctx, id)
}

// GetWithTransfers returns the settlement and its transfers in index order.
func (e *Engine) GetWithTransfers(ctx context.Context, id int64) (*models.Settlement, []models.Transfer, error) {
	return e.registry.GetWithTransfers(ctx, id)
}

// QueueHead returns the settlement currently eligible to execute, or
// models.ErrNotFound when the queue is empty.
func (e *Engine) QueueHead(ctx context.Context) (*models.Settlement, error) {
	return e.queue.Head(ctx)
}

// QueueLength returns the number of settlements waiting in the queue.
func (e *Engine) QueueLength(ctx context.Context) (int, error) {
	return e.queue.Length(ctx)
}

// NextSettlementID returns the ID the next created settlement will receive.
func (e *Engine) NextSettlementID(ctx context.Context) (int64, error) {
	return e.registry.NextID(ctx)
}

// Balance returns a party's payout balance.
func (e *Engine) Balance(ctx context.Context, party string) (int64, error) {
	return e.ledger.Balance(ctx, party)
}

// checkMutable rejects operations on terminal or disputed settlements.
func checkMutable(s *models.Settlement) error {
	if s.State.Terminal() {
		return fmt.Errorf("%w: settlement is %s", models.ErrAlreadyTerminal, s.State)
	}
	if s.State == models.StateDisputed {
		return fmt.Errorf("%w: awaiting resolution", models.ErrDisputed)
	}
	return nil
}

// checkPrice validates the secured price for price-denominated settlements.
// Fail-fast: any guard error, insecure quote, or low confidence aborts the
// dependent operation before it mutates anything.
func (e *Engine) checkPrice(ctx context.Context, s *models.Settlement) error {
	if s.PriceSymbol == "" {
		return nil
	}
	if e.guard == nil {
		return fmt.Errorf("%w: no price guard configured", models.ErrPriceGuard)
	}

	quote, err := e.guard.SecuredPrice(ctx, s.PriceSymbol)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrPriceGuard, err)
	}
	if !quote.Secure {
		return fmt.Errorf("%w: quote for %s is not secure", models.ErrPriceGuard, s.PriceSymbol)
	}
	if quote.Confidence < e.minConfidence {
		return fmt.Errorf("%w: confidence %d below threshold %d",
			models.ErrPriceGuard, quote.Confidence, e.minConfidence)
	}
	return nil
}

// checkRefundCaller authorizes refund calls: initiator, any depositor, or
// an admin.
func (e *Engine) checkRefundCaller(ctx context.Context, caller Caller, s *models.Settlement) error {
	if caller.Admin() || caller.ID == s.Initiator {
		return nil
	}
	deposits, err := e.store.ListDeposits(ctx, s.ID)
	if err != nil {
		return err
	}
	for _, d := range deposits {
		if d.Depositor == caller.ID {
			return nil
		}
	}
	return fmt.Errorf("%w: refund requires the initiator, a depositor, or an admin", models.ErrUnauthorized)
}

func (e *Engine) updateQueueGauge(ctx context.Context) {
	n, err := e.queue.Length(ctx)
	if err != nil {
		slog.Warn("failed to read queue length for metrics", "error", err)
		return
	}
	e.metrics.QueueLength.Set(float64(n))
}

// IsNotFound reports whether err is the unknown-settlement error.
// Convenience for transport layers.
func IsNotFound(err error) bool {
	return errors.Is(err, models.ErrNotFound)
}
