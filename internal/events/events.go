// Package events provides a synchronous in-process notification bus.
//
// Every successful mutating operation emits exactly one event at the end of
// the operation. Consumers (loggers, indexers, dashboards) subscribe
// in-process; delivery is synchronous and in subscription order, so an event
// is only observable once the operation's state change has been committed.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type identifies what happened.
type Type string

const (
	SettlementCreated   Type = "settlement.created"
	DepositReceived     Type = "deposit.received"
	SettlementInitiated Type = "settlement.initiated"
	TransfersExecuted   Type = "transfers.executed"
	SettlementFinalized Type = "settlement.finalized"
	SettlementRefunded  Type = "settlement.refunded"
	SettlementDisputed  Type = "settlement.disputed"
	DisputeResolved     Type = "dispute.resolved"
)

// Event is one outbound notification.
type Event struct {
	// ID is a unique event identifier (UUID format).
	ID string `json:"id"`

	Type         Type  `json:"type"`
	SettlementID int64 `json:"settlementId"`

	// Party is the depositor, initiator, or resolver relevant to the
	// event, when there is one.
	Party string `json:"party,omitempty"`

	// Amount carries the deposited, executed, or refunded amount for
	// events where an amount is meaningful.
	Amount int64 `json:"amount,omitempty"`

	// Count is the number of transfers executed, for TransfersExecuted.
	Count int `json:"count,omitempty"`

	At time.Time `json:"at"`
}

// Handler consumes events. Handlers must not block; they run inline with the
// emitting operation.
type Handler func(Event)

// Bus fans events out to subscribers synchronously.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a handler for all subsequent events.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish assigns the event an ID and timestamp and delivers it to every
// subscriber in order.
func (b *Bus) Publish(e Event) {
	e.ID = uuid.New().String()
	if e.At.IsZero() {
		e.At = time.Now()
	}

	b.mu.RLock()
	handlers := b.handlers
	b.mu.RUnlock()

	for _, h := range handlers {
		h(e)
	}
}

// LogHandler returns a handler that logs every event with slog.
func LogHandler() Handler {
	return func(e Event) {
		slog.Info("event",
			"event_id", e.ID,
			"type", string(e.Type),
			"settlement_id", e.SettlementID,
			"party", e.Party,
			"amount", e.Amount,
		)
	}
}
