// Package queue implements the fair-ordering execution queue.
//
// Settlements execute in initiation order, not arrival or fee order: the
// queue position is assigned once, at initiate time, from a durable counter,
// and only the settlement with the lowest position among those still in
// INITIATED or EXECUTING may execute. Sequencing by initiation order removes
// any incentive to outbid pending settlements for an earlier slot.
package queue

import (
	"context"
	"errors"

	"github.com/fairsettle/fairsettle/internal/models"
	"github.com/fairsettle/fairsettle/internal/storage"
)

// Queue assigns and enforces execution order across initiated settlements.
type Queue struct {
	store storage.Store
}

// New creates a queue over the given store.
func New(store storage.Store) *Queue {
	return &Queue{store: store}
}

// Enqueue appends the settlement to the tail and returns its assigned
// position. Called exactly once per settlement, at initiate; the store
// stamps the position and the INITIATED state atomically.
func (q *Queue) Enqueue(ctx context.Context, s *models.Settlement) (int64, error) {
	pos, err := q.store.AssignQueuePosition(ctx, s.ID)
	if err != nil {
		return 0, err
	}
	s.QueuePosition = &pos
	s.State = models.StateInitiated
	return pos, nil
}

// Head returns the settlement with the lowest queue position still in
// INITIATED or EXECUTING, the only settlement eligible to execute.
// Returns models.ErrNotFound when the queue is empty.
//
// Advancing is implicit: a settlement that reaches FINALIZED, FAILED, or
// DISPUTED drops out of head eligibility, exposing the next position. A
// dispute resolved back to INITIATED or EXECUTING re-exposes its original
// position, so it regains its place rather than rejoining at the tail.
func (q *Queue) Head(ctx context.Context) (*models.Settlement, error) {
	return q.store.QueueHead(ctx)
}

// IsHead reports whether the given settlement is the current queue head.
func (q *Queue) IsHead(ctx context.Context, id int64) (bool, error) {
	head, err := q.store.QueueHead(ctx)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return head.ID == id, nil
}

// Length returns the number of settlements waiting in the queue.
func (q *Queue) Length(ctx context.Context) (int, error) {
	return q.store.QueueLength(ctx)
}
