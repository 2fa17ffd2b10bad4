// Package memory provides an in-memory FeedbackQueue for development and
// testing.
package memory

import (
	"context"
	"sync"

	"github.com/goacyber/scamhound/internal/pipeline"
)

// Queue keeps feedback items in FIFO order. Drained items stay tracked
// until resolved so an analyst label can always land.
type Queue struct {
	mu      sync.Mutex
	pending []string
	items   map[string]pipeline.FeedbackItem
	// byVerdict dedupes enqueues for the same verdict.
	byVerdict map[string]string
}

// NewQueue constructs a Queue.
func NewQueue() *Queue {
	return &Queue{
		items:     make(map[string]pipeline.FeedbackItem),
		byVerdict: make(map[string]string),
	}
}

// Enqueue adds an item unless its verdict is already queued.
func (q *Queue) Enqueue(_ context.Context, item pipeline.FeedbackItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, dup := q.byVerdict[item.VerdictID]; dup {
		return nil
	}
	q.items[item.ID] = item
	q.byVerdict[item.VerdictID] = item.ID
	q.pending = append(q.pending, item.ID)
	return nil
}

// Drain pops up to limit items in FIFO order.
func (q *Queue) Drain(_ context.Context, limit int) ([]pipeline.FeedbackItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if limit <= 0 || limit > len(q.pending) {
		limit = len(q.pending)
	}
	out := make([]pipeline.FeedbackItem, 0, limit)
	for _, id := range q.pending[:limit] {
		out = append(out, q.items[id])
	}
	q.pending = q.pending[limit:]
	return out, nil
}

// Resolve records the analyst label for a drained or pending item.
func (q *Queue) Resolve(_ context.Context, itemID string, humanLabel pipeline.Label) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[itemID]
	if !ok {
		return pipeline.ErrNotFound
	}
	item.Resolved = true
	item.HumanLabel = &humanLabel
	q.items[itemID] = item
	delete(q.byVerdict, item.VerdictID)
	return nil
}

// PendingCount reports items waiting to be drained.
func (q *Queue) PendingCount(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending), nil
}
