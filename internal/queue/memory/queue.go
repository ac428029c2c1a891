// Package memory provides the in-process submission queue used by serve
// mode when no message broker is configured.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/docharvest/docharvest/internal/scraper"
)

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch      chan scraper.Submission
	closeMu sync.Mutex
	closed  bool
}

// NewQueue constructs a queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch: make(chan scraper.Submission, capacity),
	}
}

// Enqueue pushes a submission into the queue or returns if the context
// ends first.
func (q *Queue) Enqueue(ctx context.Context, sub scraper.Submission) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- sub:
		return nil
	}
}

// Dequeue pops the next submission, respecting context cancellation.
// After Close it drains buffered submissions and then reports
// scraper.ErrQueueClosed.
func (q *Queue) Dequeue(ctx context.Context) (scraper.Submission, error) {
	select {
	case <-ctx.Done():
		return scraper.Submission{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case sub, ok := <-q.ch:
		if !ok {
			return scraper.Submission{}, scraper.ErrQueueClosed
		}
		return sub, nil
	}
}

// Close closes the underlying channel for shutdown. Safe to call more
// than once.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
