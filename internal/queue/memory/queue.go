// Package memory provides the task queue used by single-binary deployments.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/scrapewizard/scrapewizard/internal/scraper"
)

// ErrClosed is returned once the queue has been shut down.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded in-memory task queue with context-aware operations.
// Tasks carrying a future NotBefore are held back by a timer instead of
// occupying a queue slot, which is how retry backoff is realized.
type Queue struct {
	ch      chan scraper.Task
	clock   scraper.Clock
	closeMu sync.Mutex
	closed  bool
	timers  map[*time.Timer]struct{}
}

// NewQueue constructs a queue with the provided capacity.
func NewQueue(capacity int, clock scraper.Clock) *Queue {
	return &Queue{
		ch:     make(chan scraper.Task, capacity),
		clock:  clock,
		timers: make(map[*time.Timer]struct{}),
	}
}

// Enqueue pushes a task, deferring delivery until NotBefore for delayed
// tasks. Immediate tasks block until there is room or the context ends.
func (q *Queue) Enqueue(ctx context.Context, task scraper.Task) error {
	q.closeMu.Lock()
	if q.closed {
		q.closeMu.Unlock()
		return ErrClosed
	}
	if delay := task.NotBefore.Sub(q.clock.Now()); delay > 0 {
		var timer *time.Timer
		timer = time.AfterFunc(delay, func() {
			q.deliverLate(task, timer)
		})
		q.timers[timer] = struct{}{}
		q.closeMu.Unlock()
		return nil
	}
	q.closeMu.Unlock()

	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- task:
		return nil
	}
}

// Dequeue pops the next ready task, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (scraper.Task, error) {
	select {
	case <-ctx.Done():
		return scraper.Task{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case task, ok := <-q.ch:
		if !ok {
			return scraper.Task{}, ErrClosed
		}
		return task, nil
	}
}

// Close stops accepting tasks, drops pending delayed tasks, and unblocks
// every Dequeue caller.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	for timer := range q.timers {
		timer.Stop()
	}
	q.timers = nil
	close(q.ch)
}

func (q *Queue) deliverLate(task scraper.Task, timer *time.Timer) {
	q.closeMu.Lock()
	if q.closed {
		q.closeMu.Unlock()
		return
	}
	delete(q.timers, timer)
	q.closeMu.Unlock()

	defer func() {
		// Close may race the send on a full channel; a dropped delayed task
		// during shutdown is acceptable.
		_ = recover()
	}()
	q.ch <- task
}
