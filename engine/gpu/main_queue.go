package gpu

import (
	"context"
	"sync"
)

// MainQueue is the deferred work queue of the main context. Worker goroutines Enqueue continuations; only the
// goroutine that owns the TextureDevice runs them, through Drain.
type MainQueue struct {
	mu      sync.Mutex
	pending []func()
	notify  chan struct{}
}

// NewMainQueue creates an empty MainQueue.
func NewMainQueue() *MainQueue {
	return &MainQueue{notify: make(chan struct{}, 1)}
}

// Enqueue schedules fn to run on the main context. Safe for concurrent use.
func (q *MainQueue) Enqueue(fn func()) {
	q.mu.Lock()
	q.pending = append(q.pending, fn)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Len returns the number of continuations waiting to run.
func (q *MainQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Drain runs every queued continuation in enqueue order on the calling goroutine, including continuations enqueued
// while draining, and returns how many ran.
func (q *MainQueue) Drain() int {
	ran := 0
	for {
		q.mu.Lock()
		batch := q.pending
		q.pending = nil
		q.mu.Unlock()

		if len(batch) == 0 {
			return ran
		}
		for _, fn := range batch {
			fn()
		}
		ran += len(batch)
	}
}

// Wait blocks until at least one continuation is queued or ctx is done.
func (q *MainQueue) Wait(ctx context.Context) error {
	for {
		if q.Len() > 0 {
			return nil
		}
		select {
		case <-q.notify:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// RunUntil drains the queue until done reports true, blocking between batches.
//
// Parameters:
//   - ctx: cancels the wait
//   - done: evaluated on the calling goroutine after every drain
//
// Returns:
//   - error: ctx.Err() if ctx ends first
func (q *MainQueue) RunUntil(ctx context.Context, done func() bool) error {
	for {
		q.Drain()
		if done() {
			return nil
		}
		if err := q.Wait(ctx); err != nil {
			return err
		}
	}
}
