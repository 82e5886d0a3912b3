// Package queue provides the bounded in-memory queue behind session mailboxes
// and the persistence writers.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/okian/draftd/pkg/metrics"
)

const defaultCapacity = 1024

// Queue is a bounded FIFO with non-blocking and bounded-wait enqueue.
type Queue[T any] interface {
	// Enqueue adds item without blocking and reports whether it was accepted.
	Enqueue(ctx context.Context, item T) bool

	// EnqueueWait waits up to timeout for space. It returns ErrFull when the
	// wait expires and ErrClosed once the queue is closed.
	EnqueueWait(ctx context.Context, item T, timeout time.Duration) error

	// Receive blocks for the next item. After Close it keeps returning the
	// remaining items and then ErrClosed.
	Receive(ctx context.Context) (T, error)

	Len() int
	Close() error
	IsClosed() bool
}

// InMemoryQueue implements Queue over a buffered channel.
type InMemoryQueue[T any] struct {
	name     string
	capacity int
	items    chan T

	mu      sync.RWMutex
	closed  bool
	closing chan struct{}
	once    sync.Once
}

// NewInMemoryQueue creates a queue. Name labels its metrics.
func NewInMemoryQueue[T any](opts ...Option) *InMemoryQueue[T] {
	cfg := config{name: "queue", capacity: defaultCapacity}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &InMemoryQueue[T]{
		name:     cfg.name,
		capacity: cfg.capacity,
		items:    make(chan T, cfg.capacity),
		closing:  make(chan struct{}),
	}
}

// Enqueue adds an item if there is room.
func (q *InMemoryQueue[T]) Enqueue(ctx context.Context, item T) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueError(q.name, "closed")
		return false
	}
	select {
	case q.items <- item:
		q.accepted()
		return true
	case <-ctx.Done():
		metrics.RecordQueueError(q.name, "context_cancelled")
		return false
	default:
		metrics.RecordQueueError(q.name, "full")
		return false
	}
}

// EnqueueWait adds an item, waiting up to timeout for room.
func (q *InMemoryQueue[T]) EnqueueWait(ctx context.Context, item T, timeout time.Duration) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueError(q.name, "closed")
		return ErrClosed
	}
	select {
	case q.items <- item:
		q.accepted()
		return nil
	default:
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case q.items <- item:
		q.accepted()
		return nil
	case <-q.closing:
		metrics.RecordQueueError(q.name, "closed")
		return ErrClosed
	case <-ctx.Done():
		metrics.RecordQueueError(q.name, "context_cancelled")
		return ctx.Err()
	case <-t.C:
		metrics.RecordQueueError(q.name, "full")
		return ErrFull
	}
}

func (q *InMemoryQueue[T]) accepted() {
	metrics.RecordQueueEnqueue(q.name)
	metrics.AddQueueDepth(q.name, 1)
}

// Receive returns the next item.
func (q *InMemoryQueue[T]) Receive(ctx context.Context) (T, error) {
	select {
	case item, ok := <-q.items:
		if !ok {
			var zero T
			return zero, ErrClosed
		}
		q.Took()
		return item, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Ready exposes the channel behind Receive for loops that select over other
// sources too. Call Took for every item read from it.
func (q *InMemoryQueue[T]) Ready() <-chan T {
	return q.items
}

// Took records that an item read from Ready left the queue.
func (q *InMemoryQueue[T]) Took() {
	metrics.RecordQueueDequeue(q.name)
	metrics.AddQueueDepth(q.name, -1)
}

// Len returns the number of queued items.
func (q *InMemoryQueue[T]) Len() int {
	return len(q.items)
}

// Capacity returns the queue bound.
func (q *InMemoryQueue[T]) Capacity() int {
	return q.capacity
}

// Close stops accepting items. Queued items stay receivable.
func (q *InMemoryQueue[T]) Close() error {
	q.once.Do(func() {
		close(q.closing)
		q.mu.Lock()
		q.closed = true
		close(q.items)
		q.mu.Unlock()
	})
	return nil
}

// IsClosed reports whether Close was called.
func (q *InMemoryQueue[T]) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
