package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bl1nk/agent-worker/internal/store"
)

// Queue is an in-memory implementation of store.Queue backed by one buffered
// channel per queue name. Channel receive is atomic, so concurrent consumers
// never observe the same item.
type Queue struct {
	mu       sync.Mutex
	capacity int
	queues   map[string]chan []byte
	closed   bool
}

// NewQueue creates a Queue whose named lanes each buffer up to capacity items.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 100
	}
	return &Queue{
		capacity: capacity,
		queues:   make(map[string]chan []byte),
	}
}

// lane returns the channel for name, creating it on first use.
func (q *Queue) lane(name string) (chan []byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, store.ErrQueueClosed
	}

	ch, ok := q.queues[name]
	if !ok {
		ch = make(chan []byte, q.capacity)
		q.queues[name] = ch
	}
	return ch, nil
}

// Push appends an item to the named queue.
func (q *Queue) Push(ctx context.Context, name string, item []byte) error {
	ch, err := q.lane(name)
	if err != nil {
		return err
	}

	stored := make([]byte, len(item))
	copy(stored, item)

	select {
	case ch <- stored:
		return nil
	default:
		return fmt.Errorf("%w: queue %q capacity %d reached", store.ErrQueueFull, name, q.capacity)
	}
}

// Pop removes and returns the oldest item from the named queue, waiting up to
// timeout. Returns false when the wait timed out or the context was cancelled.
func (q *Queue) Pop(ctx context.Context, name string, timeout time.Duration) ([]byte, bool, error) {
	ch, err := q.lane(name)
	if err != nil {
		return nil, false, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case item, ok := <-ch:
		if !ok {
			return nil, false, store.ErrQueueClosed
		}
		return item, true, nil
	case <-timer.C:
		return nil, false, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// Len reports the number of items currently queued under name.
func (q *Queue) Len(ctx context.Context, name string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ch, ok := q.queues[name]
	if !ok {
		return 0, nil
	}
	return len(ch), nil
}

// Close marks the queue closed. Subsequent pushes and pops fail with
// ErrQueueClosed; items already buffered are discarded.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	for _, ch := range q.queues {
		close(ch)
	}
}
