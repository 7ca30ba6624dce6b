package store

import (
	"context"
	"time"
)

// Cache is the narrow contract the core relies on for fast ephemeral state.
// Entries carry a TTL enforced by the backing implementation; an expired
// entry is indistinguishable from an absent one.
type Cache interface {
	// SetWithTTL stores value under key, expiring after ttl.
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get retrieves the value for key. The second return is false when the
	// key is absent or expired.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Delete removes the key if present.
	Delete(ctx context.Context, key string) error
}

// Queue is the narrow contract for the shared dispatch queue. Push and Pop
// are safe for concurrent use by many producers and consumers; Pop is atomic,
// so multiple dispatcher loops never receive the same item.
type Queue interface {
	// Push appends an item to the named queue.
	Push(ctx context.Context, name string, item []byte) error

	// Pop removes and returns the oldest item from the named queue, waiting
	// up to timeout. The second return is false when the wait timed out.
	Pop(ctx context.Context, name string, timeout time.Duration) ([]byte, bool, error)

	// Len reports the number of items currently queued under name.
	Len(ctx context.Context, name string) (int, error)
}
