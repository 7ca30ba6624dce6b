// Package memstore provides in-process implementations of the store.Cache
// and store.Queue contracts. The interfaces mirror what a networked
// cache/queue server would offer so the backend stays swappable, but the
// process-local versions are sufficient for a single worker instance.
package memstore

import (
	"context"
	"sync"
	"time"
)

// cacheEntry holds one cached value and its expiry.
type cacheEntry struct {
	value     []byte
	expiresAt time.Time
}

// Cache is an in-memory TTL cache implementing store.Cache.
// Expired entries are invisible to readers immediately and are physically
// removed by a background janitor.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	done    chan struct{}
	closeMu sync.Once
}

// NewCache creates a Cache whose janitor sweeps expired entries every
// sweepInterval. A zero sweepInterval disables the janitor; entries are then
// only reclaimed lazily on read.
func NewCache(sweepInterval time.Duration) *Cache {
	c := &Cache{
		entries: make(map[string]cacheEntry),
		done:    make(chan struct{}),
	}

	if sweepInterval > 0 {
		go c.janitor(sweepInterval)
	}

	return c
}

// SetWithTTL stores value under key, expiring after ttl.
func (c *Cache) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	stored := make([]byte, len(value))
	copy(stored, value)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{
		value:     stored,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

// Get retrieves the value for key. Returns false for absent or expired keys.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false, nil
	}

	value := make([]byte, len(entry.value))
	copy(value, entry.value)
	return value, true, nil
}

// Delete removes the key if present.
func (c *Cache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

// Close stops the janitor goroutine.
func (c *Cache) Close() {
	c.closeMu.Do(func() {
		close(c.done)
	})
}

// janitor periodically removes expired entries.
func (c *Cache) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for key, entry := range c.entries {
				if now.After(entry.expiresAt) {
					delete(c.entries, key)
				}
			}
			c.mu.Unlock()
		}
	}
}
