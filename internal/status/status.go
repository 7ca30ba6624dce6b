// Package status maintains the fast-path projection of task status.
// The projection is a cache over the durable task record: it is written
// after every durable transition and readers fall back to the database on a
// miss, so a stale or evicted entry is never more than a slow read.
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bl1nk/agent-worker/internal/domain"
	"github.com/bl1nk/agent-worker/internal/store"
)

// Projection is the cached view of one task's status plus a small
// status-specific data blob.
type Projection struct {
	TaskID    uuid.UUID         `json:"task_id"`
	Status    domain.TaskStatus `json:"status"`
	Data      json.RawMessage   `json:"data,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Store is the write-through cache layer for status projections.
type Store struct {
	cache store.Cache
	ttl   time.Duration
}

// NewStore creates a Store writing projections with the given TTL.
func NewStore(cache store.Cache, ttl time.Duration) *Store {
	return &Store{
		cache: cache,
		ttl:   ttl,
	}
}

// cacheKey namespaces projections in the shared cache.
func cacheKey(taskID uuid.UUID) string {
	return "task_status:" + taskID.String()
}

// SetStatus writes a timestamped projection for the task, overwriting any
// prior entry.
func (s *Store) SetStatus(
	ctx context.Context,
	taskID uuid.UUID,
	status domain.TaskStatus,
	data json.RawMessage,
) error {
	projection := Projection{
		TaskID:    taskID,
		Status:    status,
		Data:      data,
		UpdatedAt: time.Now().UTC(),
	}

	encoded, err := json.Marshal(projection)
	if err != nil {
		return fmt.Errorf("failed to encode status projection: %w", err)
	}

	if err := s.cache.SetWithTTL(ctx, cacheKey(taskID), encoded, s.ttl); err != nil {
		return fmt.Errorf("failed to write status projection: %w", err)
	}

	return nil
}

// GetStatus retrieves the projection for the task. The second return is
// false on a cache miss; callers then read the durable record instead.
func (s *Store) GetStatus(ctx context.Context, taskID uuid.UUID) (*Projection, bool, error) {
	encoded, ok, err := s.cache.Get(ctx, cacheKey(taskID))
	if err != nil {
		return nil, false, fmt.Errorf("failed to read status projection: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	var projection Projection
	if err := json.Unmarshal(encoded, &projection); err != nil {
		return nil, false, fmt.Errorf("failed to decode status projection: %w", err)
	}

	return &projection, true, nil
}
