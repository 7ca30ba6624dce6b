package store

import (
	"context"

	"github.com/bl1nk/agent-worker/internal/domain"
)

// IdempotencyStore defines the interface for persisting idempotency records.
type IdempotencyStore interface {
	// GetRecord retrieves the record for (operationType, key).
	// Returns ErrIdempotencyRecordNotFound if absent.
	GetRecord(ctx context.Context, operationType, key string) (*domain.IdempotencyRecord, error)

	// UpsertRecord inserts or replaces the record for its
	// (operation type, idempotency key) pair. Last writer wins; callers are
	// expected to have checked the payload hash first.
	UpsertRecord(ctx context.Context, record *domain.IdempotencyRecord) error

	// DeleteExpired removes all records past expiry and returns the count removed.
	DeleteExpired(ctx context.Context) (int64, error)
}
