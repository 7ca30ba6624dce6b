package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/bl1nk/agent-worker/internal/domain"
	"github.com/bl1nk/agent-worker/internal/platform/logger"
	"github.com/bl1nk/agent-worker/internal/store"
)

// IdempotencyStore implements the store.IdempotencyStore interface using PostgreSQL.
type IdempotencyStore struct {
	db store.DBTX
}

// NewIdempotencyStore creates a new IdempotencyStore.
func NewIdempotencyStore(db store.DBTX) *IdempotencyStore {
	return &IdempotencyStore{
		db: db,
	}
}

// GetRecord retrieves the idempotency record for (operationType, key).
func (s *IdempotencyStore) GetRecord(
	ctx context.Context,
	operationType, key string,
) (*domain.IdempotencyRecord, error) {
	query := `
		SELECT operation_type, idempotency_key, payload_hash, result, created_at, expires_at
		FROM idempotency_keys
		WHERE operation_type = $1 AND idempotency_key = $2
	`

	var (
		record domain.IdempotencyRecord
		result []byte
	)
	err := s.db.QueryRowContext(ctx, query, operationType, key).Scan(
		&record.OperationType,
		&record.IdempotencyKey,
		&record.PayloadHash,
		&result,
		&record.CreatedAt,
		&record.ExpiresAt,
	)
	if err != nil {
		if store.IsNotFoundError(MapError(err)) {
			return nil, fmt.Errorf(
				"%w: %s:%s",
				store.ErrIdempotencyRecordNotFound,
				operationType,
				key,
			)
		}
		return nil, fmt.Errorf("failed to get idempotency record: %w", MapError(err))
	}

	if result != nil {
		record.Result = result
	}

	return &record, nil
}

// UpsertRecord inserts or replaces the record for its key pair.
func (s *IdempotencyStore) UpsertRecord(
	ctx context.Context,
	record *domain.IdempotencyRecord,
) error {
	log := logger.FromContext(ctx)

	query := `
		INSERT INTO idempotency_keys (
			operation_type, idempotency_key, payload_hash, result, created_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (operation_type, idempotency_key)
		DO UPDATE SET
			payload_hash = EXCLUDED.payload_hash,
			result = EXCLUDED.result,
			expires_at = EXCLUDED.expires_at
	`

	_, err := s.db.ExecContext(ctx, query,
		record.OperationType,
		record.IdempotencyKey,
		record.PayloadHash,
		nullableJSON(record.Result),
		record.CreatedAt,
		record.ExpiresAt,
	)
	if err != nil {
		mapped := MapError(err)
		log.Error("failed to upsert idempotency record",
			"operation_type", record.OperationType,
			"idempotency_key", record.IdempotencyKey,
			"error", mapped)
		return fmt.Errorf("failed to upsert idempotency record: %w", mapped)
	}

	return nil
}

// DeleteExpired removes all records past expiry and returns the count removed.
func (s *IdempotencyStore) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(
		ctx,
		`DELETE FROM idempotency_keys WHERE expires_at < $1`,
		time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired idempotency records: %w", MapError(err))
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return removed, nil
}
