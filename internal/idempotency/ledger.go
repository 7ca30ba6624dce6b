// Package idempotency deduplicates operations keyed by
// (operation type, caller-supplied key). Webhook handlers consult the ledger
// before submitting work so a redelivered request returns the original result
// instead of re-executing the operation.
package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/bl1nk/agent-worker/internal/domain"
	"github.com/bl1nk/agent-worker/internal/platform/metrics"
	"github.com/bl1nk/agent-worker/internal/store"
)

// CheckResult is the outcome of a duplicate check.
type CheckResult struct {
	// IsDuplicate is true when a live record with a matching payload hash
	// exists; StoredResult then holds the original operation's result.
	IsDuplicate  bool
	StoredResult json.RawMessage
}

// Ledger implements the idempotency check/store/reap operations over a
// backing IdempotencyStore. Storage failures always propagate to callers;
// the ledger never converts an infrastructure error into a "not duplicate".
type Ledger struct {
	store  store.IdempotencyStore
	logger *slog.Logger
	now    func() time.Time
}

// NewLedger creates a Ledger over the given store.
func NewLedger(idemStore store.IdempotencyStore, logger *slog.Logger) *Ledger {
	return &Ledger{
		store:  idemStore,
		logger: logger.With("component", "idempotency_ledger"),
		now:    time.Now,
	}
}

// CheckDuplicate looks up the ledger by (operationType, key) and compares the
// payload's content hash against the stored one. A reused key with a
// different payload is a caller bug and fails with domain.ErrPayloadConflict.
// Expired records no longer deduplicate.
func (l *Ledger) CheckDuplicate(
	ctx context.Context,
	operationType, key string,
	payload json.RawMessage,
) (*CheckResult, error) {
	hash, err := domain.HashPayload(payload)
	if err != nil {
		return nil, err
	}

	record, err := l.store.GetRecord(ctx, operationType, key)
	if err != nil {
		if store.IsNotFoundError(err) {
			return &CheckResult{IsDuplicate: false}, nil
		}
		return nil, fmt.Errorf("idempotency lookup failed: %w", err)
	}

	if record.Expired(l.now().UTC()) {
		l.logger.Debug("idempotency record expired, treating as new",
			"operation_type", operationType,
			"idempotency_key", key)
		return &CheckResult{IsDuplicate: false}, nil
	}

	if record.PayloadHash != hash {
		l.logger.Warn("idempotency key reused with different payload",
			"operation_type", operationType,
			"idempotency_key", key)
		return nil, fmt.Errorf(
			"%w: operation %s key %s",
			domain.ErrPayloadConflict,
			operationType,
			key,
		)
	}

	metrics.IdempotencyHits.WithLabelValues(operationType).Inc()
	l.logger.Debug("duplicate operation detected",
		"operation_type", operationType,
		"idempotency_key", key)

	return &CheckResult{
		IsDuplicate:  true,
		StoredResult: record.Result,
	}, nil
}

// Store upserts the record for (operationType, key) with the payload hash and
// result, expiring ttl from now. Safe to call concurrently for the same key;
// last writer wins since the payload hash is checked before execution.
func (l *Ledger) Store(
	ctx context.Context,
	operationType, key string,
	payload, result json.RawMessage,
	ttl time.Duration,
) error {
	hash, err := domain.HashPayload(payload)
	if err != nil {
		return err
	}

	now := l.now().UTC()
	record := &domain.IdempotencyRecord{
		OperationType:  operationType,
		IdempotencyKey: key,
		PayloadHash:    hash,
		Result:         result,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
	}

	if err := l.store.UpsertRecord(ctx, record); err != nil {
		return fmt.Errorf("idempotency store failed: %w", err)
	}

	return nil
}

// Reap deletes all expired records and returns the count removed.
// It is driven by a periodic timer; failures are reported to the caller but
// must never reach request-path code.
func (l *Ledger) Reap(ctx context.Context) (int64, error) {
	removed, err := l.store.DeleteExpired(ctx)
	if err != nil {
		return 0, fmt.Errorf("idempotency reap failed: %w", err)
	}

	if removed > 0 {
		l.logger.Info("reaped expired idempotency records", "removed", removed)
	}

	return removed, nil
}

// RunReaper loops Reap on the given interval until the context is cancelled.
// Reap failures are logged and the loop continues.
func (l *Ledger) RunReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := l.Reap(ctx); err != nil {
				l.logger.Error("idempotency reaper pass failed", "error", err)
			}
		}
	}
}
