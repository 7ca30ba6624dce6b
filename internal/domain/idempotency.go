package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// IdempotencyRecord stores the outcome of an operation keyed by
// (operation type, caller-supplied key). A record deduplicates repeat calls
// until ExpiresAt passes; after that the key is treated as new.
type IdempotencyRecord struct {
	OperationType  string          `json:"operation_type"`
	IdempotencyKey string          `json:"idempotency_key"`
	PayloadHash    string          `json:"payload_hash"`
	Result         json.RawMessage `json:"result"`
	CreatedAt      time.Time       `json:"created_at"`
	ExpiresAt      time.Time       `json:"expires_at"`
}

// Expired reports whether the record no longer deduplicates.
func (r *IdempotencyRecord) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// HashPayload computes the canonical content hash used to detect idempotency
// key reuse with a different payload. The payload is round-tripped through
// encoding/json so equivalent documents hash identically regardless of the
// caller's key ordering.
func HashPayload(payload json.RawMessage) (string, error) {
	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		return "", fmt.Errorf("%w: payload is not valid JSON: %v", ErrValidation, err)
	}

	canonical, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize payload: %w", err)
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
