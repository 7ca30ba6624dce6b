package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestHashPayload(t *testing.T) {
	t.Parallel()

	h1, err := HashPayload(json.RawMessage(`{"a":1,"b":2}`))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	// Key order must not affect the hash.
	h2, err := HashPayload(json.RawMessage(`{"b":2,"a":1}`))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if h1 != h2 {
		t.Errorf("Expected equal hashes for equivalent documents, got %s and %s", h1, h2)
	}

	h3, err := HashPayload(json.RawMessage(`{"a":1,"b":3}`))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if h1 == h3 {
		t.Error("Expected different hashes for different documents")
	}

	if _, err := HashPayload(json.RawMessage(`not json`)); !errors.Is(err, ErrValidation) {
		t.Errorf("Expected ErrValidation for invalid JSON, got %v", err)
	}
}

func TestIdempotencyRecordExpired(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	record := IdempotencyRecord{ExpiresAt: now.Add(time.Hour)}

	if record.Expired(now) {
		t.Error("Expected record to be live before expiry")
	}

	if !record.Expired(now.Add(2 * time.Hour)) {
		t.Error("Expected record to be expired after expiry")
	}
}
