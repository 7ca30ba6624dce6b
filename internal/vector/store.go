// Package vector stores embeddings and serves similarity lookups.
// The similarity math is a pure utility the orchestrator's embedding branch
// calls after generating a vector; it carries no task state.
package vector

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry is one stored embedding with its source text and metadata.
type Entry struct {
	ID        string         `json:"id"`
	Text      string         `json:"text"`
	Embedding []float64      `json:"embedding"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Match is a search hit with its similarity score.
type Match struct {
	ID         string         `json:"id"`
	Text       string         `json:"text"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Similarity float64        `json:"similarity"`
}

// Store is the contract the embedding execution branch writes through.
type Store interface {
	StoreEmbedding(ctx context.Context, text string, embedding []float64, metadata map[string]any) (string, error)
	SearchSimilar(ctx context.Context, query []float64, limit int, threshold float64) ([]Match, error)
}

// MemoryStore is an in-process Store implementation.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// StoreEmbedding stores the embedding and returns its generated ID.
func (s *MemoryStore) StoreEmbedding(
	ctx context.Context,
	text string,
	embedding []float64,
	metadata map[string]any,
) (string, error) {
	if len(embedding) == 0 {
		return "", fmt.Errorf("embedding cannot be empty")
	}

	entry := Entry{
		ID:        "vec_" + uuid.NewString(),
		Text:      text,
		Embedding: embedding,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.entries = append(s.entries, entry)
	s.mu.Unlock()

	return entry.ID, nil
}

// SearchSimilar returns up to limit entries whose cosine similarity to the
// query meets the threshold, best first.
func (s *MemoryStore) SearchSimilar(
	ctx context.Context,
	query []float64,
	limit int,
	threshold float64,
) ([]Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []Match
	for _, entry := range s.entries {
		similarity, err := cosineSimilarity(query, entry.Embedding)
		if err != nil {
			continue
		}
		if similarity >= threshold {
			matches = append(matches, Match{
				ID:         entry.ID,
				Text:       entry.Text,
				Metadata:   entry.Metadata,
				Similarity: similarity,
			})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}

	return matches, nil
}

// cosineSimilarity computes the cosine of the angle between two vectors.
func cosineSimilarity(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vector dimensions differ: %d vs %d", len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0, fmt.Errorf("zero-magnitude vector")
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}
