package vector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_StoreEmbedding(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()

	id, err := s.StoreEmbedding(context.Background(), "hello", []float64{1, 0, 0}, map[string]any{"lang": "en"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	_, err = s.StoreEmbedding(context.Background(), "empty", nil, nil)
	assert.Error(t, err)
}

func TestMemoryStore_SearchSimilar(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.StoreEmbedding(ctx, "exact", []float64{1, 0, 0}, nil)
	require.NoError(t, err)
	_, err = s.StoreEmbedding(ctx, "close", []float64{0.9, 0.1, 0}, nil)
	require.NoError(t, err)
	_, err = s.StoreEmbedding(ctx, "orthogonal", []float64{0, 1, 0}, nil)
	require.NoError(t, err)

	matches, err := s.SearchSimilar(ctx, []float64{1, 0, 0}, 10, 0.5)
	require.NoError(t, err)
	require.Len(t, matches, 2)

	// Best match first.
	assert.Equal(t, "exact", matches[0].Text)
	assert.InDelta(t, 1.0, matches[0].Similarity, 1e-9)
	assert.Equal(t, "close", matches[1].Text)
}

func TestMemoryStore_SearchSimilar_Limit(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.StoreEmbedding(ctx, "doc", []float64{1, 0}, nil)
		require.NoError(t, err)
	}

	matches, err := s.SearchSimilar(ctx, []float64{1, 0}, 3, 0)
	require.NoError(t, err)
	assert.Len(t, matches, 3)
}

func TestMemoryStore_SearchSimilar_DimensionMismatchSkipped(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.StoreEmbedding(ctx, "short", []float64{1, 0}, nil)
	require.NoError(t, err)
	_, err = s.StoreEmbedding(ctx, "long", []float64{1, 0, 0}, nil)
	require.NoError(t, err)

	matches, err := s.SearchSimilar(ctx, []float64{1, 0}, 10, 0)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "short", matches[0].Text)
}

func TestCosineSimilarity(t *testing.T) {
	t.Parallel()

	sim, err := cosineSimilarity([]float64{1, 0}, []float64{0, 1})
	require.NoError(t, err)
	assert.InDelta(t, 0, sim, 1e-9)

	sim, err = cosineSimilarity([]float64{1, 1}, []float64{1, 1})
	require.NoError(t, err)
	assert.InDelta(t, 1, sim, 1e-9)

	_, err = cosineSimilarity([]float64{0, 0}, []float64{1, 1})
	assert.Error(t, err)
}
