package index

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hunterwarburton/sage/internal/core"
)

func testChunk(id, text string, embedding []float32) core.Chunk {
	return core.Chunk{ID: id, Text: text, SourceURL: "https://example.com/doc", Embedding: embedding}
}

func TestLocalUpsertAndSearch(t *testing.T) {
	idx, err := OpenLocal(filepath.Join(t.TempDir(), "index.json"))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, idx.Upsert(ctx, []core.Chunk{
		testChunk("a", "pad thai with tamarind and fish sauce", []float32{1, 0, 0}),
		testChunk("b", "green curry with coconut milk", []float32{0, 1, 0}),
		testChunk("c", "mango sticky rice dessert", []float32{0, 0, 1}),
	}))

	results, err := idx.Search(ctx, []float32{1, 0, 0}, "tamarind fish sauce", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "a", results[0].Chunk.ID)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestLocalSearchBounds(t *testing.T) {
	idx, err := OpenLocal(filepath.Join(t.TempDir(), "index.json"))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, idx.Upsert(ctx, []core.Chunk{
		testChunk("a", "one", []float32{1, 0}),
		testChunk("b", "two", []float32{0, 1}),
	}))

	t.Run("k larger than index returns everything", func(t *testing.T) {
		results, err := idx.Search(ctx, []float32{1, 0}, "one", 10)
		require.NoError(t, err)
		assert.Len(t, results, 2)
	})

	t.Run("k zero returns empty", func(t *testing.T) {
		results, err := idx.Search(ctx, []float32{1, 0}, "one", 0)
		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("empty index returns empty", func(t *testing.T) {
		empty, err := OpenLocal(filepath.Join(t.TempDir(), "index.json"))
		require.NoError(t, err)
		results, err := empty.Search(ctx, []float32{1, 0}, "one", 5)
		require.NoError(t, err)
		assert.Empty(t, results)
	})
}

func TestLocalPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.json")
	ctx := context.Background()

	idx, err := OpenLocal(path)
	require.NoError(t, err)
	require.NoError(t, idx.Upsert(ctx, []core.Chunk{
		testChunk("a", "durable chunk", []float32{1, 0}),
	}))

	reopened, err := OpenLocal(path)
	require.NoError(t, err)

	count, err := reopened.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, 2, reopened.Dimension())

	results, err := reopened.Search(ctx, []float32{1, 0}, "durable", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].Chunk.ID)
}

func TestLocalDimensionMismatch(t *testing.T) {
	idx, err := OpenLocal(filepath.Join(t.TempDir(), "index.json"))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, idx.Upsert(ctx, []core.Chunk{
		testChunk("a", "first", []float32{1, 0, 0}),
	}))

	err = idx.Upsert(ctx, []core.Chunk{
		testChunk("b", "wrong dimension", []float32{1, 0}),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)
}

func TestLocalResetClearsDimension(t *testing.T) {
	idx, err := OpenLocal(filepath.Join(t.TempDir(), "index.json"))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, idx.Upsert(ctx, []core.Chunk{
		testChunk("a", "first", []float32{1, 0, 0}),
	}))
	require.NoError(t, idx.Reset(ctx))

	count, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	// A different dimension is accepted after reset.
	require.NoError(t, idx.Upsert(ctx, []core.Chunk{
		testChunk("b", "second", []float32{1, 0}),
	}))
	assert.Equal(t, 2, idx.Dimension())
}

func TestLocalTieBreakIsStable(t *testing.T) {
	idx, err := OpenLocal(filepath.Join(t.TempDir(), "index.json"))
	require.NoError(t, err)

	ctx := context.Background()
	// Identical embeddings and texts score identically; insertion order wins.
	require.NoError(t, idx.Upsert(ctx, []core.Chunk{
		testChunk("first", "same text", []float32{1, 0}),
		testChunk("second", "same text", []float32{1, 0}),
	}))

	results, err := idx.Search(ctx, []float32{1, 0}, "same text", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "first", results[0].Chunk.ID)
	assert.Equal(t, "second", results[1].Chunk.ID)
}

func TestLocalKeywordOnlySearch(t *testing.T) {
	idx, err := OpenLocal(filepath.Join(t.TempDir(), "index.json"))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, idx.Upsert(ctx, []core.Chunk{
		testChunk("a", "pad thai with tamarind", []float32{1, 0}),
		testChunk("b", "green curry with coconut", []float32{0, 1}),
	}))

	// A nil query vector still ranks by keyword overlap.
	results, err := idx.Search(ctx, nil, "green curry", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].Chunk.ID)
}

func TestKeywordScore(t *testing.T) {
	assert.Zero(t, keywordScore("", "anything"))
	assert.Zero(t, keywordScore("query", ""))
	assert.Greater(t,
		keywordScore("tamarind sauce", "tamarind sauce over noodles"),
		keywordScore("tamarind sauce", "noodles with peanuts"))
}

func TestCosineScore(t *testing.T) {
	assert.Zero(t, cosineScore(nil, []float32{1, 0}))
	assert.Zero(t, cosineScore([]float32{1, 0}, []float32{1, 0, 0}))
	assert.InDelta(t, 1.0, cosineScore([]float32{1, 0}, []float32{2, 0}), 1e-5)
	assert.InDelta(t, 0.5, cosineScore([]float32{1, 0}, []float32{0, 1}), 1e-5)
	assert.InDelta(t, 0.0, cosineScore([]float32{1, 0}, []float32{-1, 0}), 1e-5)
}
