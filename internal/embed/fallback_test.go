package embed

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashEmbedderDeterministic(t *testing.T) {
	e := NewHashEmbedder(FallbackDimension)

	first, err := e.Embed(context.Background(), "the quick brown fox")
	require.NoError(t, err)
	second, err := e.Embed(context.Background(), "the quick brown fox")
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestHashEmbedderDimension(t *testing.T) {
	e := NewHashEmbedder(FallbackDimension)

	vec, err := e.Embed(context.Background(), "hello world")
	require.NoError(t, err)

	assert.Len(t, vec, FallbackDimension)
	assert.Equal(t, FallbackDimension, e.Dimension())
}

func TestHashEmbedderUnitNorm(t *testing.T) {
	e := NewHashEmbedder(FallbackDimension)

	vec, err := e.Embed(context.Background(), "agents search their knowledge before answering")
	require.NoError(t, err)

	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-4)
}

func TestHashEmbedderNormalizesWhitespaceAndCase(t *testing.T) {
	e := NewHashEmbedder(FallbackDimension)

	a, err := e.Embed(context.Background(), "Hello   World")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "hello world")
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestHashEmbedderDistinguishesTexts(t *testing.T) {
	e := NewHashEmbedder(FallbackDimension)

	a, err := e.Embed(context.Background(), "thai green curry recipe")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "galangal paste preparation")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestHashEmbedderEmptyText(t *testing.T) {
	e := NewHashEmbedder(FallbackDimension)

	vec, err := e.Embed(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, vec, FallbackDimension)
}
