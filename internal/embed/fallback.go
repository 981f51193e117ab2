package embed

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/hunterwarburton/sage/internal/core"
)

// FallbackDimension matches the dimension of the small sentence-transformer
// models the hash embedder stands in for.
const FallbackDimension = 384

// HashEmbedder is the deterministic fallback embedding provider. It maps
// hashed character trigrams of the normalized text into a fixed-dimension
// vector and L2-normalizes the result. It has no external dependency and
// never fails, which makes it the circuit-breaker target when the primary
// provider is down.
//
// Vectors produced here live in a different space than the primary
// provider's; an index ingested with the fallback must be recreated before
// switching back (the ingestor records which embedder was used).
type HashEmbedder struct {
	dimension int
}

// NewHashEmbedder creates a fallback embedder. Non-positive dimensions get
// the default.
func NewHashEmbedder(dimension int) *HashEmbedder {
	if dimension <= 0 {
		dimension = FallbackDimension
	}
	return &HashEmbedder{dimension: dimension}
}

// Embed derives a vector purely from the text. Identical inputs yield
// bit-identical vectors.
func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vector := make([]float32, e.dimension)

	norm := normalizeText(text)
	if norm == "" {
		return vector, nil
	}

	// Pad so texts shorter than a trigram still produce a signal.
	runes := []rune(" " + norm + " ")
	for i := 0; i+3 <= len(runes); i++ {
		h := fnv.New64a()
		h.Write([]byte(string(runes[i : i+3])))
		sum := h.Sum64()

		bucket := int(sum % uint64(e.dimension))
		// Second hash bit decides the sign so buckets cancel instead of
		// saturating on long inputs.
		if (sum>>32)&1 == 0 {
			vector[bucket]++
		} else {
			vector[bucket]--
		}
	}

	var sumSquares float64
	for _, v := range vector {
		sumSquares += float64(v) * float64(v)
	}
	if sumSquares > 0 {
		inv := float32(1 / math.Sqrt(sumSquares))
		for i := range vector {
			vector[i] *= inv
		}
	}

	return vector, nil
}

// Dimension returns the configured vector dimension.
func (e *HashEmbedder) Dimension() int {
	return e.dimension
}

// Name identifies this embedder in fingerprints.
func (e *HashEmbedder) Name() string {
	return "hash-trigram"
}

// normalizeText lowercases and collapses whitespace so that formatting
// differences do not change the embedding.
func normalizeText(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	lastSpace := true
	for _, r := range strings.ToLower(text) {
		if unicode.IsSpace(r) {
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
			continue
		}
		b.WriteRune(r)
		lastSpace = false
	}
	return strings.TrimSpace(b.String())
}

var _ core.Embedder = (*HashEmbedder)(nil)
