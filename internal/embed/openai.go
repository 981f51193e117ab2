package embed

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/hunterwarburton/sage/internal/core"
	"github.com/hunterwarburton/sage/internal/logger"
)

const (
	// DefaultModel is used when no embedding model is configured.
	DefaultModel = "text-embedding-3-small"
	// DefaultDimension is the dimension requested from the API.
	DefaultDimension = 1536
)

// OpenAIEmbedder is the primary embedding provider. It calls an
// OpenAI-compatible embeddings endpoint; any transport failure or
// malformed response surfaces as core.ErrEmbeddingUnavailable so the
// caller can switch to the fallback embedder.
type OpenAIEmbedder struct {
	client    openai.Client
	model     string
	dimension int
	baseURL   string
}

// Option configures an OpenAIEmbedder.
type Option func(*OpenAIEmbedder)

// WithModel overrides the embedding model.
func WithModel(model string) Option {
	return func(e *OpenAIEmbedder) {
		if model != "" {
			e.model = model
		}
	}
}

// WithDimension overrides the requested vector dimension.
func WithDimension(dim int) Option {
	return func(e *OpenAIEmbedder) {
		if dim > 0 {
			e.dimension = dim
		}
	}
}

// WithBaseURL points the client at a non-default endpoint.
func WithBaseURL(baseURL string) Option {
	return func(e *OpenAIEmbedder) {
		e.baseURL = baseURL
	}
}

// NewOpenAIEmbedder creates the primary embedder.
func NewOpenAIEmbedder(apiKey string, opts ...Option) *OpenAIEmbedder {
	e := &OpenAIEmbedder{
		model:     DefaultModel,
		dimension: DefaultDimension,
	}
	for _, opt := range opts {
		opt(e)
	}

	clientOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if e.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(e.baseURL))
	}
	e.client = openai.NewClient(clientOpts...)
	return e
}

// Embed generates an embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(text),
		},
	}
	if e.dimension > 0 {
		params.Dimensions = openai.Int(int64(e.dimension))
	}

	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrEmbeddingUnavailable, err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("%w: empty embeddings response", core.ErrEmbeddingUnavailable)
	}

	raw := resp.Data[0].Embedding
	vector := make([]float32, len(raw))
	for i, v := range raw {
		vector[i] = float32(v)
	}
	if len(vector) != e.dimension {
		return nil, fmt.Errorf("%w: got %d dimensions, want %d",
			core.ErrEmbeddingUnavailable, len(vector), e.dimension)
	}

	logger.Debug("Embedded %d chars into %d dimensions via %s", len(text), len(vector), e.model)
	return vector, nil
}

// Dimension returns the configured vector dimension.
func (e *OpenAIEmbedder) Dimension() int {
	return e.dimension
}

// Name identifies this embedder in fingerprints.
func (e *OpenAIEmbedder) Name() string {
	return "openai/" + e.model
}

var _ core.Embedder = (*OpenAIEmbedder)(nil)
