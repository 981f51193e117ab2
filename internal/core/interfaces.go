package core

import "context"

// Embedder converts text into a fixed-length vector. Implementations must
// produce vectors of exactly Dimension() elements; an index rejects vectors
// of any other length.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the vector dimension this embedder produces.
	Dimension() int

	// Name identifies the embedder in fingerprints and metadata.
	Name() string
}

// VectorIndex stores chunks with their embeddings and supports hybrid
// (vector + keyword) search.
type VectorIndex interface {
	// Upsert inserts chunks into the index. All embeddings must share the
	// index dimension.
	Upsert(ctx context.Context, chunks []Chunk) error

	// Search returns up to k chunks ranked by hybrid relevance to the
	// query vector and query text. Fewer than k chunks in the index is
	// not an error.
	Search(ctx context.Context, vector []float32, text string, k int) ([]SearchResult, error)

	// Reset discards every chunk in the index.
	Reset(ctx context.Context) error

	// Count reports how many chunks the index holds.
	Count(ctx context.Context) (int, error)

	// Close releases the index.
	Close() error
}

// SessionStore persists session turns durably.
type SessionStore interface {
	// Append writes one turn. The write is flushed before Append returns.
	Append(ctx context.Context, turn Turn) error

	// Recent returns the limit most recent turns for a session,
	// oldest-first. Unknown sessions yield an empty slice, not an error.
	Recent(ctx context.Context, sessionID string, limit int) ([]Turn, error)

	// Close releases the store.
	Close() error
}

// ChatModel is the model invocation boundary: messages in, text out.
// When onDelta is non-nil, implementations that stream call it with each
// text fragment as it arrives; the full concatenated response is still
// returned synchronously.
type ChatModel interface {
	Complete(ctx context.Context, messages []Message, onDelta func(string)) (string, error)
}
