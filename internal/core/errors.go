package core

import "errors"

// Error taxonomy for the agent pipeline. Failures below the orchestrator
// (embedding, retrieval) are recovered locally; generation failures are
// fatal to the turn; persistence failures are reported on an otherwise
// successful response.
var (
	// ErrEmbeddingUnavailable signals the primary embedding provider
	// failed. Callers recover by switching to the fallback embedder.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")

	// ErrSourceUnreachable signals a document fetch exhausted its retries.
	ErrSourceUnreachable = errors.New("source unreachable")

	// ErrIndexUnavailable signals vector search is degraded. The agent
	// proceeds with an empty retrieval result.
	ErrIndexUnavailable = errors.New("index unavailable")

	// ErrGenerationFailed signals the model invocation failed. The turn
	// is not persisted.
	ErrGenerationFailed = errors.New("generation failed")

	// ErrPersistenceFailed signals the session write failed after a
	// successful generation. The response is still returned.
	ErrPersistenceFailed = errors.New("persistence failed")

	// ErrDimensionMismatch signals an embedding whose dimension differs
	// from the one the index was created with.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)
