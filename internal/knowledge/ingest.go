package knowledge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hunterwarburton/sage/internal/core"
	"github.com/hunterwarburton/sage/internal/logger"
)

// IngestResult reports what one ingestion run did.
type IngestResult struct {
	SourceURL    string
	ChunksLoaded int
	ChunksFailed int
	Skipped      bool
	Embedder     string
	Degraded     bool
}

// Ingestor loads document sources into the vector index: fetch, chunk,
// embed, upsert. Re-running against an unchanged source is a no-op unless
// recreate is requested.
type Ingestor struct {
	fetcher       *Fetcher
	chunker       *Chunker
	index         core.VectorIndex
	primary       core.Embedder
	fallback      core.Embedder
	fingerprints  *FingerprintStore
	forceFallback bool
}

// IngestorOption configures an Ingestor.
type IngestorOption func(*Ingestor)

// WithChunker overrides the default chunker.
func WithChunker(c *Chunker) IngestorOption {
	return func(ing *Ingestor) {
		if c != nil {
			ing.chunker = c
		}
	}
}

// WithFetcher overrides the default fetcher.
func WithFetcher(f *Fetcher) IngestorOption {
	return func(ing *Ingestor) {
		if f != nil {
			ing.fetcher = f
		}
	}
}

// WithFallbackOnly skips the primary embedder entirely, as when the
// configuration selects the fallback provider.
func WithFallbackOnly(on bool) IngestorOption {
	return func(ing *Ingestor) {
		ing.forceFallback = on
	}
}

// NewIngestor wires an ingestor. primary may equal fallback when the
// configuration selects the fallback provider outright.
func NewIngestor(idx core.VectorIndex, primary, fallback core.Embedder, fingerprints *FingerprintStore, opts ...IngestorOption) *Ingestor {
	ing := &Ingestor{
		fetcher:      NewFetcher(),
		chunker:      NewChunker(),
		index:        idx,
		primary:      primary,
		fallback:     fallback,
		fingerprints: fingerprints,
	}
	for _, opt := range opts {
		opt(ing)
	}
	return ing
}

// Ingest loads one source URL. With recreate=false an unchanged source
// (same content digest as the last successful load) is skipped. With
// recreate=true the whole index is discarded first.
//
// The embedder is chosen once per run so every chunk in the index shares
// one embedding space: if the primary fails on the first chunk the whole
// run switches to the fallback and the result is flagged degraded.
// Individual chunk failures after that are skipped and counted.
func (ing *Ingestor) Ingest(ctx context.Context, sourceURL string, recreate bool) (IngestResult, error) {
	result := IngestResult{SourceURL: sourceURL}

	body, err := ing.fetcher.Fetch(ctx, sourceURL)
	if err != nil {
		return result, err
	}
	digest := ContentDigest(body)

	if recreate {
		logger.Info("Recreating index before ingesting %s", sourceURL)
		if err := ing.index.Reset(ctx); err != nil {
			return result, fmt.Errorf("failed to recreate index: %w", err)
		}
		if err := ing.fingerprints.Clear(); err != nil {
			return result, fmt.Errorf("failed to clear fingerprints: %w", err)
		}
	} else if fp, ok := ing.fingerprints.Get(sourceURL); ok && fp.Digest == digest {
		logger.Info("Source %s unchanged since %s, skipping", sourceURL, fp.LoadedAt.Format(time.RFC3339))
		result.Skipped = true
		result.Embedder = fp.Embedder
		result.Degraded = fp.Degraded
		return result, nil
	}

	texts := ing.chunker.Split(string(body))
	if len(texts) == 0 {
		logger.Warn("Source %s produced no chunks", sourceURL)
		return result, nil
	}

	embedder := ing.fallback
	if !ing.forceFallback && ing.primary != nil {
		embedder = ing.primary
	}

	now := time.Now().Unix()
	chunks := make([]core.Chunk, 0, len(texts))
	for i, text := range texts {
		vector, err := embedder.Embed(ctx, text)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return result, err
			}
			// First chunk failing with the primary switches the whole run
			// to the fallback; a mid-run switch would mix dimensions.
			if i == 0 && embedder == ing.primary && errors.Is(err, core.ErrEmbeddingUnavailable) {
				logger.Warn("Primary embedder unavailable (%v), ingesting %s with fallback", err, sourceURL)
				embedder = ing.fallback
				result.Degraded = true
				vector, err = embedder.Embed(ctx, text)
			}
			if err != nil {
				logger.Warn("Skipping chunk %d of %s: %v", i, sourceURL, err)
				result.ChunksFailed++
				continue
			}
		}

		chunks = append(chunks, core.Chunk{
			ID:        uuid.New().String(),
			Text:      text,
			SourceURL: sourceURL,
			Embedding: vector,
			Metadata: map[string]interface{}{
				"position": i,
				"embedder": embedder.Name(),
			},
			CreateTime: now,
		})
	}

	if len(chunks) > 0 {
		if err := ing.index.Upsert(ctx, chunks); err != nil {
			return result, fmt.Errorf("failed to load chunks into index: %w", err)
		}
	}
	result.ChunksLoaded = len(chunks)
	result.Embedder = embedder.Name()

	fp := Fingerprint{
		Digest:       digest,
		ChunksLoaded: result.ChunksLoaded,
		Embedder:     result.Embedder,
		Degraded:     result.Degraded,
		LoadedAt:     time.Now(),
	}
	if err := ing.fingerprints.Put(sourceURL, fp); err != nil {
		return result, fmt.Errorf("failed to record fingerprint: %w", err)
	}

	if result.ChunksFailed > 0 {
		logger.Warn("Ingested %s partially: %d chunks loaded, %d failed", sourceURL, result.ChunksLoaded, result.ChunksFailed)
	} else {
		logger.Info("Ingested %s: %d chunks loaded", sourceURL, result.ChunksLoaded)
	}
	return result, nil
}

// IngestAll loads every configured source URL in order. The recreate flag
// applies to the first source only; later sources append to the fresh
// index.
func (ing *Ingestor) IngestAll(ctx context.Context, sourceURLs []string, recreate bool) ([]IngestResult, error) {
	results := make([]IngestResult, 0, len(sourceURLs))
	for i, u := range sourceURLs {
		res, err := ing.Ingest(ctx, u, recreate && i == 0)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}
