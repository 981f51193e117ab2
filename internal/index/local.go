package index

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/hunterwarburton/sage/internal/core"
	"github.com/hunterwarburton/sage/internal/logger"
)

// Local is a file-backed vector index with in-memory hybrid search. The
// whole index is one JSON file rewritten atomically on every mutation, so
// reopening preserves prior chunks and a crash can never leave a torn file.
type Local struct {
	mu            sync.RWMutex
	path          string
	dimension     int
	chunks        []core.Chunk
	vectorWeight  float32
	keywordWeight float32
}

// localFile is the on-disk representation.
type localFile struct {
	Dimension int          `json:"dimension"`
	Chunks    []core.Chunk `json:"chunks"`
}

// LocalOption configures a Local index.
type LocalOption func(*Local)

// WithWeights sets the hybrid score weights. Non-positive pairs keep the
// defaults; weights are normalized to sum to one.
func WithWeights(vector, keyword float32) LocalOption {
	return func(l *Local) {
		if vector <= 0 && keyword <= 0 {
			return
		}
		if vector < 0 {
			vector = 0
		}
		if keyword < 0 {
			keyword = 0
		}
		sum := vector + keyword
		l.vectorWeight = vector / sum
		l.keywordWeight = keyword / sum
	}
}

// OpenLocal opens the index file at path, creating parent directories as
// needed. A missing file starts an empty index.
func OpenLocal(path string, opts ...LocalOption) (*Local, error) {
	l := &Local{
		path:          path,
		vectorWeight:  DefaultVectorWeight,
		keywordWeight: DefaultKeywordWeight,
	}
	for _, opt := range opts {
		opt(l)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read index file: %w", err)
	}

	var file localFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse index file %s: %w", path, err)
	}
	l.dimension = file.Dimension
	l.chunks = file.Chunks
	logger.Info("Opened index %s with %d chunks (dim=%d)", path, len(l.chunks), l.dimension)
	return l, nil
}

// Upsert appends chunks and persists the index. The first upsert fixes the
// index dimension; later upserts with a different dimension are rejected
// because mixing embedding providers in one index is forbidden.
func (l *Local) Upsert(ctx context.Context, chunks []core.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			return fmt.Errorf("chunk %s has no embedding", c.ID)
		}
		if l.dimension == 0 {
			l.dimension = len(c.Embedding)
		}
		if len(c.Embedding) != l.dimension {
			return fmt.Errorf("%w: chunk %s has %d dimensions, index has %d",
				core.ErrDimensionMismatch, c.ID, len(c.Embedding), l.dimension)
		}
	}

	l.chunks = append(l.chunks, chunks...)
	if err := l.save(); err != nil {
		// Roll back so memory and disk stay in sync.
		l.chunks = l.chunks[:len(l.chunks)-len(chunks)]
		return err
	}
	return nil
}

// Search ranks every chunk by the weighted combination of vector cosine
// similarity and keyword term-frequency overlap, then returns the top k.
// Ties keep insertion order (the sort is stable). Fewer than k chunks is
// never an error.
func (l *Local) Search(ctx context.Context, vector []float32, text string, k int) ([]core.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return []core.SearchResult{}, nil
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	results := make([]core.SearchResult, 0, len(l.chunks))
	for _, c := range l.chunks {
		score := l.vectorWeight*cosineScore(vector, c.Embedding) +
			l.keywordWeight*keywordScore(text, c.Text)
		results = append(results, core.SearchResult{Chunk: c, Score: score})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Reset discards every chunk and the recorded dimension, so a different
// embedding provider can repopulate the index.
func (l *Local) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.chunks = nil
	l.dimension = 0
	return l.save()
}

// Count reports how many chunks the index holds.
func (l *Local) Count(_ context.Context) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.chunks), nil
}

// Close is a no-op; every mutation is already persisted.
func (l *Local) Close() error {
	return nil
}

// Dimension returns the recorded embedding dimension, zero when empty.
func (l *Local) Dimension() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.dimension
}

// save writes the index to a temp file and renames it over the target.
// Callers hold the write lock.
func (l *Local) save() error {
	data, err := json.Marshal(localFile{Dimension: l.dimension, Chunks: l.chunks})
	if err != nil {
		return fmt.Errorf("failed to encode index: %w", err)
	}

	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write index file: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("failed to replace index file: %w", err)
	}
	return nil
}

var _ core.VectorIndex = (*Local)(nil)
