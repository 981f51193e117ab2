package index

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/milvus-io/milvus/client/v2/column"
	"github.com/milvus-io/milvus/client/v2/entity"
	"github.com/milvus-io/milvus/client/v2/index"
	"github.com/milvus-io/milvus/client/v2/milvusclient"

	"github.com/hunterwarburton/sage/internal/core"
	"github.com/hunterwarburton/sage/internal/logger"
)

// Field names for the knowledge collection.
const (
	FieldID         = "id"
	FieldText       = "text"
	FieldSource     = "source"
	FieldMetadata   = "metadata"
	FieldCreateTime = "create_time"
	FieldVector     = "vector"
)

// DefaultCollection is the collection name when none is configured.
const DefaultCollection = "knowledge_chunks"

// VarChar limits for the collection schema.
const (
	idMaxLength   = "255"
	textMaxLength = "65535"
)

// Milvus is the server-backed vector index. Vector ranking runs in Milvus
// (HNSW over inner product); the keyword component of the hybrid score is
// applied to the returned candidates before the final cut to k.
type Milvus struct {
	client        *milvusclient.Client
	collection    string
	dimension     int
	vectorWeight  float32
	keywordWeight float32
}

// MilvusOption configures a Milvus index.
type MilvusOption func(*Milvus)

// WithCollection overrides the collection name.
func WithCollection(name string) MilvusOption {
	return func(m *Milvus) {
		if name != "" {
			m.collection = name
		}
	}
}

// WithMilvusWeights sets the hybrid score weights.
func WithMilvusWeights(vector, keyword float32) MilvusOption {
	return func(m *Milvus) {
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
		m.vectorWeight = vector / sum
		m.keywordWeight = keyword / sum
	}
}

// OpenMilvus connects to Milvus and ensures the knowledge collection
// exists with the given embedding dimension.
func OpenMilvus(ctx context.Context, addr string, embeddingDim int, opts ...MilvusOption) (*Milvus, error) {
	logger.Info("Connecting to Milvus at %s with dimension %d", addr, embeddingDim)

	c, err := milvusclient.New(ctx, &milvusclient.ClientConfig{Address: addr})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Milvus: %w", err)
	}

	m := &Milvus{
		client:        c,
		collection:    DefaultCollection,
		dimension:     embeddingDim,
		vectorWeight:  DefaultVectorWeight,
		keywordWeight: DefaultKeywordWeight,
	}
	for _, opt := range opts {
		opt(m)
	}

	if err := m.ensureCollection(ctx); err != nil {
		c.Close(ctx)
		return nil, err
	}
	return m, nil
}

// ensureCollection creates and loads the collection if it does not exist.
func (m *Milvus) ensureCollection(ctx context.Context) error {
	exists, err := m.client.HasCollection(ctx, milvusclient.NewHasCollectionOption(m.collection))
	if err != nil {
		return fmt.Errorf("failed to check if collection exists: %w", err)
	}

	if !exists {
		schema := &entity.Schema{
			CollectionName: m.collection,
			Description:    "Knowledge chunks for retrieval",
			Fields: []*entity.Field{
				{
					Name:       FieldID,
					DataType:   entity.FieldTypeVarChar,
					PrimaryKey: true,
					AutoID:     false,
					TypeParams: map[string]string{"max_length": idMaxLength},
				},
				{
					Name:       FieldText,
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": textMaxLength},
				},
				{
					Name:       FieldSource,
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": idMaxLength},
				},
				{
					Name:     FieldMetadata,
					DataType: entity.FieldTypeJSON,
				},
				{
					Name:     FieldCreateTime,
					DataType: entity.FieldTypeInt64,
				},
				{
					Name:     FieldVector,
					DataType: entity.FieldTypeFloatVector,
					TypeParams: map[string]string{
						"dim": fmt.Sprintf("%d", m.dimension),
					},
				},
			},
		}

		createOpt := milvusclient.NewCreateCollectionOption(m.collection, schema)
		if err := m.client.CreateCollection(ctx, createOpt); err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}

		vecIdx := index.NewHNSWIndex(entity.IP, 16, 200)
		indexOpt := milvusclient.NewCreateIndexOption(m.collection, FieldVector, vecIdx)
		if _, err := m.client.CreateIndex(ctx, indexOpt); err != nil {
			return fmt.Errorf("failed to create index on vector field: %w", err)
		}

		logger.Info("Created collection: %s", m.collection)
	}

	loadOpt := milvusclient.NewLoadCollectionOption(m.collection)
	if _, err := m.client.LoadCollection(ctx, loadOpt); err != nil {
		return fmt.Errorf("failed to load collection %s: %w", m.collection, err)
	}
	return nil
}

// Upsert inserts chunks into the collection.
func (m *Milvus) Upsert(ctx context.Context, chunks []core.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	ids := make([]string, len(chunks))
	texts := make([]string, len(chunks))
	sources := make([]string, len(chunks))
	metadatas := make([][]byte, len(chunks))
	createTimes := make([]int64, len(chunks))
	vectors := make([][]float32, len(chunks))

	for i, c := range chunks {
		if len(c.Embedding) != m.dimension {
			return fmt.Errorf("%w: chunk %s has %d dimensions, index has %d",
				core.ErrDimensionMismatch, c.ID, len(c.Embedding), m.dimension)
		}
		ids[i] = c.ID
		texts[i] = c.Text
		sources[i] = c.SourceURL
		metadataBytes := []byte("{}")
		if c.Metadata != nil {
			if b, err := json.Marshal(c.Metadata); err == nil {
				metadataBytes = b
			}
		}
		metadatas[i] = metadataBytes
		createTime := c.CreateTime
		if createTime == 0 {
			createTime = time.Now().Unix()
		}
		createTimes[i] = createTime
		vectors[i] = c.Embedding
	}

	insertOpt := milvusclient.NewColumnBasedInsertOption(m.collection,
		column.NewColumnVarChar(FieldID, ids),
		column.NewColumnVarChar(FieldText, texts),
		column.NewColumnVarChar(FieldSource, sources),
		column.NewColumnJSONBytes(FieldMetadata, metadatas),
		column.NewColumnInt64(FieldCreateTime, createTimes),
		column.NewColumnFloatVector(FieldVector, m.dimension, vectors),
	)
	if _, err := m.client.Insert(ctx, insertOpt); err != nil {
		return fmt.Errorf("failed to insert chunks: %w", err)
	}
	return nil
}

// Search runs the ANN query in Milvus, then applies the keyword component
// of the hybrid score to the candidates and returns the top k.
func (m *Milvus) Search(ctx context.Context, vector []float32, text string, k int) ([]core.SearchResult, error) {
	if k <= 0 {
		return []core.SearchResult{}, nil
	}

	// Over-fetch so keyword rescoring has candidates to promote.
	fetch := k * 4
	if fetch < 20 {
		fetch = 20
	}

	searchOpt := milvusclient.NewSearchOption(m.collection, fetch, []entity.Vector{entity.FloatVector(vector)}).
		WithANNSField(FieldVector).
		WithOutputFields(FieldID, FieldText, FieldSource, FieldMetadata, FieldCreateTime)

	resultSets, err := m.client.Search(ctx, searchOpt)
	if err != nil {
		return nil, fmt.Errorf("failed to execute search: %w", err)
	}
	if len(resultSets) == 0 || resultSets[0].ResultCount == 0 {
		return []core.SearchResult{}, nil
	}

	rs := resultSets[0]
	results := make([]core.SearchResult, 0, rs.ResultCount)
	for i := 0; i < rs.ResultCount; i++ {
		chunk, err := m.chunkAt(rs, i)
		if err != nil {
			logger.Warn("Skipping malformed search hit %d: %v", i, err)
			continue
		}

		// Milvus IP scores over near-unit vectors land in [-1, 1].
		vecScore := (rs.Scores[i] + 1) / 2
		if vecScore < 0 {
			vecScore = 0
		} else if vecScore > 1 {
			vecScore = 1
		}
		score := m.vectorWeight*vecScore + m.keywordWeight*keywordScore(text, chunk.Text)
		results = append(results, core.SearchResult{Chunk: chunk, Score: score})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// chunkAt decodes one hit from a search result set.
func (m *Milvus) chunkAt(rs milvusclient.ResultSet, i int) (core.Chunk, error) {
	id, err := rs.IDs.GetAsString(i)
	if err != nil {
		return core.Chunk{}, fmt.Errorf("failed to read id: %w", err)
	}

	chunk := core.Chunk{ID: id}

	if col := rs.GetColumn(FieldText); col != nil {
		if chunk.Text, err = col.GetAsString(i); err != nil {
			return core.Chunk{}, fmt.Errorf("failed to read text: %w", err)
		}
	}
	if col := rs.GetColumn(FieldSource); col != nil {
		chunk.SourceURL, _ = col.GetAsString(i)
	}
	if col := rs.GetColumn(FieldCreateTime); col != nil {
		chunk.CreateTime, _ = col.GetAsInt64(i)
	}
	if col := rs.GetColumn(FieldMetadata); col != nil {
		if raw, err := col.GetAsString(i); err == nil && raw != "" {
			var metadata map[string]interface{}
			if json.Unmarshal([]byte(raw), &metadata) == nil {
				chunk.Metadata = metadata
			}
		}
	}
	return chunk, nil
}

// Reset drops and recreates the collection.
func (m *Milvus) Reset(ctx context.Context) error {
	dropOpt := milvusclient.NewDropCollectionOption(m.collection)
	if err := m.client.DropCollection(ctx, dropOpt); err != nil {
		return fmt.Errorf("failed to drop collection %s: %w", m.collection, err)
	}
	return m.ensureCollection(ctx)
}

// Count reports how many chunks the collection holds.
func (m *Milvus) Count(ctx context.Context) (int, error) {
	queryOpt := milvusclient.NewQueryOption(m.collection).
		WithOutputFields("count(*)").
		WithConsistencyLevel(entity.ClStrong)
	rs, err := m.client.Query(ctx, queryOpt)
	if err != nil {
		return 0, fmt.Errorf("failed to count collection %s: %w", m.collection, err)
	}
	col := rs.GetColumn("count(*)")
	if col == nil || col.Len() == 0 {
		return 0, nil
	}
	count, err := col.GetAsInt64(0)
	if err != nil {
		return 0, fmt.Errorf("failed to read count: %w", err)
	}
	return int(count), nil
}

// Close closes the connection to Milvus.
func (m *Milvus) Close() error {
	return m.client.Close(context.Background())
}

var _ core.VectorIndex = (*Milvus)(nil)
