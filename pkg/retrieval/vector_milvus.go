package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/medassist-ai/medassist/pkg/medcfg"
)

// Field lengths for the knowledge collection
const (
	maxDocIDLen    = 64
	maxTextLen     = 8192
	maxSourceLen   = 256
	maxMetadataLen = 2048
)

// MilvusVectorStore implements VectorSearcher using Milvus. It also carries
// the write path (EnsureCollection, Add) used by the offline indexing pass.
type MilvusVectorStore struct {
	client     client.Client
	collection string
	cfg        *medcfg.Config
}

// NewMilvusVectorStore connects to Milvus and loads the knowledge collection
// if it exists. A missing collection is fine for the indexing pass, which
// calls EnsureCollection first.
func NewMilvusVectorStore(ctx context.Context, cfg *medcfg.Config) (*MilvusVectorStore, error) {
	c, err := client.NewClient(ctx, client.Config{
		Address: cfg.Milvus.Address,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to Milvus: %w", err)
	}
	needsClose := true
	defer func() {
		if needsClose {
			_ = c.Close()
		}
	}()

	collection := cfg.Milvus.Collection

	exists, err := c.HasCollection(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("checking collection: %w", err)
	}
	if exists {
		loaded, err := c.GetLoadState(ctx, collection, nil)
		if err != nil {
			return nil, fmt.Errorf("checking collection load state: %w", err)
		}
		if loaded != entity.LoadStateLoaded {
			if err := c.LoadCollection(ctx, collection, false); err != nil {
				return nil, fmt.Errorf("loading collection: %w", err)
			}
		}
	}

	needsClose = false
	return &MilvusVectorStore{
		client:     c,
		collection: collection,
		cfg:        cfg,
	}, nil
}

// EnsureCollection creates the knowledge collection and its HNSW index if
// absent. The vector dimension is fixed for the lifetime of the collection;
// changing the embedding model requires dropping and reindexing.
func (m *MilvusVectorStore) EnsureCollection(ctx context.Context, dim int) error {
	exists, err := m.client.HasCollection(ctx, m.collection)
	if err != nil {
		return fmt.Errorf("checking collection: %w", err)
	}
	if exists {
		return nil
	}

	schema := entity.NewSchema().
		WithName(m.collection).
		WithField(entity.NewField().WithName("doc_id").WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(maxDocIDLen).WithIsPrimaryKey(true)).
		WithField(entity.NewField().WithName("text").WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(maxTextLen)).
		WithField(entity.NewField().WithName("source").WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(maxSourceLen)).
		WithField(entity.NewField().WithName("metadata").WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(maxMetadataLen)).
		WithField(entity.NewField().WithName("embedding").WithDataType(entity.FieldTypeFloatVector).
			WithDim(int64(dim)))

	if err := m.client.CreateCollection(ctx, schema, 1); err != nil {
		return fmt.Errorf("creating collection: %w", err)
	}

	idx, err := entity.NewIndexHNSW(
		milvusMetricFromConfig(m.cfg.Milvus.Index.Metric),
		m.cfg.Milvus.Index.M,
		m.cfg.Milvus.Index.EfConstruction,
	)
	if err != nil {
		return fmt.Errorf("creating index definition: %w", err)
	}
	if err := m.client.CreateIndex(ctx, m.collection, "embedding", idx, false); err != nil {
		return fmt.Errorf("creating index: %w", err)
	}

	if err := m.client.LoadCollection(ctx, m.collection, false); err != nil {
		return fmt.Errorf("loading collection: %w", err)
	}

	return nil
}

// DropCollection removes the knowledge collection if it exists. Used by the
// indexing pass for a full reindex.
func (m *MilvusVectorStore) DropCollection(ctx context.Context) error {
	exists, err := m.client.HasCollection(ctx, m.collection)
	if err != nil {
		return fmt.Errorf("checking collection: %w", err)
	}
	if !exists {
		return nil
	}
	if err := m.client.DropCollection(ctx, m.collection); err != nil {
		return fmt.Errorf("dropping collection: %w", err)
	}
	return nil
}

// Add upserts id-vector pairs with the full document payload. Re-adding an
// existing ID follows the store's upsert semantics; there is no dedup
// guarantee beyond primary-key identity.
func (m *MilvusVectorStore) Add(ctx context.Context, documents []Document, vectors [][]float64) error {
	if len(documents) != len(vectors) {
		return fmt.Errorf("documents and vectors length mismatch: %d vs %d", len(documents), len(vectors))
	}
	if len(documents) == 0 {
		return nil
	}

	ids := make([]string, len(documents))
	texts := make([]string, len(documents))
	sources := make([]string, len(documents))
	metadatas := make([]string, len(documents))
	embeddings := make([][]float32, len(documents))

	for i, doc := range documents {
		if doc.ID == "" {
			return fmt.Errorf("document %d has no ID", i)
		}
		ids[i] = doc.ID
		texts[i] = doc.Text
		sources[i] = doc.Source
		if len(doc.Metadata) > 0 {
			data, err := json.Marshal(doc.Metadata)
			if err != nil {
				return fmt.Errorf("marshaling metadata for %s: %w", doc.ID, err)
			}
			metadatas[i] = string(data)
		}

		vec := make([]float32, len(vectors[i]))
		for j, v := range vectors[i] {
			vec[j] = float32(v)
		}
		embeddings[i] = vec
	}

	dim := 0
	if len(vectors) > 0 {
		dim = len(vectors[0])
	}

	_, err := m.client.Upsert(ctx, m.collection, "",
		entity.NewColumnVarChar("doc_id", ids),
		entity.NewColumnVarChar("text", texts),
		entity.NewColumnVarChar("source", sources),
		entity.NewColumnVarChar("metadata", metadatas),
		entity.NewColumnFloatVector("embedding", dim, embeddings),
	)
	if err != nil {
		return fmt.Errorf("upserting documents: %w", err)
	}

	return nil
}

// Search performs a vector similarity search, rank 1 = most similar
func (m *MilvusVectorStore) Search(ctx context.Context, embedding []float64, limit int, ef int) ([]VectorHit, error) {
	vec := make([]float32, len(embedding))
	for i, v := range embedding {
		vec[i] = float32(v)
	}

	vectors := []entity.Vector{entity.FloatVector(vec)}
	outputFields := []string{"doc_id", "text", "source", "metadata"}

	sp, err := entity.NewIndexHNSWSearchParam(ef)
	if err != nil {
		return nil, fmt.Errorf("creating search params: %w", err)
	}

	results, err := m.client.Search(
		ctx,
		m.collection,
		nil, // partitions
		"",  // expression filter
		outputFields,
		vectors,
		"embedding",
		milvusMetricFromConfig(m.cfg.Milvus.Index.Metric),
		limit,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("Milvus search: %w", err)
	}

	if len(results) == 0 {
		return []VectorHit{}, nil
	}

	hits := make([]VectorHit, 0, results[0].ResultCount)
	for i := 0; i < results[0].ResultCount; i++ {
		hit := VectorHit{
			Rank:  i + 1,
			Score: float64(results[0].Scores[i]),
		}

		for _, field := range results[0].Fields {
			col, ok := field.(*entity.ColumnVarChar)
			if !ok {
				continue
			}
			val, err := col.ValueByIdx(i)
			if err != nil {
				return nil, fmt.Errorf("extracting %s at idx %d: %w", field.Name(), i, err)
			}
			switch field.Name() {
			case "doc_id":
				hit.ID = val
			case "text":
				hit.Text = val
			case "source":
				hit.Source = val
			case "metadata":
				if val != "" {
					var meta map[string]string
					if err := json.Unmarshal([]byte(val), &meta); err == nil {
						hit.Metadata = meta
					}
				}
			}
		}

		hits = append(hits, hit)
	}

	return hits, nil
}

func milvusMetricFromConfig(metric string) entity.MetricType {
	switch strings.ToUpper(strings.TrimSpace(metric)) {
	case "L2":
		return entity.L2
	case "IP", "INNER_PRODUCT":
		return entity.IP
	case "COSINE":
		return entity.COSINE
	default:
		return entity.COSINE
	}
}

// Stats returns Milvus collection statistics
func (m *MilvusVectorStore) Stats(ctx context.Context) (MilvusStats, error) {
	stats := MilvusStats{
		Connected:      true,
		Collection:     m.collection,
		EmbeddingModel: m.cfg.Embedding.Model,
		EmbeddingDim:   m.cfg.Embedding.Dimension,
		IndexType:      m.cfg.Milvus.Index.Type,
	}

	collStats, err := m.client.GetCollectionStatistics(ctx, m.collection)
	if err != nil {
		return stats, fmt.Errorf("getting collection stats: %w", err)
	}

	if rowCount, ok := collStats["row_count"]; ok {
		fmt.Sscanf(rowCount, "%d", &stats.RowCount)
	}

	return stats, nil
}

// Close closes the Milvus connection
func (m *MilvusVectorStore) Close() error {
	return m.client.Close()
}
