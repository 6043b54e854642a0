package retrieval

import (
	"context"

	"github.com/medassist-ai/medassist/pkg/embedding"
	"github.com/medassist-ai/medassist/pkg/medcfg"
)

// EmbeddingClientAdapter wraps embedding.Client to implement the Embedder
// interface. embedding.Client is the canonical implementation with batch
// support, timeouts, and dimension validation.
type EmbeddingClientAdapter struct {
	client *embedding.Client
}

// NewEmbeddingClientAdapter creates a new adapter wrapping embedding.Client
func NewEmbeddingClientAdapter(cfg *medcfg.Config) *EmbeddingClientAdapter {
	client := embedding.NewClient(embedding.Config{
		BaseURL:   cfg.Embedding.BaseURL,
		Model:     cfg.Embedding.Model,
		Dimension: cfg.Embedding.Dimension,
	})
	return &EmbeddingClientAdapter{client: client}
}

// EmbedQuery generates an embedding for the query, converting float32 to float64
func (a *EmbeddingClientAdapter) EmbedQuery(ctx context.Context, text string) ([]float64, error) {
	embedding32, err := a.client.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	embedding64 := make([]float64, len(embedding32))
	for i, v := range embedding32 {
		embedding64[i] = float64(v)
	}

	return embedding64, nil
}

// IsAvailable checks if the embedding service is available
func (a *EmbeddingClientAdapter) IsAvailable(ctx context.Context) bool {
	return a.client.IsAvailable(ctx)
}
