// Package embedding provides a client for an OpenAI-compatible embeddings
// endpoint. The embedding model is an opaque external capability; the client
// only enforces the configured vector dimensionality.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client generates embeddings via an OpenAI-compatible API
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
	dimension  int
}

// Config holds configuration for the embedding client
type Config struct {
	BaseURL   string // Embedding server URL (default: http://127.0.0.1:11434/v1)
	Model     string // Embedding model name (default: all-minilm:l6-v2)
	Dimension int    // Vector dimension (default: 384)
}

// DefaultConfig returns sensible defaults.
// Note: if you change the embedding model, you must drop and reindex the
// vector collection, as dimensions will differ between models.
func DefaultConfig() Config {
	return Config{
		BaseURL:   "http://127.0.0.1:11434/v1",
		Model:     "all-minilm:l6-v2",
		Dimension: 384,
	}
}

// NewClient creates a new embedding client
func NewClient(cfg Config) *Client {
	defaults := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaults.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaults.Model
	}
	if cfg.Dimension == 0 {
		cfg.Dimension = defaults.Dimension
	}

	return &Client{
		baseURL:   cfg.BaseURL,
		model:     cfg.Model,
		dimension: cfg.Dimension,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// embeddingRequest is the request body for the embeddings API
type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

// embeddingResponse is the response from the embeddings API
type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

// Embed generates an embedding for a single text
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}
	return embeddings[0], nil
}

// EmbedBatch generates embeddings for multiple texts
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	reqBody := embeddingRequest{
		Input: texts,
		Model: c.model,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/embeddings", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errBody bytes.Buffer
		errBody.ReadFrom(resp.Body)
		return nil, fmt.Errorf("embedding API returned status %d: %s", resp.StatusCode, errBody.String())
	}

	var embResp embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&embResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	// Sort by index to ensure correct order
	result := make([][]float32, len(texts))
	for _, data := range embResp.Data {
		if c.dimension > 0 && len(data.Embedding) != c.dimension {
			return nil, fmt.Errorf("embedding dimension mismatch: expected %d, got %d", c.dimension, len(data.Embedding))
		}
		if data.Index < len(result) {
			result[data.Index] = data.Embedding
		}
	}

	for i, emb := range result {
		if emb == nil {
			return nil, fmt.Errorf("missing embedding for index %d", i)
		}
	}

	return result, nil
}

// Dimension returns the embedding dimension
func (c *Client) Dimension() int {
	return c.dimension
}

// IsAvailable checks if the embedding service is available
func (c *Client) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/models", nil)
	if err != nil {
		return false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}
