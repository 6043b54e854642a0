// Package retrieval provides hybrid search over the medical knowledge base,
// combining vector search (Milvus) and BM25 lexical search fused with
// Reciprocal Rank Fusion.
//
// This is the authoritative backend for all retrieval operations. The HTTP
// server and the handler agents should all use this package.
package retrieval

import "time"

// SearchMode specifies the search strategy
type SearchMode string

const (
	ModeVector  SearchMode = "vector"  // Vector-only search (Milvus)
	ModeLexical SearchMode = "lexical" // BM25-only search (in-process index)
	ModeHybrid  SearchMode = "hybrid"  // Hybrid RRF fusion of both
)

// Document is an immutable unit of indexed knowledge. The ID is the stable
// key shared by the lexical and vector indexes; fusion matches results
// across the two lists by ID exclusively.
type Document struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Source   string            `json:"source"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// SearchRequest contains parameters for a search operation
type SearchRequest struct {
	Query string     `json:"q"`
	Mode  SearchMode `json:"mode"`
	Limit int        `json:"limit"`

	// Optional overrides (use config defaults if zero)
	RrfK           int     `json:"rrf_k,omitempty"`
	WeightVec      float64 `json:"w_vector,omitempty"`
	WeightLex      float64 `json:"w_lexical,omitempty"`
	CandidateDepth int     `json:"candidate_depth,omitempty"`
}

// SearchResponse contains the search results and metadata
type SearchResponse struct {
	Query string     `json:"query"`
	Mode  SearchMode `json:"mode"`
	Limit int        `json:"limit"`

	// Config values used
	RrfK    int     `json:"rrf_k"`
	Weights Weights `json:"weights"`

	// Timing
	TookMs int64 `json:"took_ms"`

	// Results ordered by relevance (best first)
	Results []Hit `json:"results"`
}

// Weights contains the normalized weights used for hybrid search
type Weights struct {
	Vector  float64 `json:"vector"`
	Lexical float64 `json:"lexical"`
}

// Hit represents a single search result
type Hit struct {
	Document

	// Scoring info
	VectorRank   *int     `json:"vector_rank"` // nil if not in vector results
	VectorScore  *float64 `json:"vector_score"`
	LexicalRank  *int     `json:"lexical_rank"` // nil if not in lexical results
	LexicalScore *float64 `json:"lexical_score"`
	RrfScore     *float64 `json:"rrf_score"` // nil for single-mode searches
}

// VectorHit is an intermediate result from vector search
type VectorHit struct {
	Document
	Rank  int
	Score float64
}

// LexicalHit is an intermediate result from BM25 search
type LexicalHit struct {
	Document
	Rank  int
	Score float64
}

// StatsResponse contains collection/index statistics
type StatsResponse struct {
	Milvus    MilvusStats  `json:"milvus"`
	Lexical   LexicalStats `json:"lexical"`
	Config    ConfigInfo   `json:"config"`
	Timestamp time.Time    `json:"timestamp"`
}

// MilvusStats contains Milvus collection statistics
type MilvusStats struct {
	Connected      bool   `json:"connected"`
	Collection     string `json:"collection"`
	RowCount       int64  `json:"row_count"`
	IndexType      string `json:"index_type"`
	EmbeddingModel string `json:"embedding_model"`
	EmbeddingDim   int    `json:"embedding_dim"`
}

// LexicalStats contains BM25 index statistics
type LexicalStats struct {
	Documents  int     `json:"documents"`
	Terms      int     `json:"terms"`
	AvgDocLen  float64 `json:"avg_doc_len"`
	IndexedAt  string  `json:"indexed_at,omitempty"`
}

// ConfigInfo contains configuration metadata
type ConfigInfo struct {
	Hash       string `json:"hash"` // Config hash for change detection
	Collection string `json:"collection"`
	Model      string `json:"model"`
	Dimension  int    `json:"dimension"`
}

// HealthResponse for /health endpoint
type HealthResponse struct {
	Status    string    `json:"status"` // "ok", "degraded", "unhealthy"
	Milvus    bool      `json:"milvus"`
	Lexical   bool      `json:"lexical"`
	Embedding bool      `json:"embedding"`
	Timestamp time.Time `json:"timestamp"`
}
