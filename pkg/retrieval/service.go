package retrieval

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/medassist-ai/medassist/pkg/medcfg"
)

// searchTimeout bounds the network-backed sub-searches (embedding and
// vector store). A timeout surfaces as a fused-search failure.
const searchTimeout = 30 * time.Second

// Service is the main retrieval service that coordinates search operations
type Service struct {
	cfg     *medcfg.Config
	vectors VectorSearcher
	lexical LexicalSearcher
	embed   Embedder
}

// VectorSearcher provides vector similarity search
type VectorSearcher interface {
	Search(ctx context.Context, embedding []float64, limit int, ef int) ([]VectorHit, error)
	Stats(ctx context.Context) (MilvusStats, error)
	Close() error
}

// LexicalSearcher provides BM25 full-text search. The search is in-process
// and synchronous; an empty result is a normal outcome, not an error.
type LexicalSearcher interface {
	Search(query string, limit int) []LexicalHit
	Stats() LexicalStats
}

// Embedder generates embeddings for query text
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float64, error)
	IsAvailable(ctx context.Context) bool
}

// NewService creates a new retrieval service with the given dependencies
func NewService(cfg *medcfg.Config, vectors VectorSearcher, lexical LexicalSearcher, embed Embedder) *Service {
	return &Service{
		cfg:     cfg,
		vectors: vectors,
		lexical: lexical,
		embed:   embed,
	}
}

// Search performs a search based on the request parameters
func (s *Service) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	start := time.Now()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, searchTimeout)
		defer cancel()
	}

	// Apply defaults and clamp values
	req = s.normalizeRequest(req)

	var results []Hit
	var err error

	switch req.Mode {
	case ModeVector:
		results, err = s.vectorSearch(ctx, req)
	case ModeLexical:
		results, err = s.lexicalSearch(req)
	case ModeHybrid:
		results, err = s.hybridSearch(ctx, req)
	default:
		return nil, fmt.Errorf("invalid search mode: %s", req.Mode)
	}

	if err != nil {
		return nil, err
	}

	return &SearchResponse{
		Query:   req.Query,
		Mode:    req.Mode,
		Limit:   req.Limit,
		RrfK:    s.getRrfK(req),
		Weights: s.getWeights(req),
		TookMs:  time.Since(start).Milliseconds(),
		Results: results,
	}, nil
}

// normalizeRequest applies defaults and clamps values
func (s *Service) normalizeRequest(req SearchRequest) SearchRequest {
	if req.Mode == "" {
		req.Mode = ModeHybrid
	}

	if req.Limit <= 0 {
		req.Limit = 5
	} else if req.Limit > 100 {
		req.Limit = 100
	}

	if req.CandidateDepth <= 0 {
		req.CandidateDepth = s.cfg.Hybrid.CandidateDepth
	}
	if req.CandidateDepth <= 0 {
		req.CandidateDepth = 10
	}
	// The fusion step needs at least as many candidates as requested results
	if req.CandidateDepth < req.Limit {
		req.CandidateDepth = req.Limit
	}

	return req
}

// getRrfK returns the RRF k smoothing constant
func (s *Service) getRrfK(req SearchRequest) int {
	if req.RrfK > 0 {
		return req.RrfK
	}
	if s.cfg.Hybrid.RRF.K > 0 {
		return s.cfg.Hybrid.RRF.K
	}
	return 60
}

// getWeights returns normalized weights
func (s *Service) getWeights(req SearchRequest) Weights {
	wv := req.WeightVec
	wl := req.WeightLex

	if (wv <= 0 && wl <= 0) || !isFinite(wv) || !isFinite(wl) {
		wv = s.cfg.Hybrid.Weights.Vector
		wl = s.cfg.Hybrid.Weights.Lexical
	}

	sum := wv + wl
	if sum <= 0 || !isFinite(sum) {
		return Weights{Vector: 0.5, Lexical: 0.5}
	}

	vector := wv / sum
	lexical := wl / sum
	if !isFinite(vector) || !isFinite(lexical) {
		return Weights{Vector: 0.5, Lexical: 0.5}
	}

	return Weights{Vector: vector, Lexical: lexical}
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// vectorSearch performs vector-only search
func (s *Service) vectorSearch(ctx context.Context, req SearchRequest) ([]Hit, error) {
	embedding, err := s.embed.EmbedQuery(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	vectorHits, err := s.vectors.Search(ctx, embedding, req.Limit, s.cfg.Milvus.Search.Ef)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	if err := checkVectorIDs(vectorHits); err != nil {
		return nil, err
	}

	results := make([]Hit, 0, len(vectorHits))
	for i, vh := range vectorHits {
		rank := i + 1
		score := vh.Score

		results = append(results, Hit{
			Document:    vh.Document,
			VectorRank:  &rank,
			VectorScore: &score,
		})
	}

	return results, nil
}

// lexicalSearch performs BM25-only search
func (s *Service) lexicalSearch(req SearchRequest) ([]Hit, error) {
	lexHits := s.lexical.Search(req.Query, req.Limit)
	if err := checkLexicalIDs(lexHits); err != nil {
		return nil, err
	}

	results := make([]Hit, 0, len(lexHits))
	for i, lh := range lexHits {
		rank := i + 1
		score := lh.Score

		results = append(results, Hit{
			Document:     lh.Document,
			LexicalRank:  &rank,
			LexicalScore: &score,
		})
	}

	return results, nil
}

// hybridSearch performs hybrid RRF fusion search with graceful degradation.
// If one signal fails, it falls back to the other rather than failing the
// whole search; if both fail, the error carries both causes.
func (s *Service) hybridSearch(ctx context.Context, req SearchRequest) ([]Hit, error) {
	embedding, embedErr := s.embed.EmbedQuery(ctx, req.Query)
	if embedErr != nil {
		// Without an embedding there is no vector signal; degrade to lexical
		log.Warn().Err(embedErr).Msg("query embedding failed, degrading to lexical-only")
		return s.degradedLexical(req)
	}

	if !s.cfg.Hybrid.Enabled {
		return s.degradedVector(ctx, req, embedding)
	}

	depth := req.CandidateDepth

	// Run both searches in parallel. The lexical index is in-process and
	// cheap, but keeping the shape symmetrical keeps the merge simple.
	type vectorResult struct {
		hits []VectorHit
		err  error
	}

	vectorCh := make(chan vectorResult, 1)
	go func() {
		hits, err := s.vectors.Search(ctx, embedding, depth, s.cfg.Milvus.Search.Ef)
		if err == nil {
			err = checkVectorIDs(hits)
		}
		vectorCh <- vectorResult{hits, err}
	}()

	lexHits := s.lexical.Search(req.Query, depth)
	lexErr := checkLexicalIDs(lexHits)

	vr := <-vectorCh

	vectorOK := vr.err == nil
	lexicalOK := lexErr == nil

	if !vectorOK && !lexicalOK {
		return nil, fmt.Errorf("both searches failed: vector=%v, lexical=%v", vr.err, lexErr)
	}

	if !vectorOK {
		log.Warn().Err(vr.err).Msg("vector search failed, degrading to lexical-only")
		return s.degradedLexicalHits(req, lexHits), nil
	}

	if !lexicalOK {
		log.Warn().Err(lexErr).Msg("lexical search failed, degrading to vector-only")
		return s.degradedVectorHits(req, vr.hits), nil
	}

	// Both succeeded - fuse results using RRF
	return s.fuseRRF(lexHits, vr.hits, req), nil
}

func (s *Service) degradedLexical(req SearchRequest) ([]Hit, error) {
	lexHits := s.lexical.Search(req.Query, req.CandidateDepth)
	if err := checkLexicalIDs(lexHits); err != nil {
		return nil, err
	}
	return s.degradedLexicalHits(req, lexHits), nil
}

func (s *Service) degradedLexicalHits(req SearchRequest, lexHits []LexicalHit) []Hit {
	k := s.getRrfK(req)
	weights := s.getWeights(req)

	results := make([]Hit, 0, len(lexHits))
	for i, lh := range lexHits {
		if i >= req.Limit {
			break
		}
		rank := i + 1
		score := lh.Score
		rrfScore := weights.Lexical / float64(k+rank)

		results = append(results, Hit{
			Document:     lh.Document,
			LexicalRank:  &rank,
			LexicalScore: &score,
			RrfScore:     &rrfScore,
		})
	}
	return results
}

func (s *Service) degradedVector(ctx context.Context, req SearchRequest, embedding []float64) ([]Hit, error) {
	vectorHits, err := s.vectors.Search(ctx, embedding, req.CandidateDepth, s.cfg.Milvus.Search.Ef)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	if err := checkVectorIDs(vectorHits); err != nil {
		return nil, err
	}
	return s.degradedVectorHits(req, vectorHits), nil
}

func (s *Service) degradedVectorHits(req SearchRequest, vectorHits []VectorHit) []Hit {
	k := s.getRrfK(req)
	weights := s.getWeights(req)

	results := make([]Hit, 0, len(vectorHits))
	for i, vh := range vectorHits {
		if i >= req.Limit {
			break
		}
		rank := i + 1
		score := vh.Score
		rrfScore := weights.Vector / float64(k+rank)

		results = append(results, Hit{
			Document:    vh.Document,
			VectorRank:  &rank,
			VectorScore: &score,
			RrfScore:    &rrfScore,
		})
	}
	return results
}

// fuseRRF combines lexical and vector results using Reciprocal Rank Fusion.
// Each list contributes weight/(k+rank) per document; a document present in
// both lists sums both contributions. Documents are matched across the two
// lists by ID exclusively.
func (s *Service) fuseRRF(lexHits []LexicalHit, vectorHits []VectorHit, req SearchRequest) []Hit {
	k := s.getRrfK(req)
	weights := s.getWeights(req)

	// Build rank maps
	lexRanks := make(map[string]int)
	lexScores := make(map[string]float64)
	for i, lh := range lexHits {
		lexRanks[lh.ID] = i + 1
		lexScores[lh.ID] = lh.Score
	}

	vectorRanks := make(map[string]int)
	vectorScores := make(map[string]float64)
	for i, vh := range vectorHits {
		vectorRanks[vh.ID] = i + 1
		vectorScores[vh.ID] = vh.Score
	}

	// Collect all unique documents
	docMap := make(map[string]Document)
	for _, lh := range lexHits {
		docMap[lh.ID] = lh.Document
	}
	for _, vh := range vectorHits {
		if _, exists := docMap[vh.ID]; !exists {
			docMap[vh.ID] = vh.Document
		}
	}

	// Calculate RRF scores
	results := make([]Hit, 0, len(docMap))
	for docID, doc := range docMap {
		var rrfScore float64
		var lexRank, vectorRank *int
		var lexScore, vectorScore *float64

		if lr, ok := lexRanks[docID]; ok {
			lexRank = &lr
			ls := lexScores[docID]
			lexScore = &ls
			rrfScore += weights.Lexical / float64(k+lr)
		}

		if vr, ok := vectorRanks[docID]; ok {
			vectorRank = &vr
			vs := vectorScores[docID]
			vectorScore = &vs
			rrfScore += weights.Vector / float64(k+vr)
		}

		results = append(results, Hit{
			Document:     doc,
			LexicalRank:  lexRank,
			LexicalScore: lexScore,
			VectorRank:   vectorRank,
			VectorScore:  vectorScore,
			RrfScore:     &rrfScore,
		})
	}

	// Sort by RRF score with tiebreakers
	sortHits(results)

	// Limit results
	if len(results) > req.Limit {
		results = results[:req.Limit]
	}

	return results
}

// checkLexicalIDs rejects result lists with missing document IDs. A missing
// ID would silently break fusion matching, so it is an indexing error.
func checkLexicalIDs(hits []LexicalHit) error {
	for i, h := range hits {
		if h.ID == "" {
			return fmt.Errorf("lexical result %d has no document ID (corrupt index)", i+1)
		}
	}
	return nil
}

func checkVectorIDs(hits []VectorHit) error {
	for i, h := range hits {
		if h.ID == "" {
			return fmt.Errorf("vector result %d has no document ID (corrupt collection)", i+1)
		}
	}
	return nil
}

// Stats returns statistics about the retrieval system
func (s *Service) Stats(ctx context.Context) (*StatsResponse, error) {
	milvusStats, err := s.vectors.Stats(ctx)
	if err != nil {
		milvusStats = MilvusStats{Connected: false}
	}

	return &StatsResponse{
		Milvus:  milvusStats,
		Lexical: s.lexical.Stats(),
		Config: ConfigInfo{
			Hash:       s.cfg.Hash(),
			Collection: s.cfg.Milvus.Collection,
			Model:      s.cfg.Embedding.Model,
			Dimension:  s.cfg.Embedding.Dimension,
		},
		Timestamp: time.Now(),
	}, nil
}

// Health returns the health status
func (s *Service) Health(ctx context.Context) *HealthResponse {
	milvusOK := false
	embeddingOK := false

	if stats, err := s.vectors.Stats(ctx); err == nil && stats.Connected {
		milvusOK = true
	}

	lexicalOK := s.lexical.Stats().Documents > 0

	if s.embed != nil && s.embed.IsAvailable(ctx) {
		embeddingOK = true
	}

	status := "ok"
	if !milvusOK || !lexicalOK || !embeddingOK {
		status = "degraded"
	}
	if !milvusOK && !lexicalOK {
		status = "unhealthy"
	}

	return &HealthResponse{
		Status:    status,
		Milvus:    milvusOK,
		Lexical:   lexicalOK,
		Embedding: embeddingOK,
		Timestamp: time.Now(),
	}
}

// Close closes all connections
func (s *Service) Close() error {
	if s.vectors != nil {
		return s.vectors.Close()
	}
	return nil
}
