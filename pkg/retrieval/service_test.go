package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/medassist-ai/medassist/pkg/medcfg"
)

type fakeVectors struct {
	hits []VectorHit
	err  error
}

func (f *fakeVectors) Search(ctx context.Context, embedding []float64, limit int, ef int) ([]VectorHit, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.hits) {
		return f.hits[:limit], nil
	}
	return f.hits, nil
}

func (f *fakeVectors) Stats(ctx context.Context) (MilvusStats, error) {
	return MilvusStats{Connected: true}, nil
}

func (f *fakeVectors) Close() error { return nil }

type fakeLexical struct {
	hits []LexicalHit
}

func (f *fakeLexical) Search(query string, limit int) []LexicalHit {
	if limit < len(f.hits) {
		return f.hits[:limit]
	}
	return f.hits
}

func (f *fakeLexical) Stats() LexicalStats {
	return LexicalStats{Documents: len(f.hits)}
}

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float64{0.1, 0.2, 0.3}, nil
}

func (f *fakeEmbedder) IsAvailable(ctx context.Context) bool {
	return f.err == nil
}

func lexHit(id string, rank int, score float64) LexicalHit {
	return LexicalHit{Document: Document{ID: id, Text: id}, Rank: rank, Score: score}
}

func vecHit(id string, rank int, score float64) VectorHit {
	return VectorHit{Document: Document{ID: id, Text: id}, Rank: rank, Score: score}
}

func newTestService(vectors VectorSearcher, lexical LexicalSearcher, embed Embedder) *Service {
	return NewService(medcfg.Default(), vectors, lexical, embed)
}

func TestHybridSearch_FusesBothSignals(t *testing.T) {
	// Lexical ranks A,B,C; vector ranks B,A,D. A and B tie on fused score,
	// the lower lexical rank puts A first. C and D tie as single-source
	// hits, again resolved by lexical rank.
	svc := newTestService(
		&fakeVectors{hits: []VectorHit{vecHit("B", 1, 0.9), vecHit("A", 2, 0.8), vecHit("D", 3, 0.7)}},
		&fakeLexical{hits: []LexicalHit{lexHit("A", 1, 3.0), lexHit("B", 2, 2.0), lexHit("C", 3, 1.0)}},
		&fakeEmbedder{},
	)

	resp, err := svc.Search(context.Background(), SearchRequest{Query: "q", Mode: ModeHybrid, Limit: 4})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	want := []string{"A", "B", "C", "D"}
	if len(resp.Results) != len(want) {
		t.Fatalf("expected %d results, got %d", len(want), len(resp.Results))
	}
	for i, id := range want {
		if resp.Results[i].ID != id {
			t.Fatalf("result %d: expected %s, got %s", i, id, resp.Results[i].ID)
		}
	}

	// A appears in both lists: rank 1 lexical, rank 2 vector
	a := resp.Results[0]
	if a.LexicalRank == nil || *a.LexicalRank != 1 {
		t.Fatalf("expected A lexical rank 1, got %v", a.LexicalRank)
	}
	if a.VectorRank == nil || *a.VectorRank != 2 {
		t.Fatalf("expected A vector rank 2, got %v", a.VectorRank)
	}
	if a.RrfScore == nil {
		t.Fatalf("expected A to carry an RRF score")
	}

	// Fused scores must be non-increasing
	for i := 1; i < len(resp.Results); i++ {
		if *resp.Results[i].RrfScore > *resp.Results[i-1].RrfScore {
			t.Fatalf("RRF scores not non-increasing at %d", i)
		}
	}
}

func TestHybridSearch_Deterministic(t *testing.T) {
	svc := newTestService(
		&fakeVectors{hits: []VectorHit{vecHit("B", 1, 0.9), vecHit("A", 2, 0.8), vecHit("D", 3, 0.7)}},
		&fakeLexical{hits: []LexicalHit{lexHit("A", 1, 3.0), lexHit("B", 2, 2.0), lexHit("C", 3, 1.0)}},
		&fakeEmbedder{},
	)

	first, err := svc.Search(context.Background(), SearchRequest{Query: "q", Mode: ModeHybrid, Limit: 4})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	// Map iteration order inside fusion must never leak into the output
	for i := 0; i < 20; i++ {
		resp, err := svc.Search(context.Background(), SearchRequest{Query: "q", Mode: ModeHybrid, Limit: 4})
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		for j := range resp.Results {
			if resp.Results[j].ID != first.Results[j].ID {
				t.Fatalf("run %d: result %d changed from %s to %s", i, j, first.Results[j].ID, resp.Results[j].ID)
			}
		}
	}
}

func TestHybridSearch_EmbeddingFailureDegradesToLexical(t *testing.T) {
	svc := newTestService(
		&fakeVectors{hits: []VectorHit{vecHit("V", 1, 0.9)}},
		&fakeLexical{hits: []LexicalHit{lexHit("L1", 1, 2.0), lexHit("L2", 2, 1.0)}},
		&fakeEmbedder{err: errors.New("embedding service down")},
	)

	resp, err := svc.Search(context.Background(), SearchRequest{Query: "q", Mode: ModeHybrid, Limit: 5})
	if err != nil {
		t.Fatalf("expected degraded search to succeed, got %v", err)
	}

	if len(resp.Results) != 2 {
		t.Fatalf("expected 2 lexical results, got %d", len(resp.Results))
	}
	for i, hit := range resp.Results {
		if hit.VectorRank != nil {
			t.Fatalf("result %d: expected no vector rank in degraded mode", i)
		}
		if hit.RrfScore == nil {
			t.Fatalf("result %d: expected RRF-style score in degraded mode", i)
		}
	}

	// Degraded score is weight/(k+rank) with normalized weights
	want := 0.5 / float64(60+1)
	if got := *resp.Results[0].RrfScore; got != want {
		t.Fatalf("expected degraded score %v, got %v", want, got)
	}
}

func TestHybridSearch_VectorFailureDegradesToLexical(t *testing.T) {
	svc := newTestService(
		&fakeVectors{err: errors.New("milvus unreachable")},
		&fakeLexical{hits: []LexicalHit{lexHit("L1", 1, 2.0)}},
		&fakeEmbedder{},
	)

	resp, err := svc.Search(context.Background(), SearchRequest{Query: "q", Mode: ModeHybrid, Limit: 5})
	if err != nil {
		t.Fatalf("expected degraded search to succeed, got %v", err)
	}
	if len(resp.Results) != 1 || resp.Results[0].ID != "L1" {
		t.Fatalf("expected lexical-only results, got %+v", resp.Results)
	}
}

func TestHybridSearch_LexicalFailureDegradesToVector(t *testing.T) {
	svc := newTestService(
		&fakeVectors{hits: []VectorHit{vecHit("V1", 1, 0.9)}},
		&fakeLexical{hits: []LexicalHit{{Document: Document{ID: "", Text: "broken"}, Rank: 1, Score: 1.0}}},
		&fakeEmbedder{},
	)

	resp, err := svc.Search(context.Background(), SearchRequest{Query: "q", Mode: ModeHybrid, Limit: 5})
	if err != nil {
		t.Fatalf("expected degraded search to succeed, got %v", err)
	}
	if len(resp.Results) != 1 || resp.Results[0].ID != "V1" {
		t.Fatalf("expected vector-only results, got %+v", resp.Results)
	}
}

func TestHybridSearch_BothFailuresError(t *testing.T) {
	svc := newTestService(
		&fakeVectors{err: errors.New("milvus unreachable")},
		&fakeLexical{hits: []LexicalHit{{Document: Document{ID: ""}, Rank: 1, Score: 1.0}}},
		&fakeEmbedder{},
	)

	_, err := svc.Search(context.Background(), SearchRequest{Query: "q", Mode: ModeHybrid})
	if err == nil {
		t.Fatalf("expected error when both signals fail")
	}
	if !strings.Contains(err.Error(), "both searches failed") {
		t.Fatalf("expected combined error, got %v", err)
	}
}

func TestHybridSearch_EmptyResultsIsNotError(t *testing.T) {
	svc := newTestService(
		&fakeVectors{},
		&fakeLexical{},
		&fakeEmbedder{},
	)

	resp, err := svc.Search(context.Background(), SearchRequest{Query: "nothing matches", Mode: ModeHybrid})
	if err != nil {
		t.Fatalf("empty result set must not be an error: %v", err)
	}
	if len(resp.Results) != 0 {
		t.Fatalf("expected no results, got %d", len(resp.Results))
	}
}

func TestLexicalSearch_MissingIDError(t *testing.T) {
	svc := newTestService(
		&fakeVectors{},
		&fakeLexical{hits: []LexicalHit{{Document: Document{ID: "", Text: "no id"}, Rank: 1, Score: 1.0}}},
		&fakeEmbedder{},
	)

	_, err := svc.Search(context.Background(), SearchRequest{Query: "q", Mode: ModeLexical})
	if err == nil {
		t.Fatalf("expected error for missing document ID")
	}
	if !strings.Contains(err.Error(), "corrupt index") {
		t.Fatalf("expected corrupt index error, got %v", err)
	}
}

func TestSearch_DefaultsAndClamps(t *testing.T) {
	svc := newTestService(&fakeVectors{}, &fakeLexical{}, &fakeEmbedder{})

	resp, err := svc.Search(context.Background(), SearchRequest{Query: "q"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if resp.Mode != ModeHybrid {
		t.Fatalf("expected default mode hybrid, got %s", resp.Mode)
	}
	if resp.Limit != 5 {
		t.Fatalf("expected default limit 5, got %d", resp.Limit)
	}
	if resp.RrfK != 60 {
		t.Fatalf("expected default rrf k 60, got %d", resp.RrfK)
	}

	resp, err = svc.Search(context.Background(), SearchRequest{Query: "q", Limit: 500})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if resp.Limit != 100 {
		t.Fatalf("expected limit clamped to 100, got %d", resp.Limit)
	}
}

func TestSearch_InvalidMode(t *testing.T) {
	svc := newTestService(&fakeVectors{}, &fakeLexical{}, &fakeEmbedder{})

	if _, err := svc.Search(context.Background(), SearchRequest{Query: "q", Mode: "fuzzy"}); err == nil {
		t.Fatalf("expected error for invalid mode")
	}
}

func TestGetWeights_Normalization(t *testing.T) {
	svc := newTestService(&fakeVectors{}, &fakeLexical{}, &fakeEmbedder{})

	w := svc.getWeights(SearchRequest{WeightVec: 3, WeightLex: 1})
	if w.Vector != 0.75 || w.Lexical != 0.25 {
		t.Fatalf("expected normalized weights 0.75/0.25, got %v/%v", w.Vector, w.Lexical)
	}

	// Unset weights fall back to config, normalized to sum 1
	w = svc.getWeights(SearchRequest{})
	if w.Vector != 0.5 || w.Lexical != 0.5 {
		t.Fatalf("expected default weights 0.5/0.5, got %v/%v", w.Vector, w.Lexical)
	}
}

func TestHealth_Degraded(t *testing.T) {
	svc := newTestService(
		&fakeVectors{hits: []VectorHit{vecHit("V", 1, 0.9)}},
		&fakeLexical{}, // zero documents indexed
		&fakeEmbedder{},
	)

	health := svc.Health(context.Background())
	if health.Status != "degraded" {
		t.Fatalf("expected degraded status with empty lexical index, got %s", health.Status)
	}
	if !health.Milvus || health.Lexical {
		t.Fatalf("unexpected component flags: %+v", health)
	}
}
