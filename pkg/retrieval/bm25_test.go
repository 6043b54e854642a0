package retrieval

import (
	"path/filepath"
	"testing"
)

func testDocs() []Document {
	return []Document{
		{ID: "d1", Text: "chest pain and shortness of breath", Source: "cardiology.txt"},
		{ID: "d2", Text: "chest xray interpretation basics", Source: "radiology.txt"},
		{ID: "d3", Text: "management of type 2 diabetes", Source: "endocrinology.txt"},
	}
}

func TestBM25_RanksMatchingDocsFirst(t *testing.T) {
	idx := NewBM25Index()
	idx.Index(testDocs())

	hits := idx.Search("chest pain", 3)
	if len(hits) != 3 {
		t.Fatalf("expected 3 hits, got %d", len(hits))
	}
	if hits[0].ID != "d1" {
		t.Fatalf("expected d1 first, got %s", hits[0].ID)
	}
	if hits[0].Score <= hits[1].Score {
		t.Fatalf("expected descending scores, got %v then %v", hits[0].Score, hits[1].Score)
	}

	// d3 matches no query term but a top-3 cut over 3 documents still
	// includes it, with zero score
	if hits[2].ID != "d3" {
		t.Fatalf("expected zero-score d3 last, got %s", hits[2].ID)
	}
	if hits[2].Score != 0 {
		t.Fatalf("expected zero score for non-matching doc, got %v", hits[2].Score)
	}
}

func TestBM25_RanksAreSequential(t *testing.T) {
	idx := NewBM25Index()
	idx.Index(testDocs())

	hits := idx.Search("diabetes", 2)
	for i, h := range hits {
		if h.Rank != i+1 {
			t.Fatalf("hit %d: expected rank %d, got %d", i, i+1, h.Rank)
		}
	}
}

func TestBM25_EmptyIndex(t *testing.T) {
	idx := NewBM25Index()

	hits := idx.Search("anything", 10)
	if len(hits) != 0 {
		t.Fatalf("expected no hits from empty index, got %d", len(hits))
	}

	stats := idx.Stats()
	if stats.Documents != 0 || stats.Terms != 0 {
		t.Fatalf("expected empty stats, got %+v", stats)
	}
}

func TestBM25_TokenizationIsCaseInsensitive(t *testing.T) {
	idx := NewBM25Index()
	idx.Index([]Document{{ID: "d1", Text: "Aspirin reduces FEVER"}})

	hits := idx.Search("aspirin fever", 1)
	if len(hits) != 1 || hits[0].Score <= 0 {
		t.Fatalf("expected case-insensitive match with positive score, got %+v", hits)
	}
}

func TestBM25_ZeroScoreTiesKeepIndexingOrder(t *testing.T) {
	idx := NewBM25Index()
	idx.Index(testDocs())

	hits := idx.Search("zzz unseen term", 3)
	want := []string{"d1", "d2", "d3"}
	for i, id := range want {
		if hits[i].ID != id {
			t.Fatalf("hit %d: expected %s, got %s", i, id, hits[i].ID)
		}
	}
}

func TestBM25_ReindexReplacesDocuments(t *testing.T) {
	idx := NewBM25Index()
	idx.Index(testDocs())
	idx.Index([]Document{{ID: "new", Text: "a single new document"}})

	if got := idx.Stats().Documents; got != 1 {
		t.Fatalf("expected 1 document after reindex, got %d", got)
	}
	if hits := idx.Search("chest", 5); len(hits) != 1 || hits[0].ID != "new" {
		t.Fatalf("expected old documents gone after reindex, got %+v", hits)
	}
}

func TestBM25_SaveAndLoadIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bm25.json")

	idx := NewBM25Index()
	idx.Index(testDocs())
	if err := idx.SaveIndex(path); err != nil {
		t.Fatalf("SaveIndex: %v", err)
	}

	loaded := NewBM25Index()
	if err := loaded.LoadIndex(path); err != nil {
		t.Fatalf("LoadIndex: %v", err)
	}

	if got, want := loaded.Stats().Documents, 3; got != want {
		t.Fatalf("expected %d documents after load, got %d", want, got)
	}

	orig := idx.Search("chest pain", 3)
	reloaded := loaded.Search("chest pain", 3)
	for i := range orig {
		if orig[i].ID != reloaded[i].ID || orig[i].Score != reloaded[i].Score {
			t.Fatalf("hit %d differs after reload: %+v vs %+v", i, orig[i], reloaded[i])
		}
	}
}

func TestBM25_LoadIndexMissingFile(t *testing.T) {
	idx := NewBM25Index()
	if err := idx.LoadIndex(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("expected error for missing index file")
	}
}
