package retrieval

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// BM25 Okapi parameters. These match the common defaults; the ranking only
// has to be stable, absolute score values are not part of the contract.
const (
	bm25K1 = 1.5
	bm25B  = 0.75
)

// BM25Index is an in-process lexical index over the document collection.
// Indexing replaces the whole index; there is no incremental update. The
// index is safe for concurrent searches; Index takes the write lock.
type BM25Index struct {
	mu sync.RWMutex

	docs      []Document
	termFreqs []map[string]int // per-document token counts
	docLens   []int
	docFreq   map[string]int // documents containing each term
	avgDocLen float64
	indexedAt time.Time
}

// NewBM25Index creates an empty BM25 index
func NewBM25Index() *BM25Index {
	return &BM25Index{
		docFreq: make(map[string]int),
	}
}

// tokenize lowercases and splits on whitespace. No stemming, no stop-word
// removal; unseen terms simply score zero.
func tokenize(text string) []string {
	return strings.Fields(strings.ToLower(text))
}

// Index replaces the entire index with the given documents. An empty
// document set leaves the index in a valid empty state.
func (b *BM25Index) Index(documents []Document) {
	termFreqs := make([]map[string]int, len(documents))
	docLens := make([]int, len(documents))
	docFreq := make(map[string]int)

	totalLen := 0
	for i, doc := range documents {
		tokens := tokenize(doc.Text)
		tf := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			tf[tok]++
		}
		for tok := range tf {
			docFreq[tok]++
		}
		termFreqs[i] = tf
		docLens[i] = len(tokens)
		totalLen += len(tokens)
	}

	avgDocLen := 0.0
	if len(documents) > 0 {
		avgDocLen = float64(totalLen) / float64(len(documents))
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.docs = append([]Document(nil), documents...)
	b.termFreqs = termFreqs
	b.docLens = docLens
	b.docFreq = docFreq
	b.avgDocLen = avgDocLen
	b.indexedAt = time.Now()
}

// Search returns up to topK documents ranked by BM25 score. Documents with
// zero score are still eligible (ties keep indexing order), matching a
// top-k cut over the full collection. An empty index returns an empty
// slice, never an error.
func (b *BM25Index) Search(query string, topK int) []LexicalHit {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.docs) == 0 || topK <= 0 {
		return []LexicalHit{}
	}

	queryTokens := tokenize(query)
	n := float64(len(b.docs))

	type scored struct {
		idx   int
		score float64
	}
	scores := make([]scored, len(b.docs))
	for i := range b.docs {
		scores[i] = scored{idx: i}
	}

	for _, tok := range queryTokens {
		df, ok := b.docFreq[tok]
		if !ok {
			continue
		}
		// Smoothed IDF, never negative
		idf := math.Log(1 + (n-float64(df)+0.5)/(float64(df)+0.5))

		for i := range b.docs {
			tf := float64(b.termFreqs[i][tok])
			if tf == 0 {
				continue
			}
			norm := 1 - bm25B + bm25B*float64(b.docLens[i])/b.avgDocLen
			scores[i].score += idf * tf * (bm25K1 + 1) / (tf + bm25K1*norm)
		}
	}

	// Stable: equal scores keep indexing order
	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].score > scores[j].score
	})

	if topK > len(scores) {
		topK = len(scores)
	}

	results := make([]LexicalHit, 0, topK)
	for _, s := range scores[:topK] {
		results = append(results, LexicalHit{
			Document: b.docs[s.idx],
			Rank:     len(results) + 1,
			Score:    s.score,
		})
	}

	return results
}

// Stats returns index statistics
func (b *BM25Index) Stats() LexicalStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	stats := LexicalStats{
		Documents: len(b.docs),
		Terms:     len(b.docFreq),
		AvgDocLen: b.avgDocLen,
	}
	if !b.indexedAt.IsZero() {
		stats.IndexedAt = b.indexedAt.Format(time.RFC3339)
	}
	return stats
}

// bm25IndexFile is the on-disk layout of a saved index. Only the documents
// are persisted; statistics are rebuilt on load.
type bm25IndexFile struct {
	Documents []Document `json:"documents"`
}

// SaveIndex writes the document collection to path as JSON
func (b *BM25Index) SaveIndex(path string) error {
	b.mu.RLock()
	data, err := json.Marshal(bm25IndexFile{Documents: b.docs})
	b.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshaling BM25 index: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating index directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing BM25 index: %w", err)
	}
	return nil
}

// LoadIndex reads a saved document collection and rebuilds the index
func (b *BM25Index) LoadIndex(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading BM25 index: %w", err)
	}

	var file bm25IndexFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing BM25 index: %w", err)
	}

	b.Index(file.Documents)
	return nil
}
