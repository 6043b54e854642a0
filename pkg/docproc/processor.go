// Package docproc turns raw knowledge-base files into indexable documents.
// It is used by the offline indexing pass; documents are immutable once
// produced and removed only by a full reindex.
package docproc

import (
	"crypto/md5"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/medassist-ai/medassist/pkg/retrieval"
)

var (
	whitespacePattern = regexp.MustCompile(`\s+`)
	// Strip special characters but keep word chars, punctuation common in
	// clinical text, and measurement slashes (e.g. "126 mg/dL")
	specialPattern = regexp.MustCompile(`[^\w\s.,\-()/]`)
)

// Processor splits documents into overlapping word-window chunks
type Processor struct {
	chunkWords   int
	overlapWords int
	minWords     int
}

// New creates a processor. Zero values fall back to defaults
// (500-word chunks, 50-word overlap, 20-word minimum).
func New(chunkWords, overlapWords, minWords int) *Processor {
	if chunkWords <= 0 {
		chunkWords = 500
	}
	if overlapWords < 0 || overlapWords >= chunkWords {
		overlapWords = 50
	}
	if minWords <= 0 {
		minWords = 20
	}
	return &Processor{
		chunkWords:   chunkWords,
		overlapWords: overlapWords,
		minWords:     minWords,
	}
}

// CleanText collapses whitespace and removes characters that carry no
// signal for retrieval
func (p *Processor) CleanText(text string) string {
	text = whitespacePattern.ReplaceAllString(text, " ")
	text = specialPattern.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// ChunkText splits text into overlapping word windows. Windows shorter
// than the minimum word count are dropped.
func (p *Processor) ChunkText(text string) []string {
	words := strings.Fields(text)
	step := p.chunkWords - p.overlapWords

	var chunks []string
	for i := 0; i < len(words); i += step {
		end := i + p.chunkWords
		if end > len(words) {
			end = len(words)
		}
		chunk := words[i:end]
		if len(chunk) > p.minWords {
			chunks = append(chunks, strings.Join(chunk, " "))
		}
		if end == len(words) {
			break
		}
	}

	return chunks
}

// documentID generates a deterministic chunk identifier. The ID is stable
// across reindexes of unchanged content, so the lexical and vector indexes
// always agree on document identity.
func documentID(source string, chunkIdx int, text string) string {
	raw := fmt.Sprintf("%s_%d_%s", source, chunkIdx, text)
	hash := md5.Sum([]byte(raw))
	return fmt.Sprintf("%x", hash)[:16]
}

// ProcessFile reads, cleans and chunks one file into documents. The source
// label is the file's base name; metadata is attached to every chunk.
func (p *Processor) ProcessFile(path string, metadata map[string]string) ([]retrieval.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return p.Process(filepath.Base(path), string(data), metadata), nil
}

// Process cleans and chunks raw text into documents
func (p *Processor) Process(source, text string, metadata map[string]string) []retrieval.Document {
	cleaned := p.CleanText(text)
	chunks := p.ChunkText(cleaned)

	documents := make([]retrieval.Document, 0, len(chunks))
	for i, chunk := range chunks {
		meta := make(map[string]string, len(metadata)+1)
		for k, v := range metadata {
			meta[k] = v
		}
		meta["chunk_index"] = fmt.Sprintf("%d", i)

		documents = append(documents, retrieval.Document{
			ID:       documentID(source, i, chunk),
			Text:     chunk,
			Source:   source,
			Metadata: meta,
		})
	}

	return documents
}

// ProcessDir processes every regular file under dir (non-recursive hidden
// files are skipped) into one document collection.
func (p *Processor) ProcessDir(dir string, metadata map[string]string) ([]retrieval.Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading directory %s: %w", dir, err)
	}

	var documents []retrieval.Document
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		docs, err := p.ProcessFile(filepath.Join(dir, entry.Name()), metadata)
		if err != nil {
			return nil, err
		}
		documents = append(documents, docs...)
	}

	return documents, nil
}
