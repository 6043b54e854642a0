// Package agents routes free-text medical queries to specialized handlers
// (diagnosis, question-answering, research lookup), each grounding its
// answer in retrieved knowledge and recording the exchange in conversation
// memory.
package agents

import (
	"context"

	"github.com/medassist-ai/medassist/pkg/llm"
	"github.com/medassist-ai/medassist/pkg/pubmed"
	"github.com/medassist-ai/medassist/pkg/retrieval"
)

// QueryType identifies the handler a query was routed to
type QueryType string

const (
	QueryDiagnosis QueryType = "diagnosis"
	QueryQA        QueryType = "qa"
	QueryResearch  QueryType = "research"
)

// Retriever is the slice of the retrieval service the handlers consume
type Retriever interface {
	Search(ctx context.Context, req retrieval.SearchRequest) (*retrieval.SearchResponse, error)
}

// Completer is the opaque text-completion service
type Completer interface {
	Complete(ctx context.Context, messages []llm.Message) (string, error)
}

// Literature is the opaque paginated search-and-fetch service
type Literature interface {
	Search(ctx context.Context, term string, maxResults, recencyDays int) ([]string, error)
	Fetch(ctx context.Context, ids []string) ([]pubmed.Paper, error)
}

// DiagnosisResult is the structured outcome of a diagnosis query
type DiagnosisResult struct {
	Diagnosis       string  `json:"diagnosis"`
	Confidence      float64 `json:"confidence"`
	Recommendations string  `json:"recommendations"`
	RetrievedDocs   int     `json:"retrieved_docs_count"`
	LowEvidence     bool    `json:"low_evidence"`
	Parsed          bool    `json:"parsed"` // false when extraction fell back to defaults
}

// QAResult is the structured outcome of a question-answering query
type QAResult struct {
	Question      string   `json:"question"`
	Answer        string   `json:"answer"`
	Sources       []string `json:"sources"`
	RetrievedDocs int      `json:"retrieved_docs_count"`
	LowEvidence   bool     `json:"low_evidence"`
}

// ResearchResult is the structured outcome of a research query
type ResearchResult struct {
	Query       string         `json:"query"`
	Findings    string         `json:"findings"`
	KeyPapers   []pubmed.Paper `json:"key_papers"`
	TotalPapers int            `json:"total_papers"`
}

// Response is the orchestrator's final answer for one query
type Response struct {
	Query          string    `json:"query"`
	QueryType      QueryType `json:"query_type"`
	Response       string    `json:"response"`
	PatientContext string    `json:"patient_context"`
	LowEvidence    bool      `json:"low_evidence"`
}
