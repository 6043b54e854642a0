package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/medassist-ai/medassist/pkg/llm"
	"github.com/medassist-ai/medassist/pkg/retrieval"
	"github.com/medassist-ai/medassist/pkg/util"
)

const retrieveTopK = 5

// DiagnosisAgent analyzes reported symptoms against retrieved medical
// knowledge and produces a structured diagnostic assessment.
type DiagnosisAgent struct {
	retriever Retriever
	completer Completer
}

// NewDiagnosisAgent creates a diagnosis agent
func NewDiagnosisAgent(retriever Retriever, completer Completer) *DiagnosisAgent {
	return &DiagnosisAgent{
		retriever: retriever,
		completer: completer,
	}
}

// Diagnose retrieves supporting knowledge for the symptoms and asks the
// model for a structured analysis. Zero retrieved documents still yields
// an answer, flagged LowEvidence.
func (a *DiagnosisAgent) Diagnose(ctx context.Context, symptoms, patientHistory string) (*DiagnosisResult, error) {
	query := symptoms
	if patientHistory != "" {
		query = symptoms + " " + patientHistory
	}

	resp, err := a.retriever.Search(ctx, retrieval.SearchRequest{
		Query: query,
		Mode:  retrieval.ModeHybrid,
		Limit: retrieveTopK,
	})
	if err != nil {
		return nil, fmt.Errorf("retrieving knowledge: %w", err)
	}

	if patientHistory == "" {
		patientHistory = "No additional history provided"
	}

	prompt := fmt.Sprintf(`You are an expert medical AI assistant. Based on the provided medical knowledge and patient information, provide a diagnostic analysis.

MEDICAL KNOWLEDGE:
%s

PATIENT SYMPTOMS:
%s

PATIENT HISTORY:
%s

Respond with a single JSON object with these fields:
{
  "diagnosis": "most likely condition",
  "confidence": 0.0 to 1.0,
  "supporting_evidence": "key findings that support this diagnosis",
  "differential_diagnoses": ["other conditions to consider"],
  "recommendations": "tests, examinations, or immediate actions"
}

Be thorough but concise. Focus on evidence-based reasoning.`,
		documentContext(resp.Results), symptoms, patientHistory)

	analysis, err := a.completer.Complete(ctx, []llm.Message{
		{Role: "system", Content: "You are an expert medical diagnostic AI assistant."},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return nil, fmt.Errorf("diagnostic analysis: %w", err)
	}

	parsed := parseAnalysis(analysis)

	return &DiagnosisResult{
		Diagnosis:       parsed.Diagnosis,
		Confidence:      parsed.Confidence,
		Recommendations: parsed.Recommendations,
		RetrievedDocs:   len(resp.Results),
		LowEvidence:     len(resp.Results) == 0,
		Parsed:          parsed.Parsed,
	}, nil
}

// documentContext renders retrieved documents as numbered prompt context,
// each truncated to a manageable snippet
func documentContext(hits []retrieval.Hit) string {
	if len(hits) == 0 {
		return "(no supporting documents found)"
	}

	parts := make([]string, 0, len(hits))
	for i, hit := range hits {
		parts = append(parts, fmt.Sprintf("Document %d:\n%s", i+1, util.Truncate(hit.Text, 500)))
	}
	return strings.Join(parts, "\n\n")
}
