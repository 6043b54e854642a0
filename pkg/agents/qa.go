package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/medassist-ai/medassist/pkg/llm"
	"github.com/medassist-ai/medassist/pkg/retrieval"
	"github.com/medassist-ai/medassist/pkg/util"
)

// QAAgent answers factual medical questions grounded in retrieved knowledge
type QAAgent struct {
	retriever Retriever
	completer Completer
}

// NewQAAgent creates a question-answering agent
func NewQAAgent(retriever Retriever, completer Completer) *QAAgent {
	return &QAAgent{
		retriever: retriever,
		completer: completer,
	}
}

// Ask retrieves supporting documents and generates a sourced answer.
// Zero retrieved documents still yields an answer, flagged LowEvidence.
func (a *QAAgent) Ask(ctx context.Context, question string) (*QAResult, error) {
	resp, err := a.retriever.Search(ctx, retrieval.SearchRequest{
		Query: question,
		Mode:  retrieval.ModeHybrid,
		Limit: retrieveTopK,
	})
	if err != nil {
		return nil, fmt.Errorf("retrieving context: %w", err)
	}

	var contextParts []string
	var sources []string
	for i, hit := range resp.Results {
		source := hit.Source
		if source == "" {
			source = fmt.Sprintf("Document %d", i+1)
		}
		contextParts = append(contextParts, fmt.Sprintf("[Source %d]: %s", i+1, util.Truncate(hit.Text, 400)))
		sources = append(sources, source)
	}

	docContext := strings.Join(contextParts, "\n\n")
	if docContext == "" {
		docContext = "(no supporting documents found)"
	}

	prompt := fmt.Sprintf(`You are an expert medical AI assistant. Answer the following medical question using ONLY the provided context. Be accurate, concise, and cite your sources.

CONTEXT FROM MEDICAL KNOWLEDGE BASE:
%s

QUESTION:
%s

INSTRUCTIONS:
1. Answer the question directly and clearly
2. Use only information from the provided context
3. If the context doesn't contain enough information, say so honestly
4. Keep your answer concise but complete
5. Mention which sources support your answer (e.g., "According to Source 1...")

ANSWER:`, docContext, question)

	answer, err := a.completer.Complete(ctx, []llm.Message{
		{Role: "system", Content: "You are an expert medical AI assistant. Provide accurate, evidence-based answers."},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return nil, fmt.Errorf("generating answer: %w", err)
	}

	return &QAResult{
		Question:      question,
		Answer:        answer,
		Sources:       sources,
		RetrievedDocs: len(resp.Results),
		LowEvidence:   len(resp.Results) == 0,
	}, nil
}
