package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/medassist-ai/medassist/pkg/llm"
	"github.com/medassist-ai/medassist/pkg/pubmed"
)

// ResearchAgent synthesizes recent literature for a research query
type ResearchAgent struct {
	literature  Literature
	completer   Completer
	maxResults  int
	recencyDays int
}

// NewResearchAgent creates a research agent. maxResults and recencyDays
// fall back to 10 papers over the last two years.
func NewResearchAgent(literature Literature, completer Completer, maxResults, recencyDays int) *ResearchAgent {
	if maxResults <= 0 {
		maxResults = 10
	}
	if recencyDays <= 0 {
		recencyDays = 730
	}
	return &ResearchAgent{
		literature:  literature,
		completer:   completer,
		maxResults:  maxResults,
		recencyDays: recencyDays,
	}
}

// Research searches recent literature and synthesizes the findings. Zero
// papers found is a normal outcome with a fixed findings message.
func (a *ResearchAgent) Research(ctx context.Context, query string) (*ResearchResult, error) {
	ids, err := a.literature.Search(ctx, query, a.maxResults, a.recencyDays)
	if err != nil {
		return nil, fmt.Errorf("literature search: %w", err)
	}

	if len(ids) == 0 {
		return &ResearchResult{
			Query:     query,
			Findings:  "No research papers found for this query.",
			KeyPapers: []pubmed.Paper{},
		}, nil
	}

	papers, err := a.literature.Fetch(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("fetching papers: %w", err)
	}

	if len(papers) == 0 {
		return &ResearchResult{
			Query:     query,
			Findings:  "No research papers found for this query.",
			KeyPapers: []pubmed.Paper{},
		}, nil
	}

	var paperParts []string
	for i, paper := range papers {
		paperParts = append(paperParts, fmt.Sprintf(`Paper %d:
Title: %s
Authors: %s
Date: %s
Abstract: %s
PMID: %s`, i+1, paper.Title, paper.Authors, paper.Date, paper.Abstract, paper.PMID))
	}

	prompt := fmt.Sprintf(`You are a medical research analyst. Synthesize the following recent research papers related to: %q

RESEARCH PAPERS:
%s

Provide a comprehensive synthesis that includes:
1. MAIN FINDINGS: What are the key discoveries or trends across these papers?
2. CLINICAL IMPLICATIONS: What do these findings mean for clinical practice?
3. RESEARCH GAPS: What questions remain unanswered?
4. KEY PAPERS: Which 3 papers are most important and why?

Be concise but thorough. Focus on actionable insights.`, query, strings.Join(paperParts, "\n---\n"))

	findings, err := a.completer.Complete(ctx, []llm.Message{
		{Role: "system", Content: "You are an expert medical research analyst."},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return nil, fmt.Errorf("synthesizing findings: %w", err)
	}

	keyPapers := papers
	if len(keyPapers) > 3 {
		keyPapers = keyPapers[:3]
	}

	return &ResearchResult{
		Query:       query,
		Findings:    findings,
		KeyPapers:   keyPapers,
		TotalPapers: len(papers),
	}, nil
}
