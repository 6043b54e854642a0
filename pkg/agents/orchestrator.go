package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/medassist-ai/medassist/pkg/llm"
	"github.com/medassist-ai/medassist/pkg/memory"
)

// Orchestrator classifies each query, dispatches it to the matching
// handler and records the exchange in conversation memory.
type Orchestrator struct {
	completer Completer
	memory    *memory.Memory
	diagnosis *DiagnosisAgent
	qa        *QAAgent
	research  *ResearchAgent
}

func NewOrchestrator(completer Completer, mem *memory.Memory, diagnosis *DiagnosisAgent, qa *QAAgent, research *ResearchAgent) *Orchestrator {
	return &Orchestrator{
		completer: completer,
		memory:    mem,
		diagnosis: diagnosis,
		qa:        qa,
		research:  research,
	}
}

// Memory exposes the underlying conversation memory for session endpoints.
func (o *Orchestrator) Memory() *memory.Memory {
	return o.memory
}

// Process routes a query to a handler, formats the answer and appends
// both sides of the exchange to the session log. The user message is
// recorded even when the handler fails, so the log reflects what was
// actually asked.
func (o *Orchestrator) Process(ctx context.Context, query, sessionID string) (*Response, error) {
	if sessionID == "" {
		sessionID = "default"
	}

	contextSummary := o.memory.GetContextSummary(sessionID)

	queryType := o.routeQuery(ctx, query, contextSummary)
	log.Debug().Str("session_id", sessionID).Str("query_type", string(queryType)).Msg("Query routed")

	o.memory.AddMessage(sessionID, memory.RoleUser, query, nil)

	resp := &Response{
		Query:          query,
		QueryType:      queryType,
		PatientContext: contextSummary,
	}

	switch queryType {
	case QueryDiagnosis:
		result, err := o.diagnosis.Diagnose(ctx, query, contextSummary)
		if err != nil {
			return nil, fmt.Errorf("diagnosis handler: %w", err)
		}
		resp.Response = formatDiagnosis(result)
		resp.LowEvidence = result.LowEvidence
		o.memory.AddMessage(sessionID, memory.RoleAssistant, resp.Response, &memory.MessageMetadata{
			QueryType:  string(QueryDiagnosis),
			Diagnosis:  result.Diagnosis,
			Confidence: result.Confidence,
		})

	case QueryResearch:
		result, err := o.research.Research(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("research handler: %w", err)
		}
		resp.Response = formatResearch(result)
		o.memory.AddMessage(sessionID, memory.RoleAssistant, resp.Response, &memory.MessageMetadata{
			QueryType: string(QueryResearch),
		})

	default:
		result, err := o.qa.Ask(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("qa handler: %w", err)
		}
		resp.Response = formatQA(result)
		resp.LowEvidence = result.LowEvidence
		o.memory.AddMessage(sessionID, memory.RoleAssistant, resp.Response, &memory.MessageMetadata{
			QueryType: string(QueryQA),
		})
	}

	return resp, nil
}

// routeQuery asks the LLM for a one-word classification. Any failure or
// unrecognized answer falls back to qa.
func (o *Orchestrator) routeQuery(ctx context.Context, query, contextSummary string) QueryType {
	contextNote := ""
	if contextSummary != memory.NoContextSentinel {
		contextNote = fmt.Sprintf("\n\nPrevious patient context:\n%s", contextSummary)
	}

	prompt := fmt.Sprintf(`You are a medical AI query router. Classify the following query into ONE of these categories:

1. DIAGNOSIS: Patient presents symptoms and needs diagnostic analysis
   - Examples: "Patient has chest pain and shortness of breath", "65-year-old with fatigue and weight loss"

2. QA: Specific medical question that needs a factual answer
   - Examples: "What is the first-line treatment for diabetes?", "What are symptoms of pneumonia?"

3. RESEARCH: Requesting latest research or scientific literature
   - Examples: "What's the latest research on CAR-T therapy?", "Recent studies on GLP-1 agonists"

QUERY: %s%s

Respond with ONLY ONE WORD: DIAGNOSIS, QA, or RESEARCH`, query, contextNote)

	answer, err := o.completer.Complete(ctx, []llm.Message{
		{Role: "system", Content: "You are a medical query classification expert."},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		log.Warn().Err(err).Msg("Query routing failed, defaulting to qa")
		return QueryQA
	}

	classification := strings.ToUpper(strings.TrimSpace(answer))
	switch {
	case strings.Contains(classification, "DIAGNOSIS"):
		return QueryDiagnosis
	case strings.Contains(classification, "RESEARCH"):
		return QueryResearch
	default:
		return QueryQA
	}
}

func formatDiagnosis(result *DiagnosisResult) string {
	return fmt.Sprintf(`DIAGNOSIS ANALYSIS
==================
Diagnosis: %s
Confidence: %.1f%%

RECOMMENDATIONS:
%s

Evidence: Based on %d medical documents`,
		result.Diagnosis, result.Confidence*100, result.Recommendations, result.RetrievedDocs)
}

func formatQA(result *QAResult) string {
	return fmt.Sprintf(`MEDICAL Q&A
===========
Q: %s

A: %s

Sources: %d documents`,
		result.Question, result.Answer, result.RetrievedDocs)
}

func formatResearch(result *ResearchResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, `RESEARCH SYNTHESIS
==================
Topic: %s

%s

Analyzed %d recent papers from PubMed`,
		result.Query, result.Findings, result.TotalPapers)

	if len(result.KeyPapers) > 0 {
		b.WriteString("\n\nKEY PAPERS:")
		for i, paper := range result.KeyPapers {
			fmt.Fprintf(&b, "\n%d. %s\n   %s", i+1, paper.Title, paper.URL)
		}
	}
	return b.String()
}
