package decision

import (
	"fmt"

	"github.com/docsift/docsift/core"
)

// Deterministic fallbacks. Every decision degrades to one of these when the
// LLM call fails, times out, or returns unparseable output; the orchestrator
// never sees the failure.

func fallbackQueryUnderstanding(q *core.NormalizedQuery) *QueryUnderstanding {
	return &QueryUnderstanding{
		Intent:     "information_seeking",
		Domain:     q.TechnologyHint,
		AnswerType: "documentation",
		Entities:   q.Tokens,
		Confidence: 0.3,
	}
}

func fallbackEvaluation(results []core.SearchResult) *core.EvaluationResult {
	// Average the per-hit relevance the vector index already computed.
	if len(results) == 0 {
		return &core.EvaluationResult{
			OverallQuality:      0,
			NeedsExternalSearch: true,
			Confidence:          0.3,
			Reasoning:           "no internal results",
		}
	}
	var sum float64
	for _, r := range results {
		sum += r.RelevanceScore
	}
	avg := sum / float64(len(results))
	return &core.EvaluationResult{
		OverallQuality:      avg,
		Relevance:           avg,
		Completeness:        avg,
		NeedsRefinement:     avg >= 0.4 && avg < 0.8,
		NeedsExternalSearch: avg < 0.6,
		Confidence:          0.3,
		Reasoning:           "mean vector relevance",
	}
}

func fallbackRefinement(q *core.NormalizedQuery) *Refinement {
	refined := q.Normalized
	if q.TechnologyHint != "" {
		refined = q.TechnologyHint + " " + refined
	}
	return &Refinement{
		RefinedQuery: refined,
		Strategy:     "prepend_technology_hint",
		AddedTerms:   []string{q.TechnologyHint},
	}
}

func fallbackExternalDecision(quality float64, resultCount int, threshold float64) *ExternalSearchDecision {
	return &ExternalSearchDecision{
		UseExternal: quality < threshold || resultCount == 0,
		Reasoning:   fmt.Sprintf("quality %.2f against threshold %.2f with %d results", quality, threshold, resultCount),
	}
}

func fallbackExternalQuery(q *core.NormalizedQuery) *ExternalSearchQuery {
	out := &ExternalSearchQuery{Query: q.Normalized}
	if q.TechnologyHint != "" {
		out.Query = q.TechnologyHint + " " + out.Query
		out.RequiredTerms = []string{q.TechnologyHint}
	}
	return out
}

func fallbackExtraction(raw string) *ContentExtraction {
	return &ContentExtraction{Content: raw}
}

func fallbackFormat(results []core.SearchResult) *FormatSelection {
	// Without a model there is nothing to synthesize; fall back to raw.
	return &FormatSelection{ResponseType: core.ResponseRaw}
}

func fallbackProviderSelection(priority []string) *ProviderSelection {
	if len(priority) == 0 {
		return &ProviderSelection{Confidence: 0}
	}
	return &ProviderSelection{
		Provider:   priority[0],
		Reasoning:  "configured priority order",
		Confidence: 0.3,
	}
}

func fallbackFailureAnalysis(q *core.NormalizedQuery, workspaceErrors map[string]string) *FailureAnalysis {
	fa := &FailureAnalysis{
		Reasons:     []string{"no matching documents in the searched workspaces"},
		UserMessage: fmt.Sprintf("No documentation found for %q. Try different terms or add a technology hint.", q.Original),
	}
	for ws, msg := range workspaceErrors {
		fa.TechnicalLimitations = append(fa.TechnicalLimitations, fmt.Sprintf("workspace %s: %s", ws, msg))
	}
	return fa
}
