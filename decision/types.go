// Package decision implements the AI decision service: template-rendered
// prompts producing typed decisions, versioned template storage, and A/B
// testing over template variants. Every decision has a deterministic fallback
// so an LLM outage degrades quality, never availability.
package decision

import (
	"github.com/docsift/docsift/core"
)

// Type names one of the ten decisions the service answers.
type Type string

const (
	TypeQueryUnderstanding      Type = "query_understanding"
	TypeResultRelevance         Type = "result_relevance"
	TypeQueryRefinement         Type = "query_refinement"
	TypeExternalSearchDecision  Type = "external_search_decision"
	TypeExternalSearchQuery     Type = "external_search_query"
	TypeContentExtraction       Type = "content_extraction"
	TypeResponseFormatSelection Type = "response_format_selection"
	TypeLearningOpportunities   Type = "learning_opportunities"
	TypeProviderSelection       Type = "provider_selection"
	TypeFailureAnalysis         Type = "failure_analysis"
)

// AllTypes lists every decision type; template seeding and admin listings
// iterate it.
var AllTypes = []Type{
	TypeQueryUnderstanding,
	TypeResultRelevance,
	TypeQueryRefinement,
	TypeExternalSearchDecision,
	TypeExternalSearchQuery,
	TypeContentExtraction,
	TypeResponseFormatSelection,
	TypeLearningOpportunities,
	TypeProviderSelection,
	TypeFailureAnalysis,
}

// Valid reports whether t names a known decision type.
func (t Type) Valid() bool {
	for _, known := range AllTypes {
		if t == known {
			return true
		}
	}
	return false
}

// QueryUnderstanding captures intent and workspace routing hints.
type QueryUnderstanding struct {
	Intent              string   `json:"intent"`
	Domain              string   `json:"domain,omitempty"`
	AnswerType          string   `json:"answer_type,omitempty"`
	Entities            []string `json:"entities,omitempty"`
	SuggestedWorkspaces []string `json:"suggested_workspaces,omitempty"`
	Confidence          float64  `json:"confidence"`
}

// Refinement is a rewritten query plus the applied strategy.
type Refinement struct {
	RefinedQuery string   `json:"refined_query"`
	Strategy     string   `json:"strategy,omitempty"`
	AddedTerms   []string `json:"added_terms,omitempty"`
	RemovedTerms []string `json:"removed_terms,omitempty"`
	Reasoning    string   `json:"reasoning,omitempty"`
}

// Record translates the refinement into the response-facing shape.
func (r *Refinement) Record() *core.RefinementRecord {
	return &core.RefinementRecord{
		RefinedQuery: r.RefinedQuery,
		Strategy:     r.Strategy,
		AddedTerms:   r.AddedTerms,
		RemovedTerms: r.RemovedTerms,
	}
}

// ExternalSearchDecision gates the external provider pool.
type ExternalSearchDecision struct {
	UseExternal          bool     `json:"use_external"`
	Reasoning            string   `json:"reasoning,omitempty"`
	RecommendedProviders []string `json:"recommended_providers,omitempty"`
	LikelyPublicDocs     bool     `json:"likely_public_docs"`
	TopicRecency         string   `json:"topic_recency,omitempty"`
	ExpectedImprovement  float64  `json:"expected_improvement"`
}

// ExternalSearchQuery is the provider-optimized query form.
type ExternalSearchQuery struct {
	Query            string   `json:"query"`
	QuotedPhrases    []string `json:"quoted_phrases,omitempty"`
	RequiredTerms    []string `json:"required_terms,omitempty"`
	ExcludedTerms    []string `json:"excluded_terms,omitempty"`
	SiteRestrictions []string `json:"site_restrictions,omitempty"`
}

// ContentExtraction is distilled markdown with code blocks preserved.
type ContentExtraction struct {
	Content    string   `json:"content"`
	CodeBlocks []string `json:"code_blocks,omitempty"`
	SourceURLs []string `json:"source_urls,omitempty"`
}

// FormatSelection decides between raw excerpts and a synthesized answer.
type FormatSelection struct {
	ResponseType core.ResponseType `json:"response_type"`
	Answer       string            `json:"answer,omitempty"`
	Citations    []Citation        `json:"citations,omitempty"`
	Reasoning    string            `json:"reasoning,omitempty"`
}

// Citation attributes a span of a synthesized answer to a source hit.
type Citation struct {
	ContentID string `json:"content_id"`
	Title     string `json:"title,omitempty"`
	SourceURL string `json:"source_url,omitempty"`
}

// LearningOpportunity is one identified documentation gap.
type LearningOpportunity struct {
	Gap               string   `json:"gap"`
	Priority          string   `json:"priority"` // high|medium|low
	SourceSuggestions []string `json:"source_suggestions,omitempty"`
	Workspace         string   `json:"workspace,omitempty"`
}

// ProviderSelection picks the best external provider.
type ProviderSelection struct {
	Provider    string  `json:"provider"`
	Reasoning   string  `json:"reasoning,omitempty"`
	Confidence  float64 `json:"confidence"`
	Alternative string  `json:"alternative,omitempty"`
}

// FailureAnalysis explains an empty or failed search to the caller.
type FailureAnalysis struct {
	Reasons              []string `json:"reasons"`
	QueryIssues          []string `json:"query_issues,omitempty"`
	MissingDomains       []string `json:"missing_domains,omitempty"`
	TechnicalLimitations []string `json:"technical_limitations,omitempty"`
	UserMessage          string   `json:"user_message"`
}

// Outcome is recorded against the rendering template (and its A/B variant if
// one was assigned) after every decision call.
type Outcome struct {
	QualityScore     float64 `json:"quality_score"`
	LatencyMs        float64 `json:"latency_ms"`
	TokenCount       int     `json:"token_count"`
	UserSatisfaction float64 `json:"user_satisfaction,omitempty"`
	Failed           bool    `json:"failed"`
	Fallback         bool    `json:"fallback"`
}
