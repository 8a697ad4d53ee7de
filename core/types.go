package core

import (
	"time"
)

// NormalizedQuery is the canonical form of an incoming query. It exists only
// within one request span. Identical normalized text and technology hint
// always produce an identical fingerprint.
type NormalizedQuery struct {
	Original       string   `json:"original"`
	Normalized     string   `json:"normalized"`
	Fingerprint    string   `json:"fingerprint"`
	TechnologyHint string   `json:"technology_hint,omitempty"`
	Tokens         []string `json:"tokens,omitempty"`
}

// Priority classifies queue entries. Lower numeric value dequeues first.
type Priority int

const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
	PriorityBatch
)

// String returns the string representation of the priority
func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	case PriorityBatch:
		return "batch"
	default:
		return "unknown"
	}
}

// ResponseType selects between raw curated excerpts and a synthesized answer.
type ResponseType string

const (
	ResponseRaw    ResponseType = "raw"
	ResponseAnswer ResponseType = "answer"
)

// TriState models the use_external_search request field: absent, forced on,
// or forced off.
type TriState int

const (
	TriAuto TriState = iota
	TriOn
	TriOff
)

// UserContext carries identity and rate-limit state for one caller. The rate
// limiter is the only mutator of the request counters.
type UserContext struct {
	UserID        string   `json:"user_id"`
	SessionID     string   `json:"session_id,omitempty"`
	Workspaces    []string `json:"workspaces"`
	RateLimitTier string   `json:"rate_limit_tier,omitempty"`
	WindowCount   int64    `json:"window_count"`
}

// CanRead reports whether the user may read the given workspace.
func (u *UserContext) CanRead(workspace string) bool {
	for _, w := range u.Workspaces {
		if w == workspace {
			return true
		}
	}
	return false
}

// SearchRequest lives from admission to response emission.
type SearchRequest struct {
	RequestID         string          `json:"request_id"`
	Query             NormalizedQuery `json:"query"`
	User              UserContext     `json:"user"`
	PriorityScore     float64         `json:"priority_score"` // 0..10
	ResponseType      ResponseType    `json:"response_type"`
	ProviderOverrides []string        `json:"external_providers,omitempty"`
	UseExternal       TriState        `json:"use_external_search"`
	Limit             int             `json:"limit"`
	Offset            int             `json:"offset"`
	CreatedAt         time.Time       `json:"created_at"`
	EnqueuedAt        time.Time       `json:"enqueued_at,omitempty"`
}

// ContentType classifies a search hit.
type ContentType string

const (
	ContentAPI            ContentType = "api"
	ContentGuide          ContentType = "guide"
	ContentTutorial       ContentType = "tutorial"
	ContentReference      ContentType = "reference"
	ContentChangelog      ContentType = "changelog"
	ContentGettingStarted ContentType = "getting_started"
	ContentInstallation   ContentType = "installation"
	ContentBlog           ContentType = "blog"
	ContentNews           ContentType = "news"
	ContentGeneral        ContentType = "general"
)

// SearchResult is a single hit, internal or external.
type SearchResult struct {
	ContentID      string                 `json:"content_id"`
	Title          string                 `json:"title"`
	Snippet        string                 `json:"snippet"`
	Content        string                 `json:"content,omitempty"`
	SourceURL      string                 `json:"source_url"`
	Workspace      string                 `json:"workspace,omitempty"`
	Technology     string                 `json:"technology,omitempty"`
	ContentType    ContentType            `json:"content_type"`
	RelevanceScore float64                `json:"relevance_score"` // 0..1
	RecencyScore   float64                `json:"recency_score"`   // 0..1
	QualityScore   float64                `json:"quality_score"`   // 0..1
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// Provider returns the external provider tag of the hit, or "" for internal
// results.
func (r *SearchResult) Provider() string {
	if r.Metadata == nil {
		return ""
	}
	if p, ok := r.Metadata["provider"].(string); ok {
		return p
	}
	return ""
}

// VectorSearchResults aggregates the fan-out output.
type VectorSearchResults struct {
	Results            []SearchResult    `json:"results"`
	Total              int               `json:"total"`
	WorkspaceErrors    map[string]string `json:"workspace_errors,omitempty"`
	WorkspacesSearched []string          `json:"workspaces_searched"`
	ProvidersUsed      []string          `json:"providers_used,omitempty"`
	Duration           time.Duration     `json:"duration"`
}

// EvaluationResult is the AI quality assessment of a result set.
type EvaluationResult struct {
	OverallQuality       float64  `json:"overall_quality"` // 0..1
	Relevance            float64  `json:"relevance"`       // 0..1
	Completeness         float64  `json:"completeness"`    // 0..1
	NeedsRefinement      bool     `json:"needs_refinement"`
	NeedsExternalSearch  bool     `json:"needs_external_search"`
	MissingInformation   []string `json:"missing_information,omitempty"`
	SuggestedRefinements []string `json:"suggested_refinements,omitempty"`
	RecommendedProviders []string `json:"recommended_providers,omitempty"`
	Confidence           float64  `json:"confidence"`
	Reasoning            string   `json:"reasoning,omitempty"`
	KnowledgeGaps        []string `json:"knowledge_gaps,omitempty"`
}

// RefinementRecord documents an applied query refinement.
type RefinementRecord struct {
	RefinedQuery string   `json:"refined_query"`
	Strategy     string   `json:"strategy,omitempty"`
	AddedTerms   []string `json:"added_terms,omitempty"`
	RemovedTerms []string `json:"removed_terms,omitempty"`
}

// IngestionType distinguishes synchronous from scheduled ingestion.
type IngestionType string

const (
	IngestionSynchronous  IngestionType = "synchronous"
	IngestionAsynchronous IngestionType = "asynchronous"
)

// IngestionStatus travels inside the success response; ingestion faults never
// fail the read path.
type IngestionStatus struct {
	Success       bool          `json:"success"`
	IngestedCount int           `json:"ingested_count"`
	Duration      time.Duration `json:"duration"`
	SourceTag     string        `json:"source_tag,omitempty"`
	Type          IngestionType `json:"type"`
	Error         string        `json:"error,omitempty"`
}

// SearchResponse is the cached unit and the external response shape.
type SearchResponse struct {
	Query               string            `json:"query"`
	TechnologyHint      string            `json:"technology_hint,omitempty"`
	Results             []SearchResult    `json:"results"`
	Total               int               `json:"total"`
	ResponseType        ResponseType      `json:"response_type"`
	Answer              string            `json:"answer,omitempty"`
	ExecutionTime       time.Duration     `json:"execution_time"`
	CacheHit            bool              `json:"cache_hit"`
	ExternalSearchUsed  bool              `json:"external_search_used"`
	EnrichmentTriggered bool              `json:"enrichment_triggered"`
	Refinement          *RefinementRecord `json:"refinement,omitempty"`
	Ingestion           *IngestionStatus  `json:"ingestion_status,omitempty"`
	Evaluation          *EvaluationResult `json:"evaluation,omitempty"`
	WorkspaceErrors     map[string]string `json:"workspace_errors,omitempty"`
	TraceID             string            `json:"trace_id,omitempty"`
}
