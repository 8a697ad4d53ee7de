package decision

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/docsift/docsift/core"
)

// Service answers the ten decisions. Each call renders the active (or A/B
// assigned) template, asks the model, and parses the typed output; any
// failure along the way degrades to the decision's deterministic fallback.
type Service struct {
	ai        core.AIClient
	templates TemplateStore
	tests     *TestRegistry
	cfg       Config
	logger    core.Logger
	telemetry core.Telemetry
}

// Config tunes the decision service.
type Config struct {
	Timeout               time.Duration // per decision call
	ExternalSearchTrigger float64       // quality threshold for the fallback
	ProviderPriority      []string      // fallback provider order
}

// NewService wires the decision service. A nil AI client is allowed: every
// decision then runs on its fallback, which keeps the search path alive in
// deployments without a model.
func NewService(ai core.AIClient, templates TemplateStore, tests *TestRegistry, cfg Config, logger core.Logger, telemetry core.Telemetry) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.ExternalSearchTrigger <= 0 {
		cfg.ExternalSearchTrigger = 0.6
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if telemetry == nil {
		telemetry = &core.NoOpTelemetry{}
	}
	if tests == nil {
		tests = NewTestRegistry()
	}
	return &Service{
		ai:        ai,
		templates: templates,
		tests:     tests,
		cfg:       cfg,
		logger:    logger,
		telemetry: telemetry,
	}
}

// Tests exposes the A/B registry for the admin surface.
func (s *Service) Tests() *TestRegistry { return s.tests }

// Templates exposes the template store for the admin surface.
func (s *Service) Templates() TemplateStore { return s.templates }

// callResult carries the raw model output plus attribution for metrics.
type callResult struct {
	content  string
	template *PromptTemplate
	testID   string
	latency  time.Duration
	tokens   int
}

// call resolves the template (consulting the A/B registry), renders it, and
// runs the model. Errors are returned to the per-decision method, which
// substitutes its fallback.
func (s *Service) call(ctx context.Context, dt Type, userID string, vars map[string]interface{}) (*callResult, error) {
	if s.ai == nil {
		return nil, core.ErrProviderUnavailable
	}

	tpl, testID, err := s.resolveTemplate(ctx, dt, userID)
	if err != nil {
		return nil, err
	}
	prompt, err := tpl.Render(vars)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := s.ai.GenerateResponse(callCtx, prompt, tpl.AIOptions())
	latency := time.Since(start)
	if err != nil {
		s.recordOutcome(ctx, dt, tpl, testID, Outcome{LatencyMs: float64(latency.Milliseconds()), Failed: true})
		return nil, fmt.Errorf("decision %s failed: %w", dt, err)
	}

	return &callResult{
		content:  resp.Content,
		template: tpl,
		testID:   testID,
		latency:  latency,
		tokens:   resp.Usage.TotalTokens,
	}, nil
}

// resolveTemplate returns the rendering template: the A/B assigned variant
// when a test is running for this type, the active version otherwise.
func (s *Service) resolveTemplate(ctx context.Context, dt Type, userID string) (*PromptTemplate, string, error) {
	if test, ok := s.tests.Running(dt); ok {
		if v := test.AssignVariant(userID); v != nil {
			tpl, err := s.templates.Get(ctx, dt, v.Version)
			if err == nil {
				return tpl, test.ID, nil
			}
			s.logger.Warn("A/B variant template missing, using active", map[string]interface{}{
				"operation": "decision_resolve_template",
				"test_id":   test.ID,
				"version":   v.Version,
				"error":     err.Error(),
			})
		}
	}
	tpl, err := s.templates.Active(ctx, dt)
	return tpl, "", err
}

// recordOutcome feeds template counters and, when a test assigned the
// variant, the A/B metrics.
func (s *Service) recordOutcome(ctx context.Context, dt Type, tpl *PromptTemplate, testID string, o Outcome) {
	if err := s.templates.RecordOutcome(ctx, dt, tpl.Version, o); err != nil {
		s.logger.Debug("Template outcome not recorded", map[string]interface{}{
			"operation": "decision_outcome",
			"error":     err.Error(),
		})
	}
	if testID != "" {
		if err := s.tests.RecordOutcome(testID, tpl.ID, tpl.Version, o); err != nil {
			s.logger.Debug("A/B outcome not recorded", map[string]interface{}{
				"operation": "decision_outcome",
				"test_id":   testID,
				"error":     err.Error(),
			})
		}
	}
	status := "ok"
	if o.Failed {
		status = "failed"
	} else if o.Fallback {
		status = "fallback"
	}
	s.telemetry.RecordMetric("decision.calls", 1, map[string]string{
		"type":   string(dt),
		"status": status,
	})
}

// parseJSON strips markdown fences and unmarshals the model output.
func parseJSON(content string, out interface{}) error {
	text := strings.TrimSpace(content)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if i := strings.LastIndex(text, "```"); i >= 0 {
			text = text[:i]
		}
		text = strings.TrimSpace(text)
	}
	// Tolerate prose around a single JSON object or array.
	if !strings.HasPrefix(text, "{") && !strings.HasPrefix(text, "[") {
		start := strings.IndexAny(text, "{[")
		if start < 0 {
			return fmt.Errorf("%w: no JSON in model output", core.ErrDecisionUnparsable)
		}
		text = text[start:]
	}
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return fmt.Errorf("%w: %v", core.ErrDecisionUnparsable, err)
	}
	return nil
}

func (s *Service) fellBack(dt Type, err error) {
	s.telemetry.RecordMetric("decision.fallbacks", 1, map[string]string{"type": string(dt)})
	fields := map[string]interface{}{
		"operation": "decision_fallback",
		"type":      string(dt),
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	s.logger.Warn("Decision fell back to deterministic policy", fields)
}

func (s *Service) succeeded(ctx context.Context, dt Type, res *callResult, quality float64) {
	s.recordOutcome(ctx, dt, res.template, res.testID, Outcome{
		QualityScore: quality,
		LatencyMs:    float64(res.latency.Milliseconds()),
		TokenCount:   res.tokens,
	})
}

// UnderstandQuery classifies intent and suggests workspaces.
func (s *Service) UnderstandQuery(ctx context.Context, q *core.NormalizedQuery, user *core.UserContext) *QueryUnderstanding {
	vars := map[string]interface{}{
		"query":           q.Normalized,
		"technology_hint": q.TechnologyHint,
		"workspaces":      user.Workspaces,
	}
	res, err := s.call(ctx, TypeQueryUnderstanding, user.UserID, vars)
	if err != nil {
		s.fellBack(TypeQueryUnderstanding, err)
		return fallbackQueryUnderstanding(q)
	}
	var out QueryUnderstanding
	if err := parseJSON(res.content, &out); err != nil {
		s.recordOutcome(ctx, TypeQueryUnderstanding, res.template, res.testID, Outcome{Failed: true})
		s.fellBack(TypeQueryUnderstanding, err)
		return fallbackQueryUnderstanding(q)
	}
	s.succeeded(ctx, TypeQueryUnderstanding, res, out.Confidence)
	return &out
}

// EvaluateResults scores the current hit set.
func (s *Service) EvaluateResults(ctx context.Context, q *core.NormalizedQuery, user *core.UserContext, results []core.SearchResult) *core.EvaluationResult {
	vars := map[string]interface{}{
		"query":   q.Normalized,
		"results": summarizeResults(results, 10),
	}
	res, err := s.call(ctx, TypeResultRelevance, user.UserID, vars)
	if err != nil {
		s.fellBack(TypeResultRelevance, err)
		return fallbackEvaluation(results)
	}
	var out core.EvaluationResult
	if err := parseJSON(res.content, &out); err != nil {
		s.recordOutcome(ctx, TypeResultRelevance, res.template, res.testID, Outcome{Failed: true})
		s.fellBack(TypeResultRelevance, err)
		return fallbackEvaluation(results)
	}
	s.succeeded(ctx, TypeResultRelevance, res, out.OverallQuality)
	return &out
}

// RefineQuery rewrites a query that scored in the refinement band.
func (s *Service) RefineQuery(ctx context.Context, q *core.NormalizedQuery, user *core.UserContext, eval *core.EvaluationResult) *Refinement {
	vars := map[string]interface{}{
		"query":      q.Normalized,
		"evaluation": eval,
	}
	res, err := s.call(ctx, TypeQueryRefinement, user.UserID, vars)
	if err != nil {
		s.fellBack(TypeQueryRefinement, err)
		return fallbackRefinement(q)
	}
	var out Refinement
	if err := parseJSON(res.content, &out); err != nil || out.RefinedQuery == "" {
		s.recordOutcome(ctx, TypeQueryRefinement, res.template, res.testID, Outcome{Failed: true})
		s.fellBack(TypeQueryRefinement, err)
		return fallbackRefinement(q)
	}
	s.succeeded(ctx, TypeQueryRefinement, res, 1)
	return &out
}

// DecideExternalSearch gates the provider pool.
func (s *Service) DecideExternalSearch(ctx context.Context, q *core.NormalizedQuery, user *core.UserContext, quality float64, resultCount int) *ExternalSearchDecision {
	vars := map[string]interface{}{
		"query":        q.Normalized,
		"quality":      quality,
		"result_count": resultCount,
	}
	res, err := s.call(ctx, TypeExternalSearchDecision, user.UserID, vars)
	if err != nil {
		s.fellBack(TypeExternalSearchDecision, err)
		return fallbackExternalDecision(quality, resultCount, s.cfg.ExternalSearchTrigger)
	}
	var out ExternalSearchDecision
	if err := parseJSON(res.content, &out); err != nil {
		s.recordOutcome(ctx, TypeExternalSearchDecision, res.template, res.testID, Outcome{Failed: true})
		s.fellBack(TypeExternalSearchDecision, err)
		return fallbackExternalDecision(quality, resultCount, s.cfg.ExternalSearchTrigger)
	}
	s.succeeded(ctx, TypeExternalSearchDecision, res, 1)
	return &out
}

// BuildExternalQuery produces the provider-optimized query form.
func (s *Service) BuildExternalQuery(ctx context.Context, q *core.NormalizedQuery, user *core.UserContext, provider string) *ExternalSearchQuery {
	vars := map[string]interface{}{
		"query":           q.Normalized,
		"technology_hint": q.TechnologyHint,
		"provider":        provider,
	}
	res, err := s.call(ctx, TypeExternalSearchQuery, user.UserID, vars)
	if err != nil {
		s.fellBack(TypeExternalSearchQuery, err)
		return fallbackExternalQuery(q)
	}
	var out ExternalSearchQuery
	if err := parseJSON(res.content, &out); err != nil || out.Query == "" {
		s.recordOutcome(ctx, TypeExternalSearchQuery, res.template, res.testID, Outcome{Failed: true})
		s.fellBack(TypeExternalSearchQuery, err)
		return fallbackExternalQuery(q)
	}
	s.succeeded(ctx, TypeExternalSearchQuery, res, 1)
	return &out
}

// ExtractContent distills a fetched page into clean markdown. This decision
// renders markdown output, returned verbatim.
func (s *Service) ExtractContent(ctx context.Context, user *core.UserContext, sourceURL, rawContent string) *ContentExtraction {
	vars := map[string]interface{}{
		"source_url":  sourceURL,
		"raw_content": rawContent,
	}
	res, err := s.call(ctx, TypeContentExtraction, user.UserID, vars)
	if err != nil {
		s.fellBack(TypeContentExtraction, err)
		return fallbackExtraction(rawContent)
	}
	s.succeeded(ctx, TypeContentExtraction, res, 1)
	return &ContentExtraction{Content: strings.TrimSpace(res.content), SourceURLs: []string{sourceURL}}
}

// SelectResponseFormat synthesizes an answer with citations, or falls back
// to raw excerpts.
func (s *Service) SelectResponseFormat(ctx context.Context, q *core.NormalizedQuery, user *core.UserContext, results []core.SearchResult) *FormatSelection {
	vars := map[string]interface{}{
		"query":    q.Normalized,
		"excerpts": summarizeResults(results, 5),
	}
	res, err := s.call(ctx, TypeResponseFormatSelection, user.UserID, vars)
	if err != nil {
		s.fellBack(TypeResponseFormatSelection, err)
		return fallbackFormat(results)
	}
	var out FormatSelection
	if err := parseJSON(res.content, &out); err != nil || out.Answer == "" {
		s.recordOutcome(ctx, TypeResponseFormatSelection, res.template, res.testID, Outcome{Failed: true})
		s.fellBack(TypeResponseFormatSelection, err)
		return fallbackFormat(results)
	}
	if out.ResponseType == "" {
		out.ResponseType = core.ResponseAnswer
	}
	s.succeeded(ctx, TypeResponseFormatSelection, res, 1)
	return &out
}

// IdentifyLearningOpportunities lists documentation gaps for async enrichment.
// A nil slice means the decision failed; gaps are best-effort, so there is
// no deterministic fallback beyond skipping.
func (s *Service) IdentifyLearningOpportunities(ctx context.Context, q *core.NormalizedQuery, user *core.UserContext, eval *core.EvaluationResult) []LearningOpportunity {
	vars := map[string]interface{}{
		"query":      q.Normalized,
		"evaluation": eval,
	}
	res, err := s.call(ctx, TypeLearningOpportunities, user.UserID, vars)
	if err != nil {
		s.fellBack(TypeLearningOpportunities, err)
		return nil
	}
	var out []LearningOpportunity
	if err := parseJSON(res.content, &out); err != nil {
		s.recordOutcome(ctx, TypeLearningOpportunities, res.template, res.testID, Outcome{Failed: true})
		s.fellBack(TypeLearningOpportunities, err)
		return nil
	}
	s.succeeded(ctx, TypeLearningOpportunities, res, 1)
	return out
}

// SelectProvider picks the best external provider given current stats.
func (s *Service) SelectProvider(ctx context.Context, q *core.NormalizedQuery, user *core.UserContext, providerStats interface{}) *ProviderSelection {
	vars := map[string]interface{}{
		"query":          q.Normalized,
		"provider_stats": providerStats,
	}
	res, err := s.call(ctx, TypeProviderSelection, user.UserID, vars)
	if err != nil {
		s.fellBack(TypeProviderSelection, err)
		return fallbackProviderSelection(s.cfg.ProviderPriority)
	}
	var out ProviderSelection
	if err := parseJSON(res.content, &out); err != nil || out.Provider == "" {
		s.recordOutcome(ctx, TypeProviderSelection, res.template, res.testID, Outcome{Failed: true})
		s.fellBack(TypeProviderSelection, err)
		return fallbackProviderSelection(s.cfg.ProviderPriority)
	}
	s.succeeded(ctx, TypeProviderSelection, res, out.Confidence)
	return &out
}

// AnalyzeFailure explains an empty or failed search.
func (s *Service) AnalyzeFailure(ctx context.Context, q *core.NormalizedQuery, user *core.UserContext, workspaces []string, workspaceErrors map[string]string) *FailureAnalysis {
	vars := map[string]interface{}{
		"query":      q.Normalized,
		"workspaces": workspaces,
		"errors":     workspaceErrors,
	}
	res, err := s.call(ctx, TypeFailureAnalysis, user.UserID, vars)
	if err != nil {
		s.fellBack(TypeFailureAnalysis, err)
		return fallbackFailureAnalysis(q, workspaceErrors)
	}
	var out FailureAnalysis
	if err := parseJSON(res.content, &out); err != nil || out.UserMessage == "" {
		s.recordOutcome(ctx, TypeFailureAnalysis, res.template, res.testID, Outcome{Failed: true})
		s.fellBack(TypeFailureAnalysis, err)
		return fallbackFailureAnalysis(q, workspaceErrors)
	}
	s.succeeded(ctx, TypeFailureAnalysis, res, 1)
	return &out
}

// summarizedResult is the compact hit form serialized into prompts.
type summarizedResult struct {
	ContentID string  `json:"content_id"`
	Title     string  `json:"title"`
	Snippet   string  `json:"snippet"`
	Relevance float64 `json:"relevance"`
	Workspace string  `json:"workspace,omitempty"`
	Provider  string  `json:"provider,omitempty"`
}

func summarizeResults(results []core.SearchResult, max int) []summarizedResult {
	if len(results) > max {
		results = results[:max]
	}
	out := make([]summarizedResult, 0, len(results))
	for i := range results {
		r := &results[i]
		snippet := r.Snippet
		if len(snippet) > 400 {
			snippet = snippet[:400]
		}
		out = append(out, summarizedResult{
			ContentID: r.ContentID,
			Title:     r.Title,
			Snippet:   snippet,
			Relevance: r.RelevanceScore,
			Workspace: r.Workspace,
			Provider:  r.Provider(),
		})
	}
	return out
}
