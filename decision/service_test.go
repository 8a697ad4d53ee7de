package decision

import (
	"context"
	"errors"
	"testing"

	"github.com/docsift/docsift/core"
)

// scriptedAI returns canned content, or fails when told to.
type scriptedAI struct {
	content string
	err     error
	calls   int
	prompts []string
}

func (s *scriptedAI) GenerateResponse(ctx context.Context, prompt string, options *core.AIOptions) (*core.AIResponse, error) {
	s.calls++
	s.prompts = append(s.prompts, prompt)
	if s.err != nil {
		return nil, s.err
	}
	return &core.AIResponse{Content: s.content, Usage: core.TokenUsage{TotalTokens: 42}}, nil
}

func newTestService(t *testing.T, ai core.AIClient) *Service {
	t.Helper()
	store := NewMemoryTemplateStore()
	if err := SeedDefaults(context.Background(), store); err != nil {
		t.Fatal(err)
	}
	return NewService(ai, store, NewTestRegistry(), Config{
		ProviderPriority: []string{"context7", "brave", "duckduckgo"},
	}, nil, nil)
}

func testQuery() *core.NormalizedQuery {
	return &core.NormalizedQuery{
		Original:       "React Hooks",
		Normalized:     "react hooks",
		Fingerprint:    "abc",
		TechnologyHint: "react",
		Tokens:         []string{"react", "hook"},
	}
}

func testUser() *core.UserContext {
	return &core.UserContext{UserID: "u1", Workspaces: []string{"frontend"}}
}

func TestService_UnderstandQueryParsesJSON(t *testing.T) {
	ai := &scriptedAI{content: `{"intent": "how_to", "domain": "react", "suggested_workspaces": ["frontend"], "confidence": 0.9}`}
	s := newTestService(t, ai)

	out := s.UnderstandQuery(context.Background(), testQuery(), testUser())
	if out.Intent != "how_to" || out.Confidence != 0.9 {
		t.Errorf("unexpected parse: %+v", out)
	}
	if len(out.SuggestedWorkspaces) != 1 || out.SuggestedWorkspaces[0] != "frontend" {
		t.Errorf("workspace suggestion lost: %+v", out)
	}
}

func TestService_UnderstandQueryFallsBackOnError(t *testing.T) {
	ai := &scriptedAI{err: errors.New("model down")}
	s := newTestService(t, ai)

	out := s.UnderstandQuery(context.Background(), testQuery(), testUser())
	if out.Intent != "information_seeking" {
		t.Errorf("expected the conservative fallback intent, got %q", out.Intent)
	}
	if len(out.SuggestedWorkspaces) != 0 {
		t.Errorf("fallback must not suggest workspaces, got %v", out.SuggestedWorkspaces)
	}
}

func TestService_UnparseableOutputFallsBack(t *testing.T) {
	ai := &scriptedAI{content: "I think the query is about React."}
	s := newTestService(t, ai)

	out := s.EvaluateResults(context.Background(), testQuery(), testUser(), []core.SearchResult{
		{ContentID: "d1", RelevanceScore: 0.8},
		{ContentID: "d2", RelevanceScore: 0.6},
	})
	// Fallback averages vector relevance: (0.8+0.6)/2 = 0.7.
	if out.OverallQuality < 0.69 || out.OverallQuality > 0.71 {
		t.Errorf("expected mean relevance fallback, got %v", out.OverallQuality)
	}
}

func TestService_MarkdownFencedJSONParses(t *testing.T) {
	ai := &scriptedAI{content: "```json\n{\"use_external\": true, \"reasoning\": \"recent topic\"}\n```"}
	s := newTestService(t, ai)

	out := s.DecideExternalSearch(context.Background(), testQuery(), testUser(), 0.7, 3)
	if !out.UseExternal || out.Reasoning != "recent topic" {
		t.Errorf("fenced JSON should parse: %+v", out)
	}
}

func TestService_ExternalDecisionFallbackThreshold(t *testing.T) {
	ai := &scriptedAI{err: errors.New("model down")}
	s := newTestService(t, ai)
	ctx := context.Background()

	if out := s.DecideExternalSearch(ctx, testQuery(), testUser(), 0.5, 3); !out.UseExternal {
		t.Error("quality 0.5 < 0.6 should trigger external search in fallback")
	}
	if out := s.DecideExternalSearch(ctx, testQuery(), testUser(), 0.8, 3); out.UseExternal {
		t.Error("quality 0.8 should not trigger external search in fallback")
	}
	if out := s.DecideExternalSearch(ctx, testQuery(), testUser(), 0.9, 0); !out.UseExternal {
		t.Error("zero results should trigger external search regardless of quality")
	}
}

func TestService_NilAIClientRunsOnFallbacks(t *testing.T) {
	s := newTestService(t, nil)
	ctx := context.Background()

	if out := s.UnderstandQuery(ctx, testQuery(), testUser()); out == nil {
		t.Fatal("nil client must still produce a decision")
	}
	if out := s.SelectProvider(ctx, testQuery(), testUser(), nil); out.Provider != "context7" {
		t.Errorf("provider fallback should pick the first configured provider, got %q", out.Provider)
	}
	if out := s.SelectResponseFormat(ctx, testQuery(), testUser(), nil); out.ResponseType != core.ResponseRaw {
		t.Errorf("format fallback should degrade to raw, got %q", out.ResponseType)
	}
}

func TestService_RefinementFallbackPrependsHint(t *testing.T) {
	ai := &scriptedAI{err: errors.New("model down")}
	s := newTestService(t, ai)

	out := s.RefineQuery(context.Background(), testQuery(), testUser(), &core.EvaluationResult{OverallQuality: 0.5})
	if out.RefinedQuery != "react react hooks" {
		t.Errorf("unexpected fallback refinement %q", out.RefinedQuery)
	}
}

func TestService_ABVariantDrivesTemplateChoice(t *testing.T) {
	store := NewMemoryTemplateStore()
	ctx := context.Background()
	if err := SeedDefaults(ctx, store); err != nil {
		t.Fatal(err)
	}
	// Challenger version with a distinguishable prompt.
	if err := store.Save(ctx, &PromptTemplate{
		ID: "query-refinement-default", DecisionType: TypeQueryRefinement, Version: "2.0.0",
		Text: "CHALLENGER {query} {evaluation}", RequiredVars: []string{"query", "evaluation"},
	}); err != nil {
		t.Fatal(err)
	}

	ai := &scriptedAI{content: `{"refined_query": "react hooks tutorial"}`}
	tests := NewTestRegistry()
	s := NewService(ai, store, tests, Config{}, nil, nil)

	test := &ABTest{
		ID:            "exp-ref",
		DecisionType:  TypeQueryRefinement,
		Split:         SplitDeterministic,
		MinSamples:    10,
		SuccessMetric: "quality_score",
		Variants: []TestVariant{
			{TemplateID: "query-refinement-default", Version: "1.0.0", TrafficPct: 0, Control: true},
			{TemplateID: "query-refinement-default", Version: "2.0.0", TrafficPct: 100},
		},
	}
	if err := tests.Create(test); err != nil {
		t.Fatal(err)
	}
	if err := tests.Transition("exp-ref", StatusRunning); err != nil {
		t.Fatal(err)
	}

	out := s.RefineQuery(ctx, testQuery(), testUser(), &core.EvaluationResult{OverallQuality: 0.5})
	if out.RefinedQuery != "react hooks tutorial" {
		t.Fatalf("unexpected refinement: %+v", out)
	}
	if len(ai.prompts) != 1 || ai.prompts[0][:10] != "CHALLENGER" {
		t.Errorf("expected the challenger template to render, got %q", ai.prompts)
	}

	// The outcome lands on the challenger's metrics.
	got, _ := tests.Get("exp-ref")
	if got.Variant("query-refinement-default", "2.0.0").Metrics.Samples != 1 {
		t.Error("outcome should be recorded against the assigned variant")
	}
}

func TestService_LearningOpportunitiesParseAndSkip(t *testing.T) {
	ai := &scriptedAI{content: `[{"gap": "react server components", "priority": "high"}]`}
	s := newTestService(t, ai)

	gaps := s.IdentifyLearningOpportunities(context.Background(), testQuery(), testUser(), &core.EvaluationResult{OverallQuality: 0.3})
	if len(gaps) != 1 || gaps[0].Gap != "react server components" {
		t.Errorf("unexpected opportunities: %+v", gaps)
	}

	// Gaps are best-effort: a model failure yields none, not an error.
	down := newTestService(t, &scriptedAI{err: errors.New("model down")})
	if gaps := down.IdentifyLearningOpportunities(context.Background(), testQuery(), testUser(), nil); gaps != nil {
		t.Errorf("expected no opportunities on failure, got %+v", gaps)
	}
}
