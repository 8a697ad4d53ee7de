package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/docsift/docsift/core"
)

func hit(id string, relevance, recency, quality float64) core.SearchResult {
	return core.SearchResult{
		ContentID:      id,
		RelevanceScore: relevance,
		RecencyScore:   recency,
		QualityScore:   quality,
	}
}

func TestRanker_MergeDeduplicatesByContentID(t *testing.T) {
	r := NewRanker(DefaultRankWeights())
	internal := []core.SearchResult{hit("a", 0.9, 0.5, 0.5), hit("b", 0.6, 0.5, 0.5)}
	external := []core.SearchResult{hit("a", 0.7, 0.9, 0.5), hit("c", 0.8, 0.5, 0.5)}

	merged := r.Merge(internal, external)
	if len(merged) != 3 {
		t.Fatalf("expected 3 unique results, got %d", len(merged))
	}
	for _, m := range merged {
		if m.ContentID == "a" && m.RelevanceScore != 0.9 {
			t.Errorf("duplicate must keep the higher relevance, got %.2f", m.RelevanceScore)
		}
	}
}

func TestRanker_MergeTieBreaksByRecency(t *testing.T) {
	r := NewRanker(DefaultRankWeights())
	older := []core.SearchResult{hit("a", 0.8, 0.2, 0.5)}
	newer := []core.SearchResult{hit("a", 0.8, 0.9, 0.5)}

	merged := r.Merge(older, newer)
	if len(merged) != 1 {
		t.Fatalf("expected 1 result, got %d", len(merged))
	}
	if merged[0].RecencyScore != 0.9 {
		t.Errorf("equal relevance must keep the newer result, got recency %.2f", merged[0].RecencyScore)
	}
}

func TestRanker_MergeIsIdempotent(t *testing.T) {
	r := NewRanker(DefaultRankWeights())
	set := []core.SearchResult{hit("a", 0.9, 0.5, 0.5), hit("b", 0.6, 0.5, 0.5)}

	once := r.Merge(set)
	twice := r.Merge(once)
	if len(once) != len(twice) {
		t.Errorf("merging a merged set changed its size: %d vs %d", len(once), len(twice))
	}
}

func TestRanker_Strategies(t *testing.T) {
	r := NewRanker(DefaultRankWeights())
	results := []core.SearchResult{
		hit("relevant", 0.9, 0.1, 0.1),
		hit("recent", 0.1, 0.9, 0.1),
		hit("balanced", 0.6, 0.6, 0.6),
	}

	byRelevance := r.Rank(append([]core.SearchResult(nil), results...), "relevance")
	if byRelevance[0].ContentID != "relevant" {
		t.Errorf("relevance strategy: got %s first", byRelevance[0].ContentID)
	}

	byRecency := r.Rank(append([]core.SearchResult(nil), results...), "recency")
	if byRecency[0].ContentID != "recent" {
		t.Errorf("recency strategy: got %s first", byRecency[0].ContentID)
	}

	// hybrid: relevant = .9*.6+.1*.2+.1*.2 = 0.58, balanced = 0.6, recent = 0.26
	hybrid := r.Rank(append([]core.SearchResult(nil), results...), "hybrid")
	if hybrid[0].ContentID != "balanced" {
		t.Errorf("hybrid strategy: got %s first", hybrid[0].ContentID)
	}
}

func TestRanker_RankIsDeterministic(t *testing.T) {
	r := NewRanker(DefaultRankWeights())
	results := []core.SearchResult{
		hit("b", 0.5, 0.5, 0.5),
		hit("a", 0.5, 0.5, 0.5),
	}
	ranked := r.Rank(results, "hybrid")
	if ranked[0].ContentID != "a" {
		t.Errorf("full ties must order by content id, got %s first", ranked[0].ContentID)
	}
}

func TestPaginate_ClampPolicy(t *testing.T) {
	results := make([]core.SearchResult, 50)
	for i := range results {
		results[i] = hit(string(rune('a'+i)), 0.5, 0.5, 0.5)
	}

	page, err := Paginate(results, 5000, 0, 200, "clamp")
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 50 {
		t.Errorf("clamped limit should return all 50, got %d", len(page))
	}

	page, err = Paginate(results, 0, 0, 200, "clamp")
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 20 {
		t.Errorf("zero limit defaults to 20, got %d", len(page))
	}

	page, err = Paginate(results, 10, 100, 200, "clamp")
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 0 {
		t.Errorf("offset past the end returns an empty page, got %d", len(page))
	}
}

func TestPaginate_RejectPolicy(t *testing.T) {
	results := []core.SearchResult{hit("a", 0.5, 0.5, 0.5)}
	if _, err := Paginate(results, 5000, 0, 200, "reject"); !errors.Is(err, core.ErrInvalidQuery) {
		t.Errorf("expected a validation error, got %v", err)
	}
	// Zero means "unset", not out of range.
	if _, err := Paginate(results, 0, 0, 200, "reject"); err != nil {
		t.Errorf("unset limit must not be rejected: %v", err)
	}
}

func TestSelectWorkspaces(t *testing.T) {
	user := &core.UserContext{
		UserID:     "u1",
		Workspaces: []string{"backend", "frontend", "infra"},
	}

	got := SelectWorkspaces("ai_driven", user, []string{"frontend", "secret"}, 5)
	if len(got) != 1 || got[0] != "frontend" {
		t.Errorf("ai_driven must intersect suggestions with grants, got %v", got)
	}

	got = SelectWorkspaces("ai_driven", user, nil, 5)
	if len(got) != 3 {
		t.Errorf("empty suggestions fall back to all grants, got %v", got)
	}

	got = SelectWorkspaces("all", user, nil, 2)
	if len(got) != 2 {
		t.Errorf("selection must respect the workspace cap, got %v", got)
	}
}

func TestFanout_WorkspaceTimeoutDoesNotBlockSiblings(t *testing.T) {
	idx := &splitIndex{
		fast: []core.SearchResult{hit("f1", 0.8, 0.5, 0.5)},
	}
	fan := NewFanout(idx, FanoutConfig{PerWorkspaceTimeout: 50 * time.Millisecond})

	start := time.Now()
	out := fan.Run(context.Background(), "query", []string{"fast", "slow"}, 10)
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("fan-out must not wait for the slow workspace beyond its deadline, took %v", elapsed)
	}
	if out.Total != 1 {
		t.Errorf("expected the fast workspace's hit, got %d", out.Total)
	}
	if out.WorkspaceErrors["slow"] == "" {
		t.Error("the timed-out workspace must be reported")
	}
}

// splitIndex answers instantly for "fast" and hangs for "slow".
type splitIndex struct {
	fast []core.SearchResult
}

func (s *splitIndex) Query(ctx context.Context, workspace, q string, limit int) ([]core.SearchResult, error) {
	if workspace == "fast" {
		return s.fast, nil
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *splitIndex) Workspaces(ctx context.Context) ([]string, error) {
	return []string{"fast", "slow"}, nil
}
