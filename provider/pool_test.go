package provider

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/docsift/docsift/core"
)

// fakeProvider is scripted with a latency and an optional error.
type fakeProvider struct {
	id      string
	latency time.Duration
	err     error
	calls   int64
}

func (f *fakeProvider) ID() string { return f.id }

func (f *fakeProvider) Search(ctx context.Context, q Query) ([]core.SearchResult, error) {
	atomic.AddInt64(&f.calls, 1)
	if f.latency > 0 {
		select {
		case <-time.After(f.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return []core.SearchResult{
		{ContentID: f.id + ":doc-1", Title: "from " + f.id, SourceURL: "https://example.com/" + f.id},
	}, nil
}

func (f *fakeProvider) callCount() int64 { return atomic.LoadInt64(&f.calls) }

func newTestPool(cfg PoolConfig, providers ...*fakeProvider) *Pool {
	pool := NewPool(cfg)
	for i, p := range providers {
		pool.Register(p, Record{Name: p.id, Kind: "web_search", Priority: i, Enabled: true})
	}
	return pool
}

func TestPool_DispatchesByPriority(t *testing.T) {
	first := &fakeProvider{id: "first"}
	second := &fakeProvider{id: "second"}
	pool := newTestPool(PoolConfig{}, first, second)

	hits, used, err := pool.Search(context.Background(), Query{Text: "react hooks"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if used != "first" {
		t.Errorf("expected the priority-0 provider, got %s", used)
	}
	if second.callCount() != 0 {
		t.Error("fast primary should not trigger the hedge")
	}
	if len(hits) != 1 || hits[0].Provider() != "first" {
		t.Errorf("hits should carry provider metadata: %+v", hits)
	}
	if hits[0].Metadata["source"] != "external_search" {
		t.Errorf("hits should be tagged external_search: %+v", hits[0].Metadata)
	}
	if hits[0].RelevanceScore != DefaultExternalRelevance {
		t.Errorf("unscored hits should default to %.1f, got %v", DefaultExternalRelevance, hits[0].RelevanceScore)
	}
}

func TestPool_HedgesToNextProviderAfterDelay(t *testing.T) {
	slow := &fakeProvider{id: "slow", latency: 500 * time.Millisecond}
	fast := &fakeProvider{id: "fast"}
	pool := newTestPool(PoolConfig{HedgedDelay: 20 * time.Millisecond}, slow, fast)

	start := time.Now()
	_, used, err := pool.Search(context.Background(), Query{Text: "q"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if used != "fast" {
		t.Errorf("the hedged provider should win, got %s", used)
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("hedged dispatch should not wait for the slow provider, took %v", elapsed)
	}
	if slow.callCount() != 1 || fast.callCount() != 1 {
		t.Errorf("both providers should have been called: slow=%d fast=%d", slow.callCount(), fast.callCount())
	}
}

func TestPool_FailsOverImmediatelyOnError(t *testing.T) {
	broken := &fakeProvider{id: "broken", err: errors.New("upstream 500")}
	backup := &fakeProvider{id: "backup"}
	pool := newTestPool(PoolConfig{HedgedDelay: time.Minute}, broken, backup)

	_, used, err := pool.Search(context.Background(), Query{Text: "q"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if used != "backup" {
		t.Errorf("failure should cascade to the next provider before the hedge timer, got %s", used)
	}
}

func TestPool_AllProvidersFailing(t *testing.T) {
	a := &fakeProvider{id: "a", err: errors.New("down")}
	b := &fakeProvider{id: "b", err: errors.New("down")}
	pool := newTestPool(PoolConfig{}, a, b)

	_, _, err := pool.Search(context.Background(), Query{Text: "q"}, nil)
	if !errors.Is(err, core.ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestPool_PreferredListOverridesPriority(t *testing.T) {
	first := &fakeProvider{id: "first"}
	second := &fakeProvider{id: "second"}
	pool := newTestPool(PoolConfig{}, first, second)

	_, used, err := pool.Search(context.Background(), Query{Text: "q"}, []string{"second"})
	if err != nil {
		t.Fatal(err)
	}
	if used != "second" {
		t.Errorf("preferred list should win over priority, got %s", used)
	}
	if first.callCount() != 0 {
		t.Error("providers outside the preferred list must not be called")
	}
}

func TestPool_SkipsDisabledAndOpenProviders(t *testing.T) {
	flaky := &fakeProvider{id: "flaky", err: errors.New("down")}
	steady := &fakeProvider{id: "steady"}
	pool := newTestPool(PoolConfig{}, flaky, steady)

	// Trip the flaky provider's breaker.
	for i := 0; i < 3; i++ {
		_, _, _ = pool.Search(context.Background(), Query{Text: "q"}, []string{"flaky"})
	}

	calls := flaky.callCount()
	_, used, err := pool.Search(context.Background(), Query{Text: "q"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if used != "steady" {
		t.Errorf("open breaker should skip to the healthy provider, got %s", used)
	}
	if flaky.callCount() != calls {
		t.Error("an open provider must not be dispatched")
	}

	// Disabled providers are skipped the same way.
	if err := pool.SetEnabled("steady", false); err != nil {
		t.Fatal(err)
	}
	if _, _, err := pool.Search(context.Background(), Query{Text: "q"}, nil); !errors.Is(err, core.ErrProviderUnavailable) {
		t.Errorf("no dispatchable providers should report unavailable, got %v", err)
	}
}

func TestPool_ConcurrencyCap(t *testing.T) {
	providers := []*fakeProvider{
		{id: "p0", latency: 300 * time.Millisecond},
		{id: "p1", latency: 300 * time.Millisecond},
		{id: "p2", latency: 300 * time.Millisecond},
		{id: "p3"},
	}
	pool := newTestPool(PoolConfig{HedgedDelay: 5 * time.Millisecond, MaxConcurrent: 3}, providers...)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, _, _ = pool.Search(ctx, Query{Text: "q"}, nil)

	if providers[3].callCount() != 0 {
		t.Error("the fourth provider is beyond the concurrency cap and must not run")
	}
}

func TestPool_ProviderStatsReflectOutcomes(t *testing.T) {
	good := &fakeProvider{id: "good"}
	pool := newTestPool(PoolConfig{}, good)

	for i := 0; i < 5; i++ {
		if _, _, err := pool.Search(context.Background(), Query{Text: "q"}, nil); err != nil {
			t.Fatal(err)
		}
	}

	stats := pool.ProviderStats()
	if len(stats) != 1 {
		t.Fatalf("expected one provider, got %d", len(stats))
	}
	if stats[0].Health != core.HealthHealthy {
		t.Errorf("expected healthy, got %s", stats[0].Health)
	}
	if stats[0].SuccessRate != 1 || stats[0].Samples != 5 {
		t.Errorf("unexpected stats: %+v", stats[0])
	}
}

func TestPool_SetPriorities(t *testing.T) {
	a := &fakeProvider{id: "a"}
	b := &fakeProvider{id: "b"}
	pool := newTestPool(PoolConfig{}, a, b)

	pool.SetPriorities([]string{"b", "a"})
	_, used, err := pool.Search(context.Background(), Query{Text: "q"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if used != "b" {
		t.Errorf("reordered priorities should dispatch b first, got %s", used)
	}
}

func TestHealthWindow_Classification(t *testing.T) {
	w := newHealthWindow()
	if w.status() != core.HealthUnknown {
		t.Error("empty window should be unknown")
	}

	for i := 0; i < 20; i++ {
		w.record(true, 10*time.Millisecond)
	}
	if w.status() != core.HealthHealthy {
		t.Errorf("all-success window should be healthy, got %s", w.status())
	}

	for i := 0; i < 5; i++ {
		w.record(false, 10*time.Millisecond)
	}
	if w.status() != core.HealthDegraded {
		t.Errorf("25%% failures should be degraded, got %s", w.status())
	}

	for i := 0; i < 10; i++ {
		w.record(false, 10*time.Millisecond)
	}
	if w.status() != core.HealthUnhealthy {
		t.Errorf("majority failures should be unhealthy, got %s", w.status())
	}
}
