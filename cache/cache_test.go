package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/docsift/docsift/core"
)

func testResponse(query string) *core.SearchResponse {
	return &core.SearchResponse{
		Query: query,
		Results: []core.SearchResult{
			{ContentID: "doc-1", Title: "Title", RelevanceScore: 0.9},
		},
		Total:        1,
		ResponseType: core.ResponseRaw,
	}
}

func TestMemoryCache_RoundTrip(t *testing.T) {
	c := NewMemoryCache(10)
	ctx := context.Background()

	resp := testResponse("react hooks")
	if err := c.Store(ctx, "fp-1", resp, time.Minute); err != nil {
		t.Fatalf("store failed: %v", err)
	}

	got, found, err := c.Lookup(ctx, "fp-1")
	if err != nil || !found {
		t.Fatalf("expected hit, found=%v err=%v", found, err)
	}
	if got.Query != resp.Query || got.Total != resp.Total {
		t.Errorf("round-trip mismatch: %+v", got)
	}
	if got.Results[0].ContentID != "doc-1" {
		t.Errorf("result fields should survive the round trip")
	}
}

func TestMemoryCache_Expiration(t *testing.T) {
	c := NewMemoryCache(10)
	ctx := context.Background()

	_ = c.Store(ctx, "fp", testResponse("q"), 10*time.Millisecond)
	time.Sleep(25 * time.Millisecond)

	_, found, _ := c.Lookup(ctx, "fp")
	if found {
		t.Error("expected expired entry to miss")
	}
}

func TestMemoryCache_TTLFirstLRUSecondEviction(t *testing.T) {
	c := NewMemoryCache(2)
	ctx := context.Background()

	// One expired entry, one live; inserting a third should evict the
	// expired one, not the live LRU.
	_ = c.Store(ctx, "expired", testResponse("a"), time.Nanosecond)
	_ = c.Store(ctx, "live", testResponse("b"), time.Minute)
	time.Sleep(time.Millisecond)
	_ = c.Store(ctx, "new", testResponse("c"), time.Minute)

	if _, found, _ := c.Lookup(ctx, "live"); !found {
		t.Error("live entry should survive TTL-first eviction")
	}
	if _, found, _ := c.Lookup(ctx, "new"); !found {
		t.Error("new entry should be present")
	}

	// All live now: the LRU entry goes next.
	_, _, _ = c.Lookup(ctx, "new") // touch "new" so "live" is LRU
	_ = c.Store(ctx, "newest", testResponse("d"), time.Minute)
	if _, found, _ := c.Lookup(ctx, "live"); found {
		t.Error("LRU entry should be evicted when no entry is expired")
	}
}

func TestKVCache_RoundTrip(t *testing.T) {
	c := NewKVCache(core.NewMemoryStore(), "cache", nil)
	ctx := context.Background()

	resp := testResponse("python async")
	if err := c.Store(ctx, "fp", resp, time.Minute); err != nil {
		t.Fatalf("store failed: %v", err)
	}
	got, found, err := c.Lookup(ctx, "fp")
	if err != nil || !found {
		t.Fatalf("expected hit, found=%v err=%v", found, err)
	}
	if got.Query != "python async" {
		t.Errorf("unexpected query %q", got.Query)
	}

	stats := c.Stats()
	if stats.Hits != 1 {
		t.Errorf("expected 1 hit, got %d", stats.Hits)
	}
}

// faultyCache fails every call until healed.
type faultyCache struct {
	inner  ResultCache
	broken bool
	calls  int
}

func (f *faultyCache) Lookup(ctx context.Context, fp string) (*core.SearchResponse, bool, error) {
	f.calls++
	if f.broken {
		return nil, false, errors.New("backend fault")
	}
	return f.inner.Lookup(ctx, fp)
}

func (f *faultyCache) Store(ctx context.Context, fp string, r *core.SearchResponse, ttl time.Duration) error {
	f.calls++
	if f.broken {
		return errors.New("backend fault")
	}
	return f.inner.Store(ctx, fp, r, ttl)
}

func (f *faultyCache) Stats() Stats { return f.inner.Stats() }

func TestBreakerCache_DegradesToMiss(t *testing.T) {
	faulty := &faultyCache{inner: NewMemoryCache(10), broken: true}
	bc := NewBreakerCache(faulty, BreakerCacheConfig{})
	ctx := context.Background()

	// Faults surface as misses, never as errors.
	for i := 0; i < 3; i++ {
		_, found, err := bc.Lookup(ctx, "fp")
		if err != nil {
			t.Fatalf("breaker cache must not raise: %v", err)
		}
		if found {
			t.Fatal("expected miss on fault")
		}
	}

	if bc.BreakerState() != core.StateOpen {
		t.Errorf("expected open breaker after 3 faults, got %s", bc.BreakerState())
	}

	// While open, the backend is not touched.
	callsBefore := faulty.calls
	_, _, _ = bc.Lookup(ctx, "fp")
	if faulty.calls != callsBefore {
		t.Error("open breaker should short-circuit without calling the backend")
	}
}

func TestBreakerCache_StoreIsNoOpWhileOpen(t *testing.T) {
	faulty := &faultyCache{inner: NewMemoryCache(10), broken: true}
	bc := NewBreakerCache(faulty, BreakerCacheConfig{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := bc.Store(ctx, "fp", testResponse("q"), time.Minute); err != nil {
			t.Fatalf("store must not raise: %v", err)
		}
	}
	callsBefore := faulty.calls
	_ = bc.Store(ctx, "fp", testResponse("q"), time.Minute)
	if faulty.calls != callsBefore {
		t.Error("open breaker should skip the backend store")
	}
}

func TestBreakerCache_PassThroughWhenHealthy(t *testing.T) {
	bc := NewBreakerCache(NewMemoryCache(10), BreakerCacheConfig{})
	ctx := context.Background()

	resp := testResponse("cache hit path")
	if err := bc.Store(ctx, "fp", resp, time.Minute); err != nil {
		t.Fatal(err)
	}
	got, found, err := bc.Lookup(ctx, "fp")
	if err != nil || !found {
		t.Fatalf("expected hit, found=%v err=%v", found, err)
	}
	if got.Query != resp.Query {
		t.Errorf("unexpected response %+v", got)
	}
	if err := bc.HealthCheck(ctx); err != nil {
		t.Errorf("healthy breaker cache should pass health check: %v", err)
	}
}
