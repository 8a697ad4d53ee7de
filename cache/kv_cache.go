package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/docsift/docsift/core"
)

// KVCache stores responses as JSON in a core.KV backend. Deployments back it
// with the namespaced redis client; tests back it with the in-memory store.
type KVCache struct {
	kv     core.KV
	prefix string
	logger core.Logger

	hits   int64
	misses int64
	mu     sync.Mutex
	rate   float64
}

// NewKVCache creates a cache on top of a KV backend.
func NewKVCache(kv core.KV, prefix string, logger core.Logger) *KVCache {
	if prefix == "" {
		prefix = "cache"
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &KVCache{kv: kv, prefix: prefix, logger: logger}
}

// Lookup fetches and unmarshals the cached response.
func (c *KVCache) Lookup(ctx context.Context, fingerprint string) (*core.SearchResponse, bool, error) {
	raw, err := c.kv.Get(ctx, c.key(fingerprint))
	if err != nil {
		return nil, false, fmt.Errorf("cache lookup: %w", err)
	}
	if raw == "" {
		atomic.AddInt64(&c.misses, 1)
		return nil, false, nil
	}

	var response core.SearchResponse
	if err := json.Unmarshal([]byte(raw), &response); err != nil {
		// A corrupt entry is treated as a miss and dropped.
		c.logger.Warn("Dropping corrupt cache entry", map[string]interface{}{
			"operation":   "cache_lookup",
			"fingerprint": fingerprint,
			"error":       err.Error(),
		})
		_ = c.kv.Delete(ctx, c.key(fingerprint))
		atomic.AddInt64(&c.misses, 1)
		return nil, false, nil
	}

	atomic.AddInt64(&c.hits, 1)
	return &response, true, nil
}

// Store marshals and caches the response.
func (c *KVCache) Store(ctx context.Context, fingerprint string, response *core.SearchResponse, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("cache store marshal: %w", err)
	}
	if err := c.kv.Set(ctx, c.key(fingerprint), string(data), ttl); err != nil {
		return fmt.Errorf("cache store: %w", err)
	}
	return nil
}

// Stats returns hit/miss counters. Size is not tracked by the KV backend.
func (c *KVCache) Stats() Stats {
	hits := atomic.LoadInt64(&c.hits)
	misses := atomic.LoadInt64(&c.misses)
	stats := Stats{Hits: hits, Misses: misses}
	if total := hits + misses; total > 0 {
		stats.HitRate = float64(hits) / float64(total)
	}
	return stats
}

func (c *KVCache) key(fingerprint string) string {
	return c.prefix + ":" + fingerprint
}
