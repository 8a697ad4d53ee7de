// Package cache implements the result cache: fingerprint to SearchResponse
// mapping with TTL, fronted by a circuit breaker on the backend.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/docsift/docsift/core"
)

// ResultCache maps query fingerprints to cached responses.
type ResultCache interface {
	// Lookup returns the cached response for the fingerprint and whether it
	// was found. A backend fault surfaces as an error; callers treat it as a
	// miss.
	Lookup(ctx context.Context, fingerprint string) (*core.SearchResponse, bool, error)
	// Store caches a response under the fingerprint for the given TTL.
	Store(ctx context.Context, fingerprint string, response *core.SearchResponse, ttl time.Duration) error
	// Stats returns cache performance counters.
	Stats() Stats
}

// Stats provides cache performance metrics.
type Stats struct {
	Size      int     `json:"size"`
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	HitRate   float64 `json:"hit_rate"`
}

// MemoryCache is a bounded in-memory result cache. Eviction is TTL-first,
// LRU-second: expired entries go before the least recently used live entry.
type MemoryCache struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*lruItem
	head     *lruItem
	tail     *lruItem
	stats    Stats
}

type lruItem struct {
	key       string
	response  *core.SearchResponse
	expiresAt time.Time
	prev      *lruItem
	next      *lruItem
}

// NewMemoryCache creates a bounded in-memory cache.
func NewMemoryCache(capacity int) *MemoryCache {
	if capacity <= 0 {
		capacity = 1000
	}
	return &MemoryCache{
		capacity: capacity,
		items:    make(map[string]*lruItem),
	}
}

// Lookup retrieves a cached response and refreshes its recency.
func (c *MemoryCache) Lookup(ctx context.Context, fingerprint string) (*core.SearchResponse, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, found := c.items[fingerprint]
	if !found {
		c.stats.Misses++
		c.updateHitRate()
		return nil, false, nil
	}
	if time.Now().After(item.expiresAt) {
		c.removeItem(item)
		c.stats.Misses++
		c.updateHitRate()
		return nil, false, nil
	}

	c.moveToFront(item)
	c.stats.Hits++
	c.updateHitRate()
	return item.response, true, nil
}

// Store caches a response, evicting expired entries first and the LRU entry
// if the cache is still full.
func (c *MemoryCache) Store(ctx context.Context, fingerprint string, response *core.SearchResponse, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if item, found := c.items[fingerprint]; found {
		item.response = response
		item.expiresAt = time.Now().Add(ttl)
		c.moveToFront(item)
		return nil
	}

	if len(c.items) >= c.capacity {
		c.evictExpired()
		if len(c.items) >= c.capacity {
			c.removeLRU()
		}
	}

	item := &lruItem{
		key:       fingerprint,
		response:  response,
		expiresAt: time.Now().Add(ttl),
	}
	c.items[fingerprint] = item
	c.addToFront(item)
	c.stats.Size = len(c.items)
	return nil
}

// Stats returns cache statistics.
func (c *MemoryCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := c.stats
	stats.Size = len(c.items)
	return stats
}

// Clear removes all cached responses.
func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*lruItem)
	c.head = nil
	c.tail = nil
	c.stats.Size = 0
}

// HealthCheck implements core.HealthChecker.
func (c *MemoryCache) HealthCheck(ctx context.Context) error { return nil }

// Name implements core.HealthChecker.
func (c *MemoryCache) Name() string { return "result_cache" }

func (c *MemoryCache) evictExpired() {
	now := time.Now()
	for _, item := range c.items {
		if now.After(item.expiresAt) {
			c.removeItem(item)
		}
	}
}

func (c *MemoryCache) moveToFront(item *lruItem) {
	if item == c.head {
		return
	}
	c.removeFromList(item)
	c.addToFront(item)
}

func (c *MemoryCache) addToFront(item *lruItem) {
	item.prev = nil
	item.next = c.head
	if c.head != nil {
		c.head.prev = item
	}
	c.head = item
	if c.tail == nil {
		c.tail = item
	}
}

func (c *MemoryCache) removeFromList(item *lruItem) {
	if item.prev != nil {
		item.prev.next = item.next
	} else {
		c.head = item.next
	}
	if item.next != nil {
		item.next.prev = item.prev
	} else {
		c.tail = item.prev
	}
}

func (c *MemoryCache) removeItem(item *lruItem) {
	c.removeFromList(item)
	delete(c.items, item.key)
	c.stats.Evictions++
	c.stats.Size = len(c.items)
}

func (c *MemoryCache) removeLRU() {
	if c.tail != nil {
		c.removeItem(c.tail)
	}
}

func (c *MemoryCache) updateHitRate() {
	total := c.stats.Hits + c.stats.Misses
	if total > 0 {
		c.stats.HitRate = float64(c.stats.Hits) / float64(total)
	}
}
