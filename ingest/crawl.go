package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/docsift/docsift/core"
)

const crawlQueueKey = "ingest:crawl"

// CrawlRequest is one consented source acquisition job. The crawler runner
// that drains the queue is external to this module.
type CrawlRequest struct {
	ID          string    `json:"id"`
	SourceURL   string    `json:"source_url"`
	SourceType  string    `json:"source_type"` // github | web | api
	MaxDepth    int       `json:"max_depth"`
	Workspace   string    `json:"workspace,omitempty"`
	RequestedBy string    `json:"requested_by"`
	ConsentedAt time.Time `json:"consented_at"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
}

// CrawlQueue parks crawl requests for the external runner.
type CrawlQueue interface {
	// Enqueue parks the request and returns its queue position (1-based).
	Enqueue(ctx context.Context, req *CrawlRequest) (int64, error)
}

// RedisCrawlQueue is the redis list implementation.
type RedisCrawlQueue struct {
	client *core.RedisClient
}

func NewRedisCrawlQueue(client *core.RedisClient) *RedisCrawlQueue {
	return &RedisCrawlQueue{client: client}
}

func (q *RedisCrawlQueue) Enqueue(ctx context.Context, req *CrawlRequest) (int64, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return 0, err
	}
	if err := q.client.LPush(ctx, crawlQueueKey, string(data)); err != nil {
		return 0, err
	}
	return q.client.LLen(ctx, crawlQueueKey)
}
