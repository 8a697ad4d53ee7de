package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/docsift/docsift/core"
)

// JobQueue is where asynchronous ingestion work is parked for the background
// runner. The redis list implementation is the production path.
type JobQueue interface {
	Enqueue(ctx context.Context, job *Job) error
}

// Job is one queued asynchronous ingestion unit.
type Job struct {
	SourceTag  string              `json:"source_tag"`
	Results    []core.SearchResult `json:"results"`
	Quality    float64             `json:"quality"`
	EnqueuedAt time.Time           `json:"enqueued_at"`
}

const jobQueueKey = "ingest:jobs"

// RedisJobQueue parks jobs on a redis list for the external runner.
type RedisJobQueue struct {
	client *core.RedisClient
}

func NewRedisJobQueue(client *core.RedisClient) *RedisJobQueue {
	return &RedisJobQueue{client: client}
}

func (q *RedisJobQueue) Enqueue(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, jobQueueKey, string(data))
}

// Depth reports the number of parked jobs.
func (q *RedisJobQueue) Depth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, jobQueueKey)
}

// PipelineConfig tunes the ingestion path.
type PipelineConfig struct {
	TTL         TTLConfig
	SyncTimeout time.Duration // bound on a synchronous ingestion pass
	Logger      core.Logger
	Telemetry   core.Telemetry
}

// Pipeline classifies, scores, and persists documents selected for
// ingestion. Ingestion faults never fail the read path: the error travels
// inside the returned status.
type Pipeline struct {
	store MetadataStore
	queue JobQueue
	cfg   PipelineConfig
	log   core.Logger
	tel   core.Telemetry
}

func NewPipeline(store MetadataStore, queue JobQueue, cfg PipelineConfig) *Pipeline {
	if cfg.TTL.BaseDays <= 0 {
		cfg.TTL = DefaultTTLConfig()
	}
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = 15 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = &core.NoOpLogger{}
	}
	if cfg.Telemetry == nil {
		cfg.Telemetry = &core.NoOpTelemetry{}
	}
	return &Pipeline{store: store, queue: queue, cfg: cfg, log: cfg.Logger, tel: cfg.Telemetry}
}

// IngestSync runs the full path for each document within the sync timeout
// and returns the embedded status.
func (p *Pipeline) IngestSync(ctx context.Context, results []core.SearchResult, sourceTag string, quality float64) *core.IngestionStatus {
	start := time.Now()
	status := &core.IngestionStatus{
		SourceTag: sourceTag,
		Type:      core.IngestionSynchronous,
	}

	ingestCtx, cancel := context.WithTimeout(ctx, p.cfg.SyncTimeout)
	defer cancel()

	for i := range results {
		r := &results[i]
		if r.SourceURL == "" {
			continue
		}
		if err := ingestCtx.Err(); err != nil {
			status.Error = "ingestion timed out after " + time.Since(start).String()
			break
		}
		if err := p.ingestOne(ingestCtx, r, sourceTag, quality); err != nil {
			status.Error = err.Error()
			p.log.Warn("Document ingestion failed", map[string]interface{}{
				"operation":  "ingest_document",
				"source_url": r.SourceURL,
				"error":      err.Error(),
			})
			continue
		}
		status.IngestedCount++
	}

	status.Duration = time.Since(start)
	status.Success = status.Error == "" && status.IngestedCount > 0
	p.tel.RecordMetric("ingest.documents", float64(status.IngestedCount), map[string]string{
		"source": sourceTag,
		"type":   string(core.IngestionSynchronous),
	})
	return status
}

// IngestAsync parks the documents for the background runner and returns
// immediately.
func (p *Pipeline) IngestAsync(ctx context.Context, results []core.SearchResult, sourceTag string, quality float64) *core.IngestionStatus {
	status := &core.IngestionStatus{
		SourceTag: sourceTag,
		Type:      core.IngestionAsynchronous,
	}
	if p.queue == nil {
		status.Error = "no job queue configured"
		return status
	}
	err := p.queue.Enqueue(ctx, &Job{
		SourceTag:  sourceTag,
		Results:    results,
		Quality:    quality,
		EnqueuedAt: time.Now(),
	})
	if err != nil {
		status.Error = err.Error()
		return status
	}
	status.Success = true
	status.IngestedCount = len(results)
	p.tel.RecordMetric("ingest.enqueued", float64(len(results)), map[string]string{"source": sourceTag})
	return status
}

// ingestOne classifies, scores, and persists a single document.
func (p *Pipeline) ingestOne(ctx context.Context, r *core.SearchResult, sourceTag string, quality float64) error {
	doc := ExtractMetadata(r, quality)
	doc.TTLDays = ComputeTTLDays(p.cfg.TTL, TTLInput{
		Technology:  doc.Technology,
		ContentType: doc.ContentType,
		Content:     r.Content,
		Version:     doc.Version,
		Quality:     doc.Quality,
	})
	now := time.Now()
	doc.IngestedAt = now
	doc.ExpiresAt = now.AddDate(0, 0, doc.TTLDays)
	doc.Status = "pending_" + sourceTag

	if err := p.store.SaveDocument(ctx, &doc); err != nil {
		return err
	}
	if r.Content != "" {
		if err := p.store.PutContent(ctx, doc.ContentID, r.Content); err != nil {
			return err
		}
	}
	return nil
}

// ExpiredDocuments exposes the cleanup query for the background job runner.
func (p *Pipeline) ExpiredDocuments(ctx context.Context, limit int) ([]string, error) {
	return p.store.ExpiredDocuments(ctx, time.Now(), limit)
}

// RemoveExpired deletes one expired document; the cleanup runner calls this
// per enumerated id after de-indexing.
func (p *Pipeline) RemoveExpired(ctx context.Context, contentID string) error {
	return p.store.DeleteDocument(ctx, contentID)
}
