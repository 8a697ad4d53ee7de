package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/docsift/docsift/admission"
	"github.com/docsift/docsift/core"
	"github.com/docsift/docsift/ingest"
	"github.com/docsift/docsift/query"
	"github.com/docsift/docsift/search"
)

// SearchRecorder receives one sample per completed or failed search. The
// admin monitoring aggregates implement it.
type SearchRecorder interface {
	RecordSearch(latency time.Duration, cacheHit, external, failed, fallback bool)
}

// Tools is the tool surface: search, ingest, feedback.
type Tools struct {
	config       search.ConfigSource
	normalizer   *query.Normalizer
	controller   *admission.Controller
	orchestrator *search.Orchestrator
	crawls       ingest.CrawlQueue
	store        ingest.MetadataStore
	monitor      SearchRecorder
	log          core.Logger
	tel          core.Telemetry
}

// ToolDeps wires the tool surface. Monitor is optional.
type ToolDeps struct {
	Config       search.ConfigSource
	Normalizer   *query.Normalizer
	Controller   *admission.Controller
	Orchestrator *search.Orchestrator
	Crawls       ingest.CrawlQueue
	Store        ingest.MetadataStore
	Monitor      SearchRecorder
	Logger       core.Logger
	Telemetry    core.Telemetry
}

func NewTools(deps ToolDeps) *Tools {
	if deps.Config == nil {
		deps.Config = search.StaticConfig{}
	}
	if deps.Normalizer == nil {
		deps.Normalizer = query.NewNormalizer(deps.Logger)
	}
	if deps.Logger == nil {
		deps.Logger = &core.NoOpLogger{}
	}
	if deps.Telemetry == nil {
		deps.Telemetry = &core.NoOpTelemetry{}
	}
	return &Tools{
		config:       deps.Config,
		normalizer:   deps.Normalizer,
		controller:   deps.Controller,
		orchestrator: deps.Orchestrator,
		crawls:       deps.Crawls,
		store:        deps.Store,
		monitor:      deps.Monitor,
		log:          deps.Logger,
		tel:          deps.Telemetry,
	}
}

// SearchParams is the search tool input.
type SearchParams struct {
	Query        string   `json:"query"`
	Technology   string   `json:"technology,omitempty"`
	Workspaces   []string `json:"workspaces,omitempty"`
	Limit        int      `json:"limit,omitempty"`
	Offset       int      `json:"offset,omitempty"`
	ResponseType string   `json:"response_type,omitempty"` // raw | answer
	UseExternal  *bool    `json:"use_external_search,omitempty"`
	Providers    []string `json:"external_providers,omitempty"`
	UserID       string   `json:"user_id"`
	SessionID    string   `json:"session_id,omitempty"`
	Tier         string   `json:"tier,omitempty"`
}

// Search admits and runs one search. Admission denials and pipeline failures
// come back as an envelope; the pipeline itself never executes for a denied
// request.
func (t *Tools) Search(ctx context.Context, p SearchParams) (*core.SearchResponse, *core.ErrorEnvelope) {
	nq, err := t.normalizer.Normalize(p.Query, p.Technology)
	if err != nil {
		return nil, Envelope(err, 0)
	}

	req := &core.SearchRequest{
		RequestID: uuid.NewString(),
		Query:     nq,
		User: core.UserContext{
			UserID:        p.UserID,
			SessionID:     p.SessionID,
			Workspaces:    p.Workspaces,
			RateLimitTier: p.Tier,
		},
		ResponseType:      core.ResponseType(p.ResponseType),
		ProviderOverrides: p.Providers,
		Limit:             p.Limit,
		Offset:            p.Offset,
		CreatedAt:         time.Now(),
	}
	if p.UseExternal != nil {
		if *p.UseExternal {
			req.UseExternal = core.TriOn
		} else {
			req.UseExternal = core.TriOff
		}
	}

	entry, decision, err := t.controller.Admit(req)
	if err != nil {
		return nil, Envelope(err, decision.RetryAfter)
	}

	queueTimeout := t.config.Current().Queue.QueueTimeout
	if !t.controller.WaitForSlot(queueTimeout) {
		t.controller.Leave(entry)
		return nil, Envelope(core.ErrQueueTimeout, 0)
	}
	defer t.controller.ReleaseSlot()
	t.controller.Leave(entry)

	start := time.Now()
	resp, err := t.orchestrator.Search(ctx, req)
	if err != nil {
		t.record(time.Since(start), false, false, true, false)
		return nil, Envelope(err, 0)
	}
	t.record(resp.ExecutionTime, resp.CacheHit, resp.ExternalSearchUsed, false, len(resp.WorkspaceErrors) > 0)
	return resp, nil
}

func (t *Tools) record(latency time.Duration, cacheHit, external, failed, fallback bool) {
	if t.monitor != nil {
		t.monitor.RecordSearch(latency, cacheHit, external, failed, fallback)
	}
}

// IngestParams is the ingest tool input. Consent is mandatory: the service
// fetches nothing a user did not explicitly approve.
type IngestParams struct {
	SourceURL  string `json:"source_url"`
	SourceType string `json:"source_type"` // github | web | api
	MaxDepth   int    `json:"max_depth,omitempty"`
	Workspace  string `json:"workspace,omitempty"`
	UserID     string `json:"user_id"`
	Consent    bool   `json:"consent"`
}

// IngestReceipt acknowledges a queued crawl.
type IngestReceipt struct {
	QueueID  string `json:"queue_id"`
	Position int64  `json:"position"`
}

var sourceTypes = map[string]bool{"github": true, "web": true, "api": true}

// Ingest validates and queues a source acquisition request.
func (t *Tools) Ingest(ctx context.Context, p IngestParams) (*IngestReceipt, *core.ErrorEnvelope) {
	if !p.Consent {
		return nil, Envelope(fmt.Errorf("%w for %s", ErrConsentRequired, p.SourceURL), 0)
	}
	if p.SourceURL == "" {
		return nil, Envelope(fmt.Errorf("%w: source_url is required", core.ErrInvalidQuery), 0)
	}
	if !sourceTypes[p.SourceType] {
		return nil, Envelope(fmt.Errorf("%w: unknown source_type %q", core.ErrInvalidQuery, p.SourceType), 0)
	}
	depth := p.MaxDepth
	if depth == 0 {
		depth = 1
	}
	if depth < 1 || depth > 10 {
		return nil, Envelope(fmt.Errorf("%w: max_depth %d outside [1,10]", core.ErrInvalidQuery, p.MaxDepth), 0)
	}

	req := &ingest.CrawlRequest{
		ID:          uuid.NewString(),
		SourceURL:   p.SourceURL,
		SourceType:  p.SourceType,
		MaxDepth:    depth,
		Workspace:   p.Workspace,
		RequestedBy: p.UserID,
		ConsentedAt: time.Now().UTC(),
		EnqueuedAt:  time.Now().UTC(),
	}
	position, err := t.crawls.Enqueue(ctx, req)
	if err != nil {
		return nil, Envelope(err, 0)
	}
	t.log.Info("Crawl queued", map[string]interface{}{
		"operation":   "ingest_tool",
		"source_url":  p.SourceURL,
		"source_type": p.SourceType,
		"queue_id":    req.ID,
		"position":    position,
	})
	t.tel.RecordMetric("mcp.crawls_queued", 1, map[string]string{"source_type": p.SourceType})
	return &IngestReceipt{QueueID: req.ID, Position: position}, nil
}

// FeedbackParams is the feedback tool input.
type FeedbackParams struct {
	ContentID string  `json:"content_id"`
	Rating    float64 `json:"rating"` // 0..1
	UserID    string  `json:"user_id"`
	Comment   string  `json:"comment,omitempty"`
}

// feedbackWeight blends a new rating into the stored quality score.
const feedbackWeight = 0.3

// Feedback folds a user rating into the document's quality score, which in
// turn shifts its TTL on the next recalculation.
func (t *Tools) Feedback(ctx context.Context, p FeedbackParams) *core.ErrorEnvelope {
	if p.ContentID == "" {
		return Envelope(fmt.Errorf("%w: content_id is required", core.ErrInvalidQuery), 0)
	}
	if p.Rating < 0 || p.Rating > 1 {
		return Envelope(fmt.Errorf("%w: rating %.2f outside [0,1]", core.ErrInvalidQuery, p.Rating), 0)
	}

	doc, err := t.store.GetDocument(ctx, p.ContentID)
	if err != nil {
		return Envelope(err, 0)
	}
	doc.Quality = (1-feedbackWeight)*doc.Quality + feedbackWeight*p.Rating
	if err := t.store.SaveDocument(ctx, doc); err != nil {
		return Envelope(err, 0)
	}

	t.log.Info("Feedback recorded", map[string]interface{}{
		"operation":  "feedback_tool",
		"content_id": p.ContentID,
		"rating":     p.Rating,
		"quality":    doc.Quality,
	})
	t.tel.RecordMetric("mcp.feedback", 1, nil)
	return nil
}
