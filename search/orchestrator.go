package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/docsift/docsift/cache"
	"github.com/docsift/docsift/core"
	"github.com/docsift/docsift/decision"
	"github.com/docsift/docsift/ingest"
	"github.com/docsift/docsift/provider"
	"github.com/docsift/docsift/query"
	"github.com/docsift/docsift/telemetry"
)

// ConfigSource yields the current configuration snapshot. The admin config
// store implements it for hot reload; StaticConfig wraps a fixed document.
type ConfigSource interface {
	Current() *core.Config
}

// StaticConfig is a ConfigSource over a fixed configuration.
type StaticConfig struct{ Config *core.Config }

func (s StaticConfig) Current() *core.Config {
	if s.Config == nil {
		return core.DefaultConfig()
	}
	return s.Config
}

// Deps wires the orchestrator's collaborators. Providers and Ingestion may be
// nil; the matching stages are then skipped.
type Deps struct {
	Config     ConfigSource
	Normalizer *query.Normalizer
	Cache      cache.ResultCache
	Fanout     *Fanout
	Ranker     *Ranker
	Decisions  *decision.Service
	Providers  *provider.Pool
	Ingestion  *ingest.Pipeline
	Recorder   *telemetry.PipelineRecorder
	Logger     core.Logger
	Telemetry  core.Telemetry
}

// Orchestrator runs the search pipeline: cache lookup, workspace selection,
// vector fan-out, evaluation, one optional refinement, the external provider
// fallback, response formatting, conditional ingestion, and cache store.
// Every stage emits a step event carrying the request's trace id.
type Orchestrator struct {
	config     ConfigSource
	normalizer *query.Normalizer
	cache      cache.ResultCache
	fanout     *Fanout
	ranker     *Ranker
	decisions  *decision.Service
	providers  *provider.Pool
	ingestion  *ingest.Pipeline
	recorder   *telemetry.PipelineRecorder
	log        core.Logger
	tel        core.Telemetry
}

func NewOrchestrator(deps Deps) *Orchestrator {
	if deps.Config == nil {
		deps.Config = StaticConfig{}
	}
	if deps.Logger == nil {
		deps.Logger = &core.NoOpLogger{}
	}
	if deps.Telemetry == nil {
		deps.Telemetry = &core.NoOpTelemetry{}
	}
	if deps.Recorder == nil {
		deps.Recorder = telemetry.NewPipelineRecorder(deps.Logger, deps.Telemetry)
	}
	if deps.Ranker == nil {
		deps.Ranker = NewRanker(DefaultRankWeights())
	}
	return &Orchestrator{
		config:     deps.Config,
		normalizer: deps.Normalizer,
		cache:      deps.Cache,
		fanout:     deps.Fanout,
		ranker:     deps.Ranker,
		decisions:  deps.Decisions,
		providers:  deps.Providers,
		ingestion:  deps.Ingestion,
		recorder:   deps.Recorder,
		log:        deps.Logger,
		tel:        deps.Telemetry,
	}
}

// stageTracker names the stage in flight so timeout and panic errors can
// report where the pipeline stopped.
type stageTracker struct{ name string }

func (s *stageTracker) set(name string) { s.name = name }

// Search runs the full pipeline for one admitted request.
func (o *Orchestrator) Search(ctx context.Context, req *core.SearchRequest) (resp *core.SearchResponse, err error) {
	cfg := o.config.Current()
	start := time.Now()

	traceID := req.RequestID
	if traceID == "" {
		traceID = uuid.NewString()
	}

	total := cfg.Timeouts.TotalSearch
	if total <= 0 {
		total = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, total)
	defer cancel()

	stage := &stageTracker{name: "normalize"}
	defer func() {
		if r := recover(); r != nil {
			perr := core.NewPipelineError("orchestrator.Search", stage.name, traceID, fmt.Errorf("panic: %v", r))
			perr.Elapsed = time.Since(start)
			o.log.Error("Pipeline panic", map[string]interface{}{
				"operation": "search",
				"stage":     stage.name,
				"trace_id":  traceID,
				"panic":     fmt.Sprintf("%v", r),
			})
			resp, err = nil, perr
		}
	}()

	resp, err = o.run(ctx, req, cfg, traceID, start, stage)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, core.ErrSearchTimeout) {
			perr := core.NewPipelineError("orchestrator.Search", stage.name, traceID, core.ErrSearchTimeout)
			perr.Elapsed = time.Since(start)
			o.tel.RecordMetric("search.timeouts", 1, map[string]string{"stage": stage.name})
			return nil, perr
		}
		return nil, err
	}
	resp.ExecutionTime = time.Since(start)
	resp.TraceID = traceID
	o.tel.RecordMetric("search.completed", 1, map[string]string{
		"cache_hit": fmt.Sprintf("%t", resp.CacheHit),
		"external":  fmt.Sprintf("%t", resp.ExternalSearchUsed),
	})
	return resp, nil
}

func (o *Orchestrator) run(ctx context.Context, req *core.SearchRequest, cfg *core.Config, traceID string, start time.Time, stage *stageTracker) (*core.SearchResponse, error) {
	// Stage 1: normalize. Requests arriving pre-normalized from admission
	// keep their fingerprint.
	stage.set("normalize")
	stageStart := time.Now()
	q := req.Query
	if q.Fingerprint == "" && o.normalizer != nil {
		nq, err := o.normalizer.Normalize(q.Original, q.TechnologyHint)
		if err != nil {
			return nil, err
		}
		q = nq
	}
	if cfg.Strategies.LimitOutOfRange == "reject" &&
		(req.Limit < 0 || req.Limit > cfg.ResourceLimits.MaxResults) {
		return nil, fmt.Errorf("%w: limit %d out of range [1,%d]",
			core.ErrInvalidQuery, req.Limit, cfg.ResourceLimits.MaxResults)
	}
	o.recorder.Step(traceID, "normalize", stageStart, map[string]interface{}{
		"fingerprint": q.Fingerprint,
	})

	// Stage 2: cache lookup. A backend fault is a miss, never a failure.
	stage.set("cache_lookup")
	stageStart = time.Now()
	if cfg.Features.ResultCaching && o.cache != nil {
		cached, found, err := o.lookupCache(ctx, cfg, q.Fingerprint)
		if err != nil {
			o.log.Warn("Cache lookup failed, treating as miss", map[string]interface{}{
				"operation": "cache_lookup",
				"trace_id":  traceID,
				"error":     err.Error(),
			})
		}
		o.recorder.Step(traceID, "cache_lookup", stageStart, map[string]interface{}{
			"hit": found,
		})
		if found {
			return o.emitCached(cached, req, cfg)
		}
	}

	forced := req.UseExternal == core.TriOn

	// Stage 3: workspace selection.
	stage.set("workspace_selection")
	stageStart = time.Now()
	var suggested []string
	if cfg.Strategies.WorkspaceSelection == "ai_driven" && o.decisions != nil {
		if u := o.decisions.UnderstandQuery(ctx, &q, &req.User); u != nil {
			suggested = u.SuggestedWorkspaces
		}
	}
	workspaces := SelectWorkspaces(cfg.Strategies.WorkspaceSelection, &req.User, suggested, cfg.ResourceLimits.MaxWorkspaces)
	o.recorder.Step(traceID, "workspace_selection", stageStart, map[string]interface{}{
		"workspaces": len(workspaces),
		"strategy":   cfg.Strategies.WorkspaceSelection,
	})

	// Stage 4: vector fan-out. A forced external search skips it and serves
	// the external aggregate alone.
	stage.set("vector_fanout")
	stageStart = time.Now()
	fetch := fetchLimit(req, cfg)
	internal := &core.VectorSearchResults{}
	if !forced && o.fanout != nil && len(workspaces) > 0 {
		internal = o.fanout.Run(ctx, q.Normalized, workspaces, fetch)
	}
	o.recorder.Step(traceID, "vector_fanout", stageStart, map[string]interface{}{
		"workspaces": len(workspaces),
		"hits":       internal.Total,
		"errors":     len(internal.WorkspaceErrors),
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resp := &core.SearchResponse{
		Query:           q.Original,
		TechnologyHint:  q.TechnologyHint,
		ResponseType:    core.ResponseRaw,
		WorkspaceErrors: internal.WorkspaceErrors,
	}

	// Stages 5-6: evaluation and at most one refinement. A forced external
	// search skips both, and with no workspaces to search there is nothing
	// to evaluate.
	quality := meanRelevance(internal.Results)
	var eval *core.EvaluationResult
	if !forced && len(workspaces) > 0 {
		stage.set("evaluation")
		stageStart = time.Now()
		if cfg.Features.AIEvaluation && o.decisions != nil {
			eval = o.decisions.EvaluateResults(ctx, &q, &req.User, internal.Results)
			if eval != nil {
				quality = eval.OverallQuality
			}
		}
		o.recorder.Step(traceID, "evaluation", stageStart, map[string]interface{}{
			"quality": fmt.Sprintf("%.2f", quality),
		})

		if cfg.Features.QueryRefinement && o.decisions != nil &&
			quality >= cfg.Thresholds.RefinementLowerQuality &&
			quality < cfg.Thresholds.RefinementUpperQuality {
			stage.set("refinement")
			stageStart = time.Now()
			internal, eval, quality = o.refineOnce(ctx, &q, req, cfg, workspaces, fetch, internal, eval, quality, resp)
			o.recorder.Step(traceID, "refinement", stageStart, map[string]interface{}{
				"applied": resp.Refinement != nil,
				"quality": fmt.Sprintf("%.2f", quality),
			})
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	// Stage 7: external search decision.
	stage.set("external_decision")
	stageStart = time.Now()
	useExternal := false
	var preferred []string
	switch {
	case req.UseExternal == core.TriOff:
	case forced:
		useExternal = cfg.Features.ExternalSearch && o.providers != nil
	default:
		if cfg.Features.ExternalSearch && o.providers != nil && o.decisions != nil {
			d := o.decisions.DecideExternalSearch(ctx, &q, &req.User, quality, len(internal.Results))
			if d != nil {
				useExternal = d.UseExternal
				preferred = d.RecommendedProviders
			}
		}
	}
	if len(req.ProviderOverrides) > 0 {
		preferred = req.ProviderOverrides
	}
	o.recorder.Step(traceID, "external_decision", stageStart, map[string]interface{}{
		"use_external": useExternal,
		"forced":       forced,
	})

	// Stage 8: external provider search. Total provider failure degrades to
	// internal results; it never fails the request.
	var external []core.SearchResult
	var winner string
	if useExternal {
		stage.set("external_search")
		stageStart = time.Now()
		external, winner = o.searchExternal(ctx, &q, req, cfg, preferred, traceID)
		resp.ExternalSearchUsed = true
		o.recorder.Step(traceID, "external_search", stageStart, map[string]interface{}{
			"provider": winner,
			"hits":     len(external),
		})
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	// Stage 9: merge and rank.
	stage.set("rank_merge")
	stageStart = time.Now()
	ranked := o.ranker.Rank(o.ranker.Merge(internal.Results, external), cfg.Strategies.Ranking)
	resp.Results = ranked
	resp.Total = len(ranked)
	resp.Evaluation = eval
	o.recorder.Step(traceID, "rank_merge", stageStart, map[string]interface{}{
		"total":    len(ranked),
		"strategy": cfg.Strategies.Ranking,
	})

	// An empty merged set gets a failure analysis so callers see why the
	// search came up short rather than a bare zero.
	if len(ranked) == 0 && o.decisions != nil {
		stage.set("failure_analysis")
		stageStart = time.Now()
		if fa := o.decisions.AnalyzeFailure(ctx, &q, &req.User, workspaces, internal.WorkspaceErrors); fa != nil {
			resp.Answer = fa.UserMessage
		}
		o.recorder.Step(traceID, "failure_analysis", stageStart, map[string]interface{}{
			"workspace_errors": len(internal.WorkspaceErrors),
		})
	}

	// Stage 10: response format. Answer synthesis only on request; the top
	// hits are distilled first so the synthesis prompt sees essential content
	// rather than raw page text.
	if req.ResponseType == core.ResponseAnswer && o.decisions != nil && len(ranked) > 0 {
		stage.set("response_format")
		stageStart = time.Now()
		top := o.extractTop(ctx, req, head(ranked, 10))
		if fs := o.decisions.SelectResponseFormat(ctx, &q, &req.User, top); fs != nil {
			resp.ResponseType = fs.ResponseType
			resp.Answer = fs.Answer
		}
		o.recorder.Step(traceID, "response_format", stageStart, map[string]interface{}{
			"type": string(resp.ResponseType),
		})
	}

	// Documentation gaps feed the async enrichment backlog when the result
	// set stayed weak and nothing external arrived to fill it.
	if cfg.Features.KnowledgeIngestion && o.decisions != nil &&
		len(external) == 0 && quality < cfg.Thresholds.ExternalSearchTrigger {
		if gaps := o.decisions.IdentifyLearningOpportunities(ctx, &q, &req.User, eval); len(gaps) > 0 {
			o.tel.RecordMetric("search.learning_opportunities", float64(len(gaps)), nil)
			o.log.Info("Learning opportunities identified", map[string]interface{}{
				"operation": "learning_opportunities",
				"trace_id":  traceID,
				"count":     len(gaps),
			})
		}
	}

	// Stage 11: conditional ingestion of external hits.
	if cfg.Features.KnowledgeIngestion && o.ingestion != nil && len(external) > 0 {
		stage.set("ingestion")
		stageStart = time.Now()
		resp.Ingestion = o.ingest(ctx, cfg, external, winner, quality)
		resp.EnrichmentTriggered = true
		o.recorder.Step(traceID, "ingestion", stageStart, map[string]interface{}{
			"type":     string(resp.Ingestion.Type),
			"ingested": resp.Ingestion.IngestedCount,
		})
	}

	// Stage 12: cache store, then emit. The cached unit holds the full
	// ranked set; pagination happens per request.
	if cfg.Features.ResultCaching && o.cache != nil {
		stage.set("cache_store")
		stageStart = time.Now()
		o.storeCache(ctx, cfg, q.Fingerprint, resp, traceID)
		o.recorder.Step(traceID, "cache_store", stageStart, nil)
	}

	stage.set("emit")
	page, err := Paginate(ranked, req.Limit, req.Offset, cfg.ResourceLimits.MaxResults, "clamp")
	if err != nil {
		return nil, err
	}
	emitted := *resp
	emitted.Results = page
	return &emitted, nil
}

// refineOnce rewrites the query, re-runs the fan-out, and keeps the better
// result set. It runs at most once per request.
func (o *Orchestrator) refineOnce(ctx context.Context, q *core.NormalizedQuery, req *core.SearchRequest, cfg *core.Config, workspaces []string, fetch int, internal *core.VectorSearchResults, eval *core.EvaluationResult, quality float64, resp *core.SearchResponse) (*core.VectorSearchResults, *core.EvaluationResult, float64) {
	ref := o.decisions.RefineQuery(ctx, q, &req.User, eval)
	if ref == nil || ref.RefinedQuery == "" || ref.RefinedQuery == q.Normalized {
		return internal, eval, quality
	}

	refinedText := ref.RefinedQuery
	if o.normalizer != nil {
		if nq, err := o.normalizer.Normalize(ref.RefinedQuery, q.TechnologyHint); err == nil {
			refinedText = nq.Normalized
		}
	}
	second := o.fanout.Run(ctx, refinedText, workspaces, fetch)
	secondEval := eval
	secondQuality := meanRelevance(second.Results)
	if cfg.Features.AIEvaluation {
		if e := o.decisions.EvaluateResults(ctx, q, &req.User, second.Results); e != nil {
			secondEval = e
			secondQuality = e.OverallQuality
		}
	}
	if secondQuality < quality {
		return internal, eval, quality
	}
	resp.Refinement = ref.Record()
	return second, secondEval, secondQuality
}

// extractTop distills the hits feeding answer synthesis down to their
// essential content. Hits with no body pass through untouched.
func (o *Orchestrator) extractTop(ctx context.Context, req *core.SearchRequest, hits []core.SearchResult) []core.SearchResult {
	out := append([]core.SearchResult(nil), hits...)
	for i := range out {
		if out[i].Content == "" {
			continue
		}
		if ex := o.decisions.ExtractContent(ctx, &req.User, out[i].SourceURL, out[i].Content); ex != nil && ex.Content != "" {
			out[i].Content = ex.Content
			out[i].Snippet = ex.Content
		}
	}
	return out
}

// searchExternal builds the provider-optimized query and dispatches the pool.
func (o *Orchestrator) searchExternal(ctx context.Context, q *core.NormalizedQuery, req *core.SearchRequest, cfg *core.Config, preferred []string, traceID string) ([]core.SearchResult, string) {
	first := ""
	if len(preferred) > 0 {
		first = preferred[0]
	}
	pq := provider.Query{
		Text:  q.Normalized,
		Limit: cfg.ResourceLimits.MaxExternalResults,
	}
	if o.decisions != nil {
		if eq := o.decisions.BuildExternalQuery(ctx, q, &req.User, first); eq != nil && eq.Query != "" {
			pq.Text = eq.Query
			pq.QuotedPhrases = eq.QuotedPhrases
			pq.RequiredTerms = eq.RequiredTerms
			pq.ExcludedTerms = eq.ExcludedTerms
			pq.SiteRestrictions = eq.SiteRestrictions
		}
	}

	extCtx, cancel := context.WithTimeout(ctx, cfg.Timeouts.ExternalSearch)
	defer cancel()
	hits, winner, err := o.providers.Search(extCtx, pq, preferred)
	if err != nil {
		o.log.Warn("External search failed, serving internal results", map[string]interface{}{
			"operation": "external_search",
			"trace_id":  traceID,
			"error":     err.Error(),
		})
		o.tel.RecordMetric("search.external_failures", 1, nil)
		return nil, ""
	}
	return hits, winner
}

// ingest routes external hits into the knowledge base. Curated documentation
// sources ingest synchronously so the very next query can hit them; web
// results go to the async queue.
func (o *Orchestrator) ingest(ctx context.Context, cfg *core.Config, external []core.SearchResult, sourceTag string, quality float64) *core.IngestionStatus {
	if cfg.Features.SyncIngestion && sourceTag == "context7" {
		return o.ingestion.IngestSync(ctx, external, sourceTag, quality)
	}
	return o.ingestion.IngestAsync(ctx, external, sourceTag, quality)
}

func (o *Orchestrator) lookupCache(ctx context.Context, cfg *core.Config, fingerprint string) (*core.SearchResponse, bool, error) {
	opCtx, cancel := context.WithTimeout(ctx, cacheOpTimeout(cfg))
	defer cancel()
	return o.cache.Lookup(opCtx, fingerprint)
}

func (o *Orchestrator) storeCache(ctx context.Context, cfg *core.Config, fingerprint string, resp *core.SearchResponse, traceID string) {
	ttl := cfg.ResourceLimits.CacheTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	stored := *resp
	stored.CacheHit = false
	stored.TraceID = ""
	opCtx, cancel := context.WithTimeout(ctx, cacheOpTimeout(cfg))
	defer cancel()
	if err := o.cache.Store(opCtx, fingerprint, &stored, ttl); err != nil {
		o.log.Warn("Cache store failed", map[string]interface{}{
			"operation": "cache_store",
			"trace_id":  traceID,
			"error":     err.Error(),
		})
	}
}

// emitCached pages a cached response for this request's limit and offset.
func (o *Orchestrator) emitCached(cached *core.SearchResponse, req *core.SearchRequest, cfg *core.Config) (*core.SearchResponse, error) {
	page, err := Paginate(cached.Results, req.Limit, req.Offset, cfg.ResourceLimits.MaxResults, "clamp")
	if err != nil {
		return nil, err
	}
	hit := *cached
	hit.Results = page
	hit.CacheHit = true
	return &hit, nil
}

func cacheOpTimeout(cfg *core.Config) time.Duration {
	if cfg.Timeouts.CacheOperation > 0 {
		return cfg.Timeouts.CacheOperation
	}
	return 500 * time.Millisecond
}

// fetchLimit sizes the per-workspace fetch so pagination has enough depth.
func fetchLimit(req *core.SearchRequest, cfg *core.Config) int {
	fetch := req.Limit + req.Offset
	if fetch < 20 {
		fetch = 20
	}
	if max := cfg.ResourceLimits.MaxResults; max > 0 && fetch > max {
		fetch = max
	}
	return fetch
}

func meanRelevance(results []core.SearchResult) float64 {
	if len(results) == 0 {
		return 0
	}
	sum := 0.0
	for i := range results {
		sum += results[i].RelevanceScore
	}
	return sum / float64(len(results))
}

func head(results []core.SearchResult, n int) []core.SearchResult {
	if len(results) <= n {
		return results
	}
	return results[:n]
}
