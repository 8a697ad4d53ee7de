// docsiftd assembles the documentation cache: the admission controller, the
// search orchestrator and its collaborators, the admin control plane, and
// the MCP tool and resource surfaces. The MCP transport and the vector
// index engine are external processes; this binary owns the pipeline and
// its maintenance loops.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docsift/docsift/admin"
	"github.com/docsift/docsift/admission"
	"github.com/docsift/docsift/ai"
	"github.com/docsift/docsift/cache"
	"github.com/docsift/docsift/core"
	"github.com/docsift/docsift/decision"
	"github.com/docsift/docsift/ingest"
	"github.com/docsift/docsift/mcp"
	"github.com/docsift/docsift/provider"
	"github.com/docsift/docsift/query"
	"github.com/docsift/docsift/search"
	"github.com/docsift/docsift/telemetry"
)

const serviceName = "docsiftd"

// container holds the assembled object graph. The in-process MCP host reads
// Tools and Resources; everything else backs the maintenance loops.
type container struct {
	logger     core.Logger
	tel        core.Telemetry
	otel       *telemetry.OTelProvider
	redis      *core.RedisClient
	configs    *admin.ConfigStore
	controller *admission.Controller
	pipeline   *ingest.Pipeline
	monitoring *admin.Monitoring
	providers  *admin.ProviderAdmin
	health     *telemetry.HealthAggregator

	Tools     *mcp.Tools
	Resources *mcp.Resources
}

func main() {
	logger := core.NewProductionLogger(serviceName)

	cfg := core.DefaultConfig()
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		loaded, err := core.LoadConfig(path)
		if err != nil {
			log.Fatalf("config load failed: %v", err)
		}
		cfg = loaded
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := build(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}
	defer c.shutdown()

	logger.Info("docsiftd started", map[string]interface{}{
		"operation":       "startup",
		"redis_namespace": c.redis.Namespace(),
		"providers":       len(c.providers.List()),
		"mcp_tools_ready": c.Tools != nil,
	})

	c.run(ctx)

	logger.Info("docsiftd stopping", map[string]interface{}{"operation": "shutdown"})
}

func build(ctx context.Context, cfg *core.Config, logger core.Logger) (*container, error) {
	c := &container{logger: logger}

	// Telemetry: otel when an exporter endpoint is configured, no-op otherwise.
	c.tel = &core.NoOpTelemetry{}
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		otelProvider, err := telemetry.NewOTelProvider(serviceName, endpoint)
		if err != nil {
			logger.Warn("Telemetry disabled", map[string]interface{}{
				"operation": "startup",
				"error":     err.Error(),
			})
		} else {
			c.otel = otelProvider
			c.tel = otelProvider
		}
	}

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = cfg.Redis.URL
	}
	if redisURL == "" {
		redisURL = "redis://localhost:6379"
	}
	namespace := cfg.Redis.Namespace
	if namespace == "" {
		namespace = "docsift"
	}
	redisClient, err := core.NewRedisClient(core.RedisClientOptions{
		RedisURL:  redisURL,
		Namespace: namespace,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	c.redis = redisClient

	indexURL := os.Getenv("VECTOR_INDEX_URL")
	if indexURL == "" {
		indexURL = "http://localhost:8200"
	}
	index, err := search.NewHTTPIndex(search.HTTPIndexConfig{
		BaseURL: indexURL,
		Timeout: cfg.Timeouts.PerWorkspace,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}

	resultCache := cache.NewBreakerCache(
		cache.NewKVCache(redisClient, "cache", logger),
		cache.BreakerCacheConfig{
			FailureThreshold: cfg.Thresholds.CacheBreakerFailures,
			InitialBackoff:   cfg.Thresholds.CacheBreakerRecovery,
			OperationTimeout: cfg.Timeouts.CacheOperation,
			Logger:           logger,
			Telemetry:        c.tel,
		})

	templates := decision.NewRedisTemplateStore(redisClient, logger)
	if err := decision.SeedDefaults(ctx, templates); err != nil {
		return nil, err
	}

	// A missing key leaves the AI client nil; every decision then runs on
	// its deterministic fallback.
	var aiClient core.AIClient
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		client, err := ai.NewOpenAIClient(ai.OpenAIConfig{
			APIKey:    key,
			BaseURL:   os.Getenv("OPENAI_BASE_URL"),
			Model:     os.Getenv("OPENAI_MODEL"),
			Logger:    logger,
			Telemetry: c.tel,
		})
		if err != nil {
			return nil, err
		}
		aiClient = client
	} else {
		logger.Warn("OPENAI_API_KEY not set, AI decisions run on fallbacks", map[string]interface{}{
			"operation": "startup",
		})
	}

	decisions := decision.NewService(aiClient, templates, decision.NewTestRegistry(), decision.Config{
		Timeout:               cfg.Timeouts.AIDecision,
		ExternalSearchTrigger: cfg.Thresholds.ExternalSearchTrigger,
		ProviderPriority:      cfg.Strategies.ProviderPriority,
	}, logger, c.tel)

	pool := provider.NewPool(provider.PoolConfig{
		Timeout:       cfg.Timeouts.ExternalSearch,
		HedgedDelay:   cfg.Timeouts.HedgedDelay,
		MaxConcurrent: cfg.ResourceLimits.MaxConcurrentProviders,
		Logger:        logger,
		Telemetry:     c.tel,
	})
	if err := registerProviders(pool, cfg, logger); err != nil {
		return nil, err
	}

	metadataStore := ingest.NewRedisMetadataStore(redisClient, logger)
	c.pipeline = ingest.NewPipeline(metadataStore, ingest.NewRedisJobQueue(redisClient), ingest.PipelineConfig{
		TTL:         ingest.DefaultTTLConfig(),
		SyncTimeout: cfg.Timeouts.SyncIngestion,
		Logger:      logger,
		Telemetry:   c.tel,
	})

	limiter := admission.NewRateLimiter(cfg.RateLimits, logger)
	queue := admission.NewPriorityQueue(admission.QueueConfig{
		MaxDepth:       cfg.Queue.MaxQueueDepth,
		MaxConcurrent:  cfg.Queue.MaxConcurrentSearches,
		Timeout:        cfg.Queue.QueueTimeout,
		HighWaterRatio: cfg.Queue.HighWaterRatio,
		Ordering:       admission.OrderingStrategy(cfg.Strategies.QueueOrdering),
		Logger:         logger,
	})
	c.controller = admission.NewController(limiter, queue, logger, c.tel)

	c.configs = admin.NewConfigStore(cfg, redisClient, logger)
	c.configs.Watch(func(next *core.Config) {
		c.controller.Reconfigure(next.RateLimits)
		logger.Info("Configuration applied", map[string]interface{}{
			"operation": "config_reload",
		})
	})

	normalizer := query.NewNormalizer(logger)
	orchestrator := search.NewOrchestrator(search.Deps{
		Config:     c.configs,
		Normalizer: normalizer,
		Cache:      resultCache,
		Fanout: search.NewFanout(index, search.FanoutConfig{
			PerWorkspaceTimeout: cfg.Timeouts.PerWorkspace,
			MaxWorkspaces:       cfg.ResourceLimits.MaxWorkspaces,
			Logger:              logger,
			Telemetry:           c.tel,
		}),
		Ranker:    search.NewRanker(search.DefaultRankWeights()),
		Decisions: decisions,
		Providers: pool,
		Ingestion: c.pipeline,
		Recorder:  telemetry.NewPipelineRecorder(logger, c.tel),
		Logger:    logger,
		Telemetry: c.tel,
	})

	c.health = telemetry.NewHealthAggregator(logger, redisClient, resultCache, index)
	c.monitoring = admin.NewMonitoring(c.controller, resultCache, pool)
	c.providers = admin.NewProviderAdmin(pool, logger)

	c.Tools = mcp.NewTools(mcp.ToolDeps{
		Config:       c.configs,
		Normalizer:   normalizer,
		Controller:   c.controller,
		Orchestrator: orchestrator,
		Crawls:       ingest.NewRedisCrawlQueue(redisClient),
		Store:        metadataStore,
		Monitor:      c.monitoring,
		Logger:       logger,
		Telemetry:    c.tel,
	})
	c.Resources = mcp.NewResources(mcp.ResourceDeps{
		Index:      index,
		Store:      metadataStore,
		Health:     c.health,
		Controller: c.controller,
		Cache:      resultCache,
		Pool:       pool,
	})

	return c, nil
}

// registerProviders wires the external search providers in configured
// priority order. Brave needs a key; context7 and duckduckgo degrade to
// keyless operation.
func registerProviders(pool *provider.Pool, cfg *core.Config, logger core.Logger) error {
	priority := func(id string) int {
		for i, p := range cfg.Strategies.ProviderPriority {
			if p == id {
				return i + 1
			}
		}
		return len(cfg.Strategies.ProviderPriority) + 1
	}

	context7, err := provider.NewContext7(provider.Context7Config{
		APIKey:     os.Getenv("CONTEXT7_API_KEY"),
		Timeout:    cfg.Timeouts.ExternalSearch,
		HedgeDelay: cfg.Timeouts.HedgedDelay,
	})
	if err != nil {
		return err
	}
	pool.Register(context7, provider.Record{
		Name:     "Context7",
		Kind:     "docs",
		Priority: priority("context7"),
		Enabled:  true,
	})

	if key := os.Getenv("BRAVE_API_KEY"); key != "" {
		brave, err := provider.NewBrave(provider.BraveConfig{
			APIKey:     key,
			Timeout:    cfg.Timeouts.ExternalSearch,
			HedgeDelay: cfg.Timeouts.HedgedDelay,
			Logger:     logger,
		})
		if err != nil {
			return err
		}
		pool.Register(brave, provider.Record{
			Name:     "Brave Search",
			Kind:     "web_search",
			Priority: priority("brave"),
			Enabled:  true,
		})
	} else {
		logger.Warn("BRAVE_API_KEY not set, brave provider skipped", map[string]interface{}{
			"operation": "startup",
		})
	}

	ddg, err := provider.NewDuckDuckGo(provider.DuckDuckGoConfig{
		Timeout:    cfg.Timeouts.ExternalSearch,
		HedgeDelay: cfg.Timeouts.HedgedDelay,
	})
	if err != nil {
		return err
	}
	pool.Register(ddg, provider.Record{
		Name:     "DuckDuckGo",
		Kind:     "web_search",
		Priority: priority("duckduckgo"),
		Enabled:  true,
	})
	return nil
}

// run drives the maintenance loops until the signal context is cancelled:
// TTL cleanup of expired documents and a periodic health probe.
func (c *container) run(ctx context.Context) {
	cleanup := time.NewTicker(10 * time.Minute)
	defer cleanup.Stop()
	health := time.NewTicker(time.Minute)
	defer health.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-cleanup.C:
			c.removeExpired(ctx)
		case <-health.C:
			report := c.health.Check(ctx)
			if report.Status != core.HealthHealthy {
				c.logger.Warn("Health degraded", map[string]interface{}{
					"operation": "health_check",
					"status":    string(report.Status),
				})
			}
		}
	}
}

func (c *container) removeExpired(ctx context.Context) {
	ids, err := c.pipeline.ExpiredDocuments(ctx, 500)
	if err != nil {
		c.logger.Error("Expired document scan failed", map[string]interface{}{
			"operation": "ttl_cleanup",
			"error":     err.Error(),
		})
		return
	}
	removed := 0
	for _, id := range ids {
		if err := c.pipeline.RemoveExpired(ctx, id); err != nil {
			c.logger.Warn("Expired document removal failed", map[string]interface{}{
				"operation":  "ttl_cleanup",
				"content_id": id,
				"error":      err.Error(),
			})
			continue
		}
		removed++
	}
	if removed > 0 {
		c.logger.Info("Expired documents removed", map[string]interface{}{
			"operation": "ttl_cleanup",
			"removed":   removed,
		})
	}
}

func (c *container) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if c.otel != nil {
		if err := c.otel.Shutdown(shutdownCtx); err != nil {
			c.logger.Warn("Telemetry shutdown failed", map[string]interface{}{
				"operation": "shutdown",
				"error":     err.Error(),
			})
		}
	}
	if c.redis != nil {
		_ = c.redis.Close()
	}
}
