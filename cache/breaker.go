package cache

import (
	"context"
	"time"

	"github.com/docsift/docsift/core"
)

// BreakerCache fronts a ResultCache with a circuit breaker. Backend faults
// and slow lookups never reach the caller: a lookup degrades to a miss and a
// store degrades to a no-op while the breaker counts failures and opens.
type BreakerCache struct {
	inner     ResultCache
	breaker   *core.CircuitBreaker
	opTimeout time.Duration
	logger    core.Logger
	telemetry core.Telemetry
}

// BreakerCacheConfig configures the decorator.
type BreakerCacheConfig struct {
	// FailureThreshold opens the breaker (default 3 consecutive failures)
	FailureThreshold int
	// InitialBackoff is the first open window (default 2s, doubling to MaxBackoff)
	InitialBackoff time.Duration
	// MaxBackoff caps the open window (default 30s)
	MaxBackoff time.Duration
	// OperationTimeout bounds every lookup/store (default 500ms); a breach
	// counts as a failure and is treated as a miss
	OperationTimeout time.Duration
	Logger           core.Logger
	Telemetry        core.Telemetry
}

// NewBreakerCache wraps a cache with breaker protection.
func NewBreakerCache(inner ResultCache, cfg BreakerCacheConfig) *BreakerCache {
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 500 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = &core.NoOpLogger{}
	}
	if cfg.Telemetry == nil {
		cfg.Telemetry = &core.NoOpTelemetry{}
	}

	telemetry := cfg.Telemetry
	breakerCfg := core.BreakerConfig{
		Name:             "result_cache",
		FailureThreshold: cfg.FailureThreshold,
		InitialBackoff:   cfg.InitialBackoff,
		MaxBackoff:       cfg.MaxBackoff,
		Logger:           cfg.Logger,
		OnStateChange: func(name string, from, to core.CircuitState) {
			telemetry.RecordMetric("cache.breaker.transition", 1, map[string]string{
				"from": from.String(),
				"to":   to.String(),
			})
		},
	}

	return &BreakerCache{
		inner:     inner,
		breaker:   core.NewCircuitBreaker(breakerCfg),
		opTimeout: cfg.OperationTimeout,
		logger:    cfg.Logger,
		telemetry: telemetry,
	}
}

// Lookup returns the cached response or a miss. It never raises and never
// blocks the caller beyond the operation timeout.
func (b *BreakerCache) Lookup(ctx context.Context, fingerprint string) (*core.SearchResponse, bool, error) {
	if !b.breaker.Allow() {
		b.telemetry.RecordMetric("cache.breaker.short_circuit", 1, map[string]string{"op": "lookup"})
		return nil, false, nil
	}

	opCtx, cancel := context.WithTimeout(ctx, b.opTimeout)
	defer cancel()

	type result struct {
		response *core.SearchResponse
		found    bool
		err      error
	}
	done := make(chan result, 1)
	go func() {
		r, found, err := b.inner.Lookup(opCtx, fingerprint)
		done <- result{r, found, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			b.breaker.Record(r.err)
			b.logger.Warn("Cache lookup failed, degrading to miss", map[string]interface{}{
				"operation": "cache_lookup",
				"error":     r.err.Error(),
			})
			return nil, false, nil
		}
		b.breaker.Record(nil)
		return r.response, r.found, nil
	case <-opCtx.Done():
		// A slow lookup is identical to a miss and counts as a failure.
		b.breaker.Record(core.ErrTimeout)
		b.telemetry.RecordMetric("cache.lookup.timeout", 1, nil)
		return nil, false, nil
	}
}

// Store caches the response, degrading to a no-op on breaker-open or fault.
func (b *BreakerCache) Store(ctx context.Context, fingerprint string, response *core.SearchResponse, ttl time.Duration) error {
	if !b.breaker.Allow() {
		b.telemetry.RecordMetric("cache.breaker.short_circuit", 1, map[string]string{"op": "store"})
		return nil
	}

	opCtx, cancel := context.WithTimeout(ctx, b.opTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- b.inner.Store(opCtx, fingerprint, response, ttl)
	}()

	select {
	case err := <-done:
		b.breaker.Record(err)
		if err != nil {
			b.logger.Warn("Cache store failed, skipping", map[string]interface{}{
				"operation": "cache_store",
				"error":     err.Error(),
			})
		}
		return nil
	case <-opCtx.Done():
		b.breaker.Record(core.ErrTimeout)
		b.telemetry.RecordMetric("cache.store.timeout", 1, nil)
		return nil
	}
}

// Stats returns the inner cache statistics.
func (b *BreakerCache) Stats() Stats {
	return b.inner.Stats()
}

// BreakerState exposes the breaker state for health and admin endpoints.
func (b *BreakerCache) BreakerState() core.CircuitState {
	return b.breaker.State()
}

// HealthCheck reports unhealthy while the breaker is open.
func (b *BreakerCache) HealthCheck(ctx context.Context) error {
	if b.breaker.State() == core.StateOpen {
		return core.ErrCircuitOpen
	}
	return nil
}

// Name implements core.HealthChecker.
func (b *BreakerCache) Name() string { return "result_cache" }
