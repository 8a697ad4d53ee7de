package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/docsift/docsift/core"
)

// Record is the control-plane view of one provider. Records are mutated only
// through the pool's admin methods.
type Record struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Kind       string    `json:"kind"` // docs | web_search
	Endpoint   string    `json:"endpoint,omitempty"`
	Priority   int       `json:"priority"` // lower dispatches first
	Enabled    bool      `json:"enabled"`
	RatePerMin int       `json:"rate_per_min,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Stats is the per-provider runtime summary.
type Stats struct {
	ID           string            `json:"id"`
	Enabled      bool              `json:"enabled"`
	Health       core.HealthStatus `json:"health"`
	BreakerState core.CircuitState `json:"breaker_state"`
	SuccessRate  float64           `json:"success_rate"`
	AvgLatency   time.Duration     `json:"avg_latency"`
	Samples      int               `json:"samples"`
}

// PoolConfig tunes dispatch.
type PoolConfig struct {
	Timeout       time.Duration // per external call, default 5s
	HedgedDelay   time.Duration // delay before hedging to the next provider
	MaxConcurrent int           // hedged branches per request, default 3
	Logger        core.Logger
	Telemetry     core.Telemetry
}

type poolEntry struct {
	provider Provider
	record   Record
	breaker  *core.CircuitBreaker
	window   *healthWindow
	bucket   *rate.Limiter
}

// Pool dispatches external queries across registered providers.
type Pool struct {
	mu      sync.RWMutex
	entries map[string]*poolEntry
	cfg     PoolConfig
	logger  core.Logger
	tel     core.Telemetry
}

// NewPool creates an empty pool.
func NewPool(cfg PoolConfig) *Pool {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.HedgedDelay <= 0 {
		cfg.HedgedDelay = 200 * time.Millisecond
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = &core.NoOpLogger{}
	}
	if cfg.Telemetry == nil {
		cfg.Telemetry = &core.NoOpTelemetry{}
	}
	return &Pool{
		entries: make(map[string]*poolEntry),
		cfg:     cfg,
		logger:  cfg.Logger,
		tel:     cfg.Telemetry,
	}
}

// Register adds a provider with its record. Re-registering an id replaces
// the implementation but keeps runtime state.
func (p *Pool) Register(prov Provider, rec Record) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec.ID = prov.ID()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	rec.UpdatedAt = time.Now()

	if existing, ok := p.entries[rec.ID]; ok {
		existing.provider = prov
		existing.record = rec
		return
	}

	bucket := rate.NewLimiter(rate.Inf, 1)
	if rec.RatePerMin > 0 {
		bucket = rate.NewLimiter(rate.Limit(float64(rec.RatePerMin)/60.0), rec.RatePerMin)
	}
	p.entries[rec.ID] = &poolEntry{
		provider: prov,
		record:   rec,
		breaker: core.NewCircuitBreaker(core.BreakerConfig{
			Name:   "provider_" + rec.ID,
			Logger: p.logger,
		}),
		window: newHealthWindow(),
		bucket: bucket,
	}
}

// Unregister removes a provider and its runtime state.
func (p *Pool) Unregister(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.entries[id]; !ok {
		return fmt.Errorf("%w: provider %s", core.ErrNotFound, id)
	}
	delete(p.entries, id)
	return nil
}

// SetEnabled flips a provider on or off.
func (p *Pool) SetEnabled(id string, enabled bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[id]
	if !ok {
		return fmt.Errorf("%w: provider %s", core.ErrNotFound, id)
	}
	e.record.Enabled = enabled
	e.record.UpdatedAt = time.Now()
	return nil
}

// SetPriorities reorders dispatch. Unlisted providers keep their priority.
func (p *Pool) SetPriorities(order []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, id := range order {
		if e, ok := p.entries[id]; ok {
			e.record.Priority = i
			e.record.UpdatedAt = time.Now()
		}
	}
}

// Records lists provider records ordered by priority.
func (p *Pool) Records() []Record {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Record, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, e.record)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

// ProviderStats summarizes runtime state per provider, priority order.
func (p *Pool) ProviderStats() []Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Stats, 0, len(p.entries))
	for _, e := range p.entries {
		successRate, avgLatency, samples := e.window.stats()
		out = append(out, Stats{
			ID:           e.record.ID,
			Enabled:      e.record.Enabled,
			Health:       e.window.status(),
			BreakerState: e.breaker.State(),
			SuccessRate:  successRate,
			AvgLatency:   avgLatency,
			Samples:      samples,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// TestConnection runs a canary query against one provider, bypassing the
// breaker so admins can probe an open provider.
func (p *Pool) TestConnection(ctx context.Context, id string) error {
	p.mu.RLock()
	e, ok := p.entries[id]
	p.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: provider %s", core.ErrNotFound, id)
	}
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()
	_, err := e.provider.Search(callCtx, Query{Text: "connectivity probe", Limit: 1})
	return err
}

// candidates returns dispatchable entries: enabled, breaker allowing, rate
// budget available. Preferred ids are honored in order; otherwise priority
// order applies.
func (p *Pool) candidates(preferred []string) []*poolEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var ordered []*poolEntry
	if len(preferred) > 0 {
		for _, id := range preferred {
			if e, ok := p.entries[id]; ok {
				ordered = append(ordered, e)
			}
		}
	} else {
		for _, e := range p.entries {
			ordered = append(ordered, e)
		}
		sort.Slice(ordered, func(i, j int) bool { return ordered[i].record.Priority < ordered[j].record.Priority })
	}

	out := ordered[:0]
	for _, e := range ordered {
		if !e.record.Enabled {
			continue
		}
		if !e.breaker.Allow() {
			p.tel.RecordMetric("provider.skipped_open", 1, map[string]string{"provider": e.record.ID})
			continue
		}
		if !e.bucket.Allow() {
			p.tel.RecordMetric("provider.rate_limited", 1, map[string]string{"provider": e.record.ID})
			continue
		}
		out = append(out, e)
	}
	return out
}

type dispatchResult struct {
	hits []core.SearchResult
	id   string
	err  error
}

// Search dispatches the query. The first provider runs immediately; after
// the hedged delay without a response the next candidate is dispatched too,
// up to the concurrency cap. The first success wins and cancels the rest.
func (p *Pool) Search(ctx context.Context, q Query, preferred []string) ([]core.SearchResult, string, error) {
	candidates := p.candidates(preferred)
	if len(candidates) == 0 {
		return nil, "", core.ErrProviderUnavailable
	}
	if len(candidates) > p.cfg.MaxConcurrent {
		candidates = candidates[:p.cfg.MaxConcurrent]
	}

	dispatchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch := make(chan dispatchResult, len(candidates))
	launch := func(e *poolEntry) {
		go func() {
			callCtx, callCancel := context.WithTimeout(dispatchCtx, p.cfg.Timeout)
			defer callCancel()

			start := time.Now()
			hits, err := e.provider.Search(callCtx, q)
			latency := time.Since(start)

			e.breaker.Record(err)
			e.window.record(err == nil, latency)
			p.tel.RecordMetric("provider.call_duration_ms", float64(latency.Milliseconds()), map[string]string{
				"provider": e.record.ID,
			})
			if err != nil {
				ch <- dispatchResult{id: e.record.ID, err: err}
				return
			}
			for i := range hits {
				Normalize(&hits[i], e.record.ID)
			}
			ch <- dispatchResult{hits: hits, id: e.record.ID}
		}()
	}

	hedge := time.NewTimer(p.cfg.HedgedDelay)
	defer hedge.Stop()

	launch(candidates[0])
	next := 1
	outstanding := 1
	var firstErr error

	for {
		select {
		case r := <-ch:
			outstanding--
			if r.err == nil {
				p.tel.RecordMetric("provider.wins", 1, map[string]string{"provider": r.id})
				return r.hits, r.id, nil
			}
			if firstErr == nil {
				firstErr = r.err
			}
			p.logger.Warn("Provider call failed", map[string]interface{}{
				"operation": "provider_dispatch",
				"provider":  r.id,
				"error":     r.err.Error(),
			})
			// Fail fast to the next candidate rather than waiting for the
			// hedge timer.
			if next < len(candidates) {
				launch(candidates[next])
				next++
				outstanding++
			} else if outstanding == 0 {
				return nil, "", fmt.Errorf("%w: all providers failed: %v", core.ErrProviderUnavailable, firstErr)
			}
		case <-hedge.C:
			if next < len(candidates) {
				p.tel.RecordMetric("provider.hedged", 1, map[string]string{"provider": candidates[next].record.ID})
				launch(candidates[next])
				next++
				outstanding++
				hedge.Reset(p.cfg.HedgedDelay)
			}
		case <-ctx.Done():
			return nil, "", fmt.Errorf("external search cancelled: %w", ctx.Err())
		}
	}
}
