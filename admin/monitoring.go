package admin

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/docsift/docsift/admission"
	"github.com/docsift/docsift/cache"
	"github.com/docsift/docsift/provider"
)

// Range names a monitoring aggregation window.
type Range string

const (
	Range1h  Range = "1h"
	Range6h  Range = "6h"
	Range24h Range = "24h"
	Range7d  Range = "7d"
	Range30d Range = "30d"
)

// Ranges lists the supported aggregation windows.
var Ranges = []Range{Range1h, Range6h, Range24h, Range7d, Range30d}

// Duration returns the window length.
func (r Range) Duration() (time.Duration, error) {
	switch r {
	case Range1h:
		return time.Hour, nil
	case Range6h:
		return 6 * time.Hour, nil
	case Range24h:
		return 24 * time.Hour, nil
	case Range7d:
		return 7 * 24 * time.Hour, nil
	case Range30d:
		return 30 * 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("unknown range %q", r)
}

// sample is one recorded search outcome.
type sample struct {
	at        time.Time
	latencyMs float64
	cacheHit  bool
	external  bool
	failed    bool
	fallback  bool
}

// Report is one window's aggregate view.
type Report struct {
	Range        Range                `json:"range"`
	Searches     int                  `json:"searches"`
	Failures     int                  `json:"failures"`
	CacheHitRate float64              `json:"cache_hit_rate"`
	ExternalRate float64              `json:"external_rate"`
	FallbackRate float64              `json:"fallback_rate"`
	AvgLatencyMs float64              `json:"avg_latency_ms"`
	P95LatencyMs float64              `json:"p95_latency_ms"`
	Queue        admission.QueueStats `json:"queue"`
	Cache        cache.Stats          `json:"cache"`
	Providers    []provider.Stats     `json:"providers"`
	GeneratedAt  time.Time            `json:"generated_at"`
}

// Monitoring aggregates search outcomes over the supported ranges and folds
// in live queue, cache, and provider snapshots. Samples older than the
// longest range are dropped on write.
type Monitoring struct {
	mu      sync.Mutex
	samples []sample

	controller *admission.Controller
	cache      cache.ResultCache
	providers  *provider.Pool
}

func NewMonitoring(controller *admission.Controller, resultCache cache.ResultCache, providers *provider.Pool) *Monitoring {
	return &Monitoring{
		controller: controller,
		cache:      resultCache,
		providers:  providers,
	}
}

// RecordSearch feeds one completed (or failed) search into the aggregates.
func (m *Monitoring) RecordSearch(latency time.Duration, cacheHit, external, failed, fallback bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, sample{
		at:        time.Now(),
		latencyMs: float64(latency.Milliseconds()),
		cacheHit:  cacheHit,
		external:  external,
		failed:    failed,
		fallback:  fallback,
	})
	m.compact()
}

// Report aggregates the named range.
func (m *Monitoring) Report(r Range) (*Report, error) {
	window, err := r.Duration()
	if err != nil {
		return nil, err
	}
	cutoff := time.Now().Add(-window)

	m.mu.Lock()
	var inWindow []sample
	for _, s := range m.samples {
		if s.at.After(cutoff) {
			inWindow = append(inWindow, s)
		}
	}
	m.mu.Unlock()

	report := &Report{Range: r, GeneratedAt: time.Now()}
	report.Searches = len(inWindow)
	if len(inWindow) > 0 {
		var hits, external, failed, fallback int
		latencies := make([]float64, 0, len(inWindow))
		var latencySum float64
		for _, s := range inWindow {
			if s.cacheHit {
				hits++
			}
			if s.external {
				external++
			}
			if s.failed {
				failed++
			}
			if s.fallback {
				fallback++
			}
			latencies = append(latencies, s.latencyMs)
			latencySum += s.latencyMs
		}
		n := float64(len(inWindow))
		report.Failures = failed
		report.CacheHitRate = float64(hits) / n
		report.ExternalRate = float64(external) / n
		report.FallbackRate = float64(fallback) / n
		report.AvgLatencyMs = latencySum / n
		report.P95LatencyMs = percentile(latencies, 0.95)
	}

	if m.controller != nil {
		report.Queue = m.controller.Stats()
	}
	if m.cache != nil {
		report.Cache = m.cache.Stats()
	}
	if m.providers != nil {
		report.Providers = m.providers.ProviderStats()
	}
	return report, nil
}

// compact drops samples older than the 30d ceiling. Callers hold the lock.
func (m *Monitoring) compact() {
	cutoff := time.Now().Add(-30 * 24 * time.Hour)
	drop := 0
	for drop < len(m.samples) && m.samples[drop].at.Before(cutoff) {
		drop++
	}
	if drop > 0 {
		m.samples = append([]sample(nil), m.samples[drop:]...)
	}
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}
