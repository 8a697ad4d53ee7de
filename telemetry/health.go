package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/docsift/docsift/core"
)

// LeafHealth is one collaborator's health check outcome.
type LeafHealth struct {
	Name    string            `json:"name"`
	Status  core.HealthStatus `json:"status"`
	Error   string            `json:"error,omitempty"`
	Latency time.Duration     `json:"latency"`
}

// AggregatedHealth is the overall report.
type AggregatedHealth struct {
	Status    core.HealthStatus `json:"status"`
	Leaves    []LeafHealth      `json:"leaves"`
	CheckedAt time.Time         `json:"checked_at"`
}

// HealthAggregator probes every registered collaborator in parallel with a
// per-leaf ceiling. One unhealthy leaf degrades the overall status; two or
// more make it unhealthy.
type HealthAggregator struct {
	mu      sync.RWMutex
	leaves  []core.HealthChecker
	ceiling time.Duration
	logger  core.Logger
}

func NewHealthAggregator(logger core.Logger, leaves ...core.HealthChecker) *HealthAggregator {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &HealthAggregator{
		leaves:  leaves,
		ceiling: time.Second,
		logger:  logger,
	}
}

// Register adds a collaborator to the health check.
func (h *HealthAggregator) Register(leaf core.HealthChecker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaves = append(h.leaves, leaf)
}

// Check probes every leaf and aggregates.
func (h *HealthAggregator) Check(ctx context.Context) AggregatedHealth {
	h.mu.RLock()
	leaves := append([]core.HealthChecker(nil), h.leaves...)
	h.mu.RUnlock()

	results := make([]LeafHealth, len(leaves))
	var wg sync.WaitGroup
	for i, leaf := range leaves {
		wg.Add(1)
		go func(i int, leaf core.HealthChecker) {
			defer wg.Done()
			results[i] = h.probe(ctx, leaf)
		}(i, leaf)
	}
	wg.Wait()

	unhealthy := 0
	for _, r := range results {
		if r.Status == core.HealthUnhealthy {
			unhealthy++
		}
	}
	status := core.HealthHealthy
	switch {
	case unhealthy >= 2:
		status = core.HealthUnhealthy
	case unhealthy == 1:
		status = core.HealthDegraded
	}

	if status != core.HealthHealthy {
		h.logger.Warn("Health degraded", map[string]interface{}{
			"operation":       "health_check",
			"status":          string(status),
			"unhealthy_count": unhealthy,
		})
	}
	return AggregatedHealth{Status: status, Leaves: results, CheckedAt: time.Now()}
}

// probe runs one leaf check under the 1-second ceiling. A check that
// overruns the ceiling counts as unhealthy.
func (h *HealthAggregator) probe(ctx context.Context, leaf core.HealthChecker) LeafHealth {
	probeCtx, cancel := context.WithTimeout(ctx, h.ceiling)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- leaf.HealthCheck(probeCtx)
	}()

	select {
	case err := <-done:
		lh := LeafHealth{Name: leaf.Name(), Status: core.HealthHealthy, Latency: time.Since(start)}
		if err != nil {
			lh.Status = core.HealthUnhealthy
			lh.Error = err.Error()
		}
		return lh
	case <-probeCtx.Done():
		return LeafHealth{
			Name:    leaf.Name(),
			Status:  core.HealthUnhealthy,
			Error:   "health check timed out",
			Latency: time.Since(start),
		}
	}
}
