package provider

import (
	"sync"
	"time"

	"github.com/docsift/docsift/core"
)

// outcome is one completed provider call.
type outcome struct {
	ok      bool
	latency time.Duration
	at      time.Time
}

// healthWindow classifies a provider from its last N outcomes.
type healthWindow struct {
	mu       sync.Mutex
	outcomes []outcome
	next     int
	filled   bool
}

const healthWindowSize = 20

func newHealthWindow() *healthWindow {
	return &healthWindow{outcomes: make([]outcome, healthWindowSize)}
}

func (w *healthWindow) record(ok bool, latency time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.outcomes[w.next] = outcome{ok: ok, latency: latency, at: time.Now()}
	w.next = (w.next + 1) % len(w.outcomes)
	if w.next == 0 {
		w.filled = true
	}
}

// status classifies the window: failure rate below 10% is healthy, below 50%
// degraded, otherwise unhealthy. An empty window is unknown.
func (w *healthWindow) status() core.HealthStatus {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := w.next
	if w.filled {
		n = len(w.outcomes)
	}
	if n == 0 {
		return core.HealthUnknown
	}
	failures := 0
	for i := 0; i < n; i++ {
		if !w.outcomes[i].ok {
			failures++
		}
	}
	rate := float64(failures) / float64(n)
	switch {
	case rate < 0.1:
		return core.HealthHealthy
	case rate < 0.5:
		return core.HealthDegraded
	default:
		return core.HealthUnhealthy
	}
}

// stats summarizes the window for the admin surface and ProviderSelection.
func (w *healthWindow) stats() (successRate float64, avgLatency time.Duration, samples int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := w.next
	if w.filled {
		n = len(w.outcomes)
	}
	if n == 0 {
		return 0, 0, 0
	}
	ok := 0
	var total time.Duration
	for i := 0; i < n; i++ {
		if w.outcomes[i].ok {
			ok++
		}
		total += w.outcomes[i].latency
	}
	return float64(ok) / float64(n), total / time.Duration(n), n
}
