package admission

import (
	"sort"
	"sync"
	"time"

	"github.com/docsift/docsift/core"
)

// QueueStats is the observable snapshot consumed by admin and health
// endpoints.
type QueueStats struct {
	Depth           int                    `json:"depth"`
	DepthByPriority map[string]int         `json:"depth_by_priority"`
	WaitAvg         time.Duration          `json:"wait_avg"`
	WaitP50         time.Duration          `json:"wait_p50"`
	WaitP95         time.Duration          `json:"wait_p95"`
	WaitP99         time.Duration          `json:"wait_p99"`
	Overflow1m      int64                  `json:"overflow_1m"`
	Overflow1h      int64                  `json:"overflow_1h"`
	RateLimitHits1m int64                  `json:"rate_limit_hits_1m"`
	RateLimitHits1h int64                  `json:"rate_limit_hits_1h"`
	Expired         int64                  `json:"expired"`
	TopUsers        []DistributionEntry    `json:"top_users"`
	TopWorkspaces   []DistributionEntry    `json:"top_workspaces"`
}

// DistributionEntry is one row of a top-N distribution.
type DistributionEntry struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

const waitSampleSize = 512

// queueStats accumulates counters under its own lock; updates are
// constant-time so the lock is never held across a suspension.
type queueStats struct {
	mu sync.Mutex

	depthByPriority map[core.Priority]int
	waitSamples     []time.Duration
	waitNext        int
	waitTotal       time.Duration
	waitCount       int64
	expired         int64

	overflow   *windowCounter
	rateLimits *windowCounter

	userWaiting    map[string]int
	userTotals     map[string]int64
	workspaceTotal map[string]int64
}

func newQueueStats() *queueStats {
	return &queueStats{
		depthByPriority: make(map[core.Priority]int),
		waitSamples:     make([]time.Duration, 0, waitSampleSize),
		overflow:        newWindowCounter(),
		rateLimits:      newWindowCounter(),
		userWaiting:     make(map[string]int),
		userTotals:      make(map[string]int64),
		workspaceTotal:  make(map[string]int64),
	}
}

func (s *queueStats) recordDepth(p core.Priority, delta int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.depthByPriority[p] += delta
	if s.depthByPriority[p] < 0 {
		s.depthByPriority[p] = 0
	}
}

func (s *queueStats) recordWait(wait time.Duration, req *core.SearchRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.waitSamples) < waitSampleSize {
		s.waitSamples = append(s.waitSamples, wait)
	} else {
		s.waitSamples[s.waitNext] = wait
		s.waitNext = (s.waitNext + 1) % waitSampleSize
	}
	s.waitTotal += wait
	s.waitCount++
	if req != nil {
		s.userTotals[req.User.UserID]++
		for _, ws := range req.User.Workspaces {
			s.workspaceTotal[ws]++
		}
	}
}

func (s *queueStats) recordOverflow() {
	s.overflow.incr()
}

func (s *queueStats) recordRateLimit() {
	s.rateLimits.incr()
}

func (s *queueStats) recordExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expired++
}

func (s *queueStats) recordWaiting(userID string, delta int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userWaiting[userID] += delta
	if s.userWaiting[userID] <= 0 {
		delete(s.userWaiting, userID)
	}
}

func (s *queueStats) waitingFor(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userWaiting[userID]
}

func (s *queueStats) snapshot(depth int) QueueStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := QueueStats{
		Depth:           depth,
		DepthByPriority: make(map[string]int, len(s.depthByPriority)),
		Expired:         s.expired,
	}
	for p, n := range s.depthByPriority {
		out.DepthByPriority[p.String()] = n
	}
	if s.waitCount > 0 {
		out.WaitAvg = s.waitTotal / time.Duration(s.waitCount)
	}
	if len(s.waitSamples) > 0 {
		sorted := append([]time.Duration(nil), s.waitSamples...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		out.WaitP50 = percentile(sorted, 0.50)
		out.WaitP95 = percentile(sorted, 0.95)
		out.WaitP99 = percentile(sorted, 0.99)
	}
	out.Overflow1m, out.Overflow1h = s.overflow.counts()
	out.RateLimitHits1m, out.RateLimitHits1h = s.rateLimits.counts()
	out.TopUsers = topN(s.userTotals, 10)
	out.TopWorkspaces = topN(s.workspaceTotal, 10)
	return out
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}

func topN(totals map[string]int64, n int) []DistributionEntry {
	entries := make([]DistributionEntry, 0, len(totals))
	for k, v := range totals {
		entries = append(entries, DistributionEntry{Key: k, Count: v})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].Key < entries[j].Key
	})
	if len(entries) > n {
		entries = entries[:n]
	}
	return entries
}

// windowCounter tracks events over 1-minute and 1-hour sliding windows using
// per-second and per-minute buckets.
type windowCounter struct {
	mu      sync.Mutex
	seconds [60]int64
	minutes [60]int64
	lastSec int64
	lastMin int64
}

func newWindowCounter() *windowCounter {
	now := time.Now()
	return &windowCounter{
		lastSec: now.Unix(),
		lastMin: now.Unix() / 60,
	}
}

func (w *windowCounter) incr() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.advance(time.Now())
	w.seconds[w.lastSec%60]++
	w.minutes[w.lastMin%60]++
}

func (w *windowCounter) counts() (lastMinute, lastHour int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.advance(time.Now())
	for _, n := range w.seconds {
		lastMinute += n
	}
	for _, n := range w.minutes {
		lastHour += n
	}
	return lastMinute, lastHour
}

// advance zeroes buckets skipped since the last event.
func (w *windowCounter) advance(now time.Time) {
	sec := now.Unix()
	for s := w.lastSec + 1; s <= sec && s-w.lastSec <= 60; s++ {
		w.seconds[s%60] = 0
	}
	if sec-w.lastSec > 60 {
		w.seconds = [60]int64{}
	}
	w.lastSec = sec

	min := sec / 60
	for m := w.lastMin + 1; m <= min && m-w.lastMin <= 60; m++ {
		w.minutes[m%60] = 0
	}
	if min-w.lastMin > 60 {
		w.minutes = [60]int64{}
	}
	w.lastMin = min
}
