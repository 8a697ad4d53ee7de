package admission

import (
	"container/heap"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/docsift/docsift/core"
)

// OrderingStrategy selects the dequeue order of the admission queue.
type OrderingStrategy string

const (
	// OrderPriorityAge dequeues by (priority, enqueue time). Default.
	OrderPriorityAge OrderingStrategy = "priority_age"
	// OrderFairShare balances across users before priority.
	OrderFairShare OrderingStrategy = "fair_share"
	// OrderDeadlineFirst dequeues the entry closest to expiry first.
	OrderDeadlineFirst OrderingStrategy = "deadline_first"
)

// QueueEntry is one admitted request waiting for a worker slot.
type QueueEntry struct {
	QueueID    string
	Request    *core.SearchRequest
	Priority   core.Priority
	EnqueuedAt time.Time

	index int // heap index
}

// QueueConfig bounds the priority queue.
type QueueConfig struct {
	MaxDepth       int
	MaxConcurrent  int
	Timeout        time.Duration
	HighWaterRatio float64
	Ordering       OrderingStrategy
	Logger         core.Logger
	// OnExpired is invoked for entries dropped after Timeout (optional)
	OnExpired func(*QueueEntry)
}

// PriorityQueue is the admission queue. Ordering is (priority, enqueue time)
// lexicographic under the default strategy; entries older than the queue
// timeout expire; enqueue beyond MaxDepth fails with ErrQueueOverflow.
type PriorityQueue struct {
	mu      sync.Mutex
	cfg     QueueConfig
	entries entryHeap
	paused  bool
	logger  core.Logger

	// worker slots bound in-flight concurrency
	slots chan struct{}

	stats *queueStats
}

// NewPriorityQueue creates the queue with defaults applied.
func NewPriorityQueue(cfg QueueConfig) *PriorityQueue {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 100
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 20
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 300 * time.Second
	}
	if cfg.HighWaterRatio <= 0 || cfg.HighWaterRatio > 1 {
		cfg.HighWaterRatio = 0.8
	}
	if cfg.Ordering == "" {
		cfg.Ordering = OrderPriorityAge
	}
	if cfg.Logger == nil {
		cfg.Logger = &core.NoOpLogger{}
	}
	q := &PriorityQueue{
		cfg:    cfg,
		logger: cfg.Logger,
		slots:  make(chan struct{}, cfg.MaxConcurrent),
		stats:  newQueueStats(),
	}
	q.entries = entryHeap{less: q.lessFor(cfg.Ordering)}
	return q
}

// Enqueue admits an entry. It fails with ErrQueueOverflow at MaxDepth.
// A paused queue still accepts entries; only dequeuing halts.
func (q *PriorityQueue) Enqueue(req *core.SearchRequest, priority core.Priority) (*QueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries.items) >= q.cfg.MaxDepth {
		q.stats.recordOverflow()
		q.logger.Warn("Queue overflow", map[string]interface{}{
			"operation": "queue_enqueue",
			"depth":     len(q.entries.items),
			"max_depth": q.cfg.MaxDepth,
		})
		return nil, core.ErrQueueOverflow
	}

	entry := &QueueEntry{
		QueueID:    uuid.NewString(),
		Request:    req,
		Priority:   priority,
		EnqueuedAt: time.Now(),
	}
	req.EnqueuedAt = entry.EnqueuedAt
	heap.Push(&q.entries, entry)
	q.stats.recordDepth(priority, 1)
	q.stats.recordWaiting(req.User.UserID, 1)
	return entry, nil
}

// Dequeue returns the next entry per the ordering strategy, dropping expired
// entries on the way. It returns (nil, false) when the queue is paused or
// empty.
func (q *PriorityQueue) Dequeue() (*QueueEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.paused {
		return nil, false
	}

	now := time.Now()
	for q.entries.Len() > 0 {
		entry := heap.Pop(&q.entries).(*QueueEntry)
		q.stats.recordDepth(entry.Priority, -1)
		q.stats.recordWaiting(entry.Request.User.UserID, -1)
		if now.Sub(entry.EnqueuedAt) > q.cfg.Timeout {
			q.stats.recordExpired()
			q.logger.Warn("Queue entry expired", map[string]interface{}{
				"operation": "queue_expire",
				"queue_id":  entry.QueueID,
				"waited":    now.Sub(entry.EnqueuedAt).String(),
			})
			if q.cfg.OnExpired != nil {
				q.cfg.OnExpired(entry)
			}
			continue
		}
		q.stats.recordWait(now.Sub(entry.EnqueuedAt), entry.Request)
		return entry, true
	}
	return nil, false
}

// Remove pulls a specific entry out of the queue, recording its wait as
// served. Callers that obtained a worker slot use it to leave the line.
func (q *PriorityQueue) Remove(queueID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, e := range q.entries.items {
		if e.QueueID == queueID {
			heap.Remove(&q.entries, i)
			q.stats.recordDepth(e.Priority, -1)
			q.stats.recordWaiting(e.Request.User.UserID, -1)
			q.stats.recordWait(time.Since(e.EnqueuedAt), e.Request)
			return true
		}
	}
	return false
}

// Acquire blocks until a worker slot is free or the deadline passes.
// Release must be called when the request finishes.
func (q *PriorityQueue) Acquire(deadline <-chan struct{}) bool {
	select {
	case q.slots <- struct{}{}:
		return true
	case <-deadline:
		return false
	}
}

// TryAcquire takes a worker slot without blocking.
func (q *PriorityQueue) TryAcquire() bool {
	select {
	case q.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release frees a worker slot.
func (q *PriorityQueue) Release() {
	select {
	case <-q.slots:
	default:
	}
}

// Pause halts dequeuing without dropping entries.
func (q *PriorityQueue) Pause() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paused = true
}

// Resume restarts dequeuing.
func (q *PriorityQueue) Resume() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paused = false
}

// Paused reports whether dequeuing is halted.
func (q *PriorityQueue) Paused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused
}

// Clear discards entries. With a nil priority every entry is dropped;
// otherwise only matching entries are. Returns the number discarded.
func (q *PriorityQueue) Clear(priority *core.Priority) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if priority == nil {
		n := q.entries.Len()
		for _, e := range q.entries.items {
			q.stats.recordDepth(e.Priority, -1)
			q.stats.recordWaiting(e.Request.User.UserID, -1)
		}
		q.entries.items = nil
		heap.Init(&q.entries)
		return n
	}

	kept := q.entries.items[:0]
	dropped := 0
	for _, e := range q.entries.items {
		if e.Priority == *priority {
			q.stats.recordDepth(e.Priority, -1)
			q.stats.recordWaiting(e.Request.User.UserID, -1)
			dropped++
			continue
		}
		kept = append(kept, e)
	}
	q.entries.items = kept
	heap.Init(&q.entries)
	return dropped
}

// Depth returns the number of waiting entries.
func (q *PriorityQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.entries.Len()
}

// Overloaded reports whether depth crossed the high-water mark. Entry points
// translate this to an "overloaded" (503-equivalent) status.
func (q *PriorityQueue) Overloaded() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return float64(q.entries.Len()) >= q.cfg.HighWaterRatio*float64(q.cfg.MaxDepth)
}

// Stats returns a snapshot of the observable queue statistics.
func (q *PriorityQueue) Stats() QueueStats {
	q.mu.Lock()
	defth := q.entries.Len()
	q.mu.Unlock()
	return q.stats.snapshot(defth)
}

// RecordRateLimitHit feeds a rate-limit denial into the windowed counters.
func (q *PriorityQueue) RecordRateLimitHit() {
	q.stats.recordRateLimit()
}

// lessFor builds the heap comparison for the configured ordering strategy.
func (q *PriorityQueue) lessFor(strategy OrderingStrategy) func(a, b *QueueEntry) bool {
	switch strategy {
	case OrderDeadlineFirst:
		// Entries closest to expiry leave first; same deadline falls back
		// to priority.
		return func(a, b *QueueEntry) bool {
			if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
				return a.EnqueuedAt.Before(b.EnqueuedAt)
			}
			return a.Priority < b.Priority
		}
	case OrderFairShare:
		// Users with fewer waiting entries go first, then priority, then age.
		return func(a, b *QueueEntry) bool {
			ca := q.stats.waitingFor(a.Request.User.UserID)
			cb := q.stats.waitingFor(b.Request.User.UserID)
			if ca != cb {
				return ca < cb
			}
			if a.Priority != b.Priority {
				return a.Priority < b.Priority
			}
			return a.EnqueuedAt.Before(b.EnqueuedAt)
		}
	default:
		return func(a, b *QueueEntry) bool {
			if a.Priority != b.Priority {
				return a.Priority < b.Priority
			}
			return a.EnqueuedAt.Before(b.EnqueuedAt)
		}
	}
}

// entryHeap implements container/heap over queue entries.
type entryHeap struct {
	items []*QueueEntry
	less  func(a, b *QueueEntry) bool
}

func (h *entryHeap) Len() int { return len(h.items) }

func (h *entryHeap) Less(i, j int) bool { return h.less(h.items[i], h.items[j]) }

func (h *entryHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

func (h *entryHeap) Push(x interface{}) {
	entry := x.(*QueueEntry)
	entry.index = len(h.items)
	h.items = append(h.items, entry)
}

func (h *entryHeap) Pop() interface{} {
	old := h.items
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	h.items = old[:n-1]
	return entry
}
