package admission

import (
	"time"

	"github.com/docsift/docsift/core"
)

// Controller is the combined admission check: rate limits first, queue
// capacity second. A request that clears both holds a queue entry until a
// worker slot picks it up.
type Controller struct {
	limiter   *RateLimiter
	queue     *PriorityQueue
	logger    core.Logger
	telemetry core.Telemetry
}

// NewController wires the limiter and queue into one entry point.
func NewController(limiter *RateLimiter, queue *PriorityQueue, logger core.Logger, telemetry core.Telemetry) *Controller {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if telemetry == nil {
		telemetry = &core.NoOpTelemetry{}
	}
	return &Controller{
		limiter:   limiter,
		queue:     queue,
		logger:    logger,
		telemetry: telemetry,
	}
}

// Admit runs the rate check and then enqueues. Rate denials return
// ErrRateLimitExceeded together with the limiting bucket and retry-after; a
// full queue returns ErrQueueOverflow.
func (c *Controller) Admit(req *core.SearchRequest) (*QueueEntry, LimitDecision, error) {
	decision := c.limiter.Admit(&req.User, req.User.Workspaces)
	if !decision.Allowed {
		c.queue.RecordRateLimitHit()
		c.telemetry.RecordMetric("admission.rate_limited", 1, map[string]string{
			"bucket": decision.Bucket,
		})
		c.logger.Warn("Rate limit exceeded", map[string]interface{}{
			"operation":   "admission",
			"user_id":     req.User.UserID,
			"bucket":      decision.Bucket,
			"bucket_key":  decision.BucketKey,
			"retry_after": decision.RetryAfter.String(),
		})
		return nil, decision, core.ErrRateLimitExceeded
	}

	entry, err := c.queue.Enqueue(req, PriorityFor(&req.User, req))
	if err != nil {
		c.telemetry.RecordMetric("admission.queue_overflow", 1, nil)
		return nil, decision, err
	}
	c.telemetry.RecordMetric("admission.enqueued", 1, map[string]string{
		"priority": entry.Priority.String(),
	})
	return entry, decision, nil
}

// Overloaded reports whether the queue crossed its high-water mark. Callers
// translate this into a degraded/overloaded status rather than accepting work
// that will expire before it runs.
func (c *Controller) Overloaded() bool {
	return c.queue.Overloaded()
}

// Stats exposes the queue snapshot for the admin surface.
func (c *Controller) Stats() QueueStats {
	return c.queue.Stats()
}

// Reconfigure applies a hot config reload to the rate limiter.
func (c *Controller) Reconfigure(cfg core.RateLimitConfig) {
	c.limiter.Reconfigure(cfg)
}

// PriorityFor derives queue priority from the priority score (0..10) and the
// user's rate-limit tier. A non-zero score wins; otherwise the tier decides.
func PriorityFor(user *core.UserContext, req *core.SearchRequest) core.Priority {
	if req != nil && req.PriorityScore > 0 {
		switch {
		case req.PriorityScore >= 9:
			return core.PriorityCritical
		case req.PriorityScore >= 7:
			return core.PriorityHigh
		case req.PriorityScore >= 4:
			return core.PriorityNormal
		case req.PriorityScore >= 2:
			return core.PriorityLow
		default:
			return core.PriorityBatch
		}
	}
	switch user.RateLimitTier {
	case "enterprise":
		return core.PriorityHigh
	case "batch":
		return core.PriorityBatch
	default:
		return core.PriorityNormal
	}
}

// Leave removes an admitted entry from the queue, typically right after the
// caller obtained a worker slot.
func (c *Controller) Leave(entry *QueueEntry) {
	if entry != nil {
		c.queue.Remove(entry.QueueID)
	}
}

// WaitForSlot blocks until a worker slot frees up or the timeout elapses.
func (c *Controller) WaitForSlot(timeout time.Duration) bool {
	if c.queue.TryAcquire() {
		return true
	}
	deadline := make(chan struct{})
	timer := time.AfterFunc(timeout, func() { close(deadline) })
	defer timer.Stop()
	return c.queue.Acquire(deadline)
}

// ReleaseSlot frees a worker slot taken by WaitForSlot.
func (c *Controller) ReleaseSlot() {
	c.queue.Release()
}
