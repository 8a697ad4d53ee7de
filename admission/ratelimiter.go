// Package admission implements the rate limiter and priority queue that
// protect the search pipeline. Every request passes the combined
// rate-limit + queue-depth check before entering the orchestrator.
package admission

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/docsift/docsift/core"
)

// Bucket names reported in limit decisions.
const (
	BucketUser      = "user"
	BucketWorkspace = "workspace"
	BucketGlobal    = "global"
)

// LimitDecision is the structured outcome of an admission rate check.
type LimitDecision struct {
	Allowed    bool          `json:"allowed"`
	Bucket     string        `json:"bucket,omitempty"`      // which bucket denied
	BucketKey  string        `json:"bucket_key,omitempty"`  // user/workspace id
	RetryAfter time.Duration `json:"retry_after,omitempty"` // non-negative
}

// RateLimiter runs three concurrent token bucket families: per-user,
// per-workspace, and global. Any exhausted bucket denies admission. The
// limiter is the sole mutator of UserContext request counters.
type RateLimiter struct {
	mu         sync.Mutex
	cfg        core.RateLimitConfig
	global     *rate.Limiter
	users      map[string]*rate.Limiter
	workspaces map[string]*rate.Limiter
	logger     core.Logger
}

// NewRateLimiter creates the three bucket families from configuration.
func NewRateLimiter(cfg core.RateLimitConfig, logger core.Logger) *RateLimiter {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.BurstAllowance < 1 {
		cfg.BurstAllowance = 1.2
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &RateLimiter{
		cfg:        cfg,
		global:     newBucket(cfg.GlobalRPM, cfg.Window, cfg.BurstAllowance),
		users:      make(map[string]*rate.Limiter),
		workspaces: make(map[string]*rate.Limiter),
		logger:     logger,
	}
}

func newBucket(perWindow int, window time.Duration, burstAllowance float64) *rate.Limiter {
	if perWindow <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	refill := rate.Limit(float64(perWindow) / window.Seconds())
	burst := int(float64(perWindow) * burstAllowance)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(refill, burst)
}

// Admit checks the global bucket, the user's bucket, and the bucket of every
// workspace the request touches. Denials report the limiting bucket and a
// non-negative retry-after; denial for one user is independent of others.
func (l *RateLimiter) Admit(user *core.UserContext, workspaces []string) LimitDecision {
	l.mu.Lock()
	defer l.mu.Unlock()

	if d := check(l.global, BucketGlobal, ""); !d.Allowed {
		return d
	}
	if d := check(l.userBucket(user.UserID), BucketUser, user.UserID); !d.Allowed {
		return d
	}
	for _, ws := range workspaces {
		if d := check(l.workspaceBucket(ws), BucketWorkspace, ws); !d.Allowed {
			return d
		}
	}

	user.WindowCount++
	return LimitDecision{Allowed: true}
}

// check consumes a token if one is immediately available; otherwise it
// returns the wait until the next token without consuming anything.
func check(lim *rate.Limiter, bucket, key string) LimitDecision {
	res := lim.Reserve()
	if !res.OK() {
		return LimitDecision{Bucket: bucket, BucketKey: key, RetryAfter: time.Second}
	}
	if delay := res.Delay(); delay > 0 {
		res.Cancel()
		return LimitDecision{Bucket: bucket, BucketKey: key, RetryAfter: delay}
	}
	return LimitDecision{Allowed: true}
}

func (l *RateLimiter) userBucket(userID string) *rate.Limiter {
	lim, ok := l.users[userID]
	if !ok {
		lim = newBucket(l.cfg.PerUserRPM, l.cfg.Window, l.cfg.BurstAllowance)
		l.users[userID] = lim
	}
	return lim
}

func (l *RateLimiter) workspaceBucket(workspace string) *rate.Limiter {
	lim, ok := l.workspaces[workspace]
	if !ok {
		lim = newBucket(l.cfg.PerWorkspaceRPM, l.cfg.Window, l.cfg.BurstAllowance)
		l.workspaces[workspace] = lim
	}
	return lim
}

// Reconfigure swaps bucket parameters on a hot config reload. Existing
// per-key buckets are rebuilt lazily on next use.
func (l *RateLimiter) Reconfigure(cfg core.RateLimitConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.BurstAllowance < 1 {
		cfg.BurstAllowance = 1.2
	}
	l.cfg = cfg
	l.global = newBucket(cfg.GlobalRPM, cfg.Window, cfg.BurstAllowance)
	l.users = make(map[string]*rate.Limiter)
	l.workspaces = make(map[string]*rate.Limiter)
}
