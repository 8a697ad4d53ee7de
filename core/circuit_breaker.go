// Package core provides the shared contracts of the documentation cache.
// This file implements the consecutive-failure circuit breaker used around
// the result cache backend and each external provider.
//
// States:
//  1. Closed: normal operation, calls pass through
//  2. Open: failure threshold exceeded, calls fail immediately
//  3. Half-Open: recovery window elapsed, one probe allowed
//
// The open window grows exponentially (initial 2s, doubling, capped at 30s)
// and resets together with the failure counter on the first half-open success.
package core

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// CircuitState represents the state of the circuit breaker
type CircuitState int

const (
	// StateClosed allows all requests through
	StateClosed CircuitState = iota
	// StateOpen blocks all requests
	StateOpen
	// StateHalfOpen allows a single probe request
	StateHalfOpen
)

// String returns the string representation of the state
func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures a CircuitBreaker.
type BreakerConfig struct {
	// Name identifies the breaker in logs and metric events
	Name string
	// FailureThreshold is the consecutive-failure count that opens the breaker
	FailureThreshold int
	// InitialBackoff is the first open window
	InitialBackoff time.Duration
	// MaxBackoff caps the doubling open window
	MaxBackoff time.Duration
	// Logger for state transitions (optional)
	Logger Logger
	// OnStateChange is invoked on every transition (optional)
	OnStateChange func(name string, from, to CircuitState)
}

// DefaultBreakerConfig returns the documented defaults.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		FailureThreshold: 3,
		InitialBackoff:   2 * time.Second,
		MaxBackoff:       30 * time.Second,
	}
}

// CircuitBreaker guards a flaky dependency with consecutive-failure counting
// and an exponential recovery window.
type CircuitBreaker struct {
	cfg    BreakerConfig
	logger Logger

	mu           sync.Mutex
	state        CircuitState
	failures     int
	openedAt     time.Time
	openWindow   time.Duration
	backoff      *backoff.ExponentialBackOff
	transitions  int64
	rejected     int64
	totalFail    int64
	totalSuccess int64

	// clock is swappable for tests
	now func() time.Time
}

// NewCircuitBreaker creates a breaker in the closed state.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 2 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = &NoOpLogger{}
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialBackoff
	b.MaxInterval = cfg.MaxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return &CircuitBreaker{
		cfg:     cfg,
		logger:  logger,
		state:   StateClosed,
		backoff: b,
		now:     time.Now,
	}
}

// Execute runs fn under breaker protection. While open it returns
// ErrCircuitOpen without invoking fn.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if !cb.Allow() {
		return ErrCircuitOpen
	}
	err := fn()
	cb.Record(err)
	return err
}

// Allow reports whether a call may proceed and moves an expired open window
// into half-open.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if cb.now().Sub(cb.openedAt) >= cb.openWindow {
			cb.transition(StateHalfOpen)
			return true
		}
		cb.rejected++
		return false
	}
	return false
}

// Record feeds a call outcome into the breaker.
func (cb *CircuitBreaker) Record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		cb.totalSuccess++
		if cb.state == StateHalfOpen {
			cb.failures = 0
			cb.backoff.Reset()
			cb.transition(StateClosed)
			return
		}
		cb.failures = 0
		return
	}

	cb.totalFail++
	cb.failures++
	if cb.state == StateHalfOpen {
		cb.open()
		return
	}
	if cb.state == StateClosed && cb.failures >= cb.cfg.FailureThreshold {
		cb.open()
	}
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.openWindow {
		return StateHalfOpen
	}
	return cb.state
}

// Metrics returns counters for monitoring.
func (cb *CircuitBreaker) Metrics() map[string]interface{} {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return map[string]interface{}{
		"state":       cb.state.String(),
		"failures":    cb.failures,
		"transitions": cb.transitions,
		"rejected":    cb.rejected,
		"successes":   cb.totalSuccess,
		"errors":      cb.totalFail,
		"open_window": cb.openWindow.String(),
	}
}

// Reset manually closes the breaker and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.backoff.Reset()
	if cb.state != StateClosed {
		cb.transition(StateClosed)
	}
}

// SetClock overrides the breaker clock. Tests only.
func (cb *CircuitBreaker) SetClock(now func() time.Time) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.now = now
}

func (cb *CircuitBreaker) open() {
	cb.openedAt = cb.now()
	cb.openWindow = cb.backoff.NextBackOff()
	cb.transition(StateOpen)
}

// transition must be called with cb.mu held.
func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.transitions++
	cb.logger.Info("Circuit breaker state change", map[string]interface{}{
		"operation": "circuit_transition",
		"breaker":   cb.cfg.Name,
		"from":      from.String(),
		"to":        to.String(),
		"failures":  cb.failures,
		"window_ms": cb.openWindow.Milliseconds(),
	})
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, from, to)
	}
}
