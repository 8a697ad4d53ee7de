package core

import (
	"errors"
	"fmt"
	"time"
)

// Standard sentinel errors for comparison using errors.Is()
// These are generic errors that can be wrapped with additional context
var (
	// Validation errors
	ErrInvalidQuery     = errors.New("invalid query")
	ErrQueryTooShort    = errors.New("query too short")
	ErrQueryTooLong     = errors.New("query too long")
	ErrForbiddenCharset = errors.New("query contains forbidden characters")

	// Admission errors
	ErrQueueOverflow     = errors.New("queue overflow")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrQueuePaused       = errors.New("queue paused")

	// Timeout errors
	ErrTimeout       = errors.New("operation timeout")
	ErrSearchTimeout = errors.New("search timeout")
	ErrQueueTimeout  = errors.New("queue wait timeout")

	// Availability errors
	ErrCircuitOpen         = errors.New("circuit breaker open")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrWorkspaceDenied     = errors.New("workspace access denied")

	// Store errors
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrInvalidConfig      = errors.New("invalid configuration")
	ErrMissingConfig      = errors.New("missing required configuration")
	ErrDecisionUnparsable = errors.New("decision output unparsable")
)

// ErrorCode values used in the external error envelope.
const (
	CodeValidation          = "validation_error"
	CodeQueueOverflow       = "queue_overflow"
	CodeRateLimit           = "rate_limit_exceeded"
	CodeSearchTimeout       = "search_timeout"
	CodeProviderUnavailable = "provider_unavailable"
	CodeInternal            = "internal_error"
)

// ErrorEnvelope is the external error shape surfaced to clients.
type ErrorEnvelope struct {
	ErrorCode  string                 `json:"error_code"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	RetryAfter float64                `json:"retry_after,omitempty"`
}

// PipelineError provides structured error information with pipeline context.
// It implements the error interface and supports error wrapping.
type PipelineError struct {
	Op      string        // Operation that failed (e.g., "orchestrator.Search")
	Stage   string        // Pipeline stage (e.g., "vector_fanout")
	TraceID string        // Correlation id of the request
	Elapsed time.Duration // Time spent before the failure
	Message string        // Human-readable message
	Err     error         // Underlying error for wrapping
}

// Error returns the string representation of the error
func (e *PipelineError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.Stage != "" {
			return fmt.Sprintf("%s [stage=%s]: %v", e.Op, e.Stage, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "pipeline error"
}

// Unwrap returns the underlying error for use with errors.Is/As
func (e *PipelineError) Unwrap() error {
	return e.Err
}

// NewPipelineError creates a new PipelineError
func NewPipelineError(op, stage, traceID string, err error) *PipelineError {
	return &PipelineError{
		Op:      op,
		Stage:   stage,
		TraceID: traceID,
		Err:     err,
	}
}

// CodeForError maps an error to its external error code.
func CodeForError(err error) string {
	switch {
	case errors.Is(err, ErrInvalidQuery),
		errors.Is(err, ErrQueryTooShort),
		errors.Is(err, ErrQueryTooLong),
		errors.Is(err, ErrForbiddenCharset):
		return CodeValidation
	case errors.Is(err, ErrQueueOverflow):
		return CodeQueueOverflow
	case errors.Is(err, ErrRateLimitExceeded):
		return CodeRateLimit
	case errors.Is(err, ErrSearchTimeout),
		errors.Is(err, ErrTimeout),
		errors.Is(err, ErrQueueTimeout):
		return CodeSearchTimeout
	case errors.Is(err, ErrProviderUnavailable):
		return CodeProviderUnavailable
	default:
		return CodeInternal
	}
}

// HTTPStatusForCode maps an external error code to its HTTP status when the
// pipeline is exposed over HTTP. Transport framing itself lives outside this
// module.
func HTTPStatusForCode(code string) int {
	switch code {
	case CodeValidation:
		return 422
	case CodeRateLimit:
		return 429
	case CodeQueueOverflow:
		return 503
	case CodeSearchTimeout:
		return 504
	case CodeProviderUnavailable:
		return 502
	default:
		return 500
	}
}

// IsRetryable checks if an error is retryable after a backoff.
// Admission denials carry a retry-after hint; timeouts are not retried here.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrQueueOverflow) ||
		errors.Is(err, ErrRateLimitExceeded) ||
		errors.Is(err, ErrProviderUnavailable)
}

// IsValidation checks if an error is a validation failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidQuery) ||
		errors.Is(err, ErrQueryTooShort) ||
		errors.Is(err, ErrQueryTooLong) ||
		errors.Is(err, ErrForbiddenCharset)
}

// IsTimeout checks if an error is any stage timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrSearchTimeout) ||
		errors.Is(err, ErrQueueTimeout)
}
