// Package mcp exposes the pipeline as tool and resource contracts: the
// search, ingest, and feedback tools plus the collections://, docs://, and
// status:// resource trees. Wire framing lives outside this module; handlers
// return typed results and error envelopes.
package mcp

import (
	"errors"
	"time"

	"github.com/docsift/docsift/core"
)

// ErrConsentRequired rejects ingestion of sources without a consent record.
var ErrConsentRequired = errors.New("consent required")

// CodeConsentRequired extends the core error code set for the ingest tool.
const CodeConsentRequired = "consent_required"

// Envelope wraps an error for the tool surface: stable code, message, retry
// hint, and the HTTP status a transport adapter would use.
func Envelope(err error, retryAfter time.Duration) *core.ErrorEnvelope {
	code := core.CodeForError(err)
	if errors.Is(err, ErrConsentRequired) {
		code = CodeConsentRequired
	}
	env := &core.ErrorEnvelope{
		ErrorCode: code,
		Message:   err.Error(),
	}
	if retryAfter > 0 {
		env.RetryAfter = retryAfter.Seconds()
	}
	return env
}

// HTTPStatus maps an envelope to the transport status code.
func HTTPStatus(env *core.ErrorEnvelope) int {
	if env.ErrorCode == CodeConsentRequired {
		return 403
	}
	return core.HTTPStatusForCode(env.ErrorCode)
}
