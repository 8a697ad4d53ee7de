// Package provider implements the external search provider pool: priority
// dispatch with hedging, a circuit breaker and token bucket per provider,
// and rolling-window health classification.
package provider

import (
	"context"
	"net/http"
	"time"

	"github.com/cristalhq/hedgedhttp"

	"github.com/docsift/docsift/core"
)

// Query is the provider-facing query form. The orchestrator builds it from
// the AI-optimized external query, or from the normalized query on fallback.
type Query struct {
	Text             string
	QuotedPhrases    []string
	RequiredTerms    []string
	ExcludedTerms    []string
	SiteRestrictions []string
	Limit            int
}

// Provider is one external documentation or web search source.
type Provider interface {
	// ID is the stable provider identifier used in config and metadata.
	ID() string
	// Search runs the query and returns normalized results.
	Search(ctx context.Context, q Query) ([]core.SearchResult, error)
}

// DefaultExternalRelevance applies when a provider returns no score of its
// own.
const DefaultExternalRelevance = 0.7

// Normalize stamps external-hit metadata onto a result. Every hit leaving the
// pool carries source=external_search and provider=<id> so downstream
// ingestion can attribute it.
func Normalize(r *core.SearchResult, providerID string) {
	if r.Metadata == nil {
		r.Metadata = make(map[string]interface{})
	}
	r.Metadata["source"] = "external_search"
	r.Metadata["provider"] = providerID
	if r.RelevanceScore == 0 {
		r.RelevanceScore = DefaultExternalRelevance
	}
	if r.ContentType == "" {
		r.ContentType = core.ContentGeneral
	}
}

// newHedgedClient builds an HTTP client that hedges slow requests against
// the same provider. A zero delay disables hedging.
func newHedgedClient(timeout, hedgeDelay time.Duration, hedgeUpTo int) (*http.Client, error) {
	transport := http.DefaultTransport
	if hedgeDelay > 0 && hedgeUpTo > 0 {
		var err error
		transport, _, err = hedgedhttp.NewRoundTripperAndStats(hedgeDelay, hedgeUpTo, transport)
		if err != nil {
			return nil, err
		}
	}
	return &http.Client{Timeout: timeout, Transport: transport}, nil
}
