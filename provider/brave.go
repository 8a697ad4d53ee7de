package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/docsift/docsift/core"
)

const braveEndpoint = "https://api.search.brave.com/res/v1/web/search"

// Brave is the Brave Search API provider.
type Brave struct {
	apiKey   string
	endpoint string
	client   *http.Client
	logger   core.Logger
}

// BraveConfig configures the Brave provider.
type BraveConfig struct {
	APIKey     string
	Endpoint   string        // override for tests
	Timeout    time.Duration // default 5s
	HedgeDelay time.Duration // intra-provider HTTP hedging, 0 disables
	Logger     core.Logger
}

func NewBrave(cfg BraveConfig) (*Brave, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: brave api key", core.ErrMissingConfig)
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = braveEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = &core.NoOpLogger{}
	}
	client, err := newHedgedClient(cfg.Timeout, cfg.HedgeDelay, 1)
	if err != nil {
		return nil, err
	}
	return &Brave{apiKey: cfg.APIKey, endpoint: cfg.Endpoint, client: client, logger: cfg.Logger}, nil
}

func (b *Brave) ID() string { return "brave" }

type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
			PageAge     string `json:"page_age"`
		} `json:"results"`
	} `json:"web"`
}

func (b *Brave) Search(ctx context.Context, q Query) ([]core.SearchResult, error) {
	limit := q.Limit
	if limit <= 0 || limit > 20 {
		limit = 10
	}
	params := url.Values{}
	params.Set("q", buildQueryString(q))
	params.Set("count", strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", b.apiKey)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("brave request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("brave: %w", core.ErrRateLimitExceeded)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("brave returned status %d", resp.StatusCode)
	}

	var body braveResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("brave response decode failed: %w", err)
	}

	results := make([]core.SearchResult, 0, len(body.Web.Results))
	for _, hit := range body.Web.Results {
		results = append(results, core.SearchResult{
			ContentID:    "brave:" + hit.URL,
			Title:        hit.Title,
			Snippet:      hit.Description,
			SourceURL:    hit.URL,
			ContentType:  core.ContentGeneral,
			RecencyScore: recencyFromAge(hit.PageAge),
		})
	}
	return results, nil
}

// buildQueryString assembles the provider query: quoted phrases verbatim,
// +required and -excluded terms, site: restrictions.
func buildQueryString(q Query) string {
	var parts []string
	if q.Text != "" {
		parts = append(parts, q.Text)
	}
	for _, p := range q.QuotedPhrases {
		parts = append(parts, `"`+p+`"`)
	}
	for _, t := range q.RequiredTerms {
		if !strings.Contains(q.Text, t) {
			parts = append(parts, "+"+t)
		}
	}
	for _, t := range q.ExcludedTerms {
		parts = append(parts, "-"+t)
	}
	for _, s := range q.SiteRestrictions {
		parts = append(parts, "site:"+s)
	}
	return strings.Join(parts, " ")
}

// recencyFromAge maps a page age timestamp to a 0..1 recency score.
func recencyFromAge(age string) float64 {
	if age == "" {
		return 0
	}
	t, err := time.Parse(time.RFC3339, age)
	if err != nil {
		if t, err = time.Parse("2006-01-02T15:04:05", age); err != nil {
			return 0
		}
	}
	days := time.Since(t).Hours() / 24
	switch {
	case days < 30:
		return 1.0
	case days < 180:
		return 0.8
	case days < 365:
		return 0.6
	case days < 730:
		return 0.4
	default:
		return 0.2
	}
}
