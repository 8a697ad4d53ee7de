package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/docsift/docsift/core"
)

const duckDuckGoEndpoint = "https://api.duckduckgo.com/"

// DuckDuckGo uses the instant-answer API. No key required, which makes it the
// pool's zero-config fallback provider.
type DuckDuckGo struct {
	endpoint string
	client   *http.Client
}

// DuckDuckGoConfig configures the DuckDuckGo provider.
type DuckDuckGoConfig struct {
	Endpoint   string
	Timeout    time.Duration
	HedgeDelay time.Duration
}

func NewDuckDuckGo(cfg DuckDuckGoConfig) (*DuckDuckGo, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = duckDuckGoEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	client, err := newHedgedClient(cfg.Timeout, cfg.HedgeDelay, 1)
	if err != nil {
		return nil, err
	}
	return &DuckDuckGo{endpoint: cfg.Endpoint, client: client}, nil
}

func (d *DuckDuckGo) ID() string { return "duckduckgo" }

type ddgResponse struct {
	AbstractText  string `json:"AbstractText"`
	AbstractURL   string `json:"AbstractURL"`
	Heading       string `json:"Heading"`
	RelatedTopics []struct {
		Text     string `json:"Text"`
		FirstURL string `json:"FirstURL"`
	} `json:"RelatedTopics"`
}

func (d *DuckDuckGo) Search(ctx context.Context, q Query) ([]core.SearchResult, error) {
	params := url.Values{}
	params.Set("q", buildQueryString(q))
	params.Set("format", "json")
	params.Set("no_html", "1")
	params.Set("skip_disambig", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("duckduckgo returned status %d", resp.StatusCode)
	}

	var body ddgResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("duckduckgo response decode failed: %w", err)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}

	var results []core.SearchResult
	if body.AbstractText != "" {
		results = append(results, core.SearchResult{
			ContentID:   "duckduckgo:" + body.AbstractURL,
			Title:       body.Heading,
			Snippet:     body.AbstractText,
			SourceURL:   body.AbstractURL,
			ContentType: core.ContentGeneral,
			// The abstract is the direct answer; score it above the topics.
			RelevanceScore: 0.8,
		})
	}
	for _, topic := range body.RelatedTopics {
		if topic.FirstURL == "" || len(results) >= limit {
			break
		}
		results = append(results, core.SearchResult{
			ContentID:   "duckduckgo:" + topic.FirstURL,
			Title:       topic.Text,
			Snippet:     topic.Text,
			SourceURL:   topic.FirstURL,
			ContentType: core.ContentGeneral,
		})
	}
	return results, nil
}
