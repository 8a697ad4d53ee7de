package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/docsift/docsift/core"
)

const context7Endpoint = "https://context7.com/api/v1/search"

// Context7 is the curated documentation provider. Unlike the web providers
// it returns full document content, which lets the ingestion path persist
// hits synchronously.
type Context7 struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

// Context7Config configures the Context7 provider.
type Context7Config struct {
	APIKey     string
	Endpoint   string
	Timeout    time.Duration
	HedgeDelay time.Duration
}

func NewContext7(cfg Context7Config) (*Context7, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = context7Endpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	client, err := newHedgedClient(cfg.Timeout, cfg.HedgeDelay, 1)
	if err != nil {
		return nil, err
	}
	return &Context7{apiKey: cfg.APIKey, endpoint: cfg.Endpoint, client: client}, nil
}

func (c *Context7) ID() string { return "context7" }

type context7Response struct {
	Results []struct {
		ID          string  `json:"id"`
		Title       string  `json:"title"`
		Description string  `json:"description"`
		Content     string  `json:"content"`
		URL         string  `json:"url"`
		Library     string  `json:"library"`
		DocType     string  `json:"doc_type"`
		Score       float64 `json:"score"`
		UpdatedAt   string  `json:"updated_at"`
	} `json:"results"`
}

func (c *Context7) Search(ctx context.Context, q Query) ([]core.SearchResult, error) {
	limit := q.Limit
	if limit <= 0 || limit > 20 {
		limit = 10
	}
	params := url.Values{}
	params.Set("query", buildQueryString(q))
	params.Set("limit", strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("context7 request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("context7: %w", core.ErrRateLimitExceeded)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("context7 returned status %d", resp.StatusCode)
	}

	var body context7Response
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("context7 response decode failed: %w", err)
	}

	results := make([]core.SearchResult, 0, len(body.Results))
	for _, hit := range body.Results {
		r := core.SearchResult{
			ContentID:      "context7:" + hit.ID,
			Title:          hit.Title,
			Snippet:        hit.Description,
			Content:        hit.Content,
			SourceURL:      hit.URL,
			Technology:     hit.Library,
			ContentType:    docTypeToContentType(hit.DocType),
			RelevanceScore: hit.Score,
			RecencyScore:   recencyFromAge(hit.UpdatedAt),
		}
		results = append(results, r)
	}
	return results, nil
}

func docTypeToContentType(docType string) core.ContentType {
	switch docType {
	case "api", "api_reference":
		return core.ContentAPI
	case "guide":
		return core.ContentGuide
	case "tutorial":
		return core.ContentTutorial
	case "reference":
		return core.ContentReference
	case "changelog", "release_notes":
		return core.ContentChangelog
	case "getting_started":
		return core.ContentGettingStarted
	case "installation":
		return core.ContentInstallation
	default:
		return core.ContentGeneral
	}
}
