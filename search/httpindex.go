package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/docsift/docsift/core"
)

// HTTPIndex is a core.VectorIndex client over the vector search engine's
// HTTP API. Similarity scoring lives in the engine; this client only carries
// queries and hydrated hits.
//
//	GET  /workspaces                     -> {"workspaces": [...]}
//	GET  /workspaces/<ws>/query?q=&limit= -> {"results": [SearchResult...]}
type HTTPIndex struct {
	baseURL string
	client  *http.Client
	log     core.Logger
}

// HTTPIndexConfig configures the index client.
type HTTPIndexConfig struct {
	BaseURL string
	Timeout time.Duration // per call, default 2s to match the fan-out deadline
	Logger  core.Logger
}

func NewHTTPIndex(cfg HTTPIndexConfig) (*HTTPIndex, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: vector index url", core.ErrMissingConfig)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = &core.NoOpLogger{}
	}
	return &HTTPIndex{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: cfg.Timeout},
		log:     cfg.Logger,
	}, nil
}

type indexQueryResponse struct {
	Results []core.SearchResult `json:"results"`
}

type indexWorkspacesResponse struct {
	Workspaces []string `json:"workspaces"`
}

// Query runs one similarity search against a workspace.
func (x *HTTPIndex) Query(ctx context.Context, workspace, queryText string, limit int) ([]core.SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	params := url.Values{}
	params.Set("q", queryText)
	params.Set("limit", strconv.Itoa(limit))
	endpoint := fmt.Sprintf("%s/workspaces/%s/query?%s", x.baseURL, url.PathEscape(workspace), params.Encode())

	var out indexQueryResponse
	if err := x.getJSON(ctx, endpoint, &out); err != nil {
		return nil, fmt.Errorf("vector query failed for workspace %s: %w", workspace, err)
	}
	for i := range out.Results {
		out.Results[i].Workspace = workspace
	}
	return out.Results, nil
}

// Workspaces lists the workspaces the index currently holds.
func (x *HTTPIndex) Workspaces(ctx context.Context) ([]string, error) {
	var out indexWorkspacesResponse
	if err := x.getJSON(ctx, x.baseURL+"/workspaces", &out); err != nil {
		return nil, fmt.Errorf("workspace listing failed: %w", err)
	}
	return out.Workspaces, nil
}

// HealthCheck pings the workspace listing.
func (x *HTTPIndex) HealthCheck(ctx context.Context) error {
	_, err := x.Workspaces(ctx)
	return err
}

func (x *HTTPIndex) Name() string { return "vector_index" }

func (x *HTTPIndex) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := x.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("index returned status %d", resp.StatusCode)
	}
	return json.Unmarshal(data, out)
}
