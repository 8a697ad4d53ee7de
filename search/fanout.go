// Package search implements the read path: workspace fan-out over the vector
// index, result ranking and merging, and the pipeline orchestrator that wires
// cache, admission, decisions, external providers, and ingestion together.
package search

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/docsift/docsift/core"
)

// FanoutConfig bounds one fan-out pass.
type FanoutConfig struct {
	PerWorkspaceTimeout time.Duration
	MaxWorkspaces       int
	Logger              core.Logger
	Telemetry           core.Telemetry
}

// Fanout queries every selected workspace in parallel. Each workspace gets
// its own deadline; one workspace failing or timing out never cancels its
// siblings. Failures land in VectorSearchResults.WorkspaceErrors.
type Fanout struct {
	index core.VectorIndex
	cfg   FanoutConfig
	log   core.Logger
	tel   core.Telemetry
}

func NewFanout(index core.VectorIndex, cfg FanoutConfig) *Fanout {
	if cfg.PerWorkspaceTimeout <= 0 {
		cfg.PerWorkspaceTimeout = 2 * time.Second
	}
	if cfg.MaxWorkspaces <= 0 {
		cfg.MaxWorkspaces = 5
	}
	if cfg.Logger == nil {
		cfg.Logger = &core.NoOpLogger{}
	}
	if cfg.Telemetry == nil {
		cfg.Telemetry = &core.NoOpTelemetry{}
	}
	return &Fanout{index: index, cfg: cfg, log: cfg.Logger, tel: cfg.Telemetry}
}

// Run fans the query out across the workspaces, capped at MaxWorkspaces.
func (f *Fanout) Run(ctx context.Context, query string, workspaces []string, limit int) *core.VectorSearchResults {
	start := time.Now()
	if len(workspaces) > f.cfg.MaxWorkspaces {
		workspaces = workspaces[:f.cfg.MaxWorkspaces]
	}

	out := &core.VectorSearchResults{
		WorkspacesSearched: append([]string(nil), workspaces...),
	}

	var mu sync.Mutex
	g := new(errgroup.Group)
	for _, ws := range workspaces {
		ws := ws
		g.Go(func() error {
			wsCtx, cancel := context.WithTimeout(ctx, f.cfg.PerWorkspaceTimeout)
			defer cancel()

			hits, err := f.queryWorkspace(wsCtx, ws, query, limit)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if out.WorkspaceErrors == nil {
					out.WorkspaceErrors = make(map[string]string)
				}
				out.WorkspaceErrors[ws] = err.Error()
				f.log.Warn("Workspace query failed", map[string]interface{}{
					"operation": "vector_fanout",
					"workspace": ws,
					"error":     err.Error(),
				})
				f.tel.RecordMetric("fanout.workspace_errors", 1, map[string]string{"workspace": ws})
				// Branch errors degrade the result set, they never fail it.
				return nil
			}
			for i := range hits {
				if hits[i].Workspace == "" {
					hits[i].Workspace = ws
				}
			}
			out.Results = append(out.Results, hits...)
			return nil
		})
	}
	g.Wait() //nolint:errcheck // branches always return nil

	out.Total = len(out.Results)
	out.Duration = time.Since(start)
	f.tel.RecordMetric("fanout.hits", float64(out.Total), nil)
	return out
}

// queryWorkspace contains a panicking index branch so it degrades to a
// workspace error instead of taking down the whole fan-out.
func (f *Fanout) queryWorkspace(ctx context.Context, ws, query string, limit int) (hits []core.SearchResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			hits, err = nil, fmt.Errorf("workspace query panic: %v", r)
		}
	}()
	return f.index.Query(ctx, ws, query, limit)
}

// SelectWorkspaces resolves the workspace set for one request under the
// configured strategy. Every returned workspace is readable by the user.
//
//	ai_driven  suggested workspaces intersected with the user's grants,
//	           falling back to all grants when nothing intersects
//	all        every workspace the user can read
//	manual     the user's grants as given, no AI input
func SelectWorkspaces(strategy string, user *core.UserContext, suggested []string, max int) []string {
	if max <= 0 {
		max = 5
	}
	var selected []string
	switch strategy {
	case "ai_driven":
		for _, ws := range suggested {
			if user.CanRead(ws) {
				selected = append(selected, ws)
			}
		}
		if len(selected) == 0 {
			selected = append(selected, user.Workspaces...)
		}
	default: // "all" and "manual" both search the user's grants
		selected = append(selected, user.Workspaces...)
	}
	sort.Strings(selected)
	if len(selected) > max {
		selected = selected[:max]
	}
	return selected
}
