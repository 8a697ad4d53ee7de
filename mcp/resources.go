package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/docsift/docsift/admission"
	"github.com/docsift/docsift/cache"
	"github.com/docsift/docsift/core"
	"github.com/docsift/docsift/ingest"
	"github.com/docsift/docsift/provider"
	"github.com/docsift/docsift/telemetry"
)

// Resource URI schemes.
const (
	SchemeCollections = "collections"
	SchemeDocs        = "docs"
	SchemeStatus      = "status"
)

// CollectionList is the collections:// listing.
type CollectionList struct {
	Workspaces []string `json:"workspaces"`
}

// DocumentResource is one docs://<id> read: metadata plus the side-store
// content when it is still retained.
type DocumentResource struct {
	Metadata *ingest.TTLDocument `json:"metadata"`
	Content  string              `json:"content,omitempty"`
}

// DocumentList is the docs:// listing.
type DocumentList struct {
	ContentIDs []string `json:"content_ids"`
}

// StatusResource is the status:// read: aggregated health plus live counters.
type StatusResource struct {
	Health    telemetry.AggregatedHealth `json:"health"`
	Queue     admission.QueueStats       `json:"queue"`
	Cache     cache.Stats                `json:"cache"`
	Providers []provider.Stats           `json:"providers"`
}

// Resources serves the read-only resource trees.
type Resources struct {
	index      core.VectorIndex
	store      ingest.MetadataStore
	health     *telemetry.HealthAggregator
	controller *admission.Controller
	cache      cache.ResultCache
	pool       *provider.Pool
}

// ResourceDeps wires the resource surface. Nil collaborators zero out the
// matching sections.
type ResourceDeps struct {
	Index      core.VectorIndex
	Store      ingest.MetadataStore
	Health     *telemetry.HealthAggregator
	Controller *admission.Controller
	Cache      cache.ResultCache
	Pool       *provider.Pool
}

func NewResources(deps ResourceDeps) *Resources {
	return &Resources{
		index:      deps.Index,
		store:      deps.Store,
		health:     deps.Health,
		controller: deps.Controller,
		cache:      deps.Cache,
		pool:       deps.Pool,
	}
}

// parseURI splits "scheme://path" and validates the scheme.
func parseURI(uri string) (scheme, path string, err error) {
	parts := strings.SplitN(uri, "://", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("%w: malformed resource uri %q", core.ErrInvalidQuery, uri)
	}
	switch parts[0] {
	case SchemeCollections, SchemeDocs, SchemeStatus:
		return parts[0], parts[1], nil
	}
	return "", "", fmt.Errorf("%w: unknown resource scheme %q", core.ErrInvalidQuery, parts[0])
}

// Read resolves one resource URI:
//
//	collections://            workspace listing
//	docs://                   content id listing
//	docs://<id>               metadata + retained content
//	docs://<id>/metadata      metadata only
//	status://                 aggregated health and counters
func (r *Resources) Read(ctx context.Context, uri string) (interface{}, error) {
	scheme, path, err := parseURI(uri)
	if err != nil {
		return nil, err
	}
	switch scheme {
	case SchemeCollections:
		return r.readCollections(ctx, path)
	case SchemeDocs:
		return r.readDocs(ctx, path)
	default:
		return r.readStatus(ctx)
	}
}

func (r *Resources) readCollections(ctx context.Context, path string) (interface{}, error) {
	if r.index == nil {
		return &CollectionList{}, nil
	}
	workspaces, err := r.index.Workspaces(ctx)
	if err != nil {
		return nil, fmt.Errorf("workspace listing failed: %w", err)
	}
	if path == "" {
		return &CollectionList{Workspaces: workspaces}, nil
	}
	for _, ws := range workspaces {
		if ws == path {
			return &CollectionList{Workspaces: []string{ws}}, nil
		}
	}
	return nil, fmt.Errorf("%w: workspace %s", core.ErrNotFound, path)
}

func (r *Resources) readDocs(ctx context.Context, path string) (interface{}, error) {
	if r.store == nil {
		return nil, fmt.Errorf("%w: document store not configured", core.ErrNotFound)
	}
	if path == "" {
		ids, err := r.store.ListDocuments(ctx, 200)
		if err != nil {
			return nil, err
		}
		return &DocumentList{ContentIDs: ids}, nil
	}

	id := path
	metadataOnly := false
	if strings.HasSuffix(path, "/metadata") {
		id = strings.TrimSuffix(path, "/metadata")
		metadataOnly = true
	}

	doc, err := r.store.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	res := &DocumentResource{Metadata: doc}
	if !metadataOnly {
		// Side-store content expires after its retention window; a miss
		// just means the resource is metadata-only now.
		if content, err := r.store.GetContent(ctx, id); err == nil {
			res.Content = content
		}
	}
	return res, nil
}

func (r *Resources) readStatus(ctx context.Context) (interface{}, error) {
	out := &StatusResource{}
	if r.health != nil {
		out.Health = r.health.Check(ctx)
	}
	if r.controller != nil {
		out.Queue = r.controller.Stats()
	}
	if r.cache != nil {
		out.Cache = r.cache.Stats()
	}
	if r.pool != nil {
		out.Providers = r.pool.ProviderStats()
	}
	return out, nil
}

// SearchDocuments is the docs:// search operation: a direct vector query
// against one workspace, bypassing the full pipeline. Intended for resource
// browsing, not end-user search.
func (r *Resources) SearchDocuments(ctx context.Context, workspace, queryText string, limit int) ([]core.SearchResult, error) {
	if r.index == nil {
		return nil, fmt.Errorf("%w: vector index not configured", core.ErrNotFound)
	}
	if limit <= 0 {
		limit = 20
	}
	return r.index.Query(ctx, workspace, queryText, limit)
}
