package search

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/docsift/docsift/core"
)

func TestHTTPIndex_QueryStampsWorkspace(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/workspaces/backend/query" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("q"); got != "goroutine leaks" {
			t.Errorf("unexpected query %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"results": []core.SearchResult{
				{ContentID: "doc-1", Title: "Goroutine leak detection", RelevanceScore: 0.8},
			},
		})
	}))
	defer srv.Close()

	idx, err := NewHTTPIndex(HTTPIndexConfig{BaseURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	hits, err := idx.Query(context.Background(), "backend", "goroutine leaks", 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(hits) != 1 || hits[0].Workspace != "backend" {
		t.Errorf("unexpected hits %+v", hits)
	}
}

func TestHTTPIndex_Workspaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string][]string{"workspaces": {"backend", "frontend"}})
	}))
	defer srv.Close()

	idx, err := NewHTTPIndex(HTTPIndexConfig{BaseURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	workspaces, err := idx.Workspaces(context.Background())
	if err != nil {
		t.Fatalf("Workspaces: %v", err)
	}
	if len(workspaces) != 2 {
		t.Errorf("unexpected workspaces %v", workspaces)
	}
	if err := idx.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck: %v", err)
	}
}

func TestHTTPIndex_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	idx, err := NewHTTPIndex(HTTPIndexConfig{BaseURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := idx.Query(context.Background(), "backend", "q", 5); err == nil {
		t.Error("expected an error for 502")
	}
}

func TestNewHTTPIndex_RequiresURL(t *testing.T) {
	if _, err := NewHTTPIndex(HTTPIndexConfig{}); !errors.Is(err, core.ErrMissingConfig) {
		t.Errorf("expected ErrMissingConfig, got %v", err)
	}
}
