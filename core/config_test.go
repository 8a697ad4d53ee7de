package core

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Queue.MaxQueueDepth != 100 {
		t.Errorf("expected max_queue_depth 100, got %d", cfg.Queue.MaxQueueDepth)
	}
	if cfg.Queue.MaxConcurrentSearches != 20 {
		t.Errorf("expected max_concurrent_searches 20, got %d", cfg.Queue.MaxConcurrentSearches)
	}
	if cfg.Timeouts.TotalSearch != 30*time.Second {
		t.Errorf("expected 30s total timeout, got %v", cfg.Timeouts.TotalSearch)
	}
	if cfg.Timeouts.CacheOperation != 500*time.Millisecond {
		t.Errorf("expected 500ms cache timeout, got %v", cfg.Timeouts.CacheOperation)
	}
	if cfg.ResourceLimits.MaxWorkspaces != 5 {
		t.Errorf("expected max 5 workspaces, got %d", cfg.ResourceLimits.MaxWorkspaces)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
queue:
  max_queue_depth: 2
  max_concurrent_searches: 4
  high_water_ratio: 0.8
strategies:
  ranking: relevance
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Queue.MaxQueueDepth != 2 {
		t.Errorf("expected overridden depth 2, got %d", cfg.Queue.MaxQueueDepth)
	}
	if cfg.Strategies.Ranking != "relevance" {
		t.Errorf("expected relevance ranking, got %s", cfg.Strategies.Ranking)
	}
	// Untouched defaults survive
	if cfg.RateLimits.BurstAllowance != 1.2 {
		t.Errorf("expected default burst 1.2, got %f", cfg.RateLimits.BurstAllowance)
	}
}

func TestConfigValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero queue depth", func(c *Config) { c.Queue.MaxQueueDepth = 0 }},
		{"bad workspace strategy", func(c *Config) { c.Strategies.WorkspaceSelection = "psychic" }},
		{"bad ranking", func(c *Config) { c.Strategies.Ranking = "vibes" }},
		{"empty refinement band", func(c *Config) {
			c.Thresholds.RefinementLowerQuality = 0.9
			c.Thresholds.RefinementUpperQuality = 0.4
		}},
		{"burst under 1", func(c *Config) { c.RateLimits.BurstAllowance = 0.5 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestConfigClone_Isolated(t *testing.T) {
	cfg := DefaultConfig()
	clone := cfg.Clone()
	clone.Strategies.ProviderPriority[0] = "changed"
	if cfg.Strategies.ProviderPriority[0] == "changed" {
		t.Error("clone should not share the provider priority slice")
	}
}
