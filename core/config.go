package core

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the hot-reloadable search configuration document. Every field is
// recognized by the admin control surface; see admin.ConfigStore for change
// logging and watcher propagation.
type Config struct {
	Queue          QueueConfig         `yaml:"queue" json:"queue"`
	RateLimits     RateLimitConfig     `yaml:"rate_limits" json:"rate_limits"`
	Timeouts       TimeoutConfig       `yaml:"timeouts" json:"timeouts"`
	Thresholds     ThresholdConfig     `yaml:"thresholds" json:"thresholds"`
	ResourceLimits ResourceLimitConfig `yaml:"resource_limits" json:"resource_limits"`
	Features       FeatureToggles      `yaml:"features" json:"features"`
	Strategies     StrategyConfig      `yaml:"strategies" json:"strategies"`
	Redis          RedisConfig         `yaml:"redis" json:"redis"`
}

// QueueConfig bounds the admission queue.
type QueueConfig struct {
	MaxConcurrentSearches     int           `yaml:"max_concurrent_searches" json:"max_concurrent_searches"`
	MaxQueueDepth             int           `yaml:"max_queue_depth" json:"max_queue_depth"`
	QueueOverflowResponseCode int           `yaml:"queue_overflow_response_code" json:"queue_overflow_response_code"`
	PriorityQueueEnabled      bool          `yaml:"priority_queue_enabled" json:"priority_queue_enabled"`
	QueueTimeout              time.Duration `yaml:"queue_timeout" json:"queue_timeout"`
	HighWaterRatio            float64       `yaml:"high_water_ratio" json:"high_water_ratio"`
}

// RateLimitConfig holds the three token bucket families.
type RateLimitConfig struct {
	PerUserRPM      int           `yaml:"per_user_rpm" json:"per_user_rpm"`
	PerWorkspaceRPM int           `yaml:"per_workspace_rpm" json:"per_workspace_rpm"`
	GlobalRPM       int           `yaml:"global_rpm" json:"global_rpm"`
	Window          time.Duration `yaml:"window" json:"window"`
	BurstAllowance  float64       `yaml:"burst_allowance" json:"burst_allowance"`
}

// TimeoutConfig bounds every suspension point in the pipeline.
type TimeoutConfig struct {
	TotalSearch    time.Duration `yaml:"total_search" json:"total_search"`
	PerWorkspace   time.Duration `yaml:"per_workspace" json:"per_workspace"`
	ExternalSearch time.Duration `yaml:"external_search" json:"external_search"`
	AIDecision     time.Duration `yaml:"ai_decision" json:"ai_decision"`
	CacheOperation time.Duration `yaml:"cache_operation" json:"cache_operation"`
	SyncIngestion  time.Duration `yaml:"sync_ingestion" json:"sync_ingestion"`
	HedgedDelay    time.Duration `yaml:"hedged_delay" json:"hedged_delay"`
}

// ThresholdConfig holds breaker and decision thresholds.
type ThresholdConfig struct {
	CacheBreakerFailures    int           `yaml:"cache_breaker_failures" json:"cache_breaker_failures"`
	CacheBreakerRecovery    time.Duration `yaml:"cache_breaker_recovery" json:"cache_breaker_recovery"`
	MinRelevance            float64       `yaml:"min_relevance" json:"min_relevance"`
	ExternalSearchTrigger   float64       `yaml:"external_search_trigger" json:"external_search_trigger"`
	RefinementLowerQuality  float64       `yaml:"refinement_lower_quality" json:"refinement_lower_quality"`
	RefinementUpperQuality  float64       `yaml:"refinement_upper_quality" json:"refinement_upper_quality"`
	WorkspaceHealthInterval time.Duration `yaml:"workspace_health_interval" json:"workspace_health_interval"`
}

// ResourceLimitConfig caps per-request resource usage.
type ResourceLimitConfig struct {
	MaxResults             int           `yaml:"max_results" json:"max_results"`
	MaxWorkspaces          int           `yaml:"max_workspaces" json:"max_workspaces"`
	MaxAITokens            int           `yaml:"max_ai_tokens" json:"max_ai_tokens"`
	MaxExternalResults     int           `yaml:"max_external_results" json:"max_external_results"`
	MaxConcurrentProviders int           `yaml:"max_concurrent_providers" json:"max_concurrent_providers"`
	CacheTTL               time.Duration `yaml:"cache_ttl" json:"cache_ttl"`
}

// FeatureToggles gate optional pipeline stages.
type FeatureToggles struct {
	ExternalSearch     bool `yaml:"external_search" json:"external_search"`
	AIEvaluation       bool `yaml:"ai_evaluation" json:"ai_evaluation"`
	QueryRefinement    bool `yaml:"query_refinement" json:"query_refinement"`
	KnowledgeIngestion bool `yaml:"knowledge_ingestion" json:"knowledge_ingestion"`
	ResultCaching      bool `yaml:"result_caching" json:"result_caching"`
	SyncIngestion      bool `yaml:"sync_ingestion" json:"sync_ingestion"`
}

// StrategyConfig selects pluggable behaviors.
type StrategyConfig struct {
	WorkspaceSelection string   `yaml:"workspace_selection" json:"workspace_selection"` // ai_driven | all | manual
	Ranking            string   `yaml:"ranking" json:"ranking"`                         // relevance | recency | hybrid
	QueueOrdering      string   `yaml:"queue_ordering" json:"queue_ordering"`           // priority_age | fair_share | deadline_first
	ProviderPriority   []string `yaml:"provider_priority" json:"provider_priority"`
	LimitOutOfRange    string   `yaml:"limit_out_of_range" json:"limit_out_of_range"` // clamp | reject
}

// RedisConfig locates the backing redis and its key namespaces.
type RedisConfig struct {
	URL       string `yaml:"url" json:"url"`
	Namespace string `yaml:"namespace" json:"namespace"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		Queue: QueueConfig{
			MaxConcurrentSearches:     20,
			MaxQueueDepth:             100,
			QueueOverflowResponseCode: 503,
			PriorityQueueEnabled:      true,
			QueueTimeout:              300 * time.Second,
			HighWaterRatio:            0.8,
		},
		RateLimits: RateLimitConfig{
			PerUserRPM:      60,
			PerWorkspaceRPM: 300,
			GlobalRPM:       1200,
			Window:          time.Minute,
			BurstAllowance:  1.2,
		},
		Timeouts: TimeoutConfig{
			TotalSearch:    30 * time.Second,
			PerWorkspace:   2 * time.Second,
			ExternalSearch: 5 * time.Second,
			AIDecision:     10 * time.Second,
			CacheOperation: 500 * time.Millisecond,
			SyncIngestion:  15 * time.Second,
			HedgedDelay:    200 * time.Millisecond,
		},
		Thresholds: ThresholdConfig{
			CacheBreakerFailures:    3,
			CacheBreakerRecovery:    2 * time.Second,
			MinRelevance:            0.3,
			ExternalSearchTrigger:   0.6,
			RefinementLowerQuality:  0.4,
			RefinementUpperQuality:  0.8,
			WorkspaceHealthInterval: 30 * time.Second,
		},
		ResourceLimits: ResourceLimitConfig{
			MaxResults:             200,
			MaxWorkspaces:          5,
			MaxAITokens:            2000,
			MaxExternalResults:     20,
			MaxConcurrentProviders: 3,
			CacheTTL:               time.Hour,
		},
		Features: FeatureToggles{
			ExternalSearch:     true,
			AIEvaluation:       true,
			QueryRefinement:    true,
			KnowledgeIngestion: true,
			ResultCaching:      true,
			SyncIngestion:      true,
		},
		Strategies: StrategyConfig{
			WorkspaceSelection: "ai_driven",
			Ranking:            "hybrid",
			QueueOrdering:      "priority_age",
			ProviderPriority:   []string{"context7", "brave", "duckduckgo"},
			LimitOutOfRange:    "clamp",
		},
		Redis: RedisConfig{
			Namespace: "docsift",
		},
	}
}

// LoadConfig reads a YAML configuration file over the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks internal consistency of the configuration.
func (c *Config) Validate() error {
	if c.Queue.MaxQueueDepth <= 0 {
		return fmt.Errorf("%w: max_queue_depth must be positive", ErrInvalidConfig)
	}
	if c.Queue.MaxConcurrentSearches <= 0 {
		return fmt.Errorf("%w: max_concurrent_searches must be positive", ErrInvalidConfig)
	}
	if c.Queue.HighWaterRatio <= 0 || c.Queue.HighWaterRatio > 1 {
		return fmt.Errorf("%w: high_water_ratio must be in (0,1]", ErrInvalidConfig)
	}
	if c.RateLimits.BurstAllowance < 1 {
		return fmt.Errorf("%w: burst_allowance must be >= 1", ErrInvalidConfig)
	}
	if c.Thresholds.RefinementLowerQuality >= c.Thresholds.RefinementUpperQuality {
		return fmt.Errorf("%w: refinement quality band is empty", ErrInvalidConfig)
	}
	switch c.Strategies.WorkspaceSelection {
	case "ai_driven", "all", "manual":
	default:
		return fmt.Errorf("%w: unknown workspace_selection %q", ErrInvalidConfig, c.Strategies.WorkspaceSelection)
	}
	switch c.Strategies.Ranking {
	case "relevance", "recency", "hybrid":
	default:
		return fmt.Errorf("%w: unknown ranking %q", ErrInvalidConfig, c.Strategies.Ranking)
	}
	switch c.Strategies.LimitOutOfRange {
	case "clamp", "reject":
	default:
		return fmt.Errorf("%w: unknown limit_out_of_range %q", ErrInvalidConfig, c.Strategies.LimitOutOfRange)
	}
	return nil
}

// Clone returns a deep copy so readers see a consistent snapshot per request.
func (c *Config) Clone() *Config {
	out := *c
	out.Strategies.ProviderPriority = append([]string(nil), c.Strategies.ProviderPriority...)
	return &out
}
