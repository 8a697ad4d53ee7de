// Package admin is the control plane: the hot-reloadable configuration store
// with its change log, monitoring aggregates, and provider administration.
package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/docsift/docsift/core"
)

const changeLogKey = "admin:config:changes"

// ChangeEntry documents one configuration update.
type ChangeEntry struct {
	Actor     string    `json:"actor"`
	Timestamp time.Time `json:"timestamp"`
	Section   string    `json:"section"`
	Diff      string    `json:"diff"`
	Prior     string    `json:"prior"`
	Comment   string    `json:"comment,omitempty"`
}

// Watcher is invoked with the new configuration after every accepted update.
type Watcher func(cfg *core.Config)

// ConfigStore holds the live configuration and serves consistent snapshots to
// the pipeline. Updates validate, log a change entry, then notify watchers so
// every collaborator reconfigures without a restart.
type ConfigStore struct {
	mu       sync.RWMutex
	current  *core.Config
	watchers []Watcher
	redis    *core.RedisClient
	log      core.Logger
}

func NewConfigStore(initial *core.Config, redis *core.RedisClient, logger core.Logger) *ConfigStore {
	if initial == nil {
		initial = core.DefaultConfig()
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &ConfigStore{current: initial, redis: redis, log: logger}
}

// Current returns a consistent snapshot. Implements search.ConfigSource.
func (s *ConfigStore) Current() *core.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

// Watch registers a hot-reload callback. Watchers run synchronously inside
// Update, in registration order.
func (s *ConfigStore) Watch(w Watcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchers = append(s.watchers, w)
}

// Update validates and applies a new configuration. The change entry lands in
// the redis change log before watchers fire; a change-log write failure is
// logged but does not reject the update.
func (s *ConfigStore) Update(ctx context.Context, next *core.Config, actor, comment string) error {
	if next == nil {
		return fmt.Errorf("%w: nil configuration", core.ErrInvalidConfig)
	}
	if err := next.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	prior := s.current
	sections := changedSections(prior, next)
	entry := ChangeEntry{
		Actor:     actor,
		Timestamp: time.Now().UTC(),
		Section:   sections,
		Diff:      sectionJSON(next, sections),
		Prior:     sectionJSON(prior, sections),
		Comment:   comment,
	}
	s.current = next.Clone()
	watchers := append([]Watcher(nil), s.watchers...)
	applied := s.current
	s.mu.Unlock()

	s.appendChange(ctx, &entry)
	for _, w := range watchers {
		w(applied.Clone())
	}
	s.log.Info("Configuration updated", map[string]interface{}{
		"operation": "config_update",
		"actor":     actor,
		"section":   entry.Section,
	})
	return nil
}

// History returns change entries newest-first, optionally filtered by section
// substring, paged by limit and offset.
func (s *ConfigStore) History(ctx context.Context, section string, limit, offset int) ([]ChangeEntry, error) {
	if s.redis == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	raw, err := s.redis.LRange(ctx, changeLogKey, 0, -1)
	if err != nil {
		return nil, fmt.Errorf("read change log: %w", err)
	}

	var filtered []ChangeEntry
	for _, item := range raw {
		var entry ChangeEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			continue
		}
		if section != "" && !sectionMatches(entry.Section, section) {
			continue
		}
		filtered = append(filtered, entry)
	}
	if offset >= len(filtered) {
		return []ChangeEntry{}, nil
	}
	end := offset + limit
	if end > len(filtered) {
		end = len(filtered)
	}
	return filtered[offset:end], nil
}

func (s *ConfigStore) appendChange(ctx context.Context, entry *ChangeEntry) {
	if s.redis == nil {
		return
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := s.redis.LPush(ctx, changeLogKey, string(data)); err != nil {
		s.log.Warn("Change log write failed", map[string]interface{}{
			"operation": "config_update",
			"error":     err.Error(),
		})
	}
}

// changedSections names the top-level sections that differ, comma-joined.
func changedSections(prior, next *core.Config) string {
	sections := ""
	add := func(name string) {
		if sections != "" {
			sections += ","
		}
		sections += name
	}
	if !reflect.DeepEqual(prior.Queue, next.Queue) {
		add("queue")
	}
	if !reflect.DeepEqual(prior.RateLimits, next.RateLimits) {
		add("rate_limits")
	}
	if !reflect.DeepEqual(prior.Timeouts, next.Timeouts) {
		add("timeouts")
	}
	if !reflect.DeepEqual(prior.Thresholds, next.Thresholds) {
		add("thresholds")
	}
	if !reflect.DeepEqual(prior.ResourceLimits, next.ResourceLimits) {
		add("resource_limits")
	}
	if !reflect.DeepEqual(prior.Features, next.Features) {
		add("features")
	}
	if !reflect.DeepEqual(prior.Strategies, next.Strategies) {
		add("strategies")
	}
	if !reflect.DeepEqual(prior.Redis, next.Redis) {
		add("redis")
	}
	return sections
}

func sectionMatches(entrySections, want string) bool {
	for _, s := range splitSections(entrySections) {
		if s == want {
			return true
		}
	}
	return false
}

func splitSections(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// sectionJSON serializes only the named sections of a config, keeping change
// log entries small.
func sectionJSON(cfg *core.Config, sections string) string {
	out := make(map[string]interface{})
	for _, s := range splitSections(sections) {
		switch s {
		case "queue":
			out[s] = cfg.Queue
		case "rate_limits":
			out[s] = cfg.RateLimits
		case "timeouts":
			out[s] = cfg.Timeouts
		case "thresholds":
			out[s] = cfg.Thresholds
		case "resource_limits":
			out[s] = cfg.ResourceLimits
		case "features":
			out[s] = cfg.Features
		case "strategies":
			out[s] = cfg.Strategies
		case "redis":
			out[s] = cfg.Redis
		}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "{}"
	}
	return string(data)
}
