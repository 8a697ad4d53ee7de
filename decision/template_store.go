package decision

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/docsift/docsift/core"
)

// TemplateStore persists prompt templates. The store is append-only by
// (decision type, version); exactly one version per decision type carries the
// active flag at any time.
type TemplateStore interface {
	// Save adds a new template version. Saving an existing
	// (decision type, version) pair fails with ErrAlreadyExists.
	Save(ctx context.Context, t *PromptTemplate) error
	// Active returns the active version for the decision type.
	Active(ctx context.Context, dt Type) (*PromptTemplate, error)
	// Get returns one specific version.
	Get(ctx context.Context, dt Type, version string) (*PromptTemplate, error)
	// SetActive moves the active flag to the named version.
	SetActive(ctx context.Context, dt Type, version string) error
	// List returns every version for the decision type, newest first.
	List(ctx context.Context, dt Type) ([]*PromptTemplate, error)
	// RecordOutcome folds a decision outcome into the template's counters.
	RecordOutcome(ctx context.Context, dt Type, version string, o Outcome) error
}

// MemoryTemplateStore keeps templates in process. Used in tests and
// single-node deployments.
type MemoryTemplateStore struct {
	mu        sync.RWMutex
	templates map[Type]map[string]*PromptTemplate
}

func NewMemoryTemplateStore() *MemoryTemplateStore {
	return &MemoryTemplateStore{templates: make(map[Type]map[string]*PromptTemplate)}
}

func (s *MemoryTemplateStore) Save(ctx context.Context, t *PromptTemplate) error {
	if err := t.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	versions, ok := s.templates[t.DecisionType]
	if !ok {
		versions = make(map[string]*PromptTemplate)
		s.templates[t.DecisionType] = versions
	}
	if _, exists := versions[t.Version]; exists {
		return fmt.Errorf("%w: template %s@%s", core.ErrAlreadyExists, t.DecisionType, t.Version)
	}

	cp := *t
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	if cp.Active {
		for _, other := range versions {
			other.Active = false
		}
	} else if len(versions) == 0 {
		// First version becomes active automatically.
		cp.Active = true
	}
	versions[cp.Version] = &cp
	return nil
}

func (s *MemoryTemplateStore) Active(ctx context.Context, dt Type) (*PromptTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.templates[dt] {
		if t.Active {
			cp := *t
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: no active template for %s", core.ErrNotFound, dt)
}

func (s *MemoryTemplateStore) Get(ctx context.Context, dt Type, version string) (*PromptTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[dt][version]
	if !ok {
		return nil, fmt.Errorf("%w: template %s@%s", core.ErrNotFound, dt, version)
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryTemplateStore) SetActive(ctx context.Context, dt Type, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	versions := s.templates[dt]
	target, ok := versions[version]
	if !ok {
		return fmt.Errorf("%w: template %s@%s", core.ErrNotFound, dt, version)
	}
	for _, t := range versions {
		t.Active = false
	}
	target.Active = true
	return nil
}

func (s *MemoryTemplateStore) List(ctx context.Context, dt Type) ([]*PromptTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*PromptTemplate, 0, len(s.templates[dt]))
	for _, t := range s.templates[dt] {
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryTemplateStore) RecordOutcome(ctx context.Context, dt Type, version string, o Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.templates[dt][version]
	if !ok {
		return fmt.Errorf("%w: template %s@%s", core.ErrNotFound, dt, version)
	}
	applyOutcome(&t.Metrics, o)
	return nil
}

func applyOutcome(m *TemplateMetrics, o Outcome) {
	m.Uses++
	if o.Failed {
		m.Failures++
	}
	if o.Fallback {
		m.Fallbacks++
	}
	m.TotalLatency += o.LatencyMs
	m.TotalTokens += int64(o.TokenCount)
	m.QualitySum += o.QualityScore
}

// RedisTemplateStore persists templates in redis so every node renders the
// same version. Layout: one hash value per template under
// "templates:<type>:<version>", plus "templates:<type>:active" naming the
// active version.
type RedisTemplateStore struct {
	client *core.RedisClient
	logger core.Logger
}

func NewRedisTemplateStore(client *core.RedisClient, logger core.Logger) *RedisTemplateStore {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &RedisTemplateStore{client: client, logger: logger}
}

func (s *RedisTemplateStore) key(dt Type, version string) string {
	return fmt.Sprintf("templates:%s:%s", dt, version)
}

func (s *RedisTemplateStore) activeKey(dt Type) string {
	return fmt.Sprintf("templates:%s:active", dt)
}

func (s *RedisTemplateStore) indexKey(dt Type) string {
	return fmt.Sprintf("templates:%s:versions", dt)
}

func (s *RedisTemplateStore) Save(ctx context.Context, t *PromptTemplate) error {
	if err := t.Validate(); err != nil {
		return err
	}
	exists, err := s.client.Exists(ctx, s.key(t.DecisionType, t.Version))
	if err != nil {
		return fmt.Errorf("template existence check failed: %w", err)
	}
	if exists {
		return fmt.Errorf("%w: template %s@%s", core.ErrAlreadyExists, t.DecisionType, t.Version)
	}

	cp := *t
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	active, _ := s.client.Get(ctx, s.activeKey(t.DecisionType))
	if active == "" {
		cp.Active = true
	}

	data, err := json.Marshal(&cp)
	if err != nil {
		return fmt.Errorf("template marshal failed: %w", err)
	}
	if err := s.client.Set(ctx, s.key(cp.DecisionType, cp.Version), string(data), 0); err != nil {
		return fmt.Errorf("template save failed: %w", err)
	}
	if err := s.client.LPush(ctx, s.indexKey(cp.DecisionType), cp.Version); err != nil {
		return fmt.Errorf("template index update failed: %w", err)
	}
	if cp.Active {
		return s.client.Set(ctx, s.activeKey(cp.DecisionType), cp.Version, 0)
	}
	return nil
}

func (s *RedisTemplateStore) Active(ctx context.Context, dt Type) (*PromptTemplate, error) {
	version, err := s.client.Get(ctx, s.activeKey(dt))
	if err != nil {
		return nil, fmt.Errorf("active template lookup failed: %w", err)
	}
	if version == "" {
		return nil, fmt.Errorf("%w: no active template for %s", core.ErrNotFound, dt)
	}
	return s.Get(ctx, dt, version)
}

func (s *RedisTemplateStore) Get(ctx context.Context, dt Type, version string) (*PromptTemplate, error) {
	data, err := s.client.Get(ctx, s.key(dt, version))
	if err != nil {
		return nil, fmt.Errorf("template fetch failed: %w", err)
	}
	if data == "" {
		return nil, fmt.Errorf("%w: template %s@%s", core.ErrNotFound, dt, version)
	}
	var t PromptTemplate
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		return nil, fmt.Errorf("template unmarshal failed: %w", err)
	}
	return &t, nil
}

func (s *RedisTemplateStore) SetActive(ctx context.Context, dt Type, version string) error {
	if _, err := s.Get(ctx, dt, version); err != nil {
		return err
	}
	return s.client.Set(ctx, s.activeKey(dt), version, 0)
}

func (s *RedisTemplateStore) List(ctx context.Context, dt Type) ([]*PromptTemplate, error) {
	versions, err := s.client.LRange(ctx, s.indexKey(dt), 0, -1)
	if err != nil {
		return nil, fmt.Errorf("template list failed: %w", err)
	}
	out := make([]*PromptTemplate, 0, len(versions))
	for _, v := range versions {
		t, err := s.Get(ctx, dt, v)
		if err != nil {
			s.logger.Warn("Skipping unreadable template version", map[string]interface{}{
				"operation":     "template_list",
				"decision_type": string(dt),
				"version":       v,
				"error":         err.Error(),
			})
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *RedisTemplateStore) RecordOutcome(ctx context.Context, dt Type, version string, o Outcome) error {
	t, err := s.Get(ctx, dt, version)
	if err != nil {
		return err
	}
	applyOutcome(&t.Metrics, o)
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("template marshal failed: %w", err)
	}
	return s.client.Set(ctx, s.key(dt, version), string(data), 0)
}

// SeedDefaults installs the built-in template set for every decision type
// that has no versions yet.
func SeedDefaults(ctx context.Context, store TemplateStore) error {
	for _, t := range defaultTemplates() {
		if _, err := store.Active(ctx, t.DecisionType); err == nil {
			continue
		}
		if err := store.Save(ctx, t); err != nil {
			return fmt.Errorf("seeding %s failed: %w", t.DecisionType, err)
		}
	}
	return nil
}
