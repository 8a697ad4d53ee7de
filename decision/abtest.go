package decision

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/docsift/docsift/core"
)

// TestStatus is the A/B test state machine:
// draft -> running <-> paused -> concluded -> archived.
type TestStatus string

const (
	StatusDraft     TestStatus = "draft"
	StatusRunning   TestStatus = "running"
	StatusPaused    TestStatus = "paused"
	StatusConcluded TestStatus = "concluded"
	StatusArchived  TestStatus = "archived"
)

// SplitStrategy selects how traffic is assigned to variants.
type SplitStrategy string

const (
	SplitRandom        SplitStrategy = "random"
	SplitDeterministic SplitStrategy = "deterministic"
	SplitWeighted      SplitStrategy = "weighted"
)

// TestVariant is one arm of a test.
type TestVariant struct {
	TemplateID string         `json:"template_id"`
	Version    string         `json:"version"`
	TrafficPct float64        `json:"traffic_pct"` // variants sum to 100
	Control    bool           `json:"control"`
	Metrics    VariantMetrics `json:"metrics"`
}

// VariantMetrics accumulates per-variant outcomes.
type VariantMetrics struct {
	Samples      int64   `json:"samples"`
	Successes    int64   `json:"successes"`
	Failures     int64   `json:"failures"`
	QualitySum   float64 `json:"quality_sum"`
	QualitySqSum float64 `json:"quality_sq_sum"`
	LatencySum   float64 `json:"latency_sum_ms"`
	TokenSum     int64   `json:"token_sum"`
	Satisfaction float64 `json:"satisfaction_sum"`
}

// MeanQuality returns the running mean of the quality metric.
func (m *VariantMetrics) MeanQuality() float64 {
	if m.Samples == 0 {
		return 0
	}
	return m.QualitySum / float64(m.Samples)
}

// QualityVariance returns the sample variance of the quality metric.
func (m *VariantMetrics) QualityVariance() float64 {
	if m.Samples < 2 {
		return 0
	}
	n := float64(m.Samples)
	mean := m.QualitySum / n
	return (m.QualitySqSum - n*mean*mean) / (n - 1)
}

// ABTest targets one decision type with two or more template variants.
type ABTest struct {
	ID            string             `json:"id"`
	Name          string             `json:"name,omitempty"`
	DecisionType  Type               `json:"decision_type"`
	Variants      []TestVariant      `json:"variants"`
	Status        TestStatus         `json:"status"`
	Split         SplitStrategy      `json:"split"`
	MinSamples    int64              `json:"min_samples"` // per variant
	MaxDuration   time.Duration      `json:"max_duration,omitempty"`
	SuccessMetric string             `json:"success_metric"` // e.g. "quality_score"
	StartedAt     time.Time          `json:"started_at,omitempty"`
	ConcludedAt   time.Time          `json:"concluded_at,omitempty"`
	Result        *StatisticalResult `json:"result,omitempty"`
}

// Validate rejects tests that could never run.
func (t *ABTest) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: missing test id", core.ErrInvalidConfig)
	}
	if !t.DecisionType.Valid() {
		return fmt.Errorf("%w: unknown decision type %q", core.ErrInvalidConfig, t.DecisionType)
	}
	if len(t.Variants) < 2 {
		return fmt.Errorf("%w: a test needs at least two variants", core.ErrInvalidConfig)
	}
	var total float64
	controls := 0
	for _, v := range t.Variants {
		total += v.TrafficPct
		if v.Control {
			controls++
		}
	}
	if total < 99.5 || total > 100.5 {
		return fmt.Errorf("%w: variant traffic sums to %.1f, want 100", core.ErrInvalidConfig, total)
	}
	if controls != 1 {
		return fmt.Errorf("%w: exactly one control variant required, got %d", core.ErrInvalidConfig, controls)
	}
	return nil
}

// validTransitions encodes the status machine.
var validTransitions = map[TestStatus][]TestStatus{
	StatusDraft:     {StatusRunning},
	StatusRunning:   {StatusPaused, StatusConcluded},
	StatusPaused:    {StatusRunning, StatusConcluded},
	StatusConcluded: {StatusArchived},
}

func canTransition(from, to TestStatus) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// AssignVariant picks the variant for a user. Deterministic split hashes
// "{test_id}:{user_id}" with MD5, takes the lower 64 bits, and maps the
// 1-based value of (hash mod 100) onto cumulative traffic percentages.
// Changing this hash is a breaking change: it reshuffles every running test.
func (t *ABTest) AssignVariant(userID string) *TestVariant {
	if len(t.Variants) == 0 {
		return nil
	}
	var point float64
	switch t.Split {
	case SplitRandom:
		point = rand.Float64() * 100 // #nosec G404 -- traffic split, not crypto
	default:
		// deterministic and weighted both hash; weighted differs only in how
		// admins set the percentages.
		sum := md5.Sum([]byte(t.ID + ":" + userID)) // #nosec G401 -- bucketing hash, not crypto
		low := binary.BigEndian.Uint64(sum[8:16])
		point = float64(low%100 + 1)
	}

	var cumulative float64
	for i := range t.Variants {
		cumulative += t.Variants[i].TrafficPct
		if point <= cumulative {
			return &t.Variants[i]
		}
	}
	return &t.Variants[len(t.Variants)-1]
}

// Control returns the control variant.
func (t *ABTest) Control() *TestVariant {
	for i := range t.Variants {
		if t.Variants[i].Control {
			return &t.Variants[i]
		}
	}
	return nil
}

// Variant returns the named variant.
func (t *ABTest) Variant(templateID, version string) *TestVariant {
	for i := range t.Variants {
		if t.Variants[i].TemplateID == templateID && t.Variants[i].Version == version {
			return &t.Variants[i]
		}
	}
	return nil
}

// Expired reports whether the test outlived its max duration.
func (t *ABTest) Expired(now time.Time) bool {
	return t.MaxDuration > 0 && !t.StartedAt.IsZero() && now.Sub(t.StartedAt) > t.MaxDuration
}

// TestRegistry is the in-memory A/B test registry consulted on every
// decision call. Reads take a consistent snapshot; writes are serialized.
type TestRegistry struct {
	mu    sync.RWMutex
	tests map[string]*ABTest
	// byType indexes the running test per decision type; at most one test
	// runs per type at a time.
	byType map[Type]string
}

func NewTestRegistry() *TestRegistry {
	return &TestRegistry{
		tests:  make(map[string]*ABTest),
		byType: make(map[Type]string),
	}
}

// Create registers a draft test.
func (r *TestRegistry) Create(test *ABTest) error {
	if err := test.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tests[test.ID]; exists {
		return fmt.Errorf("%w: test %s", core.ErrAlreadyExists, test.ID)
	}
	cp := *test
	cp.Status = StatusDraft
	r.tests[test.ID] = &cp
	return nil
}

// Transition moves a test through its status machine.
func (r *TestRegistry) Transition(testID string, to TestStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	test, ok := r.tests[testID]
	if !ok {
		return fmt.Errorf("%w: test %s", core.ErrNotFound, testID)
	}
	if !canTransition(test.Status, to) {
		return fmt.Errorf("%w: cannot move test %s from %s to %s", core.ErrInvalidConfig, testID, test.Status, to)
	}

	switch to {
	case StatusRunning:
		if other, exists := r.byType[test.DecisionType]; exists && other != testID {
			return fmt.Errorf("%w: test %s already running for %s", core.ErrAlreadyExists, other, test.DecisionType)
		}
		r.byType[test.DecisionType] = testID
		if test.StartedAt.IsZero() {
			test.StartedAt = time.Now()
		}
	case StatusPaused, StatusConcluded:
		if r.byType[test.DecisionType] == testID {
			delete(r.byType, test.DecisionType)
		}
		if to == StatusConcluded {
			test.ConcludedAt = time.Now()
			test.Result = Analyze(test)
		}
	}
	test.Status = to
	return nil
}

// Running returns the running test for a decision type, retiring tests that
// outlived their max duration.
func (r *TestRegistry) Running(dt Type) (*ABTest, bool) {
	r.mu.RLock()
	testID, ok := r.byType[dt]
	if !ok {
		r.mu.RUnlock()
		return nil, false
	}
	test := r.tests[testID]
	expired := test.Expired(time.Now())
	r.mu.RUnlock()

	if expired {
		_ = r.Transition(testID, StatusConcluded)
		return nil, false
	}
	cp := *test
	cp.Variants = append([]TestVariant(nil), test.Variants...)
	return &cp, true
}

// Get returns one test by id.
func (r *TestRegistry) Get(testID string) (*ABTest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	test, ok := r.tests[testID]
	if !ok {
		return nil, fmt.Errorf("%w: test %s", core.ErrNotFound, testID)
	}
	cp := *test
	cp.Variants = append([]TestVariant(nil), test.Variants...)
	return &cp, nil
}

// List returns every test, newest start first.
func (r *TestRegistry) List() []*ABTest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ABTest, 0, len(r.tests))
	for _, t := range r.tests {
		cp := *t
		cp.Variants = append([]TestVariant(nil), t.Variants...)
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// Delete removes an archived test.
func (r *TestRegistry) Delete(testID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	test, ok := r.tests[testID]
	if !ok {
		return fmt.Errorf("%w: test %s", core.ErrNotFound, testID)
	}
	if test.Status != StatusArchived && test.Status != StatusDraft {
		return fmt.Errorf("%w: only draft or archived tests can be deleted", core.ErrInvalidConfig)
	}
	delete(r.tests, testID)
	return nil
}

// RecordOutcome folds an outcome into the assigned variant's metrics. The
// success metric counts an outcome as a success when it did not fail and its
// quality cleared 0.5.
func (r *TestRegistry) RecordOutcome(testID, templateID, version string, o Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	test, ok := r.tests[testID]
	if !ok {
		return fmt.Errorf("%w: test %s", core.ErrNotFound, testID)
	}
	v := test.Variant(templateID, version)
	if v == nil {
		return fmt.Errorf("%w: variant %s@%s in test %s", core.ErrNotFound, templateID, version, testID)
	}
	v.Metrics.Samples++
	if o.Failed {
		v.Metrics.Failures++
	} else if o.QualityScore > 0.5 {
		v.Metrics.Successes++
	}
	v.Metrics.QualitySum += o.QualityScore
	v.Metrics.QualitySqSum += o.QualityScore * o.QualityScore
	v.Metrics.LatencySum += o.LatencyMs
	v.Metrics.TokenSum += int64(o.TokenCount)
	v.Metrics.Satisfaction += o.UserSatisfaction
	return nil
}

// AnalyzeTest runs the statistical comparison for a test by id.
func (r *TestRegistry) AnalyzeTest(testID string) (*StatisticalResult, error) {
	test, err := r.Get(testID)
	if err != nil {
		return nil, err
	}
	return Analyze(test), nil
}
