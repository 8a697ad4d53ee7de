package ingest

import (
	"strconv"
	"strings"

	"github.com/docsift/docsift/core"
)

// TTLConfig bounds the computed document lifetime in days.
type TTLConfig struct {
	BaseDays int `yaml:"base_days" json:"base_days"`
	MinDays  int `yaml:"min_days" json:"min_days"`
	MaxDays  int `yaml:"max_days" json:"max_days"`
}

// DefaultTTLConfig returns the documented defaults.
func DefaultTTLConfig() TTLConfig {
	return TTLConfig{BaseDays: 30, MinDays: 1, MaxDays: 90}
}

// techMultipliers tracks how fast documentation for a technology goes stale.
// Fast-moving frameworks decay below 1.0; stable standards hold above it.
var techMultipliers = map[string]float64{
	"react":      0.8,
	"nextjs":     0.7,
	"next.js":    0.7,
	"vue":        0.8,
	"svelte":     0.7,
	"angular":    0.8,
	"node":       0.9,
	"nodejs":     0.9,
	"typescript": 0.9,
	"javascript": 0.9,
	"kubernetes": 0.8,
	"terraform":  0.8,
	"python":     1.1,
	"go":         1.1,
	"golang":     1.1,
	"rust":       1.0,
	"java":       1.2,
	"postgresql": 1.3,
	"postgres":   1.3,
	"mysql":      1.3,
	"redis":      1.2,
	"sql":        1.4,
	"http":       1.5,
	"html":       1.4,
	"css":        1.2,
	"c":          1.5,
	"unix":       1.5,
	"linux":      1.3,
}

var typeMultipliers = map[core.ContentType]float64{
	core.ContentReference:      1.4,
	core.ContentAPI:            1.3,
	core.ContentInstallation:   1.1,
	core.ContentGuide:          1.0,
	core.ContentGettingStarted: 1.0,
	core.ContentTutorial:       0.9,
	core.ContentChangelog:      0.8,
	core.ContentBlog:           0.6,
	core.ContentNews:           0.5,
	core.ContentGeneral:        1.0,
}

// TTLInput is everything the TTL formula looks at.
type TTLInput struct {
	Technology  string
	ContentType core.ContentType
	Content     string
	Version     string
	Quality     float64
}

// ComputeTTLDays runs the multiplier formula:
// base × tech × type × content × version × quality, clamped to [min, max].
func ComputeTTLDays(cfg TTLConfig, in TTLInput) int {
	if cfg.BaseDays <= 0 {
		cfg = DefaultTTLConfig()
	}
	days := float64(cfg.BaseDays) *
		techMultiplier(in.Technology) *
		typeMultiplier(in.ContentType) *
		contentMultiplier(in.Content) *
		versionMultiplier(in.Version) *
		qualityMultiplier(in.Quality)

	result := int(days)
	if result < cfg.MinDays {
		result = cfg.MinDays
	}
	if result > cfg.MaxDays {
		result = cfg.MaxDays
	}
	return result
}

func techMultiplier(tech string) float64 {
	if m, ok := techMultipliers[strings.ToLower(tech)]; ok {
		return m
	}
	return 1.0
}

func typeMultiplier(ct core.ContentType) float64 {
	if m, ok := typeMultipliers[ct]; ok {
		return m
	}
	return 1.0
}

func contentMultiplier(content string) float64 {
	lower := strings.ToLower(content)
	switch {
	case containsAny(lower, "deprecated", "legacy"):
		return 0.5
	case containsAny(lower, "stable", "production", "recommended"):
		return 1.5
	case containsAny(lower, "alpha", "beta", "preview"):
		return 0.7
	case containsAny(lower, "comprehensive", "detailed"):
		return 1.2
	default:
		return 1.0
	}
}

func versionMultiplier(version string) float64 {
	lower := strings.ToLower(version)
	switch {
	case lower == "":
		return 1.0
	case containsAny(lower, "alpha", "beta", "rc"):
		return 0.6
	case containsAny(lower, "latest", "stable"):
		return 1.3
	}
	if major := majorVersion(lower); major >= 3 {
		return 1.2
	}
	return 1.0
}

func qualityMultiplier(quality float64) float64 {
	switch {
	case quality > 0.9:
		return 1.2
	case quality < 0.5:
		return 0.7
	default:
		return 1.0
	}
}

func containsAny(s string, markers ...string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

func majorVersion(v string) int {
	v = strings.TrimPrefix(v, "v")
	head := v
	if i := strings.IndexByte(v, '.'); i > 0 {
		head = v[:i]
	}
	n, err := strconv.Atoi(head)
	if err != nil {
		return 0
	}
	return n
}
