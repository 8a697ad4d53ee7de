package decision

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/docsift/docsift/core"
)

// OutputFormat declares how the LLM response is interpreted.
type OutputFormat string

const (
	OutputJSON     OutputFormat = "json"
	OutputMarkdown OutputFormat = "markdown"
)

// PromptTemplate is one versioned prompt for a decision type. Templates are
// append-only: editing creates a new version rather than mutating an old one.
type PromptTemplate struct {
	ID           string       `json:"id"`
	DecisionType Type         `json:"decision_type"`
	Version      string       `json:"version"` // semantic, e.g. "1.2.0"
	Text         string       `json:"text"`    // {name} placeholders
	RequiredVars []string     `json:"required_vars"`
	OutputFormat OutputFormat `json:"output_format"`
	Temperature  float32      `json:"temperature"`
	MaxTokens    int          `json:"max_tokens"`
	Active       bool         `json:"active"`
	CreatedAt    time.Time    `json:"created_at"`

	Metrics TemplateMetrics `json:"metrics"`
}

// TemplateMetrics accumulates per-template performance counters.
type TemplateMetrics struct {
	Uses         int64   `json:"uses"`
	Failures     int64   `json:"failures"`
	Fallbacks    int64   `json:"fallbacks"`
	TotalLatency float64 `json:"total_latency_ms"`
	TotalTokens  int64   `json:"total_tokens"`
	QualitySum   float64 `json:"quality_sum"`
}

// Validate rejects templates that could never render.
func (t *PromptTemplate) Validate() error {
	if t.DecisionType == "" || !t.DecisionType.Valid() {
		return fmt.Errorf("%w: unknown decision type %q", core.ErrInvalidConfig, t.DecisionType)
	}
	if strings.TrimSpace(t.Text) == "" {
		return fmt.Errorf("%w: empty template text", core.ErrInvalidConfig)
	}
	if t.Version == "" {
		return fmt.Errorf("%w: missing template version", core.ErrInvalidConfig)
	}
	for _, v := range t.RequiredVars {
		if !strings.Contains(t.Text, "{"+v+"}") {
			return fmt.Errorf("%w: required variable %q has no {%s} slot", core.ErrInvalidConfig, v, v)
		}
	}
	return nil
}

// Render substitutes variables into the template text. Rendering is pure:
// the same template and variables always produce the same string. Complex
// values are serialized as JSON into their slots. Missing required variables
// fail the render.
func (t *PromptTemplate) Render(vars map[string]interface{}) (string, error) {
	for _, required := range t.RequiredVars {
		if _, ok := vars[required]; !ok {
			return "", fmt.Errorf("%w: missing template variable %q for %s", core.ErrInvalidConfig, required, t.DecisionType)
		}
	}
	out := t.Text
	for name, value := range vars {
		out = strings.ReplaceAll(out, "{"+name+"}", renderValue(value))
	}
	return out, nil
}

// renderValue turns a variable into its slot text. Scalars render bare;
// anything structured renders as deterministic JSON.
func renderValue(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	case int, int32, int64, float32, float64, bool:
		return fmt.Sprintf("%v", x)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprintf("%v", x)
		}
		return string(b)
	}
}

// AIOptions builds the generation options for this template.
func (t *PromptTemplate) AIOptions() *core.AIOptions {
	opts := &core.AIOptions{
		Temperature: t.Temperature,
		MaxTokens:   t.MaxTokens,
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 1024
	}
	return opts
}
