package telemetry

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/docsift/docsift/core"
)

// PipelineRecorder emits one single-line event per pipeline stage:
//
//	step=<name> duration_ms=<n> <k=v>... trace_id=<id>
//
// The line goes to the structured logger; the duration also lands on the
// metric backend keyed by step name.
type PipelineRecorder struct {
	logger    core.Logger
	telemetry core.Telemetry
}

func NewPipelineRecorder(logger core.Logger, telemetry core.Telemetry) *PipelineRecorder {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if telemetry == nil {
		telemetry = &core.NoOpTelemetry{}
	}
	return &PipelineRecorder{logger: logger, telemetry: telemetry}
}

// Step records one completed stage. Extra fields keep insertion-independent
// ordering: keys are sorted so the emitted line is deterministic.
func (p *PipelineRecorder) Step(traceID, step string, start time.Time, extra map[string]interface{}) {
	duration := time.Since(start)

	var b strings.Builder
	fmt.Fprintf(&b, "step=%s duration_ms=%d", step, duration.Milliseconds())
	if len(extra) > 0 {
		keys := make([]string, 0, len(extra))
		for k := range extra {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, extra[k])
		}
	}
	fmt.Fprintf(&b, " trace_id=%s", traceID)

	p.logger.Info(b.String(), map[string]interface{}{
		"operation": "pipeline_step",
		"step":      step,
		"trace_id":  traceID,
	})
	p.telemetry.RecordMetric("pipeline.step_duration_ms", float64(duration.Milliseconds()), map[string]string{
		"step": step,
	})
}
