package decision

import (
	"errors"
	"testing"
	"time"

	"github.com/docsift/docsift/core"
)

func twoArmTest(id string, dt Type) *ABTest {
	return &ABTest{
		ID:            id,
		DecisionType:  dt,
		Split:         SplitDeterministic,
		MinSamples:    30,
		SuccessMetric: "quality_score",
		Variants: []TestVariant{
			{TemplateID: "t", Version: "1.0.0", TrafficPct: 50, Control: true},
			{TemplateID: "t", Version: "1.1.0", TrafficPct: 50},
		},
	}
}

func TestABTest_DeterministicAssignmentIsStable(t *testing.T) {
	test := twoArmTest("exp-1", TypeQueryRefinement)

	users := []string{"u1", "u2", "u3", "alice", "bob", "carol"}
	for _, u := range users {
		first := test.AssignVariant(u)
		for i := 0; i < 10; i++ {
			if got := test.AssignVariant(u); got.Version != first.Version {
				t.Fatalf("user %s flapped between variants: %s vs %s", u, first.Version, got.Version)
			}
		}
	}
}

func TestABTest_AssignmentRespectsTrafficSplit(t *testing.T) {
	test := twoArmTest("exp-split", TypeQueryRefinement)
	test.Variants[0].TrafficPct = 90
	test.Variants[1].TrafficPct = 10

	control := 0
	const n = 1000
	for i := 0; i < n; i++ {
		v := test.AssignVariant(string(rune('a'+i%26)) + string(rune('0'+i%10)) + string(rune('A'+(i/260)%26)))
		if v.Control {
			control++
		}
	}
	// The hash distributes roughly uniformly; 90/10 should land well away
	// from 50/50.
	if control < 700 {
		t.Errorf("expected ~90%% control traffic, got %d/%d", control, n)
	}
}

func TestABTest_ValidateRejectsBadTraffic(t *testing.T) {
	test := twoArmTest("exp-bad", TypeQueryRefinement)
	test.Variants[1].TrafficPct = 30 // sums to 80
	if err := test.Validate(); err == nil {
		t.Error("expected validation to reject traffic not summing to 100")
	}

	test = twoArmTest("exp-bad2", TypeQueryRefinement)
	test.Variants[1].Control = true // two controls
	if err := test.Validate(); err == nil {
		t.Error("expected validation to reject two controls")
	}
}

func TestTestRegistry_StatusMachine(t *testing.T) {
	r := NewTestRegistry()
	if err := r.Create(twoArmTest("exp-1", TypeQueryRefinement)); err != nil {
		t.Fatal(err)
	}

	// draft -> concluded is not a legal move.
	if err := r.Transition("exp-1", StatusConcluded); err == nil {
		t.Error("draft cannot conclude directly")
	}

	for _, step := range []TestStatus{StatusRunning, StatusPaused, StatusRunning, StatusConcluded, StatusArchived} {
		if err := r.Transition("exp-1", step); err != nil {
			t.Fatalf("transition to %s failed: %v", step, err)
		}
	}

	// Archived is terminal.
	if err := r.Transition("exp-1", StatusRunning); err == nil {
		t.Error("archived tests cannot restart")
	}
}

func TestTestRegistry_OneRunningTestPerType(t *testing.T) {
	r := NewTestRegistry()
	_ = r.Create(twoArmTest("exp-1", TypeQueryRefinement))
	_ = r.Create(twoArmTest("exp-2", TypeQueryRefinement))

	if err := r.Transition("exp-1", StatusRunning); err != nil {
		t.Fatal(err)
	}
	if err := r.Transition("exp-2", StatusRunning); !errors.Is(err, core.ErrAlreadyExists) {
		t.Errorf("expected a conflict starting a second test for the same type, got %v", err)
	}

	running, ok := r.Running(TypeQueryRefinement)
	if !ok || running.ID != "exp-1" {
		t.Errorf("expected exp-1 running, got %+v ok=%v", running, ok)
	}
	if _, ok := r.Running(TypeProviderSelection); ok {
		t.Error("no test should be running for an untargeted type")
	}
}

func TestTestRegistry_ExpiredTestConcludes(t *testing.T) {
	r := NewTestRegistry()
	test := twoArmTest("exp-old", TypeQueryRefinement)
	test.MaxDuration = time.Nanosecond
	_ = r.Create(test)
	_ = r.Transition("exp-old", StatusRunning)
	time.Sleep(time.Millisecond)

	if _, ok := r.Running(TypeQueryRefinement); ok {
		t.Error("an expired test should no longer be returned as running")
	}
	got, _ := r.Get("exp-old")
	if got.Status != StatusConcluded {
		t.Errorf("expected concluded, got %s", got.Status)
	}
}

func TestTestRegistry_RecordOutcome(t *testing.T) {
	r := NewTestRegistry()
	_ = r.Create(twoArmTest("exp-1", TypeQueryRefinement))

	if err := r.RecordOutcome("exp-1", "t", "1.1.0", Outcome{QualityScore: 0.9, LatencyMs: 120, TokenCount: 50}); err != nil {
		t.Fatal(err)
	}
	_ = r.RecordOutcome("exp-1", "t", "1.1.0", Outcome{Failed: true})

	got, _ := r.Get("exp-1")
	v := got.Variant("t", "1.1.0")
	if v.Metrics.Samples != 2 || v.Metrics.Successes != 1 || v.Metrics.Failures != 1 {
		t.Errorf("unexpected metrics: %+v", v.Metrics)
	}
}

func TestAnalyze_DeclaresWinner(t *testing.T) {
	test := twoArmTest("exp-1", TypeQueryRefinement)
	test.MinSamples = 30

	// Control centered near 0.5, challenger near 0.8, 100 samples each.
	for i := 0; i < 100; i++ {
		cq := 0.45 + float64(i%10)*0.01
		xq := 0.75 + float64(i%10)*0.01
		recordQuality(&test.Variants[0].Metrics, cq)
		recordQuality(&test.Variants[1].Metrics, xq)
	}

	res := Analyze(test)
	if !res.Significant {
		t.Fatalf("expected significance, got p=%v", res.PValue)
	}
	if res.Winner != "t@1.1.0" {
		t.Errorf("expected the challenger to win, got %q", res.Winner)
	}
	if res.EffectSize <= 0 {
		t.Errorf("expected positive effect size, got %v", res.EffectSize)
	}
	if res.Power < 0.8 {
		t.Errorf("expected high achieved power, got %v", res.Power)
	}
}

func TestAnalyze_HoldsWinnerBelowMinSample(t *testing.T) {
	test := twoArmTest("exp-1", TypeQueryRefinement)
	test.MinSamples = 1000

	for i := 0; i < 50; i++ {
		recordQuality(&test.Variants[0].Metrics, 0.4+float64(i%10)*0.01)
		recordQuality(&test.Variants[1].Metrics, 0.8+float64(i%10)*0.01)
	}

	res := Analyze(test)
	if res.Winner != "" {
		t.Errorf("no winner should be declared below the minimum sample, got %q", res.Winner)
	}
}

func recordQuality(m *VariantMetrics, q float64) {
	m.Samples++
	if q > 0.5 {
		m.Successes++
	}
	m.QualitySum += q
	m.QualitySqSum += q * q
}
