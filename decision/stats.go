package decision

import (
	"fmt"
	"math"
)

// StatisticalResult is the outcome of comparing a test's best challenger
// against its control on the declared success metric.
type StatisticalResult struct {
	ControlID      string  `json:"control_id"`
	ChallengerID   string  `json:"challenger_id"`
	ControlMean    float64 `json:"control_mean"`
	ChallengerMean float64 `json:"challenger_mean"`
	PValue         float64 `json:"p_value"`
	EffectSize     float64 `json:"effect_size"` // Cohen's d
	Power          float64 `json:"power"`
	RequiredSample int64   `json:"required_sample"`
	Significant    bool    `json:"significant"`
	Winner         string  `json:"winner,omitempty"`
	Recommendation string  `json:"recommendation"`
}

const significanceLevel = 0.05

// Analyze compares the control against the strongest challenger. Success-rate
// metrics use a two-proportion z-test; continuous quality uses Welch's t-test.
// A winner is declared only when p < 0.05 and both variants cleared the
// minimum sample.
func Analyze(test *ABTest) *StatisticalResult {
	control := test.Control()
	if control == nil || len(test.Variants) < 2 {
		return &StatisticalResult{Recommendation: "test is not comparable: missing control or challenger"}
	}

	var challenger *TestVariant
	for i := range test.Variants {
		v := &test.Variants[i]
		if v.Control {
			continue
		}
		if challenger == nil || v.Metrics.MeanQuality() > challenger.Metrics.MeanQuality() {
			challenger = v
		}
	}

	res := &StatisticalResult{
		ControlID:    control.TemplateID + "@" + control.Version,
		ChallengerID: challenger.TemplateID + "@" + challenger.Version,
	}

	switch test.SuccessMetric {
	case "success_rate", "error_rate":
		res.ControlMean, res.ChallengerMean = successRate(control), successRate(challenger)
		res.PValue = twoProportionP(control.Metrics, challenger.Metrics)
		res.EffectSize = proportionEffect(res.ControlMean, res.ChallengerMean)
	default:
		// quality_score and other continuous metrics
		res.ControlMean = control.Metrics.MeanQuality()
		res.ChallengerMean = challenger.Metrics.MeanQuality()
		res.PValue = welchP(control.Metrics, challenger.Metrics)
		res.EffectSize = cohensD(control.Metrics, challenger.Metrics)
	}

	res.RequiredSample = requiredSample(res.EffectSize)
	res.Power = achievedPower(res.EffectSize, minSamples(control, challenger))

	haveSamples := control.Metrics.Samples >= test.MinSamples && challenger.Metrics.Samples >= test.MinSamples
	res.Significant = res.PValue < significanceLevel
	switch {
	case res.Significant && haveSamples:
		if res.ChallengerMean > res.ControlMean {
			res.Winner = res.ChallengerID
			res.Recommendation = fmt.Sprintf("promote %s: p=%.4f, d=%.2f", res.ChallengerID, res.PValue, res.EffectSize)
		} else {
			res.Winner = res.ControlID
			res.Recommendation = fmt.Sprintf("keep %s: challenger underperforms, p=%.4f", res.ControlID, res.PValue)
		}
	case res.Significant:
		res.Significant = false
		res.Recommendation = fmt.Sprintf("continue: p=%.4f but samples below minimum %d", res.PValue, test.MinSamples)
	default:
		res.Recommendation = fmt.Sprintf("continue: p=%.4f is not significant; about %d samples per variant needed", res.PValue, res.RequiredSample)
	}
	return res
}

func successRate(v *TestVariant) float64 {
	if v.Metrics.Samples == 0 {
		return 0
	}
	return float64(v.Metrics.Successes) / float64(v.Metrics.Samples)
}

func minSamples(a, b *TestVariant) int64 {
	if a.Metrics.Samples < b.Metrics.Samples {
		return a.Metrics.Samples
	}
	return b.Metrics.Samples
}

// twoProportionP is the pooled two-proportion z-test, two-tailed.
func twoProportionP(a, b VariantMetrics) float64 {
	n1, n2 := float64(a.Samples), float64(b.Samples)
	if n1 < 1 || n2 < 1 {
		return 1
	}
	p1 := float64(a.Successes) / n1
	p2 := float64(b.Successes) / n2
	pooled := (float64(a.Successes) + float64(b.Successes)) / (n1 + n2)
	se := math.Sqrt(pooled * (1 - pooled) * (1/n1 + 1/n2))
	if se == 0 {
		return 1
	}
	z := (p1 - p2) / se
	return 2 * (1 - normalCDF(math.Abs(z)))
}

// welchP is Welch's unequal-variance t-test, two-tailed, using the normal
// approximation for the t distribution at the sample sizes tests run at.
func welchP(a, b VariantMetrics) float64 {
	n1, n2 := float64(a.Samples), float64(b.Samples)
	if n1 < 2 || n2 < 2 {
		return 1
	}
	v1, v2 := a.QualityVariance(), b.QualityVariance()
	se := math.Sqrt(v1/n1 + v2/n2)
	if se == 0 {
		return 1
	}
	t := (a.MeanQuality() - b.MeanQuality()) / se
	return 2 * (1 - normalCDF(math.Abs(t)))
}

// cohensD uses the pooled standard deviation.
func cohensD(a, b VariantMetrics) float64 {
	n1, n2 := float64(a.Samples), float64(b.Samples)
	if n1 < 2 || n2 < 2 {
		return 0
	}
	pooledVar := ((n1-1)*a.QualityVariance() + (n2-1)*b.QualityVariance()) / (n1 + n2 - 2)
	if pooledVar <= 0 {
		return 0
	}
	return (b.MeanQuality() - a.MeanQuality()) / math.Sqrt(pooledVar)
}

func proportionEffect(p1, p2 float64) float64 {
	// Cohen's h
	return 2*math.Asin(math.Sqrt(p2)) - 2*math.Asin(math.Sqrt(p1))
}

// requiredSample estimates per-variant n for 80% power at alpha 0.05
// (two-tailed): n = ((z_a + z_b) / d)^2 with z_a=1.96, z_b=0.84.
func requiredSample(effect float64) int64 {
	d := math.Abs(effect)
	if d < 0.01 {
		d = 0.01
	}
	n := math.Pow((1.96+0.84)/d, 2)
	return int64(math.Ceil(n))
}

// achievedPower inverts the same approximation for the observed n.
func achievedPower(effect float64, n int64) float64 {
	if n < 2 {
		return 0
	}
	d := math.Abs(effect)
	zb := d*math.Sqrt(float64(n)) - 1.96
	return normalCDF(zb)
}

func normalCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}
