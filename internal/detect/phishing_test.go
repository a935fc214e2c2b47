package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fraudshield/fraudshield/internal/features"
)

func TestScorePhishingIPHost(t *testing.T) {
	v := features.ExtractText("http://192.168.0.1/login?verify=1")
	assert.Equal(t, []string{ruleIPHost}, ruleViolations(v))

	level, pct, explanation := scorePhishing(v, 0.6)
	assert.Equal(t, RiskMedium, level)
	assert.Equal(t, 66, pct)
	assert.Equal(t, "Medium risk detected (66%). Rule violations: Uses IP address instead of domain name. ML model analysis complete.", explanation)
}

func TestScorePhishingNoViolations(t *testing.T) {
	v := features.ExtractText("see you at lunch tomorrow")
	level, pct, explanation := scorePhishing(v, 0.2)

	assert.Equal(t, RiskLow, level)
	assert.Equal(t, 20, pct)
	assert.Equal(t, "Low risk detected (20%). No major rule violations detected. ML model analysis complete.", explanation)
}

func TestScorePhishingTextRules(t *testing.T) {
	v := features.ExtractText("URGENT!!!! verify your account")
	assert.Equal(t, []string{ruleUrgentLanguage, ruleExclamations}, ruleViolations(v))

	level, pct, explanation := scorePhishing(v, 0.9)
	assert.Equal(t, RiskHigh, level)
	assert.Equal(t, 93, pct)
	assert.Contains(t, explanation, "Rule violations: Contains urgent/action-oriented language, Excessive exclamation marks. ")
}

func TestScorePhishingExactlyThreeExclamationsIsNotARule(t *testing.T) {
	v := features.ExtractText("hello!!!")
	assert.Empty(t, ruleViolations(v))
}

func TestScorePhishingSuspiciousDomain(t *testing.T) {
	v := features.ExtractText("https://secure--login.example.com")
	assert.Equal(t, []string{ruleSuspiciousDomain}, ruleViolations(v))
}

func TestScorePhishingThresholds(t *testing.T) {
	benign := features.ExtractText("plain note")
	cases := []struct {
		ml    float64
		pct   int
		level RiskLevel
	}{
		{0.0, 0, RiskLow},
		{0.4, 40, RiskLow},
		{0.41, 41, RiskMedium},
		{0.7, 70, RiskMedium},
		{0.71, 71, RiskHigh},
		{1.0, 100, RiskHigh},
	}
	for _, tc := range cases {
		level, pct, _ := scorePhishing(benign, tc.ml)
		assert.Equal(t, tc.pct, pct, "ml=%v", tc.ml)
		assert.Equal(t, tc.level, level, "ml=%v", tc.ml)
	}
}

func TestScorePhishingCapsAtHundred(t *testing.T) {
	v := features.ExtractText("URGENT!!!! click")
	_, pct, _ := scorePhishing(v, 1)
	assert.Equal(t, 100, pct)
}

func TestScorePhishingIsDeterministic(t *testing.T) {
	v := features.ExtractText("http://10.0.0.1/a")
	_, a, ea := scorePhishing(v, 0.33)
	_, b, eb := scorePhishing(v, 0.33)
	assert.Equal(t, a, b)
	assert.Equal(t, ea, eb)
}

func TestRuleWeightIsMonotonicAndCapped(t *testing.T) {
	cases := []struct {
		n    int
		want float64
	}{
		{-1, 0}, {0, 0}, {1, 0.15}, {2, 0.30}, {3, 0.45}, {4, 0.5}, {5, 0.5}, {6, 0.5},
	}
	prev := 0.0
	for _, tc := range cases {
		got := ruleWeight(tc.n)
		assert.InDelta(t, tc.want, got, 1e-9, "n=%d", tc.n)
		assert.GreaterOrEqual(t, got, prev, "n=%d", tc.n)
		prev = got
	}
}

func TestBlendRiskEscalatesWithRules(t *testing.T) {
	assert.Equal(t, 20, blendRisk(0.2, 0))
	assert.Equal(t, 32, blendRisk(0.2, 1))
	assert.Equal(t, 60, blendRisk(0.2, 4))
	assert.Equal(t, 60, blendRisk(0.2, 6))
	assert.Equal(t, 100, blendRisk(1, 6))
	assert.Equal(t, 50, blendRisk(0, 6))
	for n := 0; n <= 6; n++ {
		assert.LessOrEqual(t, blendRisk(0.3, n), blendRisk(0.3, n+1))
	}
}
