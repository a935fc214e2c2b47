package detect

import (
	"fmt"
	"math"
	"strings"

	"github.com/fraudshield/fraudshield/internal/features"
)

const (
	ruleUrgentLanguage   = "Contains urgent/action-oriented language"
	ruleExclamations     = "Excessive exclamation marks"
	ruleIPHost           = "Uses IP address instead of domain name"
	ruleSuspiciousDomain = "Unusual character sequences in domain"
	maxExplainedRules    = 3
	ruleWeightPerHit     = 0.15
	maxRuleWeight        = 0.5
	highRiskAbove        = 70
	mediumRiskAbove      = 40
	exclamationRuleAbove = 3
)

// ruleViolations lists the triggered heuristic rules in a fixed order.
func ruleViolations(v features.Vector) []string {
	var out []string
	if v.HasSuspiciousKeywords() {
		out = append(out, ruleUrgentLanguage)
	}
	if v.NumExclamation() > exclamationRuleAbove {
		out = append(out, ruleExclamations)
	}
	if v.HasIP() {
		out = append(out, ruleIPHost)
	}
	if v.HasSuspiciousChars() {
		out = append(out, ruleSuspiciousDomain)
	}
	return out
}

// ruleWeight is the share of the score given to n rule hits.
func ruleWeight(n int) float64 {
	return math.Min(float64(max(n, 0))*ruleWeightPerHit, maxRuleWeight)
}

// blendRisk mixes the model probability with n rule hits into a percentage.
func blendRisk(mlScore float64, n int) int {
	rw := ruleWeight(n)
	pct := int(math.Round((mlScore*(1-rw) + rw) * 100))
	return max(0, min(100, pct))
}

// scorePhishing blends the model probability with the rule hits. Each rule
// adds weight up to a cap, and the model's share shrinks by the same amount,
// so rule hits can only raise the score.
func scorePhishing(v features.Vector, mlScore float64) (RiskLevel, int, string) {
	violations := ruleViolations(v)

	pct := blendRisk(mlScore, len(violations))

	level := RiskLow
	switch {
	case pct > highRiskAbove:
		level = RiskHigh
	case pct > mediumRiskAbove:
		level = RiskMedium
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s risk detected (%d%%). ", level, pct)
	if len(violations) > 0 {
		shown := violations
		if len(shown) > maxExplainedRules {
			shown = shown[:maxExplainedRules]
		}
		b.WriteString("Rule violations: " + strings.Join(shown, ", ") + ". ")
	} else {
		b.WriteString("No major rule violations detected. ")
	}
	b.WriteString("ML model analysis complete.")

	return level, pct, b.String()
}
