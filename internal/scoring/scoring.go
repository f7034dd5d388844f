// Package scoring blends the rule and ML signals into the final risk score
// and maps it onto a decision category.
//
// All scores in the pipeline share one numeric contract: clamped to [0, 1]
// and rounded half-up to 4 decimal places. The helpers here are used by the
// rule engine, the ML client, and the quality monitor so that every score a
// downstream consumer sees carries the same scale.
package scoring

import "math"

// Decision is the fraud verdict for a transaction.
type Decision string

const (
	DecisionApproved Decision = "APPROVED"
	DecisionReview   Decision = "REVIEW"
	DecisionBlocked  Decision = "BLOCKED"
)

// Blend weights for the final risk score.
const (
	ruleWeight = 0.40
	mlWeight   = 0.60
)

// Decision thresholds, inclusive at the lower bound of each tier.
const (
	reviewThreshold = 0.4000
	blockThreshold  = 0.7000
)

// Clamp01 bounds v to [0, 1]. NaN and ±Inf map to 0.
func Clamp01(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0.0
	}
	if v < 0.0 {
		return 0.0
	}
	if v > 1.0 {
		return 1.0
	}
	return v
}

// Round4 rounds v half-up to 4 decimal places. Inputs are expected to be
// non-negative (post-clamp), where half away from zero equals half-up.
func Round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// Aggregate combines the normalized rule score and the ML score into the
// final risk score: 40% rules, 60% ML. Inputs are clamped before weighting.
func Aggregate(ruleScore, mlScore float64) float64 {
	return Round4(Clamp01(ruleScore)*ruleWeight + Clamp01(mlScore)*mlWeight)
}

// Decide maps a risk score onto a decision category. NaN scores as 0.
func Decide(riskScore float64) Decision {
	score := riskScore
	if math.IsNaN(score) {
		score = 0.0
	}
	if score >= blockThreshold {
		return DecisionBlocked
	}
	if score >= reviewThreshold {
		return DecisionReview
	}
	return DecisionApproved
}
