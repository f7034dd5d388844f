package rules

import "github.com/fraudguard/fraudguard/internal/events"

// highAmountThreshold is the amount at and below which the rule is silent.
const highAmountThreshold = 5000.0

// HighAmountRule scores transactions by how far the amount exceeds a fixed
// threshold: 0 at or below it, then linearly up to 1.0 at double the
// threshold.
type HighAmountRule struct{}

func (HighAmountRule) Name() string    { return "high_amount" }
func (HighAmountRule) Weight() float64 { return 0.40 }

func (HighAmountRule) Evaluate(tx *events.TransactionEvent, _ FeatureContext) float64 {
	if tx.Amount <= highAmountThreshold {
		return 0.0
	}
	score := (tx.Amount - highAmountThreshold) / highAmountThreshold
	if score > 1.0 {
		return 1.0
	}
	return score
}
