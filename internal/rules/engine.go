package rules

import (
	"github.com/fraudguard/fraudguard/internal/events"
	"github.com/fraudguard/fraudguard/internal/scoring"
)

// RuleScore is one rule's rounded contribution in the evaluation breakdown.
type RuleScore struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// Evaluation is the engine output: the normalized weighted score plus each
// rule's own rounded score, in registration order.
type Evaluation struct {
	Score     float64     `json:"score"`
	Breakdown []RuleScore `json:"breakdown"`
}

// Engine runs a fixed set of rules and combines their scores by weight.
type Engine struct {
	rules []Rule
}

// NewEngine creates an engine over the given rules. Evaluation order and
// the breakdown order follow the order given here.
func NewEngine(rs ...Rule) *Engine {
	return &Engine{rules: rs}
}

// DefaultRules returns the production rule set in its canonical order.
func DefaultRules() []Rule {
	return []Rule{
		HighAmountRule{},
		ForeignLocationRule{},
		SuspiciousMerchantRule{},
		RapidTransactionRule{},
	}
}

// Evaluate scores the transaction against every rule. Each raw score is
// clamped to [0, 1] and rounded to 4 decimals; the normalized score is the
// weight-averaged combination, also rounded to 4 decimals. An empty rule
// set or all-zero weights yield exactly 0.
func (e *Engine) Evaluate(tx *events.TransactionEvent, fc FeatureContext) Evaluation {
	if len(e.rules) == 0 {
		return Evaluation{}
	}

	var weightedSum, totalWeight float64
	breakdown := make([]RuleScore, 0, len(e.rules))

	for _, rule := range e.rules {
		score := scoring.Clamp01(rule.Evaluate(tx, fc))
		weight := rule.Weight()
		if weight < 0 {
			weight = 0
		}
		breakdown = append(breakdown, RuleScore{Name: rule.Name(), Score: scoring.Round4(score)})

		weightedSum += score * weight
		totalWeight += weight
	}

	normalized := 0.0
	if totalWeight > 0 {
		normalized = weightedSum / totalWeight
	}
	return Evaluation{Score: scoring.Round4(normalized), Breakdown: breakdown}
}
