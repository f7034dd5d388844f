// Package rules implements the deterministic scoring rules and the weighted
// engine that combines them into a single normalized rule score.
//
// Each rule is stateless and pure given its inputs: a transaction event and
// the velocity-derived feature context. Raw rule outputs are clamped to
// [0, 1]; NaN and ±Inf map to 0.
package rules

import (
	"math"

	"github.com/fraudguard/fraudguard/internal/events"
)

// UnboundedElapsed is the sentinel for "no previous transaction" (or an
// unavailable velocity store). Large enough that no elapsed-time rule tier
// can ever match it.
const UnboundedElapsed = int64(math.MaxInt64)

// FeatureContext is the slice of velocity state exposed to rules. It
// decouples rule code from the velocity storage representation.
type FeatureContext struct {
	TransactionsPerMinute      int
	TransactionsPerFiveMinutes int
	SecondsSinceLast           int64
}

// EmptyFeatureContext is the degraded-signal context used when velocity
// data is missing: zero counts, unbounded elapsed time.
func EmptyFeatureContext() FeatureContext {
	return FeatureContext{SecondsSinceLast: UnboundedElapsed}
}

// Rule scores one fraud signal for a transaction.
type Rule interface {
	// Name is stable across releases; it keys the per-rule breakdown in
	// logs and audit output.
	Name() string
	// Weight is the rule's share in the normalized score. Weights <= 0
	// exclude the rule from aggregation but its score is still reported.
	Weight() float64
	// Evaluate returns the raw risk contribution. The engine clamps the
	// result to [0, 1].
	Evaluate(tx *events.TransactionEvent, fc FeatureContext) float64
}
