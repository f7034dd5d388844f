package rules

import "github.com/fraudguard/fraudguard/internal/events"

// RapidTransactionRule scores bursts of activity using tiered thresholds on
// the velocity windows, with a weak tier for back-to-back transactions.
type RapidTransactionRule struct{}

func (RapidTransactionRule) Name() string    { return "rapid_transactions" }
func (RapidTransactionRule) Weight() float64 { return 0.20 }

func (RapidTransactionRule) Evaluate(_ *events.TransactionEvent, fc FeatureContext) float64 {
	switch {
	case fc.TransactionsPerMinute >= 6 || fc.TransactionsPerFiveMinutes >= 12:
		return 1.0
	case fc.TransactionsPerMinute >= 4 || fc.TransactionsPerFiveMinutes >= 8:
		return 0.80
	case fc.TransactionsPerMinute >= 3 || fc.TransactionsPerFiveMinutes >= 6:
		return 0.55
	case fc.SecondsSinceLast <= 5:
		return 0.45
	default:
		return 0.0
	}
}
