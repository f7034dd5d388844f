package mlclient

import (
	"github.com/fraudguard/fraudguard/internal/events"
	"github.com/fraudguard/fraudguard/internal/rules"
	"github.com/fraudguard/fraudguard/internal/scoring"
)

// PredictionRequest is the wire payload sent to the external scorer.
type PredictionRequest struct {
	Amount               float64 `json:"amount"`
	TransactionFrequency int     `json:"transaction_frequency"`
	LocationRisk         float64 `json:"location_risk"`
	MerchantRisk         float64 `json:"merchant_risk"`
}

// PredictionResponse is the scorer's reply. A nil probability is a failure
// for resilience purposes.
type PredictionResponse struct {
	FraudProbability *float64 `json:"fraud_probability"`
}

// FeatureBuilder derives the ML request from a transaction and its velocity
// features, reusing two rule scorers as numeric inputs.
type FeatureBuilder struct {
	location rules.ForeignLocationRule
	merchant rules.SuspiciousMerchantRule
}

// NewFeatureBuilder creates a feature builder.
func NewFeatureBuilder() *FeatureBuilder {
	return &FeatureBuilder{}
}

// BuildRequest assembles the scorer payload. A nil feature context means no
// velocity signal: zero counts and unbounded elapsed time, not an error.
func (b *FeatureBuilder) BuildRequest(tx *events.TransactionEvent, fc *rules.FeatureContext) PredictionRequest {
	ctx := rules.EmptyFeatureContext()
	if fc != nil {
		ctx = *fc
	}

	frequency := ctx.TransactionsPerMinute
	if ctx.TransactionsPerFiveMinutes > frequency {
		frequency = ctx.TransactionsPerFiveMinutes
	}
	if frequency < 0 {
		frequency = 0
	}

	amount := tx.Amount
	if amount < 0 {
		amount = 0
	}

	return PredictionRequest{
		Amount:               scoring.Round4(amount),
		TransactionFrequency: frequency,
		LocationRisk:         scoring.Round4(scoring.Clamp01(b.location.Evaluate(tx, ctx))),
		MerchantRisk:         scoring.Round4(scoring.Clamp01(b.merchant.Evaluate(tx, ctx))),
	}
}
