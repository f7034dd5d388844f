// Package events defines the wire contracts for the transaction-events
// inbound stream and the fraud-decisions outbound stream, plus the NATS
// plumbing that carries them.
package events

import (
	"time"

	"github.com/fraudguard/fraudguard/internal/scoring"
)

// Subjects for the partitioned log. The inbound stream is keyed by
// transaction id upstream; the outbound stream reuses the same key.
const (
	DefaultTransactionsSubject = "transactions.created"
	DefaultDecisionsSubject    = "fraud.decisions"
)

// TransactionEvent is the inbound event produced by the ingestion service.
// Delivered at least once; the processor is responsible for idempotency.
type TransactionEvent struct {
	ID            string    `json:"id"`
	TransactionID string    `json:"transaction_id"`
	UserID        string    `json:"user_id"`
	Amount        float64   `json:"amount"`
	Currency      string    `json:"currency"`
	MerchantID    string    `json:"merchant_id"`
	Location      string    `json:"location"`
	DeviceID      string    `json:"device_id"`
	CreatedAt     time.Time `json:"created_at"`
}

// DecisionEvent is the outbound projection of a persisted fraud decision.
// Published at most once per transaction id, only after the decision is
// durably stored.
type DecisionEvent struct {
	ID            string           `json:"id"`
	TransactionID string           `json:"transaction_id"`
	UserID        string           `json:"user_id"`
	RiskScore     float64          `json:"risk_score"`
	Decision      scoring.Decision `json:"decision"`
	RuleScore     float64          `json:"rule_score"`
	MLScore       float64          `json:"ml_score"`
	Amount        float64          `json:"amount"`
	Currency      string           `json:"currency"`
	MerchantID    string           `json:"merchant_id"`
	Location      string           `json:"location"`
	CreatedAt     time.Time        `json:"created_at"`
}
