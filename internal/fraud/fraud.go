// Package fraud runs the per-transaction decision pipeline and persists
// its outcome.
//
// The Processor sequences velocity tracking, rule evaluation, ML scoring,
// aggregation, and thresholding for one inbound transaction event, then
// stores the decision and publishes it downstream. Idempotency per
// transaction id is guaranteed by a pre-check plus the store's uniqueness
// constraint.
package fraud

import (
	"context"
	"errors"
	"time"

	"github.com/fraudguard/fraudguard/internal/scoring"
)

var (
	ErrDecisionNotFound = errors.New("fraud: decision not found")
	// ErrDuplicateDecision distinguishes a transaction-id uniqueness
	// violation from generic storage errors; callers treat it as success.
	ErrDuplicateDecision = errors.New("fraud: decision already exists for transaction")
)

// Decision is the persisted outcome of the pipeline. Created once per
// transaction id, never mutated.
type Decision struct {
	ID            string           `json:"id"`
	TransactionID string           `json:"transactionId"`
	UserID        string           `json:"userId"`
	RiskScore     float64          `json:"riskScore"`
	Decision      scoring.Decision `json:"decision"`
	RuleScore     float64          `json:"ruleScore"`
	MLScore       float64          `json:"mlScore"`
	Amount        float64          `json:"amount"`
	Currency      string           `json:"currency"`
	MerchantID    string           `json:"merchantId"`
	Location      string           `json:"location"`
	CreatedAt     time.Time        `json:"createdAt"`
}

// Store persists fraud decisions. Uniqueness on transaction id is the
// storage-layer half of the idempotency guarantee.
type Store interface {
	// FindByTransactionID returns ErrDecisionNotFound when no decision
	// exists for the id.
	FindByTransactionID(ctx context.Context, transactionID string) (*Decision, error)
	// Insert returns ErrDuplicateDecision when a decision for the same
	// transaction id already exists.
	Insert(ctx context.Context, d *Decision) error
	// ListRecent returns up to limit decisions, newest first.
	ListRecent(ctx context.Context, limit int) ([]*Decision, error)
}
