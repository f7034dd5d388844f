package fraud

import (
	"context"
	"database/sql"

	"github.com/lib/pq"

	"github.com/fraudguard/fraudguard/internal/scoring"
)

// PostgresStore persists fraud decisions in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed decision store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the fraud_decisions table and indexes.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS fraud_decisions (
			id             VARCHAR(36) PRIMARY KEY,
			transaction_id VARCHAR(64) NOT NULL,
			user_id        VARCHAR(64) NOT NULL,
			risk_score     NUMERIC(5,4) NOT NULL CHECK (risk_score >= 0 AND risk_score <= 1),
			decision       VARCHAR(10) NOT NULL CHECK (decision IN ('APPROVED','REVIEW','BLOCKED')),
			rule_score     NUMERIC(5,4) NOT NULL,
			ml_score       NUMERIC(5,4) NOT NULL,
			amount         NUMERIC(20,4) NOT NULL,
			currency       VARCHAR(8),
			merchant_id    VARCHAR(255),
			location       VARCHAR(255),
			created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_fraud_decisions_transaction_id ON fraud_decisions (transaction_id);
		CREATE INDEX IF NOT EXISTS idx_fraud_decisions_user_id ON fraud_decisions (user_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_fraud_decisions_created_at ON fraud_decisions (created_at DESC);
	`)
	return err
}

func (p *PostgresStore) Insert(ctx context.Context, d *Decision) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO fraud_decisions (
			id, transaction_id, user_id, risk_score, decision,
			rule_score, ml_score, amount, currency, merchant_id,
			location, created_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12
		)`,
		d.ID, d.TransactionID, d.UserID, d.RiskScore, string(d.Decision),
		d.RuleScore, d.MLScore, d.Amount, nullString(d.Currency), nullString(d.MerchantID),
		nullString(d.Location), d.CreatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrDuplicateDecision
		}
		return err
	}
	return nil
}

func (p *PostgresStore) FindByTransactionID(ctx context.Context, transactionID string) (*Decision, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, transaction_id, user_id, risk_score, decision,
		       rule_score, ml_score, amount, currency, merchant_id,
		       location, created_at
		FROM fraud_decisions WHERE transaction_id = $1`, transactionID)

	d, err := scanDecision(row)
	if err == sql.ErrNoRows {
		return nil, ErrDecisionNotFound
	}
	return d, err
}

func (p *PostgresStore) ListRecent(ctx context.Context, limit int) ([]*Decision, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, transaction_id, user_id, risk_score, decision,
		       rule_score, ml_score, amount, currency, merchant_id,
		       location, created_at
		FROM fraud_decisions
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDecision(row rowScanner) (*Decision, error) {
	var d Decision
	var decision string
	var currency, merchantID, location sql.NullString
	err := row.Scan(
		&d.ID, &d.TransactionID, &d.UserID, &d.RiskScore, &decision,
		&d.RuleScore, &d.MLScore, &d.Amount, &currency, &merchantID,
		&location, &d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.Decision = scoring.Decision(decision)
	d.Currency = currency.String
	d.MerchantID = merchantID.String
	d.Location = location.String
	return &d, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
