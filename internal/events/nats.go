package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Stream names for the two JetStream streams the pipeline touches.
const (
	TransactionsStream = "TRANSACTIONS"
	DecisionsStream    = "FRAUD_DECISIONS"
)

// Connect dials NATS with reconnection defaults suitable for a long-lived
// consumer. Extra nats.Option values can be appended.
func Connect(url string, opts ...nats.Option) (*nats.Conn, error) {
	defaults := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// EnsureStreams creates the transaction and decision streams if they do not
// exist yet. Idempotent; safe to call on every startup.
func EnsureStreams(js nats.JetStreamContext, transactionsSubject, decisionsSubject string) error {
	for _, s := range []struct {
		name    string
		subject string
	}{
		{TransactionsStream, transactionsSubject},
		{DecisionsStream, decisionsSubject},
	} {
		_, err := js.StreamInfo(s.name)
		if err == nil {
			continue
		}
		if !errors.Is(err, nats.ErrStreamNotFound) {
			return fmt.Errorf("stream info %s: %w", s.name, err)
		}
		_, err = js.AddStream(&nats.StreamConfig{
			Name:      s.name,
			Subjects:  []string{s.subject},
			Retention: nats.LimitsPolicy,
		})
		if err != nil {
			return fmt.Errorf("create stream %s: %w", s.name, err)
		}
	}
	return nil
}

// Publisher publishes decision events to JetStream, keyed by transaction id
// via the message id header so the broker deduplicates redundant publishes.
type Publisher struct {
	js      nats.JetStreamContext
	subject string
	logger  *slog.Logger
}

// NewPublisher creates a publisher on the given subject.
func NewPublisher(nc *nats.Conn, subject string, logger *slog.Logger) (*Publisher, error) {
	if subject == "" {
		subject = DefaultDecisionsSubject
	}
	if logger == nil {
		logger = slog.Default()
	}
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream context: %w", err)
	}
	return &Publisher{js: js, subject: subject, logger: logger}, nil
}

// PublishDecision emits one decision event.
func (p *Publisher) PublishDecision(ctx context.Context, ev *DecisionEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling decision event: %w", err)
	}
	_, err = p.js.Publish(p.subject, data,
		nats.MsgId(ev.TransactionID),
		nats.Context(ctx),
	)
	if err != nil {
		return fmt.Errorf("publishing decision for %s: %w", ev.TransactionID, err)
	}
	p.logger.Debug("decision_event_published",
		"transaction_id", ev.TransactionID, "subject", p.subject)
	return nil
}
