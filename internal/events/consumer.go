package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/fraudguard/fraudguard/internal/metrics"
)

// Handler processes one inbound transaction event. A nil return
// acknowledges the message; any error triggers broker redelivery.
type Handler func(ctx context.Context, ev *TransactionEvent) error

// Consumer pulls transaction events from JetStream with a durable,
// explicit-ack subscription. Ack semantics:
//
//   - malformed payload: warn + ack (redelivery cannot fix the content)
//   - handler success, including handled conditions: ack
//   - unexpected handler error: nak, so the broker redelivers
type Consumer struct {
	js      nats.JetStreamContext
	subject string
	durable string
	handler Handler
	logger  *slog.Logger

	sub *nats.Subscription
}

// NewConsumer creates a consumer; call Start to begin receiving.
func NewConsumer(nc *nats.Conn, subject, durable string, handler Handler, logger *slog.Logger) (*Consumer, error) {
	if subject == "" {
		subject = DefaultTransactionsSubject
	}
	if durable == "" {
		durable = "fraudguard-processor"
	}
	if logger == nil {
		logger = slog.Default()
	}
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream context: %w", err)
	}
	return &Consumer{
		js:      js,
		subject: subject,
		durable: durable,
		handler: handler,
		logger:  logger,
	}, nil
}

// Start subscribes. The given context is the processing context for every
// delivered message; it is not a subscription lifetime, use Stop for that.
func (c *Consumer) Start(ctx context.Context) error {
	sub, err := c.js.Subscribe(c.subject, func(msg *nats.Msg) {
		c.dispatch(ctx, msg)
	},
		nats.Durable(c.durable),
		nats.ManualAck(),
		nats.AckExplicit(),
	)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", c.subject, err)
	}
	c.sub = sub
	c.logger.Info("transaction_consumer_started",
		"subject", c.subject, "durable", c.durable)
	return nil
}

func (c *Consumer) dispatch(ctx context.Context, msg *nats.Msg) {
	var ev TransactionEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil || ev.TransactionID == "" {
		metrics.ConsumerEventsTotal.WithLabelValues("malformed").Inc()
		c.logger.Warn("transaction_event_ignored",
			"subject", msg.Subject, "error", err, "bytes", len(msg.Data))
		_ = msg.Ack()
		return
	}

	c.logger.Info("transaction_event_received",
		"transaction_id", ev.TransactionID, "user_id", ev.UserID)

	if err := c.handler(ctx, &ev); err != nil {
		metrics.ConsumerEventsTotal.WithLabelValues("failed").Inc()
		c.logger.Error("transaction_event_processing_failed",
			"transaction_id", ev.TransactionID, "error", err)
		_ = msg.Nak()
		return
	}

	metrics.ConsumerEventsTotal.WithLabelValues("processed").Inc()
	_ = msg.Ack()
}

// Stop drains the subscription so in-flight messages finish before the
// consumer goes away.
func (c *Consumer) Stop() error {
	if c.sub == nil {
		return nil
	}
	return c.sub.Drain()
}
