package fraud

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fraudguard/fraudguard/internal/events"
	"github.com/fraudguard/fraudguard/internal/metrics"
	"github.com/fraudguard/fraudguard/internal/mlclient"
	"github.com/fraudguard/fraudguard/internal/monitor"
	"github.com/fraudguard/fraudguard/internal/rules"
	"github.com/fraudguard/fraudguard/internal/scoring"
	"github.com/fraudguard/fraudguard/internal/traces"
	"github.com/fraudguard/fraudguard/internal/velocity"
)

// Publisher emits decision events downstream. Publish failures are the
// caller's to log; a published decision is always already persisted.
type Publisher interface {
	PublishDecision(ctx context.Context, ev *events.DecisionEvent) error
}

// Processor orchestrates the decision pipeline for one transaction event.
// Safe for concurrent use: all mutable state lives in the velocity store,
// the ML breaker, and the monitor, each internally synchronized.
type Processor struct {
	store     Store
	velocity  *velocity.Tracker
	engine    *rules.Engine
	features  *mlclient.FeatureBuilder
	ml        *mlclient.Client
	monitor   *monitor.Monitor
	publisher Publisher
	logger    *slog.Logger
}

// ProcessorDeps bundles the processor's collaborators.
type ProcessorDeps struct {
	Store     Store
	Velocity  *velocity.Tracker
	Engine    *rules.Engine
	Features  *mlclient.FeatureBuilder
	ML        *mlclient.Client
	Monitor   *monitor.Monitor
	Publisher Publisher // optional
	Logger    *slog.Logger
}

// NewProcessor wires up a processor.
func NewProcessor(deps ProcessorDeps) *Processor {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		store:     deps.Store,
		velocity:  deps.Velocity,
		engine:    deps.Engine,
		features:  deps.Features,
		ml:        deps.ML,
		monitor:   deps.Monitor,
		publisher: deps.Publisher,
		logger:    logger,
	}
}

// Process runs the pipeline for one event: dedupe, velocity, rules, ML
// score (falling back to the rule score), aggregate, decide, persist,
// publish. Handled conditions (duplicate, ML failure, persistence race,
// publish failure) return nil; only unexpected errors propagate so the
// delivery layer can redeliver.
//
// End-to-end latency is observed on every path, early exits included.
func (p *Processor) Process(ctx context.Context, ev *events.TransactionEvent) error {
	start := time.Now()
	defer func() {
		metrics.ProcessingLatency.Observe(time.Since(start).Seconds())
	}()

	ctx, span := traces.StartSpan(ctx, "fraud.process",
		traces.TransactionID(ev.TransactionID), traces.UserID(ev.UserID))
	defer span.End()

	existing, err := p.store.FindByTransactionID(ctx, ev.TransactionID)
	if err != nil && !errors.Is(err, ErrDecisionNotFound) {
		return fmt.Errorf("decision lookup for %s: %w", ev.TransactionID, err)
	}
	if existing != nil {
		p.logger.Info("duplicate_transaction_skipped",
			"transaction_id", ev.TransactionID, "decision_id", existing.ID)
		return nil
	}

	ts := ev.CreatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	stats := p.velocity.Track(ctx, ev.UserID, ev.TransactionID, ts)
	fc := rules.FeatureContext{
		TransactionsPerMinute:      stats.TransactionsPerMinute,
		TransactionsPerFiveMinutes: stats.TransactionsPerFiveMinutes,
		SecondsSinceLast:           stats.SecondsSinceLast,
	}

	eval := p.engine.Evaluate(ev, fc)

	req := p.features.BuildRequest(ev, &fc)
	mlScore := p.ml.PredictScore(ctx, req, eval.Score)

	riskScore := scoring.Aggregate(eval.Score, mlScore)
	decision := scoring.Decide(riskScore)
	span.SetAttributes(traces.Decision(string(decision)), traces.RiskScore(riskScore))

	// Every score feeds the monitor, fallback resolutions included: a
	// fallback is itself an observation of the scorer's failure mode.
	p.monitor.Record(mlScore)

	record := &Decision{
		ID:            uuid.NewString(),
		TransactionID: ev.TransactionID,
		UserID:        ev.UserID,
		RiskScore:     riskScore,
		Decision:      decision,
		RuleScore:     eval.Score,
		MLScore:       mlScore,
		Amount:        ev.Amount,
		Currency:      ev.Currency,
		MerchantID:    ev.MerchantID,
		Location:      ev.Location,
		CreatedAt:     time.Now().UTC(),
	}
	if err := p.store.Insert(ctx, record); err != nil {
		if errors.Is(err, ErrDuplicateDecision) {
			// Lost a race with a concurrent duplicate delivery.
			p.logger.Info("duplicate_decision_race",
				"transaction_id", ev.TransactionID)
			return nil
		}
		return fmt.Errorf("persist decision for %s: %w", ev.TransactionID, err)
	}
	metrics.DecisionsTotal.WithLabelValues(string(decision)).Inc()

	p.publish(ctx, record)

	p.logger.Info("fraud_decision_recorded",
		"transaction_id", ev.TransactionID,
		"user_id", ev.UserID,
		"decision", decision,
		"risk_score", riskScore,
		"rule_score", eval.Score,
		"ml_score", mlScore,
		"rule_breakdown", eval.Breakdown,
		"ml_request", req,
		"amount", ev.Amount,
		"merchant_id", ev.MerchantID,
		"location", ev.Location,
	)
	return nil
}

// publish emits the decision event. The decision is already durable, so a
// publish failure is logged and counted but never fails processing.
func (p *Processor) publish(ctx context.Context, d *Decision) {
	if p.publisher == nil {
		return
	}
	out := &events.DecisionEvent{
		ID:            d.ID,
		TransactionID: d.TransactionID,
		UserID:        d.UserID,
		RiskScore:     d.RiskScore,
		Decision:      d.Decision,
		RuleScore:     d.RuleScore,
		MLScore:       d.MLScore,
		Amount:        d.Amount,
		Currency:      d.Currency,
		MerchantID:    d.MerchantID,
		Location:      d.Location,
		CreatedAt:     d.CreatedAt,
	}
	if err := p.publisher.PublishDecision(ctx, out); err != nil {
		metrics.DecisionPublishesTotal.WithLabelValues("error").Inc()
		p.logger.Error("decision_publish_failed",
			"transaction_id", d.TransactionID, "error", err)
		return
	}
	metrics.DecisionPublishesTotal.WithLabelValues("ok").Inc()
}
