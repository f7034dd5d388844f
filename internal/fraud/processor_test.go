package fraud

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/fraudguard/fraudguard/internal/circuitbreaker"
	"github.com/fraudguard/fraudguard/internal/events"
	"github.com/fraudguard/fraudguard/internal/mlclient"
	"github.com/fraudguard/fraudguard/internal/monitor"
	"github.com/fraudguard/fraudguard/internal/rules"
	"github.com/fraudguard/fraudguard/internal/scoring"
	"github.com/fraudguard/fraudguard/internal/velocity"
)

type capturePublisher struct {
	mu        sync.Mutex
	published []*events.DecisionEvent
	fail      bool
}

func (c *capturePublisher) PublishDecision(_ context.Context, ev *events.DecisionEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("broker unavailable")
	}
	c.published = append(c.published, ev)
	return nil
}

func (c *capturePublisher) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.published)
}

func newTestProcessor(t *testing.T, scorer http.HandlerFunc) (*Processor, *MemoryStore, *capturePublisher) {
	t.Helper()
	srv := httptest.NewServer(scorer)
	t.Cleanup(srv.Close)

	breaker := circuitbreaker.New("ml", circuitbreaker.Config{
		FailureRateThreshold: 0.5,
		MinimumCalls:         100, // stay closed during tests
		WindowSize:           100,
		OpenDuration:         time.Minute,
	})
	ml := mlclient.New(mlclient.Config{
		BaseURL:        srv.URL,
		Timeout:        time.Second,
		RetryAttempts:  1,
		RetryBaseDelay: time.Millisecond,
	}, breaker, nil)

	store := NewMemoryStore()
	pub := &capturePublisher{}
	p := NewProcessor(ProcessorDeps{
		Store:     store,
		Velocity:  velocity.NewTracker(velocity.NewMemoryStore(), nil),
		Engine:    rules.NewEngine(rules.DefaultRules()...),
		Features:  mlclient.NewFeatureBuilder(),
		ML:        ml,
		Monitor:   monitor.New(monitor.Config{}, nil),
		Publisher: pub,
	})
	return p, store, pub
}

func scorerReturning(probability string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"fraud_probability": ` + probability + `}`))
	}
}

func benignEvent(txID string) *events.TransactionEvent {
	return &events.TransactionEvent{
		ID:            "evt-" + txID,
		TransactionID: txID,
		UserID:        "user-1",
		Amount:        49.99,
		Currency:      "USD",
		MerchantID:    "grocery-mart",
		Location:      "Austin, US",
		CreatedAt:     time.Now().UTC(),
	}
}

func TestProcessPersistsAndPublishes(t *testing.T) {
	p, store, pub := newTestProcessor(t, scorerReturning("0.05"))

	if err := p.Process(context.Background(), benignEvent("tx-1")); err != nil {
		t.Fatalf("Process: %v", err)
	}

	d, err := store.FindByTransactionID(context.Background(), "tx-1")
	if err != nil {
		t.Fatalf("FindByTransactionID: %v", err)
	}
	if d.Decision != scoring.DecisionApproved {
		t.Errorf("Decision = %s, want APPROVED", d.Decision)
	}
	if d.MLScore != 0.05 {
		t.Errorf("MLScore = %v, want 0.05", d.MLScore)
	}
	if pub.count() != 1 {
		t.Errorf("published %d events, want 1", pub.count())
	}
}

func TestProcessIdempotentAcrossRedelivery(t *testing.T) {
	p, store, pub := newTestProcessor(t, scorerReturning("0.05"))

	ev := benignEvent("tx-dup")
	if err := p.Process(context.Background(), ev); err != nil {
		t.Fatalf("first Process: %v", err)
	}
	if err := p.Process(context.Background(), ev); err != nil {
		t.Fatalf("second Process: %v", err)
	}

	all, err := store.ListRecent(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("persisted %d decisions, want exactly 1", len(all))
	}
	if pub.count() != 1 {
		t.Errorf("published %d events, want exactly 1", pub.count())
	}
}

func TestProcessBlocksHighRiskTransaction(t *testing.T) {
	p, store, _ := newTestProcessor(t, scorerReturning("0.95"))

	ev := &events.TransactionEvent{
		TransactionID: "tx-risky",
		UserID:        "user-2",
		Amount:        20000,
		Currency:      "USD",
		MerchantID:    "lucky-casino",
		Location:      "Moscow, RU",
		CreatedAt:     time.Now().UTC(),
	}
	if err := p.Process(context.Background(), ev); err != nil {
		t.Fatalf("Process: %v", err)
	}

	d, err := store.FindByTransactionID(context.Background(), "tx-risky")
	if err != nil {
		t.Fatalf("FindByTransactionID: %v", err)
	}
	if d.Decision != scoring.DecisionBlocked {
		t.Errorf("Decision = %s, want BLOCKED (risk %v)", d.Decision, d.RiskScore)
	}
	if d.RuleScore <= 0.5 {
		t.Errorf("RuleScore = %v, want > 0.5 for this profile", d.RuleScore)
	}
}

func TestProcessFallsBackToRuleScoreOnScorerFailure(t *testing.T) {
	p, store, pub := newTestProcessor(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	if err := p.Process(context.Background(), benignEvent("tx-fallback")); err != nil {
		t.Fatalf("Process: %v", err)
	}

	d, err := store.FindByTransactionID(context.Background(), "tx-fallback")
	if err != nil {
		t.Fatalf("FindByTransactionID: %v", err)
	}
	// ML unavailable resolves to the rule score, so both halves of the
	// aggregate carry the same value.
	if d.MLScore != d.RuleScore {
		t.Errorf("MLScore = %v, want rule score %v", d.MLScore, d.RuleScore)
	}
	if d.RiskScore != scoring.Aggregate(d.RuleScore, d.RuleScore) {
		t.Errorf("RiskScore = %v, want aggregate of rule score with itself", d.RiskScore)
	}
	if pub.count() != 1 {
		t.Errorf("published %d events, want 1 (degraded scoring still decides)", pub.count())
	}
}

func TestProcessSurvivesPublishFailure(t *testing.T) {
	p, store, pub := newTestProcessor(t, scorerReturning("0.05"))
	pub.fail = true

	if err := p.Process(context.Background(), benignEvent("tx-nopub")); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if _, err := store.FindByTransactionID(context.Background(), "tx-nopub"); err != nil {
		t.Errorf("decision should persist despite publish failure: %v", err)
	}
}

type racingStore struct {
	*MemoryStore
}

func (r *racingStore) Insert(context.Context, *Decision) error {
	return ErrDuplicateDecision
}

func TestProcessTreatsInsertRaceAsSuccess(t *testing.T) {
	p, _, pub := newTestProcessor(t, scorerReturning("0.05"))
	p.store = &racingStore{MemoryStore: NewMemoryStore()}

	if err := p.Process(context.Background(), benignEvent("tx-race")); err != nil {
		t.Errorf("Process should swallow the duplicate race, got %v", err)
	}
	if pub.count() != 0 {
		t.Errorf("published %d events, want 0 after losing the race", pub.count())
	}
}

type brokenStore struct {
	*MemoryStore
}

func (b *brokenStore) FindByTransactionID(context.Context, string) (*Decision, error) {
	return nil, errors.New("connection reset")
}

func TestProcessPropagatesUnexpectedStoreErrors(t *testing.T) {
	p, _, _ := newTestProcessor(t, scorerReturning("0.05"))
	p.store = &brokenStore{MemoryStore: NewMemoryStore()}

	if err := p.Process(context.Background(), benignEvent("tx-err")); err == nil {
		t.Error("unexpected store errors must propagate for redelivery")
	}
}
