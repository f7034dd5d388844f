package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	natsserver "github.com/nats-io/nats-server/v2/server"

	"github.com/fraudguard/fraudguard/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func startTestNATS(t *testing.T) string {
	t.Helper()
	opts := &natsserver.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
	}
	srv, err := natsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("starting embedded NATS: %v", err)
	}
	srv.Start()
	t.Cleanup(srv.Shutdown)
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS not ready")
	}
	return srv.ClientURL()
}

func newTestServer(t *testing.T, scorer http.HandlerFunc) *Server {
	t.Helper()

	mlSrv := httptest.NewServer(scorer)
	t.Cleanup(mlSrv.Close)

	cfg := &config.Config{
		Port:                      "0",
		Env:                       "test",
		LogLevel:                  "error",
		NATSURL:                   startTestNATS(t),
		TransactionsSubject:       "transactions.created",
		DecisionsSubject:          "fraud.decisions",
		ConsumerDurable:           "test-processor",
		MLBaseURL:                 mlSrv.URL,
		MLPredictPath:             "/predict",
		MLTimeout:                 time.Second,
		MLRetryAttempts:           1,
		MLRetryBaseDelay:          time.Millisecond,
		CBFailureRate:             0.5,
		CBMinimumCalls:            100,
		CBWindowSize:              100,
		CBOpenDuration:            time.Minute,
		CBHalfOpenProbes:          1,
		MonitorBaselineSize:       10,
		MonitorRecentSize:         20,
		MonitorBandLow:            0.40,
		MonitorBandHigh:           0.60,
		MonitorDriftThreshold:     0.12,
		MonitorLowConfidenceAlert: 0.45,
	}

	srv, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { srv.nc.Close() })
	return srv
}

func doRequest(s *Server, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	s.Router().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"fraud_probability": 0.1}`))
	})

	w := doRequest(s, http.MethodGet, "/health")
	if w.Code != http.StatusOK {
		t.Errorf("/health status = %d, want 200", w.Code)
	}

	var resp HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding health response: %v", err)
	}
	if resp.Status != "healthy" {
		t.Errorf("status = %q, want healthy", resp.Status)
	}

	if w := doRequest(s, http.MethodGet, "/health/live"); w.Code != http.StatusOK {
		t.Errorf("/health/live status = %d, want 200", w.Code)
	}
	// Readiness flips only once Run has started.
	if w := doRequest(s, http.MethodGet, "/health/ready"); w.Code != http.StatusServiceUnavailable {
		t.Errorf("/health/ready status = %d, want 503 before Run", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"fraud_probability": 0.1}`))
	})

	w := doRequest(s, http.MethodGet, "/metrics")
	if w.Code != http.StatusOK {
		t.Errorf("/metrics status = %d, want 200", w.Code)
	}
}

func TestPipelineEndToEnd(t *testing.T) {
	s := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"fraud_probability": 0.92}`))
	})

	if err := s.consumer.Start(context.Background()); err != nil {
		t.Fatalf("starting consumer: %v", err)
	}
	defer s.consumer.Stop()

	js, err := s.nc.JetStream()
	if err != nil {
		t.Fatalf("jetstream: %v", err)
	}
	payload := `{
		"transaction_id": "tx-e2e-1",
		"user_id": "user-e2e",
		"amount": 18000,
		"currency": "USD",
		"merchant_id": "crypto-exchange",
		"location": "Lagos, NG",
		"created_at": "2026-08-30T12:00:00Z"
	}`
	if _, err := js.Publish("transactions.created", []byte(payload)); err != nil {
		t.Fatalf("publishing event: %v", err)
	}

	// Wait for the pipeline to persist the decision.
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := s.store.FindByTransactionID(context.Background(), "tx-e2e-1"); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("decision was never persisted")
		}
		time.Sleep(20 * time.Millisecond)
	}

	w := doRequest(s, http.MethodGet, "/decisions/tx-e2e-1")
	if w.Code != http.StatusOK {
		t.Fatalf("/decisions/tx-e2e-1 status = %d, want 200", w.Code)
	}
	var decision struct {
		Decision  string  `json:"decision"`
		RiskScore float64 `json:"riskScore"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &decision); err != nil {
		t.Fatalf("decoding decision: %v", err)
	}
	if decision.Decision != "BLOCKED" {
		t.Errorf("decision = %q (risk %v), want BLOCKED", decision.Decision, decision.RiskScore)
	}

	w = doRequest(s, http.MethodGet, "/decisions")
	if w.Code != http.StatusOK {
		t.Errorf("/decisions status = %d, want 200", w.Code)
	}
}

func TestDecisionNotFound(t *testing.T) {
	s := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"fraud_probability": 0.1}`))
	})

	if w := doRequest(s, http.MethodGet, "/decisions/tx-missing"); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestModelQualityEndpoint(t *testing.T) {
	s := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"fraud_probability": 0.5}`))
	})

	s.monitor.Record(0.5)

	w := doRequest(s, http.MethodGet, "/model/quality")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body["circuit_breaker"] != "closed" {
		t.Errorf("circuit_breaker = %v, want closed", body["circuit_breaker"])
	}
	if body["samples"].(float64) < 1 {
		t.Error("samples should reflect recorded scores")
	}
}
