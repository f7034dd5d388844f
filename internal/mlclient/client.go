// Package mlclient calls the external ML fraud scorer with a circuit
// breaker, a retry policy, and a hard per-attempt timeout.
//
// PredictScore always resolves to a usable score: on any failure class
// (non-2xx status, malformed payload, timeout, open circuit, network error)
// it returns the supplied fallback, clamped and rounded exactly like a real
// score, so downstream code cannot tell the paths apart.
package mlclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/fraudguard/fraudguard/internal/circuitbreaker"
	"github.com/fraudguard/fraudguard/internal/metrics"
	"github.com/fraudguard/fraudguard/internal/retry"
	"github.com/fraudguard/fraudguard/internal/scoring"
	"github.com/fraudguard/fraudguard/internal/traces"
)

// Config tunes the client.
type Config struct {
	BaseURL     string
	PredictPath string
	// Timeout bounds every individual HTTP attempt (connect + read).
	Timeout time.Duration
	// RetryAttempts is the total number of attempts per call (1 = no retry).
	RetryAttempts int
	// RetryBaseDelay seeds the exponential backoff between attempts.
	RetryBaseDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = "http://localhost:8000"
	}
	if c.PredictPath == "" {
		c.PredictPath = "/predict"
	}
	if c.Timeout <= 0 {
		c.Timeout = 700 * time.Millisecond
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 2
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 50 * time.Millisecond
	}
	return c
}

// Client is the resilient scorer client. The breaker it holds is shared
// process-wide state: concurrent transactions hitting the scorer all feed
// the same failure counters.
type Client struct {
	httpClient *http.Client
	predictURL string
	breaker    *circuitbreaker.Breaker
	retries    int
	baseDelay  time.Duration
	logger     *slog.Logger
}

// New creates a scorer client around the given breaker.
func New(cfg Config, breaker *circuitbreaker.Breaker, logger *slog.Logger) *Client {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		// Client.Timeout caps each attempt end to end, so a timed-out
		// attempt cannot leak and resolve into a later call's score.
		httpClient: &http.Client{Timeout: cfg.Timeout},
		predictURL: resolvePredictURL(cfg.BaseURL, cfg.PredictPath),
		breaker:    breaker,
		retries:    cfg.RetryAttempts,
		baseDelay:  cfg.RetryBaseDelay,
		logger:     logger,
	}
}

// PredictScore calls the scorer and returns the fraud probability, clamped
// to [0, 1] and rounded to 4 decimals. It never returns an error: every
// failure resolves to the equally clamped and rounded fallbackScore.
// Latency is observed on every resolution, fallback included.
func (c *Client) PredictScore(ctx context.Context, req PredictionRequest, fallbackScore float64) float64 {
	safeFallback := scoring.Round4(scoring.Clamp01(fallbackScore))
	start := time.Now()

	ctx, span := traces.StartSpan(ctx, "ml.predict")
	defer span.End()

	var raw float64
	err := c.breaker.Do(func() error {
		return retry.Do(ctx, c.retries, c.baseDelay, func() error {
			score, err := c.fetchScore(ctx, req)
			if err != nil {
				return err
			}
			raw = score
			return nil
		})
	})

	score := scoring.Round4(scoring.Clamp01(raw))
	if err != nil {
		score = safeFallback
		if errors.Is(err, circuitbreaker.ErrOpen) {
			c.logger.Warn("ml_inference_short_circuited",
				"url", c.predictURL, "fallback_score", safeFallback, "reason", err)
		} else {
			c.logger.Warn("ml_inference_call_failed",
				"url", c.predictURL, "fallback_score", safeFallback, "reason", err)
		}
		c.logger.Warn("ml_inference_resilience_state",
			"url", c.predictURL, "circuit_breaker_state", c.breaker.State().String())
	}

	span.SetAttributes(traces.MLScore(score), traces.Fallback(err != nil))

	latency := time.Since(start)
	metrics.MLInferenceLatency.Observe(latency.Seconds())
	c.logger.Info("ml_inference_completed",
		"url", c.predictURL, "latency_ms", latency.Milliseconds(), "ml_score", score)

	return score
}

// fetchScore performs one HTTP attempt against the scorer.
func (c *Client) fetchScore(ctx context.Context, req PredictionRequest) (float64, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return 0, retry.Permanent(fmt.Errorf("encoding request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.predictURL, bytes.NewReader(body))
	if err != nil {
		return 0, retry.Permanent(fmt.Errorf("building request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("calling ml scorer: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return 0, fmt.Errorf("ml scorer returned status %d", resp.StatusCode)
	}

	var parsed PredictionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return 0, fmt.Errorf("decoding ml response: %w", err)
	}
	if parsed.FraudProbability == nil {
		return 0, errors.New("ml scorer returned an invalid response payload")
	}
	return *parsed.FraudProbability, nil
}

// BreakerState exposes the shared circuit state for logs and readiness.
func (c *Client) BreakerState() circuitbreaker.State {
	return c.breaker.State()
}

func resolvePredictURL(baseURL, predictPath string) string {
	base := strings.TrimSuffix(baseURL, "/")
	if !strings.HasPrefix(predictPath, "/") {
		predictPath = "/" + predictPath
	}
	return base + predictPath
}
