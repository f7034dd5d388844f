// Package metrics provides Prometheus instrumentation for the fraud
// decision pipeline.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// DecisionsTotal counts persisted fraud decisions by category.
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraudguard",
			Name:      "decisions_total",
			Help:      "Total fraud decisions persisted, by decision category.",
		},
		[]string{"decision"},
	)

	// AnomalySpikesTotal counts edge-triggered model-quality anomaly signals.
	AnomalySpikesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraudguard",
			Name:      "monitoring_anomaly_spikes_total",
			Help:      "Model-quality anomaly spikes by type (drift, low_confidence).",
		},
		[]string{"type"},
	)

	// ProcessingLatency observes end-to-end per-transaction processing time,
	// including early exits and error paths.
	ProcessingLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fraudguard",
		Name:      "processing_latency_seconds",
		Help:      "End-to-end fraud processing latency per transaction.",
		Buckets:   prometheus.DefBuckets,
	})

	// MLInferenceLatency observes every ML call resolution, fallbacks included.
	MLInferenceLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fraudguard",
		Name:      "ml_inference_latency_seconds",
		Help:      "ML inference latency per resolution (success or fallback).",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	})

	// MLScoreDistribution observes the ML probabilities used in decisions.
	MLScoreDistribution = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fraudguard",
		Name:      "ml_score_distribution",
		Help:      "Distribution of ML fraud probabilities used in decisions.",
		Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
	})

	// MLScoreMean is the rolling mean of recent ML scores.
	MLScoreMean = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fraudguard", Name: "ml_score_mean",
		Help: "Rolling mean of recent ML scores.",
	})
	// MLScoreStddev is the rolling population stddev of recent ML scores.
	MLScoreStddev = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fraudguard", Name: "ml_score_stddev",
		Help: "Rolling population standard deviation of recent ML scores.",
	})
	// MLScoreDrift is |recent mean − baseline mean|.
	MLScoreDrift = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fraudguard", Name: "ml_score_drift",
		Help: "Absolute difference between the recent and baseline ML score means.",
	})
	// MLLowConfidenceRatio is the fraction of recent scores in the uncertain band.
	MLLowConfidenceRatio = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fraudguard", Name: "ml_low_confidence_ratio",
		Help: "Fraction of recent ML scores inside the low-confidence band.",
	})

	// ConsumerEventsTotal counts inbound transaction events by outcome.
	ConsumerEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraudguard",
			Name:      "consumer_events_total",
			Help:      "Inbound transaction events by outcome (processed, malformed, failed).",
		},
		[]string{"outcome"},
	)

	// DecisionPublishesTotal counts outbound decision publishes by result.
	DecisionPublishesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraudguard",
			Name:      "decision_publishes_total",
			Help:      "Outbound fraud decision event publishes by result.",
		},
		[]string{"result"},
	)

	// HTTPRequestsTotal counts ops-surface HTTP requests.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraudguard",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes ops-surface request latency.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fraudguard",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fraudguard", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fraudguard", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fraudguard", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fraudguard", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		DecisionsTotal,
		AnomalySpikesTotal,
		ProcessingLatency,
		MLInferenceLatency,
		MLScoreDistribution,
		MLScoreMean,
		MLScoreStddev,
		MLScoreDrift,
		MLLowConfidenceRatio,
		ConsumerEventsTotal,
		DecisionPublishesTotal,
		HTTPRequestsTotal,
		HTTPRequestDuration,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime
// goroutine count into Prometheus gauges. Call in a goroutine; exits when
// ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
