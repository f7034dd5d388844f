// Package server wires the fraud decision pipeline together and exposes
// the ops HTTP surface.
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/fraudguard/fraudguard/internal/circuitbreaker"
	"github.com/fraudguard/fraudguard/internal/config"
	"github.com/fraudguard/fraudguard/internal/events"
	"github.com/fraudguard/fraudguard/internal/fraud"
	"github.com/fraudguard/fraudguard/internal/health"
	"github.com/fraudguard/fraudguard/internal/logging"
	"github.com/fraudguard/fraudguard/internal/metrics"
	"github.com/fraudguard/fraudguard/internal/mlclient"
	"github.com/fraudguard/fraudguard/internal/monitor"
	"github.com/fraudguard/fraudguard/internal/rules"
	"github.com/fraudguard/fraudguard/internal/security"
	"github.com/fraudguard/fraudguard/internal/traces"
	"github.com/fraudguard/fraudguard/internal/velocity"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP ops surface and the event-driven pipeline.
type Server struct {
	cfg       *config.Config
	store     fraud.Store
	processor *fraud.Processor
	monitor   *monitor.Monitor
	breaker   *circuitbreaker.Breaker
	consumer  *events.Consumer
	publisher *events.Publisher
	checks    *health.Registry

	nc    *nats.Conn
	redis *redis.Client // nil if using in-memory velocity store
	db    *sql.DB       // nil if using in-memory decision store

	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	traceStop    func(context.Context) error
	cancelRunCtx context.CancelFunc

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		checks: health.NewRegistry(),
		logger: logging.New(cfg.LogLevel, "json"),
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	// Decision storage (Postgres if DATABASE_URL set, otherwise in-memory)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		pgStore := fraud.NewPostgresStore(db)
		if err := pgStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate decision store", "error", err)
		}
		s.db = db
		s.store = pgStore
		s.checks.Register("postgres", func(ctx context.Context) health.Status {
			if err := db.PingContext(ctx); err != nil {
				return health.Status{Name: "postgres", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "postgres", Healthy: true}
		})
		s.logger.Info("using PostgreSQL decision storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		s.store = fraud.NewMemoryStore()
		s.logger.Info("using in-memory decision storage")
	}

	// Velocity store (Redis if REDIS_URL set, otherwise in-memory)
	var velocityStore velocity.Store
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(redisOpts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		s.redis = rdb
		velocityStore = velocity.NewRedisStore(rdb)
		s.checks.Register("redis", func(ctx context.Context) health.Status {
			if err := rdb.Ping(ctx).Err(); err != nil {
				return health.Status{Name: "redis", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "redis", Healthy: true}
		})
		s.logger.Info("using Redis velocity storage")
	} else {
		velocityStore = velocity.NewMemoryStore()
		s.logger.Info("using in-memory velocity storage")
	}

	// ML scorer client behind a shared circuit breaker
	s.breaker = circuitbreaker.New("ml-scorer", circuitbreaker.Config{
		FailureRateThreshold: cfg.CBFailureRate,
		MinimumCalls:         cfg.CBMinimumCalls,
		WindowSize:           cfg.CBWindowSize,
		OpenDuration:         cfg.CBOpenDuration,
		HalfOpenProbes:       cfg.CBHalfOpenProbes,
	})
	mlClient := mlclient.New(mlclient.Config{
		BaseURL:        cfg.MLBaseURL,
		PredictPath:    cfg.MLPredictPath,
		Timeout:        cfg.MLTimeout,
		RetryAttempts:  cfg.MLRetryAttempts,
		RetryBaseDelay: cfg.MLRetryBaseDelay,
	}, s.breaker, s.logger)

	s.monitor = monitor.New(monitor.Config{
		BaselineSize:       cfg.MonitorBaselineSize,
		RecentSize:         cfg.MonitorRecentSize,
		BandLow:            cfg.MonitorBandLow,
		BandHigh:           cfg.MonitorBandHigh,
		DriftThreshold:     cfg.MonitorDriftThreshold,
		LowConfidenceAlert: cfg.MonitorLowConfidenceAlert,
	}, s.logger)

	// Message bus
	nc, err := events.Connect(cfg.NATSURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	s.nc = nc
	s.checks.Register("nats", func(context.Context) health.Status {
		if !nc.IsConnected() {
			return health.Status{Name: "nats", Healthy: false, Detail: nc.Status().String()}
		}
		return health.Status{Name: "nats", Healthy: true}
	})

	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream context: %w", err)
	}
	if err := events.EnsureStreams(js, cfg.TransactionsSubject, cfg.DecisionsSubject); err != nil {
		return nil, fmt.Errorf("failed to provision streams: %w", err)
	}

	s.publisher, err = events.NewPublisher(nc, cfg.DecisionsSubject, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create publisher: %w", err)
	}

	s.processor = fraud.NewProcessor(fraud.ProcessorDeps{
		Store:     s.store,
		Velocity:  velocity.NewTracker(velocityStore, s.logger),
		Engine:    rules.NewEngine(rules.DefaultRules()...),
		Features:  mlclient.NewFeatureBuilder(),
		ML:        mlClient,
		Monitor:   s.monitor,
		Publisher: s.publisher,
		Logger:    s.logger,
	})

	s.consumer, err = events.NewConsumer(nc, cfg.TransactionsSubject, cfg.ConsumerDurable,
		func(ctx context.Context, ev *events.TransactionEvent) error {
			ctx = logging.WithTransactionID(ctx, ev.TransactionID)
			return s.processor.Process(ctx, ev)
		}, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	s.healthy.Store(true)

	// HTTP ops surface
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// Ops/debug surface
	s.router.GET("/decisions", s.listDecisionsHandler)
	s.router.GET("/decisions/:transactionID", s.getDecisionHandler)
	s.router.GET("/model/quality", s.modelQualityHandler)
}

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.checks.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    statuses,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) listDecisionsHandler(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		if _, err := fmt.Sscanf(v, "%d", &limit); err != nil || limit < 1 || limit > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be 1..500"})
			return
		}
	}

	decisions, err := s.store.ListRecent(c.Request.Context(), limit)
	if err != nil {
		logging.L(c.Request.Context()).Error("list decisions failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"decisions": decisions, "count": len(decisions)})
}

func (s *Server) getDecisionHandler(c *gin.Context) {
	txID := c.Param("transactionID")
	d, err := s.store.FindByTransactionID(c.Request.Context(), txID)
	if err != nil {
		if errors.Is(err, fraud.ErrDecisionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}
		logging.L(c.Request.Context()).Error("decision lookup failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage_error"})
		return
	}
	c.JSON(http.StatusOK, d)
}

func (s *Server) modelQualityHandler(c *gin.Context) {
	snap := s.monitor.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"samples":              snap.Samples,
		"mean":                 snap.Mean,
		"stddev":               snap.Stddev,
		"drift":                snap.Drift,
		"low_confidence_ratio": snap.LowConfidenceRatio,
		"drift_alert":          snap.DriftAlert,
		"low_confidence_alert": snap.LowConfidenceAlert,
		"circuit_breaker":      s.breaker.State().String(),
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the consumer and the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background work so Shutdown() can stop it.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	// Tracing
	traceStop, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
	} else {
		s.traceStop = traceStop
	}

	// DB stats collection for the metrics surface
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Start consuming transaction events
	if err := s.consumer.Start(runCtx); err != nil {
		return fmt.Errorf("failed to start consumer: %w", err)
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"transactions_subject", s.cfg.TransactionsSubject,
			"decisions_subject", s.cfg.DecisionsSubject,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Stop taking new events first so in-flight processing can finish.
	if s.consumer != nil {
		if err := s.consumer.Stop(); err != nil {
			s.logger.Error("consumer stop error", "error", err)
		} else {
			s.logger.Info("consumer drained")
		}
	}

	// Cancel background goroutines (stats collectors, message dispatch)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	if s.traceStop != nil {
		if err := s.traceStop(ctx); err != nil {
			s.logger.Error("trace shutdown error", "error", err)
		}
	}

	if s.nc != nil {
		s.nc.Close()
		s.logger.Info("NATS connection closed")
	}

	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("redis close error", "error", err)
		}
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
