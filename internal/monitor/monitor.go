// Package monitor tracks rolling ML score quality: mean, spread, drift
// against a frozen baseline, and clustering inside the low-confidence band.
// Anomaly signals are edge-triggered so a sustained condition counts once.
package monitor

import (
	"log/slog"
	"math"
	"sync"

	"github.com/fraudguard/fraudguard/internal/metrics"
	"github.com/fraudguard/fraudguard/internal/scoring"
)

// Defaults mirror the tuning the model team settled on in production.
const (
	defaultBaselineSize       = 200
	defaultRecentSize         = 400
	defaultBandLow            = 0.40
	defaultBandHigh           = 0.60
	defaultDriftThreshold     = 0.12
	defaultLowConfidenceAlert = 0.45
)

// Config tunes the monitor windows and alert thresholds.
type Config struct {
	// BaselineSize is the capacity of the baseline window. It fills once
	// and is then frozen forever.
	BaselineSize int
	// RecentSize is the capacity of the recent window, which evicts
	// oldest-first once full.
	RecentSize int
	// BandLow and BandHigh bound the "uncertain" score band, inclusive.
	BandLow  float64
	BandHigh float64
	// DriftThreshold is the |recent mean - baseline mean| alert level.
	DriftThreshold float64
	// LowConfidenceAlert is the in-band ratio alert level.
	LowConfidenceAlert float64
}

func (c Config) withDefaults() Config {
	if c.BaselineSize <= 0 {
		c.BaselineSize = defaultBaselineSize
	}
	if c.RecentSize <= 0 {
		c.RecentSize = defaultRecentSize
	}
	if c.BandHigh <= 0 {
		c.BandLow = defaultBandLow
		c.BandHigh = defaultBandHigh
	}
	if c.DriftThreshold <= 0 {
		c.DriftThreshold = defaultDriftThreshold
	}
	if c.LowConfidenceAlert <= 0 {
		c.LowConfidenceAlert = defaultLowConfidenceAlert
	}
	return c
}

// Stats is a consistent snapshot of the monitor's published values.
type Stats struct {
	Samples            int
	Mean               float64
	Stddev             float64
	Drift              float64
	LowConfidenceRatio float64
	DriftSpikes        uint64
	LowConfidenceSpike uint64
	DriftAlert         bool
	LowConfidenceAlert bool
}

// Monitor holds the two score windows. Record is the sole mutator; a
// single mutex around it keeps the window append and the statistics
// recomputation atomic per call.
type Monitor struct {
	mu  sync.Mutex
	cfg Config

	baseline []float64
	recent   []float64
	next     int

	driftAlert   bool
	lowConfAlert bool
	stats        Stats

	logger *slog.Logger
}

// New creates a monitor with empty windows.
func New(cfg Config, logger *slog.Logger) *Monitor {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		cfg:      cfg,
		baseline: make([]float64, 0, cfg.BaselineSize),
		recent:   make([]float64, 0, cfg.RecentSize),
		logger:   logger,
	}
}

// Record observes one ML score. The input is clamped to [0, 1] (NaN and
// infinities read as 0) before it enters either window.
func (m *Monitor) Record(score float64) {
	score = scoring.Clamp01(score)

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.recent) < m.cfg.RecentSize {
		m.recent = append(m.recent, score)
	} else {
		m.recent[m.next] = score
		m.next = (m.next + 1) % m.cfg.RecentSize
	}
	if len(m.baseline) < m.cfg.BaselineSize {
		m.baseline = append(m.baseline, score)
	}

	m.recompute()
	metrics.MLScoreDistribution.Observe(score)
}

// recompute refreshes the published statistics and fires edge-triggered
// spike signals. Called with the mutex held.
func (m *Monitor) recompute() {
	mean := meanOf(m.recent)
	stddev := stddevOf(m.recent, mean)

	baselineMean := mean
	if len(m.baseline) > 0 {
		baselineMean = meanOf(m.baseline)
	}
	drift := math.Abs(mean - baselineMean)

	inBand := 0
	for _, s := range m.recent {
		if s >= m.cfg.BandLow && s <= m.cfg.BandHigh {
			inBand++
		}
	}
	ratio := float64(inBand) / float64(len(m.recent))

	metrics.MLScoreMean.Set(mean)
	metrics.MLScoreStddev.Set(stddev)
	metrics.MLScoreDrift.Set(drift)
	metrics.MLLowConfidenceRatio.Set(ratio)

	driftHigh := drift >= m.cfg.DriftThreshold
	if driftHigh && !m.driftAlert {
		m.stats.DriftSpikes++
		metrics.AnomalySpikesTotal.WithLabelValues("drift").Inc()
		m.logger.Warn("ml_score_drift_spike",
			"drift", drift, "threshold", m.cfg.DriftThreshold,
			"recent_mean", mean, "baseline_mean", baselineMean)
	}
	m.driftAlert = driftHigh

	confHigh := ratio >= m.cfg.LowConfidenceAlert
	if confHigh && !m.lowConfAlert {
		m.stats.LowConfidenceSpike++
		metrics.AnomalySpikesTotal.WithLabelValues("low_confidence").Inc()
		m.logger.Warn("ml_low_confidence_spike",
			"ratio", ratio, "threshold", m.cfg.LowConfidenceAlert,
			"band_low", m.cfg.BandLow, "band_high", m.cfg.BandHigh)
	}
	m.lowConfAlert = confHigh

	m.stats.Samples = len(m.recent)
	m.stats.Mean = mean
	m.stats.Stddev = stddev
	m.stats.Drift = drift
	m.stats.LowConfidenceRatio = ratio
	m.stats.DriftAlert = driftHigh
	m.stats.LowConfidenceAlert = confHigh
}

// Snapshot returns the latest published statistics.
func (m *Monitor) Snapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

func meanOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// stddevOf is the population standard deviation, not the sample one.
func stddevOf(xs []float64, mean float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sumSq float64
	for _, x := range xs {
		d := x - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(xs)))
}
