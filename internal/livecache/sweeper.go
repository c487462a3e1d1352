package livecache

import (
	"context"
	"time"

	"aquaflow/internal/metrics"

	"go.uber.org/zap"
)

// DefaultSweepInterval cadence of the liveness sweep
const DefaultSweepInterval = time.Second

// Sweeper periodically demotes stale readings
type Sweeper struct {
	cache    *LiveCache
	interval time.Duration
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewSweeper creates a sweeper; a non-positive interval falls back to the default
func NewSweeper(cache *LiveCache, interval time.Duration, m *metrics.Metrics, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		cache:    cache,
		interval: interval,
		metrics:  m,
		logger:   logger,
	}
}

// Run sweeps until ctx is cancelled
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("Liveness sweeper started",
		zap.Duration("interval", s.interval),
		zap.Duration("active_timeout", s.cache.ActiveTimeout()),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Liveness sweeper stopped")
			return
		case <-ticker.C:
			s.SweepOnce()
		}
	}
}

// SweepOnce runs one demotion pass
func (s *Sweeper) SweepOnce() int {
	demoted := s.cache.Sweep()
	s.metrics.Sweep(demoted, len(s.cache.ActiveSensorIDs()))
	if demoted > 0 {
		s.logger.Debug("Demoted stale readings", zap.Int("count", demoted))
	}
	return demoted
}
