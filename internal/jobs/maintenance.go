package jobs

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/cloo-solutions/agentkb/internal/index"
	"github.com/cloo-solutions/agentkb/internal/logging"
	"github.com/cloo-solutions/agentkb/internal/telemetry"
)

// IndexRefresher is the part of the index service a refresh job drives.
type IndexRefresher interface {
	RefreshIndex(ctx context.Context) error
}

// RefreshJob rebuilds the indices on every tick. A refresh already running
// elsewhere is not an error.
type RefreshJob struct {
	refresher IndexRefresher
	logger    *zap.Logger
}

// NewRefreshJob creates a RefreshJob.
func NewRefreshJob(refresher IndexRefresher, logger *zap.Logger) *RefreshJob {
	return &RefreshJob{refresher: refresher, logger: logging.OrNop(logger)}
}

// ProcessJobs runs one refresh.
func (j *RefreshJob) ProcessJobs(ctx context.Context) error {
	err := j.refresher.RefreshIndex(ctx)
	if errors.Is(err, index.ErrRefreshInProgress) {
		j.logger.Debug("index refresh skipped, already running")
		return nil
	}
	return err
}

// CacheSweeper drops expired response cache entries.
type CacheSweeper interface {
	Sweep() int
}

// SessionSweeper drops idle conversation sessions.
type SessionSweeper interface {
	Sweep(ctx context.Context) (int, error)
	Len() int
}

// SweepJob expires cache entries and idle sessions.
type SweepJob struct {
	cache    CacheSweeper
	sessions SessionSweeper
	metrics  *telemetry.Metrics
	logger   *zap.Logger
}

// NewSweepJob creates a SweepJob. sessions may be nil when sessions expire on
// their own (Redis).
func NewSweepJob(cache CacheSweeper, sessions SessionSweeper, metrics *telemetry.Metrics, logger *zap.Logger) *SweepJob {
	return &SweepJob{
		cache:    cache,
		sessions: sessions,
		metrics:  metrics,
		logger:   logging.OrNop(logger),
	}
}

// ProcessJobs runs one sweep.
func (j *SweepJob) ProcessJobs(ctx context.Context) error {
	expired := 0
	if j.cache != nil {
		expired = j.cache.Sweep()
	}
	if j.sessions == nil {
		j.logger.Debug("sweep complete", zap.Int("cache_expired", expired))
		return nil
	}

	idle, err := j.sessions.Sweep(ctx)
	if err != nil {
		return err
	}
	j.metrics.SetSessions(j.sessions.Len())
	j.logger.Debug("sweep complete",
		zap.Int("cache_expired", expired),
		zap.Int("sessions_expired", idle),
	)
	return nil
}
