package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/cloo-solutions/agentkb/internal/index"
	"github.com/cloo-solutions/agentkb/internal/logging"
	"github.com/cloo-solutions/agentkb/internal/telemetry"
)

// VectorAdmin is the maintenance surface of the vector index.
type VectorAdmin interface {
	Refresh(ctx context.Context) error
	Stats() index.VectorStats
}

// LexicalAdmin is the maintenance surface of the lexical index.
type LexicalAdmin interface {
	Invalidate()
	Stats() index.LexicalStats
}

// IndexStats summarizes every cache and index the engine owns.
type IndexStats struct {
	Vector       index.VectorStats  `json:"vector"`
	Lexical      index.LexicalStats `json:"lexical"`
	CacheEntries int                `json:"cache_entries"`
}

// IndexService refreshes indices and reports their state.
type IndexService struct {
	vector  VectorAdmin
	lexical LexicalAdmin
	cache   *ResponseCache
	logger  *zap.Logger
	metrics *telemetry.Metrics
}

// NewIndexService creates an IndexService.
func NewIndexService(vector VectorAdmin, lexical LexicalAdmin, cache *ResponseCache, logger *zap.Logger, metrics *telemetry.Metrics) *IndexService {
	return &IndexService{
		vector:  vector,
		lexical: lexical,
		cache:   cache,
		logger:  logging.OrNop(logger).Named("index"),
		metrics: metrics,
	}
}

// RefreshIndex rebuilds the vector snapshot and schedules a lexical rebuild.
func (s *IndexService) RefreshIndex(ctx context.Context) error {
	err := s.vector.Refresh(ctx)
	if errors.Is(err, index.ErrRefreshInProgress) {
		return err
	}
	s.metrics.ObserveIndexRefresh(err, s.vector.Stats().Indexed)
	if err != nil {
		return err
	}
	if s.lexical != nil {
		s.lexical.Invalidate()
	}
	return nil
}

// Stats reports index and cache state.
func (s *IndexService) Stats() IndexStats {
	st := IndexStats{Vector: s.vector.Stats()}
	if s.lexical != nil {
		st.Lexical = s.lexical.Stats()
	}
	if s.cache != nil {
		st.CacheEntries = s.cache.Len()
	}
	return st
}
