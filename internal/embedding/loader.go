// Package embedding owns the process-wide text-to-vector model handle.
package embedding

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/cloo-solutions/agentkb/internal/logging"
)

// Backend produces embeddings. *openai.Client and *HashingEmbedder satisfy it.
type Backend interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

const warmupText = "warmup request for the embedding model"

// Loader is the warm singleton wrapping an embedding backend. Construct it once
// at startup, call Warm, and inject it wherever embeddings are needed.
type Loader struct {
	backend Backend
	name    string
	logger  *zap.Logger

	once    sync.Once
	warmErr error
	dims    atomic.Int64
	ready   atomic.Bool
}

// NewLoader creates a loader around backend. name is used in logs and stats.
func NewLoader(backend Backend, name string, logger *zap.Logger) *Loader {
	return &Loader{
		backend: backend,
		name:    name,
		logger:  logging.OrNop(logger).Named("embedding"),
	}
}

// Warm runs a single warmup embedding so the first request does not pay the
// model's cold start. Only the first call does work; later calls return the
// first result.
func (l *Loader) Warm(ctx context.Context) error {
	l.once.Do(func() {
		start := time.Now()
		vec, err := l.backend.GenerateEmbedding(ctx, warmupText)
		if err != nil {
			l.warmErr = fmt.Errorf("embedding warmup failed: %w", err)
			l.logger.Warn("embedding warmup failed", zap.String("backend", l.name), zap.Error(err))
			return
		}
		l.dims.Store(int64(len(vec)))
		l.ready.Store(true)
		l.logger.Info("embedding model warm",
			zap.String("backend", l.name),
			zap.Int("dimensions", len(vec)),
			zap.Duration("took", time.Since(start)),
		)
	})
	return l.warmErr
}

// Embed returns the embedding for text. A failed warmup does not disable the
// loader; the backend is retried on every call.
func (l *Loader) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("embedding text cannot be empty")
	}
	vec, err := l.backend.GenerateEmbedding(ctx, text)
	if err != nil {
		return nil, err
	}

	want := l.dims.Load()
	if want == 0 {
		l.dims.CompareAndSwap(0, int64(len(vec)))
		l.ready.Store(true)
	} else if int64(len(vec)) != want {
		return nil, fmt.Errorf("embedding dimension changed: expected %d, got %d", want, len(vec))
	}
	return vec, nil
}

// Dimensions returns the vector width, or 0 before the first successful embedding.
func (l *Loader) Dimensions() int {
	return int(l.dims.Load())
}

// Ready reports whether the backend has produced at least one embedding.
func (l *Loader) Ready() bool {
	return l.ready.Load()
}

// Name identifies the backend.
func (l *Loader) Name() string {
	return l.name
}
