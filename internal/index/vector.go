package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cloo-solutions/agentkb/internal/domain"
	"github.com/cloo-solutions/agentkb/internal/logging"
)

// ErrRefreshInProgress is returned when another refresh holds the writer slot.
var ErrRefreshInProgress = errors.New("vector index refresh already in progress")

// Embedder turns chunk text into vectors. *embedding.Loader satisfies it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// VectorConfig tunes the vector index.
type VectorConfig struct {
	TTL              time.Duration
	EmbedConcurrency int
	RefreshTimeout   time.Duration
}

// DefaultVectorConfig returns the production defaults.
func DefaultVectorConfig() VectorConfig {
	return VectorConfig{
		TTL:              60 * time.Second,
		EmbedConcurrency: 4,
		RefreshTimeout:   2 * time.Minute,
	}
}

type vectorSnapshot struct {
	chunks     []domain.Chunk
	vectors    [][]float32
	norms      []float64
	indexed    int
	signature  string
	generation uint64
	builtAt    time.Time
}

// VectorStats describes the current snapshot.
type VectorStats struct {
	Chunks      int       `json:"chunks"`
	Indexed     int       `json:"indexed"`
	Generation  uint64    `json:"generation"`
	BuiltAt     time.Time `json:"built_at"`
	Stale       bool      `json:"stale"`
	LastError   string    `json:"last_error,omitempty"`
	Refreshes   int64     `json:"refreshes"`
	LastAttempt time.Time `json:"last_attempt"`
}

// VectorIndex is a brute-force cosine index over an immutable snapshot.
// Readers load the snapshot pointer and never wait on a refresh; a refresh
// builds a complete new snapshot and swaps it in atomically.
type VectorIndex struct {
	source   ChunkSource
	embedder Embedder
	cfg      VectorConfig
	logger   *zap.Logger
	now      func() time.Time

	current    atomic.Pointer[vectorSnapshot]
	writer     sync.Mutex
	refreshing atomic.Bool
	generation atomic.Uint64
	refreshes  atomic.Int64

	mu          sync.Mutex
	lastErr     error
	lastAttempt time.Time
}

// NewVectorIndex creates an empty index. Call Refresh before serving.
func NewVectorIndex(source ChunkSource, embedder Embedder, cfg VectorConfig, logger *zap.Logger) *VectorIndex {
	def := DefaultVectorConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.EmbedConcurrency <= 0 {
		cfg.EmbedConcurrency = def.EmbedConcurrency
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = def.RefreshTimeout
	}
	return &VectorIndex{
		source:   source,
		embedder: embedder,
		cfg:      cfg,
		logger:   logging.OrNop(logger).Named("vector_index"),
		now:      time.Now,
	}
}

// Refresh reloads the corpus and swaps in a new snapshot. Only one refresh
// runs at a time; a concurrent call returns ErrRefreshInProgress. On failure
// the previous snapshot keeps serving.
func (v *VectorIndex) Refresh(ctx context.Context) error {
	if !v.writer.TryLock() {
		return ErrRefreshInProgress
	}
	defer v.writer.Unlock()

	start := v.now()
	v.mu.Lock()
	v.lastAttempt = start
	v.mu.Unlock()

	snap, err := v.build(ctx)
	v.mu.Lock()
	v.lastErr = err
	v.mu.Unlock()
	if err != nil {
		v.logger.Warn("vector index refresh failed, keeping previous snapshot", zap.Error(err))
		return err
	}

	v.current.Store(snap)
	v.refreshes.Add(1)
	v.logger.Info("vector index refreshed",
		zap.Int("chunks", len(snap.chunks)),
		zap.Int("indexed", snap.indexed),
		zap.Uint64("generation", snap.generation),
		zap.Duration("took", v.now().Sub(start)),
	)
	return nil
}

func (v *VectorIndex) build(ctx context.Context) (*vectorSnapshot, error) {
	chunks, err := v.source.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load corpus: %w", err)
	}
	if len(chunks) == 0 {
		return nil, domain.ErrEmptyCorpus
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].ID < chunks[j].ID })

	prev := v.current.Load()
	reuse := make(map[string]int)
	if prev != nil {
		for i, c := range prev.chunks {
			if prev.vectors[i] != nil {
				reuse[c.ID] = i
			}
		}
	}

	dims := v.embedder.Dimensions()
	vectors := make([][]float32, len(chunks))
	var failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.cfg.EmbedConcurrency)
	for i := range chunks {
		c := chunks[i]
		if len(c.Embedding) > 0 && (dims == 0 || len(c.Embedding) == dims) {
			vectors[i] = c.Embedding
			continue
		}
		if j, ok := reuse[c.ID]; ok && prev.chunks[j].Text == c.Text {
			vectors[i] = prev.vectors[j]
			continue
		}
		g.Go(func() error {
			vec, err := v.embedder.Embed(gctx, c.Text)
			if err != nil {
				failed.Add(1)
				v.logger.Debug("chunk embedding failed", zap.String("chunk_id", c.ID), zap.Error(err))
				return nil
			}
			vectors[i] = vec
			return nil
		})
	}
	_ = g.Wait()

	snap := &vectorSnapshot{
		chunks:  chunks,
		vectors: vectors,
		norms:   make([]float64, len(chunks)),
		builtAt: v.now(),
	}
	for i, vec := range vectors {
		if vec == nil {
			continue
		}
		snap.norms[i] = vectorNorm(vec)
		snap.indexed++
	}
	if n := failed.Load(); n > 0 {
		v.logger.Warn("some chunks could not be embedded", zap.Int64("failed", n), zap.Int("total", len(chunks)))
	}

	snap.signature = corpusSignature(chunks)
	if prev != nil && prev.signature == snap.signature && prev.indexed == snap.indexed {
		snap.generation = prev.generation
	} else {
		snap.generation = v.generation.Add(1)
	}
	return snap, nil
}

// corpusSignature changes whenever a chunk is added, removed or edited.
func corpusSignature(chunks []domain.Chunk) string {
	h := sha256.New()
	for _, c := range chunks {
		h.Write([]byte(c.ID))
		h.Write([]byte{0})
		h.Write([]byte(c.Text))
		h.Write([]byte{0})
		h.Write([]byte(c.Metadata.AgentType))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Search returns the k chunks most similar to query. Chunks tagged for a
// different agent are skipped when agentType is set. A stale snapshot is
// still searched while a background refresh is started.
func (v *VectorIndex) Search(ctx context.Context, query []float32, k int, agentType string) ([]domain.RetrievalResult, error) {
	snap := v.current.Load()
	v.refreshIfStale(ctx, snap)

	if snap == nil || snap.indexed == 0 {
		return nil, domain.ErrIndexUnavailable
	}
	if k <= 0 {
		return nil, nil
	}

	qNorm := vectorNorm(query)
	if qNorm == 0 {
		return nil, nil
	}

	results := make([]domain.RetrievalResult, 0, k)
	for i, c := range snap.chunks {
		vec := snap.vectors[i]
		if vec == nil || !matchesAgent(c, agentType) {
			continue
		}
		results = append(results, domain.RetrievalResult{
			Chunk:  c,
			Score:  cosine(query, qNorm, vec, snap.norms[i]),
			Method: domain.RetrievalMethodVector,
		})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (v *VectorIndex) refreshIfStale(ctx context.Context, snap *vectorSnapshot) {
	now := v.now()
	if snap != nil && now.Sub(snap.builtAt) < v.cfg.TTL {
		return
	}
	v.mu.Lock()
	recent := now.Sub(v.lastAttempt) < v.cfg.TTL
	v.mu.Unlock()
	if recent {
		return
	}
	if !v.refreshing.CompareAndSwap(false, true) {
		return
	}

	go func() {
		defer v.refreshing.Store(false)
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), v.cfg.RefreshTimeout)
		defer cancel()
		if err := v.Refresh(rctx); err != nil && !errors.Is(err, ErrRefreshInProgress) {
			v.logger.Debug("background refresh failed", zap.Error(err))
		}
	}()
}

// Chunks returns the chunks of the current snapshot, or loads them from the
// source when no snapshot has been built yet.
func (v *VectorIndex) Chunks(ctx context.Context) ([]domain.Chunk, error) {
	if snap := v.current.Load(); snap != nil {
		return snap.chunks, nil
	}
	return v.source.Load(ctx)
}

// EmbeddedChunks returns the current snapshot's chunks with their vectors
// attached. Chunks that could not be embedded are returned without one.
func (v *VectorIndex) EmbeddedChunks() []domain.Chunk {
	snap := v.current.Load()
	if snap == nil {
		return nil
	}
	out := make([]domain.Chunk, len(snap.chunks))
	for i, c := range snap.chunks {
		c.Embedding = snap.vectors[i]
		out[i] = c
	}
	return out
}

// Generation identifies the corpus content of the current snapshot. It only
// changes when the corpus content changes.
func (v *VectorIndex) Generation() uint64 {
	if snap := v.current.Load(); snap != nil {
		return snap.generation
	}
	return 0
}

// Stats reports the current snapshot state.
func (v *VectorIndex) Stats() VectorStats {
	v.mu.Lock()
	lastErr, lastAttempt := v.lastErr, v.lastAttempt
	v.mu.Unlock()

	st := VectorStats{Refreshes: v.refreshes.Load(), LastAttempt: lastAttempt}
	if lastErr != nil {
		st.LastError = lastErr.Error()
	}
	snap := v.current.Load()
	if snap == nil {
		st.Stale = true
		return st
	}
	st.Chunks = len(snap.chunks)
	st.Indexed = snap.indexed
	st.Generation = snap.generation
	st.BuiltAt = snap.builtAt
	st.Stale = v.now().Sub(snap.builtAt) >= v.cfg.TTL
	return st
}
