package index

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/agentkb/internal/domain"
)

type fakeEmbedder struct {
	mu    sync.Mutex
	vecs  map[string][]float32
	calls atomic.Int64
	err   error
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.vecs[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

func (f *fakeEmbedder) Dimensions() int { return 3 }

type fakeSource struct {
	mu     sync.Mutex
	chunks []domain.Chunk
	err    error
	block  chan struct{}
	loads  atomic.Int64
}

func (s *fakeSource) Load(ctx context.Context) ([]domain.Chunk, error) {
	s.loads.Add(1)
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make([]domain.Chunk, len(s.chunks))
	copy(out, s.chunks)
	return out, nil
}

func (s *fakeSource) set(chunks []domain.Chunk, err error) {
	s.mu.Lock()
	s.chunks, s.err = chunks, err
	s.mu.Unlock()
}

func testCorpus() []domain.Chunk {
	return []domain.Chunk{
		{ID: "pd-1", SourceID: "risk-glossary", Title: "Probability of Default", Text: "PD is the likelihood a borrower defaults within a year.", Metadata: domain.ChunkMetadata{AgentType: "credit"}},
		{ID: "lgd-1", SourceID: "risk-glossary", Title: "Loss Given Default", Text: "LGD is the share of exposure lost when a borrower defaults.", Metadata: domain.ChunkMetadata{AgentType: "credit"}},
		{ID: "kyc-1", SourceID: "onboarding", Title: "KYC", Text: "Know your customer checks verify client identity.", Metadata: domain.ChunkMetadata{AgentType: "onboarding"}},
	}
}

func testEmbedder() *fakeEmbedder {
	return &fakeEmbedder{vecs: map[string][]float32{
		"PD is the likelihood a borrower defaults within a year.":     {1, 0, 0},
		"LGD is the share of exposure lost when a borrower defaults.": {0.6, 0.8, 0},
		"Know your customer checks verify client identity.":           {0, 0, 1},
	}}
}

func TestVectorIndex_SearchBeforeRefresh(t *testing.T) {
	idx := NewVectorIndex(&fakeSource{chunks: testCorpus()}, testEmbedder(), VectorConfig{TTL: time.Hour}, nil)
	idx.refreshing.Store(true) // keep the stale trigger from building in the background

	_, err := idx.Search(context.Background(), []float32{1, 0, 0}, 3, "")
	assert.ErrorIs(t, err, domain.ErrIndexUnavailable)
}

func TestVectorIndex_RefreshAndSearch(t *testing.T) {
	idx := NewVectorIndex(&fakeSource{chunks: testCorpus()}, testEmbedder(), VectorConfig{TTL: time.Hour}, nil)
	require.NoError(t, idx.Refresh(context.Background()))

	results, err := idx.Search(context.Background(), []float32{1, 0, 0}, 2, "")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "pd-1", results[0].Chunk.ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
	assert.Equal(t, "lgd-1", results[1].Chunk.ID)
	assert.InDelta(t, 0.6, results[1].Score, 1e-6)
	assert.Equal(t, domain.RetrievalMethodVector, results[0].Method)

	stats := idx.Stats()
	assert.Equal(t, 3, stats.Chunks)
	assert.Equal(t, 3, stats.Indexed)
	assert.Equal(t, uint64(1), stats.Generation)
	assert.False(t, stats.Stale)
}

func TestVectorIndex_AgentFilter(t *testing.T) {
	idx := NewVectorIndex(&fakeSource{chunks: testCorpus()}, testEmbedder(), VectorConfig{TTL: time.Hour}, nil)
	require.NoError(t, idx.Refresh(context.Background()))

	results, err := idx.Search(context.Background(), []float32{1, 0, 0}, 3, "onboarding")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "kyc-1", results[0].Chunk.ID)
}

func TestVectorIndex_UsesStoredEmbeddings(t *testing.T) {
	corpus := testCorpus()
	for i := range corpus {
		corpus[i].Embedding = []float32{0, 1, 0}
	}
	emb := testEmbedder()
	idx := NewVectorIndex(&fakeSource{chunks: corpus}, emb, VectorConfig{TTL: time.Hour}, nil)
	require.NoError(t, idx.Refresh(context.Background()))

	assert.Equal(t, int64(0), emb.calls.Load())
}

func TestVectorIndex_ReusesEmbeddingsAcrossRefreshes(t *testing.T) {
	src := &fakeSource{chunks: testCorpus()}
	emb := testEmbedder()
	idx := NewVectorIndex(src, emb, VectorConfig{TTL: time.Hour}, nil)

	require.NoError(t, idx.Refresh(context.Background()))
	assert.Equal(t, int64(3), emb.calls.Load())
	gen := idx.Generation()

	require.NoError(t, idx.Refresh(context.Background()))
	assert.Equal(t, int64(3), emb.calls.Load())
	assert.Equal(t, gen, idx.Generation(), "unchanged corpus keeps its generation")

	changed := testCorpus()
	changed[0].Text = "PD estimates default likelihood."
	src.set(changed, nil)
	require.NoError(t, idx.Refresh(context.Background()))
	assert.Equal(t, int64(4), emb.calls.Load())
	assert.Greater(t, idx.Generation(), gen)
}

func TestVectorIndex_FailedRefreshKeepsSnapshot(t *testing.T) {
	src := &fakeSource{chunks: testCorpus()}
	idx := NewVectorIndex(src, testEmbedder(), VectorConfig{TTL: time.Hour}, nil)
	require.NoError(t, idx.Refresh(context.Background()))

	src.set(nil, errors.New("database down"))
	err := idx.Refresh(context.Background())
	assert.Error(t, err)

	results, err := idx.Search(context.Background(), []float32{1, 0, 0}, 1, "")
	require.NoError(t, err)
	assert.Equal(t, "pd-1", results[0].Chunk.ID)
	assert.Contains(t, idx.Stats().LastError, "database down")

	src.set(nil, nil)
	assert.ErrorIs(t, idx.Refresh(context.Background()), domain.ErrEmptyCorpus)
}

func TestVectorIndex_ReadersDoNotBlockOnRefresh(t *testing.T) {
	src := &fakeSource{chunks: testCorpus()}
	idx := NewVectorIndex(src, testEmbedder(), VectorConfig{TTL: time.Hour}, nil)
	require.NoError(t, idx.Refresh(context.Background()))

	src.block = make(chan struct{})
	refreshDone := make(chan error, 1)
	go func() { refreshDone <- idx.Refresh(context.Background()) }()

	require.Eventually(t, func() bool { return src.loads.Load() == 2 }, time.Second, 5*time.Millisecond)

	results, err := idx.Search(context.Background(), []float32{1, 0, 0}, 1, "")
	require.NoError(t, err)
	assert.Equal(t, "pd-1", results[0].Chunk.ID)

	assert.ErrorIs(t, idx.Refresh(context.Background()), ErrRefreshInProgress)

	close(src.block)
	assert.NoError(t, <-refreshDone)
}

func TestVectorIndex_StaleSnapshotTriggersBackgroundRefresh(t *testing.T) {
	src := &fakeSource{chunks: testCorpus()}
	idx := NewVectorIndex(src, testEmbedder(), VectorConfig{TTL: time.Minute}, nil)

	clock := time.Now()
	var clockMu sync.Mutex
	idx.now = func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		return clock
	}
	require.NoError(t, idx.Refresh(context.Background()))

	clockMu.Lock()
	clock = clock.Add(2 * time.Minute)
	clockMu.Unlock()

	results, err := idx.Search(context.Background(), []float32{1, 0, 0}, 1, "")
	require.NoError(t, err)
	assert.Len(t, results, 1, "stale snapshot still serves")

	require.Eventually(t, func() bool { return idx.Stats().Refreshes == 2 }, time.Second, 5*time.Millisecond)
	assert.False(t, idx.Stats().Stale)
}

func TestVectorIndex_EmbeddingFailureLeavesChunksUnindexed(t *testing.T) {
	emb := &fakeEmbedder{err: errors.New("embedding service down")}
	idx := NewVectorIndex(&fakeSource{chunks: testCorpus()}, emb, VectorConfig{TTL: time.Hour}, nil)
	require.NoError(t, idx.Refresh(context.Background()))

	_, err := idx.Search(context.Background(), []float32{1, 0, 0}, 3, "")
	assert.ErrorIs(t, err, domain.ErrIndexUnavailable)

	chunks, err := idx.Chunks(context.Background())
	require.NoError(t, err)
	assert.Len(t, chunks, 3)
}

func TestVectorIndex_ChunksFallsBackToSource(t *testing.T) {
	idx := NewVectorIndex(&fakeSource{chunks: testCorpus()}, testEmbedder(), VectorConfig{}, nil)

	chunks, err := idx.Chunks(context.Background())
	require.NoError(t, err)
	assert.Len(t, chunks, 3)
}

func TestVectorIndex_EmbeddedChunks(t *testing.T) {
	idx := NewVectorIndex(&fakeSource{chunks: testCorpus()}, testEmbedder(), VectorConfig{TTL: time.Hour}, nil)
	assert.Nil(t, idx.EmbeddedChunks())

	require.NoError(t, idx.Refresh(context.Background()))

	chunks := idx.EmbeddedChunks()
	require.Len(t, chunks, 3)
	byID := map[string][]float32{}
	for _, c := range chunks {
		byID[c.ID] = c.Embedding
	}
	assert.Equal(t, []float32{1, 0, 0}, byID["pd-1"])
	assert.Equal(t, []float32{0, 0, 1}, byID["kyc-1"])

	// the snapshot itself is not modified
	raw, err := idx.Chunks(context.Background())
	require.NoError(t, err)
	for _, c := range raw {
		assert.Nil(t, c.Embedding)
	}
}
