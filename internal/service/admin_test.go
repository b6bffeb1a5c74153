package service

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/agentkb/internal/domain"
	"github.com/cloo-solutions/agentkb/internal/index"
	"github.com/cloo-solutions/agentkb/internal/telemetry"
)

// MockVectorAdmin is a mock for VectorAdmin
type MockVectorAdmin struct {
	mock.Mock
}

func (m *MockVectorAdmin) Refresh(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockVectorAdmin) Stats() index.VectorStats {
	args := m.Called()
	return args.Get(0).(index.VectorStats)
}

type fakeLexicalAdmin struct {
	invalidated int
	stats       index.LexicalStats
}

func (f *fakeLexicalAdmin) Invalidate()               { f.invalidated++ }
func (f *fakeLexicalAdmin) Stats() index.LexicalStats { return f.stats }

func TestIndexService_RefreshIndex(t *testing.T) {
	vec := new(MockVectorAdmin)
	lex := &fakeLexicalAdmin{}
	reg := prometheus.NewRegistry()
	svc := NewIndexService(vec, lex, nil, nil, telemetry.NewMetrics(reg))

	vec.On("Refresh", mock.Anything).Return(nil).Once()
	vec.On("Stats").Return(index.VectorStats{Chunks: 4, Indexed: 4, Generation: 2})

	require.NoError(t, svc.RefreshIndex(context.Background()))
	assert.Equal(t, 1, lex.invalidated)

	count, err := testutil.GatherAndCount(reg, "agentkb_vector_index_refreshes_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	vec.AssertExpectations(t)
}

func TestIndexService_RefreshFailureKeepsLexical(t *testing.T) {
	vec := new(MockVectorAdmin)
	lex := &fakeLexicalAdmin{}
	svc := NewIndexService(vec, lex, nil, nil, nil)

	boom := errors.New("source unreachable")
	vec.On("Refresh", mock.Anything).Return(boom).Once()
	vec.On("Stats").Return(index.VectorStats{})

	err := svc.RefreshIndex(context.Background())

	assert.ErrorIs(t, err, boom)
	assert.Zero(t, lex.invalidated)
}

func TestIndexService_RefreshInProgress(t *testing.T) {
	vec := new(MockVectorAdmin)
	lex := &fakeLexicalAdmin{}
	svc := NewIndexService(vec, lex, nil, nil, nil)

	vec.On("Refresh", mock.Anything).Return(index.ErrRefreshInProgress).Once()

	err := svc.RefreshIndex(context.Background())

	assert.ErrorIs(t, err, index.ErrRefreshInProgress)
	assert.Zero(t, lex.invalidated)
	vec.AssertNotCalled(t, "Stats")
}

func TestIndexService_Stats(t *testing.T) {
	vec := new(MockVectorAdmin)
	lex := &fakeLexicalAdmin{stats: index.LexicalStats{Documents: 4, Terms: 120}}
	cache := NewResponseCache(0, 0)
	cache.Store("k", CacheKey{Normalized: "q", Generation: 1}, domain.Response{Reply: "r"})
	svc := NewIndexService(vec, lex, cache, nil, nil)

	vec.On("Stats").Return(index.VectorStats{Chunks: 4, Indexed: 3, Generation: 7})

	st := svc.Stats()

	assert.Equal(t, 3, st.Vector.Indexed)
	assert.Equal(t, uint64(7), st.Vector.Generation)
	assert.Equal(t, 120, st.Lexical.Terms)
	assert.Equal(t, 1, st.CacheEntries)
}
