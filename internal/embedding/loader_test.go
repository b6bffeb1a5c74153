package embedding

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

func TestLoader_WarmOnce(t *testing.T) {
	backend := new(MockBackend)
	backend.On("GenerateEmbedding", mock.Anything, warmupText).Return([]float32{1, 0, 0}, nil).Once()

	loader := NewLoader(backend, "mock", nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, loader.Warm(context.Background()))
		}()
	}
	wg.Wait()

	assert.True(t, loader.Ready())
	assert.Equal(t, 3, loader.Dimensions())
	backend.AssertNumberOfCalls(t, "GenerateEmbedding", 1)
}

func TestLoader_WarmFailureStillEmbeds(t *testing.T) {
	backend := new(MockBackend)
	backend.On("GenerateEmbedding", mock.Anything, warmupText).Return(nil, errors.New("cold")).Once()
	backend.On("GenerateEmbedding", mock.Anything, "hello").Return([]float32{0, 1}, nil)

	loader := NewLoader(backend, "mock", nil)

	err := loader.Warm(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "warmup failed")
	assert.False(t, loader.Ready())

	// the failure is sticky for Warm but not for Embed
	assert.Error(t, loader.Warm(context.Background()))
	vec, err := loader.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1}, vec)
	assert.True(t, loader.Ready())
	assert.Equal(t, 2, loader.Dimensions())
}

func TestLoader_EmbedDimensionMismatch(t *testing.T) {
	backend := new(MockBackend)
	backend.On("GenerateEmbedding", mock.Anything, warmupText).Return([]float32{1, 0, 0}, nil)
	backend.On("GenerateEmbedding", mock.Anything, "short").Return([]float32{1}, nil)

	loader := NewLoader(backend, "mock", nil)
	require.NoError(t, loader.Warm(context.Background()))

	_, err := loader.Embed(context.Background(), "short")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "dimension changed")
}

func TestLoader_EmbedEmpty(t *testing.T) {
	loader := NewLoader(new(MockBackend), "mock", nil)
	_, err := loader.Embed(context.Background(), "")
	assert.Error(t, err)
}

func TestHashingEmbedder_Deterministic(t *testing.T) {
	h := NewHashingEmbedder(64)
	a, err := h.GenerateEmbedding(context.Background(), "probability of default")
	require.NoError(t, err)
	b, err := h.GenerateEmbedding(context.Background(), "Probability of DEFAULT?")
	require.NoError(t, err)

	assert.Len(t, a, 64)
	assert.Equal(t, a, b)

	var norm float64
	for _, v := range a {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, norm, 1e-5)
}

func TestHashingEmbedder_EmptyText(t *testing.T) {
	vec, err := NewHashingEmbedder(0).GenerateEmbedding(context.Background(), "the of")
	require.NoError(t, err)
	assert.Len(t, vec, DefaultHashingDimensions)
	for _, v := range vec {
		assert.Zero(t, v)
	}
}

func TestHashingEmbedder_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewHashingEmbedder(8).GenerateEmbedding(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}
