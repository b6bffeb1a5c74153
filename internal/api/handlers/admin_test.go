package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/cloo-solutions/agentkb/internal/index"
	"github.com/cloo-solutions/agentkb/internal/service"
)

type fakeFlusher struct{ n int }

func (f *fakeFlusher) FlushCache() int { return f.n }

type MockIndexService struct {
	mock.Mock
}

func (m *MockIndexService) RefreshIndex(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockIndexService) Stats() service.IndexStats {
	return m.Called().Get(0).(service.IndexStats)
}

func testStats() service.IndexStats {
	return service.IndexStats{
		Vector:       index.VectorStats{Chunks: 12, Indexed: 12, Generation: 3},
		Lexical:      index.LexicalStats{Documents: 12, Terms: 240},
		CacheEntries: 4,
	}
}

func TestAdminHandler_FlushCache(t *testing.T) {
	handler := NewAdminHandler(&fakeFlusher{n: 7}, new(MockIndexService))

	w := httptest.NewRecorder()
	handler.FlushCache(w, httptest.NewRequest(http.MethodPost, "/admin/cache/flush", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 7, decode[FlushResponse](t, w).Data.Flushed)
}

func TestAdminHandler_RefreshIndex(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"success", nil, http.StatusOK},
		{"in progress", index.ErrRefreshInProgress, http.StatusConflict},
		{"corpus failure", errors.New("corpus unreachable"), http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockIndexService)
			svc.On("RefreshIndex", mock.Anything).Return(tt.err)
			svc.On("Stats").Return(testStats()).Maybe()
			handler := NewAdminHandler(&fakeFlusher{}, svc)

			w := httptest.NewRecorder()
			handler.RefreshIndex(w, httptest.NewRequest(http.MethodPost, "/admin/index/refresh", nil))

			assert.Equal(t, tt.status, w.Code)
			if tt.err == nil {
				assert.Equal(t, uint64(3), decode[service.IndexStats](t, w).Data.Vector.Generation)
			}
		})
	}
}

func TestAdminHandler_IndexStats(t *testing.T) {
	svc := new(MockIndexService)
	svc.On("Stats").Return(testStats())
	handler := NewAdminHandler(&fakeFlusher{}, svc)

	w := httptest.NewRecorder()
	handler.IndexStats(w, httptest.NewRequest(http.MethodGet, "/admin/index/stats", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	out := decode[service.IndexStats](t, w).Data
	assert.Equal(t, 12, out.Vector.Chunks)
	assert.Equal(t, 240, out.Lexical.Terms)
	assert.Equal(t, 4, out.CacheEntries)
}
