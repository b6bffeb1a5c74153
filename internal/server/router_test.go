package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/agentkb/internal/api/handlers"
	"github.com/cloo-solutions/agentkb/internal/api/middleware"
	"github.com/cloo-solutions/agentkb/internal/domain"
	"github.com/cloo-solutions/agentkb/internal/index"
	"github.com/cloo-solutions/agentkb/internal/service"
	"github.com/cloo-solutions/agentkb/internal/telemetry"
)

const testKey = "akb_router_test_key"

type fakeIndexes struct {
	refreshes int
}

func (f *fakeIndexes) RefreshIndex(context.Context) error {
	f.refreshes++
	return nil
}

func (f *fakeIndexes) Stats() service.IndexStats {
	return service.IndexStats{Vector: index.VectorStats{Chunks: 2, Generation: 1}}
}

func newTestRouter(t *testing.T, keys []string) (http.Handler, *fakeIndexes) {
	t.Helper()
	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)

	chat := service.NewChatService(service.ChatDeps{Metrics: metrics}, service.DefaultEngineOptions())
	indexes := &fakeIndexes{}

	return NewRouter(RouterConfig{
		Keys:         middleware.NewStaticKeys(keys),
		Gatherer:     reg,
		ChatHandler:  handlers.NewChatHandler(chat),
		AdminHandler: handlers.NewAdminHandler(chat, indexes),
	}), indexes
}

func do(h http.Handler, method, path, body, key string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRouter_HealthIsPublic(t *testing.T) {
	router, _ := newTestRouter(t, []string{testKey})

	w := do(router, http.MethodGet, "/health", "", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRouter_RequiresKey(t *testing.T) {
	router, _ := newTestRouter(t, []string{testKey})

	w := do(router, http.MethodPost, "/chat", `{"message":"What is PD?"}`, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(router, http.MethodPost, "/chat", `{"message":"What is PD?"}`, "wrong")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRouter_ChatAndSessionLifecycle(t *testing.T) {
	router, _ := newTestRouter(t, []string{testKey})

	w := do(router, http.MethodPost, "/chat", `{"message":"What is PD?","session_id":"s-1"}`, testKey)
	require.Equal(t, http.StatusOK, w.Code)

	var chat struct {
		Data domain.Response `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &chat))
	assert.Equal(t, "s-1", chat.Data.SessionID)
	assert.NotEmpty(t, chat.Data.Reply)
	assert.NotNil(t, chat.Data.Sources)

	w = do(router, http.MethodGet, "/sessions/s-1/history", "", testKey)
	require.Equal(t, http.StatusOK, w.Code)
	var history struct {
		Data handlers.HistoryResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &history))
	require.Len(t, history.Data.Turns, 1)
	assert.Equal(t, "What is PD?", history.Data.Turns[0].Query)

	w = do(router, http.MethodDelete, "/sessions/s-1", "", testKey)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(router, http.MethodGet, "/sessions/s-1/history", "", testKey)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &history))
	assert.Empty(t, history.Data.Turns)
}

func TestRouter_MalformedChat(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	w := do(router, http.MethodPost, "/chat", `{"message":`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(router, http.MethodPost, "/chat", `{"message":"   "}`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouter_AdminRoutes(t *testing.T) {
	router, indexes := newTestRouter(t, []string{testKey})

	w := do(router, http.MethodPost, "/admin/cache/flush", "", testKey)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"flushed":0`)

	w = do(router, http.MethodPost, "/admin/index/refresh", "", testKey)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, indexes.refreshes)

	w = do(router, http.MethodGet, "/admin/index/stats", "", testKey)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"generation":1`)
}

func TestRouter_Metrics(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	do(router, http.MethodPost, "/chat", `{"message":"What is PD?"}`, "")
	w := do(router, http.MethodGet, "/metrics", "", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "agentkb_chat_responses_total")
}

func TestRouter_NotFound(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	w := do(router, http.MethodGet, "/knowledge", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
