package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/cloo-solutions/agentkb/internal/api"
	"github.com/cloo-solutions/agentkb/internal/index"
	"github.com/cloo-solutions/agentkb/internal/service"
)

type CacheFlusher interface {
	FlushCache() int
}

type IndexService interface {
	RefreshIndex(ctx context.Context) error
	Stats() service.IndexStats
}

type AdminHandler struct {
	cache   CacheFlusher
	indexes IndexService
}

func NewAdminHandler(cache CacheFlusher, indexes IndexService) *AdminHandler {
	return &AdminHandler{cache: cache, indexes: indexes}
}

type FlushResponse struct {
	Flushed int `json:"flushed"`
}

func (h *AdminHandler) FlushCache(w http.ResponseWriter, r *http.Request) {
	api.Success(w, http.StatusOK, FlushResponse{Flushed: h.cache.FlushCache()})
}

func (h *AdminHandler) RefreshIndex(w http.ResponseWriter, r *http.Request) {
	err := h.indexes.RefreshIndex(r.Context())
	if errors.Is(err, index.ErrRefreshInProgress) {
		api.Error(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		api.Error(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	api.Success(w, http.StatusOK, h.indexes.Stats())
}

func (h *AdminHandler) IndexStats(w http.ResponseWriter, r *http.Request) {
	api.Success(w, http.StatusOK, h.indexes.Stats())
}
