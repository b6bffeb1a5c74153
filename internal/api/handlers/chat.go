package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cloo-solutions/agentkb/internal/api"
	"github.com/cloo-solutions/agentkb/internal/domain"
	"github.com/cloo-solutions/agentkb/internal/service"
)

type ChatService interface {
	Chat(ctx context.Context, in service.ChatInput) (*domain.Response, error)
	History(ctx context.Context, sessionID string) ([]domain.ConversationTurn, error)
	ResetSession(ctx context.Context, sessionID string) error
}

type ChatHandler struct {
	svc ChatService
}

func NewChatHandler(svc ChatService) *ChatHandler {
	return &ChatHandler{svc: svc}
}

type ChatRequest struct {
	Message       string              `json:"message"`
	SessionID     string              `json:"session_id"`
	AgentContext  domain.AgentContext `json:"agent_context"`
	ModelOverride string              `json:"model_override,omitempty"`
}

type HistoryResponse struct {
	SessionID string                    `json:"session_id"`
	Turns     []domain.ConversationTurn `json:"turns"`
}

// Chat answers one message. Only an unreadable body or a missing message
// is reported as an error; every other outcome is a 200 with a reply.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			api.HandleError(w, domain.ErrBodyTooLarge)
			return
		}
		api.HandleError(w, domain.ErrMalformedRequest)
		return
	}

	resp, err := h.svc.Chat(r.Context(), service.ChatInput{
		Message:       req.Message,
		SessionID:     req.SessionID,
		AgentContext:  req.AgentContext,
		ModelOverride: req.ModelOverride,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, resp)
}

func (h *ChatHandler) History(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	turns, err := h.svc.History(r.Context(), sessionID)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, HistoryResponse{SessionID: sessionID, Turns: turns})
}

func (h *ChatHandler) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ResetSession(r.Context(), chi.URLParam(r, "id")); err != nil {
		api.HandleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
