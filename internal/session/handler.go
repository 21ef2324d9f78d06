package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"

	"github.com/aiox-platform/jarvis/internal/api"
	"github.com/aiox-platform/jarvis/internal/conversation"
	"github.com/aiox-platform/jarvis/internal/device"
	"github.com/aiox-platform/jarvis/internal/orchestrator"
)

const (
	controlTimeout  = 5 * time.Second
	defaultChatSize = 50
	maxPromptBody   = 16 << 10
)

type SystemPromptRequest struct {
	Prompt string `json:"prompt" validate:"required,min=1,max=4000"`
}

// ConversationResponse is the model-facing history of a session.
type ConversationResponse struct {
	MaxHistory int                    `json:"max_history"`
	Messages   []conversation.Message `json:"messages"`
}

type Handler struct {
	manager  *Manager
	validate *validator.Validate
	upgrader websocket.Upgrader
}

func NewHandler(manager *Manager, allowedOrigins []string) *Handler {
	return &Handler{
		manager:  manager,
		validate: validator.New(),
		upgrader: device.NewUpgrader(allowedOrigins),
	}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	api.JSON(w, http.StatusOK, h.manager.List())
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	s, err := h.manager.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		handleError(w, err)
		return
	}
	api.JSON(w, http.StatusOK, s.Info())
}

// Stop is the remote emergency stop.
func (h *Handler) Stop(w http.ResponseWriter, r *http.Request) {
	s, err := h.manager.control(chi.URLParam(r, "sessionID"))
	if err != nil {
		handleError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), controlTimeout)
	defer cancel()
	if err := s.Orchestrator.EmergencyStop(ctx); err != nil {
		handleError(w, err)
		return
	}
	api.JSON(w, http.StatusOK, s.Info())
}

func (h *Handler) Conversation(w http.ResponseWriter, r *http.Request) {
	s, err := h.manager.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		handleError(w, err)
		return
	}
	conv := s.Orchestrator.Conversation()
	api.JSON(w, http.StatusOK, ConversationResponse{
		MaxHistory: conv.MaxHistory(),
		Messages:   conv.Messages(),
	})
}

func (h *Handler) ClearConversation(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), controlTimeout)
	defer cancel()
	if err := h.manager.ClearConversation(ctx, chi.URLParam(r, "sessionID")); err != nil {
		handleError(w, err)
		return
	}
	api.JSONMessage(w, http.StatusOK, "conversation cleared")
}

func (h *Handler) SetSystemPrompt(w http.ResponseWriter, r *http.Request) {
	s, err := h.manager.control(chi.URLParam(r, "sessionID"))
	if err != nil {
		handleError(w, err)
		return
	}

	var req SystemPromptRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPromptBody)).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), controlTimeout)
	defer cancel()
	if err := s.Orchestrator.SetSystemPrompt(ctx, req.Prompt); err != nil {
		handleError(w, err)
		return
	}
	api.JSON(w, http.StatusOK, s.Info())
}

// ChatLog returns the displayed chat history, newest last. ?limit=N bounds it.
func (h *Handler) ChatLog(w http.ResponseWriter, r *http.Request) {
	limit := defaultChatSize
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			api.HandleError(w, api.NewBadRequestError("limit must be a positive integer"))
			return
		}
		limit = n
	}

	entries, err := h.manager.ChatLog(r.Context(), chi.URLParam(r, "sessionID"), limit)
	if err != nil {
		handleError(w, err)
		return
	}
	api.JSON(w, http.StatusOK, entries)
}

// DeviceSocket opens the session if needed and attaches the device to it
// for the lifetime of the WebSocket.
func (h *Handler) DeviceSocket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	s, err := h.manager.Open(id)
	if err != nil {
		handleError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		slog.Warn("device upgrade failed", "error", err, "session_id", id)
		return
	}
	defer h.manager.released(s)
	if err := s.Bridge.Run(r.Context(), conn); err != nil {
		slog.Error("device bridge", "error", err, "session_id", id)
	}
}

func handleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		api.HandleError(w, api.ErrNotFound)
	case errors.Is(err, ErrInvalidID):
		api.HandleError(w, api.ErrInvalidSession)
	case errors.Is(err, orchestrator.ErrStopped):
		api.HandleError(w, api.ErrSessionClosing)
	case errors.Is(err, context.DeadlineExceeded):
		api.HandleError(w, api.ErrTimeout)
	default:
		api.HandleError(w, err)
	}
}
