// Package chatapi exposes the messaging core over HTTP/JSON.
//
// The caller's identity is taken from the X-User-ID header; upstream
// authentication is expected to have populated it (see the deployment
// docs). Requests without it are rejected.
package chatapi

import (
	"log/slog"
	"net/http"
	"strings"

	"courier/cmd/internal/messaging"
)

const (
	// UserIDHeader carries the authenticated caller's user id.
	UserIDHeader = "X-User-ID"

	defaultMaxBodyBytes = 64 << 10 // 64 KiB
)

// Config tunes HTTP request handling.
type Config struct {
	// MaxBodyBytes bounds request bodies. Zero means the default.
	MaxBodyBytes int64
}

func (c Config) withDefaults() Config {
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = defaultMaxBodyBytes
	}
	return c
}

// Handler wires HTTP chat endpoints to the messaging service.
type Handler struct {
	log *slog.Logger
	svc *messaging.Service
	cfg Config
}

// NewHandler constructs a chat Handler.
func NewHandler(log *slog.Logger, svc *messaging.Service, cfg Config) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{log: log, svc: svc, cfg: cfg.withDefaults()}
}

// Register wires chat routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("POST /api/v1/messages", h.handleSendMessage)
	mux.HandleFunc("GET /api/v1/messages/{friendID}", h.handleGetMessages)
	mux.HandleFunc("GET /api/v1/chats", h.handleGetChats)
	mux.HandleFunc("POST /api/v1/chats/{conversationID}/read", h.handleMarkRead)
	mux.HandleFunc("GET /api/v1/dashboard", h.handleDashboard)
}

// ---- handlers ----

func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}

	var req sendMessageRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	rcpt, err := h.svc.SendMessage(r.Context(), userID, req.ReceiverID, req.Content)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMessageResponse(rcpt))
}

func (h *Handler) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}

	friendID := strings.TrimSpace(r.PathValue("friendID"))
	if friendID == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "missing friend id")
		return
	}

	views, err := h.svc.GetMessagesWithUser(r.Context(), userID, friendID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toHistoryResponse(views))
}

func (h *Handler) handleGetChats(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}

	chats, err := h.svc.GetRecentChats(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecentChatsResponse(chats))
}

func (h *Handler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}

	conversationID := strings.TrimSpace(r.PathValue("conversationID"))
	if conversationID == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "missing conversation id")
		return
	}

	if err := h.svc.MarkAsRead(r.Context(), conversationID, userID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}

	counts := h.svc.DashboardCounts(r.Context(), userID)
	writeJSON(w, http.StatusOK, dashboardResponse{
		TotalMessages:        counts.TotalMessages,
		UnreadMessages:       counts.UnreadMessages,
		UnreadConversations:  counts.UnreadConversations,
		RepliedConversations: counts.RepliedConversations,
	})
}

// ---- helpers ----

func (h *Handler) callerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := strings.TrimSpace(r.Header.Get(UserIDHeader))
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing_identity", "X-User-ID header required")
		return "", false
	}
	return userID, true
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case messaging.IsInvalidInput(err):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case messaging.IsNotFound(err):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case messaging.IsUnavailable(err):
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "try again later")
	default:
		h.log.Error("chatapi.internal", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
