package http

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/xbtify/xbtclaw/internal/store"
	"github.com/xbtify/xbtclaw/internal/transport"
)

// DMOpener opens the direct conversation with an inbox.
// transport.Client satisfies it.
type DMOpener interface {
	NewDM(ctx context.Context, inboxID string) (transport.Conversation, error)
}

// SendHandler serves POST /api/send/message: deliver a text to the user
// behind a Farcaster id.
type SendHandler struct {
	users   store.UserStore
	client  DMOpener
	apiKey  string
	devMode bool
}

// NewSendHandler creates the handler. In devMode the API key is not
// checked.
func NewSendHandler(users store.UserStore, client DMOpener, apiKey string, devMode bool) *SendHandler {
	return &SendHandler{users: users, client: client, apiKey: apiKey, devMode: devMode}
}

// RegisterRoutes registers the send-message route on mux.
func (h *SendHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/send/message", h.auth(h.handleSend))
}

func (h *SendHandler) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.devMode {
			got := r.Header.Get("x-api-key")
			if h.apiKey == "" || subtle.ConstantTimeCompare([]byte(got), []byte(h.apiKey)) != 1 {
				slog.Warn("security.api_key_rejected", "path", r.URL.Path, "client", clientKey(r))
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
				return
			}
		}
		next(w, r)
	}
}

type sendRequest struct {
	Message string `json:"message"`
	UserFID int64  `json:"userFid"`
}

func (h *SendHandler) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}
	if strings.TrimSpace(req.Message) == "" || req.UserFID <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	ctx := r.Context()
	user, err := h.users.GetUserByFID(ctx, req.UserFID)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "User not found"})
		return
	}
	if err != nil {
		slog.Error("send.lookup_user", "fid", req.UserFID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to send message"})
		return
	}
	if user.InboxID == "" {
		writeJSON(w, http.StatusOK, map[string]string{"message": "User does not have an inbox ID"})
		return
	}

	conv, err := h.client.NewDM(ctx, user.InboxID)
	if err != nil {
		slog.Error("send.open_dm", "fid", req.UserFID, "inbox", user.InboxID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to send message"})
		return
	}
	if _, err := transport.SendText(ctx, conv, req.Message); err != nil {
		slog.Error("send.deliver", "fid", req.UserFID, "conversation", conv.ID(), "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to send message"})
		return
	}
	slog.Info("send.delivered", "fid", req.UserFID, "conversation", conv.ID())
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
