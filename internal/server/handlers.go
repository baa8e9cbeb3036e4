package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/Tyrowin/taptik/internal/auth"
	"github.com/Tyrowin/taptik/internal/common"
	"github.com/Tyrowin/taptik/internal/friends"
	"github.com/Tyrowin/taptik/internal/messages"
	"github.com/Tyrowin/taptik/internal/notify"
	"github.com/Tyrowin/taptik/internal/store"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// maxBodySize caps JSON request bodies on the REST surface.
const maxBodySize = 1 << 20

// Handlers serves the WebSocket endpoint and the JSON API.
type Handlers struct {
	Hub       *Hub
	Resolver  *auth.Resolver
	Origins   *OriginPolicy
	Messages  *messages.Service
	Friends   *friends.Service
	Ledger    *notify.Ledger
	Directory store.Directory
	Metrics   http.Handler
	Log       *zap.Logger

	upgrader websocket.Upgrader
}

func (h *Handlers) init() {
	if h.Log == nil {
		h.Log = zap.NewNop()
	}
	if h.Origins == nil {
		h.Origins = NewOriginPolicy(nil, h.Log)
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.Origins.Check,
	}
}

// WebSocketHandler upgrades GET requests and attaches the connection to the
// hub. Requests without credentials attach anonymously; invalid credentials
// are refused before the upgrade.
func (h *Handlers) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	identity, err := h.Resolver.Identity(r)
	if err != nil && !errors.Is(err, auth.ErrMissingCredentials) {
		h.Log.Info("WebSocket attach refused", zap.String("addr", r.RemoteAddr), zap.Error(err))
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	if identity != "" {
		if err := h.ensureUser(r.Context(), identity); err != nil {
			h.writeError(w, err)
			return
		}
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Log.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(conn, h.Hub, r.RemoteAddr, identity)
	if !h.Hub.Attach(client) {
		_ = conn.Close()
	}
}

// HealthHandler reports that the server is up.
func (h *Handlers) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "taptik server is running!")
}

// OnlineHandler returns the identities that are currently reachable.
func (h *Handlers) OnlineHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.identity(w, r); !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, map[string][]string{"online": h.Hub.Online()})
}

// SendMessageHandler stores a message to {peer} and pushes it if they are online.
func (h *Handlers) SendMessageHandler(w http.ResponseWriter, r *http.Request) {
	me, ok := h.identity(w, r)
	if !ok {
		return
	}
	var draft messages.Draft
	if !h.decode(w, r, &draft) {
		return
	}

	view, _, err := h.Messages.Send(r.Context(), me, r.PathValue("peer"), draft)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, view)
}

// ConversationHandler lists the messages exchanged with {peer}, oldest first.
func (h *Handlers) ConversationHandler(w http.ResponseWriter, r *http.Request) {
	me, ok := h.identity(w, r)
	if !ok {
		return
	}
	views, err := h.Messages.Conversation(r.Context(), me, r.PathValue("peer"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, views)
}

// MarkMessagesReadHandler marks everything {peer} sent to the caller as read.
func (h *Handlers) MarkMessagesReadHandler(w http.ResponseWriter, r *http.Request) {
	me, ok := h.identity(w, r)
	if !ok {
		return
	}
	n, err := h.Messages.MarkRead(r.Context(), me, r.PathValue("peer"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"updated": n})
}

// NotificationsHandler returns the caller's feed, newest first. The optional
// limit and offset query parameters page through it.
func (h *Handlers) NotificationsHandler(w http.ResponseWriter, r *http.Request) {
	me, ok := h.identity(w, r)
	if !ok {
		return
	}
	limit, err1 := queryInt(r, "limit")
	offset, err2 := queryInt(r, "offset")
	if err := errors.Join(err1, err2); err != nil {
		h.writeError(w, err)
		return
	}

	feed, err := h.Ledger.Page(r.Context(), me, limit, offset)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, feed)
}

// MarkNotificationsReadHandler marks the caller's whole feed as read.
func (h *Handlers) MarkNotificationsReadHandler(w http.ResponseWriter, r *http.Request) {
	me, ok := h.identity(w, r)
	if !ok {
		return
	}
	n, err := h.Ledger.MarkAllRead(r.Context(), me)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"updated": n})
}

// LoginActivityHandler records a sign-in for the caller. The client label
// defaults to the User-Agent.
func (h *Handlers) LoginActivityHandler(w http.ResponseWriter, r *http.Request) {
	me, ok := h.identity(w, r)
	if !ok {
		return
	}
	var body struct {
		Client string `json:"client"`
	}
	if r.ContentLength != 0 && !h.decode(w, r, &body) {
		return
	}
	if body.Client == "" {
		body.Client = r.UserAgent()
	}

	entry, err := h.Ledger.LoginActivity(r.Context(), me, body.Client)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, entry)
}

// SendFriendRequestHandler creates a friend request from the caller.
func (h *Handlers) SendFriendRequestHandler(w http.ResponseWriter, r *http.Request) {
	me, ok := h.identity(w, r)
	if !ok {
		return
	}
	var body struct {
		RecipientID string `json:"recipientId"`
	}
	if !h.decode(w, r, &body) {
		return
	}

	req, err := h.Friends.SendRequest(r.Context(), me, body.RecipientID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, req)
}

// PendingFriendRequestsHandler lists requests waiting on the caller.
func (h *Handlers) PendingFriendRequestsHandler(w http.ResponseWriter, r *http.Request) {
	me, ok := h.identity(w, r)
	if !ok {
		return
	}
	pending, err := h.Friends.Pending(r.Context(), me)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, pending)
}

// RespondFriendRequestHandler accepts or rejects request {id}.
func (h *Handlers) RespondFriendRequestHandler(w http.ResponseWriter, r *http.Request) {
	me, ok := h.identity(w, r)
	if !ok {
		return
	}
	var body struct {
		Status store.FriendStatus `json:"status"`
	}
	if !h.decode(w, r, &body) {
		return
	}

	req, err := h.Friends.Respond(r.Context(), me, r.PathValue("id"), body.Status)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, req)
}

// UpdateProfileHandler changes the caller's display name and records it in
// their notification feed.
func (h *Handlers) UpdateProfileHandler(w http.ResponseWriter, r *http.Request) {
	me, ok := h.identity(w, r)
	if !ok {
		return
	}
	var body struct {
		FullName string `json:"fullname"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	body.FullName = strings.TrimSpace(body.FullName)
	if body.FullName == "" {
		h.writeError(w, fmt.Errorf("%w: fullname is required", common.ErrValidation))
		return
	}

	receipt, err := h.Ledger.ProfileUpdated(r.Context(), me)
	if err != nil {
		h.writeError(w, err)
		return
	}
	user, err := h.Directory.UpdateFullName(r.Context(), me, body.FullName)
	if err != nil {
		h.writeError(w, err)
		return
	}
	receipt.Deliver()
	h.writeJSON(w, http.StatusOK, user)
}

func (h *Handlers) identity(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := h.Resolver.Identity(r)
	if err == nil {
		err = h.ensureUser(r.Context(), id)
	}
	if err != nil {
		h.writeError(w, err)
		return "", false
	}
	return id, true
}

// ensureUser adds a directory entry the first time a verified identity is
// seen, so producers can resolve it. The entry is named after the id until
// the profile is updated.
func (h *Handlers) ensureUser(ctx context.Context, id string) error {
	if h.Directory == nil {
		return nil
	}
	_, err := h.Directory.GetUser(ctx, id)
	if !errors.Is(err, common.ErrNotFound) {
		return err
	}
	return h.Directory.CreateUser(ctx, &store.User{ID: id, Username: id, FullName: id})
}

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err := dec.Decode(dst); err != nil {
		h.writeError(w, fmt.Errorf("%w: invalid JSON body: %v", common.ErrValidation, err))
		return false
	}
	return true
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.Log.Warn("error writing JSON response", zap.Error(err))
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.Log.Error("request failed", zap.Error(err))
	}
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, common.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", common.ErrValidation, key)
	}
	return n, nil
}
