package server

import "net/http"

// SetupRoutes configures and returns an HTTP ServeMux with all application routes.
func SetupRoutes(h *Handlers) *http.ServeMux {
	h.init()

	mux := http.NewServeMux()
	mux.HandleFunc("/", h.HealthHandler)
	mux.HandleFunc("/ws", h.WebSocketHandler)
	mux.HandleFunc("/test", h.TestPageHandler)
	if h.Metrics != nil {
		mux.Handle("GET /metrics", h.Metrics)
	}

	mux.HandleFunc("GET /api/online", h.OnlineHandler)
	mux.HandleFunc("POST /api/messages/{peer}", h.SendMessageHandler)
	mux.HandleFunc("GET /api/messages/{peer}", h.ConversationHandler)
	mux.HandleFunc("PUT /api/messages/{peer}/read", h.MarkMessagesReadHandler)
	mux.HandleFunc("GET /api/notifications", h.NotificationsHandler)
	mux.HandleFunc("PUT /api/notifications/read", h.MarkNotificationsReadHandler)
	mux.HandleFunc("POST /api/activity/login", h.LoginActivityHandler)
	mux.HandleFunc("POST /api/friends/requests", h.SendFriendRequestHandler)
	mux.HandleFunc("GET /api/friends/requests", h.PendingFriendRequestsHandler)
	mux.HandleFunc("PUT /api/friends/requests/{id}", h.RespondFriendRequestHandler)
	mux.HandleFunc("PUT /api/profile", h.UpdateProfileHandler)
	return mux
}
