package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	apperrors "messenger-console/pkg/errors"
	"messenger-console/pkg/realtime"
	"messenger-console/pkg/telemetry"
)

// NewRouter wires every route. Webhook, login, health, metrics and uploads
// are public; everything else goes through the session and policy check.
func NewRouter(base *BaseHandler) http.Handler {
	limiter := NewRateLimiter(base.Config.RateLimit)

	webhook := &WebhookHandler{BaseHandler: base}
	authH := &AuthHandler{BaseHandler: base}
	messages := &MessageHandler{BaseHandler: base}
	mediaH := &MediaHandler{BaseHandler: base}
	notes := &NoteHandler{BaseHandler: base}
	admin := &AdminHandler{BaseHandler: base}

	r := mux.NewRouter()
	r.Use(recoverMiddleware, loggingMiddleware, corsMiddleware(base.Config.Server.CORSOrigins))

	// preflights carry no session
	r.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	r.HandleFunc("/health", base.Health).Methods(http.MethodGet)
	r.Handle("/metrics", telemetry.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/webhook", webhook.Verify).Methods(http.MethodGet)
	r.HandleFunc("/webhook", webhook.Receive).Methods(http.MethodPost)
	r.Handle("/api/auth/login", limiter.MessageLimit.Middleware(http.HandlerFunc(authH.Login))).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/logout", authH.Logout).Methods(http.MethodPost)

	uploadPrefix := "/uploads/"
	if base.Media != nil {
		uploadPrefix = base.Media.PublicPrefix()
	}
	r.HandleFunc(strings.TrimRight(uploadPrefix, "/")+"/{name}", mediaH.Serve).Methods(http.MethodGet)

	protected := r.NewRoute().Subrouter()
	protected.Use(base.Auth.Middleware)

	if base.Hub != nil {
		origins := corsPatterns(base.Config.Server.CORSOrigins)
		protected.Handle("/ws", realtime.NewHandler(base.Hub, base.Users, origins)).Methods(http.MethodGet)
	}

	view := protected.NewRoute().Subrouter()
	view.Use(limiter.ViewLimit.Middleware)
	send := protected.NewRoute().Subrouter()
	send.Use(limiter.MessageLimit.Middleware)

	view.HandleFunc("/api/auth/me", authH.Me).Methods(http.MethodGet)
	view.HandleFunc("/api/auth/fcm-token", authH.UpdateFCMToken).Methods(http.MethodPut, http.MethodPost)

	view.HandleFunc("/api/messages/pages", messages.ListPages).Methods(http.MethodGet)
	view.HandleFunc("/api/messages/conversations", messages.ListConversations).Methods(http.MethodGet)
	view.HandleFunc("/api/messages/all_conversations", messages.ListAllConversations).Methods(http.MethodGet)
	view.HandleFunc("/api/messages/{id:[0-9]+}", messages.GetMessages).Methods(http.MethodGet)
	send.HandleFunc("/api/messages/send", messages.Send).Methods(http.MethodPost)
	send.HandleFunc("/api/messages/{id:[0-9]+}/reply", messages.Reply).Methods(http.MethodPost)
	send.HandleFunc("/api/messages/{id:[0-9]+}/upload", messages.UploadAndSend).Methods(http.MethodPost)
	view.HandleFunc("/api/messages/{id:[0-9]+}/name", messages.Rename).Methods(http.MethodPut)
	view.HandleFunc("/api/messages/{id:[0-9]+}/read", messages.MarkRead).Methods(http.MethodPut)
	view.HandleFunc("/api/messages/{id:[0-9]+}/conversation", messages.ClearConversation).Methods(http.MethodDelete)
	view.HandleFunc("/api/messages/{id:[0-9]+}/cleanup", messages.Cleanup).Methods(http.MethodDelete)
	view.HandleFunc("/api/messages/{id:[0-9]+}/latest", messages.DeleteLatest).Methods(http.MethodDelete)
	view.HandleFunc("/api/messages/message/{id:[0-9]+}", messages.DeleteMessage).Methods(http.MethodDelete)

	send.HandleFunc("/api/upload", mediaH.Upload).Methods(http.MethodPost)
	view.HandleFunc("/api/media", mediaH.List).Methods(http.MethodGet)
	view.HandleFunc("/api/media/{name}", mediaH.Delete).Methods(http.MethodDelete)

	view.HandleFunc("/api/notes/{customerId}", notes.Get).Methods(http.MethodGet)
	view.HandleFunc("/api/notes/{customerId}", notes.Save).Methods(http.MethodPost)
	view.HandleFunc("/api/notes/{customerId}", notes.Delete).Methods(http.MethodDelete)

	view.HandleFunc("/api/admin/users", admin.ListUsers).Methods(http.MethodGet)
	view.HandleFunc("/api/admin/users", admin.CreateUser).Methods(http.MethodPost)
	view.HandleFunc("/api/admin/users/{id:[0-9]+}", admin.DeleteUser).Methods(http.MethodDelete)
	view.HandleFunc("/api/admin/pages", admin.ListPages).Methods(http.MethodGet)
	view.HandleFunc("/api/admin/pages", admin.AddPage).Methods(http.MethodPost)
	view.HandleFunc("/api/admin/pages/sync", admin.SyncPages).Methods(http.MethodPost)
	view.HandleFunc("/api/admin/pages/{id}", admin.DeletePage).Methods(http.MethodDelete)
	view.HandleFunc("/api/admin/assign", admin.Assign).Methods(http.MethodPost)
	view.HandleFunc("/api/admin/assign/bulk", admin.BulkAssign).Methods(http.MethodPost)
	view.HandleFunc("/api/admin/unassign", admin.Unassign).Methods(http.MethodPost)
	view.HandleFunc("/api/admin/assignments", admin.ListAssignments).Methods(http.MethodGet)
	view.HandleFunc("/api/admin/assignments/user/{userId:[0-9]+}", admin.UserAssignments).Methods(http.MethodGet)

	return r
}

// corsPatterns turns CORS origins into websocket origin patterns (host only).
func corsPatterns(origins string) []string {
	var out []string
	for _, o := range strings.Split(origins, ",") {
		o = strings.TrimSpace(o)
		o = strings.TrimPrefix(strings.TrimPrefix(o, "https://"), "http://")
		if o != "" {
			out = append(out, o)
		}
	}
	return out
}

func (h *BaseHandler) Health(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{"status": "ok", "time": time.Now().UTC()}
	code := http.StatusOK
	if h.Ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.Ping(ctx); err != nil {
			status["status"] = "degraded"
			status["database"] = err.Error()
			code = http.StatusServiceUnavailable
		}
	}
	if h.Hub != nil {
		status["sessions"] = h.Hub.Count()
	}
	apperrors.WriteJSON(w, code, status)
}
