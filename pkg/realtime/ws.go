package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"nhooyr.io/websocket"

	"messenger-console/logger"
	"messenger-console/pkg/auth"
)

const (
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
)

// AssignmentSource answers which pages a user is assigned to.
type AssignmentSource interface {
	PagesAssignedTo(ctx context.Context, userID uint) ([]string, error)
}

type clientMessage struct {
	Type   string `json:"type"`
	PageID string `json:"pageId"`
}

type joinResult struct {
	Type   string `json:"type"`
	PageID string `json:"pageId"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
}

// Handler upgrades authenticated requests to websocket sessions. It expects
// the auth middleware to have put the user in the request context.
type Handler struct {
	hub            *Hub
	assignments    AssignmentSource
	originPatterns []string
}

func NewHandler(hub *Hub, assignments AssignmentSource, originPatterns []string) *Handler {
	return &Handler{hub: hub, assignments: assignments, originPatterns: originPatterns}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	if user == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	pages, err := h.assignments.PagesAssignedTo(r.Context(), user.ID)
	if err != nil {
		logger.LogError("Failed to load assignments for user %d: %v", user.ID, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		logger.LogWarn("Websocket upgrade failed: %v", err)
		return
	}

	session := NewSession(ComputeScope(user.ID, user.Role, pages), DefaultBuffer)
	h.hub.Register(session)
	defer h.hub.Unregister(session)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.readLoop(ctx, cancel, conn, session, user)
	h.writeLoop(ctx, conn, session)
}

func (h *Handler) writeLoop(ctx context.Context, conn *websocket.Conn, s *Session) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case data, ok := <-s.Messages():
			if !ok {
				conn.Close(websocket.StatusGoingAway, "session closed")
				return
			}
			if err := write(ctx, conn, data); err != nil {
				logger.LogDebug("Write to session %d failed: %v", s.ID, err)
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				logger.LogDebug("Ping to session %d failed: %v", s.ID, err)
				return
			}
		}
	}
}

// readLoop handles join_page requests. A page is joined only when the user
// is assigned to it right now, or is an admin.
func (h *Handler) readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, s *Session, user *auth.User) {
	defer cancel()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "join_page" || msg.PageID == "" {
			continue
		}

		res := joinResult{Type: "join_result", PageID: msg.PageID}
		entitled := user.IsAdmin()
		if !entitled {
			pages, err := h.assignments.PagesAssignedTo(ctx, user.ID)
			if err != nil {
				logger.LogError("Failed to check assignment for user %d: %v", user.ID, err)
			}
			for _, p := range pages {
				if p == msg.PageID {
					entitled = true
					break
				}
			}
		}
		if err := s.Join(msg.PageID, entitled); err != nil {
			res.Error = err.Error()
			logger.LogWarn("User %d denied join for page %s", user.ID, msg.PageID)
		} else {
			res.OK = true
		}

		out, _ := json.Marshal(res)
		if err := write(ctx, conn, out); err != nil {
			return
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, data []byte) error {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, data)
}
