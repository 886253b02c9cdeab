// Package realtime pushes inbox events to connected console sessions.
package realtime

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	"messenger-console/logger"
	"messenger-console/pkg/telemetry"
)

type EventType string

const (
	EventNewMessage          EventType = "new_message"
	EventConversationUpdated EventType = "conversation_updated"
	EventConversationCleared EventType = "conversation_cleared"
)

// Event is one server to client message. PageID decides who receives it.
type Event struct {
	Type   EventType   `json:"type"`
	PageID string      `json:"pageId"`
	Data   interface{} `json:"data"`
}

// DefaultBuffer is the per-session queue length.
const DefaultBuffer = 64

var ErrNotEntitled = errors.New("not assigned to page")

var sessionSeq uint64

// Session is one connected client.
type Session struct {
	ID    uint64
	scope Scope
	send  chan []byte

	mu     sync.RWMutex
	joined map[string]struct{}
	closed bool
}

func NewSession(scope Scope, buffer int) *Session {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Session{
		ID:     atomic.AddUint64(&sessionSeq, 1),
		scope:  scope,
		send:   make(chan []byte, buffer),
		joined: make(map[string]struct{}),
	}
}

func (s *Session) Scope() Scope {
	return s.scope
}

// Messages is closed when the session is unregistered.
func (s *Session) Messages() <-chan []byte {
	return s.send
}

// Join adds a page group after connect. entitled must already reflect the
// caller's current assignments.
func (s *Session) Join(pageID string, entitled bool) error {
	if !entitled && !s.scope.Admin {
		return ErrNotEntitled
	}
	s.mu.Lock()
	s.joined[pageID] = struct{}{}
	s.mu.Unlock()
	return nil
}

func (s *Session) wants(pageID string) bool {
	if s.scope.Receives(pageID) {
		return true
	}
	s.mu.RLock()
	_, ok := s.joined[pageID]
	s.mu.RUnlock()
	return ok
}

// offer queues data without blocking; it reports false when the buffer is
// full or the session is closed.
func (s *Session) offer(data []byte) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.send)
	}
}

// Hub tracks sessions and fans events out to them.
type Hub struct {
	mu       sync.RWMutex
	sessions map[*Session]struct{}
}

func NewHub() *Hub {
	return &Hub{sessions: make(map[*Session]struct{})}
}

func (h *Hub) Register(s *Session) {
	h.mu.Lock()
	h.sessions[s] = struct{}{}
	h.mu.Unlock()
	telemetry.RealtimeSessions.Inc()
	logger.LogDebug("🔌 Session %d connected (user %d, groups %v)", s.ID, s.scope.UserID, s.scope.Groups())
}

func (h *Hub) Unregister(s *Session) {
	h.mu.Lock()
	_, ok := h.sessions[s]
	delete(h.sessions, s)
	h.mu.Unlock()
	if ok {
		s.close()
		telemetry.RealtimeSessions.Dec()
		logger.LogDebug("🔌 Session %d disconnected", s.ID)
	}
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Publish delivers ev to every session entitled to its page. Slow sessions
// lose the event; Publish never blocks on a client. It returns the number of
// sessions the event was queued for.
func (h *Hub) Publish(ev Event) int {
	data, err := json.Marshal(ev)
	if err != nil {
		logger.LogError("Failed to encode %s event: %v", ev.Type, err)
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for s := range h.sessions {
		if !s.wants(ev.PageID) {
			continue
		}
		if s.offer(data) {
			delivered++
			telemetry.FanoutDeliveries.Inc()
		} else {
			telemetry.FanoutDrops.Inc()
			logger.LogWarn("Dropped %s event for slow session %d", ev.Type, s.ID)
		}
	}
	return delivered
}
