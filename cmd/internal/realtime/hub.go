package realtime

import (
	"log/slog"
	"sync"

	v1 "courier/contracts/chat/v1"
)

// Hub is the in-memory session registry, keyed by user id.
// A user may hold several concurrent sessions (multiple tabs/devices);
// PublishToUser fanouts to all of them.
//
// Concurrency guarantees:
// - Subscribe/Unsubscribe are safe under concurrent PublishToUser.
// - PublishToUser never blocks (drops under backpressure).
// - PublishToUser is panic-safe because Client.Send is never closed by the server.
type Hub struct {
	log *slog.Logger

	mu    sync.RWMutex
	users map[string]map[string]*Client
}

// NewHub constructs a Hub instance.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log:   log,
		users: make(map[string]map[string]*Client),
	}
}

// Subscribe registers a client session under its bound user id.
// Unbound clients are ignored.
func (h *Hub) Subscribe(client *Client) {
	if h == nil || client == nil || client.SessionID == "" {
		return
	}
	userID := client.User()
	if userID == "" {
		return
	}

	h.mu.Lock()
	sessions, ok := h.users[userID]
	if !ok {
		sessions = make(map[string]*Client)
		h.users[userID] = sessions
	}
	sessions[client.SessionID] = client
	h.mu.Unlock()

	h.log.Info("hub.session.subscribe", "user_id", userID, "session_id", client.SessionID)
}

// Unsubscribe removes a session and signals shutdown for that client.
func (h *Hub) Unsubscribe(userID, sessionID string) {
	if h == nil || userID == "" || sessionID == "" {
		return
	}

	var cl *Client

	h.mu.Lock()
	if sessions, ok := h.users[userID]; ok {
		cl = sessions[sessionID]
		delete(sessions, sessionID)
		if len(sessions) == 0 {
			delete(h.users, userID)
		}
	}
	h.mu.Unlock()

	// Signal client shutdown after removing from the registry.
	// This ordering avoids race windows where a publisher still holds a pointer
	// while the client goroutines are being torn down.
	if cl != nil {
		cl.Close()
	}

	h.log.Info("hub.session.unsubscribe", "user_id", userID, "session_id", sessionID)
}

// Sessions reports the number of live sessions for a user.
func (h *Hub) Sessions(userID string) int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

// PublishToUser fanouts an envelope to every session of userID.
// Non-blocking: if a session queue is full or the client is shutting down,
// the envelope is dropped for that session.
// It returns the number of sessions delivered to and dropped.
func (h *Hub) PublishToUser(userID string, env v1.Envelope) (delivered, dropped int) {
	if h == nil || userID == "" {
		return 0, 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, cl := range h.users[userID] {
		if cl == nil {
			continue
		}

		select {
		case <-cl.Done():
			// Skip clients that are shutting down.
			continue
		default:
		}

		select {
		case cl.Send <- env:
			delivered++
		default:
			// Drop rather than block every other session.
			dropped++
		}
	}
	return delivered, dropped
}
