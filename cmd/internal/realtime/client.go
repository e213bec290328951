package realtime

import (
	"errors"
	"sync"

	v1 "courier/contracts/chat/v1"
)

// Client represents one connected websocket session.
//
// Design notes:
// - Send is intentionally NOT closed by the server to avoid panics from concurrent publishers.
// - done is used to signal goroutines to stop.
// - Close is idempotent.
// - The user binding is mutable: a session starts anonymous and is bound by
//   the hello handshake, possibly from a different goroutine than readers.
type Client struct {
	SessionID string
	Send      chan v1.Envelope

	mu     sync.Mutex
	userID string

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a Client with a bounded send queue.
// userID may be empty for sessions that identify later via hello.
func NewClient(userID, sessionID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Client{
		SessionID: sessionID,
		userID:    userID,
		Send:      make(chan v1.Envelope, sendQueueSize),
		done:      make(chan struct{}),
	}
}

// User returns the bound user id, or "" before hello.
func (c *Client) User() string {
	if c == nil {
		return ""
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// BindUser binds the session to a user id and reports whether this call
// performed the binding. Rebinding to a different id is an error.
func (c *Client) BindUser(userID string) (bool, error) {
	if c == nil {
		return false, errors.New("realtime: nil client")
	}
	if userID == "" {
		return false, errors.New("realtime: empty user id")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.userID {
	case "":
		c.userID = userID
		return true, nil
	case userID:
		return false, nil
	default:
		return false, errors.New("realtime: session already identified")
	}
}

// Done returns a channel that is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the client goroutines to stop (idempotent).
// It does NOT close Send to keep fanout safe under concurrency.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
