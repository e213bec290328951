package messaging

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// message id generation is serialized so that ULIDs produced within the same
// millisecond stay strictly increasing (monotonic entropy). Ascending id
// order then equals insertion order, which the history sort relies on for
// timestamp ties.
var (
	msgIDMu      sync.Mutex
	msgIDEntropy = ulid.Monotonic(rand.Reader, 0)
)

// NewMessageID returns a new ULID string (26 chars, lexicographically sortable).
func NewMessageID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	msgIDMu.Lock()
	defer msgIDMu.Unlock()

	id, err := ulid.New(ulid.Timestamp(now), msgIDEntropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// NewConversationID returns a random UUID string.
// Conversations are addressed by the participant pair, so their ids carry no
// ordering requirement.
func NewConversationID() string {
	return uuid.NewString()
}
