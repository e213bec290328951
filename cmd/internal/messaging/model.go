package messaging

import (
	"strings"
	"time"
)

// Conversation is the durable record of a two-party messaging thread.
//
// Participants are stored in canonical (lexicographic) order so that the
// unordered pair {A, B} always maps to exactly one row regardless of which
// side sent first. LastMessage/LastUpdated are a denormalized cache of the
// latest message; the authoritative history lives in the Message records.
type Conversation struct {
	ID           string
	ParticipantA string // canonical low participant id
	ParticipantB string // canonical high participant id
	LastMessage  string
	LastUpdated  time.Time
}

// Other returns the participant id that is not userID, or "" when userID is
// not a participant or the conversation is a self-pair.
func (c Conversation) Other(userID string) string {
	if c.ParticipantA == c.ParticipantB {
		return ""
	}
	switch userID {
	case c.ParticipantA:
		return c.ParticipantB
	case c.ParticipantB:
		return c.ParticipantA
	default:
		return ""
	}
}

// Has reports whether userID is a participant.
func (c Conversation) Has(userID string) bool {
	return userID != "" && (userID == c.ParticipantA || userID == c.ParticipantB)
}

// Message is a single direct message bound to a conversation.
//
// Timestamp is assigned by the store at persistence time and defines total
// order within a conversation; message ids are ULIDs generated from the same
// clock with monotonic entropy, so ascending id order doubles as the
// insertion-order tie-break. Read is flipped only by MarkAsRead, only for
// messages addressed to the caller.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	ReceiverID     string
	Content        string
	Timestamp      time.Time
	Read           bool
}

// SendReceipt is the response value returned to the sender after a durable write.
type SendReceipt struct {
	MessageID      string
	ConversationID string
	SenderID       string
	ReceiverID     string
	Content        string
	Timestamp      time.Time
}

// MessageView is the minimal history projection.
type MessageView struct {
	ID         string
	SenderID   string
	ReceiverID string
	Content    string
	Timestamp  time.Time
}

// RecentChat is the per-viewer summary of one conversation: the other
// participant's resolved identity plus the conversation cache and a
// live-computed unread count.
type RecentChat struct {
	ConversationID string
	FriendID       string
	DisplayName    string
	AvatarURL      string
	LastMessage    string
	LastUpdated    time.Time
	UnreadCount    int64
}

// PairKey returns the canonical ordered pair for an unordered participant pair.
func PairKey(userA, userB string) (low, high string) {
	if strings.Compare(userA, userB) <= 0 {
		return userA, userB
	}
	return userB, userA
}
