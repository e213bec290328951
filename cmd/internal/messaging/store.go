package messaging

import (
	"context"
	"time"
)

// ConversationStore persists conversation records.
//
// Requirements:
//   - At most one conversation per unordered participant pair
//   - FindBetween never matches on a single participant
//   - FindAllForUser ordered by last_updated DESC
type ConversationStore interface {
	// FindBetween looks a conversation up by unordered participant pair.
	// Returns ErrNotFound when no conversation exists for the pair.
	FindBetween(ctx context.Context, userA, userB string) (Conversation, error)

	// FindAllForUser returns every conversation userID participates in,
	// ordered by LastUpdated descending.
	FindAllForUser(ctx context.Context, userID string) ([]Conversation, error)

	// Create atomically resolves-or-creates the conversation for the pair.
	// Two racing first messages between the same pair observe the same row.
	// Fails with ErrInvalidInput unless the pair is two distinct non-empty ids.
	Create(ctx context.Context, userA, userB string, now time.Time) (Conversation, error)

	// Save upserts the denormalized LastMessage/LastUpdated cache.
	// Repeated identical writes are safe; LastUpdated never regresses.
	Save(ctx context.Context, conv Conversation) error
}

// CreateMessageInput describes a message persistence request.
// ID and Timestamp are assigned by the store.
type CreateMessageInput struct {
	ConversationID string
	SenderID       string
	ReceiverID     string
	Content        string
	Now            time.Time
}

// MessageStore persists and queries messages.
//
// Requirements:
//   - Create assigns id + server timestamp; timestamps are monotonically
//     non-decreasing per store and never collide in a way that breaks
//     tie-breaking
//   - FindBetween is unordered at the storage layer (history ordering is a
//     caller contract)
//   - MarkRead is atomic per message and idempotent across retries
type MessageStore interface {
	Create(ctx context.Context, in CreateMessageInput) (Message, error)

	// FindBetween returns all messages exchanged between the pair, in no
	// particular order.
	FindBetween(ctx context.Context, userA, userB string) ([]Message, error)

	// FindUnread returns the unread messages addressed to receiverID within
	// the conversation.
	FindUnread(ctx context.Context, conversationID, receiverID string) ([]Message, error)

	// CountUnread counts unread messages addressed to receiverID within the
	// conversation.
	CountUnread(ctx context.Context, conversationID, receiverID string) (int64, error)

	// MarkRead flips the given messages to read. Partial batch failure may
	// leave some messages read and others not; retrying is safe because
	// marking an already-read message is a no-op.
	MarkRead(ctx context.Context, messageIDs []string) error

	// Dashboard aggregates. Callers are expected to degrade failures to zero.
	CountForUser(ctx context.Context, userID string) (int64, error)
	CountUnreadForUser(ctx context.Context, userID string) (int64, error)
	CountUnreadConversationsForUser(ctx context.Context, userID string) (int64, error)
	CountRepliedConversationsForUser(ctx context.Context, userID string) (int64, error)
}
