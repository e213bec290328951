package messaging

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"courier/cmd/internal/directory"
)

// unresolvedDisplayName is the placeholder identity for participants the
// directory cannot resolve.
const unresolvedDisplayName = "Unknown"

// Publisher hands durably persisted messages to the real-time layer.
//
// Implementations must not block and must not fail the send path: delivery
// is best-effort on top of a persisted fact, and a disconnected subscriber
// simply misses the push (history remains the source of truth).
type Publisher interface {
	PublishMessage(msg Message)
}

// Service orchestrates conversation lookup-or-create, message creation,
// read-state transitions, and the recent-chat / history queries.
type Service struct {
	log      *slog.Logger
	convs    ConversationStore
	msgs     MessageStore
	resolver directory.Resolver
	pub      Publisher
	now      func() time.Time

	// statFail is invoked whenever an aggregate count query degrades to zero.
	statFail func(op string)
}

// ServiceOption configures optional Service collaborators.
type ServiceOption func(*Service)

// WithResolver sets the identity resolver used for recent-chat enrichment.
func WithResolver(r directory.Resolver) ServiceOption {
	return func(s *Service) { s.resolver = r }
}

// WithPublisher sets the real-time publisher invoked after each durable send.
func WithPublisher(p Publisher) ServiceOption {
	return func(s *Service) { s.pub = p }
}

// WithClock overrides the wall clock (tests).
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithStatFailureHook registers a callback fired when an aggregate count
// query fails and degrades to zero.
func WithStatFailureHook(hook func(op string)) ServiceOption {
	return func(s *Service) {
		if hook != nil {
			s.statFail = hook
		}
	}
}

// NewService constructs a Service. Resolver and publisher are optional:
// without a resolver every friend resolves to the placeholder identity,
// without a publisher sends are persisted but not pushed.
func NewService(log *slog.Logger, convs ConversationStore, msgs MessageStore, opts ...ServiceOption) *Service {
	if log == nil {
		log = slog.Default()
	}
	s := &Service{
		log:      log,
		convs:    convs,
		msgs:     msgs,
		now:      func() time.Time { return time.Now().UTC() },
		statFail: func(string) {},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	return s
}

// SendMessage validates the request, resolves or lazily creates the
// conversation, persists the message, refreshes the conversation cache, and
// only then hands the persisted message to the publisher.
//
// Side effects: at most one new conversation, exactly one new message, one
// conversation update. No push ever precedes the durable write.
func (s *Service) SendMessage(ctx context.Context, senderID, receiverID, content string) (SendReceipt, error) {
	const op = "messaging.SendMessage"

	senderID = strings.TrimSpace(senderID)
	receiverID = strings.TrimSpace(receiverID)
	if senderID == "" {
		return SendReceipt{}, invalidInput(op, "missing sender id")
	}
	if receiverID == "" {
		return SendReceipt{}, invalidInput(op, "missing receiver id")
	}
	if strings.TrimSpace(content) == "" {
		return SendReceipt{}, invalidInput(op, "empty content")
	}
	if senderID == receiverID {
		return SendReceipt{}, invalidInput(op, "sender and receiver must differ")
	}

	conv, err := s.convs.FindBetween(ctx, senderID, receiverID)
	if IsNotFound(err) {
		conv, err = s.convs.Create(ctx, senderID, receiverID, s.now())
	}
	if err != nil {
		return SendReceipt{}, err
	}

	msg, err := s.msgs.Create(ctx, CreateMessageInput{
		ConversationID: conv.ID,
		SenderID:       senderID,
		ReceiverID:     receiverID,
		Content:        content,
		Now:            s.now(),
	})
	if err != nil {
		return SendReceipt{}, err
	}

	conv.LastMessage = msg.Content
	conv.LastUpdated = msg.Timestamp
	if err := s.convs.Save(ctx, conv); err != nil {
		return SendReceipt{}, err
	}

	s.log.Info("message.send",
		"conversation_id", conv.ID,
		"message_id", msg.ID,
		"sender_id", senderID,
		"receiver_id", receiverID,
	)

	if s.pub != nil {
		s.pub.PublishMessage(msg)
	}

	return SendReceipt{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		ReceiverID:     msg.ReceiverID,
		Content:        msg.Content,
		Timestamp:      msg.Timestamp,
	}, nil
}

// GetRecentChats returns one entry per conversation the user participates
// in, ordered by last activity descending. Conversations without a
// resolvable other participant are dropped; a directory miss falls back to
// the placeholder identity instead.
func (s *Service) GetRecentChats(ctx context.Context, userID string) ([]RecentChat, error) {
	const op = "messaging.GetRecentChats"

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, invalidInput(op, "missing user id")
	}

	convs, err := s.convs.FindAllForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]RecentChat, 0, len(convs))
	for _, conv := range convs {
		friendID := conv.Other(userID)
		if friendID == "" {
			continue
		}

		identity := directory.Identity{DisplayName: unresolvedDisplayName}
		if s.resolver != nil {
			if id, rerr := s.resolver.Resolve(ctx, friendID); rerr == nil {
				identity = id
				if identity.DisplayName == "" {
					identity.DisplayName = unresolvedDisplayName
				}
			}
		}

		unread, err := s.msgs.CountUnread(ctx, conv.ID, userID)
		if err != nil {
			return nil, err
		}

		out = append(out, RecentChat{
			ConversationID: conv.ID,
			FriendID:       friendID,
			DisplayName:    identity.DisplayName,
			AvatarURL:      identity.AvatarURL,
			LastMessage:    conv.LastMessage,
			LastUpdated:    conv.LastUpdated,
			UnreadCount:    unread,
		})
	}
	return out, nil
}

// GetMessagesWithUser returns the full history between the pair, ascending
// by timestamp with ascending id as the stable tie-break.
func (s *Service) GetMessagesWithUser(ctx context.Context, myID, friendID string) ([]MessageView, error) {
	const op = "messaging.GetMessagesWithUser"

	myID = strings.TrimSpace(myID)
	friendID = strings.TrimSpace(friendID)
	if myID == "" || friendID == "" {
		return nil, invalidInput(op, "missing user id")
	}

	msgs, err := s.msgs.FindBetween(ctx, myID, friendID)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].Timestamp.Equal(msgs[j].Timestamp) {
			return msgs[i].ID < msgs[j].ID
		}
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})

	out := make([]MessageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, MessageView{
			ID:         m.ID,
			SenderID:   m.SenderID,
			ReceiverID: m.ReceiverID,
			Content:    m.Content,
			Timestamp:  m.Timestamp,
		})
	}
	return out, nil
}

// MarkAsRead flips every unread message addressed to userID within the
// conversation to read. A no-op when nothing is unread; idempotent across
// repeated calls. Commutes with SendMessage: a concurrent send either lands
// before the unread scan (and gets marked) or after it (and stays unread
// until the next call).
func (s *Service) MarkAsRead(ctx context.Context, conversationID, userID string) error {
	const op = "messaging.MarkAsRead"

	conversationID = strings.TrimSpace(conversationID)
	userID = strings.TrimSpace(userID)
	if conversationID == "" || userID == "" {
		return invalidInput(op, "missing required field")
	}

	unread, err := s.msgs.FindUnread(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if len(unread) == 0 {
		return nil
	}

	ids := make([]string, 0, len(unread))
	for _, m := range unread {
		ids = append(ids, m.ID)
	}

	if err := s.msgs.MarkRead(ctx, ids); err != nil {
		return err
	}

	s.log.Info("message.mark_read",
		"conversation_id", conversationID,
		"user_id", userID,
		"count", len(ids),
	)
	return nil
}
