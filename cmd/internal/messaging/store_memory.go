package messaging

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryStore is the dev/test fallback when DB is not configured.
// It backs both store contracts behind a single mutex, which also serves as
// the find-or-create concurrency guard: two racing first messages between
// the same pair serialize on it and observe one conversation.
type InMemoryStore struct {
	mu        sync.Mutex
	convByKey map[string]*Conversation // canonical pair key -> conversation
	convByID  map[string]*Conversation
	msgs      map[string][]*Message // conversation id -> messages in insertion order
	msgByID   map[string]*Message
	lastTS    time.Time
}

// NewInMemoryStore constructs an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		convByKey: make(map[string]*Conversation),
		convByID:  make(map[string]*Conversation),
		msgs:      make(map[string][]*Message),
		msgByID:   make(map[string]*Message),
	}
}

// Conversations returns the ConversationStore view of the shared state.
func (s *InMemoryStore) Conversations() ConversationStore { return memConversations{s} }

// Messages returns the MessageStore view of the shared state.
func (s *InMemoryStore) Messages() MessageStore { return memMessages{s} }

func pairMapKey(userA, userB string) string {
	low, high := PairKey(userA, userB)
	return low + "\x00" + high
}

// nextTimestamp returns a strictly increasing timestamp. Caller holds s.mu.
// Strict monotonicity makes the store-assigned timestamp a total order on
// its own; ULID ids break ties for data merged from elsewhere.
func (s *InMemoryStore) nextTimestamp(now time.Time) time.Time {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	if !now.After(s.lastTS) {
		now = s.lastTS.Add(time.Nanosecond)
	}
	s.lastTS = now
	return now
}

// ---- ConversationStore ----

type memConversations struct{ s *InMemoryStore }

func (v memConversations) FindBetween(ctx context.Context, userA, userB string) (Conversation, error) {
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}
	if userA == "" || userB == "" {
		return Conversation{}, invalidInput("messaging.FindBetween", "empty participant id")
	}

	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	c, ok := v.s.convByKey[pairMapKey(userA, userB)]
	if !ok {
		return Conversation{}, notFound("messaging.FindBetween", "conversation")
	}
	return *c, nil
}

func (v memConversations) FindAllForUser(ctx context.Context, userID string) ([]Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, invalidInput("messaging.FindAllForUser", "empty user id")
	}

	v.s.mu.Lock()
	out := make([]Conversation, 0, 8)
	for _, c := range v.s.convByKey {
		if c.Has(userID) {
			out = append(out, *c)
		}
	}
	v.s.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastUpdated.After(out[j].LastUpdated)
	})
	return out, nil
}

func (v memConversations) Create(ctx context.Context, userA, userB string, now time.Time) (Conversation, error) {
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}
	if userA == "" || userB == "" {
		return Conversation{}, invalidInput("messaging.CreateConversation", "empty participant id")
	}
	if userA == userB {
		return Conversation{}, invalidInput("messaging.CreateConversation", "participants must be distinct")
	}

	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	key := pairMapKey(userA, userB)
	if existing, ok := v.s.convByKey[key]; ok {
		return *existing, nil
	}

	low, high := PairKey(userA, userB)
	if now.IsZero() {
		now = time.Now().UTC()
	}
	c := &Conversation{
		ID:           NewConversationID(),
		ParticipantA: low,
		ParticipantB: high,
		LastUpdated:  now,
	}
	v.s.convByKey[key] = c
	v.s.convByID[c.ID] = c
	return *c, nil
}

func (v memConversations) Save(ctx context.Context, conv Conversation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if conv.ID == "" {
		return invalidInput("messaging.SaveConversation", "empty conversation id")
	}

	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	c, ok := v.s.convByID[conv.ID]
	if !ok {
		return notFound("messaging.SaveConversation", "conversation")
	}
	c.LastMessage = conv.LastMessage
	// Last-writer-wins on content, but the timestamp never regresses.
	if conv.LastUpdated.After(c.LastUpdated) {
		c.LastUpdated = conv.LastUpdated
	}
	return nil
}

// ---- MessageStore ----

type memMessages struct{ s *InMemoryStore }

func (v memMessages) Create(ctx context.Context, in CreateMessageInput) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	if in.ConversationID == "" || in.SenderID == "" || in.ReceiverID == "" {
		return Message{}, invalidInput("messaging.CreateMessage", "missing required field")
	}
	if in.SenderID == in.ReceiverID {
		return Message{}, invalidInput("messaging.CreateMessage", "sender and receiver must differ")
	}
	if in.Content == "" {
		return Message{}, invalidInput("messaging.CreateMessage", "empty content")
	}

	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	if _, ok := v.s.convByID[in.ConversationID]; !ok {
		return Message{}, notFound("messaging.CreateMessage", "conversation")
	}

	ts := v.s.nextTimestamp(in.Now)
	id, err := NewMessageID(ts)
	if err != nil {
		return Message{}, err
	}

	m := &Message{
		ID:             id,
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		ReceiverID:     in.ReceiverID,
		Content:        in.Content,
		Timestamp:      ts,
	}
	v.s.msgByID[m.ID] = m
	v.s.msgs[in.ConversationID] = append(v.s.msgs[in.ConversationID], m)

	return *m, nil
}

func (v memMessages) FindBetween(ctx context.Context, userA, userB string) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if userA == "" || userB == "" {
		return nil, invalidInput("messaging.FindMessagesBetween", "empty participant id")
	}

	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	var out []Message
	for _, list := range v.s.msgs {
		for _, m := range list {
			if (m.SenderID == userA && m.ReceiverID == userB) ||
				(m.SenderID == userB && m.ReceiverID == userA) {
				out = append(out, *m)
			}
		}
	}
	return out, nil
}

func (v memMessages) FindUnread(ctx context.Context, conversationID, receiverID string) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if conversationID == "" || receiverID == "" {
		return nil, invalidInput("messaging.FindUnread", "missing required field")
	}

	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	var out []Message
	for _, m := range v.s.msgs[conversationID] {
		if m.ReceiverID == receiverID && !m.Read {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (v memMessages) CountUnread(ctx context.Context, conversationID, receiverID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	var n int64
	for _, m := range v.s.msgs[conversationID] {
		if m.ReceiverID == receiverID && !m.Read {
			n++
		}
	}
	return n, nil
}

func (v memMessages) MarkRead(ctx context.Context, messageIDs []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	for _, id := range messageIDs {
		if m, ok := v.s.msgByID[id]; ok {
			m.Read = true
		}
	}
	return nil
}

func (v memMessages) CountForUser(ctx context.Context, userID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	var n int64
	for _, list := range v.s.msgs {
		for _, m := range list {
			if m.SenderID == userID || m.ReceiverID == userID {
				n++
			}
		}
	}
	return n, nil
}

func (v memMessages) CountUnreadForUser(ctx context.Context, userID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	var n int64
	for _, list := range v.s.msgs {
		for _, m := range list {
			if m.ReceiverID == userID && !m.Read {
				n++
			}
		}
	}
	return n, nil
}

func (v memMessages) CountUnreadConversationsForUser(ctx context.Context, userID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	var n int64
	for _, list := range v.s.msgs {
		for _, m := range list {
			if m.ReceiverID == userID && !m.Read {
				n++
				break
			}
		}
	}
	return n, nil
}

func (v memMessages) CountRepliedConversationsForUser(ctx context.Context, userID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	var n int64
	for _, list := range v.s.msgs {
		involved := false
		senders := make(map[string]struct{}, 2)
		for _, m := range list {
			if m.SenderID == userID || m.ReceiverID == userID {
				involved = true
			}
			senders[m.SenderID] = struct{}{}
		}
		// Replied means both participants have sent at least once.
		if involved && len(senders) >= 2 {
			n++
		}
	}
	return n, nil
}
