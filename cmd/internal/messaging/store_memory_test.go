package messaging

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryConversations_CreateIsFindOrCreate(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore()
	convs := store.Conversations()
	ctx := context.Background()
	now := time.Now().UTC()

	first, err := convs.Create(ctx, "alice", "bob", now)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// Reversed argument order must resolve to the same conversation.
	second, err := convs.Create(ctx, "bob", "alice", now.Add(time.Second))
	if err != nil {
		t.Fatalf("create reversed: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected one conversation per pair, got %q and %q", first.ID, second.ID)
	}

	found, err := convs.FindBetween(ctx, "bob", "alice")
	if err != nil {
		t.Fatalf("find between: %v", err)
	}
	if found.ID != first.ID {
		t.Fatalf("FindBetween returned %q want %q", found.ID, first.ID)
	}
}

func TestMemoryConversations_CreateRejectsSelfPair(t *testing.T) {
	t.Parallel()

	convs := NewInMemoryStore().Conversations()

	_, err := convs.Create(context.Background(), "alice", "alice", time.Now().UTC())
	if !IsInvalidInput(err) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestMemoryConversations_FindBetweenNeverMatchesOneSide(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore()
	convs := store.Conversations()
	ctx := context.Background()

	if _, err := convs.Create(ctx, "alice", "bob", time.Now().UTC()); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := convs.FindBetween(ctx, "alice", "carol"); !IsNotFound(err) {
		t.Fatalf("expected ErrNotFound for partial pair match, got %v", err)
	}
}

func TestMemoryConversations_ConcurrentFirstContact(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore()
	convs := store.Conversations()
	ctx := context.Background()

	const workers = 16
	ids := make([]string, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, b := "alice", "bob"
			if i%2 == 1 {
				a, b = b, a
			}
			c, err := convs.Create(ctx, a, b, time.Now().UTC())
			if err != nil {
				t.Errorf("create: %v", err)
				return
			}
			ids[i] = c.ID
		}()
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("duplicate conversation created: %q vs %q", ids[i], ids[0])
		}
	}
}

func TestMemoryConversations_SaveMonotonicLastUpdated(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore()
	convs := store.Conversations()
	ctx := context.Background()
	base := time.Now().UTC()

	c, err := convs.Create(ctx, "alice", "bob", base)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	c.LastMessage = "hello"
	c.LastUpdated = base.Add(time.Minute)
	if err := convs.Save(ctx, c); err != nil {
		t.Fatalf("save: %v", err)
	}
	// Repeating the identical write must be safe, and a stale timestamp
	// must not move last_updated backwards.
	if err := convs.Save(ctx, c); err != nil {
		t.Fatalf("repeat save: %v", err)
	}
	stale := c
	stale.LastUpdated = base
	if err := convs.Save(ctx, stale); err != nil {
		t.Fatalf("stale save: %v", err)
	}

	got, err := convs.FindBetween(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if !got.LastUpdated.Equal(base.Add(time.Minute)) {
		t.Fatalf("last_updated regressed: %v", got.LastUpdated)
	}
}

func TestMemoryConversations_FindAllForUserOrder(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore()
	convs := store.Conversations()
	ctx := context.Background()
	base := time.Now().UTC()

	withBob, err := convs.Create(ctx, "alice", "bob", base)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	withCarol, err := convs.Create(ctx, "alice", "carol", base.Add(time.Second))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Bump the older conversation to the top.
	withBob.LastMessage = "newer"
	withBob.LastUpdated = base.Add(time.Minute)
	if err := convs.Save(ctx, withBob); err != nil {
		t.Fatalf("save: %v", err)
	}

	all, err := convs.FindAllForUser(ctx, "alice")
	if err != nil {
		t.Fatalf("find all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(all))
	}
	if all[0].ID != withBob.ID || all[1].ID != withCarol.ID {
		t.Fatalf("wrong order: %q, %q", all[0].ID, all[1].ID)
	}

	none, err := convs.FindAllForUser(ctx, "mallory")
	if err != nil {
		t.Fatalf("find all stranger: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no conversations for stranger, got %d", len(none))
	}
}

func TestMemoryMessages_CreateValidation(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore()
	ctx := context.Background()
	conv, err := store.Conversations().Create(ctx, "alice", "bob", time.Now().UTC())
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	msgs := store.Messages()

	cases := []struct {
		name string
		in   CreateMessageInput
	}{
		{name: "empty content", in: CreateMessageInput{ConversationID: conv.ID, SenderID: "alice", ReceiverID: "bob"}},
		{name: "sender equals receiver", in: CreateMessageInput{ConversationID: conv.ID, SenderID: "alice", ReceiverID: "alice", Content: "hi"}},
		{name: "missing sender", in: CreateMessageInput{ConversationID: conv.ID, ReceiverID: "bob", Content: "hi"}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := msgs.Create(ctx, tc.in); !IsInvalidInput(err) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}

	t.Run("unknown conversation", func(t *testing.T) {
		t.Parallel()
		in := CreateMessageInput{ConversationID: "missing", SenderID: "alice", ReceiverID: "bob", Content: "hi"}
		if _, err := msgs.Create(ctx, in); !IsNotFound(err) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestMemoryMessages_TimestampsStrictlyIncrease(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore()
	ctx := context.Background()
	conv, err := store.Conversations().Create(ctx, "alice", "bob", time.Now().UTC())
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	msgs := store.Messages()

	// Pin the wall clock so every write collides and the store has to
	// disambiguate on its own.
	frozen := time.Now().UTC()

	var prev Message
	for i := 0; i < 50; i++ {
		m, err := msgs.Create(ctx, CreateMessageInput{
			ConversationID: conv.ID,
			SenderID:       "alice",
			ReceiverID:     "bob",
			Content:        "tick",
			Now:            frozen,
		})
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		if i > 0 {
			if !m.Timestamp.After(prev.Timestamp) {
				t.Fatalf("timestamp not strictly increasing at %d: %v <= %v", i, m.Timestamp, prev.Timestamp)
			}
			if m.ID <= prev.ID {
				t.Fatalf("id order broke insertion order at %d: %q <= %q", i, m.ID, prev.ID)
			}
		}
		prev = m
	}
}

func TestMemoryMessages_UnreadLifecycle(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore()
	ctx := context.Background()
	conv, err := store.Conversations().Create(ctx, "alice", "bob", time.Now().UTC())
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	msgs := store.Messages()

	for i := 0; i < 3; i++ {
		if _, err := msgs.Create(ctx, CreateMessageInput{
			ConversationID: conv.ID, SenderID: "alice", ReceiverID: "bob", Content: "hi",
		}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	n, err := msgs.CountUnread(ctx, conv.ID, "bob")
	if err != nil {
		t.Fatalf("count unread: %v", err)
	}
	if n != 3 {
		t.Fatalf("unread = %d, want 3", n)
	}
	// The sender has no unread messages in their own direction.
	n, err = msgs.CountUnread(ctx, conv.ID, "alice")
	if err != nil {
		t.Fatalf("count unread sender: %v", err)
	}
	if n != 0 {
		t.Fatalf("sender unread = %d, want 0", n)
	}

	unread, err := msgs.FindUnread(ctx, conv.ID, "bob")
	if err != nil {
		t.Fatalf("find unread: %v", err)
	}
	ids := make([]string, 0, len(unread))
	for _, m := range unread {
		ids = append(ids, m.ID)
	}
	if err := msgs.MarkRead(ctx, ids); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	// Marking an already-read batch again is a no-op.
	if err := msgs.MarkRead(ctx, ids); err != nil {
		t.Fatalf("re-mark read: %v", err)
	}

	n, err = msgs.CountUnread(ctx, conv.ID, "bob")
	if err != nil {
		t.Fatalf("count after mark: %v", err)
	}
	if n != 0 {
		t.Fatalf("unread after mark = %d, want 0", n)
	}
}

func TestMemoryMessages_Aggregates(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore()
	ctx := context.Background()
	convs := store.Conversations()
	msgs := store.Messages()

	withBob, _ := convs.Create(ctx, "alice", "bob", time.Now().UTC())
	withCarol, _ := convs.Create(ctx, "alice", "carol", time.Now().UTC())

	send := func(conv Conversation, from, to string) {
		t.Helper()
		if _, err := msgs.Create(ctx, CreateMessageInput{
			ConversationID: conv.ID, SenderID: from, ReceiverID: to, Content: "x",
		}); err != nil {
			t.Fatalf("send %s->%s: %v", from, to, err)
		}
	}

	// bob replies, carol never does.
	send(withBob, "alice", "bob")
	send(withBob, "bob", "alice")
	send(withCarol, "alice", "carol")

	if n, _ := msgs.CountForUser(ctx, "alice"); n != 3 {
		t.Fatalf("total for alice = %d, want 3", n)
	}
	if n, _ := msgs.CountUnreadForUser(ctx, "alice"); n != 1 {
		t.Fatalf("unread for alice = %d, want 1", n)
	}
	if n, _ := msgs.CountUnreadConversationsForUser(ctx, "alice"); n != 1 {
		t.Fatalf("unread conversations for alice = %d, want 1", n)
	}
	if n, _ := msgs.CountRepliedConversationsForUser(ctx, "alice"); n != 1 {
		t.Fatalf("replied conversations for alice = %d, want 1", n)
	}
	if n, _ := msgs.CountRepliedConversationsForUser(ctx, "carol"); n != 0 {
		t.Fatalf("replied conversations for carol = %d, want 0", n)
	}
}

func TestMemoryMessages_RetainsFullHistory(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore()
	ctx := context.Background()
	conv, err := store.Conversations().Create(ctx, "alice", "bob", time.Now().UTC())
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	msgs := store.Messages()

	// Messages are created once and never deleted; long conversations must
	// keep every message, including the very first one.
	const total = 10_001

	first, err := msgs.Create(ctx, CreateMessageInput{
		ConversationID: conv.ID, SenderID: "alice", ReceiverID: "bob", Content: "first",
	})
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	for i := 1; i < total; i++ {
		if _, err := msgs.Create(ctx, CreateMessageInput{
			ConversationID: conv.ID, SenderID: "alice", ReceiverID: "bob", Content: "x",
		}); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}

	history, err := msgs.FindBetween(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("find between: %v", err)
	}
	if len(history) != total {
		t.Fatalf("history length = %d, want %d", len(history), total)
	}
	if history[0].ID != first.ID || history[0].Content != "first" {
		t.Fatalf("oldest message lost: got %q %q", history[0].ID, history[0].Content)
	}
	if n, _ := msgs.CountForUser(ctx, "alice"); n != total {
		t.Fatalf("CountForUser = %d, want %d", n, total)
	}
}

func TestMemoryMessages_FindBetweenMatchesExactPair(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore()
	ctx := context.Background()
	convs := store.Conversations()
	msgs := store.Messages()

	withBob, _ := convs.Create(ctx, "alice", "bob", time.Now().UTC())
	withCarol, _ := convs.Create(ctx, "alice", "carol", time.Now().UTC())

	if _, err := msgs.Create(ctx, CreateMessageInput{ConversationID: withBob.ID, SenderID: "alice", ReceiverID: "bob", Content: "to bob"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := msgs.Create(ctx, CreateMessageInput{ConversationID: withCarol.ID, SenderID: "carol", ReceiverID: "alice", Content: "from carol"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := msgs.FindBetween(ctx, "bob", "alice")
	if err != nil {
		t.Fatalf("find between: %v", err)
	}
	if len(got) != 1 || got[0].Content != "to bob" {
		t.Fatalf("unexpected result: %+v", got)
	}
}
