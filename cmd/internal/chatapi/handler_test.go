package chatapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"courier/cmd/internal/directory"
	"courier/cmd/internal/messaging"
)

func newTestMux(t *testing.T) (*http.ServeMux, *messaging.Service) {
	t.Helper()

	store := messaging.NewInMemoryStore()
	resolver := directory.NewStaticResolver()
	resolver.Put(directory.Identity{UserID: "bob", DisplayName: "Bob", AvatarURL: "https://cdn.example/b.png"})

	svc := messaging.NewService(
		slog.New(slog.DiscardHandler),
		store.Conversations(),
		store.Messages(),
		messaging.WithResolver(resolver),
	)

	mux := http.NewServeMux()
	NewHandler(slog.New(slog.DiscardHandler), svc, Config{}).Register(mux)
	return mux, svc
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path, userID, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if userID != "" {
		req.Header.Set(UserIDHeader, userID)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestSendMessage_Created(t *testing.T) {
	t.Parallel()

	mux, _ := newTestMux(t)
	rec := doJSON(t, mux, http.MethodPost, "/api/v1/messages", "alice",
		`{"receiver_id":"bob","content":"hi"}`)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (%s)", rec.Code, rec.Body.String())
	}

	var resp messageResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ID == "" || resp.ConversationID == "" {
		t.Fatalf("missing ids in response: %+v", resp)
	}
	if resp.SenderID != "alice" || resp.ReceiverID != "bob" || resp.Content != "hi" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestSendMessage_RequiresIdentity(t *testing.T) {
	t.Parallel()

	mux, _ := newTestMux(t)
	rec := doJSON(t, mux, http.MethodPost, "/api/v1/messages", "",
		`{"receiver_id":"bob","content":"hi"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestSendMessage_BadJSON(t *testing.T) {
	t.Parallel()

	mux, _ := newTestMux(t)
	rec := doJSON(t, mux, http.MethodPost, "/api/v1/messages", "alice", `{"receiver_id":`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSendMessage_RejectsSelfSend(t *testing.T) {
	t.Parallel()

	mux, _ := newTestMux(t)
	rec := doJSON(t, mux, http.MethodPost, "/api/v1/messages", "alice",
		`{"receiver_id":"alice","content":"hi"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error.Code != "invalid_input" {
		t.Fatalf("code = %q, want invalid_input", resp.Error.Code)
	}
}

func TestGetMessages_History(t *testing.T) {
	t.Parallel()

	mux, svc := newTestMux(t)
	ctx := context.Background()
	if _, err := svc.SendMessage(ctx, "alice", "bob", "hi"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := svc.SendMessage(ctx, "bob", "alice", "hello"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec := doJSON(t, mux, http.MethodGet, "/api/v1/messages/bob", "alice", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", rec.Code, rec.Body.String())
	}

	var resp []messageResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp) != 2 {
		t.Fatalf("messages = %d, want 2", len(resp))
	}
	if resp[0].Content != "hi" || resp[1].Content != "hello" {
		t.Fatalf("unexpected order: %q then %q", resp[0].Content, resp[1].Content)
	}
}

func TestGetMessages_EmptyHistoryIsEmptyArray(t *testing.T) {
	t.Parallel()

	mux, _ := newTestMux(t)
	rec := doJSON(t, mux, http.MethodGet, "/api/v1/messages/bob", "alice", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Fatalf("body = %q, want []", got)
	}
}

func TestGetChats_RecentWithUnread(t *testing.T) {
	t.Parallel()

	mux, svc := newTestMux(t)
	ctx := context.Background()
	if _, err := svc.SendMessage(ctx, "bob", "alice", "hey"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec := doJSON(t, mux, http.MethodGet, "/api/v1/chats", "alice", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", rec.Code, rec.Body.String())
	}

	var resp []recentChatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp) != 1 {
		t.Fatalf("chats = %d, want 1", len(resp))
	}
	chat := resp[0]
	if chat.FriendID != "bob" || chat.DisplayName != "Bob" {
		t.Fatalf("unexpected friend: %+v", chat)
	}
	if chat.LastMessage != "hey" || chat.UnreadCount != 1 {
		t.Fatalf("unexpected summary: %+v", chat)
	}
}

func TestMarkRead_NoContentAndIdempotent(t *testing.T) {
	t.Parallel()

	mux, svc := newTestMux(t)
	ctx := context.Background()
	rcpt, err := svc.SendMessage(ctx, "bob", "alice", "hey")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	path := "/api/v1/chats/" + rcpt.ConversationID + "/read"
	for i := 0; i < 2; i++ {
		rec := doJSON(t, mux, http.MethodPost, path, "alice", "")
		if rec.Code != http.StatusNoContent {
			t.Fatalf("attempt %d: status = %d, want 204 (%s)", i, rec.Code, rec.Body.String())
		}
	}

	rec := doJSON(t, mux, http.MethodGet, "/api/v1/chats", "alice", "")
	var resp []recentChatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp[0].UnreadCount != 0 {
		t.Fatalf("unread after mark = %d, want 0", resp[0].UnreadCount)
	}
}

func TestMarkRead_UnknownConversationIsNoop(t *testing.T) {
	t.Parallel()

	mux, _ := newTestMux(t)
	rec := doJSON(t, mux, http.MethodPost, "/api/v1/chats/ghost/read", "alice", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
}

func TestDashboard_Counts(t *testing.T) {
	t.Parallel()

	mux, svc := newTestMux(t)
	ctx := context.Background()
	if _, err := svc.SendMessage(ctx, "alice", "bob", "hi"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := svc.SendMessage(ctx, "bob", "alice", "hello"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec := doJSON(t, mux, http.MethodGet, "/api/v1/dashboard", "alice", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", rec.Code, rec.Body.String())
	}

	var resp dashboardResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.TotalMessages != 2 {
		t.Fatalf("total = %d, want 2", resp.TotalMessages)
	}
	if resp.UnreadMessages != 1 || resp.UnreadConversations != 1 {
		t.Fatalf("unread counts: %+v", resp)
	}
	if resp.RepliedConversations != 1 {
		t.Fatalf("replied = %d, want 1", resp.RepliedConversations)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	t.Parallel()

	mux, _ := newTestMux(t)
	rec := doJSON(t, mux, http.MethodDelete, "/api/v1/chats", "alice", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}
