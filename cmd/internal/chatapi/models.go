package chatapi

import (
	"time"

	"courier/cmd/internal/messaging"
)

type sendMessageRequest struct {
	ReceiverID string `json:"receiver_id"`
	Content    string `json:"content"`
}

type messageResponse struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	ReceiverID     string    `json:"receiver_id"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
}

type recentChatResponse struct {
	ConversationID string    `json:"conversation_id"`
	FriendID       string    `json:"friend_id"`
	DisplayName    string    `json:"display_name"`
	AvatarURL      string    `json:"avatar_url,omitempty"`
	LastMessage    string    `json:"last_message"`
	LastUpdated    time.Time `json:"last_updated"`
	UnreadCount    int64     `json:"unread_count"`
}

type dashboardResponse struct {
	TotalMessages        int64 `json:"total_messages"`
	UnreadMessages       int64 `json:"unread_messages"`
	UnreadConversations  int64 `json:"unread_conversations"`
	RepliedConversations int64 `json:"replied_conversations"`
}

func toMessageResponse(rcpt messaging.SendReceipt) messageResponse {
	return messageResponse{
		ID:             rcpt.MessageID,
		ConversationID: rcpt.ConversationID,
		SenderID:       rcpt.SenderID,
		ReceiverID:     rcpt.ReceiverID,
		Content:        rcpt.Content,
		Timestamp:      rcpt.Timestamp,
	}
}

func toHistoryResponse(views []messaging.MessageView) []messageResponse {
	out := make([]messageResponse, 0, len(views))
	for _, v := range views {
		out = append(out, messageResponse{
			ID:         v.ID,
			SenderID:   v.SenderID,
			ReceiverID: v.ReceiverID,
			Content:    v.Content,
			Timestamp:  v.Timestamp,
		})
	}
	return out
}

func toRecentChatsResponse(chats []messaging.RecentChat) []recentChatResponse {
	out := make([]recentChatResponse, 0, len(chats))
	for _, c := range chats {
		out = append(out, recentChatResponse{
			ConversationID: c.ConversationID,
			FriendID:       c.FriendID,
			DisplayName:    c.DisplayName,
			AvatarURL:      c.AvatarURL,
			LastMessage:    c.LastMessage,
			LastUpdated:    c.LastUpdated,
			UnreadCount:    c.UnreadCount,
		})
	}
	return out
}
