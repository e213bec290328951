package messaging

import "context"

// Dashboard aggregates.
//
// These queries degrade to zero on any store failure instead of propagating
// the error, so dashboard-style consumers stay available when a sub-query
// fails. Callers must treat zero as "no data available", not ground truth.

// Counts bundles the per-user aggregates consumed by the dashboard layer.
type Counts struct {
	TotalMessages        int64
	UnreadMessages       int64
	UnreadConversations  int64
	RepliedConversations int64
}

// TotalMessages counts all messages sent or received by userID.
func (s *Service) TotalMessages(ctx context.Context, userID string) int64 {
	return s.safeCount(ctx, "messaging.TotalMessages", userID, s.msgs.CountForUser)
}

// UnreadMessages counts unread messages addressed to userID.
func (s *Service) UnreadMessages(ctx context.Context, userID string) int64 {
	return s.safeCount(ctx, "messaging.UnreadMessages", userID, s.msgs.CountUnreadForUser)
}

// UnreadConversations counts conversations with at least one unread message
// addressed to userID.
func (s *Service) UnreadConversations(ctx context.Context, userID string) int64 {
	return s.safeCount(ctx, "messaging.UnreadConversations", userID, s.msgs.CountUnreadConversationsForUser)
}

// RepliedConversations counts conversations in which both participants have
// sent at least one message.
func (s *Service) RepliedConversations(ctx context.Context, userID string) int64 {
	return s.safeCount(ctx, "messaging.RepliedConversations", userID, s.msgs.CountRepliedConversationsForUser)
}

// DashboardCounts computes all four aggregates. Each is independently
// computable; one failing query zeroes only its own field.
func (s *Service) DashboardCounts(ctx context.Context, userID string) Counts {
	return Counts{
		TotalMessages:        s.TotalMessages(ctx, userID),
		UnreadMessages:       s.UnreadMessages(ctx, userID),
		UnreadConversations:  s.UnreadConversations(ctx, userID),
		RepliedConversations: s.RepliedConversations(ctx, userID),
	}
}

func (s *Service) safeCount(ctx context.Context, op, userID string, query func(context.Context, string) (int64, error)) int64 {
	n, err := query(ctx, userID)
	if err != nil {
		s.log.Warn("stats.count.fail", "op", op, "user_id", userID, "err", err)
		s.statFail(op)
		return 0
	}
	return n
}
