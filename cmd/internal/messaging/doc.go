// Package messaging implements Courier's direct-messaging core.
//
// It owns the Conversation and Message records, the send / history /
// recent-chat / read-state operations on top of them, and the dashboard
// count queries. Real-time delivery is decoupled behind the Publisher
// interface; persistence lives behind the ConversationStore and
// MessageStore interfaces with in-memory and Postgres implementations.
package messaging
