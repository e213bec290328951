package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"courier/cmd/internal/messaging"
	v1 "courier/contracts/chat/v1"
)

// Bridge propagates envelopes to sibling instances so a receiver connected
// elsewhere still gets its push. Implementations must not block the caller
// beyond the supplied context.
type Bridge interface {
	Publish(ctx context.Context, frame BridgeFrame) error
}

// BridgeFrame is the cross-instance wire unit. Origin identifies the
// publishing instance so subscribers can skip their own frames.
type BridgeFrame struct {
	Origin   string      `json:"origin"`
	Targets  []string    `json:"targets"`
	Envelope v1.Envelope `json:"envelope"`
}

// Fanout turns persisted messages into realtime pushes.
//
// It implements the messaging publisher contract: PublishMessage is called
// strictly after the message is durable, never blocks, and never fails the
// send path. Delivery is best effort; offline receivers catch up through
// history and unread counts.
type Fanout struct {
	log    *slog.Logger
	hub    *Hub
	bridge Bridge
	origin string

	publishTimeout time.Duration

	delivered func(n int)
	dropped   func(n int)
}

// FanoutOption customizes a Fanout.
type FanoutOption func(*Fanout)

// WithBridge attaches a cross-instance bridge.
func WithBridge(b Bridge) FanoutOption {
	return func(f *Fanout) { f.bridge = b }
}

// WithDeliveryHooks registers counters for delivered and dropped pushes.
func WithDeliveryHooks(delivered, dropped func(n int)) FanoutOption {
	return func(f *Fanout) {
		f.delivered = delivered
		f.dropped = dropped
	}
}

// NewFanout constructs a Fanout bound to a hub. origin names this instance
// on the bridge channel; it must be unique per process.
func NewFanout(log *slog.Logger, hub *Hub, origin string, opts ...FanoutOption) *Fanout {
	f := &Fanout{
		log:            log,
		hub:            hub,
		origin:         origin,
		publishTimeout: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Origin returns the instance tag used on the bridge channel.
func (f *Fanout) Origin() string { return f.origin }

// PublishMessage pushes a freshly persisted message to the receiver's live
// sessions and echoes it to the sender's other sessions.
func (f *Fanout) PublishMessage(msg messaging.Message) {
	if f == nil || f.hub == nil {
		return
	}

	env, err := newMessageEnvelope(msg)
	if err != nil {
		f.log.Error("fanout.encode.fail", "message_id", msg.ID, "err", err)
		return
	}

	f.deliverLocal([]string{msg.ReceiverID, msg.SenderID}, env)

	if f.bridge != nil {
		frame := BridgeFrame{
			Origin:   f.origin,
			Targets:  []string{msg.ReceiverID, msg.SenderID},
			Envelope: env,
		}
		// Fire and forget: a slow or down bridge must not stall the caller,
		// which is still inside the send path.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), f.publishTimeout)
			defer cancel()

			if err := f.bridge.Publish(ctx, frame); err != nil {
				// Local delivery already happened; remote receivers catch up via history.
				f.log.Error("fanout.bridge.fail", "message_id", msg.ID, "err", err)
			}
		}()
	}
}

// DeliverRemote applies a frame received from the bridge to local sessions.
// Frames published by this instance are skipped.
func (f *Fanout) DeliverRemote(frame BridgeFrame) {
	if f == nil || f.hub == nil {
		return
	}
	if frame.Origin == f.origin {
		return
	}
	f.deliverLocal(frame.Targets, frame.Envelope)
}

func (f *Fanout) deliverLocal(targets []string, env v1.Envelope) {
	seen := make(map[string]struct{}, len(targets))
	var delivered, dropped int

	for _, userID := range targets {
		if userID == "" {
			continue
		}
		if _, dup := seen[userID]; dup {
			continue
		}
		seen[userID] = struct{}{}

		d, dr := f.hub.PublishToUser(userID, env)
		delivered += d
		dropped += dr
	}

	if dropped > 0 {
		f.log.Info("fanout.drop", "dropped", dropped, "envelope_id", env.ID)
	}
	if f.delivered != nil && delivered > 0 {
		f.delivered(delivered)
	}
	if f.dropped != nil && dropped > 0 {
		f.dropped(dropped)
	}
}

func newMessageEnvelope(msg messaging.Message) (v1.Envelope, error) {
	payload, err := json.Marshal(v1.MessageNewPayload{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		ReceiverID:     msg.ReceiverID,
		Content:        msg.Content,
		Timestamp:      msg.Timestamp,
	})
	if err != nil {
		return v1.Envelope{}, err
	}
	return newEnvelope(v1.TypeMessageNew, payload, msg.Timestamp), nil
}
