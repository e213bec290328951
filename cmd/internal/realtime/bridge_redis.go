package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// DefaultBridgeChannel is the pub/sub channel shared by all instances.
const DefaultBridgeChannel = "courier.messages"

// RedisBridge fans envelopes out across instances over Redis pub/sub.
// Delivery is at-most-once and best effort, matching the push contract:
// a missed frame only delays the receiver until the next history fetch.
type RedisBridge struct {
	log     *slog.Logger
	rdb     redis.UniversalClient
	channel string
}

// NewRedisBridge constructs a bridge on the given channel.
// An empty channel falls back to DefaultBridgeChannel.
func NewRedisBridge(log *slog.Logger, rdb redis.UniversalClient, channel string) *RedisBridge {
	if channel == "" {
		channel = DefaultBridgeChannel
	}
	return &RedisBridge{log: log, rdb: rdb, channel: channel}
}

// Publish sends a frame to the shared channel.
func (b *RedisBridge) Publish(ctx context.Context, frame BridgeFrame) error {
	if b == nil || b.rdb == nil {
		return errors.New("realtime: nil bridge")
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, data).Err()
}

// Run subscribes to the shared channel and hands every decoded frame to
// deliver. It blocks until ctx is cancelled or the subscription fails.
func (b *RedisBridge) Run(ctx context.Context, deliver func(BridgeFrame)) error {
	if b == nil || b.rdb == nil {
		return errors.New("realtime: nil bridge")
	}
	if deliver == nil {
		return errors.New("realtime: nil deliver func")
	}

	sub := b.rdb.Subscribe(ctx, b.channel)
	defer func() { _ = sub.Close() }()

	// Fail fast when the subscription cannot be established.
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	b.log.Info("bridge.subscribe", "channel", b.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errors.New("realtime: bridge subscription closed")
			}

			var frame BridgeFrame
			if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
				b.log.Error("bridge.decode.fail", "err", err)
				continue
			}
			deliver(frame)
		}
	}
}
