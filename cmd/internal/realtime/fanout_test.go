package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"courier/cmd/internal/messaging"
	v1 "courier/contracts/chat/v1"
)

type captureBridge struct {
	mu     sync.Mutex
	frames []BridgeFrame
	err    error
	seen   chan struct{} // optional: signalled once per Publish
}

func (b *captureBridge) Publish(_ context.Context, frame BridgeFrame) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.seen != nil {
		select {
		case b.seen <- struct{}{}:
		default:
		}
	}
	if b.err != nil {
		return b.err
	}
	b.frames = append(b.frames, frame)
	return nil
}

func testMessage() messaging.Message {
	return messaging.Message{
		ID:             "01TESTMESSAGE0000000000000",
		ConversationID: "conv-1",
		SenderID:       "alice",
		ReceiverID:     "bob",
		Content:        "hi",
		Timestamp:      time.Now().UTC(),
	}
}

func TestFanout_PushesToReceiverAndEchoesSender(t *testing.T) {
	t.Parallel()

	h := NewHub(testLogger())
	bob := NewClient("bob", "s-bob", 8)
	aliceTab := NewClient("alice", "s-alice", 8)
	h.Subscribe(bob)
	h.Subscribe(aliceTab)

	f := NewFanout(testLogger(), h, "node-a")
	msg := testMessage()
	f.PublishMessage(msg)

	for name, c := range map[string]*Client{"receiver": bob, "sender echo": aliceTab} {
		select {
		case env := <-c.Send:
			if env.Type != v1.TypeMessageNew {
				t.Fatalf("%s: type = %q, want %q", name, env.Type, v1.TypeMessageNew)
			}
			var p v1.MessageNewPayload
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				t.Fatalf("%s: payload: %v", name, err)
			}
			if p.MessageID != msg.ID || p.ConversationID != msg.ConversationID || p.Content != msg.Content {
				t.Fatalf("%s: unexpected payload: %+v", name, p)
			}
		default:
			t.Fatalf("%s: no push queued", name)
		}
	}
}

func TestFanout_ForwardsFrameToBridge(t *testing.T) {
	t.Parallel()

	h := NewHub(testLogger())
	bridge := &captureBridge{seen: make(chan struct{}, 1)}
	f := NewFanout(testLogger(), h, "node-a", WithBridge(bridge))

	msg := testMessage()
	f.PublishMessage(msg)

	// The bridge publish runs off the send path.
	select {
	case <-bridge.seen:
	case <-time.After(2 * time.Second):
		t.Fatal("bridge publish never happened")
	}

	bridge.mu.Lock()
	defer bridge.mu.Unlock()
	if len(bridge.frames) != 1 {
		t.Fatalf("bridge frames = %d, want 1", len(bridge.frames))
	}
	frame := bridge.frames[0]
	if frame.Origin != "node-a" {
		t.Fatalf("origin = %q, want %q", frame.Origin, "node-a")
	}
	if len(frame.Targets) != 2 || frame.Targets[0] != "bob" || frame.Targets[1] != "alice" {
		t.Fatalf("targets = %v", frame.Targets)
	}
	if frame.Envelope.Type != v1.TypeMessageNew {
		t.Fatalf("envelope type = %q", frame.Envelope.Type)
	}
}

func TestFanout_BridgeFailureDoesNotBlockLocalDelivery(t *testing.T) {
	t.Parallel()

	h := NewHub(testLogger())
	bob := NewClient("bob", "s-bob", 8)
	h.Subscribe(bob)

	bridge := &captureBridge{err: errors.New("redis down")}
	f := NewFanout(testLogger(), h, "node-a", WithBridge(bridge))
	f.PublishMessage(testMessage())

	if len(bob.Send) != 1 {
		t.Fatalf("local push missing when bridge fails: queue=%d", len(bob.Send))
	}
}

// stuckBridge holds every Publish until released or the context expires.
type stuckBridge struct {
	release chan struct{}
}

func (b *stuckBridge) Publish(ctx context.Context, _ BridgeFrame) error {
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestFanout_SlowBridgeDoesNotStallPublish(t *testing.T) {
	t.Parallel()

	h := NewHub(testLogger())
	bob := NewClient("bob", "s-bob", 8)
	h.Subscribe(bob)

	bridge := &stuckBridge{release: make(chan struct{})}
	defer close(bridge.release)
	f := NewFanout(testLogger(), h, "node-a", WithBridge(bridge))

	start := time.Now()
	f.PublishMessage(testMessage())
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("PublishMessage stalled on the bridge for %v", elapsed)
	}
	if len(bob.Send) != 1 {
		t.Fatalf("local push missing: queue=%d", len(bob.Send))
	}
}

func TestFanout_DeliverRemoteSkipsOwnOrigin(t *testing.T) {
	t.Parallel()

	h := NewHub(testLogger())
	bob := NewClient("bob", "s-bob", 8)
	h.Subscribe(bob)

	f := NewFanout(testLogger(), h, "node-a")
	env := testEnvelope(t, "hi")

	f.DeliverRemote(BridgeFrame{Origin: "node-a", Targets: []string{"bob"}, Envelope: env})
	if len(bob.Send) != 0 {
		t.Fatal("own-origin frame must be skipped")
	}

	f.DeliverRemote(BridgeFrame{Origin: "node-b", Targets: []string{"bob"}, Envelope: env})
	if len(bob.Send) != 1 {
		t.Fatalf("remote frame not delivered: queue=%d", len(bob.Send))
	}
}

func TestFanout_DeliveryHooksCount(t *testing.T) {
	t.Parallel()

	h := NewHub(testLogger())
	bob := NewClient("bob", "s-bob", 8)
	h.Subscribe(bob)

	full := NewClient("alice", "s-alice", 0)
	for i := 0; i < cap(full.Send); i++ {
		full.Send <- testEnvelope(t, "fill")
	}
	h.Subscribe(full)

	var delivered, dropped int
	f := NewFanout(testLogger(), h, "node-a", WithDeliveryHooks(
		func(n int) { delivered += n },
		func(n int) { dropped += n },
	))
	f.PublishMessage(testMessage())

	if delivered != 1 || dropped != 1 {
		t.Fatalf("delivered=%d dropped=%d, want 1/1", delivered, dropped)
	}
}
