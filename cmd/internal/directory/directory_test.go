package directory

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestStaticResolver_PutAndResolve(t *testing.T) {
	t.Parallel()

	r := NewStaticResolver()
	r.Put(Identity{UserID: "alice", DisplayName: "Alice", AvatarURL: "https://cdn.example/a.png"})

	got, err := r.Resolve(context.Background(), "alice")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.DisplayName != "Alice" || got.AvatarURL != "https://cdn.example/a.png" {
		t.Fatalf("unexpected identity: %+v", got)
	}

	// Put replaces.
	r.Put(Identity{UserID: "alice", DisplayName: "Alice B."})
	got, err = r.Resolve(context.Background(), "alice")
	if err != nil {
		t.Fatalf("resolve after replace: %v", err)
	}
	if got.DisplayName != "Alice B." {
		t.Fatalf("DisplayName = %q, want %q", got.DisplayName, "Alice B.")
	}
}

func TestStaticResolver_UnknownUser(t *testing.T) {
	t.Parallel()

	r := NewStaticResolver()
	if _, err := r.Resolve(context.Background(), "ghost"); !errors.Is(err, ErrUnknownUser) {
		t.Fatalf("err = %v, want ErrUnknownUser", err)
	}
}

func TestStaticResolver_IgnoresEmptyUserID(t *testing.T) {
	t.Parallel()

	r := NewStaticResolver()
	r.Put(Identity{DisplayName: "nobody"})
	if _, err := r.Resolve(context.Background(), ""); !errors.Is(err, ErrUnknownUser) {
		t.Fatalf("err = %v, want ErrUnknownUser", err)
	}
}

func TestStaticResolver_CancelledContext(t *testing.T) {
	t.Parallel()

	r := NewStaticResolver()
	r.Put(Identity{UserID: "alice", DisplayName: "Alice"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Resolve(ctx, "alice"); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestStaticResolver_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	r := NewStaticResolver()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Put(Identity{UserID: "alice", DisplayName: "Alice"})
			_, _ = r.Resolve(context.Background(), "alice")
		}()
	}
	wg.Wait()

	if _, err := r.Resolve(context.Background(), "alice"); err != nil {
		t.Fatalf("resolve after concurrent writes: %v", err)
	}
}
