package realtime

import (
	"testing"
	"time"
)

func TestRateLimiter_AllowsUpToLimit(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(3, time.Second)
	now := time.Now()

	for i := 0; i < 3; i++ {
		if !rl.Allow(now) {
			t.Fatalf("event %d denied within limit", i)
		}
	}
	if rl.Allow(now) {
		t.Fatal("event above limit allowed")
	}
}

func TestRateLimiter_WindowSlides(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(2, time.Second)
	base := time.Now()

	if !rl.Allow(base) || !rl.Allow(base) {
		t.Fatal("initial events denied")
	}
	if rl.Allow(base.Add(500 * time.Millisecond)) {
		t.Fatal("mid-window event allowed above limit")
	}
	if !rl.Allow(base.Add(1100 * time.Millisecond)) {
		t.Fatal("event denied after window expired")
	}
}

func TestRateLimiter_InvalidInputsFallBackToDefaults(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(0, 0)
	if rl.limit != rateLimitEvents || rl.window != rateLimitWindow {
		t.Fatalf("defaults not applied: limit=%d window=%v", rl.limit, rl.window)
	}
}
