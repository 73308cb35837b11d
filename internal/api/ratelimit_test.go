package api

import (
	"testing"
	"time"
)

func TestRateLimiterAllow(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(0.001, 2, time.Hour)
	defer rl.Close()

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("burst should be allowed")
	}
	if rl.Allow("a") {
		t.Fatal("expected third request to be limited")
	}
	if !rl.Allow("b") {
		t.Fatal("limits must be per key")
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(0, 1, time.Hour)
	defer rl.Close()

	for range 100 {
		if !rl.Allow("a") {
			t.Fatal("disabled limiter must allow everything")
		}
	}
	if rl.size() != 0 {
		t.Fatalf("disabled limiter should not track clients, got %d", rl.size())
	}
}

func TestRateLimiterEvict(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(1, 1, time.Minute)
	defer rl.Close()

	rl.Allow("a")
	rl.Allow("b")
	rl.evict(time.Now())
	if rl.size() != 2 {
		t.Fatalf("fresh clients evicted, size = %d", rl.size())
	}
	rl.evict(time.Now().Add(2 * time.Minute))
	if rl.size() != 0 {
		t.Fatalf("idle clients kept, size = %d", rl.size())
	}
}

func TestRateLimiterCloseIdempotent(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(1, 1, time.Minute)
	rl.Close()
	rl.Close()
}
