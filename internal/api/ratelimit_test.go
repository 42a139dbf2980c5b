package api

import (
	"testing"
	"time"
)

func TestRateLimiter_AllowsWithinBurst(t *testing.T) {
	rl := NewRateLimiter(60, 3)
	for i := 0; i < 3; i++ {
		ok, _ := rl.allow("1.2.3.4")
		if !ok {
			t.Fatalf("expected request %d within burst capacity to be allowed", i)
		}
	}
}

func TestRateLimiter_BlocksBeyondBurst(t *testing.T) {
	rl := NewRateLimiter(60, 2)
	rl.allow("5.6.7.8")
	rl.allow("5.6.7.8")
	ok, retryAfter := rl.allow("5.6.7.8")
	if ok {
		t.Fatal("expected the third immediate request to exceed the burst capacity")
	}
	if retryAfter <= 0 {
		t.Errorf("expected a positive retry-after duration, got %v", retryAfter)
	}
}

func TestRateLimiter_IndependentPerIP(t *testing.T) {
	rl := NewRateLimiter(60, 1)
	ok1, _ := rl.allow("9.9.9.9")
	ok2, _ := rl.allow("8.8.8.8")
	if !ok1 || !ok2 {
		t.Error("expected separate IPs to have independent buckets")
	}
}

func TestRateLimiter_RefillsOverTime(t *testing.T) {
	rl := NewRateLimiter(6000, 1) // 100 tokens/sec
	rl.allow("3.3.3.3")
	ok, _ := rl.allow("3.3.3.3")
	if ok {
		t.Fatal("expected the bucket to be empty immediately after consuming its only token")
	}

	time.Sleep(20 * time.Millisecond)
	ok, _ = rl.allow("3.3.3.3")
	if !ok {
		t.Error("expected the bucket to have refilled after waiting")
	}
}
