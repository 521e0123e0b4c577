package ratelimit

import (
	"context"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestAllowExhaustsAndRefills(t *testing.T) {
	l := New(2, time.Second)
	clock := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return clock }

	if !l.Allow("a") || !l.Allow("a") {
		t.Fatal("first two requests should pass")
	}
	if l.Allow("a") {
		t.Fatal("third request inside the window should be limited")
	}
	if !l.Allow("b") {
		t.Fatal("other keys must have their own bucket")
	}

	clock = clock.Add(500 * time.Millisecond)
	if !l.Allow("a") {
		t.Fatal("one token should have refilled after half a window")
	}
	if l.Allow("a") {
		t.Fatal("only one token should have refilled")
	}
}

func TestZeroLimitDisables(t *testing.T) {
	l := New(0, time.Second)
	for i := 0; i < 100; i++ {
		if !l.Allow("x") {
			t.Fatalf("request %d limited with limiting disabled", i)
		}
	}
	if l.RetryAfter() != 0 {
		t.Errorf("RetryAfter = %v, want 0", l.RetryAfter())
	}
}

func TestEvictIdle(t *testing.T) {
	l := New(5, time.Second)
	clock := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return clock }
	l.Allow("old")
	clock = clock.Add(3 * time.Second)
	l.Allow("fresh")

	l.evictIdle()
	if l.Len() != 1 {
		t.Fatalf("tracked keys = %d, want 1", l.Len())
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)
	l := New(1, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx, time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
