package ratelimit

import (
	"testing"
	"time"
)

func TestLimiter_AllowsExactlyLimitThenDenies(t *testing.T) {
	now := time.Unix(1000, 0)
	l := newWithClock(func() time.Time { return now })

	for i := 0; i < 5; i++ {
		if !l.Hit("k", 5, time.Minute) {
			t.Fatalf("hit %d: expected allowed", i)
		}
	}

	if l.Hit("k", 5, time.Minute) {
		t.Fatal("6th hit within limit: expected denied")
	}
}

func TestLimiter_WindowElapsesAllowsOneMore(t *testing.T) {
	now := time.Unix(1000, 0)
	l := newWithClock(func() time.Time { return now })

	for i := 0; i < 5; i++ {
		l.Hit("k", 5, time.Minute)
	}
	if l.Hit("k", 5, time.Minute) {
		t.Fatal("expected denied before window elapses")
	}

	now = now.Add(time.Minute + time.Second)
	if !l.Hit("k", 5, time.Minute) {
		t.Fatal("expected allowed once the window has fully elapsed")
	}
}

func TestLimiter_IndependentKeys(t *testing.T) {
	l := New()
	for i := 0; i < 3; i++ {
		if !l.Hit("a", 3, time.Minute) {
			t.Fatalf("key a hit %d should be allowed", i)
		}
	}
	if !l.Hit("b", 3, time.Minute) {
		t.Fatal("a different key must not share a's bucket")
	}
}

func TestLimiter_Sweep(t *testing.T) {
	now := time.Unix(1000, 0)
	l := newWithClock(func() time.Time { return now })
	l.Hit("stale", 5, time.Minute)

	now = now.Add(time.Hour)
	if evicted := l.Sweep(time.Minute); evicted != 1 {
		t.Fatalf("expected 1 evicted bucket, got %d", evicted)
	}
}
