package ratelimit

import (
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1000, 0)}
}

func TestTokenBucketStartsFull(t *testing.T) {
	clock := newFakeClock()
	b := NewTokenBucket(clock, 3, 1)

	for i := 0; i < 3; i++ {
		if !b.Allow(1) {
			t.Fatalf("token %d should be available from the initial burst", i)
		}
	}
	if b.Allow(1) {
		t.Fatalf("bucket should be empty after capacity draws")
	}
}

func TestTokenBucketRefills(t *testing.T) {
	clock := newFakeClock()
	b := NewTokenBucket(clock, 2, 2) // 2 tokens/sec

	if !b.Allow(2) {
		t.Fatalf("initial burst")
	}
	if b.Allow(1) {
		t.Fatalf("empty bucket must refuse")
	}

	clock.advance(499 * time.Millisecond)
	if b.Allow(1) {
		t.Fatalf("less than one token refilled")
	}
	clock.advance(1 * time.Millisecond)
	if !b.Allow(1) {
		t.Fatalf("exactly one token should have refilled after 500ms at 2/s")
	}
}

func TestTokenBucketCapsAtCapacity(t *testing.T) {
	clock := newFakeClock()
	b := NewTokenBucket(clock, 2, 10)

	if !b.Allow(2) {
		t.Fatalf("initial burst")
	}

	// A long idle period never accumulates more than capacity.
	clock.advance(time.Hour)
	if !b.Allow(2) {
		t.Fatalf("refill to capacity")
	}
	if b.Allow(1) {
		t.Fatalf("refill must cap at capacity")
	}
}

func TestTokenBucketZeroOrNegativeDraw(t *testing.T) {
	b := NewTokenBucket(newFakeClock(), 1, 1)
	if !b.Allow(0) || !b.Allow(-5) {
		t.Fatalf("non-positive draws always succeed")
	}
	if !b.Allow(1) {
		t.Fatalf("non-positive draws must not consume tokens")
	}
}

func TestTokenBucketTimeGoingBackwards(t *testing.T) {
	clock := newFakeClock()
	b := NewTokenBucket(clock, 1, 1)

	if !b.Allow(1) {
		t.Fatalf("initial token")
	}

	// A clock step backwards must not refill or panic.
	clock.advance(-time.Hour)
	if b.Allow(1) {
		t.Fatalf("backwards clock must not mint tokens")
	}

	clock.advance(time.Second)
	if !b.Allow(1) {
		t.Fatalf("refill should resume from the re-anchored time")
	}
}

func TestTokenBucketZeroCapacity(t *testing.T) {
	b := NewTokenBucket(newFakeClock(), 0, 10)
	if b.Allow(1) {
		t.Fatalf("zero-capacity bucket must refuse every draw")
	}
}
