// Package ratelimit provides a deterministic token bucket used to bound
// per-connection inbound signaling message rates.
package ratelimit

import (
	"sync"
	"time"
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// nanoTokens is the fixed-point scale: one token = 1e9 nano-tokens, so a
// fill rate of X tokens/sec adds exactly X nano-tokens per elapsed
// nanosecond without float rounding.
const nanoTokens int64 = int64(time.Second)

// TokenBucket refills at an integer rate (tokens/sec) up to a fixed
// capacity, using the provided Clock.
type TokenBucket struct {
	mu sync.Mutex

	clock    Clock
	capacity int64 // tokens
	fillRate int64 // tokens/sec

	available int64 // nano-tokens
	last      time.Time
}

func NewTokenBucket(clock Clock, capacity, fillRate int64) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	if capacity < 0 {
		capacity = 0
	}
	if fillRate < 0 {
		fillRate = 0
	}
	return &TokenBucket{
		clock:     clock,
		capacity:  capacity,
		fillRate:  fillRate,
		available: capacity * nanoTokens,
		last:      clock.Now(),
	}
}

// Allow consumes tokens if available. tokens <= 0 always succeeds.
func (b *TokenBucket) Allow(tokens int64) bool {
	if tokens <= 0 {
		return true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()

	cost := tokens * nanoTokens
	if b.available < cost {
		return false
	}
	b.available -= cost
	return true
}

func (b *TokenBucket) refillLocked() {
	now := b.clock.Now()
	if now.Before(b.last) {
		// Time went backwards; re-anchor without refilling.
		b.last = now
		return
	}
	elapsed := now.Sub(b.last)
	b.last = now

	if b.fillRate <= 0 || b.capacity <= 0 || elapsed <= 0 {
		return
	}

	max := b.capacity * nanoTokens
	need := max - b.available
	if need <= 0 {
		b.available = max
		return
	}
	// Clamp before multiplying so elapsed*fillRate cannot overflow.
	if elapsed.Nanoseconds() >= need/b.fillRate {
		b.available = max
		return
	}
	b.available += elapsed.Nanoseconds() * b.fillRate
}
