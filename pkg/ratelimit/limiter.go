package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter defines the interface for request pacing. Wait blocks until the
// next request may proceed or the context is cancelled.
type Limiter interface {
	Wait(ctx context.Context) error
	Reset()
}

// Interval enforces a mandatory pause between consecutive requests. This is
// the per-pipeline limiter: pagination within a pipeline is sequential, and
// each request must wait out the configured delay since the previous one.
type Interval struct {
	delay time.Duration
	last  time.Time
	mu    sync.Mutex
}

// NewInterval creates an interval limiter with the given inter-request delay
func NewInterval(delay time.Duration) *Interval {
	return &Interval{delay: delay}
}

// Wait sleeps until the delay since the last request has elapsed. The
// timestamp only advances once the wait completes, so a cancelled waiter
// does not consume the slot.
func (i *Interval) Wait(ctx context.Context) error {
	i.mu.Lock()
	var sleep time.Duration
	if !i.last.IsZero() {
		if elapsed := time.Since(i.last); elapsed < i.delay {
			sleep = i.delay - elapsed
		}
	}
	if sleep <= 0 {
		i.last = time.Now()
		i.mu.Unlock()
		return ctx.Err()
	}
	i.mu.Unlock()

	timer := time.NewTimer(sleep)
	defer timer.Stop()

	select {
	case <-timer.C:
		i.mu.Lock()
		i.last = time.Now()
		i.mu.Unlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reset clears the last-request timestamp
func (i *Interval) Reset() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.last = time.Time{}
}

// TokenBucket implements a token bucket rate limiter, used as the global
// requests-per-minute cap shared by all pipelines.
type TokenBucket struct {
	capacity     int
	tokens       int
	refillPeriod time.Duration
	lastRefill   time.Time
	mu           sync.Mutex
}

// NewTokenBucket creates a new token bucket rate limiter
func NewTokenBucket(capacity int, refillPeriod time.Duration) *TokenBucket {
	return &TokenBucket{
		capacity:     capacity,
		tokens:       capacity,
		refillPeriod: refillPeriod,
		lastRefill:   time.Now(),
	}
}

// Allow checks if a request can proceed without blocking
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()

	if tb.tokens > 0 {
		tb.tokens--
		return true
	}

	return false
}

// Wait blocks until a token is available or the context is cancelled
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for !tb.Allow() {
		tb.mu.Lock()
		untilRefill := tb.refillPeriod - time.Since(tb.lastRefill)
		tb.mu.Unlock()

		if untilRefill <= 0 {
			untilRefill = 100 * time.Millisecond
		}

		timer := time.NewTimer(untilRefill)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
	return nil
}

// Reset resets the token bucket to full capacity
func (tb *TokenBucket) Reset() {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.tokens = tb.capacity
	tb.lastRefill = time.Now()
}

// refill adds tokens based on elapsed time; caller must hold mu
func (tb *TokenBucket) refill() {
	now := time.Now()
	if now.Sub(tb.lastRefill) >= tb.refillPeriod {
		tb.tokens = tb.capacity
		tb.lastRefill = now
	}
}

// Chain combines limiters; a request proceeds only once every limiter in the
// chain has admitted it.
type Chain struct {
	limiters []Limiter
}

// NewChain creates a limiter chain
func NewChain(limiters ...Limiter) *Chain {
	return &Chain{limiters: limiters}
}

// Wait waits on every limiter in order
func (c *Chain) Wait(ctx context.Context) error {
	for _, l := range c.limiters {
		if err := l.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Reset resets every limiter in the chain
func (c *Chain) Reset() {
	for _, l := range c.limiters {
		l.Reset()
	}
}
