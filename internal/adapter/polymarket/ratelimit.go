package polymarket

import (
	"context"
	"sync"
	"time"
)

// tokenBucket is a continuously-refilling token bucket: callers block in
// wait until a token is available or ctx is cancelled.
type tokenBucket struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	rate     float64
	lastTime time.Time
}

func newTokenBucket(capacity, ratePerSecond float64) *tokenBucket {
	return &tokenBucket{
		tokens:   capacity,
		capacity: capacity,
		rate:     ratePerSecond,
		lastTime: time.Now(),
	}
}

func (tb *tokenBucket) wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(tb.lastTime).Seconds()
		tb.tokens += elapsed * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastTime = now

		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}

		wait := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// categoryLimiter groups token buckets by API endpoint category, matching
// this venue's documented per-10-second-window limits (order/cancel/book).
type categoryLimiter struct {
	order  *tokenBucket
	cancel *tokenBucket
	book   *tokenBucket
}

func newCategoryLimiter() *categoryLimiter {
	return &categoryLimiter{
		order:  newTokenBucket(350, 50), // burst 350, then 50/s (500 per 10s)
		cancel: newTokenBucket(300, 30), // burst 300, then 30/s (300 per 10s)
		book:   newTokenBucket(150, 15), // burst 150, then 15/s (150 per 10s)
	}
}
