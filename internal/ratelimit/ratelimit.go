// Package ratelimit provides the rate-limiting capability consumed by the
// classifier. Policy lives with the caller that constructs the limiter; the
// core only asks Allow and surfaces the refusal as a distinct error kind.
package ratelimit

import (
	"sync"
	"time"

	"github.com/sefton37/triage/internal/inference"
)

// Limiter gates a call before any work is attempted. Allow returns nil when
// the call may proceed, or *inference.RateLimitError when refused.
type Limiter interface {
	Allow() error
}

// NopLimiter admits every call.
type NopLimiter struct{}

func (NopLimiter) Allow() error { return nil }

// TokenBucket admits up to a fixed number of calls per minute, refilling
// continuously. Safe for concurrent use.
type TokenBucket struct {
	mu       sync.Mutex
	capacity float64
	tokens   float64
	perSec   float64
	last     time.Time
	now      func() time.Time
}

// NewTokenBucket returns a bucket admitting perMinute calls per minute,
// starting full. perMinute < 1 yields a bucket that admits one call per
// minute.
func NewTokenBucket(perMinute int) *TokenBucket {
	if perMinute < 1 {
		perMinute = 1
	}
	return &TokenBucket{
		capacity: float64(perMinute),
		tokens:   float64(perMinute),
		perSec:   float64(perMinute) / 60.0,
		now:      time.Now,
	}
}

// Allow takes one token, refilling by elapsed time first. When the bucket is
// empty it refuses with the time until the next token becomes available.
func (b *TokenBucket) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if !b.last.IsZero() {
		b.tokens += now.Sub(b.last).Seconds() * b.perSec
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
	}
	b.last = now

	if b.tokens >= 1 {
		b.tokens--
		return nil
	}

	deficit := 1 - b.tokens
	retryAfter := time.Duration(deficit / b.perSec * float64(time.Second))
	return &inference.RateLimitError{RetryAfter: retryAfter}
}
