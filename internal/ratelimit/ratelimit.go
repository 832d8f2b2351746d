// Package ratelimit implements the token-bucket admission gate that protects
// the ingestion triggers.
//
// The admission algorithm lives in Bucket.take and is shared by every Store.
// A Store only has to apply a function to the bucket for a key atomically:
// MemoryStore does it under a mutex (correct for a single process only),
// RedisStore does it inside a WATCH/MULTI transaction so several instances
// share the same buckets.
package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"jobmate/ingestion-service/internal/metrics"
)

// Bucket is the per-key token-bucket state.
type Bucket struct {
	Tokens       float64
	Capacity     int
	RefillPerMs  int64
	LastRefillAt int64 // unix millis, 0 for a bucket that was never used
}

// Decision is the outcome of one Check.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration // zero when Allowed
}

// Store applies fn to the bucket stored under key as one atomic
// read-modify-write. A missing key is presented to fn as a zero Bucket.
// fn may be invoked more than once when the store retries on contention;
// only the last invocation is committed.
type Store interface {
	Update(ctx context.Context, key string, fn func(b *Bucket)) error
}

// take refills b up to nowMs and tries to consume one token.
// Refill adds floor(elapsed/refillPerMs) whole tokens and advances
// LastRefillAt by exactly the consumed intervals, so fractional progress
// carries over. A full bucket restarts its refill clock at nowMs.
func (b *Bucket) take(capacity int, refillPerMs int64, nowMs int64) Decision {
	cp := float64(capacity)

	if b.LastRefillAt == 0 {
		b.Tokens = cp
		b.LastRefillAt = nowMs
	}
	b.Capacity = capacity
	b.RefillPerMs = refillPerMs
	if b.Tokens > cp {
		b.Tokens = cp
	}
	if b.Tokens < 0 {
		b.Tokens = 0
	}

	if elapsed := nowMs - b.LastRefillAt; elapsed > 0 {
		if n := elapsed / refillPerMs; n > 0 {
			b.Tokens += float64(n)
			if b.Tokens > cp {
				b.Tokens = cp
			}
			b.LastRefillAt += n * refillPerMs
		}
		if b.Tokens >= cp {
			b.LastRefillAt = nowMs
		}
	}

	if b.Tokens >= 1 {
		b.Tokens--
		return Decision{Allowed: true, Remaining: int(b.Tokens)}
	}

	wait := b.LastRefillAt + refillPerMs - nowMs
	if wait < 0 {
		wait = 0
	}
	return Decision{
		Allowed:    false,
		Remaining:  int(b.Tokens),
		RetryAfter: time.Duration(wait) * time.Millisecond,
	}
}

// Limiter is the identity-agnostic admission gate. Keys are derived by the
// caller.
type Limiter struct {
	store       Store
	capacity    int
	refillPerMs int64
	now         func() time.Time
	logger      *slog.Logger
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithDefaults sets the capacity and refill interval used when Check is
// called without overrides.
func WithDefaults(capacity int, refillPerMs int64) Option {
	return func(l *Limiter) {
		if capacity > 0 {
			l.capacity = capacity
		}
		if refillPerMs > 0 {
			l.refillPerMs = refillPerMs
		}
	}
}

// WithClock replaces time.Now. Used by tests to simulate elapsed time.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithLogger sets the logger used for store failures.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// New returns a Limiter backed by store. Defaults are 3 tokens refilled at
// one per minute.
func New(store Store, opts ...Option) *Limiter {
	l := &Limiter{
		store:       store,
		capacity:    3,
		refillPerMs: 60_000,
		now:         time.Now,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check consumes one token from the bucket for key. capacity and
// refillPerMs override the limiter defaults when positive.
//
// Check never fails: if the store is unreachable the request is admitted and
// the failure is logged and counted.
func (l *Limiter) Check(ctx context.Context, key string, capacity int, refillPerMs int64) Decision {
	if capacity <= 0 {
		capacity = l.capacity
	}
	if refillPerMs <= 0 {
		refillPerMs = l.refillPerMs
	}

	nowMs := l.now().UnixMilli()
	var decision Decision
	err := l.store.Update(ctx, key, func(b *Bucket) {
		decision = b.take(capacity, refillPerMs, nowMs)
	})
	if err != nil {
		metrics.RateLimitStoreErrors.Inc()
		l.logger.Warn("rate limit store unavailable, admitting request",
			slog.String("key", key), slog.Any("err", err))
		return Decision{Allowed: true, Remaining: capacity - 1}
	}

	if !decision.Allowed {
		metrics.RateLimitDenied.Inc()
	}
	return decision
}

// Defaults returns the limiter's default capacity and refill interval.
func (l *Limiter) Defaults() (int, int64) {
	return l.capacity, l.refillPerMs
}
