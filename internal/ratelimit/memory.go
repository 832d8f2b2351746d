package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"jobmate/ingestion-service/internal/metrics"
)

// MemoryStore keeps buckets in process memory. Buckets are only shared by
// goroutines of one process; a horizontally scaled deployment needs
// RedisStore.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*Bucket
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]*Bucket)}
}

// Update implements Store.
func (s *MemoryStore) Update(_ context.Context, key string, fn func(b *Bucket)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	if !ok {
		b = &Bucket{}
		s.buckets[key] = b
		metrics.RateLimitBuckets.Set(float64(len(s.buckets)))
	}
	fn(b)
	return nil
}

// Snapshot returns a copy of the bucket for key.
func (s *MemoryStore) Snapshot(key string) (Bucket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	if !ok {
		return Bucket{}, false
	}
	return *b, true
}

// Len returns the number of buckets held.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}

// Sweep drops buckets that have been idle long enough to be full again.
// Dropping such a bucket is invisible to callers because a new bucket also
// starts full. Returns the number of buckets removed.
func (s *MemoryStore) Sweep(now time.Time) int {
	nowMs := now.UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, b := range s.buckets {
		refillAll := int64(b.Capacity) * b.RefillPerMs
		if nowMs-b.LastRefillAt >= refillAll {
			delete(s.buckets, key)
			removed++
		}
	}
	metrics.RateLimitBuckets.Set(float64(len(s.buckets)))
	return removed
}

// RunJanitor sweeps idle buckets every interval until ctx is done.
func (s *MemoryStore) RunJanitor(ctx context.Context, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := s.Sweep(now); n > 0 {
				logger.Debug("swept idle rate limit buckets", slog.Int("removed", n))
			}
		}
	}
}
