package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrContention is returned when a bucket kept changing under every retry.
var ErrContention = errors.New("rate limit bucket contention")

const (
	redisKeyPrefix  = "ratelimit:bucket:"
	redisMaxRetries = 8
)

// RedisStore keeps buckets as Redis hashes so every instance of the service
// sees the same state. Each Update runs the Go admission algorithm between
// WATCH and EXEC and retries when another client touched the key.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore returns a RedisStore using client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: redisKeyPrefix}
}

// Update implements Store.
func (s *RedisStore) Update(ctx context.Context, key string, fn func(b *Bucket)) error {
	k := s.prefix + key

	txf := func(tx *redis.Tx) error {
		vals, err := tx.HMGet(ctx, k, "tokens", "capacity", "refill_ms", "last_refill_at").Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}

		b, err := decodeBucket(vals)
		if err != nil {
			return fmt.Errorf("decode bucket %s: %w", k, err)
		}
		fn(&b)

		// Once a bucket would be full again it is indistinguishable from a
		// missing one, so let Redis drop it.
		ttl := time.Duration(int64(b.Capacity)*b.RefillPerMs)*time.Millisecond + time.Second

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, k,
				"tokens", strconv.FormatFloat(b.Tokens, 'f', -1, 64),
				"capacity", b.Capacity,
				"refill_ms", b.RefillPerMs,
				"last_refill_at", b.LastRefillAt,
			)
			pipe.PExpire(ctx, k, ttl)
			return nil
		})
		return err
	}

	for i := 0; i < redisMaxRetries; i++ {
		err := s.client.Watch(ctx, txf, k)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return fmt.Errorf("rate limit bucket update: %w", err)
	}
	return ErrContention
}

func decodeBucket(vals []interface{}) (Bucket, error) {
	var b Bucket
	if len(vals) != 4 || vals[0] == nil {
		return b, nil
	}

	str := func(v interface{}) string {
		s, _ := v.(string)
		return s
	}

	var err error
	if b.Tokens, err = strconv.ParseFloat(str(vals[0]), 64); err != nil {
		return Bucket{}, fmt.Errorf("tokens: %w", err)
	}
	if b.Capacity, err = strconv.Atoi(str(vals[1])); err != nil {
		return Bucket{}, fmt.Errorf("capacity: %w", err)
	}
	if b.RefillPerMs, err = strconv.ParseInt(str(vals[2]), 10, 64); err != nil {
		return Bucket{}, fmt.Errorf("refill_ms: %w", err)
	}
	if b.LastRefillAt, err = strconv.ParseInt(str(vals[3]), 10, 64); err != nil {
		return Bucket{}, fmt.Errorf("last_refill_at: %w", err)
	}
	return b, nil
}
