// Package notify publishes ingestion events for downstream services.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"jobmate/ingestion-service/internal/ingest"
)

// ChannelJobsIngested is the pub/sub channel carrying one event per
// completed run.
const ChannelJobsIngested = "EVENT_JOBS_INGESTED"

// Event is the JSON payload published on ChannelJobsIngested.
type Event struct {
	Type       string `json:"type"`
	RunID      string `json:"runId"`
	Source     string `json:"source"`
	Fetched    int    `json:"fetched"`
	Created    int    `json:"createdPosts"`
	Existing   int    `json:"existingPosts"`
	Failed     int    `json:"failedPosts"`
	StartedAt  string `json:"startedAt"`
	DurationMs int64  `json:"durationMs"`
}

// NewEvent builds the event for res.
func NewEvent(res *ingest.RunResult) Event {
	return Event{
		Type:       ChannelJobsIngested,
		RunID:      res.RunID,
		Source:     string(res.Source),
		Fetched:    res.FetchedCount,
		Created:    res.CreatedCount,
		Existing:   res.ExistingCount,
		Failed:     res.FailedCount,
		StartedAt:  res.StartedAt.UTC().Format(time.RFC3339),
		DurationMs: res.Duration.Milliseconds(),
	}
}

// RedisPublisher implements ingest.Notifier over Redis pub/sub.
type RedisPublisher struct {
	rdb     *redis.Client
	channel string
}

// NewRedisPublisher publishes on ChannelJobsIngested.
func NewRedisPublisher(rdb *redis.Client) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, channel: ChannelJobsIngested}
}

// Publish implements ingest.Notifier.
func (p *RedisPublisher) Publish(ctx context.Context, res *ingest.RunResult) error {
	payload, err := json.Marshal(NewEvent(res))
	if err != nil {
		return fmt.Errorf("marshal %s: %w", p.channel, err)
	}
	if err := p.rdb.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", p.channel, err)
	}
	return nil
}
