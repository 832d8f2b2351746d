package ingest

import (
	"context"
	"log/slog"

	"jobmate/ingestion-service/internal/model"
)

// Upserter is the persistence primitive the coordinator writes through.
// UpsertByKey must be atomic per (Source, ExternalID) and report whether
// the row was newly created.
type Upserter interface {
	UpsertByKey(ctx context.Context, rec model.ExternalJobRecord) (created bool, err error)
}

// RecordFailure is one record whose write failed.
type RecordFailure struct {
	Key string `json:"key"`
	Err string `json:"error"`
}

// UpsertSummary counts the outcome of one batch.
type UpsertSummary struct {
	Created  int
	Existing int
	Failed   int
	Failures []RecordFailure
}

// Coordinator writes records one key at a time. A failed write is recorded
// and the batch continues; there is no batch transaction.
type Coordinator struct {
	store  Upserter
	logger *slog.Logger
}

// NewCoordinator returns a Coordinator writing to store.
func NewCoordinator(store Upserter, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{store: store, logger: logger}
}

// Upsert writes each record once. Records are expected to be deduplicated
// already. If ctx is cancelled the remaining records are counted as failed.
func (c *Coordinator) Upsert(ctx context.Context, records []model.ExternalJobRecord) UpsertSummary {
	var sum UpsertSummary
	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			for _, rest := range records[i:] {
				sum.fail(rest.Key(), err)
			}
			c.logger.Warn("upsert interrupted",
				slog.Int("remaining", len(records)-i), slog.Any("err", err))
			break
		}

		created, err := c.store.UpsertByKey(ctx, rec)
		switch {
		case err != nil:
			sum.fail(rec.Key(), err)
			c.logger.Warn("upsert failed", slog.String("key", rec.Key()), slog.Any("err", err))
		case created:
			sum.Created++
		default:
			sum.Existing++
		}
	}
	return sum
}

func (s *UpsertSummary) fail(key string, err error) {
	s.Failed++
	s.Failures = append(s.Failures, RecordFailure{Key: key, Err: err.Error()})
}
