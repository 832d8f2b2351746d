package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"jobmate/ingestion-service/internal/db"
	"jobmate/ingestion-service/internal/model"
)

// xmax is 0 only for a row version created by an INSERT, which tells a
// fresh insert from a conflict update in the same statement.
var pgUpsertSQL = upsertSQL(func(n int) string { return "$" + strconv.Itoa(n) }, "NOW()") +
	"\nRETURNING (xmax = 0) AS created"

// PostgresStore is the production Store backed by the external_jobs table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an existing pool. The caller keeps ownership of the
// pool only if it does not call Close.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// OpenPostgres connects to databaseURL and returns a store owning the pool.
func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := db.NewPostgresPool(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	return NewPostgresStore(pool), nil
}

// UpsertByKey implements Store with a single INSERT … ON CONFLICT statement.
func (s *PostgresStore) UpsertByKey(ctx context.Context, rec model.ExternalJobRecord) (bool, error) {
	if err := validateKey(rec); err != nil {
		return false, err
	}

	var created bool
	if err := s.pool.QueryRow(ctx, pgUpsertSQL, recordArgs(rec)...).Scan(&created); err != nil {
		return false, fmt.Errorf("upsert %s: %w", rec.Key(), err)
	}
	return created, nil
}

// CountBySource implements Store.
func (s *PostgresStore) CountBySource(ctx context.Context, p model.Provider) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM external_jobs WHERE source = $1`,
		string(p),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", p, err)
	}
	return n, nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, p model.Provider, externalID string) (model.ExternalJobRecord, error) {
	var (
		rec model.ExternalJobRecord
		src string
	)
	err := s.pool.QueryRow(ctx,
		selectSQL+` WHERE source = $1 AND external_id = $2`,
		string(p), externalID,
	).Scan(
		&src, &rec.ExternalID, &rec.Title,
		&rec.CompanyName, &rec.CompanyURL, &rec.CompanyLogoURL,
		&rec.Location, &rec.IsRemote, &rec.JobType,
		&rec.SalaryMin, &rec.SalaryMax, &rec.SalaryCurrency, &rec.CompensationText,
		&rec.ExperienceLevel, &rec.Category, &rec.Skills,
		&rec.Description, &rec.DescriptionHTML,
		&rec.ApplyURL, &rec.JobURL, &rec.PostedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ExternalJobRecord{}, ErrNotFound
	}
	if err != nil {
		return model.ExternalJobRecord{}, fmt.Errorf("get %s:%s: %w", p, externalID, err)
	}
	rec.Source = model.Provider(src)
	return rec, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}
