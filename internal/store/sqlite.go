package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"jobmate/ingestion-service/internal/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS external_jobs (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	source            TEXT    NOT NULL,
	external_id       TEXT    NOT NULL,
	title             TEXT    NOT NULL DEFAULT '',
	company_name      TEXT,
	company_url       TEXT,
	company_logo_url  TEXT,
	location          TEXT,
	is_remote         INTEGER,
	job_type          TEXT,
	salary_min        REAL,
	salary_max        REAL,
	salary_currency   TEXT,
	compensation_text TEXT,
	experience_level  TEXT,
	category          TEXT,
	skills            TEXT,
	description       TEXT,
	description_html  TEXT,
	apply_url         TEXT,
	job_url           TEXT,
	posted_at         TEXT,
	created_at        TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
	updated_at        TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
	UNIQUE (source, external_id)
);
CREATE INDEX IF NOT EXISTS external_jobs_source_idx ON external_jobs (source);`

var sqliteUpsertSQL = upsertSQL(func(int) string { return "?" }, "strftime('%Y-%m-%dT%H:%M:%fZ', 'now')")

// SQLiteStore is a single-node Store on modernc.org/sqlite. Writes go
// through one connection so the existence check and the upsert of a key
// cannot interleave with another writer.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at dsn and ensures the schema.
// ":memory:" gives a private in-memory database.
func OpenSQLite(ctx context.Context, dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// UpsertByKey implements Store.
func (s *SQLiteStore) UpsertByKey(ctx context.Context, rec model.ExternalJobRecord) (created bool, err error) {
	if err := validateKey(rec); err != nil {
		return false, err
	}
	args, err := sqliteArgs(rec)
	if err != nil {
		return false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin upsert %s: %w", rec.Key(), err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var exists bool
	err = tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM external_jobs WHERE source = ? AND external_id = ?)`,
		string(rec.Source), rec.ExternalID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("lookup %s: %w", rec.Key(), err)
	}

	if _, err = tx.ExecContext(ctx, sqliteUpsertSQL, args...); err != nil {
		return false, fmt.Errorf("upsert %s: %w", rec.Key(), err)
	}
	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("commit upsert %s: %w", rec.Key(), err)
	}
	return !exists, nil
}

// sqliteArgs stores skills as a JSON array and timestamps as RFC 3339 text.
func sqliteArgs(rec model.ExternalJobRecord) ([]any, error) {
	args := recordArgs(rec)

	args[colSkills] = nil
	if len(rec.Skills) > 0 {
		b, err := json.Marshal(rec.Skills)
		if err != nil {
			return nil, fmt.Errorf("encode skills: %w", err)
		}
		args[colSkills] = string(b)
	}

	args[colPostedAt] = nil
	if rec.PostedAt != nil {
		args[colPostedAt] = rec.PostedAt.UTC().Format(time.RFC3339Nano)
	}
	return args, nil
}

// CountBySource implements Store.
func (s *SQLiteStore) CountBySource(ctx context.Context, p model.Provider) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM external_jobs WHERE source = ?`, string(p),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", p, err)
	}
	return n, nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, p model.Provider, externalID string) (model.ExternalJobRecord, error) {
	var (
		rec                                            model.ExternalJobRecord
		src                                            string
		companyName, companyURL, companyLogo, location sql.NullString
		jobType, currency, compensation, experience    sql.NullString
		category, skills, description, descriptionHTML sql.NullString
		applyURL, jobURL, postedAt                     sql.NullString
		isRemote                                       sql.NullBool
		salaryMin, salaryMax                           sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx,
		selectSQL+` WHERE source = ? AND external_id = ?`,
		string(p), externalID,
	).Scan(
		&src, &rec.ExternalID, &rec.Title,
		&companyName, &companyURL, &companyLogo,
		&location, &isRemote, &jobType,
		&salaryMin, &salaryMax, &currency, &compensation,
		&experience, &category, &skills,
		&description, &descriptionHTML,
		&applyURL, &jobURL, &postedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ExternalJobRecord{}, ErrNotFound
	}
	if err != nil {
		return model.ExternalJobRecord{}, fmt.Errorf("get %s:%s: %w", p, externalID, err)
	}

	rec.Source = model.Provider(src)
	rec.CompanyName = nullString(companyName)
	rec.CompanyURL = nullString(companyURL)
	rec.CompanyLogoURL = nullString(companyLogo)
	rec.Location = nullString(location)
	rec.JobType = nullString(jobType)
	rec.SalaryCurrency = nullString(currency)
	rec.CompensationText = nullString(compensation)
	rec.ExperienceLevel = nullString(experience)
	rec.Category = nullString(category)
	rec.Description = nullString(description)
	rec.DescriptionHTML = nullString(descriptionHTML)
	rec.ApplyURL = nullString(applyURL)
	rec.JobURL = nullString(jobURL)

	if isRemote.Valid {
		rec.IsRemote = &isRemote.Bool
	}
	if salaryMin.Valid {
		rec.SalaryMin = &salaryMin.Float64
	}
	if salaryMax.Valid {
		rec.SalaryMax = &salaryMax.Float64
	}
	if skills.Valid {
		if err := json.Unmarshal([]byte(skills.String), &rec.Skills); err != nil {
			return model.ExternalJobRecord{}, fmt.Errorf("decode skills of %s:%s: %w", p, externalID, err)
		}
	}
	if postedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, postedAt.String)
		if err != nil {
			return model.ExternalJobRecord{}, fmt.Errorf("decode posted_at of %s:%s: %w", p, externalID, err)
		}
		rec.PostedAt = &t
	}
	return rec, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}
