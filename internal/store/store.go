// Package store persists ExternalJobRecords keyed by (source, external_id).
//
// Every Store implements UpsertByKey as one atomic write per key with
// last-write-wins semantics on the non-identity columns. Batches are never
// wrapped in a transaction.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"jobmate/ingestion-service/internal/model"
)

// ErrNotFound is returned by Get when no row exists for the key.
var ErrNotFound = errors.New("external job not found")

// Store is the persistence collaborator of the ingestion pipeline.
type Store interface {
	// UpsertByKey inserts rec or overwrites the row with the same
	// (Source, ExternalID). created reports whether a new row was inserted.
	UpsertByKey(ctx context.Context, rec model.ExternalJobRecord) (created bool, err error)

	// CountBySource returns the number of stored postings for p.
	CountBySource(ctx context.Context, p model.Provider) (int, error)

	// Get returns the stored posting for (p, externalID) or ErrNotFound.
	Get(ctx context.Context, p model.Provider, externalID string) (model.ExternalJobRecord, error)

	Close()
}

// Driver names accepted by Open.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Open returns the Store for driver. url is a Postgres connection string or
// a SQLite DSN; it is ignored by the memory driver.
func Open(ctx context.Context, driver, url string) (Store, error) {
	switch strings.ToLower(driver) {
	case DriverPostgres, "postgresql", "pgx":
		return OpenPostgres(ctx, url)
	case DriverSQLite:
		return OpenSQLite(ctx, url)
	case DriverMemory, "":
		return NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown database driver %q", driver)
}

// ── Shared column layout ──────────────────────────────────────────────────

// columns is the insert order used by recordArgs. The first two form the
// identity and are never updated.
var columns = []string{
	"source",
	"external_id",
	"title",
	"company_name",
	"company_url",
	"company_logo_url",
	"location",
	"is_remote",
	"job_type",
	"salary_min",
	"salary_max",
	"salary_currency",
	"compensation_text",
	"experience_level",
	"category",
	"skills",
	"description",
	"description_html",
	"apply_url",
	"job_url",
	"posted_at",
}

const (
	colSkills   = 15
	colPostedAt = 20
)

func recordArgs(rec model.ExternalJobRecord) []any {
	return []any{
		string(rec.Source),
		rec.ExternalID,
		rec.Title,
		rec.CompanyName,
		rec.CompanyURL,
		rec.CompanyLogoURL,
		rec.Location,
		rec.IsRemote,
		rec.JobType,
		rec.SalaryMin,
		rec.SalaryMax,
		rec.SalaryCurrency,
		rec.CompensationText,
		rec.ExperienceLevel,
		rec.Category,
		rec.Skills,
		rec.Description,
		rec.DescriptionHTML,
		rec.ApplyURL,
		rec.JobURL,
		rec.PostedAt,
	}
}

// upsertSQL renders the shared INSERT … ON CONFLICT statement. placeholder
// returns the bind marker for the 1-based argument n.
func upsertSQL(placeholder func(n int) string, touch string) string {
	marks := make([]string, len(columns))
	for i := range columns {
		marks[i] = placeholder(i + 1)
	}
	sets := make([]string, 0, len(columns)-1)
	for _, c := range columns[2:] {
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
	}
	sets = append(sets, "updated_at = "+touch)

	return fmt.Sprintf(
		"INSERT INTO external_jobs (%s)\nVALUES (%s)\nON CONFLICT (source, external_id) DO UPDATE SET\n\t%s",
		strings.Join(columns, ", "),
		strings.Join(marks, ", "),
		strings.Join(sets, ",\n\t"),
	)
}

var selectSQL = "SELECT " + strings.Join(columns, ", ") + " FROM external_jobs"

func validateKey(rec model.ExternalJobRecord) error {
	if rec.Source == "" || strings.TrimSpace(rec.ExternalID) == "" {
		return fmt.Errorf("record %q has an empty identity", rec.Key())
	}
	return nil
}
