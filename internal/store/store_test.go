package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobmate/ingestion-service/internal/model"
)

func ptr[T any](v T) *T { return &v }

func fullRecord(id string) model.ExternalJobRecord {
	posted := time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)
	return model.ExternalJobRecord{
		Source:           model.ProviderIndeed,
		ExternalID:       id,
		Title:            "Go Engineer",
		CompanyName:      ptr("Acme"),
		CompanyURL:       ptr("https://acme.example"),
		CompanyLogoURL:   ptr("https://acme.example/logo.png"),
		Location:         ptr("Paris"),
		IsRemote:         ptr(true),
		JobType:          ptr("Full-time"),
		SalaryMin:        ptr(50000.0),
		SalaryMax:        ptr(65000.0),
		SalaryCurrency:   ptr("EUR"),
		CompensationText: ptr("€50,000 - €65,000 a year"),
		ExperienceLevel:  ptr("Senior"),
		Category:         ptr("IT Jobs"),
		Skills:           []string{"go", "postgres"},
		Description:      ptr("Build pipelines."),
		DescriptionHTML:  ptr("<p>Build pipelines.</p>"),
		ApplyURL:         ptr("https://acme.example/apply"),
		JobURL:           ptr("https://www.indeed.com/viewjob?jk=" + id),
		PostedAt:         &posted,
	}
}

// runStoreContract exercises the behaviour every Store must share.
func runStoreContract(t *testing.T, open func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("insert then update is idempotent", func(t *testing.T) {
		s := open(t)

		created, err := s.UpsertByKey(ctx, fullRecord("a1"))
		require.NoError(t, err)
		assert.True(t, created)

		updated := fullRecord("a1")
		updated.Title = "Staff Go Engineer"
		updated.SalaryMax = nil
		created, err = s.UpsertByKey(ctx, updated)
		require.NoError(t, err)
		assert.False(t, created)

		n, err := s.CountBySource(ctx, model.ProviderIndeed)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		got, err := s.Get(ctx, model.ProviderIndeed, "a1")
		require.NoError(t, err)
		assert.Equal(t, "Staff Go Engineer", got.Title, "last write wins")
		assert.Nil(t, got.SalaryMax)
	})

	t.Run("round trip keeps every field", func(t *testing.T) {
		s := open(t)
		want := fullRecord("rt")

		_, err := s.UpsertByKey(ctx, want)
		require.NoError(t, err)

		got, err := s.Get(ctx, model.ProviderIndeed, "rt")
		require.NoError(t, err)
		require.NotNil(t, got.PostedAt)
		assert.True(t, want.PostedAt.Equal(*got.PostedAt))
		got.PostedAt = want.PostedAt
		assert.Equal(t, want, got)
	})

	t.Run("sparse record", func(t *testing.T) {
		s := open(t)
		rec := model.ExternalJobRecord{Source: model.ProviderAdzuna, ExternalID: "sparse"}

		created, err := s.UpsertByKey(ctx, rec)
		require.NoError(t, err)
		assert.True(t, created)

		got, err := s.Get(ctx, model.ProviderAdzuna, "sparse")
		require.NoError(t, err)
		assert.Equal(t, rec, got)
	})

	t.Run("identity is scoped by source", func(t *testing.T) {
		s := open(t)

		_, err := s.UpsertByKey(ctx, model.ExternalJobRecord{Source: model.ProviderIndeed, ExternalID: "same"})
		require.NoError(t, err)
		created, err := s.UpsertByKey(ctx, model.ExternalJobRecord{Source: model.ProviderAdzuna, ExternalID: "same"})
		require.NoError(t, err)
		assert.True(t, created)

		for _, p := range []model.Provider{model.ProviderIndeed, model.ProviderAdzuna} {
			n, err := s.CountBySource(ctx, p)
			require.NoError(t, err)
			assert.Equal(t, 1, n, p)
		}
	})

	t.Run("missing key", func(t *testing.T) {
		s := open(t)
		_, err := s.Get(ctx, model.ProviderIndeed, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("empty identity rejected", func(t *testing.T) {
		s := open(t)
		_, err := s.UpsertByKey(ctx, model.ExternalJobRecord{Source: model.ProviderIndeed, ExternalID: "  "})
		assert.Error(t, err)
	})

	t.Run("concurrent upserts of one key create once", func(t *testing.T) {
		s := open(t)

		var wg sync.WaitGroup
		var mu sync.Mutex
		creates := 0
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				rec := fullRecord("race")
				rec.Title = fmt.Sprintf("writer %d", i)
				created, err := s.UpsertByKey(ctx, rec)
				assert.NoError(t, err)
				if created {
					mu.Lock()
					creates++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, 1, creates)
		n, err := s.CountBySource(ctx, model.ProviderIndeed)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		return NewMemoryStore()
	})
}

func TestSQLiteStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		s, err := OpenSQLite(context.Background(), ":memory:")
		require.NoError(t, err)
		t.Cleanup(s.Close)
		return s
	})
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, "memory", "")
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = Open(ctx, "sqlite", ":memory:")
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	s.Close()

	_, err = Open(ctx, "oracle", "")
	assert.ErrorContains(t, err, "unknown database driver")
}

func TestUpsertSQL(t *testing.T) {
	assert.Contains(t, pgUpsertSQL, "VALUES ($1, $2, $3,")
	assert.Contains(t, pgUpsertSQL, "ON CONFLICT (source, external_id) DO UPDATE SET")
	assert.Contains(t, pgUpsertSQL, "title = excluded.title")
	assert.NotContains(t, pgUpsertSQL, "external_id = excluded.external_id")
	assert.Contains(t, pgUpsertSQL, "RETURNING (xmax = 0)")
	assert.Len(t, recordArgs(fullRecord("x")), len(columns))
}
