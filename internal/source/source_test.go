package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobmate/ingestion-service/internal/model"
)

// ── Indeed ────────────────────────────────────────────────────────────────

func indeedItems(prefix string, n int) []map[string]any {
	items := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, map[string]any{
			"id":           fmt.Sprintf("%s-%d", prefix, i),
			"positionName": "Go Engineer",
		})
	}
	return items
}

func payloadIDs(t *testing.T, records []RawRecord) []string {
	t.Helper()
	ids := make([]string, 0, len(records))
	for _, r := range records {
		var v struct {
			ID string `json:"id"`
		}
		require.NoError(t, json.Unmarshal(r.Payload, &v))
		ids = append(ids, v.ID)
	}
	return ids
}

func TestIndeedAdapter_QueryRun(t *testing.T) {
	var got indeedActorInput
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/acts/misceres~indeed-scraper/run-sync-get-dataset-items", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(indeedItems("q", got.MaxRows+5))
	}))
	defer srv.Close()

	a := NewIndeedAdapter(IndeedConfig{Token: "tok", BaseURL: srv.URL})
	records, err := a.Fetch(context.Background(), IndeedQuery{Country: "us", Query: "golang", FromDays: 7}, 10)
	require.NoError(t, err)

	assert.Len(t, records, 10, "result is capped at limit even if upstream over-delivers")
	assert.Equal(t, "US", got.Country)
	assert.Equal(t, "golang", got.Query)
	assert.Equal(t, 7, got.FromDays)
	assert.Equal(t, 10, got.MaxRows)
	for _, r := range records {
		assert.Equal(t, model.ProviderIndeed, r.Source)
	}
}

func TestIndeedAdapter_SeedURLsMergedInOrder(t *testing.T) {
	var mu sync.Mutex
	var calls []indeedActorInput
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in indeedActorInput
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		mu.Lock()
		calls = append(calls, in)
		mu.Unlock()

		seed := in.URLs[0]
		// Later seeds answer faster to prove ordering is by seed, not arrival.
		if strings.HasSuffix(seed, "a") {
			time.Sleep(20 * time.Millisecond)
		}
		json.NewEncoder(w).Encode(indeedItems(seed[len(seed)-1:], 5))
	}))
	defer srv.Close()

	a := NewIndeedAdapter(IndeedConfig{Token: "tok", BaseURL: srv.URL})
	q := IndeedQuery{
		URLs:          []string{"https://indeed.example/a", " ", "https://indeed.example/b", "https://indeed.example/c"},
		MaxRowsPerURL: 2,
	}
	records, err := a.Fetch(context.Background(), q, 5)
	require.NoError(t, err)

	assert.Equal(t, []string{"a-0", "a-1", "b-0", "b-1", "c-0"}, payloadIDs(t, records))
	require.Len(t, calls, 3, "blank seed skipped")
	for _, c := range calls {
		assert.Equal(t, 2, c.MaxRows)
		assert.Len(t, c.URLs, 1)
	}
}

func TestIndeedAdapter_EmptyResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	a := NewIndeedAdapter(IndeedConfig{Token: "tok", BaseURL: srv.URL})
	records, err := a.Fetch(context.Background(), IndeedQuery{Query: "nothing"}, 10)
	require.NoError(t, err)
	assert.NotNil(t, records)
	assert.Empty(t, records)
}

func TestIndeedAdapter_UpstreamFailures(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus int
	}{
		{name: "non-2xx", status: http.StatusBadGateway, body: `{"error":"actor failed"}`, wantStatus: http.StatusBadGateway},
		{name: "unauthorized", status: http.StatusUnauthorized, body: `nope`, wantStatus: http.StatusUnauthorized},
		{name: "malformed payload", status: http.StatusOK, body: `{"not":"an array"}`, wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			a := NewIndeedAdapter(IndeedConfig{Token: "tok", BaseURL: srv.URL})
			_, err := a.Fetch(context.Background(), IndeedQuery{}, 10)

			var upErr *UpstreamError
			require.ErrorAs(t, err, &upErr)
			assert.Equal(t, model.ProviderIndeed, upErr.Provider)
			assert.Equal(t, tt.wantStatus, upErr.StatusCode)
		})
	}
}

func TestIndeedAdapter_SeedFailureFailsFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in indeedActorInput
		json.NewDecoder(r.Body).Decode(&in)
		if strings.HasSuffix(in.URLs[0], "bad") {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(indeedItems("ok", 2))
	}))
	defer srv.Close()

	a := NewIndeedAdapter(IndeedConfig{Token: "tok", BaseURL: srv.URL})
	_, err := a.Fetch(context.Background(), IndeedQuery{URLs: []string{"https://x/ok", "https://x/bad"}}, 10)

	var upErr *UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, http.StatusInternalServerError, upErr.StatusCode)
}

func TestIndeedAdapter_Deadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	a := NewIndeedAdapter(IndeedConfig{Token: "tok", BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	start := time.Now()
	_, err := a.Fetch(context.Background(), IndeedQuery{}, 10)

	var upErr *UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestIndeedAdapter_Validation(t *testing.T) {
	a := NewIndeedAdapter(IndeedConfig{})
	assert.ErrorIs(t, a.Validate(), ErrMissingCredential)

	_, err := a.Fetch(context.Background(), IndeedQuery{}, 10)
	assert.ErrorIs(t, err, ErrMissingCredential)

	_, err = NewIndeedAdapter(IndeedConfig{Token: "tok"}).Fetch(context.Background(), AdzunaQuery{}, 10)
	assert.ErrorIs(t, err, ErrQueryMismatch)
}

// ── Adzuna ────────────────────────────────────────────────────────────────

func TestAdzunaAdapter_Paging(t *testing.T) {
	var pages []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pages = append(pages, r.URL.Path)
		assert.Equal(t, "id", r.URL.Query().Get("app_id"))
		assert.Equal(t, "key", r.URL.Query().Get("app_key"))
		assert.Equal(t, "golang", r.URL.Query().Get("what"))
		assert.Equal(t, "3", r.URL.Query().Get("max_days_old"))

		perPage, _ := strconv.Atoi(r.URL.Query().Get("results_per_page"))
		n := perPage
		if strings.HasSuffix(r.URL.Path, "/3") {
			n = 7
		}
		results := make([]map[string]any, 0, n)
		for i := 0; i < n; i++ {
			results = append(results, map[string]any{"id": fmt.Sprintf("%s-%d", r.URL.Path, i)})
		}
		json.NewEncoder(w).Encode(map[string]any{"results": results, "count": 1000})
	}))
	defer srv.Close()

	a := NewAdzunaAdapter(AdzunaConfig{AppID: "id", AppKey: "key", BaseURL: srv.URL})
	records, err := a.Fetch(context.Background(), AdzunaQuery{Country: "GB", What: "golang", MaxDaysOld: 3}, 500)
	require.NoError(t, err)

	assert.Len(t, records, 107, "two full pages then a short one")
	assert.Equal(t, []string{"/gb/search/1", "/gb/search/2", "/gb/search/3"}, pages)
}

func TestAdzunaAdapter_LimitStopsPaging(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		results := make([]map[string]any, 0, 50)
		for i := 0; i < 50; i++ {
			results = append(results, map[string]any{"id": strconv.Itoa(calls*100 + i)})
		}
		json.NewEncoder(w).Encode(map[string]any{"results": results})
	}))
	defer srv.Close()

	a := NewAdzunaAdapter(AdzunaConfig{AppID: "id", AppKey: "key", Country: "us", BaseURL: srv.URL})
	records, err := a.Fetch(context.Background(), AdzunaQuery{}, 60)
	require.NoError(t, err)
	assert.Len(t, records, 60)
	assert.Equal(t, 2, calls)
}

func TestAdzunaAdapter_NullResultsSkipped(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		n := 50
		if calls == 2 {
			n = 5
		}
		results := make([]any, 0, n)
		for i := 0; i < n; i++ {
			if calls == 1 && i%25 == 0 {
				results = append(results, nil)
				continue
			}
			results = append(results, map[string]any{"id": strconv.Itoa(calls*100 + i)})
		}
		json.NewEncoder(w).Encode(map[string]any{"results": results})
	}))
	defer srv.Close()

	a := NewAdzunaAdapter(AdzunaConfig{AppID: "id", AppKey: "key", BaseURL: srv.URL})
	records, err := a.Fetch(context.Background(), AdzunaQuery{}, 500)
	require.NoError(t, err)

	assert.Len(t, records, 53)
	assert.Equal(t, 2, calls, "a full page with null entries is not the last page")
	for _, rec := range records {
		assert.NotEqual(t, "null", string(rec.Payload))
	}
}

func TestAdzunaAdapter_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	a := NewAdzunaAdapter(AdzunaConfig{AppID: "id", AppKey: "key", BaseURL: srv.URL})
	_, err := a.Fetch(context.Background(), AdzunaQuery{}, 10)
	var upErr *UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, http.StatusForbidden, upErr.StatusCode)

	_, err = NewAdzunaAdapter(AdzunaConfig{}).Fetch(context.Background(), AdzunaQuery{}, 10)
	assert.ErrorIs(t, err, ErrMissingCredential)
}

// ── Registry ──────────────────────────────────────────────────────────────

func TestRegistry(t *testing.T) {
	r := NewRegistry(NewIndeedAdapter(IndeedConfig{}), NewAdzunaAdapter(AdzunaConfig{}))

	a, err := r.Get(model.ProviderIndeed)
	require.NoError(t, err)
	assert.Equal(t, model.ProviderIndeed, a.Provider())

	_, err = NewRegistry().Get(model.ProviderAdzuna)
	assert.True(t, errors.Is(err, ErrUnknownSource))
}

func TestTruncateBody(t *testing.T) {
	assert.Equal(t, "short", truncateBody([]byte("short")))

	ascii := strings.Repeat("a", 600)
	assert.Equal(t, strings.Repeat("a", 512)+"…", truncateBody([]byte(ascii)))

	// "é" is two bytes; byte 512 falls inside the 256th one.
	accented := strings.Repeat("a", 1) + strings.Repeat("é", 300)
	got := truncateBody([]byte(accented))
	assert.True(t, utf8.ValidString(got), "cut must land on a rune boundary")
	assert.Equal(t, "a"+strings.Repeat("é", 255)+"…", got)
}

func TestUpstreamError_Message(t *testing.T) {
	err := &UpstreamError{Provider: model.ProviderIndeed, StatusCode: 503, Err: errors.New("busy")}
	assert.Equal(t, "indeed upstream returned 503: busy", err.Error())

	err = &UpstreamError{Provider: model.ProviderAdzuna, Err: errors.New("dial tcp")}
	assert.Equal(t, "adzuna upstream: dial tcp", err.Error())
}

func TestNewQuery(t *testing.T) {
	params := Params{
		Country:       "FR",
		Query:         "golang",
		Location:      "Paris",
		FromDays:      3,
		URLs:          []string{"https://fr.indeed.com/jobs?q=go"},
		MaxRowsPerURL: 10,
	}

	q, err := NewQuery(model.ProviderIndeed, params)
	require.NoError(t, err)
	assert.Equal(t, IndeedQuery{
		Country:       "FR",
		Query:         "golang",
		Location:      "Paris",
		FromDays:      3,
		URLs:          []string{"https://fr.indeed.com/jobs?q=go"},
		MaxRowsPerURL: 10,
	}, q)

	q, err = NewQuery(model.ProviderAdzuna, params)
	require.NoError(t, err)
	assert.Equal(t, AdzunaQuery{Country: "fr", What: "golang", Where: "Paris", MaxDaysOld: 3}, q)

	_, err = NewQuery("monster", params)
	assert.ErrorIs(t, err, ErrUnknownSource)
}
