package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobmate/ingestion-service/internal/ingest"
	"jobmate/ingestion-service/internal/logging"
	"jobmate/ingestion-service/internal/model"
	"jobmate/ingestion-service/internal/scheduler"
	"jobmate/ingestion-service/internal/source"
)

// ============================================================================
// Test Setup
// ============================================================================

type fakeRunner struct {
	mu       sync.Mutex
	triggers []ingest.Trigger
	result   *ingest.RunResult
	err      error
}

func (f *fakeRunner) Run(_ context.Context, t ingest.Trigger) (*ingest.RunResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggers = append(f.triggers, t)
	res := f.result
	if res == nil {
		res = &ingest.RunResult{RunID: "run-1", Source: t.Source, Stage: ingest.StageDone}
	}
	return res, f.err
}

func (f *fakeRunner) last(t *testing.T) ingest.Trigger {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.triggers, "runner was not called")
	return f.triggers[len(f.triggers)-1]
}

func (f *fakeRunner) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.triggers)
}

type fakeCron struct {
	report *scheduler.Report
	err    error
	calls  int
}

func (f *fakeCron) Run(context.Context) (*scheduler.Report, error) {
	f.calls++
	return f.report, f.err
}

func testLogger() *logging.Logger {
	return logging.NewWithWriter(io.Discard, slog.LevelDebug, "text")
}

func newTestServer(runner Runner, cron CronRunner, auth Auth) http.Handler {
	return NewRouter(NewHandler(runner, cron, auth, testLogger()))
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body), rr.Body.String())
	return body
}

// ============================================================================
// POST /api/ingest
// ============================================================================

func TestIngest_Success(t *testing.T) {
	runner := &fakeRunner{result: &ingest.RunResult{
		RunID:         "run-42",
		Source:        model.ProviderIndeed,
		Stage:         ingest.StageDone,
		FetchedCount:  5,
		CreatedCount:  3,
		ExistingCount: 1,
		FailedCount:   0,
	}}
	srv := newTestServer(runner, nil, Auth{IngestSecret: "s3cret"})

	body := `{"query":"golang","location":"Paris","country":"FR","fromDays":2,"limit":25}`
	req := httptest.NewRequest(http.MethodPost, "/api/ingest", strings.NewReader(body))
	req.Header.Set("X-Ingest-Secret", "s3cret")
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	rr := httptest.NewRecorder()

	srv.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
	assert.Equal(t, map[string]any{
		"fetched":       float64(5),
		"createdPosts":  float64(3),
		"existingPosts": float64(1),
		"failedPosts":   float64(0),
		"runId":         "run-42",
	}, decodeBody(t, rr))

	trig := runner.last(t)
	assert.Equal(t, model.ProviderIndeed, trig.Source)
	assert.Equal(t, 25, trig.Limit)
	assert.Equal(t, "203.0.113.7", trig.ClientKey)
	assert.Equal(t, source.IndeedQuery{Country: "FR", Query: "golang", Location: "Paris", FromDays: 2}, trig.Query)
}

func TestIngest_AdzunaSource(t *testing.T) {
	runner := &fakeRunner{}
	srv := newTestServer(runner, nil, Auth{AllowOpen: true})

	req := httptest.NewRequest(http.MethodPost, "/api/ingest",
		strings.NewReader(`{"source":"Adzuna","query":"go","location":"Lyon","country":"FR"}`))
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	trig := runner.last(t)
	assert.Equal(t, model.ProviderAdzuna, trig.Source)
	assert.Equal(t, source.AdzunaQuery{Country: "fr", What: "go", Where: "Lyon"}, trig.Query)
	assert.Equal(t, ingest.UnknownClient, trig.ClientKey)
}

func TestIngest_EmptyBodyUsesDefaults(t *testing.T) {
	runner := &fakeRunner{}
	srv := newTestServer(runner, nil, Auth{AllowOpen: true})

	req := httptest.NewRequest(http.MethodPost, "/api/ingest", nil)
	req.Header.Set("X-Real-IP", "198.51.100.2")
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	trig := runner.last(t)
	assert.Equal(t, model.ProviderIndeed, trig.Source)
	assert.Equal(t, 0, trig.Limit)
	assert.Equal(t, "198.51.100.2", trig.ClientKey)
	assert.Equal(t, source.IndeedQuery{}, trig.Query)
}

func TestIngest_Errors(t *testing.T) {
	tests := []struct {
		name       string
		auth       Auth
		secret     string
		body       string
		runErr     error
		wantStatus int
		wantCalled bool
	}{
		{
			name:       "wrong secret",
			auth:       Auth{IngestSecret: "s3cret"},
			secret:     "guess",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "missing secret",
			auth:       Auth{IngestSecret: "s3cret"},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "secret not configured",
			auth:       Auth{},
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "malformed body",
			auth:       Auth{AllowOpen: true},
			body:       `{"limit":`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown source",
			auth:       Auth{AllowOpen: true},
			body:       `{"source":"monster"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "rate limited",
			auth:       Auth{AllowOpen: true},
			runErr:     &ingest.AdmissionError{RetryAfter: 41500 * time.Millisecond},
			wantStatus: http.StatusTooManyRequests,
			wantCalled: true,
		},
		{
			name:       "missing credential",
			auth:       Auth{AllowOpen: true},
			runErr:     source.ErrMissingCredential,
			wantStatus: http.StatusInternalServerError,
			wantCalled: true,
		},
		{
			name:       "upstream failure",
			auth:       Auth{AllowOpen: true},
			runErr:     &source.UpstreamError{Provider: model.ProviderIndeed, StatusCode: 503, Err: errors.New("actor failed")},
			wantStatus: http.StatusBadGateway,
			wantCalled: true,
		},
		{
			name:       "unexpected",
			auth:       Auth{AllowOpen: true},
			runErr:     errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantCalled: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{err: tt.runErr}
			srv := newTestServer(runner, nil, tt.auth)

			req := httptest.NewRequest(http.MethodPost, "/api/ingest", strings.NewReader(tt.body))
			if tt.secret != "" {
				req.Header.Set("X-Ingest-Secret", tt.secret)
			}
			rr := httptest.NewRecorder()
			srv.ServeHTTP(rr, req)

			assert.Equal(t, tt.wantStatus, rr.Code, rr.Body.String())
			assert.NotEmpty(t, decodeBody(t, rr)["error"])
			assert.Equal(t, tt.wantCalled, runner.calls() > 0)
		})
	}
}

func TestIngest_RetryAfterHeader(t *testing.T) {
	runner := &fakeRunner{err: &ingest.AdmissionError{RetryAfter: 41500 * time.Millisecond}}
	srv := newTestServer(runner, nil, Auth{AllowOpen: true})

	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/ingest", nil))

	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "42", rr.Header().Get("Retry-After"))
}

func TestIngest_MethodNotAllowed(t *testing.T) {
	srv := newTestServer(&fakeRunner{}, nil, Auth{AllowOpen: true})

	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/ingest", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

// ============================================================================
// GET|POST /api/cron/ingest
// ============================================================================

func TestCron_SecretLocations(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(r *http.Request)
		want    int
	}{
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer cr0n") }, http.StatusOK},
		{"header", func(r *http.Request) { r.Header.Set("X-Cron-Secret", "cr0n") }, http.StatusOK},
		{"query", func(r *http.Request) { r.URL.RawQuery = "secret=cr0n" }, http.StatusOK},
		{"wrong bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, http.StatusUnauthorized},
		{"basic auth ignored", func(r *http.Request) { r.Header.Set("Authorization", "Basic cr0n") }, http.StatusUnauthorized},
		{"none", func(*http.Request) {}, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cron := &fakeCron{report: &scheduler.Report{
				Maintenance: map[string]int{},
				Result:      &ingest.RunResult{RunID: "cron-run"},
			}}
			srv := newTestServer(&fakeRunner{}, cron, Auth{CronSecret: "cr0n"})

			req := httptest.NewRequest(http.MethodGet, "/api/cron/ingest", nil)
			tt.prepare(req)
			rr := httptest.NewRecorder()
			srv.ServeHTTP(rr, req)

			assert.Equal(t, tt.want, rr.Code, rr.Body.String())
		})
	}
}

func TestCron_ReportsMaintenance(t *testing.T) {
	cron := &fakeCron{report: &scheduler.Report{
		Maintenance:      map[string]int{"expiredPosts": 7},
		MaintenanceError: "",
		Result: &ingest.RunResult{
			RunID:         "cron-run",
			FetchedCount:  10,
			CreatedCount:  6,
			ExistingCount: 4,
		},
	}}
	srv := newTestServer(&fakeRunner{}, cron, Auth{CronSecret: "cr0n"})

	req := httptest.NewRequest(http.MethodPost, "/api/cron/ingest", nil)
	req.Header.Set("X-Cron-Secret", "cr0n")
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	body := decodeBody(t, rr)
	assert.Equal(t, float64(10), body["fetched"])
	assert.Equal(t, float64(6), body["createdPosts"])
	assert.Equal(t, float64(4), body["existingPosts"])
	assert.Equal(t, "cron-run", body["runId"])
	assert.Equal(t, map[string]any{"expiredPosts": float64(7)}, body["maintenance"])
	assert.NotContains(t, body, "maintenanceError")
	assert.Equal(t, 1, cron.calls)
}

func TestCron_RunErrorMapped(t *testing.T) {
	cron := &fakeCron{
		report: &scheduler.Report{Maintenance: map[string]int{}, Result: &ingest.RunResult{}},
		err:    &ingest.AdmissionError{RetryAfter: time.Minute},
	}
	srv := newTestServer(&fakeRunner{}, cron, Auth{AllowOpen: true})

	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/cron/ingest", nil))

	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "60", rr.Header().Get("Retry-After"))
}

func TestCron_UnconfiguredSecretFailsClosed(t *testing.T) {
	cron := &fakeCron{}
	srv := newTestServer(&fakeRunner{}, cron, Auth{IngestSecret: "only-ingest"})

	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/cron/ingest", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, 0, cron.calls)
}

// ============================================================================
// Identity, ops
// ============================================================================

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"forwarded chain", map[string]string{"X-Forwarded-For": "203.0.113.195, 70.41.3.18, 150.172.238.178"}, "203.0.113.195"},
		{"forwarded single", map[string]string{"X-Forwarded-For": " 198.51.100.1 "}, "198.51.100.1"},
		{"forwarded wins over real ip", map[string]string{"X-Forwarded-For": "1.1.1.1", "X-Real-IP": "2.2.2.2"}, "1.1.1.1"},
		{"real ip", map[string]string{"X-Real-IP": "2.2.2.2"}, "2.2.2.2"},
		{"empty forwarded entry", map[string]string{"X-Forwarded-For": " , 3.3.3.3", "X-Real-IP": "2.2.2.2"}, "2.2.2.2"},
		{"nothing", nil, "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			for k, v := range tt.headers {
				h.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(h))
		})
	}
}

func TestRouter_OpsEndpoints(t *testing.T) {
	srv := newTestServer(&fakeRunner{}, &fakeCron{}, Auth{})

	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", decodeBody(t, rr)["status"])

	rr = httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "go_goroutines")

	rr = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	srv.ServeHTTP(rr, req)
	assert.Equal(t, "req-123", rr.Header().Get("X-Request-ID"))
}
