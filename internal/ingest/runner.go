// Package ingest composes the rate limiter, source adapters, normalizer,
// deduplicator and store into one ingestion run.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"jobmate/ingestion-service/internal/metrics"
	"jobmate/ingestion-service/internal/model"
	"jobmate/ingestion-service/internal/normalize"
	"jobmate/ingestion-service/internal/ratelimit"
	"jobmate/ingestion-service/internal/source"
)

// UnknownClient is the rate-limit identity used when a trigger carries none.
const UnknownClient = "unknown"

// ErrRateLimited is matched by every *AdmissionError.
var ErrRateLimited = errors.New("rate limit exceeded")

// AdmissionError is returned when the token bucket for the caller is empty.
type AdmissionError struct {
	RetryAfter time.Duration
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("%v, retry in %s", ErrRateLimited, e.RetryAfter.Round(time.Second))
}

func (e *AdmissionError) Unwrap() error { return ErrRateLimited }

// Admitter is the admission gate consulted before every run.
type Admitter interface {
	Check(ctx context.Context, key string, capacity int, refillPerMs int64) ratelimit.Decision
}

// Notifier is told about every completed run. Errors are logged only.
type Notifier interface {
	Publish(ctx context.Context, res *RunResult) error
}

// Trigger describes one requested run.
type Trigger struct {
	Source    model.Provider
	Query     source.Query // nil runs the provider's empty query
	Limit     int          // clamped to [1, Config.MaxLimit]; 0 uses Config.DefaultLimit
	ClientKey string       // rate-limit identity
}

// RunResult summarises one run. It is returned on failure too, with Stage
// set to StageFailed.
type RunResult struct {
	RunID         string          `json:"runId"`
	Source        model.Provider  `json:"source"`
	Stage         Stage           `json:"stage"`
	FetchedCount  int             `json:"fetched"`
	InvalidCount  int             `json:"invalid"`
	FilteredCount int             `json:"filtered"`
	DedupedCount  int             `json:"deduped"`
	CreatedCount  int             `json:"created"`
	ExistingCount int             `json:"existing"`
	FailedCount   int             `json:"failed"`
	Failures      []RecordFailure `json:"failures,omitempty"`
	StartedAt     time.Time       `json:"startedAt"`
	Duration      time.Duration   `json:"duration"`
}

// SkippedCount is the number of fetched records that did not produce a new
// row.
func (r *RunResult) SkippedCount() int { return r.FetchedCount - r.CreatedCount }

// Config holds the run policy.
type Config struct {
	Capacity     int   // token bucket size per client
	RefillMs     int64 // milliseconds per token
	DefaultLimit int
	MaxLimit     int
	ExcludeTerms []string
}

// Runner executes ingestion runs. It holds no per-run state and is safe for
// concurrent use.
type Runner struct {
	limiter     Admitter
	adapters    *source.Registry
	normalizer  *normalize.Registry
	coordinator *Coordinator
	cfg         Config
	notifier    Notifier
	logger      *slog.Logger
	now         func() time.Time
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithNotifier publishes a notification after every completed run.
func WithNotifier(n Notifier) RunnerOption {
	return func(r *Runner) { r.notifier = n }
}

// WithLogger sets the run logger.
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = logger }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) { r.now = now }
}

// NewRunner wires a Runner.
func NewRunner(
	limiter Admitter,
	adapters *source.Registry,
	normalizer *normalize.Registry,
	coordinator *Coordinator,
	cfg Config,
	opts ...RunnerOption,
) *Runner {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 50
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = 200
	}
	if cfg.DefaultLimit > cfg.MaxLimit {
		cfg.DefaultLimit = cfg.MaxLimit
	}

	r := &Runner{
		limiter:     limiter,
		adapters:    adapters,
		normalizer:  normalizer,
		coordinator: coordinator,
		cfg:         cfg,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes one ingestion run:
// rate check → credential check → fetch → normalize → filter → dedupe → upsert.
//
// Admission, configuration and fetch errors abort the run before anything is
// written; an *source.UpstreamError is returned unwrapped. Per-record write
// failures do not fail the run and are reported in the result.
func (r *Runner) Run(ctx context.Context, t Trigger) (*RunResult, error) {
	res := &RunResult{
		RunID:     uuid.NewString(),
		Source:    t.Source,
		Stage:     StagePending,
		StartedAt: r.now(),
	}
	if res.Source == "" {
		res.Source = model.ProviderIndeed
		if t.Query != nil {
			res.Source = t.Query.Provider()
		}
	}
	log := r.logger.With(slog.String("run_id", res.RunID), slog.String("source", string(res.Source)))

	// ── Admission ──────────────────────────────────────
	key := t.ClientKey
	if key == "" {
		key = UnknownClient
	}
	if d := r.limiter.Check(ctx, "ingest:"+key, r.cfg.Capacity, r.cfg.RefillMs); !d.Allowed {
		return r.fail(res, log, &AdmissionError{RetryAfter: d.RetryAfter})
	}
	r.advance(res, StageRateChecked)

	// ── Configuration ──────────────────────────────────
	adapter, err := r.adapters.Get(res.Source)
	if err != nil {
		return r.fail(res, log, err)
	}
	if err := adapter.Validate(); err != nil {
		return r.fail(res, log, err)
	}
	q := t.Query
	if q == nil {
		q = emptyQuery(res.Source)
	}
	if q.Provider() != res.Source {
		return r.fail(res, log, fmt.Errorf("%w: %s query for %s run", source.ErrQueryMismatch, q.Provider(), res.Source))
	}
	limit := r.clampLimit(t.Limit)

	// ── Fetch ──────────────────────────────────────────
	fetchStart := r.now()
	raws, err := adapter.Fetch(ctx, q, limit)
	metrics.FetchDuration.WithLabelValues(string(res.Source)).Observe(r.now().Sub(fetchStart).Seconds())
	r.advance(res, StageFetched)
	if err != nil {
		metrics.FetchErrors.WithLabelValues(string(res.Source)).Inc()
		return r.fail(res, log, err)
	}
	res.FetchedCount = len(raws)

	// ── Normalize + exclusion filter ───────────────────
	records := make([]model.ExternalJobRecord, 0, len(raws))
	for i, raw := range raws {
		rec, err := r.normalizer.Normalize(raw)
		if err != nil {
			res.InvalidCount++
			log.Debug("dropping unparseable record", slog.Int("index", i), slog.Any("err", err))
			continue
		}
		if ContainsExcludedTerm(rec, r.cfg.ExcludeTerms) {
			res.FilteredCount++
			continue
		}
		records = append(records, rec)
	}
	r.advance(res, StageNormalized)

	// ── Dedupe ─────────────────────────────────────────
	unique := Dedupe(records)
	res.DedupedCount = len(unique)
	r.advance(res, StageDeduped)

	// ── Persist ────────────────────────────────────────
	sum := r.coordinator.Upsert(ctx, unique)
	res.CreatedCount = sum.Created
	res.ExistingCount = sum.Existing
	res.FailedCount = sum.Failed
	res.Failures = sum.Failures
	r.advance(res, StagePersisted)

	r.advance(res, StageDone)
	res.Duration = r.now().Sub(res.StartedAt)
	r.observe(res, len(records))

	log.Info("ingestion run complete",
		slog.Int("fetched", res.FetchedCount),
		slog.Int("invalid", res.InvalidCount),
		slog.Int("filtered", res.FilteredCount),
		slog.Int("deduped", res.DedupedCount),
		slog.Int("created", res.CreatedCount),
		slog.Int("existing", res.ExistingCount),
		slog.Int("failed", res.FailedCount),
		slog.Duration("duration", res.Duration),
	)

	if r.notifier != nil {
		if err := r.notifier.Publish(ctx, res); err != nil {
			log.Warn("publish run notification failed", slog.Any("err", err))
		}
	}
	return res, nil
}

// Limits returns the effective default and maximum record limits.
func (r *Runner) Limits() (defaultLimit, maxLimit int) {
	return r.cfg.DefaultLimit, r.cfg.MaxLimit
}

func (r *Runner) clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return r.cfg.DefaultLimit
	case limit > r.cfg.MaxLimit:
		return r.cfg.MaxLimit
	}
	return limit
}

// advance moves res to next. An illegal transition is a bug in Run.
func (r *Runner) advance(res *RunResult, next Stage) {
	if !IsTransitionAllowed(res.Stage, next) {
		panic(fmt.Sprintf("ingest: illegal stage transition %s → %s", res.Stage, next))
	}
	res.Stage = next
}

func (r *Runner) fail(res *RunResult, log *slog.Logger, err error) (*RunResult, error) {
	from := res.Stage
	r.advance(res, StageFailed)
	res.Duration = r.now().Sub(res.StartedAt)

	status := string(StageFailed)
	if errors.Is(err, ErrRateLimited) {
		status = "rate_limited"
	}
	metrics.RunsTotal.WithLabelValues(string(res.Source), status).Inc()

	log.Warn("ingestion run failed",
		slog.String("stage", string(from)),
		slog.Int("fetched", res.FetchedCount),
		slog.Any("err", err),
	)
	return res, err
}

func (r *Runner) observe(res *RunResult, normalized int) {
	src := string(res.Source)
	metrics.RunsTotal.WithLabelValues(src, string(StageDone)).Inc()
	metrics.RunDuration.WithLabelValues(src).Observe(res.Duration.Seconds())

	add := func(outcome string, n int) {
		if n > 0 {
			metrics.RecordsTotal.WithLabelValues(src, outcome).Add(float64(n))
		}
	}
	add(metrics.OutcomeFetched, res.FetchedCount)
	add(metrics.OutcomeInvalid, res.InvalidCount)
	add(metrics.OutcomeFiltered, res.FilteredCount)
	add(metrics.OutcomeDuplicate, normalized-res.DedupedCount)
	add(metrics.OutcomeCreated, res.CreatedCount)
	add(metrics.OutcomeExisting, res.ExistingCount)
	add(metrics.OutcomeFailed, res.FailedCount)
}

func emptyQuery(p model.Provider) source.Query {
	if p == model.ProviderAdzuna {
		return source.AdzunaQuery{}
	}
	return source.IndeedQuery{}
}
