package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"jobmate/ingestion-service/internal/config"
	"jobmate/ingestion-service/internal/db"
	"jobmate/ingestion-service/internal/ingest"
	"jobmate/ingestion-service/internal/logging"
	"jobmate/ingestion-service/internal/model"
	"jobmate/ingestion-service/internal/normalize"
	"jobmate/ingestion-service/internal/notify"
	"jobmate/ingestion-service/internal/ratelimit"
	"jobmate/ingestion-service/internal/scheduler"
	"jobmate/ingestion-service/internal/source"
	"jobmate/ingestion-service/internal/store"
)

// app is the wired pipeline shared by serve and run.
type app struct {
	cfg     *config.Config
	logger  *logging.Logger
	store   store.Store
	rdb     *redis.Client
	buckets *ratelimit.MemoryStore // nil with the redis backend
	runner  *ingest.Runner
	cronJob *scheduler.CronJob
}

func loadConfig() (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}

	logger := logging.New(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format).
		With(slog.String("service", "ingestion-service"))
	logging.SetDefault(logger)
	return cfg, logger, nil
}

// newApp connects the store and Redis and wires the runner. Postgres
// migrations are applied first when migrateSchema is set.
func newApp(ctx context.Context, migrateSchema bool) (*app, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger}

	// ── Store ───────────────────────────────────────────────────────────────
	if cfg.Database.Driver == store.DriverPostgres && migrateSchema {
		logger.Info("applying migrations", slog.String("source", cfg.Database.Migrations))
		if err := db.Migrate(cfg.Database.Migrations, cfg.Database.URL); err != nil {
			return nil, err
		}
	}
	a.store, err = store.Open(ctx, cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	logger.Info("store ready", slog.String("driver", cfg.Database.Driver))

	// ── Redis ───────────────────────────────────────────────────────────────
	if cfg.UsesRedis() {
		a.rdb, err = db.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		logger.Info("redis connected")
	}

	// ── Rate limiter ────────────────────────────────────────────────────────
	var bucketStore ratelimit.Store
	if cfg.RateLimit.Backend == "redis" {
		bucketStore = ratelimit.NewRedisStore(a.rdb)
	} else {
		a.buckets = ratelimit.NewMemoryStore()
		bucketStore = a.buckets
	}
	limiter := ratelimit.New(bucketStore,
		ratelimit.WithDefaults(cfg.RateLimit.Capacity, cfg.RateLimit.RefillMs),
		ratelimit.WithLogger(logger.Logger),
	)

	// ── Pipeline ────────────────────────────────────────────────────────────
	adapters := source.NewRegistry(
		source.NewIndeedAdapter(source.IndeedConfig{
			Token:   cfg.Indeed.Token,
			Actor:   cfg.Indeed.Actor,
			BaseURL: cfg.Indeed.BaseURL,
			Timeout: cfg.Source.Timeout,
		}),
		source.NewAdzunaAdapter(source.AdzunaConfig{
			AppID:   cfg.Adzuna.AppID,
			AppKey:  cfg.Adzuna.AppKey,
			Country: cfg.Adzuna.Country,
			BaseURL: cfg.Adzuna.BaseURL,
			Timeout: cfg.Source.Timeout,
		}),
	)

	opts := []ingest.RunnerOption{ingest.WithLogger(logger.Logger)}
	if cfg.Redis.Enabled && a.rdb != nil {
		opts = append(opts, ingest.WithNotifier(notify.NewRedisPublisher(a.rdb)))
	}
	a.runner = ingest.NewRunner(
		limiter,
		adapters,
		normalize.NewRegistry(),
		ingest.NewCoordinator(a.store, logger.Logger),
		ingest.Config{
			Capacity:     cfg.RateLimit.Capacity,
			RefillMs:     cfg.RateLimit.RefillMs,
			DefaultLimit: cfg.Ingest.DefaultLimit,
			MaxLimit:     cfg.Ingest.MaxLimit,
			ExcludeTerms: cfg.Ingest.ExcludeTerms,
		},
		opts...,
	)

	trigger, err := cronTrigger(cfg.Cron)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.cronJob = scheduler.NewCronJob(a.runner, scheduler.NoopMaintenance, trigger, logger.Logger)

	return a, nil
}

// cronTrigger builds the fixed trigger used by scheduled runs.
func cronTrigger(c config.CronConfig) (ingest.Trigger, error) {
	p, err := model.ParseProvider(c.Source)
	if err != nil {
		return ingest.Trigger{}, fmt.Errorf("cron.source: %w", err)
	}
	q, err := source.NewQuery(p, source.Params{
		Country:       c.Country,
		Query:         c.Query,
		Location:      c.Location,
		FromDays:      c.FromDays,
		URLs:          c.URLs,
		MaxRowsPerURL: c.MaxRowsPerURL,
	})
	if err != nil {
		return ingest.Trigger{}, err
	}
	return ingest.Trigger{
		Source:    p,
		Query:     q,
		Limit:     c.Limit,
		ClientKey: scheduler.CronClientKey,
	}, nil
}

func (a *app) Close() {
	if a.store != nil {
		a.store.Close()
	}
	if a.rdb != nil {
		a.rdb.Close()
	}
}
