// Package scheduler wires up the cron job that periodically runs
// maintenance and ingestion.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler wraps robfig/cron and manages the ingestion loop.
type Scheduler struct {
	cron       *cron.Cron
	job        *CronJob
	spec       string // cron spec, e.g. "@every 6h"
	runOnStart bool
	logger     *slog.Logger
}

// New creates a Scheduler firing job on spec. Overlapping ticks are skipped
// while a previous run is still in progress.
func New(job *CronJob, spec string, runOnStart bool, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		job:        job,
		spec:       spec,
		runOnStart: runOnStart,
		logger:     logger,
	}
}

// Start registers the job and starts the scheduler. When runOnStart is set
// one run is also started immediately so the store is populated without
// waiting for the first tick. That run goes through the same job chain, so
// it is recovered on panic and a tick arriving meanwhile is skipped.
func (s *Scheduler) Start(ctx context.Context) error {
	id, err := s.cron.AddFunc(s.spec, func() { s.tick(ctx) })
	if err != nil {
		return fmt.Errorf("cron.AddFunc(%q): %w", s.spec, err)
	}

	s.cron.Start()
	s.logger.Info("scheduler started", slog.String("spec", s.spec))

	if s.runOnStart {
		job := s.cron.Entry(id).WrappedJob
		go job.Run()
	}
	return nil
}

// Stop halts the scheduler and waits for a running job to finish or ctx to
// expire.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	s.logger.Info("scheduled ingestion started")

	report, err := s.job.Run(ctx)
	if err != nil {
		s.logger.Error("scheduled ingestion failed", slog.Any("err", err))
		return
	}
	s.logger.Info("scheduled ingestion complete",
		slog.String("run_id", report.Result.RunID),
		slog.Int("created", report.Result.CreatedCount),
		slog.Any("maintenance", report.Maintenance),
	)
}

// cronLogger routes robfig/cron's logging through slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "err", err)...)
}
