package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"jobmate/ingestion-service/internal/api"
	"jobmate/ingestion-service/internal/scheduler"
)

var skipMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP triggers and the scheduler",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&skipMigrate, "skip-migrate", false, "do not apply Postgres migrations on startup")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, !skipMigrate)
	if err != nil {
		return err
	}
	defer a.Close()
	cfg, logger := a.cfg, a.logger

	logger.Info("starting ingestion service",
		slog.String("version", version),
		slog.Int("port", cfg.Server.Port),
		slog.String("ratelimit_backend", cfg.RateLimit.Backend),
		slog.Bool("scheduler", cfg.Scheduler.Enabled),
	)

	if a.buckets != nil {
		go a.buckets.RunJanitor(ctx, cfg.RateLimit.SweepInterval, logger.Logger)
	}

	// ── Scheduler ───────────────────────────────────────────────────────────
	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched = scheduler.New(a.cronJob, cfg.Scheduler.Spec, cfg.Scheduler.RunOnStart, logger.Logger)
		if err := sched.Start(ctx); err != nil {
			return err
		}
	}

	// ── HTTP server ─────────────────────────────────────────────────────────
	h := api.NewHandler(a.runner, a.cronJob, api.Auth{
		IngestSecret: cfg.Auth.IngestSecret,
		CronSecret:   cfg.Auth.CronSecret,
		AllowOpen:    cfg.Auth.AllowOpen,
	}, logger)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api.NewRouter(h),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// ── Graceful shutdown ───────────────────────────────────────────────────
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", slog.Any("err", err))
	}
	if sched != nil {
		sched.Stop(shutdownCtx)
	}
	logger.Info("stopped")
	return nil
}
