package scheduler

import (
	"context"
	"log/slog"

	"jobmate/ingestion-service/internal/ingest"
)

// CronClientKey is the rate-limit identity of scheduled runs.
const CronClientKey = "cron"

// Runner executes one ingestion run.
type Runner interface {
	Run(ctx context.Context, t ingest.Trigger) (*ingest.RunResult, error)
}

// Maintenance is the clearing step performed before every scheduled run.
// It is owned by another system; only its counts are reported here.
type Maintenance interface {
	Clear(ctx context.Context) (map[string]int, error)
}

// MaintenanceFunc adapts a function to Maintenance.
type MaintenanceFunc func(ctx context.Context) (map[string]int, error)

// Clear implements Maintenance.
func (f MaintenanceFunc) Clear(ctx context.Context) (map[string]int, error) { return f(ctx) }

// NoopMaintenance clears nothing.
var NoopMaintenance Maintenance = MaintenanceFunc(func(context.Context) (map[string]int, error) {
	return map[string]int{}, nil
})

// Report is the outcome of one CronJob execution.
type Report struct {
	Maintenance      map[string]int
	MaintenanceError string
	Result           *ingest.RunResult
}

// CronJob runs maintenance and then the pipeline with a fixed trigger.
// The HTTP cron endpoint and the in-process Scheduler share it.
type CronJob struct {
	runner      Runner
	maintenance Maintenance
	trigger     ingest.Trigger
	logger      *slog.Logger
}

// NewCronJob builds a job. A nil maintenance uses NoopMaintenance.
func NewCronJob(runner Runner, maintenance Maintenance, trigger ingest.Trigger, logger *slog.Logger) *CronJob {
	if maintenance == nil {
		maintenance = NoopMaintenance
	}
	if trigger.ClientKey == "" {
		trigger.ClientKey = CronClientKey
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CronJob{runner: runner, maintenance: maintenance, trigger: trigger, logger: logger}
}

// Run executes maintenance then ingestion. A maintenance failure is
// reported but does not prevent the ingestion run.
func (j *CronJob) Run(ctx context.Context) (*Report, error) {
	report := &Report{}

	counts, err := j.maintenance.Clear(ctx)
	if err != nil {
		j.logger.Warn("maintenance failed, continuing with ingestion", slog.Any("err", err))
		report.MaintenanceError = err.Error()
	}
	if counts == nil {
		counts = map[string]int{}
	}
	report.Maintenance = counts

	res, err := j.runner.Run(ctx, j.trigger)
	report.Result = res
	return report, err
}
