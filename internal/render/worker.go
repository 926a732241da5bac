package render

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/parcelworks/cma-engine/internal/model"
)

// JobStore is the queue slice of the persistence layer the worker needs.
type JobStore interface {
	DueRenderJobs(ctx context.Context, limit int) ([]model.RenderJob, error)
	CompleteRenderJob(ctx context.Context, id string) error
	RescheduleRenderJob(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error
	GetReport(ctx context.Context, websiteID, reportID string) (*model.MarketReport, error)
}

const baseRetryDelay = time.Minute

// Worker polls the render queue and dispatches due jobs. Failed jobs are
// rescheduled with exponential backoff until their retry budget runs out.
type Worker struct {
	store        JobStore
	renderer     Renderer
	pollInterval time.Duration
	concurrency  int
	batchSize    int
}

// NewWorker creates a queue worker.
func NewWorker(store JobStore, renderer Renderer, pollInterval time.Duration, concurrency int) *Worker {
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	if concurrency <= 0 {
		concurrency = 2
	}
	return &Worker{
		store:        store,
		renderer:     renderer,
		pollInterval: pollInterval,
		concurrency:  concurrency,
		batchSize:    20,
	}
}

// Run polls until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		if err := w.RunOnce(ctx); err != nil {
			zap.L().Error("render: queue pass failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce drains one batch of due jobs.
func (w *Worker) RunOnce(ctx context.Context) error {
	jobs, err := w.store.DueRenderJobs(ctx, w.batchSize)
	if err != nil {
		return eris.Wrap(err, "render: list due jobs")
	}
	if len(jobs) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	for _, job := range jobs {
		job := job
		g.Go(func() error {
			w.process(gctx, job)
			return nil
		})
	}
	return g.Wait()
}

// process renders one job. Errors reschedule rather than fail the pass; a
// job past its retry budget is logged and dropped from the queue.
func (w *Worker) process(ctx context.Context, job model.RenderJob) {
	report, err := w.store.GetReport(ctx, job.WebsiteID, job.ReportID)
	if err != nil {
		w.handleFailure(ctx, job, eris.Wrap(err, "render: load report"))
		return
	}

	if err := w.renderer.Render(ctx, report); err != nil {
		w.handleFailure(ctx, job, err)
		return
	}

	if err := w.store.CompleteRenderJob(ctx, job.ID); err != nil {
		zap.L().Error("render: mark job done",
			zap.String("job_id", job.ID),
			zap.Error(err),
		)
		return
	}

	zap.L().Info("render: job done",
		zap.String("job_id", job.ID),
		zap.String("report_id", job.ReportID),
		zap.Int("retry_count", job.RetryCount),
	)
}

// handleFailure reschedules with backoff. The reschedule increments
// retry_count; once it reaches the budget the due-jobs query stops
// returning the job, so the record stays behind with its last error.
func (w *Worker) handleFailure(ctx context.Context, job model.RenderJob, cause error) {
	next := time.Now().UTC().Add(nextRetryDelay(job.RetryCount))
	if err := w.store.RescheduleRenderJob(ctx, job.ID, next, eris.ToString(cause, false)); err != nil {
		zap.L().Error("render: reschedule job", zap.String("job_id", job.ID), zap.Error(err))
		return
	}

	if job.RetryCount+1 >= job.MaxRetries {
		zap.L().Error("render: job exhausted retries",
			zap.String("job_id", job.ID),
			zap.String("report_id", job.ReportID),
			zap.Int("retry_count", job.RetryCount+1),
			zap.Error(cause),
		)
		return
	}

	zap.L().Warn("render: job rescheduled",
		zap.String("job_id", job.ID),
		zap.Int("retry_count", job.RetryCount+1),
		zap.Time("next_retry_at", next),
		zap.Error(cause),
	)
}

// nextRetryDelay doubles per attempt: 1m, 2m, 4m, ...
func nextRetryDelay(retryCount int) time.Duration {
	delay := baseRetryDelay
	for i := 0; i < retryCount; i++ {
		delay *= 2
	}
	return delay
}
