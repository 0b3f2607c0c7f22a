package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/raphaelgruber/livability/internal/metrics"
	"github.com/raphaelgruber/livability/internal/models"
)

// DefaultLeaseTimeout is how long a processing job may go without a
// heartbeat before another executor may reclaim it.
const DefaultLeaseTimeout = 15 * time.Minute

// JobProcessor runs jobs of one type.
type JobProcessor interface {
	Type() models.JobType
	Process(ctx context.Context, run *JobRun) (summary string, err error)
}

// JobRun is a processor's handle on the job it is running. Its writes
// carry the claim token, so they fail once the job was reclaimed or
// cancelled and claimed again.
type JobRun struct {
	lease    string
	job      *models.BatchJob
	store    JobStore
	notifier JobNotifier
	now      func() time.Time
}

// ID returns the job ID.
func (r *JobRun) ID() string { return r.job.ID }

// Target returns the job target.
func (r *JobRun) Target() string { return r.job.Target }

// Log appends a line to the execution log. It is persisted with the next
// progress update or the final state.
func (r *JobRun) Log(format string, args ...any) {
	r.job.AppendLog(r.now(), fmt.Sprintf(format, args...))
}

// Progress persists progress and the execution log. It returns
// models.ErrStaleJob when the job was cancelled or reclaimed meanwhile;
// processors must stop when that happens.
func (r *JobRun) Progress(ctx context.Context, percent int) error {
	if err := r.job.SetProgress(percent, r.now()); err != nil {
		return err
	}
	return r.save(ctx)
}

func (r *JobRun) save(ctx context.Context) error {
	rec := r.job.Record()
	if err := r.store.Update(ctx, rec, models.JobStatusProcessing, r.lease); err != nil {
		return err
	}
	r.notifier.JobChanged(ctx, rec)
	return nil
}

// ExecutorConfig tunes the executor.
type ExecutorConfig struct {
	LeaseTimeout time.Duration
}

// BatchJobExecutor claims pending jobs and runs them through their
// processor.
type BatchJobExecutor struct {
	store      JobStore
	processors map[models.JobType]JobProcessor
	notifier   JobNotifier
	cfg        ExecutorConfig
	logger     *slog.Logger
	metrics    *metrics.Collector
	now        func() time.Time
}

// NewBatchJobExecutor creates an executor for the given processors.
func NewBatchJobExecutor(
	store JobStore,
	processors []JobProcessor,
	notifier JobNotifier,
	cfg ExecutorConfig,
	logger *slog.Logger,
	collector *metrics.Collector,
) *BatchJobExecutor {
	if cfg.LeaseTimeout <= 0 {
		cfg.LeaseTimeout = DefaultLeaseTimeout
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	byType := make(map[models.JobType]JobProcessor, len(processors))
	for _, p := range processors {
		byType[p.Type()] = p
	}
	return &BatchJobExecutor{
		store:      store,
		processors: byType,
		notifier:   notifier,
		cfg:        cfg,
		logger:     logger,
		metrics:    collector,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// ProcessNextJob runs at most one pending job. It is a no-op when the queue
// is empty. Errors are returned only for storage failures; processor
// failures are recorded on the job.
func (e *BatchJobExecutor) ProcessNextJob(ctx context.Context) error {
	_, err := e.processNext(ctx)
	return err
}

func (e *BatchJobExecutor) processNext(ctx context.Context) (bool, error) {
	if err := e.ReclaimStale(ctx); err != nil {
		e.logger.Warn("reclaim stale jobs failed", "error", err)
	}

	lease := uuid.NewString()
	rec, err := e.store.ClaimNextPending(ctx, e.now(), lease)
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	if rec == nil {
		return false, nil
	}

	job, err := models.JobFromRecord(*rec)
	if err != nil {
		e.failUnreadable(ctx, *rec, lease, err)
		return true, nil
	}
	e.logger.Info("job started", "job_id", job.ID, "type", job.Type, "target", job.Target)

	start := time.Now()
	run := &JobRun{lease: lease, job: job, store: e.store, notifier: e.notifier, now: e.now}
	run.Log("Job started.")
	if err := run.save(ctx); err != nil {
		if errors.Is(err, models.ErrStaleJob) {
			e.logger.Info("job changed externally before it started", "job_id", job.ID)
			return true, nil
		}
		e.logger.Warn("failed to save job start", "job_id", job.ID, "error", err)
	}

	summary, procErr := e.runProcessor(ctx, run)
	e.finish(ctx, run, summary, procErr, time.Since(start))
	return true, nil
}

// failUnreadable moves a record that cannot be decoded out of Processing so
// it is neither stuck nor reclaimed forever.
func (e *BatchJobExecutor) failUnreadable(ctx context.Context, rec models.BatchJobRecord, lease string, cause error) {
	e.logger.Error("job record is unreadable; marking it failed", "job_id", rec.ID, "error", cause)
	failed := models.FailRecord(rec, cause.Error(), e.now())
	if err := e.store.Update(ctx, failed, models.JobStatusProcessing, lease); err != nil {
		if !errors.Is(err, models.ErrStaleJob) {
			e.logger.Error("failed to save unreadable job as failed", "job_id", rec.ID, "error", err)
		}
		return
	}
	e.notifier.JobChanged(ctx, failed)
}

func (e *BatchJobExecutor) runProcessor(ctx context.Context, run *JobRun) (summary string, err error) {
	proc, ok := e.processors[run.job.Type]
	if !ok {
		return "", fmt.Errorf("no processor registered for job type %s", run.job.Type)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor panic: %v\n%s", r, debug.Stack())
		}
	}()
	return proc.Process(ctx, run)
}

// finish records the terminal state. Writes are conditional on the job
// still being Processing under this run's lease, so neither a concurrent
// cancel nor a newer claim is overwritten.
func (e *BatchJobExecutor) finish(ctx context.Context, run *JobRun, summary string, procErr error, elapsed time.Duration) {
	// The final write must happen even when ctx was cancelled.
	writeCtx := context.WithoutCancel(ctx)
	job := run.job
	now := e.now()

	switch {
	case procErr == nil:
		job.AppendLog(now, "Job completed: "+summary)
		_ = job.Complete(summary, now)
		e.metrics.RecordTiming(metrics.OpJobRun, elapsed)
	case errors.Is(procErr, models.ErrStaleJob):
		e.logger.Info("job changed externally; abandoning run", "job_id", job.ID)
		e.metrics.RecordFailure(metrics.OpJobRun, elapsed)
		return
	case ctx.Err() != nil:
		job.AppendLog(now, fmt.Sprintf("Job interrupted: %v", procErr))
		_ = job.Fail(models.JobInterruptedMessage, now)
		e.metrics.RecordFailure(metrics.OpJobRun, elapsed)
	default:
		job.AppendLog(now, fmt.Sprintf("Job failed: %v", procErr))
		_ = job.Fail(models.JobFailedMessage, now)
		e.metrics.RecordFailure(metrics.OpJobRun, elapsed)
	}

	rec := job.Record()
	if err := e.store.Update(writeCtx, rec, models.JobStatusProcessing, run.lease); err != nil {
		if errors.Is(err, models.ErrStaleJob) {
			e.logger.Info("job changed externally before completion was saved", "job_id", job.ID)
			return
		}
		e.logger.Error("failed to save job result", "job_id", job.ID, "error", err)
		return
	}
	e.notifier.JobChanged(writeCtx, rec)

	if procErr != nil {
		e.logger.Error("job failed", "job_id", job.ID, "error", procErr)
	} else {
		e.logger.Info("job completed", "job_id", job.ID, "summary", summary, "duration", elapsed)
	}
}

// ReclaimStale returns processing jobs with an expired lease to the queue.
func (e *BatchJobExecutor) ReclaimStale(ctx context.Context) error {
	stale, err := e.store.ListStale(ctx, e.now().Add(-e.cfg.LeaseTimeout))
	if err != nil {
		return fmt.Errorf("list stale jobs: %w", err)
	}
	for _, rec := range stale {
		job, err := models.JobFromRecord(rec)
		if err != nil {
			e.failUnreadable(ctx, rec, rec.Lease(), err)
			continue
		}
		if err := job.Reclaim(e.now()); err != nil {
			continue
		}
		updated := job.Record()
		if err := e.store.Update(ctx, updated, models.JobStatusProcessing, rec.Lease()); err != nil {
			if errors.Is(err, models.ErrStaleJob) {
				continue
			}
			return fmt.Errorf("reclaim job %s: %w", rec.ID, err)
		}
		e.logger.Warn("reclaimed job with expired lease", "job_id", rec.ID)
		e.notifier.JobChanged(ctx, updated)
	}
	return nil
}

// Run polls for jobs until ctx is cancelled. The queue is drained before
// waiting for the next tick.
func (e *BatchJobExecutor) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		processed, err := e.processNext(ctx)
		if err != nil {
			e.logger.Error("process next job", "error", err)
		}
		if processed && err == nil && ctx.Err() == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
