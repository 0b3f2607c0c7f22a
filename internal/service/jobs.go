package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/raphaelgruber/livability/internal/models"
)

// Target length limits for enqueued jobs.
const (
	MinTargetLength = 2
	MaxTargetLength = 255
)

// BatchJobService is the user-facing API over the job queue.
type BatchJobService struct {
	store    JobStore
	notifier JobNotifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewBatchJobService creates the service. notifier may be nil.
func NewBatchJobService(store JobStore, notifier JobNotifier, logger *slog.Logger) *BatchJobService {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchJobService{store: store, notifier: notifier, logger: logger, now: time.Now}
}

// Enqueue creates a pending job.
func (s *BatchJobService) Enqueue(ctx context.Context, jobType models.JobType, target string) (*models.BatchJobRecord, error) {
	if _, err := models.ParseJobType(string(jobType)); err != nil {
		return nil, &ValidationError{Message: fmt.Sprintf("Unknown job type %q.", jobType)}
	}
	target = strings.TrimSpace(target)
	if n := utf8.RuneCountInString(target); n < MinTargetLength || n > MaxTargetLength {
		return nil, &ValidationError{Message: fmt.Sprintf("Target must be between %d and %d characters.", MinTargetLength, MaxTargetLength)}
	}

	job := models.NewBatchJob(uuid.NewString(), jobType, target, s.now().UTC())
	rec := job.Record()
	if err := s.store.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	s.logger.Info("job queued", "job_id", rec.ID, "type", rec.Type, "target", rec.Target)
	s.notifier.JobChanged(ctx, rec)
	return &rec, nil
}

// Get returns the full job including its execution log.
func (s *BatchJobService) Get(ctx context.Context, id string) (*models.BatchJobRecord, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return rec, nil
}

// List returns one page of job summaries.
func (s *BatchJobService) List(ctx context.Context, q models.JobQuery) (models.JobPage, error) {
	page, err := s.store.List(ctx, q.Normalize())
	if err != nil {
		return models.JobPage{}, fmt.Errorf("list jobs: %w", err)
	}
	return page, nil
}

// Retry re-queues a failed job.
func (s *BatchJobService) Retry(ctx context.Context, id string) (*models.BatchJobRecord, error) {
	return s.transition(ctx, id, "retry", (*models.BatchJob).Retry)
}

// Cancel fails a pending or processing job with the cancellation message.
func (s *BatchJobService) Cancel(ctx context.Context, id string) (*models.BatchJobRecord, error) {
	return s.transition(ctx, id, "cancel", (*models.BatchJob).Cancel)
}

func (s *BatchJobService) transition(
	ctx context.Context,
	id, action string,
	apply func(*models.BatchJob, time.Time) error,
) (*models.BatchJobRecord, error) {
	stored, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	job, err := models.JobFromRecord(*stored)
	if err != nil {
		return nil, err
	}

	from := job.Status()
	if err := apply(job, s.now().UTC()); err != nil {
		var te *models.TransitionError
		if errors.As(err, &te) {
			return nil, &ConflictError{JobID: id, Status: te.From, Action: action}
		}
		return nil, err
	}

	rec := job.Record()
	if err := s.store.Update(ctx, rec, from, stored.Lease()); err != nil {
		if errors.Is(err, models.ErrStaleJob) {
			// Lost a race with the executor; report against the fresh status.
			current := from
			if latest, gerr := s.store.Get(ctx, id); gerr == nil {
				current = latest.Status
			}
			return nil, &ConflictError{JobID: id, Status: current, Action: action}
		}
		return nil, fmt.Errorf("%s job %s: %w", action, id, err)
	}

	s.logger.Info("job "+action, "job_id", id, "from", from, "to", rec.Status)
	s.notifier.JobChanged(ctx, rec)
	return &rec, nil
}
