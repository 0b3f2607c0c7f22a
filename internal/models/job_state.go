package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Fixed user-facing job messages.
const (
	JobCancelledMessage   = "Job cancelled by user."
	JobFailedMessage      = "Job failed due to an internal error."
	JobInterruptedMessage = "Job was interrupted before completion."
)

// JobState is the state-specific part of a batch job. Each implementation
// carries only the fields valid in that state.
type JobState interface {
	Status() JobStatus
	isJobState()
}

// PendingState is a queued job.
type PendingState struct{}

// ProcessingState is a job claimed by an executor. LeaseID identifies the
// claim; writes made under an older claim are rejected by the store.
type ProcessingState struct {
	StartedAt   time.Time
	HeartbeatAt time.Time
	Progress    int
	LeaseID     string
}

// CompletedState is a successfully finished job.
type CompletedState struct {
	StartedAt     time.Time
	CompletedAt   time.Time
	ResultSummary string
}

// FailedState is a job that errored or was cancelled.
type FailedState struct {
	StartedAt   *time.Time
	CompletedAt time.Time
	Progress    int
	Error       string
}

func (PendingState) Status() JobStatus    { return JobStatusPending }
func (ProcessingState) Status() JobStatus { return JobStatusProcessing }
func (CompletedState) Status() JobStatus  { return JobStatusCompleted }
func (FailedState) Status() JobStatus     { return JobStatusFailed }

func (PendingState) isJobState()    {}
func (ProcessingState) isJobState() {}
func (CompletedState) isJobState()  {}
func (FailedState) isJobState()     {}

// TransitionError reports an action that is not allowed from the job's
// current state.
type TransitionError struct {
	Action string
	From   JobStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s a job in status %s", e.Action, e.From)
}

// ErrInvalidRecord is returned when a persisted record describes an
// impossible state.
var ErrInvalidRecord = errors.New("invalid job record")

// BatchJob is the in-memory form of a job.
type BatchJob struct {
	ID           string
	Type         JobType
	Target       string
	CreatedAt    time.Time
	ExecutionLog string
	State        JobState
}

// NewBatchJob creates a pending job.
func NewBatchJob(id string, jobType JobType, target string, now time.Time) *BatchJob {
	return &BatchJob{
		ID:        id,
		Type:      jobType,
		Target:    target,
		CreatedAt: now,
		State:     PendingState{},
	}
}

// Status is the status of the current state.
func (j *BatchJob) Status() JobStatus {
	return j.State.Status()
}

// Progress returns the completion percentage implied by the state.
func (j *BatchJob) Progress() int {
	switch s := j.State.(type) {
	case ProcessingState:
		return s.Progress
	case CompletedState:
		return 100
	case FailedState:
		return s.Progress
	}
	return 0
}

// AppendLog adds a timestamped line to the execution log.
func (j *BatchJob) AppendLog(now time.Time, msg string) {
	j.ExecutionLog = appendLogLine(j.ExecutionLog, now, msg)
}

func appendLogLine(log string, now time.Time, msg string) string {
	line := fmt.Sprintf("[%s] %s", now.UTC().Format("2006-01-02 15:04:05"), msg)
	if log == "" {
		return line
	}
	return log + "\n" + line
}

// Lease returns the claim token while the job is processing.
func (j *BatchJob) Lease() string {
	if s, ok := j.State.(ProcessingState); ok {
		return s.LeaseID
	}
	return ""
}

// Start moves a pending job to processing.
func (j *BatchJob) Start(now time.Time) error {
	if _, ok := j.State.(PendingState); !ok {
		return &TransitionError{Action: "start", From: j.Status()}
	}
	j.State = ProcessingState{StartedAt: now, HeartbeatAt: now}
	return nil
}

// SetProgress records progress of a processing job and refreshes its heartbeat.
func (j *BatchJob) SetProgress(progress int, now time.Time) error {
	s, ok := j.State.(ProcessingState)
	if !ok {
		return &TransitionError{Action: "report progress on", From: j.Status()}
	}
	s.Progress = max(0, min(100, progress))
	s.HeartbeatAt = now
	j.State = s
	return nil
}

// Complete finishes a processing job.
func (j *BatchJob) Complete(summary string, now time.Time) error {
	s, ok := j.State.(ProcessingState)
	if !ok {
		return &TransitionError{Action: "complete", From: j.Status()}
	}
	j.State = CompletedState{StartedAt: s.StartedAt, CompletedAt: now, ResultSummary: summary}
	return nil
}

// Fail marks a processing job as failed with a user-facing message.
func (j *BatchJob) Fail(message string, now time.Time) error {
	s, ok := j.State.(ProcessingState)
	if !ok {
		return &TransitionError{Action: "fail", From: j.Status()}
	}
	started := s.StartedAt
	j.State = FailedState{StartedAt: &started, CompletedAt: now, Progress: s.Progress, Error: message}
	return nil
}

// Cancel fails a pending or processing job with the cancellation message.
func (j *BatchJob) Cancel(now time.Time) error {
	switch s := j.State.(type) {
	case PendingState:
		j.State = FailedState{CompletedAt: now, Error: JobCancelledMessage}
	case ProcessingState:
		started := s.StartedAt
		j.State = FailedState{StartedAt: &started, CompletedAt: now, Progress: s.Progress, Error: JobCancelledMessage}
	default:
		return &TransitionError{Action: "cancel", From: j.Status()}
	}
	j.AppendLog(now, "Job cancelled by user.")
	return nil
}

// Retry re-queues a failed job at the back of the queue.
func (j *BatchJob) Retry(now time.Time) error {
	if _, ok := j.State.(FailedState); !ok {
		return &TransitionError{Action: "retry", From: j.Status()}
	}
	j.State = PendingState{}
	j.ExecutionLog = ""
	j.CreatedAt = now
	return nil
}

// Reclaim returns a processing job whose lease expired to the queue.
func (j *BatchJob) Reclaim(now time.Time) error {
	if _, ok := j.State.(ProcessingState); !ok {
		return &TransitionError{Action: "reclaim", From: j.Status()}
	}
	j.State = PendingState{}
	j.AppendLog(now, "Lease expired; job returned to the queue.")
	return nil
}

// Record flattens the job for storage.
func (j *BatchJob) Record() BatchJobRecord {
	rec := BatchJobRecord{
		ID:        j.ID,
		Type:      j.Type,
		Target:    j.Target,
		Status:    j.Status(),
		Progress:  j.Progress(),
		CreatedAt: j.CreatedAt,
	}
	if j.ExecutionLog != "" {
		rec.ExecutionLog = Ptr(j.ExecutionLog)
	}
	switch s := j.State.(type) {
	case ProcessingState:
		rec.StartedAt = Ptr(s.StartedAt)
		rec.HeartbeatAt = Ptr(s.HeartbeatAt)
		if s.LeaseID != "" {
			rec.LeaseID = Ptr(s.LeaseID)
		}
	case CompletedState:
		rec.StartedAt = Ptr(s.StartedAt)
		rec.CompletedAt = Ptr(s.CompletedAt)
		rec.ResultSummary = Ptr(s.ResultSummary)
	case FailedState:
		rec.StartedAt = clonePtr(s.StartedAt)
		rec.CompletedAt = Ptr(s.CompletedAt)
		rec.Error = Ptr(s.Error)
	}
	return rec
}

// JobFromRecord rebuilds the in-memory job from its persisted form.
func JobFromRecord(rec BatchJobRecord) (*BatchJob, error) {
	j := &BatchJob{
		ID:        rec.ID,
		Type:      rec.Type,
		Target:    rec.Target,
		CreatedAt: rec.CreatedAt,
	}
	if rec.ExecutionLog != nil {
		j.ExecutionLog = *rec.ExecutionLog
	}

	switch rec.Status {
	case JobStatusPending:
		j.State = PendingState{}
	case JobStatusProcessing:
		if rec.StartedAt == nil {
			return nil, fmt.Errorf("%w: job %s is processing without a start time", ErrInvalidRecord, rec.ID)
		}
		hb := *rec.StartedAt
		if rec.HeartbeatAt != nil {
			hb = *rec.HeartbeatAt
		}
		j.State = ProcessingState{StartedAt: *rec.StartedAt, HeartbeatAt: hb, Progress: rec.Progress, LeaseID: rec.Lease()}
	case JobStatusCompleted:
		if rec.Error != nil {
			return nil, fmt.Errorf("%w: completed job %s has an error", ErrInvalidRecord, rec.ID)
		}
		if rec.StartedAt == nil || rec.CompletedAt == nil {
			return nil, fmt.Errorf("%w: completed job %s is missing timestamps", ErrInvalidRecord, rec.ID)
		}
		summary := ""
		if rec.ResultSummary != nil {
			summary = *rec.ResultSummary
		}
		j.State = CompletedState{StartedAt: *rec.StartedAt, CompletedAt: *rec.CompletedAt, ResultSummary: summary}
	case JobStatusFailed:
		if rec.CompletedAt == nil {
			return nil, fmt.Errorf("%w: failed job %s has no completion time", ErrInvalidRecord, rec.ID)
		}
		msg := JobFailedMessage
		if rec.Error != nil {
			msg = *rec.Error
		}
		j.State = FailedState{
			StartedAt:   clonePtr(rec.StartedAt),
			CompletedAt: *rec.CompletedAt,
			Progress:    rec.Progress,
			Error:       msg,
		}
	default:
		return nil, fmt.Errorf("%w: job %s has unknown status %q", ErrInvalidRecord, rec.ID, rec.Status)
	}
	return j, nil
}

// FailRecord marks a processing record that cannot be decoded as failed. It
// works on the flat form so a broken record can still leave Processing.
func FailRecord(rec BatchJobRecord, detail string, now time.Time) BatchJobRecord {
	log := ""
	if rec.ExecutionLog != nil {
		log = *rec.ExecutionLog
	}
	rec.Status = JobStatusFailed
	rec.Error = Ptr(JobFailedMessage)
	rec.ResultSummary = nil
	rec.CompletedAt = Ptr(now)
	rec.HeartbeatAt = nil
	rec.LeaseID = nil
	rec.ExecutionLog = Ptr(appendLogLine(log, now, "Job failed: "+detail))
	return rec
}

// LogLines splits the execution log into lines.
func (j *BatchJob) LogLines() []string {
	if j.ExecutionLog == "" {
		return nil
	}
	return strings.Split(j.ExecutionLog, "\n")
}
