package models

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func TestJobLifecycleSuccess(t *testing.T) {
	j := NewBatchJob("job-1", JobTypeCityIngestion, "Utrecht", t0)
	assert.Equal(t, JobStatusPending, j.Status())
	assert.Equal(t, 0, j.Progress())

	require.NoError(t, j.Start(t0.Add(time.Second)))
	require.NoError(t, j.SetProgress(40, t0.Add(2*time.Second)))
	assert.Equal(t, 40, j.Progress())

	require.NoError(t, j.Complete("Processed 3 neighborhoods.", t0.Add(3*time.Second)))
	assert.Equal(t, JobStatusCompleted, j.Status())
	assert.Equal(t, 100, j.Progress())

	rec := j.Record()
	assert.Nil(t, rec.Error, "completed job never carries an error")
	require.NotNil(t, rec.ResultSummary)
	assert.Equal(t, "Processed 3 neighborhoods.", *rec.ResultSummary)
	require.NotNil(t, rec.CompletedAt)
	assert.Equal(t, t0.Add(3*time.Second), *rec.CompletedAt)
}

func TestSetProgressClamps(t *testing.T) {
	j := NewBatchJob("job-1", JobTypeCityIngestion, "Utrecht", t0)
	require.NoError(t, j.Start(t0))
	require.NoError(t, j.SetProgress(140, t0))
	assert.Equal(t, 100, j.Progress())
	require.NoError(t, j.SetProgress(-5, t0))
	assert.Equal(t, 0, j.Progress())
}

func TestRetryOnlyFromFailed(t *testing.T) {
	tests := []struct {
		name  string
		setup func(j *BatchJob)
		ok    bool
	}{
		{"pending", func(j *BatchJob) {}, false},
		{"processing", func(j *BatchJob) { _ = j.Start(t0) }, false},
		{"completed", func(j *BatchJob) { _ = j.Start(t0); _ = j.Complete("done", t0) }, false},
		{"failed", func(j *BatchJob) { _ = j.Start(t0); _ = j.Fail(JobFailedMessage, t0) }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := NewBatchJob("job-1", JobTypeCityIngestion, "Utrecht", t0)
			tt.setup(j)
			err := j.Retry(t0.Add(time.Hour))
			if !tt.ok {
				var te *TransitionError
				require.True(t, errors.As(err, &te), "expected TransitionError, got %v", err)
				assert.Equal(t, "retry", te.Action)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, JobStatusPending, j.Status())
		})
	}
}

func TestRetryResetsJob(t *testing.T) {
	j := NewBatchJob("job-1", JobTypeCityIngestion, "Utrecht", t0)
	require.NoError(t, j.Start(t0))
	j.AppendLog(t0, "boom")
	require.NoError(t, j.SetProgress(60, t0))
	require.NoError(t, j.Fail(JobFailedMessage, t0))

	later := t0.Add(time.Hour)
	require.NoError(t, j.Retry(later))

	rec := j.Record()
	assert.Equal(t, JobStatusPending, rec.Status)
	assert.Equal(t, 0, rec.Progress)
	assert.Nil(t, rec.Error)
	assert.Nil(t, rec.ExecutionLog)
	assert.Nil(t, rec.ResultSummary)
	assert.Nil(t, rec.CompletedAt)
	assert.Equal(t, later, rec.CreatedAt, "retry re-queues at the back")
}

func TestCancel(t *testing.T) {
	tests := []struct {
		name  string
		setup func(j *BatchJob)
		ok    bool
	}{
		{"pending", func(j *BatchJob) {}, true},
		{"processing", func(j *BatchJob) { _ = j.Start(t0) }, true},
		{"completed", func(j *BatchJob) { _ = j.Start(t0); _ = j.Complete("done", t0) }, false},
		{"failed", func(j *BatchJob) { _ = j.Start(t0); _ = j.Fail(JobFailedMessage, t0) }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := NewBatchJob("job-1", JobTypeCityIngestion, "Utrecht", t0)
			tt.setup(j)
			err := j.Cancel(t0)
			if !tt.ok {
				var te *TransitionError
				require.ErrorAs(t, err, &te)
				return
			}
			require.NoError(t, err)
			rec := j.Record()
			assert.Equal(t, JobStatusFailed, rec.Status)
			require.NotNil(t, rec.Error)
			assert.Equal(t, JobCancelledMessage, *rec.Error)
		})
	}
}

func TestAppendLogFormat(t *testing.T) {
	j := NewBatchJob("job-1", JobTypeCityIngestion, "Utrecht", t0)
	j.AppendLog(t0, "first")
	j.AppendLog(t0.Add(time.Minute), "second")

	assert.Equal(t, []string{
		"[2024-05-01 10:00:00] first",
		"[2024-05-01 10:01:00] second",
	}, j.LogLines())
}

func TestRecordRoundTrip(t *testing.T) {
	j := NewBatchJob("job-1", JobTypeAllCitiesIngestion, "all", t0)
	require.NoError(t, j.Start(t0.Add(time.Second)))
	require.NoError(t, j.SetProgress(50, t0.Add(2*time.Second)))
	j.AppendLog(t0, "working")

	back, err := JobFromRecord(j.Record())
	require.NoError(t, err)
	assert.Equal(t, j, back)
}

func TestLeaseFollowsProcessingState(t *testing.T) {
	started := t0.Add(time.Second)
	rec := BatchJobRecord{
		ID: "job-1", Type: JobTypeCityIngestion, Target: "Utrecht", Status: JobStatusProcessing,
		CreatedAt: t0, StartedAt: &started, HeartbeatAt: &started, LeaseID: Ptr("lease-a"),
	}

	j, err := JobFromRecord(rec)
	require.NoError(t, err)
	assert.Equal(t, "lease-a", j.Lease())
	assert.Equal(t, "lease-a", j.Record().Lease())

	require.NoError(t, j.Complete("done", t0.Add(time.Minute)))
	assert.Empty(t, j.Lease())
	assert.Nil(t, j.Record().LeaseID, "terminal records drop the claim")
}

func TestFailRecord(t *testing.T) {
	hb := t0.Add(-time.Hour)
	rec := BatchJobRecord{
		ID: "job-1", Status: JobStatusProcessing, Progress: 40, CreatedAt: t0,
		HeartbeatAt: &hb, LeaseID: Ptr("lease-a"), ExecutionLog: Ptr("[2024-05-01 09:00:00] Job started."),
	}

	failed := FailRecord(rec, "invalid job record", t0)
	assert.Equal(t, JobStatusFailed, failed.Status)
	require.NotNil(t, failed.Error)
	assert.Equal(t, JobFailedMessage, *failed.Error)
	assert.Nil(t, failed.HeartbeatAt)
	assert.Nil(t, failed.LeaseID)
	assert.Equal(t, 40, failed.Progress)
	assert.Contains(t, *failed.ExecutionLog, "[2024-05-01 10:00:00] Job failed: invalid job record")

	back, err := JobFromRecord(failed)
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, back.Status())
}

func TestJobFromRecordRejectsIllegalStates(t *testing.T) {
	now := t0
	tests := []struct {
		name string
		rec  BatchJobRecord
	}{
		{"completed with error", BatchJobRecord{ID: "a", Status: JobStatusCompleted, Error: Ptr("x"), StartedAt: &now, CompletedAt: &now}},
		{"completed without timestamps", BatchJobRecord{ID: "b", Status: JobStatusCompleted}},
		{"processing without start", BatchJobRecord{ID: "c", Status: JobStatusProcessing}},
		{"failed without completion", BatchJobRecord{ID: "d", Status: JobStatusFailed, Error: Ptr("x")}},
		{"unknown status", BatchJobRecord{ID: "e", Status: "Paused"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := JobFromRecord(tt.rec)
			require.ErrorIs(t, err, ErrInvalidRecord)
		})
	}
}

func TestJobQueryNormalize(t *testing.T) {
	q := JobQuery{Page: 0, PageSize: 500, Sort: "bogus", Search: "  amster "}.Normalize()
	assert.Equal(t, 1, q.Page)
	assert.Equal(t, MaxPageSize, q.PageSize)
	assert.Equal(t, SortCreatedAtDesc, q.Sort)
	assert.Equal(t, "amster", q.Search)

	field, desc := JobQuery{Sort: SortTargetAsc}.SortField()
	assert.Equal(t, "target", field)
	assert.False(t, desc)
}

func TestParseJobType(t *testing.T) {
	jt, err := ParseJobType("cityingestion")
	require.NoError(t, err)
	assert.Equal(t, JobTypeCityIngestion, jt)

	_, err = ParseJobType("reindex")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "reindex"))
}
