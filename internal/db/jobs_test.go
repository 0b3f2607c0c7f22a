package db

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/livability/internal/models"
)

func newJob(id, target string, created time.Time) models.BatchJobRecord {
	return models.NewBatchJob(id, models.JobTypeCityIngestion, target, created.UTC().Truncate(time.Millisecond)).Record()
}

func TestCreateAndGetJob(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	store := NewJobStore(testDB)

	rec := newJob("job-1", "Utrecht", time.Now())
	require.NoError(t, store.Create(ctx, rec))

	got, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, models.JobStatusPending, got.Status)
	assert.Equal(t, "Utrecht", got.Target)
	assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))
	assert.Nil(t, got.StartedAt)
	assert.Nil(t, got.Error)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)

	err = store.Create(ctx, rec)
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestClaimNextPendingOldestFirst(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	store := NewJobStore(testDB)
	now := time.Now()

	require.NoError(t, store.Create(ctx, newJob("newer", "Amersfoort", now.Add(-time.Minute))))
	require.NoError(t, store.Create(ctx, newJob("older", "Utrecht", now.Add(-time.Hour))))

	claimed, err := store.ClaimNextPending(ctx, now, "lease-1")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, "older", claimed.ID)
	assert.Equal(t, models.JobStatusProcessing, claimed.Status)
	assert.Equal(t, "lease-1", claimed.Lease())
	require.NotNil(t, claimed.StartedAt)
	require.NotNil(t, claimed.HeartbeatAt)

	claimed, err = store.ClaimNextPending(ctx, now, "lease-2")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, "newer", claimed.ID)

	claimed, err = store.ClaimNextPending(ctx, now, "lease-3")
	require.NoError(t, err)
	assert.Nil(t, claimed, "empty queue")
}

func TestUpdateJobConditional(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	store := NewJobStore(testDB)

	require.NoError(t, store.Create(ctx, newJob("j", "Utrecht", time.Now())))
	rec, err := store.ClaimNextPending(ctx, time.Now(), "lease-a")
	require.NoError(t, err)

	job, err := models.JobFromRecord(*rec)
	require.NoError(t, err)
	require.NoError(t, job.Complete("Processed 3 neighborhoods.", time.Now()))

	err = store.Update(ctx, job.Record(), models.JobStatusProcessing, "lease-b")
	assert.ErrorIs(t, err, models.ErrStaleJob, "another claim's write is rejected")

	require.NoError(t, store.Update(ctx, job.Record(), models.JobStatusProcessing, "lease-a"))

	got, err := store.Get(ctx, "j")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Nil(t, got.HeartbeatAt, "cleared fields are removed")
	require.NotNil(t, got.ResultSummary)
	assert.Equal(t, "Processed 3 neighborhoods.", *got.ResultSummary)
	assert.Nil(t, got.LeaseID, "terminal state drops the claim")

	err = store.Update(ctx, job.Record(), models.JobStatusProcessing, "")
	assert.ErrorIs(t, err, models.ErrStaleJob)

	missing := job.Record()
	missing.ID = "missing"
	err = store.Update(ctx, missing, models.JobStatusProcessing, "")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestListJobs(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	store := NewJobStore(testDB)
	base := time.Now().Add(-time.Hour)

	for i := range 12 {
		rec := newJob(fmt.Sprintf("j%02d", i), fmt.Sprintf("City %02d", i), base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, store.Create(ctx, rec))
	}

	page, err := store.List(ctx, models.JobQuery{PageSize: 5}.Normalize())
	require.NoError(t, err)
	assert.Equal(t, 12, page.TotalCount)
	require.Len(t, page.Items, 5)
	assert.Equal(t, "j11", page.Items[0].ID)

	page, err = store.List(ctx, models.JobQuery{Page: 3, PageSize: 5, Sort: models.SortTargetAsc}.Normalize())
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "City 10", page.Items[0].Target)

	page, err = store.List(ctx, models.JobQuery{Search: "city 0"}.Normalize())
	require.NoError(t, err)
	assert.Equal(t, 10, page.TotalCount)

	failed := models.JobStatusFailed
	page, err = store.List(ctx, models.JobQuery{Status: &failed}.Normalize())
	require.NoError(t, err)
	assert.Equal(t, 0, page.TotalCount)
	assert.Empty(t, page.Items)
}

func TestListStaleJobs(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	store := NewJobStore(testDB)
	now := time.Now().UTC()

	require.NoError(t, store.Create(ctx, newJob("stale", "Utrecht", now.Add(-2*time.Hour))))
	_, err := store.ClaimNextPending(ctx, now.Add(-time.Hour), "lease-stale")
	require.NoError(t, err)

	require.NoError(t, store.Create(ctx, newJob("fresh", "Zeist", now.Add(-time.Minute))))
	_, err = store.ClaimNextPending(ctx, now, "lease-fresh")
	require.NoError(t, err)

	stale, err := store.ListStale(ctx, now.Add(-15*time.Minute))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "stale", stale[0].ID)
	assert.Equal(t, "lease-stale", stale[0].Lease())
}

func TestUpdateJobRejectsOlderClaim(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	store := NewJobStore(testDB)
	now := time.Now().UTC()

	require.NoError(t, store.Create(ctx, newJob("j", "Utrecht", now.Add(-time.Hour))))
	first, err := store.ClaimNextPending(ctx, now.Add(-time.Hour), "lease-old")
	require.NoError(t, err)
	require.NotNil(t, first)

	// The lease expires and the job is handed to another worker.
	job, err := models.JobFromRecord(*first)
	require.NoError(t, err)
	require.NoError(t, job.Reclaim(now))
	require.NoError(t, store.Update(ctx, job.Record(), models.JobStatusProcessing, "lease-old"))
	second, err := store.ClaimNextPending(ctx, now, "lease-new")
	require.NoError(t, err)
	require.NotNil(t, second)

	old, err := models.JobFromRecord(*first)
	require.NoError(t, err)
	require.NoError(t, old.Complete("stale run finished", now))
	err = store.Update(ctx, old.Record(), models.JobStatusProcessing, "lease-old")
	assert.ErrorIs(t, err, models.ErrStaleJob)

	got, err := store.Get(ctx, "j")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusProcessing, got.Status)
	assert.Equal(t, "lease-new", got.Lease())
	assert.Nil(t, got.ResultSummary)
}

func TestClaimNextPendingConcurrent(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	store := NewJobStore(testDB)
	base := time.Now().Add(-time.Hour)

	const jobs, workers = 10, 6
	for i := range jobs {
		require.NoError(t, store.Create(ctx, newJob(fmt.Sprintf("j%02d", i), "Utrecht", base.Add(time.Duration(i)*time.Second))))
	}

	var (
		mu      sync.Mutex
		seen    = make(map[string]int)
		errs    []error
		claimed atomic.Int32
		wg      sync.WaitGroup
	)
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Lost transactions report an empty queue, so keep trying until
			// every job is taken.
			for attempt := 0; attempt < 100 && claimed.Load() < jobs; attempt++ {
				rec, err := store.ClaimNextPending(ctx, time.Now(), fmt.Sprintf("worker-%d-%d", w, attempt))
				mu.Lock()
				switch {
				case err != nil:
					errs = append(errs, err)
				case rec != nil:
					seen[rec.ID]++
					claimed.Add(1)
				}
				mu.Unlock()
				if err != nil {
					return
				}
			}
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	assert.Len(t, seen, jobs)
	for id, n := range seen {
		assert.Equal(t, 1, n, "job %s claimed %d times", id, n)
	}

	page, err := store.List(ctx, models.JobQuery{Status: models.Ptr(models.JobStatusPending)}.Normalize())
	require.NoError(t, err)
	assert.Zero(t, page.TotalCount)
}
