package cli

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/raphaelgruber/livability/internal/models"
)

func TestFormatMetric(t *testing.T) {
	tests := []struct {
		name   string
		metric models.ContextMetric
		want   string
	}{
		{
			name:   "integer value with unit and score",
			metric: models.ContextMetric{Value: models.Ptr(4200.0), Unit: "/km²", Score: models.Ptr(72.4)},
			want:   "4200 /km²  [72]",
		},
		{
			name:   "fractional value",
			metric: models.ContextMetric{Value: models.Ptr(8.44), Unit: "µg/m³"},
			want:   "8.4 µg/m³",
		},
		{
			name:   "note without value",
			metric: models.ContextMetric{Note: "No station nearby"},
			want:   "No station nearby",
		},
		{
			name:   "nothing known",
			metric: models.ContextMetric{},
			want:   "n/a",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatMetric(tt.metric))
		})
	}
}

func TestCitySlug(t *testing.T) {
	tests := map[string]string{
		"Utrecht":             "utrecht",
		"Den Haag":            "den-haag",
		"  's-Hertogenbosch ": "s-hertogenbosch",
		"Súdwest-Fryslân":     "súdwest-fryslân",
		"Bergen (NH.)":        "bergen-nh",
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, citySlug(in))
		})
	}
}

func TestWriteCityExport(t *testing.T) {
	updated := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	list := []models.Neighborhood{
		{
			Code: "BU03440101", Name: "Binnenstad", City: "Utrecht", Type: "Buurt",
			Latitude: 52.09, Longitude: 5.12,
			PopulationDensity: models.Ptr(9100),
			LivabilityScore:   models.Ptr(68.5),
			LastUpdated:       updated,
		},
		{Code: "BU03440102", Name: "Lange Elisabethstraat", City: "Utrecht", Type: "Buurt", LastUpdated: updated},
	}

	var buf bytes.Buffer
	require.NoError(t, writeCityExport(&buf, "Utrecht", list, updated))

	var doc cityExport
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, "Utrecht", doc.City)
	require.Len(t, doc.Neighborhoods, 2)
	assert.Equal(t, "BU03440101", doc.Neighborhoods[0].Code)
	assert.Equal(t, 9100, *doc.Neighborhoods[0].PopulationDensity)
	assert.Nil(t, doc.Neighborhoods[1].PopulationDensity)
	assert.NotContains(t, buf.String(), "crime_rate")
}

func TestPrintJobPage(t *testing.T) {
	var buf bytes.Buffer
	printJobPage(&buf, models.JobPage{})
	assert.Equal(t, "No jobs found\n", buf.String())

	buf.Reset()
	printJobPage(&buf, models.JobPage{
		Items: []models.BatchJobSummary{{
			ID: "job-1", Type: models.JobTypeCityIngestion, Target: "Utrecht",
			Status: models.JobStatusProcessing, Progress: 40, CreatedAt: time.Now(),
		}},
		TotalCount: 41,
		Page:       2,
		PageSize:   20,
	})
	assert.Contains(t, buf.String(), "job-1")
	assert.Contains(t, buf.String(), "40%")
	assert.Contains(t, buf.String(), "Page 2 of 3 (41 jobs)")
}

func TestLastLogLines(t *testing.T) {
	rec := &models.BatchJobRecord{}
	assert.Nil(t, lastLogLines(rec, 3))

	rec.ExecutionLog = models.Ptr("a\nb\nc\nd\n")
	assert.Equal(t, []string{"b", "c", "d"}, lastLogLines(rec, 3))
	assert.Equal(t, []string{"a", "b", "c", "d"}, lastLogLines(rec, 10))
}

// sequenceFetcher returns the given records one after another.
func sequenceFetcher(recs ...*models.BatchJobRecord) jobFetcher {
	i := 0
	return func(context.Context, string) (*models.BatchJobRecord, error) {
		if i >= len(recs) {
			return nil, errors.New("no more states")
		}
		rec := recs[i]
		i++
		return rec, nil
	}
}

func TestPollJobCompletes(t *testing.T) {
	job := func(status models.JobStatus, progress int) *models.BatchJobRecord {
		return &models.BatchJobRecord{ID: "job-1", Type: models.JobTypeCityIngestion, Target: "Utrecht", Status: status, Progress: progress}
	}
	done := job(models.JobStatusCompleted, 100)
	done.ResultSummary = models.Ptr("Enriched 12 of 12 neighborhoods.")

	updates := make(chan struct{}, 2)
	updates <- struct{}{}
	updates <- struct{}{}

	var buf bytes.Buffer
	err := pollJob(context.Background(), &buf,
		sequenceFetcher(job(models.JobStatusProcessing, 60), done),
		job(models.JobStatusProcessing, 10), updates)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "[Processing]  10%")
	assert.Contains(t, out, "[Processing]  60%")
	assert.Contains(t, out, "[Completed] 100%")
	assert.Contains(t, out, "Enriched 12 of 12 neighborhoods.")
}

func TestPollJobFailed(t *testing.T) {
	failed := &models.BatchJobRecord{ID: "job-1", Status: models.JobStatusFailed, Error: models.Ptr("Job cancelled by user.")}

	var buf bytes.Buffer
	err := pollJob(context.Background(), &buf, sequenceFetcher(), failed, nil)
	assert.EqualError(t, err, "job failed: Job cancelled by user.")
}

func TestPollJobStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pending := &models.BatchJobRecord{ID: "job-1", Status: models.JobStatusPending}
	var buf bytes.Buffer
	require.NoError(t, pollJob(ctx, &buf, sequenceFetcher(), pending, nil))
	assert.Contains(t, buf.String(), "continues in background")
}

func TestProgressModelFinishes(t *testing.T) {
	start := &models.BatchJobRecord{ID: "job-1", Status: models.JobStatusPending}
	m := newProgressModel(sequenceFetcher(), start, nil)

	done := &models.BatchJobRecord{
		ID:            "job-1",
		Status:        models.JobStatusCompleted,
		Progress:      100,
		ResultSummary: models.Ptr("Queued 3 city ingestion jobs."),
		ExecutionLog:  models.Ptr("Job started.\nJob completed."),
	}
	next, cmd := m.Update(jobUpdateMsg{job: done})
	require.NotNil(t, cmd)

	pm := next.(progressModel)
	assert.True(t, pm.done)
	assert.NoError(t, pm.err)
	view := pm.renderContent()
	assert.Contains(t, view, "Completed")
	assert.Contains(t, view, "Queued 3 city ingestion jobs.")
	assert.Contains(t, view, "Job completed.")
}

func TestProgressModelFailure(t *testing.T) {
	start := &models.BatchJobRecord{ID: "job-1", Status: models.JobStatusProcessing}
	m := newProgressModel(sequenceFetcher(), start, nil)

	next, _ := m.Update(jobUpdateMsg{job: &models.BatchJobRecord{
		ID:     "job-1",
		Status: models.JobStatusFailed,
		Error:  models.Ptr("no neighborhoods found for Atlantis"),
	}})
	pm := next.(progressModel)
	assert.True(t, pm.done)
	assert.EqualError(t, pm.err, "no neighborhoods found for Atlantis")

	next, _ = m.Update(jobUpdateMsg{err: errors.New("connection refused")})
	assert.ErrorContains(t, next.(progressModel).err, "failed to fetch job status")
}
