package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/livability/internal/models"
)

func TestAllCitiesQueuesOneJobPerMunicipality(t *testing.T) {
	var municipalities []models.Municipality
	for i := range 23 {
		municipalities = append(municipalities, models.Municipality{Code: fmt.Sprintf("GM%04d", i), Name: fmt.Sprintf("Gemeente %d", i)})
	}
	store := newMemJobStore()
	jobs := NewBatchJobService(store, nil, nil)
	proc := NewAllCitiesIngestionProcessor(&fakeGeo{municipalities: municipalities}, jobs)

	store.put(models.NewBatchJob("all", models.JobTypeAllCitiesIngestion, "Netherlands", time.Now().Add(-time.Hour)).Record())
	exec := NewBatchJobExecutor(store, []JobProcessor{proc}, nil, ExecutorConfig{}, nil, nil)
	require.NoError(t, exec.ProcessNextJob(context.Background()))

	rec := store.get("all")
	assert.Equal(t, models.JobStatusCompleted, rec.Status)
	assert.Equal(t, "Queued ingestion for 23 municipalities.", *rec.ResultSummary)

	cityType := models.JobTypeCityIngestion
	page, err := jobs.List(context.Background(), models.JobQuery{Type: &cityType, PageSize: 100})
	require.NoError(t, err)
	assert.Equal(t, 23, page.TotalCount)
	for _, item := range page.Items {
		assert.Equal(t, models.JobStatusPending, item.Status)
	}
}

func TestAllCitiesNoMunicipalities(t *testing.T) {
	store := newMemJobStore()
	proc := NewAllCitiesIngestionProcessor(&fakeGeo{}, NewBatchJobService(store, nil, nil))

	rec := runIngestion(t, proc, "Netherlands")
	assert.Equal(t, models.JobStatusCompleted, rec.Status)
	assert.Equal(t, NoMunicipalitiesSummary, *rec.ResultSummary)
}
