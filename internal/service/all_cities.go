package service

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/livability/internal/models"
)

// Result summaries of the all-cities processor.
const NoMunicipalitiesSummary = "No municipalities found."

// JobEnqueuer queues new jobs.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, jobType models.JobType, target string) (*models.BatchJobRecord, error)
}

// AllCitiesIngestionProcessor queues one city ingestion per municipality.
type AllCitiesIngestionProcessor struct {
	geo  GeoClient
	jobs JobEnqueuer
}

// NewAllCitiesIngestionProcessor creates the processor.
func NewAllCitiesIngestionProcessor(geo GeoClient, jobs JobEnqueuer) *AllCitiesIngestionProcessor {
	return &AllCitiesIngestionProcessor{geo: geo, jobs: jobs}
}

// Type implements JobProcessor.
func (p *AllCitiesIngestionProcessor) Type() models.JobType {
	return models.JobTypeAllCitiesIngestion
}

// Process implements JobProcessor.
func (p *AllCitiesIngestionProcessor) Process(ctx context.Context, run *JobRun) (string, error) {
	municipalities, err := p.geo.ListMunicipalities(ctx)
	if err != nil {
		return "", fmt.Errorf("list municipalities: %w", err)
	}
	if len(municipalities) == 0 {
		run.Log("No municipalities returned by the geo service.")
		return NoMunicipalitiesSummary, nil
	}

	run.Log("Queueing ingestion for %d municipalities.", len(municipalities))
	for i, m := range municipalities {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if _, err := p.jobs.Enqueue(ctx, models.JobTypeCityIngestion, m.Name); err != nil {
			return "", fmt.Errorf("enqueue %s: %w", m.Name, err)
		}
		if (i+1)%10 == 0 || i == len(municipalities)-1 {
			if err := run.Progress(ctx, (i+1)*100/len(municipalities)); err != nil {
				return "", err
			}
		}
	}
	return fmt.Sprintf("Queued ingestion for %d municipalities.", len(municipalities)), nil
}
