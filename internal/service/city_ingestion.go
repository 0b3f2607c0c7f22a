package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/raphaelgruber/livability/internal/metrics"
	"github.com/raphaelgruber/livability/internal/models"
)

// Result summaries of the city ingestion processor.
const (
	NoNeighborhoodsSummary = "No neighborhoods found for city."
	processedSummaryFormat = "Processed %d neighborhoods."
)

// DefaultIngestionBatchSize is both the batch length and the enrichment
// parallelism within a batch.
const DefaultIngestionBatchSize = 10

// LocationReporter builds a report for a resolved location.
type LocationReporter interface {
	BuildForLocation(ctx context.Context, loc models.ResolvedLocation, radiusMeters int) (*models.ContextReport, error)
}

// CityIngestionProcessor enriches and stores every neighborhood of a city.
type CityIngestionProcessor struct {
	geo       GeoClient
	reports   LocationReporter
	store     NeighborhoodStore
	batchSize int
	radius    int
	logger    *slog.Logger
	metrics   *metrics.Collector
	now       func() time.Time
}

// NewCityIngestionProcessor creates the processor. batchSize <= 0 uses
// DefaultIngestionBatchSize.
func NewCityIngestionProcessor(
	geo GeoClient,
	reports LocationReporter,
	store NeighborhoodStore,
	batchSize int,
	logger *slog.Logger,
	collector *metrics.Collector,
) *CityIngestionProcessor {
	if batchSize <= 0 {
		batchSize = DefaultIngestionBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CityIngestionProcessor{
		geo:       geo,
		reports:   reports,
		store:     store,
		batchSize: batchSize,
		radius:    DefaultRadiusMeters,
		logger:    logger,
		metrics:   collector,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Type implements JobProcessor.
func (p *CityIngestionProcessor) Type() models.JobType {
	return models.JobTypeCityIngestion
}

// Process implements JobProcessor.
func (p *CityIngestionProcessor) Process(ctx context.Context, run *JobRun) (string, error) {
	city := run.Target()

	geos, err := p.geo.ListNeighborhoods(ctx, city)
	if err != nil {
		return "", fmt.Errorf("list neighborhoods for %s: %w", city, err)
	}
	if len(geos) == 0 {
		run.Log("No neighborhoods found for %s.", city)
		return NoNeighborhoodsSummary, nil
	}

	existing, err := p.store.ListByCity(ctx, city)
	if err != nil {
		return "", fmt.Errorf("list stored neighborhoods: %w", err)
	}
	known := make(map[string]bool, len(existing))
	for _, n := range existing {
		known[n.Code] = true
	}

	batches := int(math.Ceil(float64(len(geos)) / float64(p.batchSize)))
	run.Log("Found %d neighborhoods for %s (%d already stored); processing in %d batches.",
		len(geos), city, len(existing), batches)

	processed := 0
	for b := range batches {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		lo := b * p.batchSize
		hi := min(lo+p.batchSize, len(geos))
		rows, failures := p.enrichBatch(ctx, city, geos[lo:hi])
		if err := ctx.Err(); err != nil {
			return "", err
		}

		if len(rows) > 0 {
			if err := p.store.Upsert(ctx, rows); err != nil {
				return "", fmt.Errorf("upsert batch %d: %w", b+1, err)
			}
		}
		inserted := 0
		for _, r := range rows {
			if !known[r.Code] {
				inserted++
				known[r.Code] = true
			}
		}
		processed += len(rows)

		run.Log("Batch %d/%d: %d enriched (%d new, %d updated), %d failed.",
			b+1, batches, len(rows), inserted, len(rows)-inserted, len(failures))
		for code, ferr := range failures {
			run.Log("Neighborhood %s failed: %v", code, ferr)
		}

		if err := run.Progress(ctx, (b+1)*100/batches); err != nil {
			return "", err
		}
	}

	return fmt.Sprintf(processedSummaryFormat, processed), nil
}

// enrichBatch builds reports for one batch concurrently. Failures are
// returned per neighborhood code and never abort the batch.
func (p *CityIngestionProcessor) enrichBatch(ctx context.Context, city string, batch []models.NeighborhoodGeometry) ([]models.Neighborhood, map[string]error) {
	results := make([]*models.Neighborhood, len(batch))
	errs := make([]error, len(batch))

	var g errgroup.Group
	g.SetLimit(p.batchSize)
	for i, geo := range batch {
		g.Go(func() error {
			start := time.Now()
			report, err := p.reports.BuildForLocation(ctx, neighborhoodLocation(city, geo), p.radius)
			if err != nil {
				p.metrics.RecordFailure(metrics.OpNeighborhood, time.Since(start))
				errs[i] = err
				return nil
			}
			p.metrics.RecordTiming(metrics.OpNeighborhood, time.Since(start))
			results[i] = p.toNeighborhood(city, geo, report)
			return nil
		})
	}
	_ = g.Wait()

	var rows []models.Neighborhood
	failures := make(map[string]error)
	for i, r := range results {
		if r != nil {
			rows = append(rows, *r)
		} else if errs[i] != nil {
			failures[batch[i].Code] = errs[i]
			p.logger.Warn("neighborhood enrichment failed", "code", batch[i].Code, "error", errs[i])
		}
	}
	return rows, failures
}

func neighborhoodLocation(city string, geo models.NeighborhoodGeometry) models.ResolvedLocation {
	return models.ResolvedLocation{
		Query:            geo.Name,
		DisplayAddress:   fmt.Sprintf("%s, %s", geo.Name, city),
		Latitude:         geo.Latitude,
		Longitude:        geo.Longitude,
		MunicipalityName: models.Ptr(city),
		NeighborhoodCode: models.Ptr(geo.Code),
		NeighborhoodName: models.Ptr(geo.Name),
	}
}

// toNeighborhood copies the stat fields out of a report. WOZ values are
// reported in thousands of euros and stored in euros.
func (p *CityIngestionProcessor) toNeighborhood(city string, geo models.NeighborhoodGeometry, report *models.ContextReport) *models.Neighborhood {
	n := &models.Neighborhood{
		Code:            geo.Code,
		Name:            geo.Name,
		City:            city,
		Type:            geo.Type,
		Latitude:        geo.Latitude,
		Longitude:       geo.Longitude,
		LivabilityScore: report.CompositeScore,
		LastUpdated:     p.now(),
	}
	if m, ok := report.FindMetric("population_density"); ok && m.Value != nil {
		n.PopulationDensity = models.Ptr(int(math.Round(*m.Value)))
	}
	if m, ok := report.FindMetric("average_woz"); ok && m.Value != nil {
		n.AverageWozValue = models.Ptr(*m.Value * 1000)
	}
	if m, ok := report.FindMetric("total_crimes"); ok && m.Value != nil {
		n.CrimeRate = models.Ptr(*m.Value)
	}
	return n
}
