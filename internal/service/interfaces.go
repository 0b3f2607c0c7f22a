// Package service implements context reports and the batch job pipeline
// that enriches whole cities.
package service

import (
	"context"
	"time"

	"github.com/raphaelgruber/livability/internal/models"
)

// LocationResolver geocodes free text. A nil location with a nil error
// means no match.
type LocationResolver interface {
	Resolve(ctx context.Context, input string) (*models.ResolvedLocation, error)
}

// GeoClient lists administrative areas.
type GeoClient interface {
	ListNeighborhoods(ctx context.Context, city string) ([]models.NeighborhoodGeometry, error)
	ListMunicipalities(ctx context.Context) ([]models.Municipality, error)
}

// JobStore persists batch jobs.
type JobStore interface {
	Create(ctx context.Context, rec models.BatchJobRecord) error
	// Get returns models.ErrNotFound for unknown IDs.
	Get(ctx context.Context, id string) (*models.BatchJobRecord, error)
	List(ctx context.Context, q models.JobQuery) (models.JobPage, error)
	// ClaimNextPending atomically moves the oldest pending job to
	// processing under the claim token lease. It returns nil when the queue
	// is empty.
	ClaimNextPending(ctx context.Context, now time.Time, lease string) (*models.BatchJobRecord, error)
	// Update writes rec only if the stored status still equals expected and,
	// for a non-empty lease, the stored claim token equals lease. Otherwise
	// it returns models.ErrStaleJob.
	Update(ctx context.Context, rec models.BatchJobRecord, expected models.JobStatus, lease string) error
	// ListStale returns processing jobs whose heartbeat is older than cutoff.
	ListStale(ctx context.Context, cutoff time.Time) ([]models.BatchJobRecord, error)
}

// NeighborhoodStore persists enriched neighborhoods.
type NeighborhoodStore interface {
	ListByCity(ctx context.Context, city string) ([]models.Neighborhood, error)
	// Upsert writes the batch in one operation. Existing codes only get
	// their stat fields refreshed.
	Upsert(ctx context.Context, batch []models.Neighborhood) error
	DatasetStatus(ctx context.Context) ([]models.CityDatasetStatus, error)
}

// JobNotifier is told about every persisted job transition.
type JobNotifier interface {
	JobChanged(ctx context.Context, rec models.BatchJobRecord)
}

type nopNotifier struct{}

func (nopNotifier) JobChanged(context.Context, models.BatchJobRecord) {}
