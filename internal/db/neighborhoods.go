package db

import (
	"context"
	"fmt"
	"time"

	"github.com/surrealdb/surrealdb.go"

	"github.com/raphaelgruber/livability/internal/models"
)

type neighborhoodRow struct {
	Code              string    `json:"code"`
	Name              string    `json:"name"`
	City              string    `json:"city"`
	Type              string    `json:"type"`
	Latitude          float64   `json:"latitude"`
	Longitude         float64   `json:"longitude"`
	PopulationDensity *int      `json:"population_density,omitempty"`
	AverageWozValue   *float64  `json:"average_woz_value,omitempty"`
	CrimeRate         *float64  `json:"crime_rate,omitempty"`
	LivabilityScore   *float64  `json:"livability_score,omitempty"`
	LastUpdated       time.Time `json:"last_updated"`
}

func (r neighborhoodRow) neighborhood() models.Neighborhood {
	return models.Neighborhood{
		Code:              r.Code,
		Name:              r.Name,
		City:              r.City,
		Type:              r.Type,
		Latitude:          r.Latitude,
		Longitude:         r.Longitude,
		PopulationDensity: r.PopulationDensity,
		AverageWozValue:   r.AverageWozValue,
		CrimeRate:         r.CrimeRate,
		LivabilityScore:   r.LivabilityScore,
		LastUpdated:       r.LastUpdated.UTC(),
	}
}

// ListNeighborhoodsByCity returns the stored neighborhoods of a city,
// matched case-insensitively.
func (c *Client) ListNeighborhoodsByCity(ctx context.Context, city string) ([]models.Neighborhood, error) {
	results, err := surrealdb.Query[[]neighborhoodRow](ctx, c.db, `
		SELECT * FROM neighborhood
		WHERE string::lowercase(city) = string::lowercase($city)
		ORDER BY code
	`, map[string]any{"city": city})
	if err != nil {
		return nil, fmt.Errorf("list neighborhoods: %w", err)
	}
	out := []models.Neighborhood{}
	if results != nil && len(*results) > 0 {
		for _, row := range (*results)[0].Result {
			out = append(out, row.neighborhood())
		}
	}
	return out, nil
}

// UpsertNeighborhoods writes a batch in a single query. New codes are
// inserted as given; existing codes keep their identity fields and only get
// the stat fields refreshed.
func (c *Client) UpsertNeighborhoods(ctx context.Context, batch []models.Neighborhood) error {
	if len(batch) == 0 {
		return nil
	}
	rows := make([]map[string]any, len(batch))
	for i, n := range batch {
		row := map[string]any{
			"code":         n.Code,
			"name":         n.Name,
			"city":         n.City,
			"type":         n.Type,
			"latitude":     n.Latitude,
			"longitude":    n.Longitude,
			"last_updated": n.LastUpdated,
		}
		if n.PopulationDensity != nil {
			row["population_density"] = *n.PopulationDensity
		}
		if n.AverageWozValue != nil {
			row["average_woz_value"] = *n.AverageWozValue
		}
		if n.CrimeRate != nil {
			row["crime_rate"] = *n.CrimeRate
		}
		if n.LivabilityScore != nil {
			row["livability_score"] = *n.LivabilityScore
		}
		rows[i] = row
	}

	_, err := surrealdb.Query[any](ctx, c.db, `
		BEGIN TRANSACTION;
		FOR $n IN $rows {
			UPSERT type::record("neighborhood", $n.code) SET
				code = $n.code,
				name = name ?? $n.name,
				city = city ?? $n.city,
				type = type ?? $n.type,
				latitude = latitude ?? $n.latitude,
				longitude = longitude ?? $n.longitude,
				population_density = $n.population_density,
				average_woz_value = $n.average_woz_value,
				crime_rate = $n.crime_rate,
				livability_score = $n.livability_score,
				last_updated = $n.last_updated;
		};
		COMMIT TRANSACTION;
	`, map[string]any{"rows": rows})
	if err != nil {
		return fmt.Errorf("upsert %d neighborhoods: %w", len(batch), wrapQueryError(err))
	}
	return nil
}

// NeighborhoodDatasetStatus returns per-city row counts and the latest update.
func (c *Client) NeighborhoodDatasetStatus(ctx context.Context) ([]models.CityDatasetStatus, error) {
	type statusRow struct {
		City              string     `json:"city"`
		NeighborhoodCount int        `json:"neighborhood_count"`
		LastUpdated       *time.Time `json:"last_updated,omitempty"`
	}
	results, err := surrealdb.Query[[]statusRow](ctx, c.db, `
		SELECT city, count() AS neighborhood_count, time::max(last_updated) AS last_updated
		FROM neighborhood
		GROUP BY city
		ORDER BY city
	`, nil)
	if err != nil {
		return nil, fmt.Errorf("dataset status: %w", err)
	}
	out := []models.CityDatasetStatus{}
	if results != nil && len(*results) > 0 {
		for _, r := range (*results)[0].Result {
			out = append(out, models.CityDatasetStatus{
				City:              r.City,
				NeighborhoodCount: r.NeighborhoodCount,
				LastUpdated:       utcPtr(r.LastUpdated),
			})
		}
	}
	return out, nil
}

// NeighborhoodStore adapts the client to the neighborhood dataset interface.
type NeighborhoodStore struct {
	c *Client
}

// NewNeighborhoodStore returns the neighborhood store backed by c.
func NewNeighborhoodStore(c *Client) *NeighborhoodStore {
	return &NeighborhoodStore{c: c}
}

func (s *NeighborhoodStore) ListByCity(ctx context.Context, city string) ([]models.Neighborhood, error) {
	return s.c.ListNeighborhoodsByCity(ctx, city)
}

func (s *NeighborhoodStore) Upsert(ctx context.Context, batch []models.Neighborhood) error {
	return s.c.UpsertNeighborhoods(ctx, batch)
}

func (s *NeighborhoodStore) DatasetStatus(ctx context.Context) ([]models.CityDatasetStatus, error) {
	return s.c.NeighborhoodDatasetStatus(ctx)
}
