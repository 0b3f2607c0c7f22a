package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/raphaelgruber/livability/internal/models"
)

// NeighborhoodStore persists enriched neighborhoods in PostgreSQL.
type NeighborhoodStore struct {
	pool *pgxpool.Pool
}

func (s *NeighborhoodStore) ListByCity(ctx context.Context, city string) ([]models.Neighborhood, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT code, name, city, type, latitude, longitude,
		       population_density, average_woz_value, crime_rate, livability_score, last_updated
		FROM neighborhoods
		WHERE lower(city) = lower($1)
		ORDER BY code`, city)
	if err != nil {
		return nil, fmt.Errorf("list neighborhoods: %w", err)
	}
	defer rows.Close()

	out := []models.Neighborhood{}
	for rows.Next() {
		var n models.Neighborhood
		if err := rows.Scan(&n.Code, &n.Name, &n.City, &n.Type, &n.Latitude, &n.Longitude,
			&n.PopulationDensity, &n.AverageWozValue, &n.CrimeRate, &n.LivabilityScore, &n.LastUpdated); err != nil {
			return nil, fmt.Errorf("scan neighborhood: %w", err)
		}
		n.LastUpdated = n.LastUpdated.UTC()
		out = append(out, n)
	}
	return out, rows.Err()
}

// Upsert sends the batch in one round trip inside a transaction. Conflicting
// codes only get their stat fields refreshed.
func (s *NeighborhoodStore) Upsert(ctx context.Context, batch []models.Neighborhood) error {
	if len(batch) == 0 {
		return nil
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		b := &pgx.Batch{}
		for _, n := range batch {
			b.Queue(`
				INSERT INTO neighborhoods
				(code, name, city, type, latitude, longitude,
				 population_density, average_woz_value, crime_rate, livability_score, last_updated)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
				ON CONFLICT (code) DO UPDATE SET
				  population_density = EXCLUDED.population_density,
				  average_woz_value  = EXCLUDED.average_woz_value,
				  crime_rate         = EXCLUDED.crime_rate,
				  livability_score   = EXCLUDED.livability_score,
				  last_updated       = EXCLUDED.last_updated`,
				n.Code, n.Name, n.City, n.Type, n.Latitude, n.Longitude,
				n.PopulationDensity, n.AverageWozValue, n.CrimeRate, n.LivabilityScore, n.LastUpdated,
			)
		}
		br := tx.SendBatch(ctx, b)
		for range batch {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("upsert neighborhood: %w", err)
			}
		}
		return br.Close()
	})
}

func (s *NeighborhoodStore) DatasetStatus(ctx context.Context) ([]models.CityDatasetStatus, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT city, count(*), max(last_updated)
		FROM neighborhoods
		GROUP BY city
		ORDER BY city`)
	if err != nil {
		return nil, fmt.Errorf("dataset status: %w", err)
	}
	defer rows.Close()

	out := []models.CityDatasetStatus{}
	for rows.Next() {
		var st models.CityDatasetStatus
		var last *time.Time
		if err := rows.Scan(&st.City, &st.NeighborhoodCount, &last); err != nil {
			return nil, fmt.Errorf("scan dataset status: %w", err)
		}
		if last != nil {
			u := last.UTC()
			st.LastUpdated = &u
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
