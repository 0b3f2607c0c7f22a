// Package pgstore is the PostgreSQL storage backend for batch jobs and
// enriched neighborhoods.
package pgstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store holds the connection pool shared by the job and neighborhood stores.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	logger.Info("PostgreSQL connection established")
	return &Store{pool: pool, logger: logger}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Migrate creates tables and indexes. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Jobs returns the batch job store.
func (s *Store) Jobs() *JobStore {
	return &JobStore{pool: s.pool}
}

// Neighborhoods returns the neighborhood store.
func (s *Store) Neighborhoods() *NeighborhoodStore {
	return &NeighborhoodStore{pool: s.pool}
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS batch_jobs (
  id             text PRIMARY KEY,
  type           text NOT NULL,
  target         text NOT NULL,
  status         text NOT NULL,
  progress       int  NOT NULL DEFAULT 0 CHECK (progress BETWEEN 0 AND 100),
  error          text,
  result_summary text,
  execution_log  text,
  created_at     timestamptz NOT NULL,
  started_at     timestamptz,
  completed_at   timestamptz,
  heartbeat_at   timestamptz,
  lease_id       text
);
ALTER TABLE batch_jobs ADD COLUMN IF NOT EXISTS lease_id text;
CREATE INDEX IF NOT EXISTS batch_jobs_status_created ON batch_jobs (status, created_at);

CREATE TABLE IF NOT EXISTS neighborhoods (
  code               text PRIMARY KEY,
  name               text NOT NULL,
  city               text NOT NULL,
  type               text NOT NULL,
  latitude           double precision NOT NULL,
  longitude          double precision NOT NULL,
  population_density int,
  average_woz_value  double precision,
  crime_rate         double precision,
  livability_score   double precision,
  last_updated       timestamptz NOT NULL
);
CREATE INDEX IF NOT EXISTS neighborhoods_city ON neighborhoods (lower(city));
`
