package pgstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/raphaelgruber/livability/internal/models"
)

// ErrAlreadyExists is returned when a job ID is reused.
var ErrAlreadyExists = errors.New("job already exists")

const jobColumns = `id, type, target, status, progress, error, result_summary, execution_log,
	created_at, started_at, completed_at, heartbeat_at, lease_id`

// JobStore persists batch jobs in PostgreSQL.
type JobStore struct {
	pool *pgxpool.Pool
}

func scanJob(row pgx.Row) (models.BatchJobRecord, error) {
	var rec models.BatchJobRecord
	var jobType, status string
	err := row.Scan(
		&rec.ID, &jobType, &rec.Target, &status, &rec.Progress,
		&rec.Error, &rec.ResultSummary, &rec.ExecutionLog,
		&rec.CreatedAt, &rec.StartedAt, &rec.CompletedAt, &rec.HeartbeatAt, &rec.LeaseID,
	)
	if err != nil {
		return rec, err
	}
	rec.Type = models.JobType(jobType)
	rec.Status = models.JobStatus(status)
	rec.CreatedAt = rec.CreatedAt.UTC()
	return rec, nil
}

func collectJobs(rows pgx.Rows) ([]models.BatchJobRecord, error) {
	defer rows.Close()
	var out []models.BatchJobRecord
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *JobStore) Create(ctx context.Context, rec models.BatchJobRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO batch_jobs (`+jobColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		rec.ID, string(rec.Type), rec.Target, string(rec.Status), rec.Progress,
		rec.Error, rec.ResultSummary, rec.ExecutionLog,
		rec.CreatedAt, rec.StartedAt, rec.CompletedAt, rec.HeartbeatAt, rec.LeaseID,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, rec.ID)
	}
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *JobStore) Get(ctx context.Context, id string) (*models.BatchJobRecord, error) {
	rec, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM batch_jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &rec, nil
}

var sortColumns = map[string]string{
	"createdAt": "created_at",
	"status":    "status",
	"type":      "type",
	"target":    "target",
}

func (s *JobStore) List(ctx context.Context, q models.JobQuery) (models.JobPage, error) {
	var where []string
	var args []any
	if q.Status != nil {
		args = append(args, string(*q.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if q.Type != nil {
		args = append(args, string(*q.Type))
		where = append(where, fmt.Sprintf("type = $%d", len(args)))
	}
	if q.Search != "" {
		args = append(args, "%"+q.Search+"%")
		where = append(where, fmt.Sprintf("target ILIKE $%d", len(args)))
	}
	whereSQL := ""
	if len(where) > 0 {
		whereSQL = "WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM batch_jobs `+whereSQL, args...).Scan(&total); err != nil {
		return models.JobPage{}, fmt.Errorf("count jobs: %w", err)
	}

	field, desc := q.SortField()
	column, ok := sortColumns[field]
	if !ok {
		column = "created_at"
	}
	order := column + " ASC"
	if desc {
		order = column + " DESC"
	}
	if column != "created_at" {
		order += ", created_at DESC"
	}

	args = append(args, q.PageSize, q.Offset())
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM batch_jobs %s
		ORDER BY %s
		LIMIT $%d OFFSET $%d`, jobColumns, whereSQL, order, len(args)-1, len(args)), args...)
	if err != nil {
		return models.JobPage{}, fmt.Errorf("list jobs: %w", err)
	}
	recs, err := collectJobs(rows)
	if err != nil {
		return models.JobPage{}, fmt.Errorf("scan jobs: %w", err)
	}

	page := models.JobPage{TotalCount: total, Page: q.Page, PageSize: q.PageSize}
	for _, rec := range recs {
		page.Items = append(page.Items, rec.Summary())
	}
	return page, nil
}

// ClaimNextPending locks the oldest pending row with SKIP LOCKED so
// concurrent executors never claim the same job. The row is tagged with lease.
func (s *JobStore) ClaimNextPending(ctx context.Context, now time.Time, lease string) (*models.BatchJobRecord, error) {
	rec, err := scanJob(s.pool.QueryRow(ctx, `
		UPDATE batch_jobs SET status = $1, started_at = $2, heartbeat_at = $2, lease_id = $4
		WHERE id = (
			SELECT id FROM batch_jobs
			WHERE status = $3
			ORDER BY created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns,
		string(models.JobStatusProcessing), now, string(models.JobStatusPending), lease,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return &rec, nil
}

// Update replaces the row if its status still equals expected and, when
// lease is set, the row is still held under lease.
func (s *JobStore) Update(ctx context.Context, rec models.BatchJobRecord, expected models.JobStatus, lease string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE batch_jobs SET
			status = $2, progress = $3, error = $4, result_summary = $5, execution_log = $6,
			created_at = $7, started_at = $8, completed_at = $9, heartbeat_at = $10, lease_id = $11
		WHERE id = $1 AND status = $12 AND ($13::text = '' OR lease_id = $13::text)`,
		rec.ID, string(rec.Status), rec.Progress, rec.Error, rec.ResultSummary, rec.ExecutionLog,
		rec.CreatedAt, rec.StartedAt, rec.CompletedAt, rec.HeartbeatAt, rec.LeaseID,
		string(expected), lease,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.Get(ctx, rec.ID); err != nil {
		return err
	}
	return models.ErrStaleJob
}

func (s *JobStore) ListStale(ctx context.Context, cutoff time.Time) ([]models.BatchJobRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM batch_jobs
		WHERE status = $1 AND heartbeat_at < $2
		ORDER BY heartbeat_at ASC`,
		string(models.JobStatusProcessing), cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stale jobs: %w", err)
	}
	return collectJobs(rows)
}
