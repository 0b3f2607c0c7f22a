package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/raphaelgruber/livability/internal/models"
)

// jobRow is the stored shape of a batch job.
type jobRow struct {
	ID            surrealmodels.RecordID `json:"id"`
	Type          string                 `json:"type"`
	Target        string                 `json:"target"`
	Status        string                 `json:"status"`
	Progress      int                    `json:"progress"`
	Error         *string                `json:"error,omitempty"`
	ResultSummary *string                `json:"result_summary,omitempty"`
	ExecutionLog  *string                `json:"execution_log,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	StartedAt     *time.Time             `json:"started_at,omitempty"`
	CompletedAt   *time.Time             `json:"completed_at,omitempty"`
	HeartbeatAt   *time.Time             `json:"heartbeat_at,omitempty"`
	LeaseID       *string                `json:"lease_id,omitempty"`
}

func (r jobRow) record() (models.BatchJobRecord, error) {
	id, err := models.RecordIDString(r.ID)
	if err != nil {
		return models.BatchJobRecord{}, err
	}
	return models.BatchJobRecord{
		ID:            id,
		Type:          models.JobType(r.Type),
		Target:        r.Target,
		Status:        models.JobStatus(r.Status),
		Progress:      r.Progress,
		Error:         r.Error,
		ResultSummary: r.ResultSummary,
		ExecutionLog:  r.ExecutionLog,
		CreatedAt:     r.CreatedAt.UTC(),
		StartedAt:     utcPtr(r.StartedAt),
		CompletedAt:   utcPtr(r.CompletedAt),
		HeartbeatAt:   utcPtr(r.HeartbeatAt),
		LeaseID:       r.LeaseID,
	}, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// jobContent maps a record to CONTENT fields. Nil optionals are left out so
// they are stored as NONE.
func jobContent(rec models.BatchJobRecord) map[string]any {
	content := map[string]any{
		"type":       string(rec.Type),
		"target":     rec.Target,
		"status":     string(rec.Status),
		"progress":   rec.Progress,
		"created_at": rec.CreatedAt,
	}
	if rec.Error != nil {
		content["error"] = *rec.Error
	}
	if rec.ResultSummary != nil {
		content["result_summary"] = *rec.ResultSummary
	}
	if rec.ExecutionLog != nil {
		content["execution_log"] = *rec.ExecutionLog
	}
	if rec.StartedAt != nil {
		content["started_at"] = *rec.StartedAt
	}
	if rec.CompletedAt != nil {
		content["completed_at"] = *rec.CompletedAt
	}
	if rec.HeartbeatAt != nil {
		content["heartbeat_at"] = *rec.HeartbeatAt
	}
	if rec.LeaseID != nil {
		content["lease_id"] = *rec.LeaseID
	}
	return content
}

func rowsToRecords(rows []jobRow) ([]models.BatchJobRecord, error) {
	out := make([]models.BatchJobRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// lastRows returns the last non-empty statement result of a multi-statement
// query.
func lastRows(results *[]surrealdb.QueryResult[[]jobRow]) []jobRow {
	if results == nil {
		return nil
	}
	for i := len(*results) - 1; i >= 0; i-- {
		if rows := (*results)[i].Result; len(rows) > 0 {
			return rows
		}
	}
	return nil
}

// CreateJob stores a new job.
func (c *Client) CreateJob(ctx context.Context, rec models.BatchJobRecord) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		CREATE type::record("batch_job", $id) CONTENT $content
	`, map[string]any{"id": rec.ID, "content": jobContent(rec)})
	if err != nil {
		return fmt.Errorf("create job: %w", wrapQueryError(err))
	}
	return nil
}

// GetJob returns the job or ErrNotFound.
func (c *Client) GetJob(ctx context.Context, id string) (*models.BatchJobRecord, error) {
	results, err := surrealdb.Query[[]jobRow](ctx, c.db, `
		SELECT * FROM type::record("batch_job", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	rows := lastRows(results)
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	rec, err := rows[0].record()
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

var jobSortColumns = map[string]string{
	"createdAt": "created_at",
	"status":    "status",
	"type":      "type",
	"target":    "target",
}

// ListJobs returns one page of job summaries. q must be normalized.
func (c *Client) ListJobs(ctx context.Context, q models.JobQuery) (models.JobPage, error) {
	var where []string
	vars := map[string]any{
		"limit": q.PageSize,
		"start": q.Offset(),
	}
	if q.Status != nil {
		where = append(where, "status = $status")
		vars["status"] = string(*q.Status)
	}
	if q.Type != nil {
		where = append(where, "type = $type")
		vars["type"] = string(*q.Type)
	}
	if q.Search != "" {
		where = append(where, "string::contains(string::lowercase(target), $search)")
		vars["search"] = strings.ToLower(q.Search)
	}
	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}

	field, desc := q.SortField()
	column, ok := jobSortColumns[field]
	if !ok {
		column = "created_at"
	}
	order := column + " ASC"
	if desc {
		order = column + " DESC"
	}
	if column != "created_at" {
		// created_at breaks ties so pages are stable.
		order += ", created_at DESC"
	}

	countSQL := fmt.Sprintf(`SELECT count() AS c FROM batch_job %s GROUP ALL`, whereClause)
	counts, err := surrealdb.Query[[]struct{ C int }](ctx, c.db, countSQL, vars)
	if err != nil {
		return models.JobPage{}, fmt.Errorf("count jobs: %w", err)
	}
	total := 0
	if counts != nil && len(*counts) > 0 && len((*counts)[0].Result) > 0 {
		total = (*counts)[0].Result[0].C
	}

	listSQL := fmt.Sprintf(`
		SELECT * FROM batch_job %s
		ORDER BY %s
		LIMIT $limit START $start
	`, whereClause, order)
	results, err := surrealdb.Query[[]jobRow](ctx, c.db, listSQL, vars)
	if err != nil {
		return models.JobPage{}, fmt.Errorf("list jobs: %w", err)
	}
	recs, err := rowsToRecords(lastRows(results))
	if err != nil {
		return models.JobPage{}, err
	}

	page := models.JobPage{TotalCount: total, Page: q.Page, PageSize: q.PageSize}
	for _, rec := range recs {
		page.Items = append(page.Items, rec.Summary())
	}
	return page, nil
}

// ClaimNextPending moves the oldest pending job to processing under lease
// inside a transaction. A lost race with another executor reports an empty
// queue.
func (c *Client) ClaimNextPending(ctx context.Context, now time.Time, lease string) (*models.BatchJobRecord, error) {
	results, err := surrealdb.Query[[]jobRow](ctx, c.db, `
		BEGIN TRANSACTION;
		LET $next = (SELECT id, created_at FROM batch_job WHERE status = "Pending" ORDER BY created_at ASC LIMIT 1).id;
		UPDATE $next SET
			status = "Processing",
			started_at = $now,
			heartbeat_at = $now,
			lease_id = $lease
		WHERE status = "Pending"
		RETURN AFTER;
		COMMIT TRANSACTION;
	`, map[string]any{"now": now, "lease": lease})
	if err != nil {
		err = wrapQueryError(err)
		if errors.Is(err, ErrTransactionConflict) {
			c.logger.Debug("job claim lost to another executor")
			return nil, nil
		}
		return nil, fmt.Errorf("claim job: %w", err)
	}

	rows := lastRows(results)
	if len(rows) == 0 {
		return nil, nil
	}
	rec, err := rows[0].record()
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// UpdateJob replaces the job if its stored status still equals expected
// and, when lease is set, the stored claim is still lease.
func (c *Client) UpdateJob(ctx context.Context, rec models.BatchJobRecord, expected models.JobStatus, lease string) error {
	results, err := surrealdb.Query[[]jobRow](ctx, c.db, `
		UPDATE type::record("batch_job", $id) CONTENT $content
		WHERE status = $expected AND ($lease = "" OR lease_id = $lease)
		RETURN AFTER
	`, map[string]any{
		"id":       rec.ID,
		"content":  jobContent(rec),
		"expected": string(expected),
		"lease":    lease,
	})
	if err != nil {
		return fmt.Errorf("update job: %w", wrapQueryError(err))
	}
	if len(lastRows(results)) > 0 {
		return nil
	}

	if _, err := c.GetJob(ctx, rec.ID); err != nil {
		return err
	}
	return models.ErrStaleJob
}

// ListStaleJobs returns processing jobs whose heartbeat is older than cutoff.
func (c *Client) ListStaleJobs(ctx context.Context, cutoff time.Time) ([]models.BatchJobRecord, error) {
	results, err := surrealdb.Query[[]jobRow](ctx, c.db, `
		SELECT * FROM batch_job
		WHERE status = "Processing" AND heartbeat_at < $cutoff
		ORDER BY heartbeat_at ASC
	`, map[string]any{"cutoff": cutoff})
	if err != nil {
		return nil, fmt.Errorf("list stale jobs: %w", err)
	}
	return rowsToRecords(lastRows(results))
}

// JobStore adapts the client to the job queue interface.
type JobStore struct {
	c *Client
}

// NewJobStore returns the job store backed by c.
func NewJobStore(c *Client) *JobStore {
	return &JobStore{c: c}
}

func (s *JobStore) Create(ctx context.Context, rec models.BatchJobRecord) error {
	return s.c.CreateJob(ctx, rec)
}

func (s *JobStore) Get(ctx context.Context, id string) (*models.BatchJobRecord, error) {
	return s.c.GetJob(ctx, id)
}

func (s *JobStore) List(ctx context.Context, q models.JobQuery) (models.JobPage, error) {
	return s.c.ListJobs(ctx, q)
}

func (s *JobStore) ClaimNextPending(ctx context.Context, now time.Time, lease string) (*models.BatchJobRecord, error) {
	return s.c.ClaimNextPending(ctx, now, lease)
}

func (s *JobStore) Update(ctx context.Context, rec models.BatchJobRecord, expected models.JobStatus, lease string) error {
	return s.c.UpdateJob(ctx, rec, expected, lease)
}

func (s *JobStore) ListStale(ctx context.Context, cutoff time.Time) ([]models.BatchJobRecord, error) {
	return s.c.ListStaleJobs(ctx, cutoff)
}
