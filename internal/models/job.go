package models

import (
	"fmt"
	"strings"
	"time"
)

// JobType selects the processor that runs a batch job.
type JobType string

const (
	JobTypeCityIngestion      JobType = "CityIngestion"
	JobTypeMapGeneration      JobType = "MapGeneration"
	JobTypeAllCitiesIngestion JobType = "AllCitiesIngestion"
)

// ParseJobType validates a job type name (case-insensitive).
func ParseJobType(s string) (JobType, error) {
	for _, t := range []JobType{JobTypeCityIngestion, JobTypeMapGeneration, JobTypeAllCitiesIngestion} {
		if strings.EqualFold(s, string(t)) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown job type %q", s)
}

// JobStatus is the persisted lifecycle state of a batch job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "Pending"
	JobStatusProcessing JobStatus = "Processing"
	JobStatusCompleted  JobStatus = "Completed"
	JobStatusFailed     JobStatus = "Failed"
)

// ParseJobStatus validates a status name (case-insensitive).
func ParseJobStatus(s string) (JobStatus, error) {
	for _, st := range []JobStatus{JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed} {
		if strings.EqualFold(s, string(st)) {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown job status %q", s)
}

// BatchJobRecord is the flat, persisted form of a batch job.
type BatchJobRecord struct {
	ID            string     `json:"id"`
	Type          JobType    `json:"type"`
	Target        string     `json:"target"`
	Status        JobStatus  `json:"status"`
	Progress      int        `json:"progress"`
	Error         *string    `json:"error,omitempty"`
	ResultSummary *string    `json:"result_summary,omitempty"`
	ExecutionLog  *string    `json:"execution_log,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	HeartbeatAt   *time.Time `json:"heartbeat_at,omitempty"`
	LeaseID       *string    `json:"lease_id,omitempty"`
}

// Lease returns the claim token of a processing record, or "" when unset.
func (r BatchJobRecord) Lease() string {
	if r.LeaseID == nil {
		return ""
	}
	return *r.LeaseID
}

// BatchJobSummary is the list view of a job. It omits the execution log.
type BatchJobSummary struct {
	ID            string     `json:"id"`
	Type          JobType    `json:"type"`
	Target        string     `json:"target"`
	Status        JobStatus  `json:"status"`
	Progress      int        `json:"progress"`
	Error         *string    `json:"error,omitempty"`
	ResultSummary *string    `json:"result_summary,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// Summary drops the execution log.
func (r BatchJobRecord) Summary() BatchJobSummary {
	return BatchJobSummary{
		ID:            r.ID,
		Type:          r.Type,
		Target:        r.Target,
		Status:        r.Status,
		Progress:      r.Progress,
		Error:         r.Error,
		ResultSummary: r.ResultSummary,
		CreatedAt:     r.CreatedAt,
		StartedAt:     r.StartedAt,
		CompletedAt:   r.CompletedAt,
	}
}

// JobQuery filters and pages the job list.
type JobQuery struct {
	Page     int
	PageSize int
	Status   *JobStatus
	Type     *JobType
	Search   string
	Sort     string
}

// Sort orders accepted by JobQuery.Sort.
const (
	SortCreatedAtDesc = "createdAt_desc"
	SortCreatedAtAsc  = "createdAt_asc"
	SortStatusAsc     = "status_asc"
	SortStatusDesc    = "status_desc"
	SortTypeAsc       = "type_asc"
	SortTypeDesc      = "type_desc"
	SortTargetAsc     = "target_asc"
	SortTargetDesc    = "target_desc"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Normalize fills defaults and clamps paging values.
func (q JobQuery) Normalize() JobQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = DefaultPageSize
	}
	if q.PageSize > MaxPageSize {
		q.PageSize = MaxPageSize
	}
	switch q.Sort {
	case SortCreatedAtAsc, SortCreatedAtDesc, SortStatusAsc, SortStatusDesc,
		SortTypeAsc, SortTypeDesc, SortTargetAsc, SortTargetDesc:
	default:
		q.Sort = SortCreatedAtDesc
	}
	q.Search = strings.TrimSpace(q.Search)
	return q
}

// Offset is the number of rows skipped for the current page.
func (q JobQuery) Offset() int {
	return (q.Page - 1) * q.PageSize
}

// SortField splits Sort into its field name and direction.
func (q JobQuery) SortField() (field string, desc bool) {
	field, dir, _ := strings.Cut(q.Sort, "_")
	return field, dir == "desc"
}

// JobPage is one page of job summaries.
type JobPage struct {
	Items      []BatchJobSummary `json:"items"`
	TotalCount int               `json:"total_count"`
	Page       int               `json:"page"`
	PageSize   int               `json:"page_size"`
}

// TotalPages is the page count for TotalCount.
func (p JobPage) TotalPages() int {
	if p.PageSize <= 0 {
		return 0
	}
	return (p.TotalCount + p.PageSize - 1) / p.PageSize
}
