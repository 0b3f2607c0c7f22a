package service

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/raphaelgruber/livability/internal/models"
)

// memJobStore is an in-memory JobStore with the same conditional-update
// semantics as the database stores.
type memJobStore struct {
	mu   sync.Mutex
	jobs map[string]models.BatchJobRecord
}

func newMemJobStore() *memJobStore {
	return &memJobStore{jobs: make(map[string]models.BatchJobRecord)}
}

func (s *memJobStore) Create(_ context.Context, rec models.BatchJobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[rec.ID] = rec
	return nil
}

func (s *memJobStore) Get(_ context.Context, id string) (*models.BatchJobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &rec, nil
}

func (s *memJobStore) List(_ context.Context, q models.JobQuery) (models.JobPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []models.BatchJobRecord
	for _, rec := range s.jobs {
		if q.Status != nil && rec.Status != *q.Status {
			continue
		}
		if q.Type != nil && rec.Type != *q.Type {
			continue
		}
		if q.Search != "" && !strings.Contains(strings.ToLower(rec.Target), strings.ToLower(q.Search)) {
			continue
		}
		matched = append(matched, rec)
	}

	field, desc := q.SortField()
	slices.SortFunc(matched, func(a, b models.BatchJobRecord) int {
		var c int
		switch field {
		case "status":
			c = strings.Compare(string(a.Status), string(b.Status))
		case "type":
			c = strings.Compare(string(a.Type), string(b.Type))
		case "target":
			c = strings.Compare(a.Target, b.Target)
		default:
			c = a.CreatedAt.Compare(b.CreatedAt)
		}
		if desc {
			return -c
		}
		return c
	})

	page := models.JobPage{TotalCount: len(matched), Page: q.Page, PageSize: q.PageSize}
	lo := min(q.Offset(), len(matched))
	hi := min(lo+q.PageSize, len(matched))
	for _, rec := range matched[lo:hi] {
		page.Items = append(page.Items, rec.Summary())
	}
	return page, nil
}

func (s *memJobStore) ClaimNextPending(_ context.Context, now time.Time, lease string) (*models.BatchJobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next *models.BatchJobRecord
	for _, rec := range s.jobs {
		if rec.Status != models.JobStatusPending {
			continue
		}
		if next == nil || rec.CreatedAt.Before(next.CreatedAt) {
			r := rec
			next = &r
		}
	}
	if next == nil {
		return nil, nil
	}
	next.Status = models.JobStatusProcessing
	next.StartedAt = &now
	next.HeartbeatAt = &now
	next.LeaseID = &lease
	s.jobs[next.ID] = *next
	return next, nil
}

func (s *memJobStore) Update(_ context.Context, rec models.BatchJobRecord, expected models.JobStatus, lease string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.jobs[rec.ID]
	if !ok {
		return models.ErrNotFound
	}
	if cur.Status != expected {
		return models.ErrStaleJob
	}
	if lease != "" && cur.Lease() != lease {
		return models.ErrStaleJob
	}
	s.jobs[rec.ID] = rec
	return nil
}

func (s *memJobStore) ListStale(_ context.Context, cutoff time.Time) ([]models.BatchJobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.BatchJobRecord
	for _, rec := range s.jobs {
		if rec.Status == models.JobStatusProcessing && rec.HeartbeatAt != nil && rec.HeartbeatAt.Before(cutoff) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *memJobStore) put(rec models.BatchJobRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[rec.ID] = rec
}

func (s *memJobStore) get(id string) models.BatchJobRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

// memNeighborhoodStore mirrors the upsert rules of the database stores.
type memNeighborhoodStore struct {
	mu      sync.Mutex
	rows    map[string]models.Neighborhood
	upserts int
}

func newMemNeighborhoodStore(seed ...models.Neighborhood) *memNeighborhoodStore {
	s := &memNeighborhoodStore{rows: make(map[string]models.Neighborhood)}
	for _, n := range seed {
		s.rows[n.Code] = n
	}
	return s
}

func (s *memNeighborhoodStore) ListByCity(_ context.Context, city string) ([]models.Neighborhood, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Neighborhood
	for _, n := range s.rows {
		if strings.EqualFold(n.City, city) {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *memNeighborhoodStore) Upsert(_ context.Context, batch []models.Neighborhood) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	for _, n := range batch {
		cur, ok := s.rows[n.Code]
		if !ok {
			s.rows[n.Code] = n
			continue
		}
		cur.PopulationDensity = n.PopulationDensity
		cur.AverageWozValue = n.AverageWozValue
		cur.CrimeRate = n.CrimeRate
		cur.LivabilityScore = n.LivabilityScore
		cur.LastUpdated = n.LastUpdated
		s.rows[n.Code] = cur
	}
	return nil
}

func (s *memNeighborhoodStore) DatasetStatus(context.Context) ([]models.CityDatasetStatus, error) {
	return nil, nil
}

func (s *memNeighborhoodStore) row(code string) (models.Neighborhood, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.rows[code]
	return n, ok
}

func (s *memNeighborhoodStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

type fakeGeo struct {
	neighborhoods  map[string][]models.NeighborhoodGeometry
	municipalities []models.Municipality
	err            error
}

func (g *fakeGeo) ListNeighborhoods(_ context.Context, city string) ([]models.NeighborhoodGeometry, error) {
	return g.neighborhoods[city], g.err
}

func (g *fakeGeo) ListMunicipalities(context.Context) ([]models.Municipality, error) {
	return g.municipalities, g.err
}

type fakeResolver struct {
	mu        sync.Mutex
	locations map[string]models.ResolvedLocation
	calls     int
	err       error
}

func (r *fakeResolver) Resolve(_ context.Context, input string) (*models.ResolvedLocation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	loc, ok := r.locations[input]
	if !ok {
		return nil, nil
	}
	return &loc, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []models.BatchJobRecord
}

func (n *recordingNotifier) JobChanged(_ context.Context, rec models.BatchJobRecord) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, rec)
}

func (n *recordingNotifier) statuses() []models.JobStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]models.JobStatus, len(n.events))
	for i, e := range n.events {
		out[i] = e.Status
	}
	return out
}

// processorFunc adapts a function to JobProcessor.
type processorFunc struct {
	jobType models.JobType
	fn      func(ctx context.Context, run *JobRun) (string, error)
}

func (p processorFunc) Type() models.JobType { return p.jobType }

func (p processorFunc) Process(ctx context.Context, run *JobRun) (string, error) {
	return p.fn(ctx, run)
}
