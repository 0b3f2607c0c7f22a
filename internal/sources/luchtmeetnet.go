package sources

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/raphaelgruber/livability/internal/enrichment"
	"github.com/raphaelgruber/livability/internal/models"
)

// DefaultLuchtmeetnetURL is the Luchtmeetnet open API host.
const DefaultLuchtmeetnetURL = "https://api.luchtmeetnet.nl"

const (
	maxStationPages       = 15
	stationDetailParallel = 5
	stationListTTL        = 24 * time.Hour
)

// LuchtmeetnetSource reports the latest readings of the nearest station.
type LuchtmeetnetSource struct {
	http    *HTTPClient
	baseURL string
	logger  *slog.Logger
	now     func() time.Time

	mu        sync.Mutex
	stations  []station
	fetchedAt time.Time
}

var _ enrichment.TypedSource[enrichment.AirQualitySnapshot] = (*LuchtmeetnetSource)(nil)

type station struct {
	ID   string
	Name string
	Lat  float64
	Lon  float64
}

// NewLuchtmeetnetSource creates a source against baseURL.
func NewLuchtmeetnetSource(client *HTTPClient, baseURL string, logger *slog.Logger) *LuchtmeetnetSource {
	if baseURL == "" {
		baseURL = DefaultLuchtmeetnetURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LuchtmeetnetSource{http: client, baseURL: trimBase(baseURL), logger: logger, now: time.Now}
}

func (s *LuchtmeetnetSource) Name() enrichment.SourceName { return enrichment.SourceAirQuality }

type measurementResponse struct {
	Data []struct {
		Formula           string     `json:"formula"`
		Value             flexNumber `json:"value"`
		TimestampMeasured string     `json:"timestamp_measured"`
	} `json:"data"`
}

// Fetch returns the newest PM2.5, PM10, NO2 and O3 readings of the station
// closest to loc. It returns nil when no station or reading is available.
func (s *LuchtmeetnetSource) Fetch(ctx context.Context, loc models.ResolvedLocation, _ int) (*enrichment.AirQualitySnapshot, error) {
	stations, err := s.stationList(ctx)
	if err != nil {
		return nil, err
	}
	nearest, distance, ok := nearestStation(stations, loc.Latitude, loc.Longitude)
	if !ok {
		return nil, nil
	}

	endpoint := fmt.Sprintf("%s/open_api/stations/%s/measurements?order_by=timestamp_measured&order_direction=desc&page=1",
		s.baseURL, url.PathEscape(nearest.ID))
	var resp measurementResponse
	if err := s.http.getJSON(ctx, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("measurements for %s: %w", nearest.ID, err)
	}

	readings := map[string]*float64{}
	stamps := map[string]string{}
	for _, m := range resp.Data {
		formula := strings.ToUpper(strings.TrimSpace(m.Formula))
		if _, seen := readings[formula]; seen || m.Value.float() == nil {
			continue
		}
		readings[formula] = m.Value.float()
		stamps[formula] = m.TimestampMeasured
	}

	snap := &enrichment.AirQualitySnapshot{
		StationID:             nearest.ID,
		StationName:           nearest.Name,
		StationDistanceMeters: math.Round(distance),
		PM25:                  readings["PM25"],
		PM10:                  readings["PM10"],
		NO2:                   readings["NO2"],
		O3:                    readings["O3"],
		RetrievedAt:           s.now().UTC(),
	}
	if snap.PM25 == nil && snap.PM10 == nil && snap.NO2 == nil && snap.O3 == nil {
		return nil, nil
	}
	for _, f := range []string{"PM25", "PM10", "NO2", "O3"} {
		if ts, ok := stamps[f]; ok {
			if t, err := time.Parse(time.RFC3339, ts); err == nil {
				t = t.UTC()
				snap.MeasuredAt = &t
			}
			break
		}
	}
	return snap, nil
}

func nearestStation(stations []station, lat, lon float64) (station, float64, bool) {
	best := -1
	bestDist := math.Inf(1)
	for i, st := range stations {
		if d := HaversineMeters(lat, lon, st.Lat, st.Lon); d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 {
		return station{}, 0, false
	}
	return stations[best], bestDist, true
}

// stationList returns the cached station coordinates, discovering them
// when the cache is empty or stale. An empty discovery is not cached.
func (s *LuchtmeetnetSource) stationList(ctx context.Context) ([]station, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.stations) > 0 && s.now().Sub(s.fetchedAt) < stationListTTL {
		return s.stations, nil
	}

	stations, err := s.discoverStations(ctx)
	if err != nil {
		return nil, err
	}
	if len(stations) > 0 {
		s.stations = stations
		s.fetchedAt = s.now()
		s.logger.Info("discovered luchtmeetnet stations", "count", len(stations))
	}
	return stations, nil
}

type stationListResponse struct {
	Pagination *struct {
		LastPage int `json:"last_page"`
	} `json:"pagination"`
	Data []struct {
		Number   string `json:"number"`
		Location string `json:"location"`
	} `json:"data"`
}

type stationDetailResponse struct {
	Data struct {
		Number   string `json:"number"`
		Location string `json:"location"`
		Geometry *struct {
			Coordinates []float64 `json:"coordinates"`
		} `json:"geometry"`
	} `json:"data"`
}

func (s *LuchtmeetnetSource) discoverStations(ctx context.Context) ([]station, error) {
	var ids []string
	seen := map[string]bool{}
	for page := 1; page <= maxStationPages; page++ {
		var resp stationListResponse
		if err := s.http.getJSON(ctx, fmt.Sprintf("%s/open_api/stations?page=%d", s.baseURL, page), &resp); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.logger.Warn("station list page failed", "page", page, "error", err)
			continue
		}
		for _, d := range resp.Data {
			if id := strings.TrimSpace(d.Number); id != "" && !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
		if len(resp.Data) == 0 || (resp.Pagination != nil && page >= resp.Pagination.LastPage) {
			break
		}
	}

	found := make([]*station, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(stationDetailParallel)
	for i, id := range ids {
		g.Go(func() error {
			var resp stationDetailResponse
			if err := s.http.getJSON(gctx, fmt.Sprintf("%s/open_api/stations/%s", s.baseURL, url.PathEscape(id)), &resp); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				s.logger.Warn("station detail failed", "station", id, "error", err)
				return nil
			}
			geo := resp.Data.Geometry
			if geo == nil || len(geo.Coordinates) < 2 {
				return nil
			}
			name := strings.TrimSpace(resp.Data.Location)
			if name == "" {
				name = id
			}
			found[i] = &station{ID: id, Name: name, Lon: geo.Coordinates[0], Lat: geo.Coordinates[1]}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]station, 0, len(found))
	for _, st := range found {
		if st != nil {
			out = append(out, *st)
		}
	}
	return out, nil
}
