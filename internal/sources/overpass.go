package sources

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/serjvanilla/go-overpass"

	"github.com/raphaelgruber/livability/internal/enrichment"
	"github.com/raphaelgruber/livability/internal/models"
)

// DefaultOverpassURL is the public Overpass interpreter.
const DefaultOverpassURL = "https://overpass-api.de/api/interpreter"

// Amenity categories counted by the amenity source.
const (
	amenitySchool      = "school"
	amenitySupermarket = "supermarket"
	amenityPark        = "park"
	amenityHealthcare  = "healthcare"
	amenityTransit     = "transit"
	amenityCharging    = "charging"
)

const amenityCategoryCount = 6

// OverpassSource counts amenities around a location.
type OverpassSource struct {
	client *overpass.Client
	now    func() time.Time
}

var _ enrichment.TypedSource[enrichment.AmenityStats] = (*OverpassSource)(nil)

// NewOverpassSource creates a source against endpoint. At most two queries
// run at a time.
func NewOverpassSource(client *HTTPClient, endpoint string) *OverpassSource {
	if endpoint == "" {
		endpoint = DefaultOverpassURL
	}
	c := overpass.NewWithSettings(endpoint, 2, client.Std())
	return &OverpassSource{client: &c, now: time.Now}
}

func (s *OverpassSource) Name() enrichment.SourceName { return enrichment.SourceAmenities }

// Fetch queries all amenity kinds within radiusMeters in one request.
func (s *OverpassSource) Fetch(ctx context.Context, loc models.ResolvedLocation, radiusMeters int) (*enrichment.AmenityStats, error) {
	result, err := s.query(ctx, AmenityQuery(loc.Latitude, loc.Longitude, radiusMeters))
	if err != nil {
		return nil, err
	}
	stats := SummarizeAmenities(result, loc.Latitude, loc.Longitude)
	stats.RetrievedAt = s.now().UTC()
	return &stats, nil
}

// query runs q and gives up when ctx ends. go-overpass has no context
// support, so an abandoned request finishes in the background.
func (s *OverpassSource) query(ctx context.Context, q string) (*overpass.Result, error) {
	type outcome struct {
		result overpass.Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		r, err := s.client.Query(q)
		done <- outcome{r, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case o := <-done:
		if o.err != nil {
			return nil, fmt.Errorf("overpass query: %w", o.err)
		}
		return &o.result, nil
	}
}

// AmenityQuery builds the Overpass QL query for all amenity kinds.
func AmenityQuery(lat, lon float64, radiusMeters int) string {
	around := fmt.Sprintf("(around:%d,%.6f,%.6f)", radiusMeters, lat, lon)
	filters := []string{
		`[amenity=school]`,
		`[shop=supermarket]`,
		`[leisure=park]`,
		`[amenity~"hospital|clinic|doctors|pharmacy"]`,
		`[highway=bus_stop]`,
		`[railway=station]`,
		`[amenity=charging_station]`,
	}

	var b strings.Builder
	b.WriteString("[out:json][timeout:25];(")
	for _, f := range filters {
		b.WriteString("nwr")
		b.WriteString(around)
		b.WriteString(f)
		b.WriteString(";")
	}
	b.WriteString(");out body;>;out skel qt;")
	return b.String()
}

// categorize maps OSM tags to an amenity category, or "" when the element
// is not counted.
func categorize(tags map[string]string) string {
	switch tags["amenity"] {
	case "school":
		return amenitySchool
	case "hospital", "clinic", "doctors", "pharmacy":
		return amenityHealthcare
	case "charging_station":
		return amenityCharging
	}
	if tags["shop"] == "supermarket" {
		return amenitySupermarket
	}
	if tags["leisure"] == "park" {
		return amenityPark
	}
	if tags["highway"] == "bus_stop" || tags["railway"] == "station" {
		return amenityTransit
	}
	return ""
}

// SummarizeAmenities counts the tagged elements of result per category and
// finds the nearest one. Untagged geometry nodes are ignored.
func SummarizeAmenities(result *overpass.Result, lat, lon float64) enrichment.AmenityStats {
	counts := make(map[string]int, amenityCategoryCount)
	nearest := math.Inf(1)

	visit := func(tags map[string]string, elLat, elLon float64, ok bool) {
		cat := categorize(tags)
		if cat == "" {
			return
		}
		counts[cat]++
		if ok {
			nearest = math.Min(nearest, HaversineMeters(lat, lon, elLat, elLon))
		}
	}

	for _, n := range result.Nodes {
		if n == nil {
			continue
		}
		visit(n.Tags, n.Lat, n.Lon, true)
	}
	for _, w := range result.Ways {
		if w == nil {
			continue
		}
		wLat, wLon, ok := wayCenter(w)
		visit(w.Tags, wLat, wLon, ok)
	}
	for _, r := range result.Relations {
		if r == nil {
			continue
		}
		rLat, rLon, ok := relationCenter(r)
		visit(r.Tags, rLat, rLon, ok)
	}

	stats := enrichment.AmenityStats{
		SchoolCount:          counts[amenitySchool],
		SupermarketCount:     counts[amenitySupermarket],
		ParkCount:            counts[amenityPark],
		HealthcareCount:      counts[amenityHealthcare],
		TransitStopCount:     counts[amenityTransit],
		ChargingStationCount: counts[amenityCharging],
		DiversityScore:       float64(len(counts)) / amenityCategoryCount * 100,
	}
	if !math.IsInf(nearest, 1) {
		d := math.Round(nearest)
		stats.NearestAmenityDistanceMeters = &d
	}
	return stats
}

func wayCenter(w *overpass.Way) (lat, lon float64, ok bool) {
	var n int
	for _, node := range w.Nodes {
		if node == nil || (node.Lat == 0 && node.Lon == 0) {
			continue
		}
		lat += node.Lat
		lon += node.Lon
		n++
	}
	if n == 0 {
		return 0, 0, false
	}
	return lat / float64(n), lon / float64(n), true
}

func relationCenter(r *overpass.Relation) (lat, lon float64, ok bool) {
	var n int
	for _, m := range r.Members {
		switch {
		case m.Node != nil && (m.Node.Lat != 0 || m.Node.Lon != 0):
			lat += m.Node.Lat
			lon += m.Node.Lon
			n++
		case m.Way != nil:
			if wLat, wLon, wok := wayCenter(m.Way); wok {
				lat += wLat
				lon += wLon
				n++
			}
		}
	}
	if n == 0 {
		return 0, 0, false
	}
	return lat / float64(n), lon / float64(n), true
}

const earthRadiusMeters = 6371000

// HaversineMeters is the great-circle distance between two WGS84 points.
func HaversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMeters * c
}
