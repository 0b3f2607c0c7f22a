package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/raphaelgruber/livability/internal/models"
)

// DefaultCBSGeoURL is the PDOK WFS for the CBS wijken-en-buurten map.
const DefaultCBSGeoURL = "https://service.pdok.nl/cbs/wijkenbuurten/2023/wfs/v1_0"

// NeighborhoodType is the region type of listed neighborhoods.
const NeighborhoodType = "Buurt"

// CBSGeoClient lists neighborhoods and municipalities from the WFS.
type CBSGeoClient struct {
	http    *HTTPClient
	baseURL string
}

// NewCBSGeoClient creates a client against baseURL.
func NewCBSGeoClient(client *HTTPClient, baseURL string) *CBSGeoClient {
	if baseURL == "" {
		baseURL = DefaultCBSGeoURL
	}
	return &CBSGeoClient{http: client, baseURL: trimBase(baseURL)}
}

type wfsCollection struct {
	Features []wfsFeature `json:"features"`
}

type wfsFeature struct {
	Properties map[string]flexRaw `json:"properties"`
	Geometry   *struct {
		Coordinates json.RawMessage `json:"coordinates"`
	} `json:"geometry"`
}

func (f wfsFeature) prop(name string) string {
	return strings.TrimSpace(f.Properties[name].text)
}

func (c *CBSGeoClient) features(ctx context.Context, typeName, filter string) ([]wfsFeature, error) {
	params := url.Values{}
	params.Set("service", "WFS")
	params.Set("version", "2.0.0")
	params.Set("request", "GetFeature")
	params.Set("typeName", typeName)
	params.Set("outputFormat", "json")
	params.Set("srsName", "EPSG:4326")
	if filter != "" {
		params.Set("FILTER", filter)
	}

	var coll wfsCollection
	if err := c.http.getJSON(ctx, c.baseURL+"?"+params.Encode(), &coll); err != nil {
		return nil, fmt.Errorf("wfs %s: %w", typeName, err)
	}
	return coll.Features, nil
}

// ListNeighborhoods returns the neighborhoods of a municipality, matched
// case-insensitively by name. Coordinates are the vertex centroid of the
// neighborhood geometry.
func (c *CBSGeoClient) ListNeighborhoods(ctx context.Context, city string) ([]models.NeighborhoodGeometry, error) {
	city = strings.TrimSpace(city)
	if city == "" {
		return nil, nil
	}

	features, err := c.features(ctx, "wijkenbuurten:buurten", municipalityFilter(city))
	if err != nil {
		return nil, err
	}

	out := make([]models.NeighborhoodGeometry, 0, len(features))
	for _, f := range features {
		code := f.prop("buurtcode")
		if code == "" {
			continue
		}
		name := f.prop("buurtnaam")
		if name == "" {
			name = "Unknown"
		}
		g := models.NeighborhoodGeometry{Code: code, Name: name, Type: NeighborhoodType}
		if f.Geometry != nil {
			g.Longitude, g.Latitude = centroid(f.Geometry.Coordinates)
		}
		out = append(out, g)
	}
	return out, nil
}

// ListMunicipalities returns every municipality once, sorted by name.
func (c *CBSGeoClient) ListMunicipalities(ctx context.Context) ([]models.Municipality, error) {
	features, err := c.features(ctx, "wijkenbuurten:gemeenten", "")
	if err != nil {
		return nil, err
	}

	seen := make(map[string]models.Municipality, len(features))
	for _, f := range features {
		name := f.prop("gemeentenaam")
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = models.Municipality{Code: f.prop("gemeentecode"), Name: name}
	}

	out := make([]models.Municipality, 0, len(seen))
	for _, m := range seen {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// municipalityFilter builds the OGC filter matching gemeentenaam.
func municipalityFilter(name string) string {
	var escaped bytes.Buffer
	_ = xml.EscapeText(&escaped, []byte(name))
	return `<Filter><PropertyIsEqualTo matchCase="false"><PropertyName>gemeentenaam</PropertyName><Literal>` +
		escaped.String() + `</Literal></PropertyIsEqualTo></Filter>`
}

// centroid averages every position in a GeoJSON coordinates array of any
// nesting depth.
func centroid(raw json.RawMessage) (lon, lat float64) {
	var sumLon, sumLat float64
	var n int
	var walk func(json.RawMessage)
	walk = func(r json.RawMessage) {
		var pos []float64
		if err := json.Unmarshal(r, &pos); err == nil && len(pos) >= 2 {
			sumLon += pos[0]
			sumLat += pos[1]
			n++
			return
		}
		var nested []json.RawMessage
		if err := json.Unmarshal(r, &nested); err != nil {
			return
		}
		for _, child := range nested {
			walk(child)
		}
	}
	if len(raw) > 0 {
		walk(raw)
	}
	if n == 0 {
		return 0, 0
	}
	return sumLon / float64(n), sumLat / float64(n)
}
