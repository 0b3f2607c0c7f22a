package sources

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"unicode"

	"github.com/raphaelgruber/livability/internal/models"
)

// DefaultPDOKURL is the public PDOK API host.
const DefaultPDOKURL = "https://api.pdok.nl"

// PDOKResolver geocodes addresses with the PDOK Locatieserver.
type PDOKResolver struct {
	http    *HTTPClient
	baseURL string
}

// NewPDOKResolver creates a resolver against baseURL.
func NewPDOKResolver(client *HTTPClient, baseURL string) *PDOKResolver {
	if baseURL == "" {
		baseURL = DefaultPDOKURL
	}
	return &PDOKResolver{http: client, baseURL: trimBase(baseURL)}
}

type pdokResponse struct {
	Response struct {
		Docs []pdokDoc `json:"docs"`
	} `json:"response"`
}

type pdokDoc struct {
	DisplayName      string `json:"weergavenaam"`
	CentroidLL       string `json:"centroide_ll"`
	CentroidRD       string `json:"centroide_rd"`
	MunicipalityCode string `json:"gemeentecode"`
	MunicipalityName string `json:"gemeentenaam"`
	DistrictCode     string `json:"wijkcode"`
	DistrictName     string `json:"wijknaam"`
	NeighborhoodCode string `json:"buurtcode"`
	NeighborhoodName string `json:"buurtnaam"`
	PostalCode       string `json:"postcode"`
}

// Resolve looks up the best address match for input. It returns nil when
// nothing matches or the match has no usable coordinates.
func (r *PDOKResolver) Resolve(ctx context.Context, input string) (*models.ResolvedLocation, error) {
	query := NormalizeInput(input)
	if query == "" {
		return nil, nil
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("fq", "type:adres")
	params.Set("rows", "1")
	endpoint := r.baseURL + "/bzk/locatieserver/search/v3_1/free?" + params.Encode()

	var resp pdokResponse
	if err := r.http.getJSON(ctx, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("resolve %q: %w", query, err)
	}
	if len(resp.Response.Docs) == 0 {
		return nil, nil
	}

	doc := resp.Response.Docs[0]
	lon, lat, ok := parseWKTPoint(doc.CentroidLL)
	if !ok {
		return nil, nil
	}

	display := doc.DisplayName
	if display == "" {
		display = query
	}
	loc := &models.ResolvedLocation{
		Query:            input,
		DisplayAddress:   display,
		Latitude:         lat,
		Longitude:        lon,
		MunicipalityCode: prefixCode(doc.MunicipalityCode, "GM"),
		MunicipalityName: optString(doc.MunicipalityName),
		DistrictCode:     optString(doc.DistrictCode),
		DistrictName:     optString(doc.DistrictName),
		NeighborhoodCode: optString(doc.NeighborhoodCode),
		NeighborhoodName: optString(doc.NeighborhoodName),
		PostalCode:       optString(doc.PostalCode),
	}
	if x, y, ok := parseWKTPoint(doc.CentroidRD); ok {
		loc.RdX, loc.RdY = &x, &y
	}
	return loc, nil
}

// NormalizeInput turns a listing URL into a search phrase. Query parameters
// q, query and address win over the last path segment, whose dashes become
// spaces. Plain text is returned trimmed.
func NormalizeInput(input string) string {
	input = strings.TrimSpace(input)
	u, err := url.Parse(input)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return input
	}

	for _, key := range []string{"q", "query", "address"} {
		if v := strings.TrimSpace(u.Query().Get(key)); v != "" {
			return v
		}
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := len(segments) - 1; i >= 0; i-- {
		seg := segments[i]
		if strings.IndexFunc(seg, unicode.IsLetter) < 0 {
			continue
		}
		return strings.Join(strings.FieldsFunc(seg, func(r rune) bool { return r == '-' || r == '_' }), " ")
	}
	return input
}

// parseWKTPoint parses "POINT(x y)".
func parseWKTPoint(s string) (x, y float64, ok bool) {
	s = strings.TrimSpace(s)
	const prefix = "POINT("
	if len(s) <= len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) || !strings.HasSuffix(s, ")") {
		return 0, 0, false
	}
	parts := strings.Fields(s[len(prefix) : len(s)-1])
	if len(parts) != 2 {
		return 0, 0, false
	}
	x, errX := strconv.ParseFloat(parts[0], 64)
	y, errY := strconv.ParseFloat(parts[1], 64)
	if errX != nil || errY != nil {
		return 0, 0, false
	}
	return x, y, true
}

func prefixCode(code, prefix string) *string {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil
	}
	if strings.HasPrefix(strings.ToUpper(code), prefix) {
		code = strings.ToUpper(code)
	} else {
		code = prefix + code
	}
	return &code
}

func optString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
