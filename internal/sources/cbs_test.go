package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/livability/internal/models"
)

// cbsServer answers TypedDataSet queries from rows keyed by trimmed region
// code and records every requested code.
type cbsServer struct {
	mu    sync.Mutex
	codes []string
	rows  map[string]string
}

func (s *cbsServer) handler(t *testing.T, table string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/"+table+"/TypedDataSet", r.URL.Path)
		filter := r.URL.Query().Get("$filter")
		if !assert.True(t, strings.HasPrefix(filter, "WijkenEnBuurten eq '"), filter) {
			return
		}
		code := strings.TrimSuffix(strings.TrimPrefix(filter, "WijkenEnBuurten eq '"), "'")
		assert.Len(t, code, cbsRegionCodeWidth)

		s.mu.Lock()
		s.codes = append(s.codes, strings.TrimSpace(code))
		s.mu.Unlock()

		row, ok := s.rows[strings.TrimSpace(code)]
		if !ok {
			_, _ = w.Write([]byte(`{"value":[]}`))
			return
		}
		_, _ = w.Write([]byte(`{"value":[` + row + `]}`))
	}
}

func fixedNow() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func testCBSClient(url string) *CBSClient {
	c := NewCBSClient(testHTTPClient(), url)
	c.now = fixedNow
	return c
}

func amsterdamLocation() models.ResolvedLocation {
	return models.ResolvedLocation{
		Latitude:         52.37403,
		Longitude:        4.89369,
		MunicipalityCode: models.Ptr("GM0363"),
		DistrictCode:     models.Ptr("WK036300"),
		NeighborhoodCode: models.Ptr("BU03630000"),
	}
}

func TestRegionCandidates(t *testing.T) {
	got := regionCandidates(amsterdamLocation())
	assert.Equal(t, []string{"BU03630000", "WK036300  ", "GM0363    "}, got)

	assert.Empty(t, regionCandidates(models.ResolvedLocation{NeighborhoodCode: models.Ptr(" ")}))
}

func TestNeighborhoodStatsFallsBackToDistrict(t *testing.T) {
	cs := &cbsServer{rows: map[string]string{
		"WK036300": `{"WijkenEnBuurten":"WK036300  ","SoortRegio_2":"Wijk      ",
			"AantalInwoners_5":4120,"Bevolkingsdichtheid_34":"15210",
			"GemiddeldeWOZWaardeVanWoningen_36":412.0,"HuishoudensMetEenLaagInkomen_73":null}`,
	}}
	srv := httptest.NewServer(cs.handler(t, TableKeyFigures))
	defer srv.Close()

	stats, err := NeighborhoodStatsSource{testCBSClient(srv.URL)}.Fetch(context.Background(), amsterdamLocation(), 1000)
	require.NoError(t, err)
	require.NotNil(t, stats)

	assert.Equal(t, []string{"BU03630000", "WK036300"}, cs.codes)
	assert.Equal(t, "WK036300", stats.RegionCode)
	assert.Equal(t, "Wijk", stats.RegionType)
	assert.Equal(t, 4120, *stats.Residents)
	assert.Equal(t, 15210, *stats.PopulationDensity)
	assert.InDelta(t, 412.0, *stats.AverageWozValueKEur, 1e-9)
	assert.Nil(t, stats.LowIncomeHouseholdsPercent)
	assert.Equal(t, fixedNow(), stats.RetrievedAt)
}

func TestNeighborhoodStatsNoRegion(t *testing.T) {
	cs := &cbsServer{rows: map[string]string{}}
	srv := httptest.NewServer(cs.handler(t, TableKeyFigures))
	defer srv.Close()

	stats, err := NeighborhoodStatsSource{testCBSClient(srv.URL)}.Fetch(context.Background(), amsterdamLocation(), 1000)
	require.NoError(t, err)
	assert.Nil(t, stats)
	assert.Len(t, cs.codes, 3)

	stats, err = NeighborhoodStatsSource{testCBSClient(srv.URL)}.Fetch(context.Background(), models.ResolvedLocation{}, 1000)
	require.NoError(t, err)
	assert.Nil(t, stats)
}

func TestCrimeStatsRates(t *testing.T) {
	cs := &cbsServer{rows: map[string]string{
		"BU03630000": `{"WijkenEnBuurten":"BU03630000","AantalInwoners_5":2000,
			"TotaalDiefstalUitWoningSchuurED_106":15,
			"VernielingMisdrijfTegenOpenbareOrde_107":"21",
			"GeweldsEnSeksueleMisdrijven_108":null}`,
	}}
	srv := httptest.NewServer(cs.handler(t, TableRegional))
	defer srv.Close()

	crime, err := CrimeStatsSource{testCBSClient(srv.URL)}.Fetch(context.Background(), amsterdamLocation(), 1000)
	require.NoError(t, err)
	require.NotNil(t, crime)

	assert.Equal(t, 8.0, *crime.TheftPer1000)
	assert.Equal(t, 8.0, *crime.BurglaryPer1000)
	assert.Equal(t, 11.0, *crime.VandalismPer1000)
	assert.Nil(t, crime.ViolentCrimePer1000)
	assert.Equal(t, 19.0, *crime.TotalCrimesPer1000)
}

func TestRatePer1000(t *testing.T) {
	f := func(v float64) *float64 { return &v }

	assert.Nil(t, ratePer1000(nil, f(100)))
	assert.Equal(t, 12.0, *ratePer1000(f(12), nil))
	assert.Equal(t, 12.0, *ratePer1000(f(12), f(0)))
	assert.Equal(t, 3.0, *ratePer1000(f(5), f(2000)))
}

func TestDemographics(t *testing.T) {
	cs := &cbsServer{rows: map[string]string{
		"BU03630000": `{"WijkenEnBuurten":"BU03630000",
			"k_0Tot15Jaar_8":9,"k_15Tot25Jaar_9":18,"k_25Tot45Jaar_10":41,
			"k_45Tot65Jaar_11":21,"k_65JaarOfOuder_12":11,
			"GemiddeldeHuishoudensgrootte_32":"1.6","Koopwoningen_40":23,
			"Eenpersoonshuishoudens_29":62,"HuishoudensMetKinderen_31":12}`,
	}}
	srv := httptest.NewServer(cs.handler(t, TableRegional))
	defer srv.Close()

	demo, err := DemographicsSource{testCBSClient(srv.URL)}.Fetch(context.Background(), amsterdamLocation(), 1000)
	require.NoError(t, err)
	require.NotNil(t, demo)

	assert.Equal(t, 9.0, *demo.PercentAge0To14)
	assert.Equal(t, 11.0, *demo.PercentAge65Plus)
	assert.InDelta(t, 1.6, *demo.AverageHouseholdSize, 1e-9)
	assert.Equal(t, 23.0, *demo.PercentOwnerOccupied)
	assert.Equal(t, 62.0, *demo.PercentSingleHouseholds)
	assert.Equal(t, 12.0, *demo.PercentFamilyHouseholds)
}

func TestCBSServerErrorFailsSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := CrimeStatsSource{testCBSClient(srv.URL)}.Fetch(context.Background(), amsterdamLocation(), 1000)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}
