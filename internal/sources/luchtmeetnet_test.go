package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/livability/internal/models"
)

type luchtmeetnetFake struct {
	listCalls    atomic.Int32
	measurements string
}

func (f *luchtmeetnetFake) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/open_api/stations":
		f.listCalls.Add(1)
		if r.URL.Query().Get("page") != "1" {
			_, _ = w.Write([]byte(`{"pagination":{"last_page":1},"data":[]}`))
			return
		}
		_, _ = w.Write([]byte(`{"pagination":{"last_page":1},"data":[
			{"number":"NL49014","location":"Amsterdam-Vondelpark"},
			{"number":"NL10636","location":"Utrecht-Kardinaal de Jongweg"},
			{"number":"NL99999","location":"No geometry"}]}`))
	case "/open_api/stations/NL49014":
		_, _ = w.Write([]byte(`{"data":{"number":"NL49014","location":"Amsterdam-Vondelpark","geometry":{"type":"point","coordinates":[4.8605,52.3597]}}}`))
	case "/open_api/stations/NL10636":
		_, _ = w.Write([]byte(`{"data":{"number":"NL10636","location":"Utrecht-Kardinaal de Jongweg","geometry":{"type":"point","coordinates":[5.1077,52.1055]}}}`))
	case "/open_api/stations/NL99999":
		_, _ = w.Write([]byte(`{"data":{"number":"NL99999","location":"No geometry"}}`))
	case "/open_api/stations/NL49014/measurements":
		_, _ = w.Write([]byte(f.measurements))
	default:
		http.NotFound(w, r)
	}
}

func newLuchtmeetnet(t *testing.T, measurements string) (*LuchtmeetnetSource, *luchtmeetnetFake) {
	t.Helper()
	fake := &luchtmeetnetFake{measurements: measurements}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	src := NewLuchtmeetnetSource(testHTTPClient(), srv.URL, nil)
	src.now = fixedNow
	return src, fake
}

func TestLuchtmeetnetNearestStation(t *testing.T) {
	src, fake := newLuchtmeetnet(t, `{"data":[
		{"formula":"PM25","value":8.4,"timestamp_measured":"2026-03-01T11:00:00+00:00"},
		{"formula":"NO2","value":"21.5","timestamp_measured":"2026-03-01T11:00:00+00:00"},
		{"formula":"PM25","value":99,"timestamp_measured":"2026-03-01T10:00:00+00:00"},
		{"formula":"PM10","value":14.1,"timestamp_measured":"2026-03-01T11:00:00+00:00"}]}`)

	loc := models.ResolvedLocation{Latitude: 52.37403, Longitude: 4.89369}
	snap, err := src.Fetch(context.Background(), loc, 1000)
	require.NoError(t, err)
	require.NotNil(t, snap)

	assert.Equal(t, "NL49014", snap.StationID)
	assert.Equal(t, "Amsterdam-Vondelpark", snap.StationName)
	assert.InDelta(t, 2900, snap.StationDistanceMeters, 300)
	assert.Equal(t, 8.4, *snap.PM25)
	assert.Equal(t, 14.1, *snap.PM10)
	assert.Equal(t, 21.5, *snap.NO2)
	assert.Nil(t, snap.O3)
	require.NotNil(t, snap.MeasuredAt)
	assert.Equal(t, time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC), *snap.MeasuredAt)
	assert.Equal(t, fixedNow(), snap.RetrievedAt)

	_, err = src.Fetch(context.Background(), loc, 1000)
	require.NoError(t, err)
	assert.Equal(t, int32(1), fake.listCalls.Load(), "station list is cached")
}

func TestLuchtmeetnetNoSupportedReadings(t *testing.T) {
	src, _ := newLuchtmeetnet(t, `{"data":[{"formula":"SO2","value":1.2,"timestamp_measured":"2026-03-01T11:00:00+00:00"}]}`)

	snap, err := src.Fetch(context.Background(), models.ResolvedLocation{Latitude: 52.37, Longitude: 4.89}, 1000)
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestLuchtmeetnetNoStations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"pagination":{"last_page":1},"data":[]}`))
	}))
	defer srv.Close()

	snap, err := NewLuchtmeetnetSource(testHTTPClient(), srv.URL, nil).Fetch(context.Background(), models.ResolvedLocation{}, 1000)
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestNearestStation(t *testing.T) {
	_, _, ok := nearestStation(nil, 52, 4)
	assert.False(t, ok)

	st, d, ok := nearestStation([]station{
		{ID: "far", Lat: 53, Lon: 6},
		{ID: "near", Lat: 52.01, Lon: 4},
	}, 52, 4)
	require.True(t, ok)
	assert.Equal(t, "near", st.ID)
	assert.InDelta(t, 1112, d, 5)
}
