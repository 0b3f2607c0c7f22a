package enrichment

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/raphaelgruber/livability/internal/metrics"
	"github.com/raphaelgruber/livability/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func staticSource(name SourceName, data any, err error) Source {
	return SourceFunc{SourceName: name, Fn: func(ctx context.Context, _ models.ResolvedLocation, _ int) (any, error) {
		return data, err
	}}
}

func TestAggregateAllSucceed(t *testing.T) {
	agg := NewAggregator([]Source{
		staticSource(SourceNeighborhoodStats, &NeighborhoodStats{}, nil),
		staticSource(SourceCrimeStats, &CrimeStats{}, nil),
	}, nil, nil)

	res := agg.Aggregate(context.Background(), models.ResolvedLocation{}, 1000)
	require.Len(t, res.PerSource, 2)
	assert.Empty(t, res.Warnings)
	assert.False(t, res.Degraded())
	assert.NotNil(t, res.PerSource[SourceCrimeStats].Data)
}

func TestAggregateFailureIsLocal(t *testing.T) {
	var siblingFinished atomic.Bool
	slow := SourceFunc{SourceName: SourceAmenities, Fn: func(ctx context.Context, _ models.ResolvedLocation, _ int) (any, error) {
		select {
		case <-time.After(50 * time.Millisecond):
			siblingFinished.Store(true)
			return &AmenityStats{SchoolCount: 1}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}}
	collector := metrics.NewCollector()
	agg := NewAggregator([]Source{
		staticSource(SourceAirQuality, nil, errors.New("503 service unavailable")),
		slow,
	}, nil, collector)

	res := agg.Aggregate(context.Background(), models.ResolvedLocation{}, 1000)

	assert.True(t, siblingFinished.Load(), "failing source must not cancel siblings")
	assert.Nil(t, res.PerSource[SourceAirQuality].Data)
	assert.Error(t, res.PerSource[SourceAirQuality].Err)
	assert.NotNil(t, res.PerSource[SourceAmenities].Data)
	assert.Equal(t, []string{"Source Luchtmeetnet unavailable"}, res.Warnings, "exactly one warning per failed source")
	assert.True(t, res.Degraded())
	assert.False(t, res.TimedOut())

	snap := collector.Snapshot()
	require.Len(t, snap.Operations, 2)
}

func TestAggregatePanicBecomesFailure(t *testing.T) {
	agg := NewAggregator([]Source{
		SourceFunc{SourceName: SourceCrimeStats, Fn: func(context.Context, models.ResolvedLocation, int) (any, error) {
			panic("boom")
		}},
	}, nil, nil)

	res := agg.Aggregate(context.Background(), models.ResolvedLocation{}, 1000)
	assert.Error(t, res.PerSource[SourceCrimeStats].Err)
	assert.Equal(t, []string{"Source CBS Crime unavailable"}, res.Warnings)
}

func TestAggregateTimeoutMarksPendingSources(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	agg := NewAggregator([]Source{
		staticSource(SourceNeighborhoodStats, &NeighborhoodStats{}, nil),
		SourceFunc{SourceName: SourceAmenities, Fn: func(context.Context, models.ResolvedLocation, int) (any, error) {
			<-block // ignores ctx on purpose
			return &AmenityStats{}, nil
		}},
	}, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	res := agg.Aggregate(ctx, models.ResolvedLocation{}, 1000)
	assert.NotNil(t, res.PerSource[SourceNeighborhoodStats].Data)
	assert.True(t, res.PerSource[SourceAmenities].TimedOut)
	assert.Nil(t, res.PerSource[SourceAmenities].Data)
	assert.Equal(t, []string{"Source Overpass unavailable (timed out)"}, res.Warnings)
	assert.True(t, res.TimedOut())
}

func TestAggregateNilTypedPayload(t *testing.T) {
	var none *CrimeStats
	typed := typedStub{name: SourceCrimeStats, payload: none}
	agg := NewAggregator([]Source{Erase[CrimeStats](typed)}, nil, nil)

	res := agg.Aggregate(context.Background(), models.ResolvedLocation{}, 1000)
	assert.Nil(t, res.PerSource[SourceCrimeStats].Data, "typed nil must become untyped nil")
	assert.Empty(t, res.Warnings, "no data is not a failure")
	assert.Equal(t, WarningSafetyUnavailable, SafetyBuilder().Build(res.PerSource[SourceCrimeStats].Data).Warning)
}

type typedStub struct {
	name    SourceName
	payload *CrimeStats
}

func (s typedStub) Name() SourceName { return s.name }

func (s typedStub) Fetch(context.Context, models.ResolvedLocation, int) (*CrimeStats, error) {
	return s.payload, nil
}
