package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/livability/internal/models"
)

func TestUpsertNeighborhoodsPreservesIdentity(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	store := NewNeighborhoodStore(testDB)
	now := time.Now().UTC().Truncate(time.Millisecond)

	require.NoError(t, store.Upsert(ctx, []models.Neighborhood{{
		Code: "BU03440000", Name: "Binnenstad", City: "Utrecht", Type: "Buurt",
		Latitude: 52.09, Longitude: 5.12, LastUpdated: now.Add(-time.Hour),
	}}))

	require.NoError(t, store.Upsert(ctx, []models.Neighborhood{
		{
			Code: "BU03440000", Name: "Renamed", City: "Utrecht", Type: "Buurt",
			Latitude: 52.09, Longitude: 5.12, LastUpdated: now,
			PopulationDensity: models.Ptr(8100), AverageWozValue: models.Ptr(412000.0),
			CrimeRate: models.Ptr(55.5), LivabilityScore: models.Ptr(71.2),
		},
		{
			Code: "BU03440001", Name: "Wijk C", City: "Utrecht", Type: "Buurt",
			Latitude: 52.10, Longitude: 5.11, LastUpdated: now,
		},
	}))

	rows, err := store.ListByCity(ctx, "utrecht")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	first := rows[0]
	assert.Equal(t, "BU03440000", first.Code)
	assert.Equal(t, "Binnenstad", first.Name)
	require.NotNil(t, first.PopulationDensity)
	assert.Equal(t, 8100, *first.PopulationDensity)
	require.NotNil(t, first.LivabilityScore)
	assert.Equal(t, 71.2, *first.LivabilityScore)
	assert.True(t, now.Equal(first.LastUpdated))

	assert.Equal(t, "Wijk C", rows[1].Name)
	assert.Nil(t, rows[1].CrimeRate)

	status, err := store.DatasetStatus(ctx)
	require.NoError(t, err)
	require.Len(t, status, 1)
	assert.Equal(t, "Utrecht", status[0].City)
	assert.Equal(t, 2, status[0].NeighborhoodCount)
	require.NotNil(t, status[0].LastUpdated)
}

func TestUpsertNeighborhoodsEmptyBatch(t *testing.T) {
	requireDB(t)
	assert.NoError(t, NewNeighborhoodStore(testDB).Upsert(context.Background(), nil))
}
