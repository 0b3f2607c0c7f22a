package models

import "time"

// Neighborhood is a persisted CBS neighborhood with denormalized statistics.
// Code is the natural key.
type Neighborhood struct {
	Code      string  `json:"code"`
	Name      string  `json:"name"`
	City      string  `json:"city"`
	Type      string  `json:"type"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`

	// Stat fields, refreshed on every ingestion.
	PopulationDensity *int     `json:"population_density,omitempty"`
	AverageWozValue   *float64 `json:"average_woz_value,omitempty"`
	CrimeRate         *float64 `json:"crime_rate,omitempty"`
	LivabilityScore   *float64 `json:"livability_score,omitempty"`

	LastUpdated time.Time `json:"last_updated"`
}

// NeighborhoodGeometry is a neighborhood as listed by the geo service.
type NeighborhoodGeometry struct {
	Code      string
	Name      string
	Type      string
	Latitude  float64
	Longitude float64
}

// Municipality is a CBS municipality as listed by the geo service.
type Municipality struct {
	Code string
	Name string
}

// CityDatasetStatus summarizes ingested neighborhoods for one city.
type CityDatasetStatus struct {
	City              string     `json:"city"`
	NeighborhoodCount int        `json:"neighborhood_count"`
	LastUpdated       *time.Time `json:"last_updated,omitempty"`
}
