package models

import (
	"maps"
	"slices"
	"time"
)

// Category identifies one enrichment dimension of a report.
type Category string

const (
	CategorySocial       Category = "Social"
	CategorySafety       Category = "Safety"
	CategoryDemographics Category = "Demographics"
	CategoryAmenities    Category = "Amenities"
	CategoryEnvironment  Category = "Environment"
)

// KnownCategories lists every category in report order.
var KnownCategories = []Category{
	CategorySocial,
	CategorySafety,
	CategoryDemographics,
	CategoryAmenities,
	CategoryEnvironment,
}

// ContextMetric is a single labeled indicator produced by a metric builder.
type ContextMetric struct {
	Key    string   `json:"key"`
	Label  string   `json:"label"`
	Value  *float64 `json:"value,omitempty"`
	Unit   string   `json:"unit,omitempty"`
	Score  *float64 `json:"score,omitempty"`
	Source string   `json:"source"`
	Note   string   `json:"note,omitempty"`
}

// SourceAttribution credits an upstream data provider.
type SourceAttribution struct {
	Name        string    `json:"name"`
	URL         string    `json:"url"`
	License     string    `json:"license"`
	RetrievedAt time.Time `json:"retrieved_at"`
}

// ContextReport is the enriched view of one location.
type ContextReport struct {
	Location ResolvedLocation `json:"location"`

	SocialMetrics       []ContextMetric `json:"social_metrics"`
	CrimeMetrics        []ContextMetric `json:"crime_metrics"`
	DemographicsMetrics []ContextMetric `json:"demographics_metrics"`
	AmenityMetrics      []ContextMetric `json:"amenity_metrics"`
	EnvironmentMetrics  []ContextMetric `json:"environment_metrics"`

	// CompositeScore is nil when no category could be scored.
	CompositeScore *float64             `json:"composite_score,omitempty"`
	CategoryScores map[Category]float64 `json:"category_scores"`

	Sources  []SourceAttribution `json:"sources"`
	Warnings []string            `json:"warnings"`

	RadiusMeters int       `json:"radius_meters"`
	GeneratedAt  time.Time `json:"generated_at"`
}

// MetricsFor returns the metric list of a category.
func (r *ContextReport) MetricsFor(c Category) []ContextMetric {
	switch c {
	case CategorySocial:
		return r.SocialMetrics
	case CategorySafety:
		return r.CrimeMetrics
	case CategoryDemographics:
		return r.DemographicsMetrics
	case CategoryAmenities:
		return r.AmenityMetrics
	case CategoryEnvironment:
		return r.EnvironmentMetrics
	}
	return nil
}

// SetMetrics stores the metric list of a category.
func (r *ContextReport) SetMetrics(c Category, metrics []ContextMetric) {
	switch c {
	case CategorySocial:
		r.SocialMetrics = metrics
	case CategorySafety:
		r.CrimeMetrics = metrics
	case CategoryDemographics:
		r.DemographicsMetrics = metrics
	case CategoryAmenities:
		r.AmenityMetrics = metrics
	case CategoryEnvironment:
		r.EnvironmentMetrics = metrics
	}
}

// FindMetric returns the first metric with the given key across all categories.
func (r *ContextReport) FindMetric(key string) (ContextMetric, bool) {
	for _, c := range KnownCategories {
		for _, m := range r.MetricsFor(c) {
			if m.Key == key {
				return m, true
			}
		}
	}
	return ContextMetric{}, false
}

// Clone returns a deep copy. Cached reports are handed out as clones so a
// caller mutating its copy cannot corrupt the cached value.
func (r *ContextReport) Clone() *ContextReport {
	if r == nil {
		return nil
	}
	out := *r
	out.Location = cloneLocation(r.Location)
	out.SocialMetrics = cloneMetrics(r.SocialMetrics)
	out.CrimeMetrics = cloneMetrics(r.CrimeMetrics)
	out.DemographicsMetrics = cloneMetrics(r.DemographicsMetrics)
	out.AmenityMetrics = cloneMetrics(r.AmenityMetrics)
	out.EnvironmentMetrics = cloneMetrics(r.EnvironmentMetrics)
	out.CategoryScores = maps.Clone(r.CategoryScores)
	out.Sources = slices.Clone(r.Sources)
	out.Warnings = slices.Clone(r.Warnings)
	if r.CompositeScore != nil {
		out.CompositeScore = Ptr(*r.CompositeScore)
	}
	return &out
}

func cloneMetrics(in []ContextMetric) []ContextMetric {
	if in == nil {
		return nil
	}
	out := make([]ContextMetric, len(in))
	for i, m := range in {
		out[i] = m
		if m.Value != nil {
			out[i].Value = Ptr(*m.Value)
		}
		if m.Score != nil {
			out[i].Score = Ptr(*m.Score)
		}
	}
	return out
}

func cloneLocation(l ResolvedLocation) ResolvedLocation {
	out := l
	out.RdX = clonePtr(l.RdX)
	out.RdY = clonePtr(l.RdY)
	out.MunicipalityCode = clonePtr(l.MunicipalityCode)
	out.MunicipalityName = clonePtr(l.MunicipalityName)
	out.DistrictCode = clonePtr(l.DistrictCode)
	out.DistrictName = clonePtr(l.DistrictName)
	out.NeighborhoodCode = clonePtr(l.NeighborhoodCode)
	out.NeighborhoodName = clonePtr(l.NeighborhoodName)
	out.PostalCode = clonePtr(l.PostalCode)
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	return Ptr(*p)
}
