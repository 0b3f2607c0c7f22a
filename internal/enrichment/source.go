// Package enrichment turns a resolved location into scored neighborhood
// context: it fans out to the registered sources, runs one metric builder
// per category and combines the category scores into a composite.
package enrichment

import (
	"context"

	"github.com/raphaelgruber/livability/internal/models"
)

// SourceName identifies a registered data source.
type SourceName string

// Names of the built-in sources.
const (
	SourceNeighborhoodStats SourceName = "CBS"
	SourceCrimeStats        SourceName = "CBS Crime"
	SourceDemographics      SourceName = "CBS Demographics"
	SourceAmenities         SourceName = "Overpass"
	SourceAirQuality        SourceName = "Luchtmeetnet"
)

// Source fetches raw data for one location. A nil payload with a nil error
// means the source has no data for the location.
type Source interface {
	Name() SourceName
	Fetch(ctx context.Context, loc models.ResolvedLocation, radiusMeters int) (any, error)
}

// TypedSource is a source with a concrete payload type.
type TypedSource[T any] interface {
	Name() SourceName
	Fetch(ctx context.Context, loc models.ResolvedLocation, radiusMeters int) (*T, error)
}

// Erase adapts a TypedSource to Source. A nil *T is returned as an untyped
// nil so builders can detect missing data with a plain nil check.
func Erase[T any](s TypedSource[T]) Source {
	return erased[T]{s}
}

type erased[T any] struct {
	src TypedSource[T]
}

func (e erased[T]) Name() SourceName { return e.src.Name() }

func (e erased[T]) Fetch(ctx context.Context, loc models.ResolvedLocation, radiusMeters int) (any, error) {
	v, err := e.src.Fetch(ctx, loc, radiusMeters)
	if err != nil || v == nil {
		return nil, err
	}
	return v, nil
}

// SourceFunc wraps a function as a Source.
type SourceFunc struct {
	SourceName SourceName
	Fn         func(ctx context.Context, loc models.ResolvedLocation, radiusMeters int) (any, error)
}

func (f SourceFunc) Name() SourceName { return f.SourceName }

func (f SourceFunc) Fetch(ctx context.Context, loc models.ResolvedLocation, radiusMeters int) (any, error) {
	return f.Fn(ctx, loc, radiusMeters)
}

// Registration pairs a source with the builder that consumes its payload.
type Registration struct {
	Source      Source
	Builder     Builder
	Attribution models.SourceAttribution
}

// Registry is the ordered set of source/builder pairs used for every report.
type Registry struct {
	entries []Registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a pair. Registration order is report order.
func (r *Registry) Register(src Source, b Builder, attr models.SourceAttribution) {
	r.entries = append(r.entries, Registration{Source: src, Builder: b, Attribution: attr})
}

// Entries returns the registered pairs.
func (r *Registry) Entries() []Registration {
	return r.entries
}

// Sources returns the registered sources in order.
func (r *Registry) Sources() []Source {
	out := make([]Source, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Source
	}
	return out
}
