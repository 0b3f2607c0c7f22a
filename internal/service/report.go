package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/raphaelgruber/livability/internal/cache"
	"github.com/raphaelgruber/livability/internal/enrichment"
	"github.com/raphaelgruber/livability/internal/metrics"
	"github.com/raphaelgruber/livability/internal/models"
)

// Radius limits for report requests, in meters.
const (
	MinRadiusMeters     = 200
	MaxRadiusMeters     = 5000
	DefaultRadiusMeters = 1000
)

// ReportRequest asks for the context of a free-text address.
type ReportRequest struct {
	Input        string
	RadiusMeters int
}

// ReportConfig tunes report building.
type ReportConfig struct {
	Weights     enrichment.Weights
	CacheTTL    time.Duration
	DegradedTTL time.Duration
	// ResolverAttribution credits the geocoder on every report.
	ResolverAttribution *models.SourceAttribution
}

// ContextReportService builds context reports for addresses and locations.
type ContextReportService struct {
	resolver   LocationResolver
	registry   *enrichment.Registry
	aggregator *enrichment.Aggregator
	cache      cache.ReportCache
	cfg        ReportConfig
	logger     *slog.Logger
	metrics    *metrics.Collector
	now        func() time.Time
}

// NewContextReportService wires the pipeline. reportCache may be nil to
// disable caching.
func NewContextReportService(
	resolver LocationResolver,
	registry *enrichment.Registry,
	reportCache cache.ReportCache,
	cfg ReportConfig,
	logger *slog.Logger,
	collector *metrics.Collector,
) *ContextReportService {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Weights == nil {
		cfg.Weights = enrichment.DefaultWeights()
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	if cfg.DegradedTTL <= 0 || cfg.DegradedTTL > cfg.CacheTTL {
		cfg.DegradedTTL = min(2*time.Minute, cfg.CacheTTL)
	}
	return &ContextReportService{
		resolver:   resolver,
		registry:   registry,
		aggregator: enrichment.NewAggregator(registry.Sources(), logger, collector),
		cache:      reportCache,
		cfg:        cfg,
		logger:     logger,
		metrics:    collector,
		now:        time.Now,
	}
}

// NormalizeRadius clamps the radius to the supported range. The returned
// warning is empty when no clamping was needed.
func NormalizeRadius(requested int) (int, string) {
	if requested <= 0 {
		return DefaultRadiusMeters, ""
	}
	clamped := max(MinRadiusMeters, min(MaxRadiusMeters, requested))
	if clamped != requested {
		return clamped, fmt.Sprintf("Radius clamped from %dm to %dm to respect system limits.", requested, clamped)
	}
	return clamped, ""
}

// Build resolves the input and returns its context report.
func (s *ContextReportService) Build(ctx context.Context, req ReportRequest) (*models.ContextReport, error) {
	input := strings.TrimSpace(req.Input)
	if input == "" {
		return nil, &ValidationError{Message: "Input is required."}
	}
	radius, radiusWarning := NormalizeRadius(req.RadiusMeters)

	loc, err := s.resolver.Resolve(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("resolve location: %w", err)
	}
	if loc == nil {
		return nil, &ValidationError{Message: "Could not resolve input to a Dutch address."}
	}

	report, err := s.BuildForLocation(ctx, *loc, radius)
	if err != nil {
		return nil, err
	}
	if radiusWarning != "" {
		report.Warnings = append([]string{radiusWarning}, report.Warnings...)
	}
	return report, nil
}

// BuildForLocation returns the report for an already resolved location.
// Source failures and timeouts degrade the report; only an explicit
// cancellation of ctx is returned as an error.
func (s *ContextReportService) BuildForLocation(ctx context.Context, loc models.ResolvedLocation, radiusMeters int) (*models.ContextReport, error) {
	radius, _ := NormalizeRadius(radiusMeters)
	key := cache.Key(loc.Latitude, loc.Longitude, radius)

	if cached, ok := s.cacheGet(ctx, key); ok {
		cached.Location = loc
		return cached, nil
	}

	start := s.now()
	agg := s.aggregator.Aggregate(ctx, loc, radius)
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil, ctx.Err()
	}

	report := s.assemble(loc, radius, agg)
	s.metrics.RecordTiming(metrics.OpReportBuild, s.now().Sub(start))

	switch {
	case agg.TimedOut():
		s.logger.Debug("report not cached: sources timed out", "key", key)
	case agg.Degraded():
		s.cacheSet(ctx, key, report, s.cfg.DegradedTTL)
	default:
		s.cacheSet(ctx, key, report, s.cfg.CacheTTL)
	}
	return report, nil
}

// assemble runs every builder over the aggregated payloads.
func (s *ContextReportService) assemble(loc models.ResolvedLocation, radius int, agg enrichment.AggregateResult) *models.ContextReport {
	now := s.now().UTC()
	report := &models.ContextReport{
		Location:       loc,
		CategoryScores: make(map[models.Category]float64),
		Warnings:       append([]string{}, agg.Warnings...),
		RadiusMeters:   radius,
		GeneratedAt:    now,
	}
	if s.cfg.ResolverAttribution != nil {
		attr := *s.cfg.ResolverAttribution
		attr.RetrievedAt = now
		report.Sources = append(report.Sources, attr)
	}

	for _, reg := range s.registry.Entries() {
		res := agg.PerSource[reg.Source.Name()]
		built := reg.Builder.Build(res.Data)

		cat := reg.Builder.Category()
		report.SetMetrics(cat, append(report.MetricsFor(cat), built.Metrics...))
		if built.Score != nil {
			report.CategoryScores[cat] = *built.Score
		}
		if built.Warning != "" {
			report.Warnings = append(report.Warnings, built.Warning)
		}
		if res.Data != nil {
			attr := reg.Attribution
			attr.RetrievedAt = now
			report.Sources = append(report.Sources, attr)
		}
	}

	if score, ok := enrichment.Compose(report.CategoryScores, s.cfg.Weights); ok {
		report.CompositeScore = models.Ptr(score)
	}
	return report
}

func (s *ContextReportService) cacheGet(ctx context.Context, key string) (*models.ContextReport, bool) {
	if s.cache == nil {
		return nil, false
	}
	report, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn("report cache read failed", "key", key, "error", err)
		return nil, false
	}
	if ok {
		s.metrics.Inc(metrics.CounterCacheHit)
	} else {
		s.metrics.Inc(metrics.CounterCacheMiss)
	}
	return report, ok
}

func (s *ContextReportService) cacheSet(ctx context.Context, key string, report *models.ContextReport, ttl time.Duration) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, report, ttl); err != nil {
		s.logger.Warn("report cache write failed", "key", key, "error", err)
	}
}
