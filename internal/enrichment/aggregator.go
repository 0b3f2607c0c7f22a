package enrichment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/raphaelgruber/livability/internal/metrics"
	"github.com/raphaelgruber/livability/internal/models"
)

// SourceResult is the outcome of one source fetch. Data is nil on failure.
type SourceResult struct {
	Data     any
	Err      error
	TimedOut bool
	Duration time.Duration
}

// Failed reports whether the source errored or did not finish in time.
func (r SourceResult) Failed() bool {
	return r.Err != nil || r.TimedOut
}

// AggregateResult collects every source outcome for one location.
type AggregateResult struct {
	PerSource map[SourceName]SourceResult
	Warnings  []string
}

// Degraded reports whether any source failed.
func (r AggregateResult) Degraded() bool {
	for _, res := range r.PerSource {
		if res.Failed() {
			return true
		}
	}
	return false
}

// TimedOut reports whether the context expired before all sources returned.
func (r AggregateResult) TimedOut() bool {
	for _, res := range r.PerSource {
		if res.TimedOut {
			return true
		}
	}
	return false
}

// Aggregator fans out to all sources concurrently.
type Aggregator struct {
	sources []Source
	logger  *slog.Logger
	metrics *metrics.Collector
}

// NewAggregator creates an aggregator over the given sources.
func NewAggregator(sources []Source, logger *slog.Logger, collector *metrics.Collector) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{sources: sources, logger: logger, metrics: collector}
}

type fetchOutcome struct {
	name     SourceName
	data     any
	err      error
	duration time.Duration
}

// Aggregate calls every source with ctx and waits for all of them or for
// ctx to expire. A failing source never cancels its siblings; it yields nil
// data and exactly one warning.
func (a *Aggregator) Aggregate(ctx context.Context, loc models.ResolvedLocation, radiusMeters int) AggregateResult {
	result := AggregateResult{PerSource: make(map[SourceName]SourceResult, len(a.sources))}
	if len(a.sources) == 0 {
		return result
	}

	// Buffered so late goroutines never block after a timeout.
	outcomes := make(chan fetchOutcome, len(a.sources))
	for _, src := range a.sources {
		go func(src Source) {
			start := time.Now()
			data, err := fetchSafely(ctx, src, loc, radiusMeters)
			outcomes <- fetchOutcome{name: src.Name(), data: data, err: err, duration: time.Since(start)}
		}(src)
	}

	received := 0
collect:
	for received < len(a.sources) {
		select {
		case o := <-outcomes:
			received++
			result.PerSource[o.name] = SourceResult{Data: o.data, Err: o.err, Duration: o.duration}
			if o.err != nil {
				a.metrics.RecordFailure(metrics.SourceOp(string(o.name)), o.duration)
				a.logger.Warn("context source failed; continuing with partial data",
					"source", o.name, "error", o.err)
			} else {
				a.metrics.RecordTiming(metrics.SourceOp(string(o.name)), o.duration)
			}
		case <-ctx.Done():
			break collect
		}
	}

	// Warnings follow registration order so reports are stable.
	for _, src := range a.sources {
		res, done := result.PerSource[src.Name()]
		switch {
		case !done:
			result.PerSource[src.Name()] = SourceResult{TimedOut: true, Err: ctx.Err()}
			result.Warnings = append(result.Warnings, fmt.Sprintf("Source %s unavailable (timed out)", src.Name()))
			a.logger.Warn("context source timed out", "source", src.Name())
		case res.Err != nil:
			result.Warnings = append(result.Warnings, fmt.Sprintf("Source %s unavailable", src.Name()))
		}
	}
	return result
}

// fetchSafely checks ctx before calling the source and converts panics into
// errors.
func fetchSafely(ctx context.Context, src Source, loc models.ResolvedLocation, radiusMeters int) (data any, err error) {
	defer func() {
		if r := recover(); r != nil {
			data, err = nil, fmt.Errorf("source %s panicked: %v", src.Name(), r)
		}
	}()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err = src.Fetch(ctx, loc, radiusMeters)
	if err != nil {
		return nil, err
	}
	return data, nil
}
