package enrichment

import (
	"github.com/raphaelgruber/livability/internal/models"
)

// BuildResult is the output of a metric builder.
type BuildResult struct {
	Metrics []models.ContextMetric
	Score   *float64
	Warning string
}

// Builder turns one source payload into category metrics. Builders are pure:
// the same payload always yields the same result.
type Builder interface {
	Category() models.Category
	Build(data any) BuildResult
}

// typedBuilder implements Builder for a concrete payload type.
type typedBuilder[T any] struct {
	category    models.Category
	unavailable string
	metrics     func(*T) []models.ContextMetric
}

func (b typedBuilder[T]) Category() models.Category { return b.category }

func (b typedBuilder[T]) Build(data any) BuildResult {
	payload, _ := data.(*T)
	if payload == nil {
		return BuildResult{Warning: b.unavailable}
	}

	metrics := b.metrics(payload)
	score := AverageScore(metrics)
	if score == nil {
		// Nothing scorable: report the category as missing rather than
		// listing metrics without a category score.
		return BuildResult{Warning: b.unavailable}
	}
	return BuildResult{Metrics: metrics, Score: score}
}

// AverageScore is the mean of all non-nil metric scores rounded to one
// decimal, or nil when no metric carries a score.
func AverageScore(metrics []models.ContextMetric) *float64 {
	var sum float64
	var n int
	for _, m := range metrics {
		if m.Score != nil {
			sum += *m.Score
			n++
		}
	}
	if n == 0 {
		return nil
	}
	return models.Ptr(models.Round1(sum / float64(n)))
}

func metric(key, label string, value *float64, unit string, score *float64, source string) models.ContextMetric {
	return models.ContextMetric{Key: key, Label: label, Value: value, Unit: unit, Score: score, Source: source}
}

func intValue(v *int) *float64 {
	if v == nil {
		return nil
	}
	return models.Ptr(float64(*v))
}
