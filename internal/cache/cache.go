// Package cache memoizes built context reports by coarse location.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/raphaelgruber/livability/internal/models"
)

// ReportCache stores reports by key. Implementations must be safe for
// concurrent use and must never hand out a value shared with another caller.
type ReportCache interface {
	Get(ctx context.Context, key string) (*models.ContextReport, bool, error)
	Set(ctx context.Context, key string, report *models.ContextReport, ttl time.Duration) error
}

// Key builds the report cache key. Coordinates are rounded to five
// decimals (about 1.1 m) so near-identical addresses share an entry.
func Key(lat, lon float64, radiusMeters int) string {
	return fmt.Sprintf("context-report:v3:%.5f_%.5f:%d", lat, lon, radiusMeters)
}
