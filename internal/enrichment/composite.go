package enrichment

import "github.com/raphaelgruber/livability/internal/models"

// Weights maps categories to their relative importance in the composite.
type Weights map[models.Category]float64

// DefaultWeights are used when no weights file is configured.
func DefaultWeights() Weights {
	return Weights{
		models.CategorySocial:       0.20,
		models.CategorySafety:       0.20,
		models.CategoryDemographics: 0.10,
		models.CategoryAmenities:    0.25,
		models.CategoryEnvironment:  0.10,
	}
}

// Compose returns the weighted average of the category scores present in
// both maps, renormalized over those categories. ok is false when no
// category can be scored; callers must treat that as "unscored", not 0.
func Compose(scores map[models.Category]float64, weights Weights) (score float64, ok bool) {
	var sum, totalWeight float64
	for cat, s := range scores {
		w, found := weights[cat]
		if !found || w <= 0 {
			continue
		}
		sum += s * w
		totalWeight += w
	}
	if totalWeight == 0 {
		return 0, false
	}
	return models.Round1(models.Clamp(sum/totalWeight, 0, 100)), true
}
