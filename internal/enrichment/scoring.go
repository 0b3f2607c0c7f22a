package enrichment

import "github.com/raphaelgruber/livability/internal/models"

// band maps a value to the score of the first threshold it does not exceed.
type band struct {
	max   float64
	score float64
}

func scoreBands(v *float64, bands []band, otherwise float64) *float64 {
	if v == nil {
		return nil
	}
	for _, b := range bands {
		if *v <= b.max {
			return models.Ptr(b.score)
		}
	}
	return models.Ptr(otherwise)
}

func clampScore(v float64) *float64 {
	return models.Ptr(models.Round1(models.Clamp(v, 0, 100)))
}

// ScoreDensity favors moderately urban densities (residents per km²).
func ScoreDensity(density *float64) *float64 {
	return scoreBands(density, []band{{500, 65}, {1500, 85}, {3500, 100}, {7000, 70}}, 50)
}

// ScoreLowIncome penalizes the share of low-income households.
func ScoreLowIncome(percent *float64) *float64 {
	if percent == nil {
		return nil
	}
	return clampScore(100 - *percent*8)
}

// ScoreWoz rewards higher average property values (thousands of euros).
func ScoreWoz(kEur *float64) *float64 {
	if kEur == nil {
		return nil
	}
	return clampScore((*kEur - 150) / 3)
}

// ScoreTotalCrime scores total crime per 1000 residents; higher is safer.
func ScoreTotalCrime(per1000 *float64) *float64 {
	return scoreBands(per1000, []band{{20, 100}, {35, 85}, {50, 70}, {75, 50}, {100, 30}}, 15)
}

// ScoreBurglary scores burglaries per 1000 residents.
func ScoreBurglary(per1000 *float64) *float64 {
	return scoreBands(per1000, []band{{2, 100}, {5, 80}, {10, 60}, {15, 40}}, 20)
}

// ScoreViolentCrime scores violent crime per 1000 residents.
func ScoreViolentCrime(per1000 *float64) *float64 {
	return scoreBands(per1000, []band{{2, 100}, {5, 75}, {10, 50}}, 25)
}

// ScoreFamilyFriendly combines family share, children share and household
// size around a neutral 50.
func ScoreFamilyFriendly(d *Demographics) *float64 {
	if d.PercentFamilyHouseholds == nil && d.PercentAge0To14 == nil && d.AverageHouseholdSize == nil {
		return nil
	}
	score := 50.0
	if d.PercentFamilyHouseholds != nil {
		score += (*d.PercentFamilyHouseholds - 20) * 1.5
	}
	if d.PercentAge0To14 != nil {
		score += (*d.PercentAge0To14 - 15) * 2
	}
	if d.AverageHouseholdSize != nil {
		score += (*d.AverageHouseholdSize - 2) * 15
	}
	return clampScore(score)
}

// ScoreAmenityProximity scores the distance in meters to the nearest amenity.
func ScoreAmenityProximity(meters *float64) *float64 {
	return scoreBands(meters, []band{{250, 100}, {500, 85}, {1000, 70}, {1500, 55}, {2000, 40}}, 25)
}

// ScoreAmenityCount scores the number of amenities in the radius.
func ScoreAmenityCount(total int) *float64 {
	return clampScore(float64(total) * 5)
}

// ScorePM25 scores the PM2.5 concentration in µg/m³.
func ScorePM25(pm25 *float64) *float64 {
	return scoreBands(pm25, []band{{5, 100}, {10, 85}, {15, 70}, {25, 50}, {35, 25}}, 10)
}
