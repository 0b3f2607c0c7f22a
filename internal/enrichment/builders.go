package enrichment

import (
	"github.com/raphaelgruber/livability/internal/models"
)

const (
	labelCBSKeyFigures = "CBS StatLine 85618NED"
	labelCBSCrime      = "CBS StatLine 47018NED"
	labelCBSDemography = "CBS StatLine 83765NED"
	labelOverpass      = "OpenStreetMap / Overpass"
	labelLuchtmeetnet  = "Luchtmeetnet Open API"
	labelComposite     = "Composite"
)

// Warnings emitted when a category has no usable data.
const (
	WarningSocialUnavailable       = "CBS neighborhood indicators were unavailable; social score is partial."
	WarningSafetyUnavailable       = "CBS crime statistics were unavailable; safety score is partial."
	WarningDemographicsUnavailable = "CBS demographics were unavailable; demographics score is partial."
	WarningAmenitiesUnavailable    = "OSM amenities were unavailable; amenity score is partial."
	WarningEnvironmentUnavailable  = "Air quality source was unavailable; environment score is partial."
)

// SocialBuilder scores CBS key figures.
func SocialBuilder() Builder {
	return typedBuilder[NeighborhoodStats]{
		category:    models.CategorySocial,
		unavailable: WarningSocialUnavailable,
		metrics: func(s *NeighborhoodStats) []models.ContextMetric {
			density := intValue(s.PopulationDensity)
			return []models.ContextMetric{
				metric("residents", "Residents", intValue(s.Residents), "people", nil, labelCBSKeyFigures),
				metric("population_density", "Population Density", density, "people/km²", ScoreDensity(density), labelCBSKeyFigures),
				metric("low_income_households", "Low Income Households", s.LowIncomeHouseholdsPercent, "%", ScoreLowIncome(s.LowIncomeHouseholdsPercent), labelCBSKeyFigures),
				metric("average_woz", "Average WOZ Value", s.AverageWozValueKEur, "k€", ScoreWoz(s.AverageWozValueKEur), labelCBSKeyFigures),
			}
		},
	}
}

// SafetyBuilder scores crime rates; higher scores mean safer.
func SafetyBuilder() Builder {
	return typedBuilder[CrimeStats]{
		category:    models.CategorySafety,
		unavailable: WarningSafetyUnavailable,
		metrics: func(c *CrimeStats) []models.ContextMetric {
			return []models.ContextMetric{
				metric("total_crimes", "Total Crimes", c.TotalCrimesPer1000, "per 1000", ScoreTotalCrime(c.TotalCrimesPer1000), labelCBSCrime),
				metric("burglary", "Burglary Rate", c.BurglaryPer1000, "per 1000", ScoreBurglary(c.BurglaryPer1000), labelCBSCrime),
				metric("violent_crime", "Violent Crime", c.ViolentCrimePer1000, "per 1000", ScoreViolentCrime(c.ViolentCrimePer1000), labelCBSCrime),
				metric("theft", "Theft Rate", c.TheftPer1000, "per 1000", nil, labelCBSCrime),
				metric("vandalism", "Vandalism Rate", c.VandalismPer1000, "per 1000", nil, labelCBSCrime),
			}
		},
	}
}

// DemographicsBuilder reports population structure and a family score.
func DemographicsBuilder() Builder {
	return typedBuilder[Demographics]{
		category:    models.CategoryDemographics,
		unavailable: WarningDemographicsUnavailable,
		metrics: func(d *Demographics) []models.ContextMetric {
			family := ScoreFamilyFriendly(d)
			return []models.ContextMetric{
				metric("age_0_14", "Age 0-14", d.PercentAge0To14, "%", nil, labelCBSDemography),
				metric("age_15_24", "Age 15-24", d.PercentAge15To24, "%", nil, labelCBSDemography),
				metric("age_25_44", "Age 25-44", d.PercentAge25To44, "%", nil, labelCBSDemography),
				metric("age_45_64", "Age 45-64", d.PercentAge45To64, "%", nil, labelCBSDemography),
				metric("age_65_plus", "Age 65+", d.PercentAge65Plus, "%", nil, labelCBSDemography),
				metric("avg_household_size", "Avg Household Size", d.AverageHouseholdSize, "people", nil, labelCBSDemography),
				metric("owner_occupied", "Owner-Occupied", d.PercentOwnerOccupied, "%", nil, labelCBSDemography),
				metric("single_households", "Single Households", d.PercentSingleHouseholds, "%", nil, labelCBSDemography),
				metric("family_friendly", "Family-Friendly Score", family, "score", family, labelComposite),
			}
		},
	}
}

// AmenityBuilder scores amenity volume, variety and proximity.
func AmenityBuilder() Builder {
	return typedBuilder[AmenityStats]{
		category:    models.CategoryAmenities,
		unavailable: WarningAmenitiesUnavailable,
		metrics: func(a *AmenityStats) []models.ContextMetric {
			count := func(n int) *float64 { return models.Ptr(float64(n)) }
			countScore := ScoreAmenityCount(a.Total())
			diversity := models.Ptr(a.DiversityScore)
			return []models.ContextMetric{
				metric("schools", "Schools in Radius", count(a.SchoolCount), "count", nil, labelOverpass),
				metric("supermarkets", "Supermarkets in Radius", count(a.SupermarketCount), "count", nil, labelOverpass),
				metric("parks", "Parks in Radius", count(a.ParkCount), "count", nil, labelOverpass),
				metric("healthcare", "Healthcare in Radius", count(a.HealthcareCount), "count", nil, labelOverpass),
				metric("transit_stops", "Transit Stops in Radius", count(a.TransitStopCount), "count", nil, labelOverpass),
				metric("charging_stations", "EV Charging Stations", count(a.ChargingStationCount), "count", nil, labelOverpass),
				metric("amenity_diversity", "Amenity Diversity", diversity, "score", diversity, labelOverpass),
				metric("amenity_proximity", "Nearest Amenity Distance", a.NearestAmenityDistanceMeters, "m", ScoreAmenityProximity(a.NearestAmenityDistanceMeters), labelOverpass),
				metric("amenity_count_score", "Amenity Volume Score", countScore, "score", countScore, labelOverpass),
			}
		},
	}
}

// EnvironmentBuilder scores air quality at the nearest station.
func EnvironmentBuilder() Builder {
	return typedBuilder[AirQualitySnapshot]{
		category:    models.CategoryEnvironment,
		unavailable: WarningEnvironmentUnavailable,
		metrics: func(a *AirQualitySnapshot) []models.ContextMetric {
			station := metric("air_station", "Nearest Station", nil, "", nil, labelLuchtmeetnet)
			station.Note = a.StationName
			return []models.ContextMetric{
				metric("pm25", "PM2.5", a.PM25, "µg/m³", ScorePM25(a.PM25), labelLuchtmeetnet),
				metric("pm10", "PM10", a.PM10, "µg/m³", nil, labelLuchtmeetnet),
				metric("no2", "NO2", a.NO2, "µg/m³", nil, labelLuchtmeetnet),
				metric("o3", "O3", a.O3, "µg/m³", nil, labelLuchtmeetnet),
				station,
				metric("air_station_distance", "Distance to Station", models.Ptr(a.StationDistanceMeters), "m", nil, labelLuchtmeetnet),
			}
		},
	}
}
