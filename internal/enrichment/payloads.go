package enrichment

import "time"

// NeighborhoodStats is the CBS key-figures payload for one region.
type NeighborhoodStats struct {
	RegionCode                 string
	RegionType                 string
	Residents                  *int
	PopulationDensity          *int
	AverageWozValueKEur        *float64
	LowIncomeHouseholdsPercent *float64
	RetrievedAt                time.Time
}

// CrimeStats holds registered crime per 1000 residents.
type CrimeStats struct {
	TotalCrimesPer1000  *float64
	BurglaryPer1000     *float64
	ViolentCrimePer1000 *float64
	TheftPer1000        *float64
	VandalismPer1000    *float64
	RetrievedAt         time.Time
}

// Demographics holds age and household composition percentages.
type Demographics struct {
	PercentAge0To14         *float64
	PercentAge15To24        *float64
	PercentAge25To44        *float64
	PercentAge45To64        *float64
	PercentAge65Plus        *float64
	AverageHouseholdSize    *float64
	PercentOwnerOccupied    *float64
	PercentSingleHouseholds *float64
	PercentFamilyHouseholds *float64
	RetrievedAt             time.Time
}

// AmenityStats counts points of interest within the search radius.
type AmenityStats struct {
	SchoolCount                  int
	SupermarketCount             int
	ParkCount                    int
	HealthcareCount              int
	TransitStopCount             int
	ChargingStationCount         int
	NearestAmenityDistanceMeters *float64
	DiversityScore               float64
	RetrievedAt                  time.Time
}

// Total is the number of counted amenities.
func (a AmenityStats) Total() int {
	return a.SchoolCount + a.SupermarketCount + a.ParkCount + a.HealthcareCount +
		a.TransitStopCount + a.ChargingStationCount
}

// AirQualitySnapshot is the latest reading at the nearest station.
type AirQualitySnapshot struct {
	StationID             string
	StationName           string
	StationDistanceMeters float64
	PM25                  *float64
	PM10                  *float64
	NO2                   *float64
	O3                    *float64
	MeasuredAt            *time.Time
	RetrievedAt           time.Time
}
