package models

// ResolvedLocation is a geocoded address or place. It is produced once per
// request and copied unchanged into the report built for it.
type ResolvedLocation struct {
	Query          string   `json:"query"`
	DisplayAddress string   `json:"display_address"`
	Latitude       float64  `json:"latitude"`
	Longitude      float64  `json:"longitude"`
	RdX            *float64 `json:"rd_x,omitempty"`
	RdY            *float64 `json:"rd_y,omitempty"`

	MunicipalityCode *string `json:"municipality_code,omitempty"`
	MunicipalityName *string `json:"municipality_name,omitempty"`
	DistrictCode     *string `json:"district_code,omitempty"`
	DistrictName     *string `json:"district_name,omitempty"`
	NeighborhoodCode *string `json:"neighborhood_code,omitempty"`
	NeighborhoodName *string `json:"neighborhood_name,omitempty"`
	PostalCode       *string `json:"postal_code,omitempty"`
}
