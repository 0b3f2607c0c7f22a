package sources

import (
	"log/slog"
	"time"

	"github.com/raphaelgruber/livability/internal/enrichment"
	"github.com/raphaelgruber/livability/internal/models"
)

// Endpoints configures the upstream base URLs. Empty fields use the public
// defaults.
type Endpoints struct {
	PDOK         string
	CBS          string
	CBSGeo       string
	Overpass     string
	Luchtmeetnet string
	Timeout      time.Duration
}

const openDataLicense = "CC BY 4.0"

// ResolverAttribution credits PDOK on every report.
var ResolverAttribution = models.SourceAttribution{
	Name:    "PDOK Locatieserver",
	URL:     "https://api.pdok.nl/bzk/locatieserver/search/v3_1",
	License: "CC0 1.0",
}

// Clients holds the wired upstream clients.
type Clients struct {
	Resolver *PDOKResolver
	Geo      *CBSGeoClient
	Registry *enrichment.Registry
}

// NewClients creates one rate limited HTTP client per provider and
// registers the five sources in report order.
func NewClients(ep Endpoints, logger *slog.Logger) *Clients {
	if ep.Timeout <= 0 {
		ep.Timeout = 20 * time.Second
	}

	pdok := NewHTTPClient(ep.Timeout, 10, 5)
	cbsHTTP := NewHTTPClient(ep.Timeout, 5, 5)
	overpassHTTP := NewHTTPClient(ep.Timeout, 1, 2)
	luchtHTTP := NewHTTPClient(ep.Timeout, 5, 5)

	cbs := NewCBSClient(cbsHTTP, ep.CBS)

	reg := enrichment.NewRegistry()
	reg.Register(enrichment.Erase[enrichment.NeighborhoodStats](NeighborhoodStatsSource{cbs}), enrichment.SocialBuilder(),
		models.SourceAttribution{Name: "CBS StatLine", URL: "https://opendata.cbs.nl/statline/#/CBS/nl/dataset/" + TableKeyFigures, License: openDataLicense})
	reg.Register(enrichment.Erase[enrichment.CrimeStats](CrimeStatsSource{cbs}), enrichment.SafetyBuilder(),
		models.SourceAttribution{Name: "CBS StatLine (crime)", URL: "https://opendata.cbs.nl/statline/#/CBS/nl/dataset/" + TableRegional, License: openDataLicense})
	reg.Register(enrichment.Erase[enrichment.Demographics](DemographicsSource{cbs}), enrichment.DemographicsBuilder(),
		models.SourceAttribution{Name: "CBS StatLine (demographics)", URL: "https://opendata.cbs.nl/statline/#/CBS/nl/dataset/" + TableRegional, License: openDataLicense})
	reg.Register(enrichment.Erase[enrichment.AmenityStats](NewOverpassSource(overpassHTTP, ep.Overpass)), enrichment.AmenityBuilder(),
		models.SourceAttribution{Name: "OpenStreetMap contributors", URL: "https://www.openstreetmap.org/copyright", License: "ODbL 1.0"})
	reg.Register(enrichment.Erase[enrichment.AirQualitySnapshot](NewLuchtmeetnetSource(luchtHTTP, ep.Luchtmeetnet, logger)), enrichment.EnvironmentBuilder(),
		models.SourceAttribution{Name: "Luchtmeetnet", URL: "https://www.luchtmeetnet.nl", License: "Open data (RIVM)"})

	return &Clients{
		Resolver: NewPDOKResolver(pdok, ep.PDOK),
		Geo:      NewCBSGeoClient(pdok, ep.CBSGeo),
		Registry: reg,
	}
}
