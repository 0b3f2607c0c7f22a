package sources

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/raphaelgruber/livability/internal/enrichment"
	"github.com/raphaelgruber/livability/internal/models"
)

// DefaultCBSURL is the CBS StatLine OData v3 endpoint.
const DefaultCBSURL = "https://opendata.cbs.nl/ODataApi/odata"

// StatLine tables.
const (
	TableKeyFigures = "85618NED"
	TableRegional   = "83765NED"
)

// cbsRegionCodeWidth is the fixed width of WijkenEnBuurten keys.
const cbsRegionCodeWidth = 10

// CBSClient queries StatLine typed data sets by region code.
type CBSClient struct {
	http    *HTTPClient
	baseURL string
	now     func() time.Time
}

// NewCBSClient creates a client against baseURL.
func NewCBSClient(client *HTTPClient, baseURL string) *CBSClient {
	if baseURL == "" {
		baseURL = DefaultCBSURL
	}
	return &CBSClient{http: client, baseURL: trimBase(baseURL), now: time.Now}
}

// cbsRow is one TypedDataSet row. Every numeric field may be null or a
// string.
type cbsRow map[string]flexNumber

// row fetches the first row for code from table. It returns nil, nil when
// the region has no row.
func (c *CBSClient) row(ctx context.Context, table, code string, fields []string) (cbsRow, string, string, error) {
	filter := fmt.Sprintf("WijkenEnBuurten eq '%s'", code)
	endpoint := fmt.Sprintf("%s/%s/TypedDataSet?$filter=%s&$top=1&$select=%s",
		c.baseURL, table, url.PathEscape(filter), strings.Join(append([]string{"WijkenEnBuurten", "SoortRegio_2"}, fields...), ","))

	var resp struct {
		Value []map[string]flexRaw `json:"value"`
	}
	if err := c.http.getJSON(ctx, endpoint, &resp); err != nil {
		return nil, "", "", fmt.Errorf("cbs %s %s: %w", table, strings.TrimSpace(code), err)
	}
	if len(resp.Value) == 0 {
		return nil, "", "", nil
	}

	raw := resp.Value[0]
	row := make(cbsRow, len(fields))
	for _, f := range fields {
		row[f] = raw[f].number
	}
	return row, strings.TrimSpace(raw["WijkenEnBuurten"].text), strings.TrimSpace(raw["SoortRegio_2"].text), nil
}

// firstRow walks the location's region codes from finest to coarsest and
// returns the first region with data.
func (c *CBSClient) firstRow(ctx context.Context, table string, loc models.ResolvedLocation, fields []string) (cbsRow, string, string, error) {
	for _, code := range regionCandidates(loc) {
		if err := ctx.Err(); err != nil {
			return nil, "", "", err
		}
		row, region, kind, err := c.row(ctx, table, code, fields)
		if err != nil {
			return nil, "", "", err
		}
		if row != nil {
			return row, region, kind, nil
		}
	}
	return nil, "", "", nil
}

// regionCandidates returns the neighborhood, district and municipality codes,
// padded to the StatLine key width.
func regionCandidates(loc models.ResolvedLocation) []string {
	var out []string
	for _, code := range []*string{loc.NeighborhoodCode, loc.DistrictCode, loc.MunicipalityCode} {
		if code == nil || strings.TrimSpace(*code) == "" {
			continue
		}
		c := strings.TrimSpace(*code)
		if pad := cbsRegionCodeWidth - len(c); pad > 0 {
			c += strings.Repeat(" ", pad)
		}
		out = append(out, c)
	}
	return out
}

// NeighborhoodStatsSource serves CBS key figures (85618NED).
type NeighborhoodStatsSource struct{ *CBSClient }

var _ enrichment.TypedSource[enrichment.NeighborhoodStats] = NeighborhoodStatsSource{}

func (NeighborhoodStatsSource) Name() enrichment.SourceName { return enrichment.SourceNeighborhoodStats }

func (s NeighborhoodStatsSource) Fetch(ctx context.Context, loc models.ResolvedLocation, _ int) (*enrichment.NeighborhoodStats, error) {
	row, region, kind, err := s.firstRow(ctx, TableKeyFigures, loc, []string{
		"AantalInwoners_5",
		"Bevolkingsdichtheid_34",
		"GemiddeldeWOZWaardeVanWoningen_36",
		"HuishoudensMetEenLaagInkomen_73",
	})
	if err != nil || row == nil {
		return nil, err
	}
	return &enrichment.NeighborhoodStats{
		RegionCode:                 region,
		RegionType:                 kind,
		Residents:                  row["AantalInwoners_5"].int(),
		PopulationDensity:          row["Bevolkingsdichtheid_34"].int(),
		AverageWozValueKEur:        row["GemiddeldeWOZWaardeVanWoningen_36"].float(),
		LowIncomeHouseholdsPercent: row["HuishoudensMetEenLaagInkomen_73"].float(),
		RetrievedAt:                s.now().UTC(),
	}, nil
}

// CrimeStatsSource serves registered crime per 1000 residents.
type CrimeStatsSource struct{ *CBSClient }

var _ enrichment.TypedSource[enrichment.CrimeStats] = CrimeStatsSource{}

func (CrimeStatsSource) Name() enrichment.SourceName { return enrichment.SourceCrimeStats }

func (s CrimeStatsSource) Fetch(ctx context.Context, loc models.ResolvedLocation, _ int) (*enrichment.CrimeStats, error) {
	row, _, _, err := s.firstRow(ctx, TableRegional, loc, []string{
		"AantalInwoners_5",
		"TotaalDiefstalUitWoningSchuurED_106",
		"VernielingMisdrijfTegenOpenbareOrde_107",
		"GeweldsEnSeksueleMisdrijven_108",
	})
	if err != nil || row == nil {
		return nil, err
	}

	residents := row["AantalInwoners_5"].float()
	theft := ratePer1000(row["TotaalDiefstalUitWoningSchuurED_106"].float(), residents)
	vandalism := ratePer1000(row["VernielingMisdrijfTegenOpenbareOrde_107"].float(), residents)
	violent := ratePer1000(row["GeweldsEnSeksueleMisdrijven_108"].float(), residents)

	var total *float64
	if theft != nil || vandalism != nil || violent != nil {
		var sum float64
		for _, r := range []*float64{theft, vandalism, violent} {
			if r != nil {
				sum += *r
			}
		}
		total = &sum
	}

	// The regional table has no separate burglary column; home theft stands in.
	return &enrichment.CrimeStats{
		TotalCrimesPer1000:  total,
		BurglaryPer1000:     theft,
		ViolentCrimePer1000: violent,
		TheftPer1000:        theft,
		VandalismPer1000:    vandalism,
		RetrievedAt:         s.now().UTC(),
	}, nil
}

// ratePer1000 converts a count to a whole rate per 1000 residents. Without
// a resident count the raw count is returned.
func ratePer1000(count, residents *float64) *float64 {
	if count == nil {
		return nil
	}
	if residents == nil || *residents <= 0 {
		v := *count
		return &v
	}
	v := math.Round(*count * 1000 / *residents)
	return &v
}

// DemographicsSource serves age bands and household composition.
type DemographicsSource struct{ *CBSClient }

var _ enrichment.TypedSource[enrichment.Demographics] = DemographicsSource{}

func (DemographicsSource) Name() enrichment.SourceName { return enrichment.SourceDemographics }

func (s DemographicsSource) Fetch(ctx context.Context, loc models.ResolvedLocation, _ int) (*enrichment.Demographics, error) {
	row, _, _, err := s.firstRow(ctx, TableRegional, loc, []string{
		"k_0Tot15Jaar_8",
		"k_15Tot25Jaar_9",
		"k_25Tot45Jaar_10",
		"k_45Tot65Jaar_11",
		"k_65JaarOfOuder_12",
		"GemiddeldeHuishoudensgrootte_32",
		"Koopwoningen_40",
		"Eenpersoonshuishoudens_29",
		"HuishoudensMetKinderen_31",
	})
	if err != nil || row == nil {
		return nil, err
	}
	return &enrichment.Demographics{
		PercentAge0To14:         row["k_0Tot15Jaar_8"].float(),
		PercentAge15To24:        row["k_15Tot25Jaar_9"].float(),
		PercentAge25To44:        row["k_25Tot45Jaar_10"].float(),
		PercentAge45To64:        row["k_45Tot65Jaar_11"].float(),
		PercentAge65Plus:        row["k_65JaarOfOuder_12"].float(),
		AverageHouseholdSize:    row["GemiddeldeHuishoudensgrootte_32"].float(),
		PercentOwnerOccupied:    row["Koopwoningen_40"].float(),
		PercentSingleHouseholds: row["Eenpersoonshuishoudens_29"].float(),
		PercentFamilyHouseholds: row["HuishoudensMetKinderen_31"].float(),
		RetrievedAt:             s.now().UTC(),
	}, nil
}
