package calgw

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/hydrosight/groundwater-cli/internal/percentile"
	"github.com/hydrosight/groundwater-cli/internal/resilience"
)

type feature struct {
	Attributes map[string]any `json:"attributes"`
	Geometry   struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	} `json:"geometry"`
}

type featureResponse struct {
	Features []feature `json:"features"`
}

// queryLayer runs a FeatureServer query against one layer URL.
func (c *Client) queryLayer(ctx context.Context, layerURL, where string, opts QueryOptions) ([]feature, error) {
	params := url.Values{}
	params.Set("where", where)
	params.Set("outFields", "*")
	params.Set("returnGeometry", "true")
	params.Set("f", "json")
	params.Set("resultRecordCount", strconv.Itoa(opts.maxRecords()))

	if opts.Bbox != nil {
		if err := opts.Bbox.Validate(); err != nil {
			return nil, eris.Wrap(err, "calgw: invalid bbox")
		}
		env, err := json.Marshal(map[string]any{
			"xmin":             opts.Bbox.West,
			"ymin":             opts.Bbox.South,
			"xmax":             opts.Bbox.East,
			"ymax":             opts.Bbox.North,
			"spatialReference": map[string]int{"wkid": 4326},
		})
		if err != nil {
			return nil, eris.Wrap(err, "calgw: marshal envelope")
		}
		params.Set("geometry", string(env))
		params.Set("geometryType", "esriGeometryEnvelope")
		params.Set("inSR", "4326")
		params.Set("spatialRel", "esriSpatialRelIntersects")
	}

	data, err := c.fetcher.DownloadBytes(ctx, layerURL+"/query?"+params.Encode())
	if err != nil {
		return nil, eris.Wrap(err, "calgw: query layer")
	}

	// FeatureServer failures come back as HTTP 200 with an error body.
	if err := resilience.ServiceBodyError(data); err != nil {
		return nil, eris.Wrap(err, "calgw: query layer")
	}

	var resp featureResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, eris.Wrap(err, "calgw: decode response")
	}

	zap.L().Debug("feature query complete",
		zap.String("layer", layerURL),
		zap.String("where", where),
		zap.Int("features", len(resp.Features)),
	)
	return resp.Features, nil
}

// CurrentLevel is one recently measured well from the CalGWLive snapshot.
// Coordinates come from the LATITUDE/LONGITUDE attributes; the layer geometry
// is in Web Mercator.
type CurrentLevel struct {
	SiteCode          string   `json:"site_code"`
	StateWellNumber   string   `json:"state_well_number"`
	Name              string   `json:"name"`
	Lat               *float64 `json:"lat"`
	Lon               *float64 `json:"lon"`
	GSEFt             *float64 `json:"gse_ft"`
	GWEFt             *float64 `json:"gwe_ft"`
	DepthFt           *float64 `json:"depth_ft"`
	WellDepthFt       *float64 `json:"well_depth_ft"`
	MeasurementDate   string   `json:"measurement_date"`
	BasinName         string   `json:"basin_name"`
	County            string   `json:"county"`
	WellUse           string   `json:"well_use"`
	WellType          string   `json:"well_type"`
	MonitoringProgram string   `json:"monitoring_program"`
	SubmittingOrg     string   `json:"submitting_org"`
}

// CurrentLevels fetches recently measured groundwater levels.
func (c *Client) CurrentLevels(ctx context.Context, opts QueryOptions) ([]CurrentLevel, error) {
	features, err := c.queryLayer(ctx, c.eps.CurrentLevels, opts.whereClause(), opts)
	if err != nil {
		return nil, err
	}

	wells := make([]CurrentLevel, 0, len(features))
	for _, f := range features {
		a := f.Attributes
		wells = append(wells, CurrentLevel{
			SiteCode:          attrString(a, "SITE_CODE"),
			StateWellNumber:   attrString(a, "SWN"),
			Name:              attrString(a, "WELL_NAME"),
			Lat:               attrFloat(a, "LATITUDE"),
			Lon:               attrFloat(a, "LONGITUDE"),
			GSEFt:             attrFloat(a, "LAST_GSE"),
			GWEFt:             attrFloat(a, "LAST_GWE"),
			DepthFt:           attrFloat(a, "LAST_GSE_GWE"),
			WellDepthFt:       attrFloat(a, "WELL_DEPTH"),
			MeasurementDate:   attrDate(a, "LAST_MSMT_DATE"),
			BasinName:         attrString(a, "Basin_Name"),
			County:            attrString(a, "COUNTY_NAME"),
			WellUse:           attrString(a, "WELL_USE"),
			WellType:          attrString(a, "WELL_TYPE"),
			MonitoringProgram: attrString(a, "MONITORING_PROGRAM"),
			SubmittingOrg:     attrString(a, "LAST_MEAS_SUBMITTING_ORG_NAME"),
		})
	}
	return wells, nil
}

// SeasonalYears are the lookback windows the seasonal change layer publishes.
var SeasonalYears = []int{1, 3, 5, 10}

// SeasonalChange is one well's water surface elevation change over a season
// window.
type SeasonalChange struct {
	SiteCode      string   `json:"site_code"`
	Name          string   `json:"name"`
	Lat           *float64 `json:"lat"`
	Lon           *float64 `json:"lon"`
	WSEChangeFt   *float64 `json:"wse_change_ft"`
	Category      string   `json:"wse_change_category"`
	WSELateFt     *float64 `json:"wse_late_ft"`
	WSEEarlyFt    *float64 `json:"wse_early_ft"`
	MsmtDateLate  string   `json:"msmt_date_late"`
	MsmtDateEarly string   `json:"msmt_date_early"`
	Years         *int     `json:"years"`
	Season        string   `json:"season"`
	BasinName     string   `json:"basin_name"`
	County        string   `json:"county"`
	WellUse       string   `json:"well_use"`
}

// SeasonalChanges fetches seasonal water level changes for one lookback
// window (1, 3, 5, or 10 years).
func (c *Client) SeasonalChanges(ctx context.Context, years int, opts QueryOptions) ([]SeasonalChange, error) {
	if !slices.Contains(SeasonalYears, years) {
		return nil, eris.Errorf("calgw: invalid years %d (must be one of %v)", years, SeasonalYears)
	}

	where := opts.whereClause(fmt.Sprintf("YEARS = %d", years))
	features, err := c.queryLayer(ctx, c.eps.SeasonalChange, where, opts)
	if err != nil {
		return nil, err
	}

	wells := make([]SeasonalChange, 0, len(features))
	for _, f := range features {
		a := f.Attributes
		wells = append(wells, SeasonalChange{
			SiteCode:      attrString(a, "SITE_CODE"),
			Name:          attrString(a, "WELL_NAME"),
			Lat:           attrFloat(a, "LATITUDE"),
			Lon:           attrFloat(a, "LONGITUDE"),
			WSEChangeFt:   attrFloat(a, "WSE_CHANGE"),
			Category:      attrString(a, "WSE_CHANGE_CATEGORY"),
			WSELateFt:     attrFloat(a, "WSE_LATE"),
			WSEEarlyFt:    attrFloat(a, "WSE_EARLY"),
			MsmtDateLate:  attrDate(a, "MSMT_DATE_LATE"),
			MsmtDateEarly: attrDate(a, "MSMT_DATE_EARLY"),
			Years:         attrInt(a, "YEARS"),
			Season:        attrString(a, "Measurement_Season"),
			BasinName:     attrString(a, "Basin_Name"),
			County:        attrString(a, "COUNTY_NAME"),
			WellUse:       attrString(a, "WELL_USE"),
		})
	}
	return wells, nil
}

// TrendSite is one well's 20-year Mann-Kendall trend. Coordinates come from
// the feature geometry.
type TrendSite struct {
	SiteCode        string   `json:"site_code"`
	StateWellNumber string   `json:"state_well_number"`
	Lat             float64  `json:"lat"`
	Lon             float64  `json:"lon"`
	TrendClass      string   `json:"trend_class"`
	TrendSlope      *float64 `json:"trend_slope"`
	TrendPValue     *float64 `json:"trend_pvalue"`
	BasinName       string   `json:"basin_name"`
	County          string   `json:"county"`
}

// LongTermTrends fetches 20-year Mann-Kendall trend classifications.
func (c *Client) LongTermTrends(ctx context.Context, opts QueryOptions) ([]TrendSite, error) {
	features, err := c.queryLayer(ctx, c.eps.LongTermTrend, opts.whereClause(), opts)
	if err != nil {
		return nil, err
	}

	wells := make([]TrendSite, 0, len(features))
	for _, f := range features {
		a := f.Attributes
		wells = append(wells, TrendSite{
			SiteCode:        attrString(a, "SITE_CODE"),
			StateWellNumber: attrString(a, "SWN"),
			Lat:             f.Geometry.Y,
			Lon:             f.Geometry.X,
			TrendClass:      attrString(a, "TREND_CLASS"),
			TrendSlope:      attrFloat(a, "TREND_SLOPE"),
			TrendPValue:     attrFloat(a, "TREND_PVALUE"),
			BasinName:       attrString(a, "BASIN_NAME"),
			County:          attrString(a, "COUNTY_NAME"),
		})
	}
	return wells, nil
}

// notRankedClassCode marks sites without enough history to rank.
const notRankedClassCode = 8

// PercentileSite is one well's historical depth distribution and its current
// classification within it.
type PercentileSite struct {
	SiteCode            string   `json:"site_code"`
	Lat                 *float64 `json:"lat"`
	Lon                 *float64 `json:"lon"`
	Count               *int     `json:"count"`
	LastDepthFt         *float64 `json:"last_depth_ft"`
	MinDepthFt          *float64 `json:"min_depth_ft"`
	MaxDepthFt          *float64 `json:"max_depth_ft"`
	PctLowest           *float64 `json:"pct_lowest"`
	Pct10               *float64 `json:"pct_10"`
	Pct25               *float64 `json:"pct_25"`
	Pct50               *float64 `json:"pct_50"`
	Pct75               *float64 `json:"pct_75"`
	Pct90               *float64 `json:"pct_90"`
	PctHighest          *float64 `json:"pct_highest"`
	PercentileClass     string   `json:"percentile_class"`
	PercentileClassCode *int     `json:"percentile_class_code"`
	BasinName           string   `json:"basin_name"`
	County              string   `json:"county"`
	WellDepthFt         *float64 `json:"well_depth_ft"`
}

// Boundary converts the site's percentile anchors into a classification
// table. Depths are in feet, matching the measurements being classified.
func (s PercentileSite) Boundary() percentile.Boundary {
	return percentile.Boundary{
		Lowest:  s.PctLowest,
		P10:     s.Pct10,
		P25:     s.Pct25,
		P50:     s.Pct50,
		P75:     s.Pct75,
		P90:     s.Pct90,
		Highest: s.PctHighest,
	}
}

// PercentileStats fetches per-site historical percentile tables. With
// rankedOnly, sites the service could not rank are excluded server-side.
func (c *Client) PercentileStats(ctx context.Context, rankedOnly bool, opts QueryOptions) ([]PercentileSite, error) {
	var extra []string
	if rankedOnly {
		extra = append(extra, fmt.Sprintf("PercentileClassCode <> %d", notRankedClassCode))
	}

	features, err := c.queryLayer(ctx, c.eps.PercentileStats, opts.whereClause(extra...), opts)
	if err != nil {
		return nil, err
	}

	wells := make([]PercentileSite, 0, len(features))
	for _, f := range features {
		a := f.Attributes

		lat := attrFloat(a, "LATITUDE")
		lon := attrFloat(a, "LONGITUDE")
		if lat == nil {
			y := f.Geometry.Y
			lat = &y
		}
		if lon == nil {
			x := f.Geometry.X
			lon = &x
		}

		wells = append(wells, PercentileSite{
			SiteCode:            attrString(a, "SITE_CODE"),
			Lat:                 lat,
			Lon:                 lon,
			Count:               attrInt(a, "COUNT_"),
			LastDepthFt:         attrFloat(a, "LAST_DEPTH"),
			MinDepthFt:          attrFloat(a, "MIN_DEPTH"),
			MaxDepthFt:          attrFloat(a, "MAX_DEPTH"),
			PctLowest:           attrFloat(a, "Lowest"),
			Pct10:               attrFloat(a, "F10thpct"),
			Pct25:               attrFloat(a, "F25thpct"),
			Pct50:               attrFloat(a, "F50thpct"),
			Pct75:               attrFloat(a, "F75thpct"),
			Pct90:               attrFloat(a, "F90thpct"),
			PctHighest:          attrFloat(a, "Highest"),
			PercentileClass:     attrString(a, "PercentileClass"),
			PercentileClassCode: attrInt(a, "PercentileClassCode"),
			BasinName:           attrString(a, "Basin_Name"),
			County:              attrString(a, "COUNTY_NAME"),
			WellDepthFt:         attrFloat(a, "WELL_DEPTH"),
		})
	}
	return wells, nil
}
