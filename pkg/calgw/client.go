// Package calgw wraps California DWR groundwater services: the CalGWLive
// ArcGIS FeatureServer layers for statewide snapshots and the CNRA CKAN
// DataStore for per-site time series.
//
// Data source: https://sgma.water.ca.gov/CalGWLive/
package calgw

import (
	"fmt"
	"strings"

	"github.com/hydrosight/groundwater-cli/internal/fetcher"
	"github.com/hydrosight/groundwater-cli/internal/raster"
)

// Endpoints holds the service URLs and CKAN resource IDs. Zero-value fields
// fall back to the public services.
type Endpoints struct {
	CurrentLevels        string
	PercentileStats      string
	SeasonalChange       string
	LongTermTrend        string
	CKANSearch           string
	CKANSQL              string
	StationsResource     string
	MeasurementsResource string
}

// DefaultEndpoints returns the public CalGWLive and CNRA endpoints. The layer
// index is part of the URL and differs per service.
func DefaultEndpoints() Endpoints {
	const arcgis = "https://services.arcgis.com/aa38u6OgfNoCkTJ6/arcgis/rest/services"
	return Endpoints{
		CurrentLevels:        arcgis + "/GWL_Recently_Measured_v3/FeatureServer/2",
		PercentileStats:      arcgis + "/GroundwaterLevelPercentileClass_gdb/FeatureServer/0",
		SeasonalChange:       arcgis + "/SeasonalChangeCalGWLive_gdb/FeatureServer/2",
		LongTermTrend:        arcgis + "/MannKendallGWLTrendCalGWLive_gdb/FeatureServer/2",
		CKANSearch:           "https://data.cnra.ca.gov/api/3/action/datastore_search",
		CKANSQL:              "https://data.cnra.ca.gov/api/3/action/datastore_search_sql",
		StationsResource:     StationsResource,
		MeasurementsResource: MeasurementsResource,
	}
}

// CKAN DataStore resource IDs for the CADWR periodic measurement dataset.
const (
	StationsResource     = "af157380-fb42-4abf-b72a-6f9f98868077"
	MeasurementsResource = "bfa9f262-24a1-45bd-8dc8-138bc8107266"
)

// Client queries the CalGWLive and CNRA services.
type Client struct {
	fetcher fetcher.Fetcher
	eps     Endpoints
}

// NewClient creates a client. Empty endpoint fields use the public services.
func NewClient(f fetcher.Fetcher, eps Endpoints) *Client {
	def := DefaultEndpoints()
	if eps.CurrentLevels == "" {
		eps.CurrentLevels = def.CurrentLevels
	}
	if eps.PercentileStats == "" {
		eps.PercentileStats = def.PercentileStats
	}
	if eps.SeasonalChange == "" {
		eps.SeasonalChange = def.SeasonalChange
	}
	if eps.LongTermTrend == "" {
		eps.LongTermTrend = def.LongTermTrend
	}
	if eps.CKANSearch == "" {
		eps.CKANSearch = def.CKANSearch
	}
	if eps.CKANSQL == "" {
		eps.CKANSQL = def.CKANSQL
	}
	if eps.StationsResource == "" {
		eps.StationsResource = def.StationsResource
	}
	if eps.MeasurementsResource == "" {
		eps.MeasurementsResource = def.MeasurementsResource
	}
	return &Client{fetcher: f, eps: eps}
}

// QueryOptions filter a FeatureServer query. Bbox becomes a spatial envelope
// filter; County and Basin become attribute LIKE clauses.
type QueryOptions struct {
	Bbox       *raster.Bounds
	County     string
	Basin      string
	MaxRecords int // default 5000
}

func (o QueryOptions) maxRecords() int {
	if o.MaxRecords <= 0 {
		return 5000
	}
	return o.MaxRecords
}

// whereClause combines the attribute filters with any extra conditions.
func (o QueryOptions) whereClause(extra ...string) string {
	conds := append([]string(nil), extra...)
	if o.County != "" {
		conds = append(conds, fmt.Sprintf("COUNTY_NAME LIKE '%%%s%%'", sqlEscape(o.County)))
	}
	if o.Basin != "" {
		conds = append(conds, fmt.Sprintf("BASIN_NAME LIKE '%%%s%%'", sqlEscape(o.Basin)))
	}
	if len(conds) == 0 {
		return "1=1"
	}
	return strings.Join(conds, " AND ")
}

// sqlEscape doubles single quotes for interpolation into a where clause. The
// FeatureServer query endpoint has no parameter binding.
func sqlEscape(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
