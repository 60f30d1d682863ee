package calgw

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydrosight/groundwater-cli/internal/fetcher"
	"github.com/hydrosight/groundwater-cli/internal/raster"
	"github.com/hydrosight/groundwater-cli/internal/resilience"
)

func newServerClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{Timeout: 5 * time.Second})
	c := NewClient(f, Endpoints{
		CurrentLevels:   srv.URL + "/current",
		PercentileStats: srv.URL + "/percentile",
		SeasonalChange:  srv.URL + "/seasonal",
		LongTermTrend:   srv.URL + "/trend",
		CKANSearch:      srv.URL + "/datastore_search",
		CKANSQL:         srv.URL + "/datastore_search_sql",
	})
	return c, srv
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestCurrentLevels(t *testing.T) {
	var gotQuery url.Values
	c, _ := newServerClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/current/query", r.URL.Path)
		gotQuery = r.URL.Query()
		writeJSON(t, w, map[string]any{
			"features": []map[string]any{
				{
					"attributes": map[string]any{
						"SITE_CODE":      "325536N1170608W001",
						"SWN":            "16S02W21H001S",
						"WELL_NAME":      "Mission Valley 1",
						"LATITUDE":       32.92,
						"LONGITUDE":      -117.1,
						"LAST_GSE":       380.0,
						"LAST_GWE":       312.5,
						"LAST_GSE_GWE":   67.5,
						"LAST_MSMT_DATE": 1718841600000, // 2024-06-20 UTC
						"Basin_Name":     "San Diego River Valley",
						"COUNTY_NAME":    "San Diego",
					},
				},
				{
					"attributes": map[string]any{
						"SITE_CODE": "NOLOC",
					},
				},
			},
		})
	}))

	bbox := raster.Bounds{West: -117.5, South: 32.5, East: -116.5, North: 33.5}
	wells, err := c.CurrentLevels(context.Background(), QueryOptions{Bbox: &bbox, MaxRecords: 100})
	require.NoError(t, err)
	require.Len(t, wells, 2)

	assert.Equal(t, "1=1", gotQuery.Get("where"))
	assert.Equal(t, "*", gotQuery.Get("outFields"))
	assert.Equal(t, "json", gotQuery.Get("f"))
	assert.Equal(t, "100", gotQuery.Get("resultRecordCount"))
	assert.Equal(t, "esriGeometryEnvelope", gotQuery.Get("geometryType"))
	assert.Equal(t, "4326", gotQuery.Get("inSR"))
	assert.Equal(t, "esriSpatialRelIntersects", gotQuery.Get("spatialRel"))

	var env map[string]any
	require.NoError(t, json.Unmarshal([]byte(gotQuery.Get("geometry")), &env))
	assert.Equal(t, -117.5, env["xmin"])
	assert.Equal(t, 33.5, env["ymax"])

	w := wells[0]
	assert.Equal(t, "325536N1170608W001", w.SiteCode)
	assert.Equal(t, "Mission Valley 1", w.Name)
	require.NotNil(t, w.Lat)
	assert.Equal(t, 32.92, *w.Lat)
	require.NotNil(t, w.DepthFt)
	assert.Equal(t, 67.5, *w.DepthFt)
	assert.Equal(t, "2024-06-20", w.MeasurementDate)
	assert.Equal(t, "San Diego", w.County)

	// Missing attributes map to empty strings and nil pointers.
	assert.Nil(t, wells[1].Lat)
	assert.Empty(t, wells[1].MeasurementDate)
}

func TestSeasonalChanges(t *testing.T) {
	var gotWhere string
	c, _ := newServerClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotWhere = r.URL.Query().Get("where")
		writeJSON(t, w, map[string]any{
			"features": []map[string]any{
				{
					"attributes": map[string]any{
						"SITE_CODE":           "S1",
						"WSE_CHANGE":          -3.2,
						"WSE_CHANGE_CATEGORY": "Decrease greater than 2.5 ft",
						"YEARS":               5,
						"Measurement_Season":  "Spring",
					},
				},
			},
		})
	}))

	wells, err := c.SeasonalChanges(context.Background(), 5, QueryOptions{County: "San Diego"})
	require.NoError(t, err)
	require.Len(t, wells, 1)

	assert.Equal(t, "YEARS = 5 AND COUNTY_NAME LIKE '%San Diego%'", gotWhere)
	require.NotNil(t, wells[0].WSEChangeFt)
	assert.Equal(t, -3.2, *wells[0].WSEChangeFt)
	require.NotNil(t, wells[0].Years)
	assert.Equal(t, 5, *wells[0].Years)
}

func TestSeasonalChangesInvalidYears(t *testing.T) {
	c, _ := newServerClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach the service")
	}))

	_, err := c.SeasonalChanges(context.Background(), 7, QueryOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid years 7")
}

func TestLongTermTrends(t *testing.T) {
	c, _ := newServerClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{
			"features": []map[string]any{
				{
					"attributes": map[string]any{
						"SITE_CODE":   "T1",
						"TREND_CLASS": "Declining",
						"TREND_SLOPE": -0.42,
					},
					"geometry": map[string]any{"x": -117.2, "y": 33.0},
				},
			},
		})
	}))

	wells, err := c.LongTermTrends(context.Background(), QueryOptions{})
	require.NoError(t, err)
	require.Len(t, wells, 1)
	assert.Equal(t, 33.0, wells[0].Lat)
	assert.Equal(t, -117.2, wells[0].Lon)
	assert.Equal(t, "Declining", wells[0].TrendClass)
}

func TestPercentileStats(t *testing.T) {
	var gotWhere string
	c, _ := newServerClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotWhere = r.URL.Query().Get("where")
		writeJSON(t, w, map[string]any{
			"features": []map[string]any{
				{
					"attributes": map[string]any{
						"SITE_CODE":           "P1",
						"LAST_DEPTH":          15.0,
						"Lowest":              40.0,
						"F10thpct":            25.0,
						"F25thpct":            18.0,
						"F50thpct":            12.0,
						"F75thpct":            8.0,
						"F90thpct":            5.0,
						"Highest":             2.0,
						"PercentileClass":     "Below Normal",
						"PercentileClassCode": 3,
					},
					"geometry": map[string]any{"x": -117.3, "y": 33.1},
				},
			},
		})
	}))

	sites, err := c.PercentileStats(context.Background(), true, QueryOptions{})
	require.NoError(t, err)
	require.Len(t, sites, 1)

	assert.Equal(t, "PercentileClassCode <> 8", gotWhere)

	s := sites[0]
	// No LATITUDE attribute, so coordinates fall back to geometry.
	require.NotNil(t, s.Lat)
	assert.Equal(t, 33.1, *s.Lat)

	b := s.Boundary()
	require.NoError(t, b.Validate())
	res := b.Classify(*s.LastDepthFt)
	require.NotNil(t, res.Label)
	assert.Equal(t, "25-50", *res.Label)
	assert.Equal(t, 37, *res.Rank)
}

func TestPercentileStatsUnranked(t *testing.T) {
	var gotWhere string
	c, _ := newServerClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotWhere = r.URL.Query().Get("where")
		writeJSON(t, w, map[string]any{"features": []map[string]any{}})
	}))

	_, err := c.PercentileStats(context.Background(), false, QueryOptions{Basin: "San Diego River"})
	require.NoError(t, err)
	assert.Equal(t, "BASIN_NAME LIKE '%San Diego River%'", gotWhere)
}

func TestQueryLayerServiceError(t *testing.T) {
	c, _ := newServerClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{
			"error": map[string]any{"code": 400, "message": "Invalid query"},
		})
	}))

	_, err := c.CurrentLevels(context.Background(), QueryOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "service error 400")

	// A bad query is permanent and must not count as retryable.
	assert.False(t, resilience.IsTransient(err))
}

func TestQueryLayerBusyServiceErrorIsTransient(t *testing.T) {
	c, _ := newServerClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{
			"error": map[string]any{"code": 503, "message": "Service unavailable"},
		})
	}))

	_, err := c.CurrentLevels(context.Background(), QueryOptions{})
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestSites(t *testing.T) {
	var gotQuery url.Values
	c, _ := newServerClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/datastore_search", r.URL.Path)
		gotQuery = r.URL.Query()
		writeJSON(t, w, map[string]any{
			"success": true,
			"result": map[string]any{
				"records": []map[string]any{
					{
						"site_code":   "S-IN",
						"latitude":    33.0,
						"longitude":   -117.2,
						"gse":         "380.5", // DataStore returns numerics as strings
						"county_name": "San Diego",
					},
					{
						"site_code": "S-OUT",
						"latitude":  40.0,
						"longitude": -120.0,
					},
				},
			},
		})
	}))

	bbox := raster.Bounds{West: -117.5, South: 32.5, East: -116.5, North: 33.5}
	sites, err := c.Sites(context.Background(), SiteFilter{Bbox: &bbox, County: "San Diego"})
	require.NoError(t, err)

	assert.Equal(t, StationsResource, gotQuery.Get("resource_id"))
	assert.JSONEq(t, `{"county_name":"San Diego"}`, gotQuery.Get("filters"))

	require.Len(t, sites, 1)
	assert.Equal(t, "S-IN", sites[0].SiteCode)
	require.NotNil(t, sites[0].GSEFt)
	assert.Equal(t, 380.5, *sites[0].GSEFt)
}

func TestSitesByBasinUsesSQL(t *testing.T) {
	var gotSQL string
	c, _ := newServerClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/datastore_search_sql", r.URL.Path)
		gotSQL = r.URL.Query().Get("sql")
		writeJSON(t, w, map[string]any{
			"success": true,
			"result":  map[string]any{"records": []map[string]any{}},
		})
	}))

	_, err := c.Sites(context.Background(), SiteFilter{Basin: "San Diego River", Limit: 50})
	require.NoError(t, err)
	assert.Contains(t, gotSQL, StationsResource)
	assert.Contains(t, gotSQL, "ILIKE '%San Diego River%'")
	assert.Contains(t, gotSQL, "LIMIT 50")
}

func TestMeasurementHistory(t *testing.T) {
	var gotQuery url.Values
	c, _ := newServerClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		writeJSON(t, w, map[string]any{
			"success": true,
			"result": map[string]any{
				"records": []map[string]any{
					{"msmt_date": "2024-03-15T00:00:00", "gwe": 310.0, "gse_gwe": 70.0},
					{"msmt_date": "2023-09-01T00:00:00", "gwe": 305.5, "gse_gwe": 74.5},
					{"msmt_date": "2019-01-01T00:00:00", "gwe": 300.0, "gse_gwe": 80.0}, // before window
				},
			},
		})
	}))

	ms, err := c.MeasurementHistory(context.Background(), "325536N1170608W001", "2020-01-01", "2025-12-31", 0)
	require.NoError(t, err)

	assert.Equal(t, MeasurementsResource, gotQuery.Get("resource_id"))
	assert.JSONEq(t, `{"site_code":"325536N1170608W001"}`, gotQuery.Get("filters"))
	assert.Equal(t, "msmt_date desc", gotQuery.Get("sort"))
	assert.Equal(t, "1000", gotQuery.Get("limit"))

	require.Len(t, ms, 2)
	// Sorted ascending despite the service returning newest first.
	assert.Equal(t, "2023-09-01", ms[0].Date)
	assert.Equal(t, "2024-03-15", ms[1].Date)
	require.NotNil(t, ms[1].DepthFt)
	assert.Equal(t, 70.0, *ms[1].DepthFt)
}

func TestMeasurementHistoryRequiresSite(t *testing.T) {
	c, _ := newServerClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	_, err := c.MeasurementHistory(context.Background(), "", "", "", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "site code is required")
}

func TestCKANErrorResponse(t *testing.T) {
	c, _ := newServerClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{
			"success": false,
			"error":   map[string]any{"message": "resource not found"},
		})
	}))

	_, err := c.Sites(context.Background(), SiteFilter{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "datastore error")
}

func TestSitesCustomResourceID(t *testing.T) {
	var gotQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		writeJSON(t, w, map[string]any{
			"success": true,
			"result":  map[string]any{"records": []map[string]any{}},
		})
	}))
	t.Cleanup(srv.Close)

	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{Timeout: 5 * time.Second})
	c := NewClient(f, Endpoints{
		CKANSearch:       srv.URL + "/datastore_search",
		StationsResource: "11111111-2222-3333-4444-555555555555",
	})

	_, err := c.Sites(context.Background(), SiteFilter{})
	require.NoError(t, err)
	assert.Equal(t, "11111111-2222-3333-4444-555555555555", gotQuery.Get("resource_id"))
}
