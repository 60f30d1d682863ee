package calgw

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/hydrosight/groundwater-cli/internal/raster"
)

type ckanResponse struct {
	Success bool `json:"success"`
	Result  struct {
		Records []map[string]any `json:"records"`
	} `json:"result"`
	Error json.RawMessage `json:"error"`
}

func (c *Client) ckanGet(ctx context.Context, endpoint string, params url.Values) ([]map[string]any, error) {
	data, err := c.fetcher.DownloadBytes(ctx, endpoint+"?"+params.Encode())
	if err != nil {
		return nil, eris.Wrap(err, "calgw: datastore request")
	}

	var resp ckanResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, eris.Wrap(err, "calgw: decode datastore response")
	}
	if !resp.Success {
		return nil, eris.Errorf("calgw: datastore error: %s", string(resp.Error))
	}
	return resp.Result.Records, nil
}

// Site is one monitoring station from the periodic measurement dataset.
type Site struct {
	SiteCode          string   `json:"site_code"`
	StationID         string   `json:"stn_id"`
	Name              string   `json:"name"`
	Lat               *float64 `json:"lat"`
	Lon               *float64 `json:"lon"`
	GSEFt             *float64 `json:"gse_ft"`
	WellDepthFt       *float64 `json:"well_depth_ft"`
	BasinName         string   `json:"basin_name"`
	County            string   `json:"county"`
	WellUse           string   `json:"well_use"`
	MonitoringProgram string   `json:"monitoring_program"`
}

// SiteFilter narrows a station listing. County filters server-side; Basin
// uses a SQL ILIKE query; Bbox filters client-side because the DataStore has
// no spatial index.
type SiteFilter struct {
	Bbox   *raster.Bounds
	County string
	Basin  string
	Limit  int // default 1000
}

func (f SiteFilter) limit() int {
	if f.Limit <= 0 {
		return 1000
	}
	return f.Limit
}

// Sites lists monitoring stations that have measurement data.
func (c *Client) Sites(ctx context.Context, filter SiteFilter) ([]Site, error) {
	var records []map[string]any
	var err error

	if filter.Basin != "" {
		sql := fmt.Sprintf(`SELECT * FROM %q WHERE basin_name ILIKE '%%%s%%' LIMIT %d`,
			c.eps.StationsResource, sqlEscape(filter.Basin), filter.limit())
		params := url.Values{}
		params.Set("sql", sql)
		records, err = c.ckanGet(ctx, c.eps.CKANSQL, params)
	} else {
		params := url.Values{}
		params.Set("resource_id", c.eps.StationsResource)
		params.Set("limit", strconv.Itoa(filter.limit()))
		if filter.County != "" {
			filters, merr := json.Marshal(map[string]string{"county_name": filter.County})
			if merr != nil {
				return nil, eris.Wrap(merr, "calgw: marshal filters")
			}
			params.Set("filters", string(filters))
		}
		records, err = c.ckanGet(ctx, c.eps.CKANSearch, params)
	}
	if err != nil {
		return nil, err
	}

	sites := make([]Site, 0, len(records))
	for _, r := range records {
		lat := attrFloat(r, "latitude")
		lon := attrFloat(r, "longitude")

		if filter.Bbox != nil {
			if lat == nil || lon == nil || !filter.Bbox.Contains(*lat, *lon) {
				continue
			}
		}

		sites = append(sites, Site{
			SiteCode:          attrString(r, "site_code"),
			StationID:         attrString(r, "stn_id"),
			Name:              attrString(r, "well_name"),
			Lat:               lat,
			Lon:               lon,
			GSEFt:             attrFloat(r, "gse"),
			WellDepthFt:       attrFloat(r, "well_depth"),
			BasinName:         attrString(r, "basin_name"),
			County:            attrString(r, "county_name"),
			WellUse:           attrString(r, "well_use"),
			MonitoringProgram: attrString(r, "monitoring_program"),
		})
	}
	return sites, nil
}

// Measurement is one periodic depth-to-water observation at a site.
type Measurement struct {
	Date    string   `json:"date"`
	GWEFt   *float64 `json:"gwe_ft"`
	DepthFt *float64 `json:"depth_ft"`
	GSEFt   *float64 `json:"gse_ft"`
	QA      string   `json:"qa"`
	Method  string   `json:"method"`
	Org     string   `json:"org"`
}

// MeasurementHistory fetches the time series for one site, optionally
// windowed by start/end dates (YYYY-MM-DD). Results are sorted by date
// ascending.
func (c *Client) MeasurementHistory(ctx context.Context, siteCode, startDate, endDate string, limit int) ([]Measurement, error) {
	if siteCode == "" {
		return nil, eris.New("calgw: site code is required")
	}
	if limit <= 0 {
		limit = 1000
	}

	filters, err := json.Marshal(map[string]string{"site_code": siteCode})
	if err != nil {
		return nil, eris.Wrap(err, "calgw: marshal filters")
	}

	params := url.Values{}
	params.Set("resource_id", c.eps.MeasurementsResource)
	params.Set("filters", string(filters))
	params.Set("limit", strconv.Itoa(limit))
	params.Set("sort", "msmt_date desc")

	records, err := c.ckanGet(ctx, c.eps.CKANSearch, params)
	if err != nil {
		return nil, err
	}

	measurements := make([]Measurement, 0, len(records))
	for _, r := range records {
		date := attrString(r, "msmt_date")
		if len(date) > 10 {
			date = date[:10]
		}
		if startDate != "" && date < startDate {
			continue
		}
		if endDate != "" && date > endDate {
			continue
		}

		measurements = append(measurements, Measurement{
			Date:    date,
			GWEFt:   attrFloat(r, "gwe"),
			DepthFt: attrFloat(r, "gse_gwe"),
			GSEFt:   attrFloat(r, "wlm_gse"),
			QA:      attrString(r, "wlm_qa_desc"),
			Method:  attrString(r, "wlm_mthd_desc"),
			Org:     attrString(r, "wlm_org_name"),
		})
	}

	sort.Slice(measurements, func(i, j int) bool {
		return measurements[i].Date < measurements[j].Date
	})
	return measurements, nil
}
