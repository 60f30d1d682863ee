package potential

import (
	"context"
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/hydrosight/groundwater-cli/internal/model"
	"github.com/hydrosight/groundwater-cli/internal/raster"
	"github.com/hydrosight/groundwater-cli/internal/units"
)

// Default column names used by the CADWR/USGS export tables.
const (
	DefaultLatColumn  = "Lat"
	DefaultLonColumn  = "Lon"
	DefaultSiteColumn = "Site"
)

// Options configures a dataset computation.
type Options struct {
	DepthColumn string     // explicit depth column name; inferred when empty
	Unit        units.Unit // depth unit; defaults to feet
	LatColumn   string
	LonColumn   string
	SiteColumn  string
	Concurrency int // per-row workers; defaults to 4
}

func (o Options) withDefaults() Options {
	if o.Unit == "" {
		o.Unit = units.Feet
	}
	if o.LatColumn == "" {
		o.LatColumn = DefaultLatColumn
	}
	if o.LonColumn == "" {
		o.LonColumn = DefaultLonColumn
	}
	if o.SiteColumn == "" {
		o.SiteColumn = DefaultSiteColumn
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	return o
}

// Dataset is the result of fusing an observation table with a raster.
type Dataset struct {
	Records     []model.PotentialRecord `json:"records"`
	Stats       *Stats                  `json:"statistics"`
	DepthColumn string                  `json:"depth_column"`
	Unit        units.Unit              `json:"depth_unit"`
	InputRows   int                     `json:"input_rows"`
	Dropped     int                     `json:"dropped_rows"`
}

// ParseReadings extracts depth readings from a string table. Cells that are
// empty or unparseable become NaN and are filtered later; a missing lat/lon
// column or undeterminable depth column is fatal.
func ParseReadings(header []string, rows [][]string, opts Options) ([]model.DepthReading, string, error) {
	opts = opts.withDefaults()

	latIdx := findColumn(header, opts.LatColumn)
	if latIdx < 0 {
		return nil, "", eris.Errorf("potential: latitude column %q not found", opts.LatColumn)
	}
	lonIdx := findColumn(header, opts.LonColumn)
	if lonIdx < 0 {
		return nil, "", eris.Errorf("potential: longitude column %q not found", opts.LonColumn)
	}
	siteIdx := findColumn(header, opts.SiteColumn) // optional

	var depthIdx int
	if opts.DepthColumn != "" {
		depthIdx = findColumn(header, opts.DepthColumn)
		if depthIdx < 0 {
			return nil, "", eris.Errorf("potential: depth column %q not found", opts.DepthColumn)
		}
	} else {
		var err error
		depthIdx, err = InferDepthColumn(header, rows, opts.LatColumn, opts.LonColumn, opts.SiteColumn)
		if err != nil {
			return nil, "", err
		}
	}

	readings := make([]model.DepthReading, 0, len(rows))
	for _, row := range rows {
		r := model.DepthReading{
			Lat:   cellFloat(row, latIdx),
			Lon:   cellFloat(row, lonIdx),
			Depth: cellFloat(row, depthIdx),
		}
		if siteIdx >= 0 && siteIdx < len(row) {
			r.Site = strings.TrimSpace(row[siteIdx])
		}
		readings = append(readings, r)
	}

	return readings, header[depthIdx], nil
}

func cellFloat(row []string, idx int) float64 {
	if idx < 0 || idx >= len(row) {
		return math.NaN()
	}
	cell := strings.TrimSpace(row[idx])
	if cell == "" {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(cell, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

// Compute converts readings to meters, samples the raster, and subtracts.
// Rows with missing values or no raster coverage are dropped, not errored:
// the pipeline degrades gracefully when the raster does not cover every
// observation point. Input order is preserved for the survivors.
//
// The per-row transform is pure, so rows are processed concurrently and the
// output is re-assembled in input order afterwards.
func Compute(ctx context.Context, readings []model.DepthReading, unit units.Unit, grid *raster.Grid, concurrency int) ([]model.PotentialRecord, error) {
	// An unrecognized unit poisons every row; fail once, up front.
	if _, err := units.ToMeters(0, unit); err != nil {
		return nil, err
	}
	if concurrency <= 0 {
		concurrency = 4
	}

	slots := make([]*model.PotentialRecord, len(readings))

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, r := range readings {
		g.Go(func() error {
			slots[i] = fuse(r, unit, grid)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	records := make([]model.PotentialRecord, 0, len(readings))
	for _, rec := range slots {
		if rec != nil {
			records = append(records, *rec)
		}
	}
	return records, nil
}

// fuse runs the per-row transform. Returns nil when the row is dropped.
func fuse(r model.DepthReading, unit units.Unit, grid *raster.Grid) *model.PotentialRecord {
	if !r.Valid() {
		return nil
	}

	depthM, err := units.ToMeters(r.Depth, unit)
	if err != nil {
		return nil // unit validated by the caller; unreachable in practice
	}
	elevM := grid.Sample(r.Lat, r.Lon)
	if math.IsNaN(elevM) || math.IsNaN(depthM) {
		return nil
	}

	return &model.PotentialRecord{
		Lat:        r.Lat,
		Lon:        r.Lon,
		Site:       r.Site,
		DepthM:     depthM,
		ElevationM: elevM,
		PotentialM: elevM - depthM,
	}
}

// ComputeDataset is the full table pipeline: column resolution, per-row
// fusion, and aggregate statistics over the surviving records.
func ComputeDataset(ctx context.Context, header []string, rows [][]string, grid *raster.Grid, opts Options) (*Dataset, error) {
	opts = opts.withDefaults()

	readings, depthCol, err := ParseReadings(header, rows, opts)
	if err != nil {
		return nil, err
	}

	records, err := Compute(ctx, readings, opts.Unit, grid, opts.Concurrency)
	if err != nil {
		return nil, err
	}

	return &Dataset{
		Records:     records,
		Stats:       ComputeStats(records),
		DepthColumn: depthCol,
		Unit:        opts.Unit,
		InputRows:   len(rows),
		Dropped:     len(rows) - len(records),
	}, nil
}
