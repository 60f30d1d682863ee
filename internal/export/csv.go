// Package export renders fused datasets and well listings to CSV, GeoJSON,
// and shapefile. Values are rounded to two decimals here, at the
// presentation boundary; upstream records keep full precision.
package export

import (
	"encoding/csv"
	"io"
	"math"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/hydrosight/groundwater-cli/internal/potential"
	"github.com/hydrosight/groundwater-cli/pkg/calgw"
)

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(round2(v), 'f', -1, 64)
}

func formatFloatPtr(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}

// WritePotentialCSV writes the fused dataset as CSV.
func WritePotentialCSV(w io.Writer, ds *potential.Dataset) error {
	cw := csv.NewWriter(w)

	header := []string{"Lat", "Lon", "Site", "Depth_m", "Elevation_m", "Potential_m"}
	if err := cw.Write(header); err != nil {
		return eris.Wrap(err, "export: write csv header")
	}

	for _, rec := range ds.Records {
		row := []string{
			strconv.FormatFloat(rec.Lat, 'f', -1, 64),
			strconv.FormatFloat(rec.Lon, 'f', -1, 64),
			rec.Site,
			formatFloat(rec.DepthM),
			formatFloat(rec.ElevationM),
			formatFloat(rec.PotentialM),
		}
		if err := cw.Write(row); err != nil {
			return eris.Wrap(err, "export: write csv row")
		}
	}

	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush csv")
}

// WriteWellsCSV writes a current-levels listing as CSV.
func WriteWellsCSV(w io.Writer, wells []calgw.CurrentLevel) error {
	cw := csv.NewWriter(w)

	header := []string{
		"site_code", "state_well_number", "name", "lat", "lon",
		"gse_ft", "gwe_ft", "depth_ft", "well_depth_ft",
		"measurement_date", "basin_name", "county", "well_use",
	}
	if err := cw.Write(header); err != nil {
		return eris.Wrap(err, "export: write csv header")
	}

	for _, well := range wells {
		row := []string{
			well.SiteCode,
			well.StateWellNumber,
			well.Name,
			formatFloatPtr(well.Lat),
			formatFloatPtr(well.Lon),
			formatFloatPtr(well.GSEFt),
			formatFloatPtr(well.GWEFt),
			formatFloatPtr(well.DepthFt),
			formatFloatPtr(well.WellDepthFt),
			well.MeasurementDate,
			well.BasinName,
			well.County,
			well.WellUse,
		}
		if err := cw.Write(row); err != nil {
			return eris.Wrap(err, "export: write csv row")
		}
	}

	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush csv")
}

// WriteMeasurementsCSV writes a site's measurement history as CSV.
func WriteMeasurementsCSV(w io.Writer, siteCode string, ms []calgw.Measurement) error {
	cw := csv.NewWriter(w)

	header := []string{"site_code", "date", "gwe_ft", "depth_ft", "gse_ft", "qa", "method", "org"}
	if err := cw.Write(header); err != nil {
		return eris.Wrap(err, "export: write csv header")
	}

	for _, m := range ms {
		row := []string{
			siteCode,
			m.Date,
			formatFloatPtr(m.GWEFt),
			formatFloatPtr(m.DepthFt),
			formatFloatPtr(m.GSEFt),
			m.QA,
			m.Method,
			m.Org,
		}
		if err := cw.Write(row); err != nil {
			return eris.Wrap(err, "export: write csv row")
		}
	}

	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush csv")
}
