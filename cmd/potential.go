package main

import (
	"encoding/json"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hydrosight/groundwater-cli/internal/export"
	"github.com/hydrosight/groundwater-cli/internal/fetcher"
	"github.com/hydrosight/groundwater-cli/internal/model"
	"github.com/hydrosight/groundwater-cli/internal/potential"
	"github.com/hydrosight/groundwater-cli/internal/raster"
	"github.com/hydrosight/groundwater-cli/internal/units"
)

var (
	potBbox        string
	potDepthCol    string
	potUnit        string
	potLatCol      string
	potLonCol      string
	potSiteCol     string
	potConcurrency int
	potResolution  int
	potFormat      string
	potOut         string
	potSaveName    string
	potSheet       string
	potDelimiter   string
)

// bboxPadDeg widens a bbox derived from the observations so edge points do
// not land on the outermost pixel row.
const bboxPadDeg = 0.01

var potentialCmd = &cobra.Command{
	Use:   "potential <table>",
	Short: "Fuse a well depth table with 3DEP elevation into hydraulic potential",
	Long:  "Reads a CSV or XLSX table of well observations, samples surface elevation for each point, and computes potential as elevation minus depth-to-water.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("fetch"); err != nil {
			return err
		}
		ctx := cmd.Context()

		header, rows, err := readTable(args[0])
		if err != nil {
			return err
		}

		unit, err := unitOrDefault(potUnit)
		if err != nil {
			return err
		}

		opts := potential.Options{
			DepthColumn: potDepthCol,
			Unit:        unit,
			LatColumn:   columnOrDefault(potLatCol, cfg.Potential.LatColumn),
			LonColumn:   columnOrDefault(potLonCol, cfg.Potential.LonColumn),
			SiteColumn:  columnOrDefault(potSiteCol, cfg.Potential.SiteColumn),
			Concurrency: concurrencyOrDefault(potConcurrency),
		}

		var bounds raster.Bounds
		if potBbox != "" {
			bounds, err = raster.ParseBounds(potBbox)
		} else {
			bounds, err = boundsFromTable(header, rows, opts)
		}
		if err != nil {
			return err
		}

		resolution := potResolution
		if resolution == 0 {
			resolution = cfg.USGS.Resolution
		}

		grid, err := newUSGSClient().FetchDEM(ctx, bounds, resolution)
		if err != nil {
			return err
		}

		ds, err := potential.ComputeDataset(ctx, header, rows, grid, opts)
		if err != nil {
			return err
		}
		zap.L().Info("computed potential dataset",
			zap.Int("records", len(ds.Records)),
			zap.Int("dropped", ds.Dropped),
			zap.String("depth_column", ds.DepthColumn),
		)

		if potSaveName != "" {
			st, err := initStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()
			saved, err := st.SaveDataset(ctx, potSaveName, ds)
			if err != nil {
				return err
			}
			zap.L().Info("saved dataset", zap.String("id", saved.ID), zap.String("name", saved.Name))
		}

		return writeDataset(cmd.OutOrStdout(), ds)
	},
}

// readTable loads a CSV or XLSX observation table, picking the reader by
// file extension.
func readTable(path string) ([]string, [][]string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		opts := fetcher.XLSXOptions{SheetName: potSheet}
		return fetcher.ReadXLSXTable(path, opts)
	default:
		f, err := os.Open(path)
		if err != nil {
			return nil, nil, eris.Wrap(err, "open table")
		}
		defer f.Close()
		opts := fetcher.CSVOptions{TrimSpace: true}
		if potDelimiter != "" {
			opts.Delimiter = rune(potDelimiter[0])
		}
		return fetcher.ReadCSVTable(f, opts)
	}
}

// boundsFromTable derives a padded bbox from the valid observation points.
func boundsFromTable(header []string, rows [][]string, opts potential.Options) (raster.Bounds, error) {
	readings, _, err := potential.ParseReadings(header, rows, opts)
	if err != nil {
		return raster.Bounds{}, err
	}

	var valid []model.DepthReading
	for _, r := range readings {
		if r.Valid() {
			valid = append(valid, r)
		}
	}
	if len(valid) == 0 {
		return raster.Bounds{}, eris.New("no rows with usable coordinates; pass --bbox explicitly")
	}

	b := raster.Bounds{West: math.Inf(1), South: math.Inf(1), East: math.Inf(-1), North: math.Inf(-1)}
	for _, r := range valid {
		b.West = math.Min(b.West, r.Lon)
		b.East = math.Max(b.East, r.Lon)
		b.South = math.Min(b.South, r.Lat)
		b.North = math.Max(b.North, r.Lat)
	}
	b.West -= bboxPadDeg
	b.East += bboxPadDeg
	b.South -= bboxPadDeg
	b.North += bboxPadDeg
	return b, nil
}

func writeDataset(stdout io.Writer, ds *potential.Dataset) error {
	if potFormat == "shp" {
		if potOut == "" {
			return eris.New("--out is required for shapefile output")
		}
		return export.WritePotentialShapefile(potOut, ds)
	}

	out := stdout
	if potOut != "" {
		f, err := os.Create(potOut)
		if err != nil {
			return eris.Wrap(err, "create output file")
		}
		defer f.Close()
		out = f
	}

	switch potFormat {
	case "json", "":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(ds), "encode dataset")
	case "csv":
		return export.WritePotentialCSV(out, ds)
	case "geojson":
		return export.WritePotentialGeoJSON(out, ds)
	default:
		return eris.Errorf("unsupported format %q, want json, csv, geojson, or shp", potFormat)
	}
}

// unitOrDefault normalizes the unit flag, accepting spellings like "feet" or
// "Meters", falling back to the configured default when the flag is unset.
func unitOrDefault(flag string) (units.Unit, error) {
	if flag == "" {
		flag = cfg.Potential.Unit
	}
	return units.Parse(flag)
}

func columnOrDefault(flag, configured string) string {
	if flag != "" {
		return flag
	}
	return configured
}

func concurrencyOrDefault(flag int) int {
	if flag > 0 {
		return flag
	}
	return cfg.Potential.Concurrency
}

func init() {
	potentialCmd.Flags().StringVar(&potBbox, "bbox", "", "bounding box as west,south,east,north (default derived from observations)")
	potentialCmd.Flags().StringVar(&potDepthCol, "depth-col", "", "depth column name (default inferred)")
	potentialCmd.Flags().StringVar(&potUnit, "unit", "", "depth unit, ft or m (default from config)")
	potentialCmd.Flags().StringVar(&potLatCol, "lat-col", "", "latitude column name")
	potentialCmd.Flags().StringVar(&potLonCol, "lon-col", "", "longitude column name")
	potentialCmd.Flags().StringVar(&potSiteCol, "site-col", "", "site identifier column name")
	potentialCmd.Flags().IntVar(&potConcurrency, "concurrency", 0, "per-row workers (default from config)")
	potentialCmd.Flags().IntVar(&potResolution, "resolution", 0, "longest DEM edge in pixels (default from config)")
	potentialCmd.Flags().StringVar(&potFormat, "format", "json", "output format: json, csv, geojson, or shp")
	potentialCmd.Flags().StringVar(&potOut, "out", "", "output file (default stdout; required for shp)")
	potentialCmd.Flags().StringVar(&potSaveName, "save", "", "save the dataset to the store under this name")
	potentialCmd.Flags().StringVar(&potSheet, "sheet", "", "XLSX sheet name (default first sheet)")
	potentialCmd.Flags().StringVar(&potDelimiter, "delimiter", "", "CSV field delimiter (default comma)")
	rootCmd.AddCommand(potentialCmd)
}
