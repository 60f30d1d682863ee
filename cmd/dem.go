package main

import (
	"encoding/json"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hydrosight/groundwater-cli/internal/raster"
)

var (
	demBbox       string
	demResolution int
	demSamples    []string
	demOut        string
)

type demSample struct {
	Lat         float64  `json:"lat"`
	Lon         float64  `json:"lon"`
	ElevationM  *float64 `json:"elevation_m"`
	OutOfBounds bool     `json:"out_of_bounds,omitempty"`
}

type demReport struct {
	Bounds  raster.Bounds `json:"bounds"`
	Rows    int           `json:"rows"`
	Cols    int           `json:"cols"`
	Stats   *raster.Stats `json:"stats"`
	Samples []demSample   `json:"samples,omitempty"`
}

var demCmd = &cobra.Command{
	Use:   "dem",
	Short: "Fetch a 3DEP elevation raster and report its statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("fetch"); err != nil {
			return err
		}

		bounds, err := raster.ParseBounds(demBbox)
		if err != nil {
			return err
		}

		resolution := demResolution
		if resolution == 0 {
			resolution = cfg.USGS.Resolution
		}

		grid, err := newUSGSClient().FetchDEM(cmd.Context(), bounds, resolution)
		if err != nil {
			return err
		}

		report := demReport{
			Bounds: grid.Bounds(),
			Rows:   grid.Rows(),
			Cols:   grid.Cols(),
			Stats:  grid.Stats(),
		}
		for _, s := range demSamples {
			lat, lon, err := parseLatLon(s)
			if err != nil {
				return err
			}
			v := grid.Sample(lat, lon)
			sample := demSample{Lat: lat, Lon: lon, OutOfBounds: math.IsNaN(v)}
			if !sample.OutOfBounds {
				sample.ElevationM = &v
			}
			report.Samples = append(report.Samples, sample)
		}

		out := cmd.OutOrStdout()
		if demOut != "" {
			f, err := os.Create(demOut)
			if err != nil {
				return eris.Wrap(err, "create output file")
			}
			defer f.Close()
			out = f
			zap.L().Info("writing dem report", zap.String("path", demOut))
		}

		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(report), "encode report")
	},
}

func parseLatLon(s string) (lat, lon float64, err error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return 0, 0, eris.Errorf("invalid coordinate %q, want lat,lon", s)
	}
	lat, err = strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, eris.Errorf("invalid latitude %q", parts[0])
	}
	lon, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, eris.Errorf("invalid longitude %q", parts[1])
	}
	return lat, lon, nil
}

func init() {
	demCmd.Flags().StringVar(&demBbox, "bbox", "", "bounding box as west,south,east,north (required)")
	demCmd.Flags().IntVar(&demResolution, "resolution", 0, "longest image edge in pixels (default from config)")
	demCmd.Flags().StringSliceVar(&demSamples, "sample", nil, "lat,lon point to sample (repeatable)")
	demCmd.Flags().StringVar(&demOut, "out", "", "write report to file instead of stdout")
	demCmd.MarkFlagRequired("bbox")
	rootCmd.AddCommand(demCmd)
}
