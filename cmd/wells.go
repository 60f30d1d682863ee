package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hydrosight/groundwater-cli/internal/export"
	"github.com/hydrosight/groundwater-cli/internal/raster"
	"github.com/hydrosight/groundwater-cli/internal/store"
	"github.com/hydrosight/groundwater-cli/pkg/calgw"
)

var (
	wellsType   string
	wellsBbox   string
	wellsCounty string
	wellsBasin  string
	wellsYears  int
	wellsLimit  int
	wellsFormat string
	wellsOut    string
	wellsSave   bool
	wellsAll    bool
)

var wellsCmd = &cobra.Command{
	Use:   "wells",
	Short: "Query CalGWLive statewide well snapshots",
	Long:  "Fetches recently measured levels, historical percentile tables, seasonal changes, or long-term Mann-Kendall trends from the CalGWLive FeatureServer layers.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("fetch"); err != nil {
			return err
		}
		ctx := cmd.Context()

		opts := calgw.QueryOptions{
			County:     wellsCounty,
			Basin:      wellsBasin,
			MaxRecords: wellsLimit,
		}
		if wellsBbox != "" {
			b, err := raster.ParseBounds(wellsBbox)
			if err != nil {
				return err
			}
			opts.Bbox = &b
		}

		client := newCalGWClient()

		out := cmd.OutOrStdout()
		if wellsOut != "" {
			f, err := os.Create(wellsOut)
			if err != nil {
				return eris.Wrap(err, "create output file")
			}
			defer f.Close()
			out = f
		}

		switch wellsType {
		case "current", "":
			levels, err := client.CurrentLevels(ctx, opts)
			if err != nil {
				return err
			}
			zap.L().Info("fetched current levels", zap.Int("wells", len(levels)))
			if wellsFormat == "csv" {
				return export.WriteWellsCSV(out, levels)
			}
			return writeJSON(out, levels)

		case "percentile":
			sites, err := client.PercentileStats(ctx, !wellsAll, opts)
			if err != nil {
				return err
			}
			zap.L().Info("fetched percentile tables", zap.Int("sites", len(sites)))
			if wellsSave {
				if err := saveBoundaries(ctx, sites); err != nil {
					return err
				}
			}
			return writeJSON(out, sites)

		case "seasonal":
			changes, err := client.SeasonalChanges(ctx, wellsYears, opts)
			if err != nil {
				return err
			}
			zap.L().Info("fetched seasonal changes", zap.Int("sites", len(changes)), zap.Int("years", wellsYears))
			return writeJSON(out, changes)

		case "trend":
			trends, err := client.LongTermTrends(ctx, opts)
			if err != nil {
				return err
			}
			zap.L().Info("fetched long-term trends", zap.Int("sites", len(trends)))
			return writeJSON(out, trends)

		default:
			return eris.Errorf("unsupported type %q, want current, percentile, seasonal, or trend", wellsType)
		}
	},
}

// saveBoundaries persists percentile tables for later classification.
// Tables the service could not order consistently are skipped with a
// warning rather than failing the batch.
func saveBoundaries(ctx context.Context, sites []calgw.PercentileSite) error {
	st, err := initStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	boundaries := make([]store.SiteBoundary, 0, len(sites))
	for _, s := range sites {
		b := s.Boundary()
		if err := b.Validate(); err != nil {
			zap.L().Warn("skipping non-monotonic percentile table",
				zap.String("site", s.SiteCode),
				zap.Error(err),
			)
			continue
		}
		boundaries = append(boundaries, store.SiteBoundary{
			SiteCode:    s.SiteCode,
			Lat:         s.Lat,
			Lon:         s.Lon,
			LastDepthFt: s.LastDepthFt,
			Boundary:    b,
			UpdatedAt:   time.Now().UTC(),
		})
	}

	n, err := st.UpsertBoundaries(ctx, boundaries)
	if err != nil {
		return err
	}
	zap.L().Info("saved percentile boundaries", zap.Int64("rows", n), zap.Int("skipped", len(sites)-len(boundaries)))
	return nil
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(v), "encode output")
}

func init() {
	wellsCmd.Flags().StringVar(&wellsType, "type", "current", "layer to query: current, percentile, seasonal, or trend")
	wellsCmd.Flags().StringVar(&wellsBbox, "bbox", "", "bounding box as west,south,east,north")
	wellsCmd.Flags().StringVar(&wellsCounty, "county", "", "filter by county name")
	wellsCmd.Flags().StringVar(&wellsBasin, "basin", "", "filter by basin name")
	wellsCmd.Flags().IntVar(&wellsYears, "years", 1, "seasonal lookback in years (1, 3, 5, or 10)")
	wellsCmd.Flags().IntVar(&wellsLimit, "limit", 0, "maximum records (default 5000)")
	wellsCmd.Flags().StringVar(&wellsFormat, "format", "json", "output format: json or csv (current only)")
	wellsCmd.Flags().StringVar(&wellsOut, "out", "", "output file (default stdout)")
	wellsCmd.Flags().BoolVar(&wellsSave, "save", false, "persist percentile tables to the store")
	wellsCmd.Flags().BoolVar(&wellsAll, "all", false, "include sites without a percentile ranking")
	rootCmd.AddCommand(wellsCmd)
}
