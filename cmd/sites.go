package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hydrosight/groundwater-cli/internal/raster"
	"github.com/hydrosight/groundwater-cli/pkg/calgw"
)

var (
	sitesBbox   string
	sitesCounty string
	sitesBasin  string
	sitesLimit  int
	sitesOut    string
)

var sitesCmd = &cobra.Command{
	Use:   "sites",
	Short: "List monitoring stations from the CNRA DataStore",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("fetch"); err != nil {
			return err
		}

		filter := calgw.SiteFilter{
			County: sitesCounty,
			Basin:  sitesBasin,
			Limit:  sitesLimit,
		}
		if sitesBbox != "" {
			b, err := raster.ParseBounds(sitesBbox)
			if err != nil {
				return err
			}
			filter.Bbox = &b
		}

		sites, err := newCalGWClient().Sites(cmd.Context(), filter)
		if err != nil {
			return err
		}
		zap.L().Info("fetched stations", zap.Int("sites", len(sites)))

		out := cmd.OutOrStdout()
		if sitesOut != "" {
			f, err := os.Create(sitesOut)
			if err != nil {
				return eris.Wrap(err, "create output file")
			}
			defer f.Close()
			out = f
		}
		return writeJSON(out, sites)
	},
}

func init() {
	sitesCmd.Flags().StringVar(&sitesBbox, "bbox", "", "bounding box as west,south,east,north")
	sitesCmd.Flags().StringVar(&sitesCounty, "county", "", "filter by county name")
	sitesCmd.Flags().StringVar(&sitesBasin, "basin", "", "filter by basin name")
	sitesCmd.Flags().IntVar(&sitesLimit, "limit", 0, "maximum stations (default 1000)")
	sitesCmd.Flags().StringVar(&sitesOut, "out", "", "output file (default stdout)")
	rootCmd.AddCommand(sitesCmd)
}
