package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hydrosight/groundwater-cli/internal/export"
)

var (
	historyStart  string
	historyEnd    string
	historyLimit  int
	historyFormat string
	historyOut    string
)

var historyCmd = &cobra.Command{
	Use:   "history <site-code>",
	Short: "Fetch the measurement time series for one site",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("fetch"); err != nil {
			return err
		}
		siteCode := args[0]

		measurements, err := newCalGWClient().MeasurementHistory(cmd.Context(), siteCode, historyStart, historyEnd, historyLimit)
		if err != nil {
			return err
		}
		zap.L().Info("fetched measurement history",
			zap.String("site", siteCode),
			zap.Int("measurements", len(measurements)),
		)

		out := cmd.OutOrStdout()
		if historyOut != "" {
			f, err := os.Create(historyOut)
			if err != nil {
				return eris.Wrap(err, "create output file")
			}
			defer f.Close()
			out = f
		}

		switch historyFormat {
		case "csv":
			return export.WriteMeasurementsCSV(out, siteCode, measurements)
		case "json", "":
			return writeJSON(out, measurements)
		default:
			return eris.Errorf("unsupported format %q, want json or csv", historyFormat)
		}
	},
}

func init() {
	historyCmd.Flags().StringVar(&historyStart, "start", "", "window start date (YYYY-MM-DD)")
	historyCmd.Flags().StringVar(&historyEnd, "end", "", "window end date (YYYY-MM-DD)")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 0, "maximum measurements (default 1000)")
	historyCmd.Flags().StringVar(&historyFormat, "format", "json", "output format: json or csv")
	historyCmd.Flags().StringVar(&historyOut, "out", "", "output file (default stdout)")
	rootCmd.AddCommand(historyCmd)
}
