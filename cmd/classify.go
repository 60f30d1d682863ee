package main

import (
	"encoding/json"
	"os"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/hydrosight/groundwater-cli/internal/percentile"
)

var (
	classifySite         string
	classifyBoundaryFile string
)

type classification struct {
	SiteCode string  `json:"site_code,omitempty"`
	DepthFt  float64 `json:"depth_ft"`
	percentile.Result
}

type classifyReport struct {
	SiteCode     string           `json:"site_code,omitempty"`
	Results      []classification `json:"results"`
	Distribution map[string]int   `json:"distribution,omitempty"`
}

var classifyCmd = &cobra.Command{
	Use:   "classify <depth-ft> [depth-ft...]",
	Short: "Classify depth readings against a site's percentile table",
	Long:  "Places depth readings in percentile brackets using either a stored site table (--site; run 'wells --type percentile --save' first) or a boundary JSON file (--boundary-file). With multiple readings a label distribution is included.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		depths := make([]float64, len(args))
		for i, a := range args {
			v, err := strconv.ParseFloat(a, 64)
			if err != nil {
				return eris.Errorf("invalid depth %q", a)
			}
			depths[i] = v
		}

		var boundary percentile.Boundary
		switch {
		case classifyBoundaryFile != "":
			data, err := os.ReadFile(classifyBoundaryFile)
			if err != nil {
				return eris.Wrap(err, "read boundary file")
			}
			if err := json.Unmarshal(data, &boundary); err != nil {
				return eris.Wrap(err, "parse boundary file")
			}
		case classifySite != "":
			st, err := initStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			sb, err := st.GetBoundary(ctx, classifySite)
			if err != nil {
				return err
			}
			if sb == nil {
				return eris.Errorf("no percentile table stored for site %s", classifySite)
			}
			boundary = sb.Boundary
		default:
			return eris.New("either --site or --boundary-file is required")
		}

		if err := boundary.Validate(); err != nil {
			return err
		}

		report := classifyReport{SiteCode: classifySite}
		for _, d := range depths {
			report.Results = append(report.Results, classification{
				SiteCode: classifySite,
				DepthFt:  d,
				Result:   boundary.Classify(d),
			})
		}
		if len(depths) > 1 {
			report.Distribution = make(map[string]int)
			for _, r := range report.Results {
				label := "unclassified"
				if r.Label != nil {
					label = *r.Label
				}
				report.Distribution[label]++
			}
		}

		return writeJSON(cmd.OutOrStdout(), report)
	},
}

func init() {
	classifyCmd.Flags().StringVar(&classifySite, "site", "", "site code of a stored percentile table")
	classifyCmd.Flags().StringVar(&classifyBoundaryFile, "boundary-file", "", "JSON file holding a percentile boundary table")
	rootCmd.AddCommand(classifyCmd)
}
