package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hydrosight/groundwater-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "groundwater-cli",
	Short: "Groundwater level sampling and potential computation",
	Long:  "Samples USGS 3DEP elevation rasters, fuses well depth readings into hydraulic potential, and queries California DWR groundwater services.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
