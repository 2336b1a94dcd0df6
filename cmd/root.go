package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/speclens/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "speclens",
	Short: "Buyer specification extraction and triangulation",
	Long:  "Extracts product specifications from buyer-intent datasets, deduplicates them per source, and triangulates a cross-source consensus gated by the PNS expert catalog.",
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
