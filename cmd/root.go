package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/research-worker/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "research-worker",
	Short: "Durable task queue and company research pipeline",
	Long:  "Runs a single polling worker over a durable task queue: multi-step company research with per-step caching, entity resolution with aliases and merges, reply drafting, and bulk lead import.",
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
