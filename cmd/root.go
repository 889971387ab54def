package cmd

import (
	"fmt"
	"os"

	"github.com/jmehdipour/reader-gateway/cmd/worker"
	"github.com/jmehdipour/reader-gateway/internal/config"
	"github.com/jmehdipour/reader-gateway/internal/logger"
	"github.com/spf13/cobra"
)

var (
	cfgPath string
	rootCmd = &cobra.Command{
		Use:           "reader-gateway",
		Short:         "Tiered rate limiting and usage billing in front of the reader API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func Execute() {
	defer logger.Sync()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to YAML config file (defaults are embedded)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(usageCmd)
	rootCmd.AddCommand(worker.NewWorkerCmd())
}

// loadConfig reads the config and initializes the global logger from it.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.Log.Level)
	return cfg, nil
}
