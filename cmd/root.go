package cmd

import (
	"fmt"
	"os"

	"github.com/jmehdipour/nyx-sync/cmd/worker"
	"github.com/jmehdipour/nyx-sync/internal/config"
	"github.com/jmehdipour/nyx-sync/internal/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfgPath string
	rootCmd = &cobra.Command{
		Use:   "nyx-sync",
		Short: "Offline-first local/remote sync engine",
	}
)

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "path to YAML config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(newQueueCmd())
	rootCmd.AddCommand(worker.NewWorkerCmd(func() string { return cfgPath }))
}

// setup loads the config and initialises the global logger.
func setup() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, logger.Init(cfg.Log.Level), nil
}
