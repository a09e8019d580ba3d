package worker

import (
	"fmt"

	"github.com/jmehdipour/nyx-sync/internal/config"
	"github.com/jmehdipour/nyx-sync/internal/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewWorkerCmd returns the parent "worker" command. cfgPath reads the root's
// --config flag at run time.
func NewWorkerCmd(cfgPath func() string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run background workers",
	}
	// attach subcommands
	cmd.AddCommand(drainCmd(cfgPath))
	cmd.AddCommand(relayCmd(cfgPath))

	return cmd
}

func setup(cfgPath func() string) (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgPath())
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, logger.Init(cfg.Log.Level), nil
}
