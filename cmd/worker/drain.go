package worker

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/jmehdipour/nyx-sync/internal/app"
	"github.com/jmehdipour/nyx-sync/internal/kafka"
	"github.com/jmehdipour/nyx-sync/internal/worker"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func drainCmd(cfgPath func() string) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Replay the local mutation queue against the remote store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(cfgPath)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			core, err := app.Open(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer func() { _ = core.Close() }()

			syncLog, chDB, err := app.OpenSyncLog(ctx, cfg)
			if err != nil {
				return err
			}
			if syncLog != nil {
				defer func() { _ = chDB.Close() }()
				w := worker.NewSyncLogWriter(syncLog, cfg.SyncLog.BatchSize, cfg.SyncLog.BatchWait, log)
				core.Drainer.Recorder = w
				wctx, wcancel := context.WithCancel(context.Background())
				flushed := make(chan struct{})
				go func() { w.Run(wctx); close(flushed) }()
				defer func() { wcancel(); <-flushed }()
			}

			if cfg.Kafka.Publish {
				prod := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
				defer func() { _ = prod.Close() }()
				core.Drainer.Notifier = worker.NewChangeNotifier(prod, log)
			}

			if once {
				res, err := core.Drainer.Drain(ctx)
				log.Info("drain done",
					zap.Int("attempted", res.Attempted),
					zap.Int("synced", res.Synced),
					zap.Int("retried", res.Retried),
					zap.Int("failed", res.Failed),
				)
				return err
			}

			log.Info("drainer started", zap.Duration("interval", core.Drainer.Interval))
			return core.Drainer.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "drain what is due and exit")
	return cmd
}
