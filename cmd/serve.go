package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmehdipour/nyx-sync/internal/app"
	httpSrv "github.com/jmehdipour/nyx-sync/internal/http"
	"github.com/jmehdipour/nyx-sync/internal/kafka"
	"github.com/jmehdipour/nyx-sync/internal/live"
	"github.com/jmehdipour/nyx-sync/internal/reconcile"
	"github.com/jmehdipour/nyx-sync/internal/worker"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local API, queue drainer and live channel",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		core, err := app.Open(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer func() { _ = core.Close() }()

		// schemas first; a partial failure is retried on the next live connect
		core.Sync.EnsureAll(ctx)

		syncLog, chDB, err := app.OpenSyncLog(ctx, cfg)
		if err != nil {
			return err
		}
		if syncLog != nil {
			defer func() { _ = chDB.Close() }()
			w := worker.NewSyncLogWriter(syncLog, cfg.SyncLog.BatchSize, cfg.SyncLog.BatchWait, log)
			core.Drainer.Recorder = w
			// stopped after the drainer so its last rows are flushed
			wctx, wcancel := context.WithCancel(context.Background())
			flushed := make(chan struct{})
			go func() { w.Run(wctx); close(flushed) }()
			defer func() { wcancel(); <-flushed }()
		}

		rds, err := app.OpenRedis(cfg)
		if err != nil {
			return err
		}
		if rds != nil {
			defer func() { _ = rds.Close() }()
		}

		if cfg.Kafka.Publish {
			prod := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
			defer func() { _ = prod.Close() }()
			core.Drainer.Notifier = worker.NewChangeNotifier(prod, log)
		}

		hub := live.NewHub(live.HubOptions{Token: cfg.HTTP.APIToken, Logger: log})
		go hub.Run(ctx)

		// in-flight replays still mark their entries, so the local db closes
		// only after Run has returned
		drained := make(chan struct{})
		go func() { _ = core.Drainer.Run(ctx); close(drained) }()
		defer func() { cancel(); <-drained }()

		if cfg.Live.Enabled {
			ch := live.NewChannel(live.Config{
				URL:                  cfg.Live.URL,
				HeartbeatInterval:    cfg.Live.HeartbeatInterval,
				ReconnectInterval:    cfg.Live.ReconnectInterval,
				MaxReconnectAttempts: cfg.Live.MaxReconnectAttempts,
				DialTimeout:          cfg.Live.DialTimeout,
				Logger:               log,
				OnConnected: func() {
					// back online: flush the queue and catch up on schema drift
					core.Drainer.Trigger()
					core.Sync.EnsureAll(ctx)
				},
				OnConnectivityLost: func(err error) {
					log.Warn("live updates unavailable until restart or reconnect", zap.Error(err))
				},
			})
			refresher := &live.Refresher{
				Local:   core.Local,
				Remote:  core.Remote,
				Queue:   core.Queue,
				UI:      hub,
				Locks:   core.Locks,
				Timeout: cfg.Reconcile.RemoteTimeout,
				Log:     log.Named("refresher"),
			}
			detach := refresher.Attach(ch, core.Registry.Names())
			defer detach()

			if err := ch.Connect(ctx, cfg.Live.Token); err != nil {
				log.Warn("live channel not connected yet", zap.Error(err))
			}
			defer ch.Disconnect()
		}

		server := httpSrv.NewServer(cfg, httpSrv.Deps{
			Records: reconcile.New(core.Local, core.Remote, reconcile.Options{
				RemoteTimeout: cfg.Reconcile.RemoteTimeout,
				Logger:        log,
			}),
			Writer:  core.Writer,
			Queue:   core.Queue,
			Drainer: core.Drainer,
			Schema:  core.Sync,
			SyncLog: syncLog,
			Live:    hub,
			Redis:   rds,
			Logger:  log,
		})

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start(cfg.HTTP.Addr)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			log.Info("signal received, shutting down", zap.String("signal", sig.String()))
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				cancel()
				return fmt.Errorf("http server exited: %w", err)
			}
		}

		cancel()
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		_ = server.Shutdown(sctx)

		return nil
	},
}
