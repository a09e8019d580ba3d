package worker

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmehdipour/nyx-sync/internal/app"
	"github.com/jmehdipour/nyx-sync/internal/live"
	"github.com/jmehdipour/nyx-sync/internal/metrics"
	"github.com/jmehdipour/nyx-sync/internal/worker"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func relayCmd(cfgPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "relay",
		Short: "Relay change events from Kafka to live websocket clients",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(cfgPath)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			consumer := app.KafkaConsumer(cfg, log)
			defer func() { _ = consumer.Close() }()

			hub := live.NewHub(live.HubOptions{Token: cfg.Live.Token, Logger: log})
			go hub.Run(ctx)

			metrics.MustRegister(prometheus.DefaultRegisterer)

			e := echo.New()
			e.HideBanner = true
			e.HidePort = true
			e.Use(echoMid.Recover())
			e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
			e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
			e.GET("/v1/live", echo.WrapHandler(hub))

			errCh := make(chan error, 1)
			go func() {
				log.Info("relay listening", zap.String("addr", cfg.Relay.Addr), zap.String("topic", consumer.Topic()))
				if err := e.Start(cfg.Relay.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			relay := worker.NewChangeRelay(consumer, hub, log)
			go func() { _ = relay.Run(ctx) }()

			select {
			case <-ctx.Done():
			case err := <-errCh:
				return err
			}
			log.Info("relay stopping", zap.Int64("lag", consumer.Lag()))

			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return e.Shutdown(sctx)
		},
	}
}
