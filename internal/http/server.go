package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/jmehdipour/nyx-sync/internal/config"
	"github.com/jmehdipour/nyx-sync/internal/http/middleware"
	"github.com/jmehdipour/nyx-sync/internal/metrics"
	"github.com/jmehdipour/nyx-sync/internal/model"
	"github.com/jmehdipour/nyx-sync/internal/reconcile"
	"github.com/jmehdipour/nyx-sync/internal/repository"
	"github.com/jmehdipour/nyx-sync/internal/schema"
	"github.com/jmehdipour/nyx-sync/internal/worker"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RecordReader serves reconciled reads.
type RecordReader interface {
	List(ctx context.Context, table string) (*reconcile.ListResult, error)
	Get(ctx context.Context, table, id string) (*reconcile.GetResult, error)
}

// RecordWriter is the local write path.
type RecordWriter interface {
	Save(ctx context.Context, table string, rec model.Record) (model.Record, model.SyncQueueEntry, error)
	Delete(ctx context.Context, table, id string) (model.SyncQueueEntry, error)
}

// QueueService is the operator view of the mutation queue.
type QueueService interface {
	List(ctx context.Context, f model.QueueFilter) ([]model.SyncQueueEntry, error)
	Get(ctx context.Context, id int64) (model.SyncQueueEntry, error)
	Stats(ctx context.Context) (map[model.QueueStatus]int64, error)
	Requeue(ctx context.Context, id int64) (model.SyncQueueEntry, error)
	Discard(ctx context.Context, id int64) error
}

type DrainRunner interface {
	Trigger()
	Drain(ctx context.Context) (worker.DrainResult, error)
}

type SchemaService interface {
	EnsureAll(ctx context.Context) *schema.EnsureReport
	Diff(ctx context.Context) (*schema.Diff, error)
}

// Deps are the collaborators behind the routes. SyncLog, Live and Redis are
// optional.
type Deps struct {
	Records RecordReader
	Writer  RecordWriter
	Queue   QueueService
	Drainer DrainRunner
	Schema  SchemaService
	SyncLog repository.SyncLogRepository
	Live    http.Handler
	Redis   *redis.Client
	Logger  *zap.Logger
}

type Server struct {
	e   *echo.Echo
	log *zap.Logger
}

func NewServer(cfg config.Config, d Deps) *Server {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}

	// echo
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Logger.SetLevel(echoLevel(cfg.Log.Level))
	e.Use(echoMid.Recover(), echoMid.Logger())

	metrics.MustRegister(prometheus.DefaultRegisterer)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	if d.Live != nil {
		e.GET("/v1/live", echo.WrapHandler(d.Live))
	}

	// middlewares
	authMW := middleware.TokenMiddleware(cfg.HTTP.APIToken)
	rlMW := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Redis:          d.Redis,
		RPS:            cfg.RateLimit.RPS,
		KeyPrefix:      "rl:client:",
		Window:         time.Second,
		RetryAfterHint: true,
	})

	// routes
	v1 := e.Group("/v1", authMW, rlMW)

	v1.GET("/records/:table", listRecordsHandler(d.Records))
	v1.GET("/records/:table/:id", getRecordHandler(d.Records))
	v1.POST("/records/:table", saveRecordHandler(d.Writer))
	v1.PUT("/records/:table/:id", saveRecordHandler(d.Writer))
	v1.DELETE("/records/:table/:id", deleteRecordHandler(d.Writer))

	v1.GET("/queue", listQueueHandler(d.Queue))
	v1.GET("/queue/stats", queueStatsHandler(d.Queue))
	v1.GET("/queue/:id", getQueueEntryHandler(d.Queue))
	v1.POST("/queue/:id/requeue", requeueHandler(d.Queue))
	v1.DELETE("/queue/:id", discardHandler(d.Queue))

	v1.POST("/sync/drain", drainHandler(d.Drainer))

	v1.GET("/schema/diff", schemaDiffHandler(d.Schema))
	v1.POST("/schema/ensure", schemaEnsureHandler(d.Schema))

	v1.GET("/reports/sync", listSyncLogHandler(d.SyncLog))

	return &Server{e: e, log: d.Logger.Named("http")}
}

// Handler exposes the router, mostly for httptest.
func (s *Server) Handler() http.Handler { return s.e }

func (s *Server) Start(addr string) error {
	s.log.Info("listening", zap.String("addr", addr))
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }

func echoLevel(level string) log.Lvl {
	switch strings.ToLower(level) {
	case "debug":
		return log.DEBUG
	case "info":
		return log.INFO
	case "error":
		return log.ERROR
	default:
		return log.WARN
	}
}
