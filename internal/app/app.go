// Package app opens the stores and services every command shares.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jmehdipour/nyx-sync/internal/breaker"
	"github.com/jmehdipour/nyx-sync/internal/config"
	"github.com/jmehdipour/nyx-sync/internal/db"
	"github.com/jmehdipour/nyx-sync/internal/repository"
	"github.com/jmehdipour/nyx-sync/internal/schema"
	"github.com/jmehdipour/nyx-sync/internal/service/queue"
	"github.com/jmehdipour/nyx-sync/internal/service/records"
	"github.com/jmehdipour/nyx-sync/internal/store"
	"github.com/jmehdipour/nyx-sync/internal/worker"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// Core is the local store, the remote store and the services built on them.
type Core struct {
	Cfg      config.Config
	Log      *zap.Logger
	Registry *schema.Registry

	LocalDB  *sqlx.DB
	RemoteDB *sqlx.DB
	Local    *store.SQLStore
	Remote   *store.Guarded

	Sync      *schema.Synchronizer
	QueueRepo *repository.QueueRepositoryImpl
	Queue     *queue.Service
	Writer    *records.Writer
	Drainer   *worker.Drainer
	// Locks guards the local copy of a record between the writer and the
	// live refresher.
	Locks *store.RecordLocks
}

// Open connects both stores and migrates the local queue table. The remote
// connection is lazy: an unreachable remote is logged, not fatal.
func Open(ctx context.Context, cfg config.Config, log *zap.Logger) (*Core, error) {
	if log == nil {
		log = zap.NewNop()
	}

	reg, err := schema.Load(cfg.Schema.File)
	if err != nil {
		return nil, fmt.Errorf("load schemas: %w", err)
	}

	localDB, err := db.NewSQLiteConnection(cfg.Local.Path, db.SQLiteOpts{BusyTimeout: cfg.Local.BusyTimeout})
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	remoteDB, driver, err := db.OpenRemote(cfg.Remote.Driver, cfg.Remote.DSN, db.MySQLOpts{
		MaxOpenConns:    cfg.Remote.MaxOpenConns,
		MaxIdleConns:    cfg.Remote.MaxIdleConns,
		ConnMaxLifetime: cfg.Remote.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Remote.ConnMaxIdleTime,
		PingTimeout:     cfg.Remote.PingTimeout,
		Lazy:            true,
	})
	if err != nil {
		_ = localDB.Close()
		return nil, fmt.Errorf("remote open: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, pingTimeout(cfg.Remote.PingTimeout))
	if err := remoteDB.PingContext(pctx); err != nil {
		log.Warn("remote store unreachable, starting offline", zap.String("driver", driver), zap.Error(err))
	}
	cancel()

	remoteDialect, err := store.DialectFor(driver)
	if err != nil {
		_ = localDB.Close()
		_ = remoteDB.Close()
		return nil, err
	}

	c := &Core{
		Cfg:      cfg,
		Log:      log,
		Registry: reg,
		LocalDB:  localDB,
		RemoteDB: remoteDB,
		Local:    store.NewSQLStore(localDB, store.SQLite{}, reg),
		Remote: store.NewGuarded(
			store.NewSQLStore(remoteDB, remoteDialect, reg),
			breaker.New(cfg.Breaker.FailThreshold, time.Duration(cfg.Breaker.OpenForMs)*time.Millisecond),
		),
	}

	c.Sync = schema.NewSynchronizer(reg, c.Local, c.Remote, schema.SynchronizerOpts{
		Timeout: cfg.Schema.EnsureTimeout,
		Logger:  log,
	})

	c.QueueRepo = repository.NewQueueRepository(localDB)
	if err := c.QueueRepo.Migrate(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}

	c.Drainer = worker.NewDrainer(c.QueueRepo, c.Remote, log)
	c.Drainer.Workers = cfg.Queue.Workers
	c.Drainer.MaxRetries = cfg.Queue.MaxRetries
	c.Drainer.BaseDelay = cfg.Queue.BaseDelay
	c.Drainer.MaxDelay = cfg.Queue.MaxDelay
	c.Drainer.BatchSize = cfg.Queue.BatchSize
	c.Drainer.Interval = cfg.Queue.DrainInterval
	c.Drainer.ReplayTimeout = cfg.Queue.ReplayTimeout
	c.Drainer.PruneAfter = cfg.Queue.PruneSyncedAfter

	c.Queue = queue.New(c.QueueRepo, reg, queue.Options{
		Logger:    log,
		OnEnqueue: c.Drainer.Trigger,
	})
	c.Locks = store.NewRecordLocks()
	c.Writer = records.NewWriter(c.Local, c.Queue, reg, records.Options{Logger: log, Locks: c.Locks})

	return c, nil
}

func (c *Core) Close() error {
	rerr := c.RemoteDB.Close()
	if err := c.LocalDB.Close(); err != nil {
		return err
	}
	return rerr
}

func pingTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return 3 * time.Second
	}
	return d
}
