package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jmehdipour/nyx-sync/internal/config"
	"github.com/jmehdipour/nyx-sync/internal/db"
	"github.com/jmehdipour/nyx-sync/internal/kafka"
	"github.com/jmehdipour/nyx-sync/internal/repository"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// OpenSyncLog connects ClickHouse and creates the sync_log table. It returns
// nil, nil, nil when ClickHouse is disabled.
func OpenSyncLog(ctx context.Context, cfg config.Config) (repository.SyncLogRepository, *sqlx.DB, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil, nil
	}
	chDB, err := db.NewClickHouseConnection(db.ClickHouseOpts{
		DSN:             cfg.ClickHouse.DSN,
		MaxOpenConns:    cfg.ClickHouse.MaxOpenConns,
		MaxIdleConns:    cfg.ClickHouse.MaxIdleConns,
		ConnMaxLifetime: cfg.ClickHouse.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ClickHouse.ConnMaxIdleTime,
		PingTimeout:     cfg.ClickHouse.PingTimeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse connect: %w", err)
	}
	repo := repository.NewSyncLogRepository(chDB)
	if err := repo.Migrate(ctx); err != nil {
		_ = chDB.Close()
		return nil, nil, fmt.Errorf("clickhouse migrate: %w", err)
	}
	return repo, chDB, nil
}

// OpenRedis returns nil when Redis is disabled.
func OpenRedis(cfg config.Config) (*redis.Client, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	rds, err := db.NewRedisClient(db.RedisOpts{
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		DialTimeout: cfg.Redis.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("redis connect: %w", err)
	}
	return rds, nil
}

// KafkaConsumer builds the change topic consumer used by the relay.
func KafkaConsumer(cfg config.Config, log *zap.Logger) *kafka.Consumer {
	return kafka.NewConsumerFromConfig(kafka.Config{
		Brokers:        cfg.Kafka.Brokers,
		Topic:          cfg.Kafka.Topic,
		GroupID:        cfg.Kafka.GroupID,
		MinBytes:       cfg.Kafka.MinBytes,
		MaxBytes:       cfg.Kafka.MaxBytes,
		CommitInterval: time.Duration(cfg.Kafka.CommitInterval) * time.Millisecond,
		FromLatest:     cfg.Kafka.FromLatest,
		Logger:         log,
	})
}
