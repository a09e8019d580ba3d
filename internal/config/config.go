package config

import (
	"bytes"
	_ "embed"
	"strings"
	"time"

	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

// ---- Root ----

type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Local      LocalConfig      `mapstructure:"local"`
	Remote     RemoteConfig     `mapstructure:"remote"`
	ClickHouse ClickHouseConfig `mapstructure:"clickhouse"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Schema     SchemaConfig     `mapstructure:"schema"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Reconcile  ReconcileConfig  `mapstructure:"reconcile"`
	Live       LiveConfig       `mapstructure:"live"`
	Relay      RelayConfig      `mapstructure:"relay"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Breaker    BreakerConfig    `mapstructure:"breaker"`
	SyncLog    SyncLogConfig    `mapstructure:"sync_log"`
}

// ---- Leaf structs ----

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type HTTPConfig struct {
	Addr     string `mapstructure:"addr"`
	APIToken string `mapstructure:"api_token"`
}

type LocalConfig struct {
	Path        string        `mapstructure:"path"`
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

// RemoteConfig selects the authoritative store: mysql | postgres.
type RemoteConfig struct {
	Driver         string `mapstructure:"driver"`
	DatabaseConfig `mapstructure:",squash"`
}

type ClickHouseConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	DatabaseConfig `mapstructure:",squash"`
}

type RedisConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type KafkaConfig struct {
	Publish        bool     `mapstructure:"publish"`
	Brokers        []string `mapstructure:"brokers"`
	Topic          string   `mapstructure:"topic"`
	GroupID        string   `mapstructure:"group_id"`
	MinBytes       int      `mapstructure:"min_bytes"`
	MaxBytes       int      `mapstructure:"max_bytes"`
	CommitInterval int      `mapstructure:"commit_interval_ms"`
	FromLatest     bool     `mapstructure:"from_latest"`
}

type SchemaConfig struct {
	File          string        `mapstructure:"file"`
	EnsureTimeout time.Duration `mapstructure:"ensure_timeout"`
}

type QueueConfig struct {
	Workers          int           `mapstructure:"workers"`
	MaxRetries       int           `mapstructure:"max_retries"`
	BaseDelay        time.Duration `mapstructure:"base_delay"`
	MaxDelay         time.Duration `mapstructure:"max_delay"`
	DrainInterval    time.Duration `mapstructure:"drain_interval"`
	BatchSize        int           `mapstructure:"batch_size"`
	ReplayTimeout    time.Duration `mapstructure:"replay_timeout"`
	PruneSyncedAfter time.Duration `mapstructure:"prune_synced_after"`
}

type ReconcileConfig struct {
	RemoteTimeout time.Duration `mapstructure:"remote_timeout"`
}

type LiveConfig struct {
	Enabled              bool          `mapstructure:"enabled"`
	URL                  string        `mapstructure:"url"`
	Token                string        `mapstructure:"token"`
	HeartbeatInterval    time.Duration `mapstructure:"heartbeat_interval"`
	ReconnectInterval    time.Duration `mapstructure:"reconnect_interval"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
	DialTimeout          time.Duration `mapstructure:"dial_timeout"`
}

type RelayConfig struct {
	Addr string `mapstructure:"addr"`
}

type RateLimitConfig struct {
	RPS int `mapstructure:"rps"`
}

type BreakerConfig struct {
	FailThreshold int `mapstructure:"fail_threshold" yaml:"fail_threshold"`
	OpenForMs     int `mapstructure:"open_for_ms"    yaml:"open_for_ms"`
}

type SyncLogConfig struct {
	BatchSize int           `mapstructure:"batch_size"`
	BatchWait time.Duration `mapstructure:"batch_wait"`
}

// Load reads embedded defaults, merges user YAML (if provided), and applies env overrides (NYXSYNC_*).
func Load(path string) (Config, error) {
	v := viper.New()

	// embedded defaults
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		_ = v.MergeInConfig()
	}

	// env override (NYXSYNC_QUEUE_WORKERS, ...)
	v.SetEnvPrefix("NYXSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
