package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is intentionally empty; every field names its variable in full.
const EnvPrefix = ""

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

type Config struct {
	App     AppConfig
	Service ServiceConfig
	DB      DBConfig
	Local   LocalStoreConfig
	Redis   RedisConfig
	JWT     JWTConfig
	Sync    SyncConfig
	Migrate MigrateConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"TILLSYNC_APP_ENV" default:"dev"`
	Port         string `envconfig:"TILLSYNC_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"TILLSYNC_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"TILLSYNC_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"TILLSYNC_SERVICE_KIND" default:"api"`
}

// DBConfig configures the authoritative server-side Postgres connection.
type DBConfig struct {
	DSN             string        `envconfig:"TILLSYNC_DB_DSN"`
	MaxOpenConns    int           `envconfig:"TILLSYNC_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"TILLSYNC_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"TILLSYNC_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"TILLSYNC_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// LocalStoreConfig configures the terminal-local sqlite store.
type LocalStoreConfig struct {
	Path string `envconfig:"TILLSYNC_LOCAL_DB_PATH" default:"tillsync-local.db"`
}

// RedisConfig is optional; when unreachable the leader election falls back to
// the shared-storage lease tier.
type RedisConfig struct {
	URL          string        `envconfig:"TILLSYNC_REDIS_URL"`
	Address      string        `envconfig:"TILLSYNC_REDIS_ADDR"`
	Password     string        `envconfig:"TILLSYNC_REDIS_PASSWORD"`
	DB           int           `envconfig:"TILLSYNC_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"TILLSYNC_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"TILLSYNC_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"TILLSYNC_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"TILLSYNC_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"TILLSYNC_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Configured reports whether a Redis endpoint was provided at all.
func (r RedisConfig) Configured() bool {
	return r.URL != "" || r.Address != ""
}

type JWTConfig struct {
	Secret string `envconfig:"TILLSYNC_JWT_SECRET"`
	Issuer string `envconfig:"TILLSYNC_JWT_ISSUER" default:"tillsync"`
}

// SyncConfig tunes the outbox drain pipeline.
type SyncConfig struct {
	PushURL             string        `envconfig:"TILLSYNC_SYNC_PUSH_URL"`
	BearerToken         string        `envconfig:"TILLSYNC_SYNC_BEARER_TOKEN"`
	BatchSize           int           `envconfig:"TILLSYNC_SYNC_BATCH_SIZE" default:"20"`
	DrainInterval       time.Duration `envconfig:"TILLSYNC_SYNC_DRAIN_INTERVAL" default:"30s"`
	SendTimeout         time.Duration `envconfig:"TILLSYNC_SYNC_SEND_TIMEOUT" default:"15s"`
	AttemptLease        time.Duration `envconfig:"TILLSYNC_SYNC_ATTEMPT_LEASE" default:"30s"`
	LeaderLease         time.Duration `envconfig:"TILLSYNC_SYNC_LEADER_LEASE" default:"15s"`
	BackoffBase         time.Duration `envconfig:"TILLSYNC_SYNC_BACKOFF_BASE" default:"2s"`
	BackoffCap          time.Duration `envconfig:"TILLSYNC_SYNC_BACKOFF_CAP" default:"5m"`
	NonRetryableDelay   time.Duration `envconfig:"TILLSYNC_SYNC_NON_RETRYABLE_DELAY" default:"6h"`
	RetryableErrorCodes []string      `envconfig:"TILLSYNC_SYNC_RETRYABLE_ERROR_CODES" default:"40001,40P01,55P03"`
}

type MigrateConfig struct {
	AutoRun bool   `envconfig:"TILLSYNC_MIGRATE_AUTO_RUN" default:"false"`
	Dir     string `envconfig:"TILLSYNC_MIGRATE_DIR" default:"pkg/migrate/migrations"`
}
