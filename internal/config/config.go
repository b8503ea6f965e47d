// Package config loads per-binary configuration from the environment,
// with an optional .env file picked up before processing.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

func init() {
	_ = godotenv.Load()
}

// StoreConfig holds PostgreSQL connection settings.
type StoreConfig struct {
	Host             string        `envconfig:"DB_HOST" default:"localhost"`
	Port             int           `envconfig:"DB_PORT" default:"5432"`
	Name             string        `envconfig:"DB_NAME" default:"marketwatch"`
	User             string        `envconfig:"DB_USER" default:"postgres"`
	Password         string        `envconfig:"DB_PASS" default:""`
	SSLMode          string        `envconfig:"DB_SSLMODE" default:"disable"`
	StatementTimeout time.Duration `envconfig:"DB_STATEMENT_TIMEOUT" default:"30s"`
	MaxOpenConns     int           `envconfig:"DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns     int           `envconfig:"DB_MAX_IDLE_CONNS" default:"10"`
}

// DSN returns the PostgreSQL connection string.
func (c StoreConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.Host, c.Port, c.Name, c.User, c.Password, c.SSLMode)
}

// BusConfig holds Kafka connection settings.
type BusConfig struct {
	Brokers        []string      `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	CheckRequests  string        `envconfig:"KAFKA_TOPIC_CHECK_REQUESTS" default:"check.requests"`
	CheckResults   string        `envconfig:"KAFKA_TOPIC_CHECK_RESULTS" default:"check.results"`
	WorkerGroup    string        `envconfig:"KAFKA_WORKER_GROUP" default:"marketwatch-workers"`
	ProcessorGroup string        `envconfig:"KAFKA_PROCESSOR_GROUP" default:"marketwatch-processor"`
	DialTimeout    time.Duration `envconfig:"KAFKA_DIAL_TIMEOUT" default:"10s"`
}

// ProxyConfig holds proxy manager tunables.
type ProxyConfig struct {
	RedisAddr        string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword    string        `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB          int           `envconfig:"REDIS_DB" default:"0"`
	RateLimitCooloff time.Duration `envconfig:"PROXY_RATE_LIMIT_COOLOFF" default:"5m"`
	LeaseTTL         time.Duration `envconfig:"PROXY_LEASE_TTL" default:"5m"`
}

// FetcherConfig holds the Fetcher's tunables.
type FetcherConfig struct {
	Timeout time.Duration `envconfig:"FETCHER_TIMEOUT" default:"30s"`
}

// NotifierConfig holds the Telegram bot's settings.
type NotifierConfig struct {
	BotToken string `envconfig:"TELEGRAM_BOT_TOKEN" default:""`
}

// SchedulerConfig holds the monitoring scheduler's tunables.
type SchedulerConfig struct {
	MaxConsecutiveErrors int           `envconfig:"SCHEDULER_MAX_CONSECUTIVE_ERRORS" default:"5"`
	TickErrorDelay       time.Duration `envconfig:"SCHEDULER_TICK_ERROR_DELAY" default:"1s"`
	MaxSleepSlice        time.Duration `envconfig:"SCHEDULER_MAX_SLEEP_SLICE" default:"60s"`
	RecoveryBaseDelay    time.Duration `envconfig:"SCHEDULER_RECOVERY_BASE_DELAY" default:"60s"`
	RecoveryMaxDelay     time.Duration `envconfig:"SCHEDULER_RECOVERY_MAX_DELAY" default:"10m"`
	RecoveryMaxAttempts  int           `envconfig:"SCHEDULER_RECOVERY_MAX_ATTEMPTS" default:"10"`
	StopGrace            time.Duration `envconfig:"SCHEDULER_STOP_GRACE" default:"30s"`
}

// WorkerConfig holds the parsing worker's tunables.
type WorkerConfig struct {
	MaxRetryAttempts int           `envconfig:"WORKER_MAX_RETRY_ATTEMPTS" default:"3"`
	RetryBaseDelay   time.Duration `envconfig:"WORKER_RETRY_BASE_DELAY" default:"1s"`
	RequeueDelay     time.Duration `envconfig:"WORKER_REQUEUE_DELAY" default:"2s"`
}

// StatusAPIConfig holds the status HTTP surface's settings.
type StatusAPIConfig struct {
	Addr string `envconfig:"STATUS_API_ADDR" default:":8090"`
}

// AppConfig is the shared application-level configuration every binary
// loads, regardless of which subsystem it runs.
type AppConfig struct {
	Environment string `envconfig:"APP_ENV" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
}

// SchedulerProcessConfig is the full configuration for cmd/scheduler.
type SchedulerProcessConfig struct {
	App       AppConfig
	Store     StoreConfig
	Bus       BusConfig
	Scheduler SchedulerConfig
}

// WorkerProcessConfig is the full configuration for cmd/worker.
type WorkerProcessConfig struct {
	App     AppConfig
	Store   StoreConfig
	Bus     BusConfig
	Proxy   ProxyConfig
	Fetcher FetcherConfig
	Worker  WorkerConfig
}

// ProcessorProcessConfig is the full configuration for cmd/processor.
type ProcessorProcessConfig struct {
	App       AppConfig
	Store     StoreConfig
	Bus       BusConfig
	Notifier  NotifierConfig
	StatusAPI StatusAPIConfig
	Proxy     ProxyConfig
}

// AdminProcessConfig is the full configuration for cmd/admin.
type AdminProcessConfig struct {
	App   AppConfig
	Store StoreConfig
	Proxy ProxyConfig
}

// Load populates cfg (a pointer to one of the *ProcessConfig structs
// above) from the environment.
func Load(cfg interface{}) error {
	if err := envconfig.Process("", cfg); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	return nil
}
