package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/elecmate/api/internal/monitor"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

// Store drivers
const (
	StoreDriverMemory   = "memory"
	StoreDriverRedis    = "redis"
	StoreDriverPostgres = "postgres"
)

// Batch error policies
const (
	BatchErrorPolicyContinue = "continue"
	BatchErrorPolicyAbort    = "abort"
)

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	Database  DatabaseConfig
	Store     StoreConfig
	JWT       JWTConfig
	Gateway   GatewayConfig
	RateLimit RateLimitConfig
	Monitor   MonitorConfig
	Worker    WorkerConfig
}

type ServerConfig struct {
	Port      string
	Env       string
	LogLevel  string
	ApiDomain string
}

// IsProduction reports whether the server runs with env=production
func (s ServerConfig) IsProduction() bool {
	return strings.EqualFold(s.Env, "production")
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type DatabaseConfig struct {
	DSN         string
	AutoMigrate bool
}

type StoreConfig struct {
	Driver      string
	JobTTLHours int
}

// JobTTL is how long the redis store keeps job records
func (s StoreConfig) JobTTL() time.Duration {
	return time.Duration(s.JobTTLHours) * time.Hour
}

type JWTConfig struct {
	Secret     string
	Expiration int // hours
}

type GatewayConfig struct {
	Enabled bool
}

type RateLimitConfig struct {
	StartPerHour int
}

type MonitorConfig struct {
	IntervalMs       int
	FetchTimeoutMs   int
	MaxPolls         int
	MaxDurationSec   int
	BatchErrorPolicy string
}

func (m MonitorConfig) Interval() time.Duration {
	return time.Duration(m.IntervalMs) * time.Millisecond
}

func (m MonitorConfig) FetchTimeout() time.Duration {
	return time.Duration(m.FetchTimeoutMs) * time.Millisecond
}

func (m MonitorConfig) MaxDuration() time.Duration {
	return time.Duration(m.MaxDurationSec) * time.Second
}

// ToMonitor converts the section into monitor settings. Load has already
// rejected unknown policies.
func (m MonitorConfig) ToMonitor() monitor.Config {
	policy, _ := monitor.ParseBatchErrorPolicy(m.BatchErrorPolicy)
	return monitor.Config{
		Interval:         m.Interval(),
		FetchTimeout:     m.FetchTimeout(),
		MaxPolls:         m.MaxPolls,
		MaxDuration:      m.MaxDuration(),
		BatchErrorPolicy: policy,
	}
}

type WorkerConfig struct {
	Concurrency   int
	BatchDelayMs  int
	ItemsPerBatch int
}

func (w WorkerConfig) BatchDelay() time.Duration {
	return time.Duration(w.BatchDelayMs) * time.Millisecond
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("DATABASE_URL")
	readSecret("JWT_SECRET")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("server.api_domain", "API_DOMAIN")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("database.dsn", "DATABASE_URL")
	_ = viper.BindEnv("database.auto_migrate", "DATABASE_AUTO_MIGRATE")
	_ = viper.BindEnv("store.driver", "STORE_DRIVER")
	_ = viper.BindEnv("store.job_ttl_hours", "STORE_JOB_TTL_HOURS")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("jwt.expiration", "JWT_EXPIRATION")
	_ = viper.BindEnv("gateway.enabled", "GATEWAY_ENABLED")
	_ = viper.BindEnv("ratelimit.start_per_hour", "RATELIMIT_START_PER_HOUR")
	_ = viper.BindEnv("monitor.interval_ms", "MONITOR_INTERVAL_MS")
	_ = viper.BindEnv("monitor.fetch_timeout_ms", "MONITOR_FETCH_TIMEOUT_MS")
	_ = viper.BindEnv("monitor.max_polls", "MONITOR_MAX_POLLS")
	_ = viper.BindEnv("monitor.max_duration_sec", "MONITOR_MAX_DURATION_SEC")
	_ = viper.BindEnv("monitor.batch_error_policy", "MONITOR_BATCH_ERROR_POLICY")
	_ = viper.BindEnv("worker.concurrency", "WORKER_CONCURRENCY")
	_ = viper.BindEnv("worker.batch_delay_ms", "WORKER_BATCH_DELAY_MS")
	_ = viper.BindEnv("worker.items_per_batch", "WORKER_ITEMS_PER_BATCH")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("database.auto_migrate", false)
	viper.SetDefault("store.driver", StoreDriverMemory)
	viper.SetDefault("store.job_ttl_hours", 24)
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("jwt.expiration", 24)
	viper.SetDefault("gateway.enabled", false)
	viper.SetDefault("ratelimit.start_per_hour", 20)

	// Monitor defaults
	viper.SetDefault("monitor.interval_ms", 3000)
	viper.SetDefault("monitor.fetch_timeout_ms", 10000)
	viper.SetDefault("monitor.max_polls", 0)
	viper.SetDefault("monitor.max_duration_sec", 0)
	viper.SetDefault("monitor.batch_error_policy", BatchErrorPolicyContinue)

	// Worker defaults
	viper.SetDefault("worker.concurrency", 10)
	viper.SetDefault("worker.batch_delay_ms", 500)
	viper.SetDefault("worker.items_per_batch", 25)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:      viper.GetString("server.port"),
			Env:       viper.GetString("server.env"),
			LogLevel:  viper.GetString("server.log_level"),
			ApiDomain: viper.GetString("server.api_domain"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		Database: DatabaseConfig{
			DSN:         viper.GetString("database.dsn"),
			AutoMigrate: viper.GetBool("database.auto_migrate"),
		},
		Store: StoreConfig{
			Driver:      strings.ToLower(viper.GetString("store.driver")),
			JobTTLHours: viper.GetInt("store.job_ttl_hours"),
		},
		JWT: JWTConfig{
			Secret:     viper.GetString("jwt.secret"),
			Expiration: viper.GetInt("jwt.expiration"),
		},
		Gateway: GatewayConfig{
			Enabled: viper.GetBool("gateway.enabled"),
		},
		RateLimit: RateLimitConfig{
			StartPerHour: viper.GetInt("ratelimit.start_per_hour"),
		},
		Monitor: MonitorConfig{
			IntervalMs:       viper.GetInt("monitor.interval_ms"),
			FetchTimeoutMs:   viper.GetInt("monitor.fetch_timeout_ms"),
			MaxPolls:         viper.GetInt("monitor.max_polls"),
			MaxDurationSec:   viper.GetInt("monitor.max_duration_sec"),
			BatchErrorPolicy: strings.ToLower(viper.GetString("monitor.batch_error_policy")),
		},
		Worker: WorkerConfig{
			Concurrency:   viper.GetInt("worker.concurrency"),
			BatchDelayMs:  viper.GetInt("worker.batch_delay_ms"),
			ItemsPerBatch: viper.GetInt("worker.items_per_batch"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case StoreDriverMemory, StoreDriverRedis:
	case StoreDriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("store driver %q requires DATABASE_URL", c.Store.Driver)
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	switch c.Monitor.BatchErrorPolicy {
	case BatchErrorPolicyContinue, BatchErrorPolicyAbort:
	default:
		return fmt.Errorf("unknown monitor batch error policy %q", c.Monitor.BatchErrorPolicy)
	}

	if c.Monitor.IntervalMs <= 0 {
		return fmt.Errorf("monitor.interval_ms must be positive, got %d", c.Monitor.IntervalMs)
	}

	return nil
}
