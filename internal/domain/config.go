package domain

import (
	"os"
	"strconv"
	"time"
)

// Config holds the complete PhishGuard configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines feature availability
	Tier Tier `json:"tier"`

	// ReferenceDataPath optionally points at a YAML file replacing the
	// built-in reference tables.
	ReferenceDataPath string `json:"referenceDataPath,omitempty"`

	// AsyncWorker enables the bus-driven scan worker.
	AsyncWorker bool `json:"asyncWorker"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite + in-process cache + channels
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + Redis + NATS
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./phishguard.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			ResultTTL:    time.Hour,
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "phishguard",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.AsyncWorker = true
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "phishguard",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		ResultTTL:      time.Hour,
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       5 * time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}

// LoadConfig picks the tier from PHISHGUARD_TIER and applies
// PHISHGUARD_* environment overrides on top of it.
func LoadConfig() *Config {
	return LoadConfigFrom(os.Getenv)
}

// LoadConfigFrom is LoadConfig with an injectable environment lookup.
func LoadConfigFrom(getenv func(string) string) *Config {
	cfg := DefaultConfig()
	if getenv("PHISHGUARD_TIER") == string(TierPro) {
		cfg = ProConfig()
	}

	if v := getenv("PHISHGUARD_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if n, ok := envInt(getenv, "PHISHGUARD_PORT"); ok {
		cfg.Server.Port = n
	}
	if v := getenv("PHISHGUARD_REFDATA"); v != "" {
		cfg.ReferenceDataPath = v
	}
	if v := getenv("PHISHGUARD_ASYNC_WORKER"); v != "" {
		cfg.AsyncWorker = v == "true"
	}
	if v := getenv("PHISHGUARD_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := getenv("PHISHGUARD_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if getenv("PHISHGUARD_DEBUG") == "true" {
		cfg.Logging.Level = "debug"
	}

	// Repository
	if v := getenv("PHISHGUARD_DB_DRIVER"); v != "" {
		cfg.Repository.Driver = v
	}
	if v := getenv("PHISHGUARD_SQLITE_PATH"); v != "" {
		cfg.Repository.SQLitePath = v
	}
	if v := getenv("PHISHGUARD_POSTGRES_HOST"); v != "" {
		cfg.Repository.PostgresHost = v
	}
	if n, ok := envInt(getenv, "PHISHGUARD_POSTGRES_PORT"); ok {
		cfg.Repository.PostgresPort = n
	}
	if v := getenv("PHISHGUARD_POSTGRES_USER"); v != "" {
		cfg.Repository.PostgresUser = v
	}
	if v := getenv("PHISHGUARD_POSTGRES_PASSWORD"); v != "" {
		cfg.Repository.PostgresPassword = v
	}
	if v := getenv("PHISHGUARD_POSTGRES_DB"); v != "" {
		cfg.Repository.PostgresDB = v
	}
	if v := getenv("PHISHGUARD_POSTGRES_SSLMODE"); v != "" {
		cfg.Repository.PostgresSSLMode = v
	}

	// Cache
	if v := getenv("PHISHGUARD_CACHE"); v != "" {
		cfg.Cache.Type = v
	}
	if v := getenv("PHISHGUARD_REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := getenv("PHISHGUARD_REDIS_PASSWORD"); v != "" {
		cfg.Cache.RedisPassword = v
	}
	if v := getenv("PHISHGUARD_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.ResultTTL = d
		}
	}

	// Event bus
	if v := getenv("PHISHGUARD_BUS"); v != "" {
		cfg.EventBus.Type = v
	}
	if v := getenv("PHISHGUARD_NATS_URL"); v != "" {
		cfg.EventBus.NATSUrl = v
	}
	if v := getenv("PHISHGUARD_NATS_TOKEN"); v != "" {
		cfg.EventBus.NATSToken = v
	}

	return cfg
}

func envInt(getenv func(string) string, key string) (int, bool) {
	v := getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
