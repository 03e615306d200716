package domain

import "time"

// Config holds the complete Arbiter configuration.
type Config struct {
	// Server settings
	Server ServerConfig `yaml:"server" json:"server"`

	// Tier selects the default backing services
	Tier Tier `yaml:"tier" json:"tier"`

	// Component configurations
	Repository RepositoryConfig `yaml:"repository" json:"repository"`
	Cache      CacheConfig      `yaml:"cache" json:"cache"`
	EventBus   EventBusConfig   `yaml:"eventBus" json:"eventBus"`
	Rules      RulesConfig      `yaml:"rules" json:"rules"`
	Worker     WorkerConfig     `yaml:"worker" json:"worker"`

	// Observability
	Logging LoggingConfig `yaml:"logging" json:"logging"`
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string `yaml:"host" json:"host"`
	Port            int    `yaml:"port" json:"port"`
	ReadTimeout     int    `yaml:"readTimeout" json:"readTimeout"`         // seconds
	WriteTimeout    int    `yaml:"writeTimeout" json:"writeTimeout"`       // seconds
	ShutdownTimeout int    `yaml:"shutdownTimeout" json:"shutdownTimeout"` // seconds
	EnableMCP       bool   `yaml:"enableMcp" json:"enableMcp"`
}

// RulesConfig controls where rules come from and how they are refreshed.
type RulesConfig struct {
	// SeedFile is a rule file imported on startup. Empty disables seeding.
	SeedFile string `yaml:"seedFile" json:"seedFile"`

	// WatchSeedFile re-imports SeedFile whenever it changes on disk.
	WatchSeedFile bool `yaml:"watchSeedFile" json:"watchSeedFile"`

	// WatchDebounce coalesces bursts of file events.
	WatchDebounce time.Duration `yaml:"watchDebounce" json:"watchDebounce"`

	// ReloadSchedule is a cron spec for reloading the engine from the
	// repository, e.g. "@every 5m". Empty disables it.
	ReloadSchedule string `yaml:"reloadSchedule" json:"reloadSchedule"`

	// MaxConcurrency bounds parallel batch evaluation.
	MaxConcurrency int `yaml:"maxConcurrency" json:"maxConcurrency"`
}

// WorkerConfig controls the async evaluation worker.
type WorkerConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`   // debug, info, warn, error
	Format string `yaml:"format" json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	ServiceName string `yaml:"serviceName" json:"serviceName"`

	// Endpoint is the OTLP gRPC collector address, e.g. "localhost:4317".
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	Insecure bool   `yaml:"insecure" json:"insecure"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Namespace string `yaml:"namespace" json:"namespace"`
	Path      string `yaml:"path" json:"path"`
}

// Tier represents the deployment profile.
type Tier string

const (
	// TierCommunity runs on SQLite, Go channels and an in-process cache
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL, NATS and Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30,
			WriteTimeout:    30,
			ShutdownTimeout: 10,
			EnableMCP:       true,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./arbiter.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
			ResultTTL:    5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Rules: RulesConfig{
			WatchDebounce:  500 * time.Millisecond,
			MaxConcurrency: 10,
		},
		Worker: WorkerConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "arbiter",
			Endpoint:    "localhost:4317",
			Insecure:    true,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "arbiter",
			Path:      "/metrics",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:          "postgres",
		PostgresHost:    "localhost",
		PostgresPort:    5432,
		PostgresDB:      "arbiter",
		PostgresSSLMode: "disable",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
		ResultTTL:      5 * time.Minute,
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
