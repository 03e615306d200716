package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/opensource-finance/arbiter/internal/domain"
)

// applyEnvOverrides applies ARBITER_SECTION_FIELD variables. Malformed
// numbers, booleans and durations are reported rather than ignored.
func applyEnvOverrides(cfg *domain.Config) error {
	o := &overrider{}

	if v, ok := lookup("TIER"); ok {
		cfg.Tier = domain.Tier(v)
	}

	// Server
	o.str("SERVER_HOST", &cfg.Server.Host)
	o.int("SERVER_PORT", &cfg.Server.Port)
	o.int("SERVER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	o.int("SERVER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	o.int("SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)
	o.bool("SERVER_ENABLE_MCP", &cfg.Server.EnableMCP)

	// Repository
	o.str("REPOSITORY_DRIVER", &cfg.Repository.Driver)
	o.str("REPOSITORY_DSN", &cfg.Repository.DSN)
	o.str("REPOSITORY_SQLITE_PATH", &cfg.Repository.SQLitePath)
	o.str("REPOSITORY_POSTGRES_HOST", &cfg.Repository.PostgresHost)
	o.int("REPOSITORY_POSTGRES_PORT", &cfg.Repository.PostgresPort)
	o.str("REPOSITORY_POSTGRES_USER", &cfg.Repository.PostgresUser)
	o.str("REPOSITORY_POSTGRES_PASSWORD", &cfg.Repository.PostgresPassword)
	o.str("REPOSITORY_POSTGRES_DB", &cfg.Repository.PostgresDB)
	o.str("REPOSITORY_POSTGRES_SSL_MODE", &cfg.Repository.PostgresSSLMode)
	o.int("REPOSITORY_MAX_OPEN_CONNS", &cfg.Repository.MaxOpenConns)
	o.int("REPOSITORY_MAX_IDLE_CONNS", &cfg.Repository.MaxIdleConns)
	o.duration("REPOSITORY_CONN_MAX_LIFETIME", &cfg.Repository.ConnMaxLifetime)

	// Cache
	o.str("CACHE_TYPE", &cfg.Cache.Type)
	o.int("CACHE_LOCAL_MAX_SIZE", &cfg.Cache.LocalMaxSize)
	o.duration("CACHE_LOCAL_TTL", &cfg.Cache.LocalTTL)
	o.str("CACHE_REDIS_ADDR", &cfg.Cache.RedisAddr)
	o.str("CACHE_REDIS_PASSWORD", &cfg.Cache.RedisPassword)
	o.int("CACHE_REDIS_DB", &cfg.Cache.RedisDB)
	o.bool("CACHE_ENABLE_TWO_PHASE", &cfg.Cache.EnableTwoPhase)
	o.duration("CACHE_RESULT_TTL", &cfg.Cache.ResultTTL)

	// Event bus
	o.str("EVENTBUS_TYPE", &cfg.EventBus.Type)
	o.int("EVENTBUS_CHANNEL_BUFFER_SIZE", &cfg.EventBus.ChannelBufferSize)
	o.str("EVENTBUS_NATS_URL", &cfg.EventBus.NATSUrl)
	o.str("EVENTBUS_NATS_TOKEN", &cfg.EventBus.NATSToken)
	o.int("EVENTBUS_NATS_MAX_RECONNECTS", &cfg.EventBus.NATSMaxReconnects)
	o.int("EVENTBUS_NATS_RECONNECT_WAIT", &cfg.EventBus.NATSReconnectWait)

	// Rules
	o.str("RULES_SEED_FILE", &cfg.Rules.SeedFile)
	o.bool("RULES_WATCH_SEED_FILE", &cfg.Rules.WatchSeedFile)
	o.duration("RULES_WATCH_DEBOUNCE", &cfg.Rules.WatchDebounce)
	o.str("RULES_RELOAD_SCHEDULE", &cfg.Rules.ReloadSchedule)
	o.int("RULES_MAX_CONCURRENCY", &cfg.Rules.MaxConcurrency)

	// Worker
	o.bool("WORKER_ENABLED", &cfg.Worker.Enabled)

	// Observability
	o.str("LOGGING_LEVEL", &cfg.Logging.Level)
	o.str("LOGGING_FORMAT", &cfg.Logging.Format)
	o.bool("TRACING_ENABLED", &cfg.Tracing.Enabled)
	o.str("TRACING_SERVICE_NAME", &cfg.Tracing.ServiceName)
	o.str("TRACING_ENDPOINT", &cfg.Tracing.Endpoint)
	o.bool("TRACING_INSECURE", &cfg.Tracing.Insecure)
	o.bool("METRICS_ENABLED", &cfg.Metrics.Enabled)
	o.str("METRICS_NAMESPACE", &cfg.Metrics.Namespace)
	o.str("METRICS_PATH", &cfg.Metrics.Path)

	// ARBITER_DEBUG is a shorthand for debug logging.
	if v, ok := lookup("DEBUG"); ok {
		if b, err := strconv.ParseBool(v); err == nil && b {
			cfg.Logging.Level = "debug"
		}
	}

	return o.err
}

func lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + name)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// overrider records the first malformed value.
type overrider struct {
	err error
}

func (o *overrider) fail(name, value string, err error) {
	if o.err == nil {
		o.err = fmt.Errorf("invalid %s%s=%q: %w", EnvPrefix, name, value, err)
	}
}

func (o *overrider) str(name string, dst *string) {
	if v, ok := lookup(name); ok {
		*dst = v
	}
}

func (o *overrider) int(name string, dst *int) {
	v, ok := lookup(name)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		o.fail(name, v, err)
		return
	}
	*dst = n
}

func (o *overrider) bool(name string, dst *bool) {
	v, ok := lookup(name)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		o.fail(name, v, err)
		return
	}
	*dst = b
}

func (o *overrider) duration(name string, dst *time.Duration) {
	v, ok := lookup(name)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		o.fail(name, v, err)
		return
	}
	*dst = d
}
