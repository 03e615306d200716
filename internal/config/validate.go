package config

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/arbiter/internal/domain"
)

// FieldError is a validation failure for one configuration field.
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError collects every FieldError found.
type ValidationError struct {
	Errors []FieldError
}

func (e ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Error()
	}
	return fmt.Sprintf("%d errors: %s", len(e.Errors), strings.Join(parts, "; "))
}

// Validate checks a configuration and returns a ValidationError listing
// every problem, or nil.
func Validate(cfg *domain.Config) error {
	var errs []FieldError
	add := func(field, format string, args ...any) {
		errs = append(errs, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	switch cfg.Tier {
	case domain.TierCommunity, domain.TierPro:
	default:
		add("tier", "must be %q or %q, got %q", domain.TierCommunity, domain.TierPro, cfg.Tier)
	}

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		add("server.port", "must be between 1 and 65535, got %d", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout < 0 || cfg.Server.WriteTimeout < 0 || cfg.Server.ShutdownTimeout < 0 {
		add("server", "timeouts must not be negative")
	}

	switch cfg.Repository.Driver {
	case "sqlite":
		if cfg.Repository.DSN == "" && cfg.Repository.SQLitePath == "" {
			add("repository.sqlitePath", "is required for the sqlite driver")
		}
	case "postgres":
		if cfg.Repository.DSN == "" && cfg.Repository.PostgresHost == "" {
			add("repository.postgresHost", "is required for the postgres driver")
		}
	default:
		add("repository.driver", "must be sqlite or postgres, got %q", cfg.Repository.Driver)
	}

	switch cfg.Cache.Type {
	case "none", "memory":
	case "redis":
		if cfg.Cache.RedisAddr == "" {
			add("cache.redisAddr", "is required for the redis cache")
		}
	default:
		add("cache.type", "must be none, memory or redis, got %q", cfg.Cache.Type)
	}
	if cfg.Cache.LocalMaxSize < 0 {
		add("cache.localMaxSize", "must not be negative")
	}

	switch cfg.EventBus.Type {
	case "channel":
	case "nats":
		if cfg.EventBus.NATSUrl == "" {
			add("eventBus.natsUrl", "is required for the nats bus")
		}
	default:
		add("eventBus.type", "must be channel or nats, got %q", cfg.EventBus.Type)
	}

	if cfg.Rules.WatchSeedFile && cfg.Rules.SeedFile == "" {
		add("rules.watchSeedFile", "requires rules.seedFile")
	}
	if cfg.Rules.MaxConcurrency < 0 {
		add("rules.maxConcurrency", "must not be negative")
	}

	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("logging.level", "must be debug, info, warn or error, got %q", cfg.Logging.Level)
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		add("logging.format", "must be json or text, got %q", cfg.Logging.Format)
	}

	if cfg.Tracing.Enabled && cfg.Tracing.Endpoint == "" {
		add("tracing.endpoint", "is required when tracing is enabled")
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		add("metrics.path", "must start with /, got %q", cfg.Metrics.Path)
	}

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}
