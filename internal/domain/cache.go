package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU + Redis.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, key string) error

	// GetResult retrieves a cached evaluation result.
	// Returns nil, nil if key not found.
	GetResult(ctx context.Context, key string) (*EvaluationResult, error)

	// SetResult caches an evaluation result.
	SetResult(ctx context.Context, key string, result *EvaluationResult, ttl time.Duration) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory", "redis" or "none"
	Type string `yaml:"type" json:"type"`

	// Local LRU cache settings
	LocalMaxSize int           `yaml:"localMaxSize" json:"localMaxSize"`
	LocalTTL     time.Duration `yaml:"localTtl" json:"localTtl"`

	// Redis settings
	RedisAddr     string `yaml:"redisAddr" json:"redisAddr"`
	RedisPassword string `yaml:"redisPassword" json:"-"`
	RedisDB       int    `yaml:"redisDb" json:"redisDb"`

	// Two-phase settings
	EnableTwoPhase bool `yaml:"enableTwoPhase" json:"enableTwoPhase"` // If true, check local first, then Redis

	// ResultTTL bounds how long an evaluation result stays cached.
	ResultTTL time.Duration `yaml:"resultTtl" json:"resultTtl"`
}
