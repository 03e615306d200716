// Package domain defines the core types and interfaces for Arbiter.
package domain

import (
	"context"
	"time"
)

// RuleFilter narrows ListRules. Empty fields match everything.
type RuleFilter struct {
	// Category matches BusinessCategory case-insensitively.
	Category string
	Status   RuleStatus
}

// Repository defines the interface for data persistence.
type Repository interface {
	// Rule operations
	SaveRule(ctx context.Context, rule *Rule) error
	SaveRules(ctx context.Context, rules []*Rule) error
	GetRule(ctx context.Context, ruleID string) (*Rule, error)
	ListRules(ctx context.Context, filter RuleFilter) ([]*Rule, error)
	UpdateRuleStatus(ctx context.Context, ruleID string, status RuleStatus) error
	DeleteRule(ctx context.Context, ruleID string) error
	ListCategories(ctx context.Context) ([]string, error)

	// Evaluation results
	SaveEvaluation(ctx context.Context, eval *Evaluation) error
	GetEvaluation(ctx context.Context, evalID string) (*Evaluation, error)
	ListEvaluationsByRule(ctx context.Context, ruleID string, limit int) ([]*Evaluation, error)

	// Discovery decisions
	SaveDecision(ctx context.Context, decision *Decision) error
	GetDecision(ctx context.Context, decisionID string) (*Decision, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `yaml:"driver" json:"driver"`

	// DSN overrides the driver-specific settings below when set
	DSN string `yaml:"dsn" json:"-"`

	// SQLite specific
	SQLitePath string `yaml:"sqlitePath" json:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `yaml:"postgresHost" json:"postgresHost"`
	PostgresPort     int    `yaml:"postgresPort" json:"postgresPort"`
	PostgresUser     string `yaml:"postgresUser" json:"postgresUser"`
	PostgresPassword string `yaml:"postgresPassword" json:"-"`
	PostgresDB       string `yaml:"postgresDb" json:"postgresDb"`
	PostgresSSLMode  string `yaml:"postgresSslMode" json:"postgresSslMode"`

	// Connection pool settings
	MaxOpenConns    int           `yaml:"maxOpenConns" json:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns" json:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime" json:"connMaxLifetime"`
}
