// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/arbiter/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
	now    func() time.Time
}

var _ domain.Repository = (*SQLRepository)(nil)

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
		now:    func() time.Time { return time.Now().UTC() },
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const upsertRule = `
	INSERT INTO rules (
		id, name, description, business_category, category_key,
		conditions, actions, status, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		description = excluded.description,
		business_category = excluded.business_category,
		category_key = excluded.category_key,
		conditions = excluded.conditions,
		actions = excluded.actions,
		status = excluded.status,
		updated_at = excluded.updated_at
`

// SaveRule inserts or replaces a rule. A missing id is generated and a
// missing status defaults to active.
func (r *SQLRepository) SaveRule(ctx context.Context, rule *domain.Rule) error {
	return r.saveRule(ctx, r.db, rule)
}

// SaveRules stores several rules in one transaction.
func (r *SQLRepository) SaveRules(ctx context.Context, rules []*domain.Rule) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	for _, rule := range rules {
		if err := r.saveRule(ctx, tx, rule); err != nil {
			tx.Rollback()
			return fmt.Errorf("rule %q: %w", rule.ID, err)
		}
	}
	return tx.Commit()
}

func (r *SQLRepository) saveRule(ctx context.Context, db execer, rule *domain.Rule) error {
	if rule == nil {
		return fmt.Errorf("%w: rule is required", ErrInvalidInput)
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if rule.Status == "" {
		rule.Status = domain.RuleActive
	}
	if !rule.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidInput, rule.Status)
	}

	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		return fmt.Errorf("failed to encode conditions: %w", err)
	}
	actions, err := json.Marshal(rule.Actions)
	if err != nil {
		return fmt.Errorf("failed to encode actions: %w", err)
	}

	now := r.now()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	_, err = db.ExecContext(ctx, r.rebind(upsertRule),
		rule.ID, rule.Name, rule.Description,
		rule.BusinessCategory, categoryKey(rule.BusinessCategory),
		string(conditions), string(actions), string(rule.Status),
		rule.CreatedAt, rule.UpdatedAt,
	)
	return err
}

const selectRule = `
	SELECT id, name, description, business_category,
		   conditions, actions, status, created_at, updated_at
	FROM rules
`

// GetRule retrieves a rule by ID.
func (r *SQLRepository) GetRule(ctx context.Context, ruleID string) (*domain.Rule, error) {
	if ruleID == "" {
		return nil, fmt.Errorf("%w: ruleID is required", ErrInvalidInput)
	}

	row := r.db.QueryRowContext(ctx, r.rebind(selectRule+" WHERE id = ?"), ruleID)
	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// ListRules returns rules ordered by name, optionally narrowed by category
// (case-insensitive) and status.
func (r *SQLRepository) ListRules(ctx context.Context, filter domain.RuleFilter) ([]*domain.Rule, error) {
	var where []string
	var args []any
	if filter.Category != "" {
		where = append(where, "category_key = ?")
		args = append(args, categoryKey(filter.Category))
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := selectRule
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY name, id"

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	return rules, rows.Err()
}

// UpdateRuleStatus activates or deactivates a rule.
func (r *SQLRepository) UpdateRuleStatus(ctx context.Context, ruleID string, status domain.RuleStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}

	query := `UPDATE rules SET status = ?, updated_at = ? WHERE id = ?`
	result, err := r.db.ExecContext(ctx, r.rebind(query), string(status), r.now(), ruleID)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

// DeleteRule removes a rule.
func (r *SQLRepository) DeleteRule(ctx context.Context, ruleID string) error {
	result, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM rules WHERE id = ?`), ruleID)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

// ListCategories returns the distinct business categories, one spelling
// per case-insensitive group.
func (r *SQLRepository) ListCategories(ctx context.Context) ([]string, error) {
	query := `
		SELECT MIN(business_category)
		FROM rules
		WHERE category_key <> ''
		GROUP BY category_key
		ORDER BY MIN(business_category)
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var categories []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// SaveEvaluation stores an evaluation record.
func (r *SQLRepository) SaveEvaluation(ctx context.Context, eval *domain.Evaluation) error {
	if eval.ID == "" {
		return fmt.Errorf("%w: evaluation id is required", ErrInvalidInput)
	}

	logJSON, _ := json.Marshal(eval.Result.Log)
	factsJSON, err := json.Marshal(eval.Facts)
	if err != nil {
		return fmt.Errorf("failed to encode facts: %w", err)
	}

	query := `
		INSERT INTO evaluations (
			id, rule_id, rule_name, matched, failure, log, facts, timestamp, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		eval.ID, eval.RuleID, eval.RuleName,
		boolToInt(eval.Result.Matched), string(eval.Result.Failure),
		string(logJSON), string(factsJSON),
		eval.Timestamp, eval.DurationMs,
	)
	return err
}

const selectEvaluation = `
	SELECT id, rule_id, rule_name, matched, failure, log, facts, timestamp, duration_ms
	FROM evaluations
`

// GetEvaluation retrieves an evaluation by ID.
func (r *SQLRepository) GetEvaluation(ctx context.Context, evalID string) (*domain.Evaluation, error) {
	row := r.db.QueryRowContext(ctx, r.rebind(selectEvaluation+" WHERE id = ?"), evalID)
	eval, err := scanEvaluation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return eval, nil
}

// ListEvaluationsByRule returns the most recent evaluations of a rule.
func (r *SQLRepository) ListEvaluationsByRule(ctx context.Context, ruleID string, limit int) ([]*domain.Evaluation, error) {
	if limit <= 0 {
		limit = 50
	}

	query := selectEvaluation + " WHERE rule_id = ? ORDER BY timestamp DESC LIMIT ?"
	rows, err := r.db.QueryContext(ctx, r.rebind(query), ruleID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var evals []*domain.Evaluation
	for rows.Next() {
		eval, err := scanEvaluation(rows)
		if err != nil {
			return nil, err
		}
		evals = append(evals, eval)
	}
	return evals, rows.Err()
}

// SaveDecision stores a discovery decision.
func (r *SQLRepository) SaveDecision(ctx context.Context, d *domain.Decision) error {
	if d.ID == "" {
		return fmt.Errorf("%w: decision id is required", ErrInvalidInput)
	}

	categories, _ := json.Marshal(d.Categories)
	candidates, _ := json.Marshal(d.CandidateRuleIDs)
	actions, _ := json.Marshal(d.RecommendedActions)
	logJSON, _ := json.Marshal(d.EvaluationLog)
	metadata, _ := json.Marshal(d.Metadata)
	facts, err := json.Marshal(d.Facts)
	if err != nil {
		return fmt.Errorf("failed to encode facts: %w", err)
	}

	var matchedID string
	var matched sql.NullString
	if d.MatchedRule != nil {
		matchedID = d.MatchedRule.ID
		b, err := json.Marshal(d.MatchedRule)
		if err != nil {
			return fmt.Errorf("failed to encode matched rule: %w", err)
		}
		matched = sql.NullString{String: string(b), Valid: true}
	}

	query := `
		INSERT INTO decisions (
			id, matched_rule_id, categories, candidate_rule_ids, facts,
			matched_rule, recommended_actions, evaluation_log, error, timestamp, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		d.ID, matchedID, string(categories), string(candidates), string(facts),
		matched, string(actions), string(logJSON), d.Error, d.Timestamp, string(metadata),
	)
	return err
}

// GetDecision retrieves a decision by ID.
func (r *SQLRepository) GetDecision(ctx context.Context, decisionID string) (*domain.Decision, error) {
	query := `
		SELECT id, categories, candidate_rule_ids, facts, matched_rule,
			   recommended_actions, evaluation_log, error, timestamp, metadata
		FROM decisions
		WHERE id = ?
	`

	var d domain.Decision
	var categories, candidates, facts, actions, logJSON, metadata string
	var matched sql.NullString

	err := r.db.QueryRowContext(ctx, r.rebind(query), decisionID).Scan(
		&d.ID, &categories, &candidates, &facts, &matched,
		&actions, &logJSON, &d.Error, &d.Timestamp, &metadata,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	json.Unmarshal([]byte(categories), &d.Categories)
	json.Unmarshal([]byte(candidates), &d.CandidateRuleIDs)
	json.Unmarshal([]byte(actions), &d.RecommendedActions)
	json.Unmarshal([]byte(logJSON), &d.EvaluationLog)
	json.Unmarshal([]byte(metadata), &d.Metadata)
	if err := json.Unmarshal([]byte(facts), &d.Facts); err != nil {
		return nil, fmt.Errorf("failed to decode facts: %w", err)
	}
	if matched.Valid {
		var rule domain.Rule
		if err := json.Unmarshal([]byte(matched.String), &rule); err != nil {
			return nil, fmt.Errorf("failed to decode matched rule: %w", err)
		}
		d.MatchedRule = &rule
	}

	return &d, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			fmt.Fprintf(&b, "$%d", n)
			n++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRule(s scanner) (*domain.Rule, error) {
	var rule domain.Rule
	var conditions, actions, status string

	if err := s.Scan(
		&rule.ID, &rule.Name, &rule.Description, &rule.BusinessCategory,
		&conditions, &actions, &status, &rule.CreatedAt, &rule.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(conditions), &rule.Conditions); err != nil {
		return nil, fmt.Errorf("rule %s: failed to decode conditions: %w", rule.ID, err)
	}
	if err := json.Unmarshal([]byte(actions), &rule.Actions); err != nil {
		return nil, fmt.Errorf("rule %s: failed to decode actions: %w", rule.ID, err)
	}
	rule.Status = domain.RuleStatus(status)

	return &rule, nil
}

func scanEvaluation(s scanner) (*domain.Evaluation, error) {
	var eval domain.Evaluation
	var matched int
	var failure, logJSON, facts string

	if err := s.Scan(
		&eval.ID, &eval.RuleID, &eval.RuleName, &matched, &failure,
		&logJSON, &facts, &eval.Timestamp, &eval.DurationMs,
	); err != nil {
		return nil, err
	}

	eval.Result.Matched = matched != 0
	eval.Result.Failure = domain.FailureKind(failure)
	json.Unmarshal([]byte(logJSON), &eval.Result.Log)
	if err := json.Unmarshal([]byte(facts), &eval.Facts); err != nil {
		return nil, fmt.Errorf("evaluation %s: failed to decode facts: %w", eval.ID, err)
	}

	return &eval, nil
}

func requireAffected(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func categoryKey(category string) string {
	return strings.ToLower(strings.TrimSpace(category))
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
