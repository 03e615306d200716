package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/arbiter/internal/domain"
	"github.com/opensource-finance/arbiter/internal/rules"
)

func newTestRepo(t *testing.T) *SQLRepository {
	t.Helper()

	cfg := domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "arbiter-test.db"),
	}

	repo, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func sampleRule(id, name, category string) *domain.Rule {
	return &domain.Rule{
		ID:               id,
		Name:             name,
		Description:      name + " rule",
		BusinessCategory: category,
		Conditions: []domain.Condition{
			{Field: "amount", Operator: ">", Value: domain.LiteralOf(domain.NumberValue(100))},
			{Field: "tier", Operator: "in", Value: domain.ListOf(domain.StringValue("gold"), domain.StringValue("silver"))},
			{Field: "price", Operator: "<=", Value: domain.FormulaOf(domain.Formula{
				Field: "cost", Operator: "*", Value: domain.NumberValue(1.05),
			})},
		},
		Actions: []domain.Action{
			{Type: "notify", Function: "sendEmail", Description: "Notify sales", Parameters: map[string]any{"to": "sales"}},
		},
	}
}

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetRule", func(t *testing.T) {
		rule := sampleRule("rule-001", "Large order", "Sales")
		if err := repo.SaveRule(ctx, rule); err != nil {
			t.Fatalf("SaveRule failed: %v", err)
		}
		if rule.Status != domain.RuleActive {
			t.Errorf("expected default status active, got %s", rule.Status)
		}

		got, err := repo.GetRule(ctx, "rule-001")
		if err != nil {
			t.Fatalf("GetRule failed: %v", err)
		}
		if got.Name != rule.Name || got.BusinessCategory != "Sales" {
			t.Errorf("unexpected rule: %+v", got)
		}
		if len(got.Conditions) != 3 {
			t.Fatalf("expected 3 conditions, got %d", len(got.Conditions))
		}
		if got.Conditions[1].Value.Shape != domain.ShapeList || len(got.Conditions[1].Value.List) != 2 {
			t.Errorf("list condition not preserved: %+v", got.Conditions[1].Value)
		}
		f := got.Conditions[2].Value.Formula
		if f == nil || f.Field != "cost" || f.Operator != "*" || f.Value.Num != 1.05 {
			t.Errorf("formula condition not preserved: %+v", got.Conditions[2].Value)
		}
		if got.Actions[0].Parameters["to"] != "sales" {
			t.Errorf("action parameters not preserved: %+v", got.Actions[0])
		}
	})

	t.Run("UpsertKeepsCreatedAt", func(t *testing.T) {
		before, err := repo.GetRule(ctx, "rule-001")
		if err != nil {
			t.Fatalf("GetRule failed: %v", err)
		}

		updated := sampleRule("rule-001", "Large order v2", "Sales")
		updated.CreatedAt = time.Now().Add(time.Hour)
		if err := repo.SaveRule(ctx, updated); err != nil {
			t.Fatalf("SaveRule failed: %v", err)
		}

		after, err := repo.GetRule(ctx, "rule-001")
		if err != nil {
			t.Fatalf("GetRule failed: %v", err)
		}
		if after.Name != "Large order v2" {
			t.Errorf("expected updated name, got %s", after.Name)
		}
		if !after.CreatedAt.Equal(before.CreatedAt) {
			t.Errorf("created_at changed: %v -> %v", before.CreatedAt, after.CreatedAt)
		}
	})

	t.Run("GeneratesID", func(t *testing.T) {
		rule := sampleRule("", "Generated", "support")
		if err := repo.SaveRule(ctx, rule); err != nil {
			t.Fatalf("SaveRule failed: %v", err)
		}
		if rule.ID == "" {
			t.Fatal("expected generated ID")
		}
		if _, err := repo.GetRule(ctx, rule.ID); err != nil {
			t.Errorf("GetRule(%s) failed: %v", rule.ID, err)
		}
	})

	t.Run("SaveRulesBatch", func(t *testing.T) {
		batch := []*domain.Rule{
			sampleRule("rule-002", "Alpha", "SALES"),
			sampleRule("rule-003", "Beta", "Marketing"),
		}
		batch[1].Status = domain.RuleInactive
		if err := repo.SaveRules(ctx, batch); err != nil {
			t.Fatalf("SaveRules failed: %v", err)
		}
	})

	t.Run("SaveRulesRollsBack", func(t *testing.T) {
		bad := sampleRule("rule-bad", "Bad", "Sales")
		bad.Status = "archived"
		err := repo.SaveRules(ctx, []*domain.Rule{sampleRule("rule-004", "Gamma", "Sales"), bad})
		if !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("expected ErrInvalidInput, got %v", err)
		}
		if _, err := repo.GetRule(ctx, "rule-004"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected rollback of rule-004, got %v", err)
		}
	})

	t.Run("ListRulesByCategory", func(t *testing.T) {
		rules, err := repo.ListRules(ctx, domain.RuleFilter{Category: "sales"})
		if err != nil {
			t.Fatalf("ListRules failed: %v", err)
		}
		if len(rules) != 2 {
			t.Fatalf("expected 2 sales rules, got %d", len(rules))
		}
		if rules[0].Name != "Alpha" || rules[1].Name != "Large order v2" {
			t.Errorf("unexpected order: %s, %s", rules[0].Name, rules[1].Name)
		}

		inactive, err := repo.ListRules(ctx, domain.RuleFilter{Status: domain.RuleInactive})
		if err != nil {
			t.Fatalf("ListRules failed: %v", err)
		}
		if len(inactive) != 1 || inactive[0].ID != "rule-003" {
			t.Errorf("expected only rule-003 inactive, got %d rules", len(inactive))
		}

		all, err := repo.ListRules(ctx, domain.RuleFilter{})
		if err != nil {
			t.Fatalf("ListRules failed: %v", err)
		}
		if len(all) != 4 {
			t.Errorf("expected 4 rules, got %d", len(all))
		}
	})

	t.Run("ListCategories", func(t *testing.T) {
		categories, err := repo.ListCategories(ctx)
		if err != nil {
			t.Fatalf("ListCategories failed: %v", err)
		}
		if len(categories) != 3 {
			t.Fatalf("expected 3 categories, got %v", categories)
		}
		if categories[0] != "Marketing" || categories[1] != "SALES" || categories[2] != "support" {
			t.Errorf("unexpected categories: %v", categories)
		}
	})

	t.Run("UpdateRuleStatus", func(t *testing.T) {
		if err := repo.UpdateRuleStatus(ctx, "rule-002", domain.RuleInactive); err != nil {
			t.Fatalf("UpdateRuleStatus failed: %v", err)
		}
		got, err := repo.GetRule(ctx, "rule-002")
		if err != nil {
			t.Fatalf("GetRule failed: %v", err)
		}
		if got.Status != domain.RuleInactive {
			t.Errorf("expected inactive, got %s", got.Status)
		}

		if err := repo.UpdateRuleStatus(ctx, "missing", domain.RuleActive); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if err := repo.UpdateRuleStatus(ctx, "rule-002", "paused"); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("DeleteRule", func(t *testing.T) {
		if err := repo.DeleteRule(ctx, "rule-003"); err != nil {
			t.Fatalf("DeleteRule failed: %v", err)
		}
		if _, err := repo.GetRule(ctx, "rule-003"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
		if err := repo.DeleteRule(ctx, "rule-003"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound on second delete, got %v", err)
		}
	})

	t.Run("SaveAndListEvaluations", func(t *testing.T) {
		base := time.Now().UTC().Truncate(time.Second)
		for i, matched := range []bool{true, false} {
			eval := &domain.Evaluation{
				ID:       []string{"eval-001", "eval-002"}[i],
				RuleID:   "rule-001",
				RuleName: "Large order v2",
				Facts: domain.FactMap{
					"amount": domain.NumberValue(150),
					"tier":   domain.StringValue("gold"),
				},
				Result: domain.EvaluationResult{
					Matched: matched,
					Log:     []string{`Evaluating rule: "Large order v2"`},
				},
				Timestamp:  base.Add(time.Duration(i) * time.Minute),
				DurationMs: 2,
			}
			if !matched {
				eval.Result.Failure = domain.FailureConditionNotMet
			}
			if err := repo.SaveEvaluation(ctx, eval); err != nil {
				t.Fatalf("SaveEvaluation failed: %v", err)
			}
		}

		got, err := repo.GetEvaluation(ctx, "eval-001")
		if err != nil {
			t.Fatalf("GetEvaluation failed: %v", err)
		}
		if !got.Result.Matched || got.Facts["amount"].Num != 150 || got.Facts["tier"].Str != "gold" {
			t.Errorf("unexpected evaluation: %+v", got)
		}

		list, err := repo.ListEvaluationsByRule(ctx, "rule-001", 10)
		if err != nil {
			t.Fatalf("ListEvaluationsByRule failed: %v", err)
		}
		if len(list) != 2 {
			t.Fatalf("expected 2 evaluations, got %d", len(list))
		}
		if list[0].ID != "eval-002" || list[0].Result.Failure != domain.FailureConditionNotMet {
			t.Errorf("expected most recent first, got %s (%s)", list[0].ID, list[0].Result.Failure)
		}

		limited, err := repo.ListEvaluationsByRule(ctx, "rule-001", 1)
		if err != nil {
			t.Fatalf("ListEvaluationsByRule failed: %v", err)
		}
		if len(limited) != 1 {
			t.Errorf("expected limit to apply, got %d", len(limited))
		}
	})

	t.Run("SaveAndGetDecision", func(t *testing.T) {
		matched := sampleRule("rule-001", "Large order v2", "Sales")
		d := &domain.Decision{
			ID:                 "dec-001",
			Categories:         []string{"Sales"},
			CandidateRuleIDs:   []string{"rule-001", "rule-002"},
			Facts:              domain.FactMap{"amount": domain.NumberValue(150)},
			MatchedRule:        matched,
			RecommendedActions: matched.Actions,
			EvaluationLog:      []string{"SUCCESS"},
			Timestamp:          time.Now().UTC(),
			Metadata:           domain.DecisionMetadata{TraceID: "trace-001", RulesEvaluated: 1},
		}
		if err := repo.SaveDecision(ctx, d); err != nil {
			t.Fatalf("SaveDecision failed: %v", err)
		}

		got, err := repo.GetDecision(ctx, "dec-001")
		if err != nil {
			t.Fatalf("GetDecision failed: %v", err)
		}
		if !got.Matched() || got.MatchedRule.ID != "rule-001" {
			t.Errorf("expected matched rule-001, got %+v", got.MatchedRule)
		}
		if len(got.CandidateRuleIDs) != 2 || got.Metadata.TraceID != "trace-001" {
			t.Errorf("unexpected decision: %+v", got)
		}

		none := &domain.Decision{
			ID:        "dec-002",
			Error:     domain.DecisionNoActiveRules,
			Timestamp: time.Now().UTC(),
		}
		if err := repo.SaveDecision(ctx, none); err != nil {
			t.Fatalf("SaveDecision failed: %v", err)
		}
		got, err = repo.GetDecision(ctx, "dec-002")
		if err != nil {
			t.Fatalf("GetDecision failed: %v", err)
		}
		if got.Matched() || got.Error != domain.DecisionNoActiveRules {
			t.Errorf("unexpected empty decision: %+v", got)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		if _, err := repo.GetRule(ctx, "nonexistent"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
		if _, err := repo.GetEvaluation(ctx, "nonexistent"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
		if _, err := repo.GetDecision(ctx, "nonexistent"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
		if _, err := repo.GetRule(ctx, ""); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got: %v", err)
		}
	})
}

func TestSavedRuleEvaluatesTheSame(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	rule := sampleRule("rule-missing-value", "Missing value", "Sales")
	rule.Conditions = []domain.Condition{
		{Field: "score", Operator: ">"},
		{Field: "price", Operator: "<=", Value: domain.FormulaOf(domain.Formula{
			Field: "cost", Operator: "*", List: []domain.Value{domain.NumberValue(2)},
		})},
	}
	if err := repo.SaveRule(ctx, rule); err != nil {
		t.Fatalf("SaveRule failed: %v", err)
	}

	got, err := repo.GetRule(ctx, rule.ID)
	if err != nil {
		t.Fatalf("GetRule failed: %v", err)
	}
	if !got.Conditions[0].Value.IsZero() {
		t.Errorf("missing value came back as %+v", got.Conditions[0].Value)
	}

	facts := domain.FactMap{"score": domain.NumberValue(5), "price": domain.NumberValue(10), "cost": domain.NumberValue(5)}
	before := rules.Evaluate(facts, rule)
	after := rules.Evaluate(facts, got)
	if before.Matched != after.Matched {
		t.Errorf("matched changed after storage: %v -> %v", before.Matched, after.Matched)
	}
	if len(before.Log) != len(after.Log) {
		t.Fatalf("log length changed: %v -> %v", before.Log, after.Log)
	}
	for i := range before.Log {
		if before.Log[i] != after.Log[i] {
			t.Errorf("log line %d changed: %q -> %q", i, before.Log[i], after.Log[i])
		}
	}
	// 5 > undefined is false, while 5 > null would be true.
	if after.Matched {
		t.Errorf("missing value compared as null: %v", after.Log)
	}
}

func TestInMemorySQLite(t *testing.T) {
	repo, err := New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	if err := repo.SaveRule(ctx, sampleRule("mem-1", "Memory", "Ops")); err != nil {
		t.Fatalf("SaveRule failed: %v", err)
	}
	rules, err := repo.ListRules(ctx, domain.RuleFilter{Category: "ops"})
	if err != nil {
		t.Fatalf("ListRules failed: %v", err)
	}
	if len(rules) != 1 {
		t.Errorf("expected 1 rule, got %d", len(rules))
	}
}

func TestUnsupportedDriver(t *testing.T) {
	cfg := domain.RepositoryConfig{
		Driver: "mysql",
	}

	_, err := New(cfg)
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestPostgresDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  domain.RepositoryConfig
		want string
	}{
		{
			name: "defaults",
			cfg:  domain.RepositoryConfig{},
			want: "postgres://localhost:5432/arbiter?sslmode=disable",
		},
		{
			name: "escapes credentials",
			cfg: domain.RepositoryConfig{
				PostgresHost: "db", PostgresPort: 6543, PostgresDB: "rules",
				PostgresUser: "app", PostgresPassword: "p@ss word", PostgresSSLMode: "require",
			},
			want: "postgres://app:p%40ss%20word@db:6543/rules?sslmode=require",
		},
		{
			name: "explicit dsn",
			cfg:  domain.RepositoryConfig{DSN: "postgres://x/y", PostgresHost: "ignored"},
			want: "postgres://x/y",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := postgresDSN(tt.cfg); got != tt.want {
				t.Errorf("postgresDSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		result := repo.rebind(tt.input)
		if result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}

	sqlite := &SQLRepository{driver: "sqlite"}
	if got := sqlite.rebind("a = ?"); got != "a = ?" {
		t.Errorf("sqlite rebind changed query: %q", got)
	}
}
