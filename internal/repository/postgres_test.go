//go:build integration

package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/opensource-finance/arbiter/internal/domain"
)

func startPostgres(t *testing.T) domain.RepositoryConfig {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "arbiter",
			"POSTGRES_PASSWORD": "arbiter",
			"POSTGRES_DB":       "arbiter",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("failed to get container port: %v", err)
	}

	return domain.RepositoryConfig{
		Driver: "postgres",
		DSN:    fmt.Sprintf("postgres://arbiter:arbiter@%s:%s/arbiter?sslmode=disable", host, port.Port()),
	}
}

func TestPostgresRepository(t *testing.T) {
	repo, err := New(startPostgres(t))
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()

	if err := repo.SaveRules(ctx, []*domain.Rule{
		sampleRule("pg-1", "Alpha", "Sales"),
		sampleRule("pg-2", "Beta", "sales"),
	}); err != nil {
		t.Fatalf("SaveRules failed: %v", err)
	}

	rules, err := repo.ListRules(ctx, domain.RuleFilter{Category: "SALES", Status: domain.RuleActive})
	if err != nil {
		t.Fatalf("ListRules failed: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(rules))
	}

	categories, err := repo.ListCategories(ctx)
	if err != nil {
		t.Fatalf("ListCategories failed: %v", err)
	}
	if len(categories) != 1 {
		t.Errorf("expected one category group, got %v", categories)
	}

	if err := repo.UpdateRuleStatus(ctx, "pg-2", domain.RuleInactive); err != nil {
		t.Fatalf("UpdateRuleStatus failed: %v", err)
	}

	eval := &domain.Evaluation{
		ID:        "pg-eval",
		RuleID:    "pg-1",
		RuleName:  "Alpha",
		Facts:     domain.FactMap{"amount": domain.NumberValue(10)},
		Result:    domain.EvaluationResult{Failure: domain.FailureMissingFactField, Log: []string{"x"}},
		Timestamp: time.Now().UTC(),
	}
	if err := repo.SaveEvaluation(ctx, eval); err != nil {
		t.Fatalf("SaveEvaluation failed: %v", err)
	}
	got, err := repo.GetEvaluation(ctx, "pg-eval")
	if err != nil {
		t.Fatalf("GetEvaluation failed: %v", err)
	}
	if got.Result.Failure != domain.FailureMissingFactField {
		t.Errorf("expected failure kind to round-trip, got %q", got.Result.Failure)
	}

	if err := repo.DeleteRule(ctx, "pg-1"); err != nil {
		t.Fatalf("DeleteRule failed: %v", err)
	}
	if _, err := repo.GetRule(ctx, "pg-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
