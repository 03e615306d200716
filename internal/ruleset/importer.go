package ruleset

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/opensource-finance/arbiter/internal/domain"
	"github.com/opensource-finance/arbiter/internal/rules"
)

// Importer stores rules read from rule files.
type Importer struct {
	repo   domain.Repository
	logger *slog.Logger
}

// NewImporter creates an importer writing to repo.
func NewImporter(repo domain.Repository) *Importer {
	return &Importer{
		repo:   repo,
		logger: slog.Default().With("component", "ruleset.importer"),
	}
}

// Import validates and saves rules in one batch. Invalid rules are skipped
// with a warning; the number of saved rules is returned.
func (i *Importer) Import(ctx context.Context, rs []*domain.Rule) (int, error) {
	valid := make([]*domain.Rule, 0, len(rs))
	for idx, r := range rs {
		if r == nil {
			continue
		}
		if err := r.Validate(); err != nil {
			i.logger.Warn("skipping invalid rule",
				"index", idx,
				"rule_id", r.ID,
				"rule_name", r.Name,
				"error", err,
			)
			continue
		}
		valid = append(valid, r)
	}

	if len(valid) == 0 {
		return 0, nil
	}
	if err := i.repo.SaveRules(ctx, valid); err != nil {
		return 0, fmt.Errorf("failed to import rules: %w", err)
	}

	i.logger.Info("rules imported", "imported", len(valid), "skipped", len(rs)-len(valid))
	return len(valid), nil
}

// ImportFile reads path and imports its rules.
func (i *Importer) ImportFile(ctx context.Context, path string) (int, error) {
	rs, err := ReadFile(path)
	if err != nil {
		return 0, err
	}
	return i.Import(ctx, rs)
}

// Export returns every stored rule, sorted by id.
func Export(ctx context.Context, repo domain.Repository) ([]*domain.Rule, error) {
	rs, err := repo.ListRules(ctx, domain.RuleFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	sortByID(rs)
	return rs, nil
}

// Reload replaces the engine's rule set with the repository contents and
// returns the number of rules loaded.
func Reload(ctx context.Context, repo domain.Repository, engine *rules.Engine) (int, error) {
	rs, err := repo.ListRules(ctx, domain.RuleFilter{})
	if err != nil {
		return 0, fmt.Errorf("failed to list rules: %w", err)
	}
	if err := engine.ReloadRules(rs); err != nil {
		return 0, fmt.Errorf("failed to reload engine: %w", err)
	}
	return len(rs), nil
}
