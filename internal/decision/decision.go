// Package decision selects the rule that answers a business prompt.
//
// Candidates are evaluated in the order given and the first active rule whose
// conditions all hold wins. Its actions become the recommendation.
package decision

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/arbiter/internal/domain"
	"github.com/opensource-finance/arbiter/internal/rules"
)

// EngineVersion is reported in decision metadata.
const EngineVersion = "arbiter-1.0"

// Evaluator is the part of rules.Engine the processor depends on.
type Evaluator interface {
	EvaluateFirstMatch(ctx context.Context, candidates []*domain.Rule, facts domain.FactMap) rules.FirstMatch
}

// Processor runs the discovery flow over a set of candidate rules.
type Processor struct {
	evaluator Evaluator
	now       func() time.Time
}

// NewProcessor creates a processor backed by an evaluator.
func NewProcessor(evaluator Evaluator) *Processor {
	return &Processor{
		evaluator: evaluator,
		now:       time.Now,
	}
}

// DecisionInput contains all data needed for a decision.
type DecisionInput struct {
	TraceID    string
	Categories []string
	// Candidates are evaluated in this order. Inactive rules are skipped.
	Candidates []*domain.Rule
	Facts      domain.FactMap
	StartTime  time.Time
}

// Process evaluates the active candidates and reports the first match.
func (p *Processor) Process(ctx context.Context, input *DecisionInput) *domain.Decision {
	start := p.now()
	if input.StartTime.IsZero() {
		input.StartTime = start
	}

	active := activeRules(input.Candidates)

	d := &domain.Decision{
		ID:                 uuid.NewString(),
		Categories:         input.Categories,
		CandidateRuleIDs:   ruleIDs(active),
		Facts:              input.Facts,
		RecommendedActions: []domain.Action{},
		EvaluationLog:      []string{},
		Timestamp:          start.UTC(),
	}

	var evaluated int
	if len(active) == 0 {
		d.Error = domain.DecisionNoActiveRules
	} else {
		fm := p.evaluator.EvaluateFirstMatch(ctx, active, input.Facts)
		evaluated = fm.Evaluated
		if fm.Log != nil {
			d.EvaluationLog = fm.Log
		}
		if fm.Rule != nil {
			d.MatchedRule = fm.Rule
			if fm.Rule.Actions != nil {
				d.RecommendedActions = fm.Rule.Actions
			}
		} else {
			d.Error = domain.DecisionNoMatch
		}
	}

	end := p.now()
	d.Metadata = domain.DecisionMetadata{
		TraceID:        input.TraceID,
		RulesEvaluated: evaluated,
		DecisionMs:     end.Sub(start).Milliseconds(),
		TotalMs:        end.Sub(input.StartTime).Milliseconds(),
		EngineVersion:  EngineVersion,
	}

	return d
}

// ShouldAct reports whether a decision recommends any action.
func ShouldAct(d *domain.Decision) bool {
	return d.Matched() && len(d.RecommendedActions) > 0
}

// ActionNames lists the functions a decision recommends, in order.
func ActionNames(d *domain.Decision) []string {
	names := make([]string, 0, len(d.RecommendedActions))
	for _, a := range d.RecommendedActions {
		names = append(names, a.Function)
	}
	return names
}

func activeRules(candidates []*domain.Rule) []*domain.Rule {
	active := make([]*domain.Rule, 0, len(candidates))
	for _, r := range candidates {
		if r != nil && r.IsActive() {
			active = append(active, r)
		}
	}
	return active
}

func ruleIDs(rs []*domain.Rule) []string {
	ids := make([]string, len(rs))
	for i, r := range rs {
		ids[i] = r.ID
	}
	return ids
}
