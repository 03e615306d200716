package decision

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/arbiter/internal/domain"
	"github.com/opensource-finance/arbiter/internal/rules"
)

func rule(id, name string, status domain.RuleStatus, field, op string, v domain.Value) *domain.Rule {
	return &domain.Rule{
		ID:               id,
		Name:             name,
		Description:      name,
		BusinessCategory: "Sales",
		Status:           status,
		Conditions: []domain.Condition{
			{Field: field, Operator: op, Value: domain.LiteralOf(v)},
		},
		Actions: []domain.Action{{Type: "notify", Function: name + "Action"}},
	}
}

func TestProcessor(t *testing.T) {
	proc := NewProcessor(rules.NewEngine())
	ctx := context.Background()

	big := rule("r-big", "Big", domain.RuleActive, "amount", ">", domain.NumberValue(1000))
	mid := rule("r-mid", "Mid", domain.RuleActive, "amount", ">", domain.NumberValue(100))
	low := rule("r-low", "Low", domain.RuleActive, "amount", ">", domain.NumberValue(10))
	off := rule("r-off", "Off", domain.RuleInactive, "amount", ">", domain.NumberValue(0))

	t.Run("FirstMatchInCallerOrder", func(t *testing.T) {
		d := proc.Process(ctx, &DecisionInput{
			TraceID:    "trace-001",
			Categories: []string{"Sales"},
			Candidates: []*domain.Rule{off, big, mid, low},
			Facts:      domain.FactMap{"amount": domain.NumberValue(500)},
			StartTime:  time.Now(),
		})

		require.True(t, d.Matched())
		assert.Equal(t, "r-mid", d.MatchedRule.ID)
		assert.Equal(t, []string{"r-big", "r-mid", "r-low"}, d.CandidateRuleIDs)
		assert.Equal(t, []string{"MidAction"}, ActionNames(d))
		assert.True(t, ShouldAct(d))
		assert.Empty(t, d.Error)
		assert.Equal(t, 2, d.Metadata.RulesEvaluated)
		assert.Equal(t, "trace-001", d.Metadata.TraceID)
		assert.Equal(t, EngineVersion, d.Metadata.EngineVersion)

		// Log covers the failed rule then the match, nothing after.
		assert.Equal(t, `Evaluating rule: "Big"`, d.EvaluationLog[0])
		assert.Equal(t, `SUCCESS: All conditions met for rule "Mid".`, d.EvaluationLog[len(d.EvaluationLog)-1])
		for _, line := range d.EvaluationLog {
			assert.NotContains(t, line, `"Low"`)
		}
	})

	t.Run("NoMatch", func(t *testing.T) {
		d := proc.Process(ctx, &DecisionInput{
			Candidates: []*domain.Rule{big, mid},
			Facts:      domain.FactMap{"amount": domain.NumberValue(5)},
		})

		assert.False(t, d.Matched())
		assert.Equal(t, domain.DecisionNoMatch, d.Error)
		assert.Empty(t, d.RecommendedActions)
		assert.NotNil(t, d.RecommendedActions)
		assert.Equal(t, 2, d.Metadata.RulesEvaluated)
		assert.Len(t, d.EvaluationLog, 6)
	})

	t.Run("NoActiveCandidates", func(t *testing.T) {
		d := proc.Process(ctx, &DecisionInput{
			Categories: []string{"Marketing"},
			Candidates: []*domain.Rule{off},
			Facts:      domain.FactMap{"amount": domain.NumberValue(5)},
		})

		assert.False(t, d.Matched())
		assert.Equal(t, domain.DecisionNoActiveRules, d.Error)
		assert.Empty(t, d.EvaluationLog)
		assert.Empty(t, d.CandidateRuleIDs)
		assert.Zero(t, d.Metadata.RulesEvaluated)
		assert.False(t, ShouldAct(d))
	})

	t.Run("MissingFactFallsThrough", func(t *testing.T) {
		d := proc.Process(ctx, &DecisionInput{
			Candidates: []*domain.Rule{
				rule("r-region", "Region", domain.RuleActive, "region", "==", domain.StringValue("EU")),
				low,
			},
			Facts: domain.FactMap{"amount": domain.NumberValue(50)},
		})

		require.True(t, d.Matched())
		assert.Equal(t, "r-low", d.MatchedRule.ID)
		assert.Contains(t, d.EvaluationLog, `- Condition for field "region" SKIPPED: Field not found in prompt data.`)
	})

	t.Run("UniqueIDsAndTimestamps", func(t *testing.T) {
		in := &DecisionInput{Candidates: []*domain.Rule{low}, Facts: domain.FactMap{"amount": domain.NumberValue(50)}}
		a := proc.Process(ctx, in)
		b := proc.Process(ctx, in)
		assert.NotEqual(t, a.ID, b.ID)
		assert.False(t, a.Timestamp.IsZero())
		assert.GreaterOrEqual(t, a.Metadata.TotalMs, a.Metadata.DecisionMs)
	})
}
