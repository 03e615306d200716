package domain

import "time"

// Messages reported on a Decision when nothing matched.
const (
	DecisionNoActiveRules = "No active rules found for the inferred categories."
	DecisionNoMatch       = "No rules were matched based on the provided prompt."
)

// Decision is the outcome of the discovery flow: the first active candidate
// rule whose conditions all hold, and the actions it recommends.
type Decision struct {
	ID                 string           `json:"id"`
	Categories         []string         `json:"categories"`
	CandidateRuleIDs   []string         `json:"candidateRuleIds"`
	Facts              FactMap          `json:"facts"`
	MatchedRule        *Rule            `json:"matchedRule,omitempty"`
	RecommendedActions []Action         `json:"recommendedActions"`
	EvaluationLog      []string         `json:"evaluationLog"`
	Error              string           `json:"error,omitempty"`
	Timestamp          time.Time        `json:"timestamp"`
	Metadata           DecisionMetadata `json:"metadata"`
}

// Matched reports whether a rule was selected.
func (d *Decision) Matched() bool {
	return d.MatchedRule != nil
}

// DecisionMetadata contains processing information.
type DecisionMetadata struct {
	TraceID        string `json:"traceId"`
	RulesEvaluated int    `json:"rulesEvaluated"`
	DecisionMs     int64  `json:"decisionMs"`
	TotalMs        int64  `json:"totalMs"`
	EngineVersion  string `json:"engineVersion"`
}
