package domain

import (
	"time"
)

// FailureKind names the first reason a rule did not match.
type FailureKind string

const (
	FailureNone                       FailureKind = ""
	FailureMissingFactField           FailureKind = "missing_fact_field"
	FailureNonNumericFormulaBase      FailureKind = "non_numeric_formula_base"
	FailureUnsupportedFormulaOperator FailureKind = "unsupported_formula_operator"
	FailureUnsupportedOperator        FailureKind = "unsupported_condition_operator"
	FailureInvalidInOperand           FailureKind = "invalid_in_operand"
	FailureConditionNotMet            FailureKind = "condition_not_met"
)

// EvaluationResult is the outcome of evaluating one rule against a FactMap.
type EvaluationResult struct {
	Matched bool        `json:"matched"`
	Log     []string    `json:"log"`
	Failure FailureKind `json:"failure,omitempty"`
}

// Evaluation is the stored record of a single rule evaluation.
type Evaluation struct {
	ID         string           `json:"id"`
	RuleID     string           `json:"ruleId"`
	RuleName   string           `json:"ruleName"`
	Facts      FactMap          `json:"facts"`
	Result     EvaluationResult `json:"result"`
	Timestamp  time.Time        `json:"timestamp"`
	DurationMs int64            `json:"durationMs"`
}

// EvaluationResponse is the API response for a single rule evaluation.
type EvaluationResponse struct {
	EvaluationID string      `json:"evaluationId"`
	RuleID       string      `json:"ruleId"`
	RuleName     string      `json:"ruleName"`
	Matched      bool        `json:"matched"`
	Log          []string    `json:"log"`
	Failure      FailureKind `json:"failure,omitempty"`
}

// ToResponse converts an Evaluation to an API response.
func (e *Evaluation) ToResponse() *EvaluationResponse {
	return &EvaluationResponse{
		EvaluationID: e.ID,
		RuleID:       e.RuleID,
		RuleName:     e.RuleName,
		Matched:      e.Result.Matched,
		Log:          e.Result.Log,
		Failure:      e.Result.Failure,
	}
}
