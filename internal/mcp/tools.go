package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/opensource-finance/arbiter/internal/rules"
)

const (
	ToolListRulesByCategory = "list_rules_by_category"
	ToolEvaluateRuleLogic   = "evaluate_rule_logic"
	ToolGetRuleRequirements = "get_rule_requirements"
	ToolGetAllCategories    = "get_all_categories"
)

func toolCatalog() []Tool {
	return []Tool{
		{
			Name:        ToolListRulesByCategory,
			Description: "List available rules for a specific business category",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"category": {Type: "string", Description: "The business category to filter rules by (e.g., 'Procurement', 'Finance')"},
				},
				Required: []string{"category"},
			},
		},
		{
			Name:        ToolEvaluateRuleLogic,
			Description: "Evaluate a specific rule against provided data. Use this to deterministically check if conditions are met.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"ruleId": {Type: "string", Description: "The ID of the rule to evaluate"},
					"data":   {Type: "object", Description: "Key-value pairs of data to evaluate against the rule's conditions"},
				},
				Required: []string{"ruleId", "data"},
			},
		},
		{
			Name:        ToolGetRuleRequirements,
			Description: "Get the list of required fields for a specific rule to guide data extraction.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"ruleId": {Type: "string", Description: "The ID of the rule"},
				},
				Required: []string{"ruleId"},
			},
		},
		{
			Name:        ToolGetAllCategories,
			Description: "Get a list of all available business categories to help discover rules.",
			InputSchema: InputSchema{Type: "object", Properties: map[string]Property{}},
		},
	}
}

type categoryArgs struct {
	Category *string `json:"category"`
}

type ruleArgs struct {
	RuleID *string         `json:"ruleId"`
	Data   json.RawMessage `json:"data"`
}

type ruleSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type evaluationOutput struct {
	Matched       bool     `json:"matched"`
	RuleName      string   `json:"ruleName"`
	EvaluationLog []string `json:"evaluationLog"`
}

type requirementsOutput struct {
	RuleName       string   `json:"ruleName"`
	RequiredFields []string `json:"requiredFields"`
}

func (s *Server) callTool(ctx context.Context, name string, rawArgs json.RawMessage) (*ToolResult, *Error) {
	if len(rawArgs) == 0 || string(rawArgs) == "null" {
		rawArgs = json.RawMessage("{}")
	}

	switch name {
	case ToolListRulesByCategory:
		var args categoryArgs
		if err := json.Unmarshal(rawArgs, &args); err != nil || args.Category == nil {
			return nil, invalidArgs(name, "category (string) is required")
		}
		return s.listRulesByCategory(*args.Category)

	case ToolEvaluateRuleLogic:
		var args ruleArgs
		if err := json.Unmarshal(rawArgs, &args); err != nil || args.RuleID == nil {
			return nil, invalidArgs(name, "ruleId (string) is required")
		}
		facts, err := decodeFacts(args.Data)
		if err != nil {
			return nil, invalidArgs(name, "data must be an object of scalar values: "+err.Error())
		}
		rule, ok := s.engine.GetRule(*args.RuleID)
		if !ok {
			return errorResult("Rule not found with ID: " + *args.RuleID), nil
		}
		result := s.engine.EvaluateRule(ctx, rule, facts)
		log := result.Log
		if log == nil {
			log = []string{}
		}
		return render(evaluationOutput{Matched: result.Matched, RuleName: rule.Name, EvaluationLog: log})

	case ToolGetRuleRequirements:
		var args ruleArgs
		if err := json.Unmarshal(rawArgs, &args); err != nil || args.RuleID == nil {
			return nil, invalidArgs(name, "ruleId (string) is required")
		}
		rule, ok := s.engine.GetRule(*args.RuleID)
		if !ok {
			return errorResult("Rule not found with ID: " + *args.RuleID), nil
		}
		return render(requirementsOutput{RuleName: rule.Name, RequiredFields: rules.Requirements(rule)})

	case ToolGetAllCategories:
		categories := s.engine.Categories()
		if categories == nil {
			categories = []string{}
		}
		return render(categories)

	default:
		return nil, &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("Tool %s not found", name)}
	}
}

func (s *Server) listRulesByCategory(category string) (*ToolResult, *Error) {
	matches := s.engine.RulesByCategory(category, false)
	if len(matches) == 0 {
		return textResult("No rules found for category: " + category), nil
	}
	summary := make([]ruleSummary, len(matches))
	for i, r := range matches {
		summary[i] = ruleSummary{ID: r.ID, Name: r.Name, Description: r.Description}
	}
	return render(summary)
}

func render(v any) (*ToolResult, *Error) {
	text, err := stringify(v)
	if err != nil {
		return nil, asRPCError(err)
	}
	return textResult(text), nil
}

func invalidArgs(tool, msg string) *Error {
	return &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("Invalid arguments for tool %s: %s", tool, msg)}
}
