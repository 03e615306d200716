package rules

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/arbiter/internal/domain"
)

// Selector is a compiled CEL predicate over rule metadata, used to filter
// rule listings, e.g.
//
//	category == "Pricing" && conditions > 1 && "order_total" in fields
type Selector struct {
	expr    string
	program cel.Program
}

var selectorEnv *cel.Env

func init() {
	env, err := cel.NewEnv(
		cel.Variable("id", cel.StringType),
		cel.Variable("name", cel.StringType),
		cel.Variable("description", cel.StringType),
		cel.Variable("category", cel.StringType),
		cel.Variable("status", cel.StringType),
		cel.Variable("active", cel.BoolType),
		cel.Variable("conditions", cel.IntType),
		cel.Variable("actions", cel.IntType),
		cel.Variable("fields", cel.ListType(cel.StringType)),
		cel.Variable("operators", cel.ListType(cel.StringType)),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create CEL environment: %v", err))
	}
	selectorEnv = env
}

// NewSelector compiles expr. The expression must evaluate to a bool.
func NewSelector(expr string) (*Selector, error) {
	ast, issues := selectorEnv.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile selector: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("selector must return bool, got %s", ast.OutputType())
	}

	program, err := selectorEnv.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create selector program: %w", err)
	}
	return &Selector{expr: expr, program: program}, nil
}

// String returns the source expression.
func (s *Selector) String() string { return s.expr }

// Match reports whether rule satisfies the selector.
func (s *Selector) Match(rule *domain.Rule) (bool, error) {
	operators := make([]string, 0, len(rule.Conditions))
	for _, c := range rule.Conditions {
		operators = append(operators, c.Operator)
	}

	out, _, err := s.program.Eval(map[string]any{
		"id":          rule.ID,
		"name":        rule.Name,
		"description": rule.Description,
		"category":    rule.BusinessCategory,
		"status":      string(rule.Status),
		"active":      rule.IsActive(),
		"conditions":  int64(len(rule.Conditions)),
		"actions":     int64(len(rule.Actions)),
		"fields":      Requirements(rule),
		"operators":   operators,
	})
	if err != nil {
		return false, fmt.Errorf("selector %q: %w", s.expr, err)
	}

	b, ok := out.(types.Bool)
	if !ok {
		return false, fmt.Errorf("selector %q: non-bool result %v", s.expr, out)
	}
	return bool(b), nil
}

// Filter returns the rules matching the selector, preserving order.
func (s *Selector) Filter(rules []*domain.Rule) ([]*domain.Rule, error) {
	out := make([]*domain.Rule, 0, len(rules))
	for _, r := range rules {
		ok, err := s.Match(r)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, r)
		}
	}
	return out, nil
}
