package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RuleStatus controls whether a rule takes part in discovery.
type RuleStatus string

const (
	RuleActive   RuleStatus = "active"
	RuleInactive RuleStatus = "inactive"
)

// Valid reports whether s is a known status.
func (s RuleStatus) Valid() bool {
	return s == RuleActive || s == RuleInactive
}

// Rule is a named business rule: an ordered conjunction of conditions and
// the actions recommended when all of them hold.
type Rule struct {
	ID               string      `json:"id"`
	Name             string      `json:"name"`
	Description      string      `json:"description"`
	BusinessCategory string      `json:"businessCategory"`
	Conditions       []Condition `json:"conditions"`
	Actions          []Action    `json:"actions"`
	Status           RuleStatus  `json:"status"`
	CreatedAt        time.Time   `json:"createdAt,omitzero"`
	UpdatedAt        time.Time   `json:"updatedAt,omitzero"`
}

// Condition compares one fact against a literal, a list or a formula.
type Condition struct {
	Field    string         `json:"field"`
	Operator string         `json:"operator"`
	Value    ConditionValue `json:"value,omitzero"`
}

// Action is an opaque instruction recommended when a rule matches.
type Action struct {
	Type        string         `json:"type"`
	Function    string         `json:"function"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

// Formula derives a comparison value from another fact:
// facts[Field] <Operator> Number(Value).
type Formula struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    Value  `json:"value"`
	// List holds an array multiplier. It coerces through its joined text.
	List []Value `json:"-"`
}

// Shape tells which variant a ConditionValue holds.
type Shape uint8

const (
	ShapeLiteral Shape = iota
	ShapeList
	ShapeFormula
)

// ConditionValue is the right-hand side of a condition. The variant is fixed
// when the rule is decoded: JSON objects are formulas, arrays are lists and
// everything else is a literal.
type ConditionValue struct {
	Shape   Shape
	Literal Value
	List    []Value
	Formula *Formula
}

// LiteralOf wraps a scalar as a condition value.
func LiteralOf(v Value) ConditionValue {
	return ConditionValue{Shape: ShapeLiteral, Literal: v}
}

// ListOf wraps scalars as a list condition value.
func ListOf(vs ...Value) ConditionValue {
	return ConditionValue{Shape: ShapeList, List: vs}
}

// FormulaOf wraps f as a condition value.
func FormulaOf(f Formula) ConditionValue {
	return ConditionValue{Shape: ShapeFormula, Formula: &f}
}

// IsZero reports whether cv is an undefined literal, which is how a
// condition without a value decodes. Such a condition omits "value" when
// encoded so that null and missing stay distinct.
func (cv ConditionValue) IsZero() bool {
	return cv.Shape == ShapeLiteral && !cv.Literal.IsDefined()
}

// MarshalJSON encodes the value back into the shape it was decoded from.
func (cv ConditionValue) MarshalJSON() ([]byte, error) {
	switch cv.Shape {
	case ShapeList:
		list := cv.List
		if list == nil {
			list = []Value{}
		}
		return json.Marshal(list)
	case ShapeFormula:
		if cv.Formula == nil {
			return []byte("{}"), nil
		}
		out := map[string]any{
			"field":    cv.Formula.Field,
			"operator": cv.Formula.Operator,
		}
		switch {
		case cv.Formula.List != nil:
			out["value"] = cv.Formula.List
		case cv.Formula.Value.IsDefined():
			out["value"] = cv.Formula.Value
		}
		return json.Marshal(out)
	default:
		return json.Marshal(cv.Literal)
	}
}

// UnmarshalJSON decides the variant by JSON shape.
func (cv *ConditionValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		*cv = LiteralOf(Value{})
		return nil
	}
	switch data[0] {
	case '{':
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("decode formula: %w", err)
		}
		f := Formula{
			Field:    rawName(raw["field"]),
			Operator: rawName(raw["operator"]),
		}
		if rv, ok := raw["value"]; ok {
			var v Value
			var list []Value
			switch {
			case v.UnmarshalJSON(rv) == nil:
				f.Value = v
			case json.Unmarshal(rv, &list) == nil:
				f.List = list
			}
			// Objects and nested arrays stay undefined and coerce to NaN.
		}
		*cv = FormulaOf(f)
		return nil
	case '[':
		var list []Value
		if err := json.Unmarshal(data, &list); err != nil {
			return fmt.Errorf("decode list: %w", err)
		}
		*cv = ListOf(list...)
		return nil
	default:
		var v Value
		if err := v.UnmarshalJSON(data); err != nil {
			return err
		}
		*cv = LiteralOf(v)
		return nil
	}
}

// rawName reads a formula's field or operator. A missing key reads as
// "undefined" and other scalars read as their text, so a formula whose
// field is absent looks up the fact named "undefined".
func rawName(raw json.RawMessage) string {
	if raw == nil {
		return "undefined"
	}
	var v Value
	if err := v.UnmarshalJSON(raw); err != nil {
		return ""
	}
	switch v.Kind {
	case KindString:
		return v.Str
	case KindNull:
		return "null"
	case KindBool:
		return strconv.FormatBool(v.Bool)
	}
	return string(bytes.TrimSpace(raw))
}

// ErrInvalidRule is returned by Validate.
var ErrInvalidRule = errors.New("invalid rule")

// Validate checks the authoring constraints a stored rule must satisfy.
// The evaluator itself never calls it.
func (r *Rule) Validate() error {
	var problems []string
	if strings.TrimSpace(r.Name) == "" {
		problems = append(problems, "name is required")
	}
	if strings.TrimSpace(r.BusinessCategory) == "" {
		problems = append(problems, "businessCategory is required")
	}
	if strings.TrimSpace(r.Description) == "" {
		problems = append(problems, "description is required")
	}
	if len(r.Conditions) == 0 {
		problems = append(problems, "at least one condition is required")
	}
	for i, c := range r.Conditions {
		if c.Field == "" {
			problems = append(problems, fmt.Sprintf("conditions[%d].field is required", i))
		}
		if c.Operator == "" {
			problems = append(problems, fmt.Sprintf("conditions[%d].operator is required", i))
		}
	}
	if len(r.Actions) == 0 {
		problems = append(problems, "at least one action is required")
	}
	for i, a := range r.Actions {
		if a.Type == "" {
			problems = append(problems, fmt.Sprintf("actions[%d].type is required", i))
		}
		if a.Function == "" {
			problems = append(problems, fmt.Sprintf("actions[%d].function is required", i))
		}
	}
	if r.Status != "" && !r.Status.Valid() {
		problems = append(problems, fmt.Sprintf("status %q must be active or inactive", r.Status))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidRule, strings.Join(problems, "; "))
	}
	return nil
}

// IsActive reports whether the rule takes part in discovery.
func (r *Rule) IsActive() bool {
	return r.Status == RuleActive
}

// Clone returns a deep copy of the rule's slices so callers can mutate it.
func (r *Rule) Clone() *Rule {
	c := *r
	c.Conditions = make([]Condition, len(r.Conditions))
	for i, cond := range r.Conditions {
		c.Conditions[i] = cond
		if cond.Value.List != nil {
			c.Conditions[i].Value.List = append([]Value(nil), cond.Value.List...)
		}
		if cond.Value.Formula != nil {
			f := *cond.Value.Formula
			if f.List != nil {
				f.List = append([]Value(nil), f.List...)
			}
			c.Conditions[i].Value.Formula = &f
		}
	}
	c.Actions = append([]Action(nil), r.Actions...)
	return &c
}
