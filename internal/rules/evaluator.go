package rules

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/arbiter/internal/domain"
)

// Supported condition operators.
const (
	OpEqual        = "=="
	OpNotEqual     = "!="
	OpGreater      = ">"
	OpLess         = "<"
	OpGreaterEqual = ">="
	OpLessEqual    = "<="
	OpIn           = "in"
)

// Supported formula operators.
const (
	FormulaMultiply = "*"
	FormulaAdd      = "+"
	FormulaSubtract = "-"
	FormulaDivide   = "/"
)

// Evaluate decides whether every condition of rule holds for facts and
// returns the decision with a line-by-line trace.
//
// Conditions are checked in order and evaluation stops at the first one that
// is skipped or not met. An empty condition list matches. Malformed
// condition data never panics; it is reported in the log and the rule does
// not match. Evaluate does not modify its arguments and is safe for
// concurrent use.
func Evaluate(facts domain.FactMap, rule *domain.Rule) domain.EvaluationResult {
	log := make([]string, 0, len(rule.Conditions)+2)
	log = append(log, fmt.Sprintf(`Evaluating rule: "%s"`, rule.Name))

	allMet := true
	failure := domain.FailureNone

	for _, cond := range rule.Conditions {
		rhs, desc, skip, kind := resolve(facts, cond)
		if skip != "" {
			log = append(log, skip)
			allMet, failure = false, kind
			break
		}

		promptValue, ok := lookup(facts, cond.Field)
		if !ok {
			log = append(log, fmt.Sprintf(`- Condition for field "%s" SKIPPED: Field not found in prompt data.`, cond.Field))
			allMet, failure = false, domain.FailureMissingFactField
			break
		}

		met, note, kind := apply(cond, promptValue, rhs)
		if note != "" {
			log = append(log, note)
		}

		outcome := "NOT MET"
		if met {
			outcome = "MET"
		}
		log = append(log, fmt.Sprintf("- Condition: `%s %s %s` (Prompt Value: %s). Result: %s",
			cond.Field, cond.Operator, desc, displayString(promptValue), outcome))

		if !met {
			allMet, failure = false, kind
			break
		}
	}

	if allMet {
		log = append(log, fmt.Sprintf(`SUCCESS: All conditions met for rule "%s".`, rule.Name))
	} else {
		log = append(log, fmt.Sprintf(`FAILURE: Not all conditions met for rule "%s".`, rule.Name))
	}

	return domain.EvaluationResult{
		Matched: allMet,
		Log:     log,
		Failure: failure,
	}
}

// lookup treats an undefined Value the same as a missing key.
func lookup(facts domain.FactMap, field string) (domain.Value, bool) {
	v, ok := facts[field]
	if !ok || !v.IsDefined() {
		return domain.Value{}, false
	}
	return v, true
}

// formulaMultiplier coerces a formula's value to a number. An array
// multiplier converts through its comma-joined text, so [2] is 2, [] is 0
// and [1,2] is NaN.
func formulaMultiplier(f *domain.Formula) float64 {
	if f.List == nil {
		return toNumber(f.Value)
	}
	parts := make([]string, len(f.List))
	for i, v := range f.List {
		if v.Kind != domain.KindUndefined && v.Kind != domain.KindNull {
			parts[i] = displayString(v)
		}
	}
	return stringToNumber(strings.Join(parts, ","))
}

// resolve turns a condition's value into the operand to compare against and
// its log description. A non-empty skip line means the condition could not
// be evaluated.
func resolve(facts domain.FactMap, cond domain.Condition) (rhs operand, desc, skip string, kind domain.FailureKind) {
	switch cond.Value.Shape {
	case domain.ShapeFormula:
		f := cond.Value.Formula
		if f == nil {
			f = &domain.Formula{}
		}
		base, ok := lookup(facts, f.Field)
		if !ok {
			return operand{}, "", fmt.Sprintf(`- Condition for field "%s" SKIPPED: Base field "%s" for formula not found in prompt data.`,
				cond.Field, f.Field), domain.FailureMissingFactField
		}
		if base.Kind != domain.KindNumber {
			return operand{}, "", fmt.Sprintf(`- Condition for field "%s" SKIPPED: Base field "%s" is not a number (Value: %s).`,
				cond.Field, f.Field, displayString(base)), domain.FailureNonNumericFormulaBase
		}

		multiplier := formulaMultiplier(f)
		var result float64
		switch f.Operator {
		case FormulaMultiply:
			result = base.Num * multiplier
		case FormulaAdd:
			result = base.Num + multiplier
		case FormulaSubtract:
			result = base.Num - multiplier
		case FormulaDivide:
			result = base.Num / multiplier
		default:
			return operand{}, "", fmt.Sprintf(`- Condition for field "%s" SKIPPED: Unsupported formula operator "%s".`,
				cond.Field, f.Operator), domain.FailureUnsupportedFormulaOperator
		}

		desc = fmt.Sprintf("Formula[ %s(%s) %s %s = %s ]",
			f.Field, formatNumber(base.Num), f.Operator, formatNumber(multiplier), formatNumber(result))
		return scalarOperand(domain.NumberValue(result)), desc, "", domain.FailureNone

	case domain.ShapeList:
		return listOperand(cond.Value.List), describeValue(cond.Value), "", domain.FailureNone

	default:
		return scalarOperand(cond.Value.Literal), describeValue(cond.Value), "", domain.FailureNone
	}
}

// apply runs the condition operator. note is an extra log line emitted
// before the condition line for malformed conditions.
func apply(cond domain.Condition, promptValue domain.Value, rhs operand) (met bool, note string, kind domain.FailureKind) {
	switch cond.Operator {
	case OpEqual:
		met = looseEqual(promptValue, rhs)
	case OpNotEqual:
		met = !looseEqual(promptValue, rhs)
	case OpGreater:
		c, ok := compare(promptValue, rhs)
		met = ok && c > 0
	case OpLess:
		c, ok := compare(promptValue, rhs)
		met = ok && c < 0
	case OpGreaterEqual:
		c, ok := compare(promptValue, rhs)
		met = ok && c >= 0
	case OpLessEqual:
		c, ok := compare(promptValue, rhs)
		met = ok && c <= 0
	case OpIn:
		if !rhs.isList {
			return false, fmt.Sprintf(`- Operator "in" for field "%s" requires the rule value to be an array.`, cond.Field),
				domain.FailureInvalidInOperand
		}
		met = contains(rhs.list, promptValue)
	default:
		return false, fmt.Sprintf(`- Unsupported operator "%s" for field "%s"`, cond.Operator, cond.Field),
			domain.FailureUnsupportedOperator
	}

	if !met {
		return false, "", domain.FailureConditionNotMet
	}
	return true, "", domain.FailureNone
}
