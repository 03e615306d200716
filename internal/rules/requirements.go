package rules

import "github.com/opensource-finance/arbiter/internal/domain"

// Requirements lists the facts a rule reads: every condition field and
// every formula base field, in first-use order without duplicates.
func Requirements(rule *domain.Rule) []string {
	seen := make(map[string]bool)
	fields := make([]string, 0, len(rule.Conditions))

	add := func(f string) {
		if f == "" || seen[f] {
			return
		}
		seen[f] = true
		fields = append(fields, f)
	}

	for _, c := range rule.Conditions {
		add(c.Field)
		if c.Value.Shape == domain.ShapeFormula && c.Value.Formula != nil {
			add(c.Value.Formula.Field)
		}
	}
	return fields
}

// MissingFacts returns the required fields absent from facts.
func MissingFacts(rule *domain.Rule, facts domain.FactMap) []string {
	var missing []string
	for _, f := range Requirements(rule) {
		if _, ok := lookup(facts, f); !ok {
			missing = append(missing, f)
		}
	}
	return missing
}
