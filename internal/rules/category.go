package rules

import (
	"sort"
	"strings"

	"github.com/opensource-finance/arbiter/internal/domain"
)

// CategoryIndex groups rules by business category. Lookups ignore case.
// An index is immutable; the engine builds a new one on every rule change.
type CategoryIndex struct {
	byKey map[string][]*domain.Rule // key: lower-cased category
	names map[string]string         // key -> first spelling seen
}

// NewCategoryIndex builds an index over rules.
func NewCategoryIndex(rules []*domain.Rule) *CategoryIndex {
	idx := &CategoryIndex{
		byKey: make(map[string][]*domain.Rule),
		names: make(map[string]string),
	}

	sorted := append([]*domain.Rule(nil), rules...)
	sortRules(sorted)

	for _, r := range sorted {
		key := categoryKey(r.BusinessCategory)
		if key == "" {
			continue
		}
		idx.byKey[key] = append(idx.byKey[key], r)
		if _, ok := idx.names[key]; !ok {
			idx.names[key] = strings.TrimSpace(r.BusinessCategory)
		}
	}
	return idx
}

func categoryKey(category string) string {
	return strings.ToLower(strings.TrimSpace(category))
}

// Lookup returns the rules in category ordered by name, then id.
func (idx *CategoryIndex) Lookup(category string, activeOnly bool) []*domain.Rule {
	rules := idx.byKey[categoryKey(category)]
	out := make([]*domain.Rule, 0, len(rules))
	for _, r := range rules {
		if activeOnly && !r.IsActive() {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Categories returns the distinct categories in sorted order.
func (idx *CategoryIndex) Categories() []string {
	out := make([]string, 0, len(idx.names))
	for _, name := range idx.names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of distinct categories.
func (idx *CategoryIndex) Len() int {
	return len(idx.byKey)
}
