// Package rules provides the business rule evaluator and the engine that
// hosts loaded rules.
package rules

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/arbiter/internal/domain"
)

// ErrRuleNotFound is returned when a rule id is not loaded.
var ErrRuleNotFound = errors.New("rule not found")

// Recorder receives evaluation telemetry.
type Recorder interface {
	ObserveEvaluation(result domain.EvaluationResult, elapsed time.Duration)
	ObserveCache(hit bool)
	SetRulesLoaded(n int)
}

// Engine holds the loaded rule set and evaluates rules against facts.
type Engine struct {
	mu       sync.RWMutex
	rules    map[string]*domain.Rule
	index    *CategoryIndex
	cache    domain.Cache
	cacheTTL time.Duration
	recorder Recorder
	tracer   trace.Tracer

	maxWorkers int
}

// Option configures an Engine.
type Option func(*Engine)

// WithCache caches evaluation results. Evaluate is deterministic, so a
// result is keyed by the rule content and the facts.
func WithCache(c domain.Cache, ttl time.Duration) Option {
	return func(e *Engine) {
		e.cache = c
		e.cacheTTL = ttl
	}
}

// WithRecorder reports evaluations to r.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithMaxWorkers bounds EvaluateAll concurrency.
func WithMaxWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxWorkers = n
		}
	}
}

// NewEngine creates a new rule engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		rules:      make(map[string]*domain.Rule),
		index:      NewCategoryIndex(nil),
		tracer:     otel.Tracer("arbiter/rules"),
		maxWorkers: 10,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// LoadRule adds or replaces a single rule.
func (e *Engine) LoadRule(rule *domain.Rule) error {
	if rule == nil || rule.ID == "" {
		return fmt.Errorf("rule id is required")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.rules[rule.ID] = rule
	e.rebuildIndexLocked()
	return nil
}

// LoadRules adds or replaces multiple rules.
func (e *Engine) LoadRules(rules []*domain.Rule) error {
	for _, r := range rules {
		if err := e.LoadRule(r); err != nil {
			return err
		}
	}
	return nil
}

// ReloadRules replaces the whole rule set and rebuilds the category index.
func (e *Engine) ReloadRules(rules []*domain.Rule) error {
	next := make(map[string]*domain.Rule, len(rules))
	for _, r := range rules {
		if r == nil || r.ID == "" {
			return fmt.Errorf("rule id is required")
		}
		next[r.ID] = r
	}

	e.mu.Lock()
	e.rules = next
	e.rebuildIndexLocked()
	e.mu.Unlock()

	slog.Debug("rules reloaded", "count", len(next))
	return nil
}

// UnloadRule removes a rule from the engine.
func (e *Engine) UnloadRule(ruleID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.rules, ruleID)
	e.rebuildIndexLocked()
}

func (e *Engine) rebuildIndexLocked() {
	all := make([]*domain.Rule, 0, len(e.rules))
	for _, r := range e.rules {
		all = append(all, r)
	}
	e.index = NewCategoryIndex(all)
	if e.recorder != nil {
		e.recorder.SetRulesLoaded(len(all))
	}
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// GetRule returns a loaded rule by id.
func (e *Engine) GetRule(ruleID string) (*domain.Rule, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.rules[ruleID]
	return r, ok
}

// GetLoadedRules returns the loaded rules ordered by name, then id.
func (e *Engine) GetLoadedRules() []*domain.Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.Rule, 0, len(e.rules))
	for _, r := range e.rules {
		rules = append(rules, r)
	}
	sortRules(rules)
	return rules
}

// RulesByCategory returns the rules filed under category, matched
// case-insensitively. With activeOnly, inactive rules are left out.
func (e *Engine) RulesByCategory(category string, activeOnly bool) []*domain.Rule {
	e.mu.RLock()
	idx := e.index
	e.mu.RUnlock()
	return idx.Lookup(category, activeOnly)
}

// RulesByCategories merges RulesByCategory over several categories,
// keeping the first occurrence of each rule.
func (e *Engine) RulesByCategories(categories []string, activeOnly bool) []*domain.Rule {
	e.mu.RLock()
	idx := e.index
	e.mu.RUnlock()

	seen := make(map[string]bool)
	var out []*domain.Rule
	for _, c := range categories {
		for _, r := range idx.Lookup(c, activeOnly) {
			if seen[r.ID] {
				continue
			}
			seen[r.ID] = true
			out = append(out, r)
		}
	}
	return out
}

// Categories returns every known business category.
func (e *Engine) Categories() []string {
	e.mu.RLock()
	idx := e.index
	e.mu.RUnlock()
	return idx.Categories()
}

// EvaluateRule evaluates a single rule, consulting the result cache first.
func (e *Engine) EvaluateRule(ctx context.Context, rule *domain.Rule, facts domain.FactMap) domain.EvaluationResult {
	ctx, span := e.tracer.Start(ctx, "rules.Evaluate",
		trace.WithAttributes(attribute.String("rule.id", rule.ID)))
	defer span.End()

	start := time.Now()

	key := ""
	if e.cache != nil {
		key = resultKey(rule, facts)
		if cached, err := e.cache.GetResult(ctx, key); err == nil && cached != nil {
			if e.recorder != nil {
				e.recorder.ObserveCache(true)
			}
			span.SetAttributes(attribute.Bool("rule.matched", cached.Matched), attribute.Bool("cache.hit", true))
			return *cached
		} else if err != nil {
			slog.Warn("result cache read failed", "rule_id", rule.ID, "error", err)
		}
		if e.recorder != nil {
			e.recorder.ObserveCache(false)
		}
	}

	result := Evaluate(facts, rule)

	if e.cache != nil {
		if err := e.cache.SetResult(ctx, key, &result, e.cacheTTL); err != nil {
			slog.Warn("result cache write failed", "rule_id", rule.ID, "error", err)
		}
	}
	if e.recorder != nil {
		e.recorder.ObserveEvaluation(result, time.Since(start))
	}

	span.SetAttributes(attribute.Bool("rule.matched", result.Matched))
	if result.Failure != domain.FailureNone {
		span.SetAttributes(attribute.String("rule.failure", string(result.Failure)))
	}
	return result
}

// EvaluateByID evaluates a loaded rule by id.
func (e *Engine) EvaluateByID(ctx context.Context, ruleID string, facts domain.FactMap) (*domain.Rule, domain.EvaluationResult, error) {
	rule, ok := e.GetRule(ruleID)
	if !ok {
		return nil, domain.EvaluationResult{}, fmt.Errorf("%w: %s", ErrRuleNotFound, ruleID)
	}
	return rule, e.EvaluateRule(ctx, rule, facts), nil
}

// FirstMatch is the outcome of EvaluateFirstMatch.
type FirstMatch struct {
	// Rule is the first rule that matched, or nil.
	Rule *domain.Rule
	// Log concatenates the logs of every rule evaluated.
	Log []string
	// Evaluated counts the rules evaluated before stopping.
	Evaluated int
}

// EvaluateFirstMatch evaluates rules in the given order and stops at the
// first one that matches.
func (e *Engine) EvaluateFirstMatch(ctx context.Context, rules []*domain.Rule, facts domain.FactMap) FirstMatch {
	var fm FirstMatch
	for _, r := range rules {
		if ctx.Err() != nil {
			break
		}
		result := e.EvaluateRule(ctx, r, facts)
		fm.Evaluated++
		fm.Log = append(fm.Log, result.Log...)
		if result.Matched {
			fm.Rule = r
			break
		}
	}
	return fm
}

// Outcome pairs a rule with its evaluation result.
type Outcome struct {
	Rule   *domain.Rule
	Result domain.EvaluationResult
}

// EvaluateAll evaluates every rule in parallel. Outcomes keep input order.
func (e *Engine) EvaluateAll(ctx context.Context, rules []*domain.Rule, facts domain.FactMap) []Outcome {
	if len(rules) == 0 {
		return nil
	}

	results := make([]Outcome, len(rules))
	var wg sync.WaitGroup

	// Limit concurrency with semaphore
	sem := make(chan struct{}, e.maxWorkers)

	for i, rule := range rules {
		wg.Add(1)
		go func(idx int, r *domain.Rule) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			results[idx] = Outcome{Rule: r, Result: e.EvaluateRule(ctx, r, facts)}
		}(i, rule)
	}

	wg.Wait()

	return results
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = make(map[string]*domain.Rule)
	e.index = NewCategoryIndex(nil)
	return nil
}

// resultKey derives a cache key from the rule content and the facts. The
// cache adds its own namespace.
func resultKey(rule *domain.Rule, facts domain.FactMap) string {
	h := sha256.New()
	// Rule and FactMap marshal deterministically (struct order, sorted keys).
	rb, _ := json.Marshal(struct {
		Name       string             `json:"n"`
		Conditions []domain.Condition `json:"c"`
	}{rule.Name, rule.Conditions})
	h.Write(rb)
	h.Write([]byte{0})
	fb, _ := json.Marshal(factsForKey(facts))
	h.Write(fb)
	return rule.ID + ":" + hex.EncodeToString(h.Sum(nil))
}

// factsForKey keeps the value kind so that "1" and 1 hash differently.
func factsForKey(facts domain.FactMap) map[string][2]any {
	out := make(map[string][2]any, len(facts))
	for k, v := range facts {
		val := v.Interface()
		if v.Kind == domain.KindNumber {
			// NaN and Inf have no JSON form.
			val = formatNumber(v.Num)
		}
		out[k] = [2]any{v.Kind.String(), val}
	}
	return out
}

func sortRules(rules []*domain.Rule) {
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].Name != rules[j].Name {
			return rules[i].Name < rules[j].Name
		}
		return rules[i].ID < rules[j].ID
	})
}
