//go:build integration

// Package integration provides end-to-end tests for the Arbiter rule
// evaluation service.
//
// These tests drive the COMPLETE pipeline over HTTP:
//
//	POST /rules → engine reload → POST /evaluate → {matched, log}
//
// Run with: go test -tags=integration -v ./tests/integration/...
//
// By default the tests start an in-process server on SQLite and Go
// channels. Set ARBITER_TEST_URL to run them against a deployed instance.
//
// UNDERSTANDING THE DOMAIN:
//
//  1. FACTS: key/value data extracted from a business prompt, e.g.
//     {"invoice.materialPrice": 110, "purchaseOrder.materialPrice": 100}
//
//  2. RULE: an ordered list of conditions plus recommended actions. Each
//     condition compares one fact against a literal, a list or a formula.
//
//  3. FORMULA: a condition value computed from another fact, e.g.
//     purchaseOrder.materialPrice * 1.05
//
//  4. EVALUATION: matched is true only when every condition is MET. The log
//     explains each step and always ends with a SUCCESS or FAILURE line.
package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/arbiter/internal/api"
	"github.com/opensource-finance/arbiter/internal/bus"
	"github.com/opensource-finance/arbiter/internal/decision"
	"github.com/opensource-finance/arbiter/internal/domain"
	"github.com/opensource-finance/arbiter/internal/repository"
	"github.com/opensource-finance/arbiter/internal/rules"
)

// TestConfig holds test environment configuration
type TestConfig struct {
	BaseURL string
}

func getTestConfig(t *testing.T) TestConfig {
	t.Helper()
	if baseURL := os.Getenv("ARBITER_TEST_URL"); baseURL != "" {
		return TestConfig{BaseURL: baseURL}
	}

	repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	eventBus := bus.NewChannelBus(64)
	engine := rules.NewEngine()
	handler := api.NewHandler(repo, nil, eventBus, engine, decision.NewProcessor(engine), "integration")
	srv := httptest.NewServer(api.NewServer(domain.ServerConfig{}, handler).Router())

	t.Cleanup(func() {
		srv.Close()
		eventBus.Close()
		repo.Close()
	})
	return TestConfig{BaseURL: srv.URL}
}

// ============================================================================
// API Request/Response Types (matching Arbiter's API contract)
// ============================================================================

// EvaluateRequest is the body of POST /evaluate
type EvaluateRequest struct {
	RuleID string         `json:"ruleId"`
	Facts  map[string]any `json:"facts"`
}

// EvaluateResponse is what POST /evaluate returns
type EvaluateResponse struct {
	EvaluationID string   `json:"evaluationId"`
	RuleID       string   `json:"ruleId"`
	RuleName     string   `json:"ruleName"`
	Matched      bool     `json:"matched"`
	Log          []string `json:"log"`
	Failure      string   `json:"failure"`
}

// ============================================================================
// Test Helper Functions
// ============================================================================

func call(t *testing.T, config TestConfig, method, path string, body any) (int, []byte) {
	t.Helper()

	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}

	httpReq, err := http.NewRequest(method, config.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	return resp.StatusCode, respBody
}

func createRule(t *testing.T, config TestConfig, id string, conditions ...map[string]any) {
	t.Helper()

	rule := map[string]any{
		"id":               id,
		"name":             id,
		"description":      "integration test rule " + id,
		"businessCategory": "Integration",
		"status":           "active",
		"conditions":       conditions,
		"actions": []map[string]any{
			{"type": "recommendation", "function": "notify", "parameters": map[string]any{}},
		},
	}

	status, body := call(t, config, http.MethodPost, "/rules", rule)
	if status != http.StatusCreated {
		t.Fatalf("Expected 201 creating rule %s, got %d: %s", id, status, body)
	}
}

func evaluate(t *testing.T, config TestConfig, ruleID string, facts map[string]any) EvaluateResponse {
	t.Helper()

	status, body := call(t, config, http.MethodPost, "/evaluate", EvaluateRequest{RuleID: ruleID, Facts: facts})
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", status, body)
	}

	var result EvaluateResponse
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("Failed to unmarshal response: %v (body: %s)", err, body)
	}
	return result
}

func cond(field, operator string, value any) map[string]any {
	return map[string]any{"field": field, "operator": operator, "value": value}
}

func lastLine(log []string) string {
	if len(log) == 0 {
		return ""
	}
	return log[len(log)-1]
}

// ============================================================================
// SCENARIO A: Formula condition
// ============================================================================

func TestFormulaCondition_Met(t *testing.T) {
	/*
	   SCENARIO: Invoice price checked against the purchase order plus 5%

	   purchaseOrder.materialPrice = 100, so the formula resolves to 105.
	   invoice.materialPrice = 110 > 105 → MET.
	*/
	config := getTestConfig(t)

	createRule(t, config, "price-variance",
		cond("invoice.materialPrice", ">", map[string]any{
			"field": "purchaseOrder.materialPrice", "operator": "*", "value": 1.05,
		}),
	)

	result := evaluate(t, config, "price-variance", map[string]any{
		"invoice.materialPrice":       110,
		"purchaseOrder.materialPrice": 100,
		"invoice.quantity":            50,
		"purchaseOrder.quantity":      50,
	})

	if !result.Matched {
		t.Fatalf("Expected match, log: %v", result.Log)
	}
	want := "- Condition: `invoice.materialPrice > Formula[ purchaseOrder.materialPrice(100) * 1.05 = 105 ]` (Prompt Value: 110). Result: MET"
	if result.Log[1] != want {
		t.Errorf("Unexpected condition line:\n got: %s\nwant: %s", result.Log[1], want)
	}
	if result.EvaluationID == "" {
		t.Error("Missing evaluationId")
	}
}

// ============================================================================
// SCENARIO B: Missing fact field stops evaluation
// ============================================================================

func TestMissingField_Skipped(t *testing.T) {
	config := getTestConfig(t)

	createRule(t, config, "needs-approver",
		cond("approver", "==", "finance"),
		cond("amount", ">", 10),
	)

	result := evaluate(t, config, "needs-approver", map[string]any{"amount": 50})

	if result.Matched {
		t.Fatal("Expected no match when a field is missing")
	}
	if len(result.Log) != 3 {
		t.Fatalf("Expected evaluation to stop after the skipped condition, log: %v", result.Log)
	}
	if !strings.Contains(result.Log[1], "SKIPPED") || !strings.Contains(result.Log[1], "not found in prompt data") {
		t.Errorf("Expected SKIPPED line, got %q", result.Log[1])
	}
	for _, line := range result.Log {
		if strings.HasPrefix(line, "- Condition: `amount") {
			t.Errorf("Condition after the skipped one was evaluated: %q", line)
		}
	}
	if result.Failure != string(domain.FailureMissingFactField) {
		t.Errorf("Expected failure %q, got %q", domain.FailureMissingFactField, result.Failure)
	}
}

// ============================================================================
// SCENARIO C: Not-equal on an equal value
// ============================================================================

func TestNotEqual_NotMet(t *testing.T) {
	config := getTestConfig(t)

	createRule(t, config, "non-premium", cond("customer.tier", "!=", "premium"))

	result := evaluate(t, config, "non-premium", map[string]any{"customer.tier": "premium"})

	if result.Matched {
		t.Fatal("Expected no match")
	}
	if !strings.HasSuffix(result.Log[1], "Result: NOT MET") {
		t.Errorf("Expected NOT MET, got %q", result.Log[1])
	}
}

// ============================================================================
// SCENARIO D: Membership
// ============================================================================

func TestMembership(t *testing.T) {
	config := getTestConfig(t)

	createRule(t, config, "tag-member", cond("tags", "in", []string{"a", "b", "c"}))
	createRule(t, config, "tag-bad-operand", cond("tags", "in", "not-an-array"))

	result := evaluate(t, config, "tag-member", map[string]any{"tags": "b"})
	if !result.Matched {
		t.Errorf("Expected membership match, log: %v", result.Log)
	}

	result = evaluate(t, config, "tag-bad-operand", map[string]any{"tags": "b"})
	if result.Matched {
		t.Error("Expected no match for a non-array operand")
	}
	joined := strings.Join(result.Log, "\n")
	if !strings.Contains(joined, "requires the rule value to be an array") {
		t.Errorf("Expected array requirement note, log: %v", result.Log)
	}
	if !strings.Contains(joined, "Result: NOT MET") {
		t.Errorf("Expected NOT MET, log: %v", result.Log)
	}
}

// ============================================================================
// SCENARIO E: Unsupported operator
// ============================================================================

func TestUnsupportedOperator(t *testing.T) {
	config := getTestConfig(t)

	createRule(t, config, "fuzzy-match",
		cond("amount", ">", 10),
		cond("name", "~=", "acme"),
	)

	result := evaluate(t, config, "fuzzy-match", map[string]any{"amount": 50, "name": "acme"})

	if result.Matched {
		t.Fatal("Expected no match")
	}
	if !strings.HasSuffix(result.Log[1], "Result: MET") {
		t.Errorf("Expected first condition MET, got %q", result.Log[1])
	}
	joined := strings.Join(result.Log, "\n")
	if !strings.Contains(joined, "Unsupported operator") {
		t.Errorf("Expected unsupported operator line, log: %v", result.Log)
	}
	if !strings.HasPrefix(lastLine(result.Log), "FAILURE:") {
		t.Errorf("Expected trailing FAILURE line, got %q", lastLine(result.Log))
	}
}

// ============================================================================
// Decision discovery over a category
// ============================================================================

func TestDecide_FirstMatchWins(t *testing.T) {
	config := getTestConfig(t)

	createRule(t, config, "decide-large", cond("amount", ">", 1000))
	createRule(t, config, "decide-any", cond("amount", ">", 0))

	status, body := call(t, config, http.MethodPost, "/decide", map[string]any{
		"ruleIds": []string{"decide-large", "decide-any"},
		"facts":   map[string]any{"amount": 50},
	})
	if status != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", status, body)
	}

	var decision domain.Decision
	if err := json.Unmarshal(body, &decision); err != nil {
		t.Fatalf("Failed to unmarshal decision: %v (body: %s)", err, body)
	}
	if !decision.Matched() || decision.MatchedRule.ID != "decide-any" {
		t.Errorf("Expected decide-any to match, got %s", body)
	}
	if decision.Metadata.RulesEvaluated != 2 {
		t.Errorf("Expected 2 rules evaluated, got %d", decision.Metadata.RulesEvaluated)
	}
}

// ============================================================================
// Validation
// ============================================================================

func TestUnknownRule_NotFound(t *testing.T) {
	config := getTestConfig(t)

	status, _ := call(t, config, http.MethodPost, "/evaluate", EvaluateRequest{
		RuleID: "does-not-exist",
		Facts:  map[string]any{},
	})
	if status != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown rule, got %d", status)
	}
}
