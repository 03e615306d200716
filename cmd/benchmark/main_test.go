package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestReadCases(t *testing.T) {
	input := `# labelled cases
{"ruleId": "a", "facts": {"x": 1}, "expectMatched": true}

{"ruleId": "b", "facts": {}, "expectMatched": false}
{"ruleId": "c", "facts": {}}
`
	cases, err := readCases(strings.NewReader(input), 2)
	if err != nil {
		t.Fatalf("readCases failed: %v", err)
	}
	if len(cases) != 2 {
		t.Fatalf("expected 2 cases with limit, got %d", len(cases))
	}
	if cases[0].RuleID != "a" || !cases[0].ExpectMatched {
		t.Errorf("unexpected first case: %+v", cases[0])
	}

	if _, err := readCases(strings.NewReader(`{"facts": {}}`), 0); err == nil {
		t.Error("expected error for missing ruleId")
	}
	if _, err := readCases(strings.NewReader(`not json`), 0); err == nil {
		t.Error("expected error for malformed line")
	}
}

func TestRunBenchmark(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req EvaluateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if req.RuleID == "broken" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		matched := req.Facts["amount"] != nil
		json.NewEncoder(w).Encode(EvaluateResponse{Matched: matched})
	}))
	defer srv.Close()

	cases := []Case{
		{RuleID: "r", Facts: map[string]any{"amount": 5}, ExpectMatched: true},
		{RuleID: "r", Facts: map[string]any{}, ExpectMatched: false},
		{RuleID: "r", Facts: map[string]any{"amount": 5}, ExpectMatched: false},
		{RuleID: "r", Facts: map[string]any{}, ExpectMatched: true},
		{RuleID: "broken", Facts: map[string]any{}},
	}

	m := runBenchmark(cases, srv.URL, 3, false)

	if m.TotalProcessed != 5 || m.TotalErrors != 1 {
		t.Errorf("expected 5 processed and 1 error, got %d and %d", m.TotalProcessed, m.TotalErrors)
	}
	if m.TruePositives != 1 || m.TrueNegatives != 1 || m.FalsePositives != 1 || m.FalseNegatives != 1 {
		t.Errorf("unexpected confusion matrix: %+v", m)
	}
	if got := m.Agreement(); got != 0.5 {
		t.Errorf("expected agreement 0.5, got %v", got)
	}
}
