package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/opensource-finance/arbiter/internal/domain"
)

func testCollector() *Collector {
	return NewCollector(domain.MetricsConfig{Enabled: true, Namespace: "test"}, prometheus.NewRegistry())
}

func TestObserveEvaluation(t *testing.T) {
	c := testCollector()

	c.ObserveEvaluation(domain.EvaluationResult{Matched: true}, time.Microsecond)
	c.ObserveEvaluation(domain.EvaluationResult{Failure: domain.FailureMissingFactField}, time.Microsecond)
	c.ObserveEvaluation(domain.EvaluationResult{Failure: domain.FailureMissingFactField}, time.Microsecond)

	if got := testutil.ToFloat64(c.evaluations.WithLabelValues("matched")); got != 1 {
		t.Errorf("expected 1 matched, got %v", got)
	}
	if got := testutil.ToFloat64(c.evaluations.WithLabelValues("not_matched")); got != 2 {
		t.Errorf("expected 2 not_matched, got %v", got)
	}
	if got := testutil.ToFloat64(c.failures.WithLabelValues("missing_fact_field")); got != 2 {
		t.Errorf("expected 2 missing_fact_field failures, got %v", got)
	}
}

func TestObserveDecision(t *testing.T) {
	c := testCollector()

	c.ObserveDecision(&domain.Decision{MatchedRule: &domain.Rule{ID: "r1"}})
	c.ObserveDecision(&domain.Decision{Error: domain.DecisionNoActiveRules})
	c.ObserveDecision(&domain.Decision{Error: domain.DecisionNoMatch})

	for _, outcome := range []string{"matched", "no_candidates", "no_match"} {
		if got := testutil.ToFloat64(c.decisions.WithLabelValues(outcome)); got != 1 {
			t.Errorf("%s: expected 1, got %v", outcome, got)
		}
	}
}

func TestCacheAndGauge(t *testing.T) {
	c := testCollector()

	c.ObserveCache(true)
	c.ObserveCache(false)
	c.ObserveCache(false)
	c.SetRulesLoaded(7)

	if got := testutil.ToFloat64(c.cacheLookups.WithLabelValues("miss")); got != 2 {
		t.Errorf("expected 2 misses, got %v", got)
	}
	if got := testutil.ToFloat64(c.rulesLoaded); got != 7 {
		t.Errorf("expected gauge 7, got %v", got)
	}
}

func TestHandler(t *testing.T) {
	c := testCollector()
	c.ObserveHTTP("GET", "/rules", 200, 10*time.Millisecond)
	c.SetRulesLoaded(3)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"test_rules_loaded 3", `test_http_requests_total{method="GET",route="/rules",status="200"} 1`} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in metrics output", want)
		}
	}
}
