// Package metrics exposes Prometheus metrics for rule evaluation.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opensource-finance/arbiter/internal/domain"
)

// Collector owns a private registry and the evaluation metrics.
//
// Metrics:
//   - <ns>_rules_evaluations_total: evaluations by outcome (matched, not_matched)
//   - <ns>_rules_evaluation_duration_seconds: evaluator latency
//   - <ns>_rules_condition_failures_total: non-matches by failure kind
//   - <ns>_rules_decisions_total: discovery decisions by outcome
//   - <ns>_rules_cache_requests_total: result cache lookups by result (hit, miss)
//   - <ns>_rules_loaded: rules currently loaded in the engine
//   - <ns>_http_requests_total / <ns>_http_request_duration_seconds
type Collector struct {
	registry *prometheus.Registry

	evaluations  *prometheus.CounterVec
	evalDuration prometheus.Histogram
	failures     *prometheus.CounterVec
	decisions    *prometheus.CounterVec
	cacheLookups *prometheus.CounterVec
	rulesLoaded  prometheus.Gauge

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewCollector creates a collector and registers its metrics. If registry
// is nil a fresh one is created.
func NewCollector(cfg domain.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	ns := cfg.Namespace
	if ns == "" {
		ns = "arbiter"
	}

	c := &Collector{
		registry: registry,
		evaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "rules",
				Name:      "evaluations_total",
				Help:      "Rule evaluations by outcome",
			},
			[]string{"outcome"},
		),
		evalDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: ns,
				Subsystem: "rules",
				Name:      "evaluation_duration_seconds",
				Help:      "Rule evaluation latency",
				// Evaluation is in-memory: 1µs to 10ms
				Buckets: []float64{0.000001, 0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
			},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "rules",
				Name:      "condition_failures_total",
				Help:      "Unmatched evaluations by first failure kind",
			},
			[]string{"kind"},
		),
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "rules",
				Name:      "decisions_total",
				Help:      "Discovery decisions by outcome",
			},
			[]string{"outcome"},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "rules",
				Name:      "cache_requests_total",
				Help:      "Evaluation result cache lookups",
			},
			[]string{"result"},
		),
		rulesLoaded: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: ns,
				Subsystem: "rules",
				Name:      "loaded",
				Help:      "Rules currently loaded in the engine",
			},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "HTTP requests by method, route and status",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: ns,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	registry.MustRegister(
		c.evaluations,
		c.evalDuration,
		c.failures,
		c.decisions,
		c.cacheLookups,
		c.rulesLoaded,
		c.httpRequests,
		c.httpDuration,
	)

	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ObserveEvaluation records one evaluator run.
func (c *Collector) ObserveEvaluation(result domain.EvaluationResult, elapsed time.Duration) {
	outcome := "not_matched"
	if result.Matched {
		outcome = "matched"
	}
	c.evaluations.WithLabelValues(outcome).Inc()
	c.evalDuration.Observe(elapsed.Seconds())
	if result.Failure != domain.FailureNone {
		c.failures.WithLabelValues(string(result.Failure)).Inc()
	}
}

// ObserveCache records a result cache lookup.
func (c *Collector) ObserveCache(hit bool) {
	if hit {
		c.cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	c.cacheLookups.WithLabelValues("miss").Inc()
}

// SetRulesLoaded sets the loaded-rules gauge.
func (c *Collector) SetRulesLoaded(n int) {
	c.rulesLoaded.Set(float64(n))
}

// ObserveDecision records a discovery decision.
func (c *Collector) ObserveDecision(d *domain.Decision) {
	switch {
	case d.Matched():
		c.decisions.WithLabelValues("matched").Inc()
	case d.Error == domain.DecisionNoActiveRules:
		c.decisions.WithLabelValues("no_candidates").Inc()
	default:
		c.decisions.WithLabelValues("no_match").Inc()
	}
}

// ObserveHTTP records a served HTTP request. route should be the route
// pattern, not the raw path, to bound cardinality.
func (c *Collector) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(
		c.registry,
		promhttp.HandlerOpts{
			EnableOpenMetrics: true,
			ErrorHandling:     promhttp.ContinueOnError,
		},
	)
}
