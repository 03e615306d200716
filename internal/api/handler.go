// Package api serves the HTTP interface: rule management, evaluation,
// discovery decisions and the MCP endpoint.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-finance/arbiter/internal/decision"
	"github.com/opensource-finance/arbiter/internal/domain"
	"github.com/opensource-finance/arbiter/internal/metrics"
	"github.com/opensource-finance/arbiter/internal/repository"
	"github.com/opensource-finance/arbiter/internal/rules"
	"github.com/opensource-finance/arbiter/internal/ruleset"
)

const maxBodyBytes = 4 << 20

// Handler holds dependencies for API handlers.
type Handler struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	engine    *rules.Engine
	processor *decision.Processor
	importer  *ruleset.Importer
	metrics   *metrics.Collector
	version   string
}

// NewHandler creates a new API handler. repo, cache and bus may be nil.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, engine *rules.Engine, processor *decision.Processor, version string) *Handler {
	h := &Handler{
		repo:      repo,
		cache:     cache,
		bus:       bus,
		engine:    engine,
		processor: processor,
		version:   version,
	}
	if repo != nil {
		h.importer = ruleset.NewImporter(repo)
	}
	return h
}

type errorBody struct {
	Error string `json:"error"`
}

// EvaluateRequest is the request body for POST /evaluate.
type EvaluateRequest struct {
	RuleID string         `json:"ruleId"`
	Facts  domain.FactMap `json:"facts"`
}

// DecideRequest is the request body for POST /decide. When RuleIDs is
// set those rules are the candidates, in the order given; otherwise the
// active rules of Categories are.
type DecideRequest struct {
	Categories []string       `json:"categories"`
	Facts      domain.FactMap `json:"facts"`
	RuleIDs    []string       `json:"ruleIds,omitempty"`
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	components := map[string]string{
		"repository": "disabled",
		"cache":      "disabled",
		"eventBus":   "disabled",
	}

	if h.repo != nil {
		components["repository"] = "ok"
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
			components["repository"] = err.Error()
		}
	}
	if h.cache != nil {
		components["cache"] = "ok"
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
			components["cache"] = err.Error()
		}
	}
	if h.bus != nil {
		components["eventBus"] = "ok"
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
			components["eventBus"] = err.Error()
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":      status,
		"version":     h.version,
		"components":  components,
		"rulesLoaded": h.engine.RulesCount(),
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ready":       true,
		"rulesLoaded": h.engine.RulesCount(),
	})
}

// Evaluate handles POST /evaluate: one rule against one set of facts.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	var req EvaluateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.RuleID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "ruleId is required"})
		return
	}
	if req.Facts == nil {
		req.Facts = domain.FactMap{}
	}

	rule, result, err := h.engine.EvaluateByID(ctx, req.RuleID, req.Facts)
	if err != nil {
		writeError(w, err, "rule evaluation failed")
		return
	}

	eval := &domain.Evaluation{
		ID:         uuid.New().String(),
		RuleID:     rule.ID,
		RuleName:   rule.Name,
		Facts:      req.Facts,
		Result:     result,
		Timestamp:  start.UTC(),
		DurationMs: time.Since(start).Milliseconds(),
	}

	if h.repo != nil {
		if err := h.repo.SaveEvaluation(ctx, eval); err != nil {
			slog.Error("failed to save evaluation", "evaluation_id", eval.ID, "error", err)
		}
	}

	h.publish(ctx, domain.TopicEvaluationCompleted, eval)
	if result.Matched {
		h.publish(ctx, domain.TopicRuleMatched, eval)
	}

	writeJSON(w, http.StatusOK, eval.ToResponse())
}

// GetEvaluation retrieves an evaluation by ID.
func (h *Handler) GetEvaluation(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	eval, err := h.repo.GetEvaluation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err, "failed to get evaluation")
		return
	}
	writeJSON(w, http.StatusOK, eval)
}

// ListRuleEvaluations returns the most recent evaluations of a rule.
func (h *Handler) ListRuleEvaluations(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	evals, err := h.repo.ListEvaluationsByRule(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		writeError(w, err, "failed to list evaluations")
		return
	}
	if evals == nil {
		evals = []*domain.Evaluation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"evaluations": evals,
		"count":       len(evals),
	})
}

// Decide handles POST /decide: the first matching rule among candidates.
func (h *Handler) Decide(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	var req DecideRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Categories) == 0 && len(req.RuleIDs) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "categories or ruleIds is required"})
		return
	}
	if req.Facts == nil {
		req.Facts = domain.FactMap{}
	}

	var candidates []*domain.Rule
	if len(req.RuleIDs) > 0 {
		for _, id := range req.RuleIDs {
			rule, ok := h.engine.GetRule(id)
			if !ok {
				writeJSON(w, http.StatusNotFound, errorBody{Error: fmt.Sprintf("rule not found: %s", id)})
				return
			}
			candidates = append(candidates, rule)
		}
	} else {
		candidates = h.engine.RulesByCategories(req.Categories, true)
	}

	d := h.processor.Process(ctx, &decision.DecisionInput{
		TraceID:    GetTraceID(ctx),
		Categories: req.Categories,
		Candidates: candidates,
		Facts:      req.Facts,
		StartTime:  start,
	})

	if h.repo != nil {
		if err := h.repo.SaveDecision(ctx, d); err != nil {
			slog.Error("failed to save decision", "decision_id", d.ID, "error", err)
		}
	}
	if h.metrics != nil {
		h.metrics.ObserveDecision(d)
	}
	h.publish(ctx, domain.TopicDecision, d)

	slog.Debug("decision made",
		"decision_id", d.ID,
		"matched", d.Matched(),
		"rules_evaluated", d.Metadata.RulesEvaluated,
		"actions", decision.ActionNames(d),
	)
	writeJSON(w, http.StatusOK, d)
}

// GetDecision retrieves a decision by ID.
func (h *Handler) GetDecision(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	d, err := h.repo.GetDecision(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err, "failed to get decision")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *Handler) requireRepo(w http.ResponseWriter) bool {
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "repository not available"})
		return false
	}
	return true
}

// publish sends v to topic if a bus is configured. Failures are logged.
func (h *Handler) publish(ctx context.Context, topic string, v any) {
	if h.bus == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to encode event", "topic", topic, "error", err)
		return
	}
	if err := h.bus.Publish(ctx, topic, data); err != nil {
		slog.Warn("failed to publish event", "topic", topic, "error", err)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON request body: " + err.Error()})
		return false
	}
	return true
}

// writeError maps err onto a status code: not found is 404, validation
// failures are 400 and everything else is a logged 500 with msg.
func writeError(w http.ResponseWriter, err error, msg string) {
	switch {
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, rules.ErrRuleNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case errors.Is(err, repository.ErrInvalidInput), errors.Is(err, domain.ErrInvalidRule):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	default:
		slog.Error(msg, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: msg})
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
