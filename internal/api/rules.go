package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/arbiter/internal/domain"
	"github.com/opensource-finance/arbiter/internal/rules"
	"github.com/opensource-finance/arbiter/internal/ruleset"
)

// StatusRequest is the request body for PATCH /rules/{id}/status.
type StatusRequest struct {
	Status domain.RuleStatus `json:"status"`
}

// ListRules returns stored rules, optionally narrowed by category, status
// and a CEL selector over rule metadata.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	q := r.URL.Query()

	filter := domain.RuleFilter{
		Category: q.Get("category"),
		Status:   domain.RuleStatus(q.Get("status")),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "status must be active or inactive"})
		return
	}

	list, err := h.repo.ListRules(r.Context(), filter)
	if err != nil {
		writeError(w, err, "failed to list rules")
		return
	}

	if expr := q.Get("filter"); expr != "" {
		sel, err := rules.NewSelector(expr)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
			return
		}
		if list, err = sel.Filter(list); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
			return
		}
	}
	if list == nil {
		list = []*domain.Rule{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"rules": list,
		"count": len(list),
	})
}

// GetRule retrieves a stored rule by ID.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	rule, err := h.repo.GetRule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err, "failed to get rule")
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// CreateRule validates and stores a new rule, then reloads the engine.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	var rule domain.Rule
	if !decodeBody(w, r, &rule) {
		return
	}
	if err := rule.Validate(); err != nil {
		writeError(w, err, "invalid rule")
		return
	}

	if err := h.repo.SaveRule(r.Context(), &rule); err != nil {
		writeError(w, err, "failed to save rule")
		return
	}
	h.rulesChanged(r.Context(), "saved", rule.ID)

	saved, err := h.repo.GetRule(r.Context(), rule.ID)
	if err != nil {
		writeError(w, err, "failed to get rule")
		return
	}

	slog.Info("rule created", "rule_id", saved.ID, "name", saved.Name)
	writeJSON(w, http.StatusCreated, saved)
}

// UpdateRule replaces a stored rule. An omitted status keeps the current one.
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	existing, err := h.repo.GetRule(ctx, id)
	if err != nil {
		writeError(w, err, "failed to get rule")
		return
	}

	var rule domain.Rule
	if !decodeBody(w, r, &rule) {
		return
	}
	rule.ID = id
	if rule.Status == "" {
		rule.Status = existing.Status
	}
	if err := rule.Validate(); err != nil {
		writeError(w, err, "invalid rule")
		return
	}

	if err := h.repo.SaveRule(ctx, &rule); err != nil {
		writeError(w, err, "failed to save rule")
		return
	}
	h.rulesChanged(ctx, "saved", id)

	saved, err := h.repo.GetRule(ctx, id)
	if err != nil {
		writeError(w, err, "failed to get rule")
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// UpdateRuleStatus activates or deactivates a rule.
func (h *Handler) UpdateRuleStatus(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	var req StatusRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !req.Status.Valid() {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "status must be active or inactive"})
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.repo.UpdateRuleStatus(r.Context(), id, req.Status); err != nil {
		writeError(w, err, "failed to update rule status")
		return
	}
	h.rulesChanged(r.Context(), "status", id)

	writeJSON(w, http.StatusOK, map[string]any{
		"id":     id,
		"status": req.Status,
	})
}

// DeleteRule removes a rule.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.repo.DeleteRule(r.Context(), id); err != nil {
		writeError(w, err, "failed to delete rule")
		return
	}
	h.rulesChanged(r.Context(), "deleted", id)

	slog.Info("rule deleted", "rule_id", id)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rule deleted",
		"id":      id,
	})
}

// ImportRules stores every valid rule of a rule file sent as the body.
// YAML is read when the Content-Type or ?format says so.
func (h *Handler) ImportRules(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "failed to read request body"})
		return
	}

	format := requestFormat(r.URL.Query().Get("format"), r.Header.Get("Content-Type"))
	list, err := ruleset.Decode(data, format)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	n, err := h.importer.Import(r.Context(), list)
	if err != nil {
		writeError(w, err, "failed to import rules")
		return
	}
	h.rulesChanged(r.Context(), "imported")

	writeJSON(w, http.StatusOK, map[string]any{
		"imported": n,
		"skipped":  len(list) - n,
	})
}

// ExportRules returns every stored rule as a rule file.
func (h *Handler) ExportRules(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	list, err := ruleset.Export(r.Context(), h.repo)
	if err != nil {
		writeError(w, err, "failed to export rules")
		return
	}

	format := requestFormat(r.URL.Query().Get("format"), r.Header.Get("Accept"))
	data, err := ruleset.Encode(list, format)
	if err != nil {
		writeError(w, err, "failed to encode rules")
		return
	}

	contentType := "application/json"
	if format == ruleset.FormatYAML {
		contentType = "application/yaml"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// ReloadRules reloads all rules from the repository into the engine.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	n, err := ruleset.Reload(r.Context(), h.repo, h.engine)
	if err != nil {
		writeError(w, err, "failed to reload rules")
		return
	}
	h.publish(r.Context(), domain.TopicRulesChanged, domain.RulesChanged{Action: "reloaded", Count: n})

	slog.Info("rules reloaded from repository", "count", n)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   n,
	})
}

// GetRuleRequirements lists the facts a rule reads.
func (h *Handler) GetRuleRequirements(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	rule, err := h.repo.GetRule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err, "failed to get rule")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ruleId":         rule.ID,
		"ruleName":       rule.Name,
		"requiredFields": rules.Requirements(rule),
	})
}

// ListCategories returns the distinct business categories.
func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	var categories []string
	if h.repo != nil {
		var err error
		if categories, err = h.repo.ListCategories(r.Context()); err != nil {
			writeError(w, err, "failed to list categories")
			return
		}
	} else {
		categories = h.engine.Categories()
	}
	if categories == nil {
		categories = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"categories": categories,
		"count":      len(categories),
	})
}

// rulesChanged reloads the engine after a write and announces it.
func (h *Handler) rulesChanged(ctx context.Context, action string, ids ...string) {
	n, err := ruleset.Reload(ctx, h.repo, h.engine)
	if err != nil {
		slog.Error("engine reload after rule change failed", "action", action, "error", err)
		return
	}
	h.publish(ctx, domain.TopicRulesChanged, domain.RulesChanged{Action: action, RuleIDs: ids, Count: n})
}

func requestFormat(explicit, header string) ruleset.Format {
	if strings.EqualFold(explicit, "yaml") || strings.EqualFold(explicit, "yml") {
		return ruleset.FormatYAML
	}
	if explicit == "" && strings.Contains(strings.ToLower(header), "yaml") {
		return ruleset.FormatYAML
	}
	return ruleset.FormatJSON
}
