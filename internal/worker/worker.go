// Package worker evaluates requests arriving on the event bus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/arbiter/internal/bus"
	"github.com/opensource-finance/arbiter/internal/decision"
	"github.com/opensource-finance/arbiter/internal/domain"
	"github.com/opensource-finance/arbiter/internal/rules"
)

// ErrBadRequest marks a request the worker cannot act on.
var ErrBadRequest = errors.New("invalid evaluation request")

// Worker consumes TopicEvaluationRequested and publishes the outcome.
type Worker struct {
	bus       domain.EventBus
	repo      domain.Repository
	engine    *rules.Engine
	processor *decision.Processor

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc

	processed atomic.Int64
	failed    atomic.Int64
}

// NewWorker creates a new async worker. repo may be nil, in which case
// nothing is persisted.
func NewWorker(eventBus domain.EventBus, repo domain.Repository, engine *rules.Engine, processor *decision.Processor) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       eventBus,
		repo:      repo,
		engine:    engine,
		processor: processor,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes to evaluation requests.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicEvaluationRequested, w.handleMessage)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", domain.TopicEvaluationRequested, err)
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	slog.Info("worker started", "topic", domain.TopicEvaluationRequested)
	return nil
}

// errorReply is sent to a requester when the request fails.
type errorReply struct {
	RequestID string `json:"requestId,omitempty"`
	Error     string `json:"error"`
}

func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	var req domain.EvaluationRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		w.failed.Add(1)
		slog.Error("failed to parse evaluation request",
			"message_id", msg.ID,
			"error", err,
		)
		w.reply(ctx, msg, errorReply{Error: err.Error()})
		return nil
	}
	if req.RequestID == "" {
		req.RequestID = msg.ID
	}

	var (
		payload any
		err     error
	)
	switch {
	case req.RuleID != "":
		payload, err = w.evaluateRule(ctx, &req)
	case len(req.Categories) > 0:
		payload, err = w.decide(ctx, &req)
	default:
		err = fmt.Errorf("%w: ruleId or categories is required", ErrBadRequest)
	}

	if err != nil {
		w.failed.Add(1)
		slog.Warn("evaluation request failed",
			"request_id", req.RequestID,
			"error", err,
		)
		w.reply(ctx, msg, errorReply{RequestID: req.RequestID, Error: err.Error()})
		return nil
	}

	w.processed.Add(1)
	w.reply(ctx, msg, payload)
	return nil
}

// evaluateRule runs one loaded rule, records it, and announces the result.
func (w *Worker) evaluateRule(ctx context.Context, req *domain.EvaluationRequest) (*domain.EvaluationResponse, error) {
	start := time.Now()

	rule, result, err := w.engine.EvaluateByID(ctx, req.RuleID, req.Facts)
	if err != nil {
		return nil, err
	}

	eval := &domain.Evaluation{
		ID:         uuid.NewString(),
		RuleID:     rule.ID,
		RuleName:   rule.Name,
		Facts:      req.Facts,
		Result:     result,
		Timestamp:  start.UTC(),
		DurationMs: time.Since(start).Milliseconds(),
	}

	if w.repo != nil {
		if err := w.repo.SaveEvaluation(ctx, eval); err != nil {
			slog.Error("failed to save evaluation",
				"evaluation_id", eval.ID,
				"error", err,
			)
		}
	}

	resp := eval.ToResponse()
	w.publish(ctx, domain.TopicEvaluationCompleted, resp)
	if result.Matched {
		w.publish(ctx, domain.TopicRuleMatched, resp)
	}

	slog.Info("rule evaluated",
		"request_id", req.RequestID,
		"rule_id", rule.ID,
		"matched", result.Matched,
		"duration_ms", eval.DurationMs,
	)
	return resp, nil
}

// decide runs the discovery flow over the active rules of the categories.
func (w *Worker) decide(ctx context.Context, req *domain.EvaluationRequest) (*domain.Decision, error) {
	start := time.Now()

	d := w.processor.Process(ctx, &decision.DecisionInput{
		TraceID:    req.RequestID,
		Categories: req.Categories,
		Candidates: w.engine.RulesByCategories(req.Categories, true),
		Facts:      req.Facts,
		StartTime:  start,
	})

	if w.repo != nil {
		if err := w.repo.SaveDecision(ctx, d); err != nil {
			slog.Error("failed to save decision",
				"decision_id", d.ID,
				"error", err,
			)
		}
	}

	w.publish(ctx, domain.TopicDecision, d)

	slog.Info("decision processed",
		"request_id", req.RequestID,
		"decision_id", d.ID,
		"matched", d.Matched(),
		"rules_evaluated", d.Metadata.RulesEvaluated,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return d, nil
}

func (w *Worker) publish(ctx context.Context, topic string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to encode event", "topic", topic, "error", err)
		return
	}
	if err := w.bus.Publish(ctx, topic, data); err != nil {
		slog.Error("failed to publish event", "topic", topic, "error", err)
	}
}

func (w *Worker) reply(ctx context.Context, msg *domain.Message, v any) {
	if msg.ReplyTo() == "" {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to encode reply", "message_id", msg.ID, "error", err)
		return
	}
	if err := bus.Reply(ctx, w.bus, msg, data); err != nil {
		slog.Error("failed to send reply", "message_id", msg.ID, "error", err)
	}
}

// Stop unsubscribes and cancels in-flight handlers.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("worker stopped",
		"processed", w.processed.Load(),
		"failed", w.failed.Load(),
	)
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Processed         int64    `json:"processed"`
	Failed            int64    `json:"failed"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Processed:         w.processed.Load(),
		Failed:            w.failed.Load(),
	}
}
