package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels or NATS.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Request sends a message and waits for a response (request-reply pattern).
	// The responder finds the reply topic in Metadata[MetadataReplyTo].
	Request(ctx context.Context, topic string, payload []byte) ([]byte, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// ReplyTo returns the reply topic of a request, if any.
func (m *Message) ReplyTo() string {
	if m.Metadata == nil {
		return ""
	}
	return m.Metadata[MetadataReplyTo]
}

// MetadataReplyTo is the metadata key carrying a request's reply topic.
const MetadataReplyTo = "reply_to"

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `yaml:"type" json:"type"`

	// Channel settings
	ChannelBufferSize int `yaml:"channelBufferSize" json:"channelBufferSize"`

	// NATS settings
	NATSUrl           string `yaml:"natsUrl" json:"natsUrl"`
	NATSToken         string `yaml:"natsToken" json:"-"`
	NATSMaxReconnects int    `yaml:"natsMaxReconnects" json:"natsMaxReconnects"`
	NATSReconnectWait int    `yaml:"natsReconnectWait" json:"natsReconnectWait"` // seconds
}

// Standard topic names for the evaluation pipeline.
const (
	TopicEvaluationRequested = "arbiter.evaluation.requested"
	TopicEvaluationCompleted = "arbiter.evaluation.completed"
	TopicRuleMatched         = "arbiter.rule.matched"
	TopicDecision            = "arbiter.decision"
	TopicRulesChanged        = "arbiter.rules.changed"
)

// EvaluationRequest is the payload of TopicEvaluationRequested.
// Either RuleID or Categories must be set.
type EvaluationRequest struct {
	RequestID  string   `json:"requestId"`
	RuleID     string   `json:"ruleId,omitempty"`
	Categories []string `json:"categories,omitempty"`
	Facts      FactMap  `json:"facts"`
}

// RulesChanged is the payload of TopicRulesChanged.
type RulesChanged struct {
	Action  string   `json:"action"` // saved, deleted, status, imported, reloaded
	RuleIDs []string `json:"ruleIds,omitempty"`
	Count   int      `json:"count"`
}
