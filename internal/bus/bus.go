package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/arbiter/internal/domain"
)

// New creates a new event bus based on configuration.
// channel: in-process ChannelBus (community tier).
// nats: NATSBus (pro tier).
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel", "":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

// Reply answers a request message. Messages without a reply topic are
// ignored.
func Reply(ctx context.Context, b domain.EventBus, req *domain.Message, payload []byte) error {
	replyTo := req.ReplyTo()
	if replyTo == "" {
		return nil
	}
	return b.Publish(ctx, replyTo, payload)
}

func newMessage(topic string, payload []byte, metadata map[string]string) *domain.Message {
	if metadata == nil {
		metadata = make(map[string]string)
	}
	return &domain.Message{
		ID:        uuid.NewString(),
		Topic:     topic,
		Payload:   payload,
		Metadata:  metadata,
		Timestamp: time.Now().UnixNano(),
	}
}

func newInbox() string {
	return "_INBOX." + uuid.NewString()
}

func requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, DefaultRequestTimeout)
}
