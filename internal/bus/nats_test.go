//go:build integration

package bus

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/opensource-finance/arbiter/internal/domain"
)

func startNATS(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "nats:2.10-alpine",
			ExposedPorts: []string{"4222/tcp"},
			WaitingFor:   wait.ForLog("Server is ready").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("failed to start nats container: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	endpoint, err := container.PortEndpoint(ctx, "4222/tcp", "nats")
	if err != nil {
		t.Fatalf("failed to get nats endpoint: %v", err)
	}
	return endpoint
}

func TestNATSBusRequestReply(t *testing.T) {
	url := startNATS(t)

	bus, err := NewNATSBus(domain.EventBusConfig{NATSUrl: url, NATSMaxReconnects: 3})
	if err != nil {
		t.Fatalf("NewNATSBus failed: %v", err)
	}
	defer bus.Close()

	ctx := context.Background()
	_, err = bus.Subscribe(ctx, domain.TopicEvaluationRequested, func(ctx context.Context, msg *domain.Message) error {
		return Reply(ctx, bus, msg, append([]byte("re:"), msg.Payload...))
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	reply, err := bus.Request(reqCtx, domain.TopicEvaluationRequested, []byte("hello"))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if string(reply) != "re:hello" {
		t.Errorf("expected 're:hello', got %q", reply)
	}

	if err := bus.Ping(ctx); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}
