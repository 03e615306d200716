//go:build integration

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/opensource-finance/arbiter/internal/domain"
)

func startRedis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("failed to get redis endpoint: %v", err)
	}
	return endpoint
}

func TestRedisCache(t *testing.T) {
	addr := startRedis(t)
	ctx := context.Background()

	cache, err := New(domain.CacheConfig{Type: "redis", RedisAddr: addr, EnableTwoPhase: true})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer cache.Close()

	result := &domain.EvaluationResult{Matched: true, Log: []string{"SUCCESS"}}
	if err := cache.SetResult(ctx, "k", result, time.Minute); err != nil {
		t.Fatalf("SetResult failed: %v", err)
	}

	// A fresh two-phase cache has an empty L1 and must read through.
	other, err := NewTwoPhaseCache(domain.CacheConfig{RedisAddr: addr})
	if err != nil {
		t.Fatalf("NewTwoPhaseCache failed: %v", err)
	}
	defer other.Close()

	got, err := other.GetResult(ctx, "k")
	if err != nil || got == nil || !got.Matched {
		t.Fatalf("GetResult = %+v, %v", got, err)
	}

	remote, err := NewRedisCache(addr, "", 0)
	if err != nil {
		t.Fatalf("NewRedisCache failed: %v", err)
	}
	defer remote.Close()

	if raw, _ := remote.client.Get(ctx, KeyPrefix+"result:k").Bytes(); len(raw) == 0 {
		t.Error("expected key under the arbiter prefix")
	}
}
