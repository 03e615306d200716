package tracing

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/opensource-finance/arbiter/internal/domain"
)

func TestSetupDisabled(t *testing.T) {
	p, err := Setup(context.Background(), domain.TracingConfig{Enabled: false}, "test")
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if p.Enabled() {
		t.Error("expected disabled provider")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

func TestInstallExportsSpans(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	exporter := tracetest.NewInMemoryExporter()
	p := install(exporter, "arbiter-test", "v0")
	if !p.Enabled() {
		t.Fatal("expected enabled provider")
	}

	_, span := otel.Tracer("test").Start(context.Background(), "evaluate")
	span.End()

	if err := p.provider.ForceFlush(context.Background()); err != nil {
		t.Fatalf("ForceFlush failed: %v", err)
	}
	defer p.Shutdown(context.Background())

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name != "evaluate" {
		t.Errorf("expected span name evaluate, got %q", spans[0].Name)
	}
	var service string
	for _, kv := range spans[0].Resource.Attributes() {
		if kv.Key == "service.name" {
			service = kv.Value.AsString()
		}
	}
	if service != "arbiter-test" {
		t.Errorf("expected service.name arbiter-test, got %q", service)
	}
}
