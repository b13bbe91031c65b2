package tracing

import (
	"context"
	"net/http"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

func TestInitTracerWithoutEndpoint(t *testing.T) {
	ctx := context.Background()
	tp, err := InitTracer(ctx, Config{ServiceName: "postscraper-test"})
	if err != nil {
		t.Fatalf("InitTracer failed: %v", err)
	}
	defer tp.Shutdown(ctx)

	_, span := otel.Tracer("test").Start(ctx, "op")
	defer span.End()
	if !span.SpanContext().IsValid() {
		t.Error("expected a valid span context from the installed provider")
	}

	// trace context must propagate into outgoing headers
	spanCtx, child := otel.Tracer("test").Start(ctx, "child")
	defer child.End()
	header := http.Header{}
	otel.GetTextMapPropagator().Inject(spanCtx, propagation.HeaderCarrier(header))
	if header.Get("traceparent") == "" {
		t.Error("expected traceparent header to be injected")
	}
}

func TestInitTracerRequiresServiceName(t *testing.T) {
	if _, err := InitTracer(context.Background(), Config{}); err == nil {
		t.Error("expected error without service name")
	}
}

func TestExporterOptions(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want int
	}{
		{"host port", Config{Endpoint: "collector:4317"}, 1},
		{"host port insecure", Config{Endpoint: "collector:4317", Insecure: true}, 2},
		{"http url", Config{Endpoint: "http://collector:4317"}, 2},
		{"https url", Config{Endpoint: "https://collector:4317"}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := len(exporterOptions(tt.cfg)); got != tt.want {
				t.Errorf("len(exporterOptions) = %d, want %d", got, tt.want)
			}
		})
	}
}
