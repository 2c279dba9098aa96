// Package tracing sets up the OpenTelemetry tracer used around protocol calls.
//
// Spans are exported only when OTEL_EXPORTER_OTLP_ENDPOINT is set; otherwise
// a no-op provider is installed.
package tracing

import (
	"context"
	"os"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	serviceName = "acpadapter"
	envEndpoint = "OTEL_EXPORTER_OTLP_ENDPOINT"
)

var (
	mu       sync.Mutex
	initOnce sync.Once
	provider trace.TracerProvider = noop.NewTracerProvider()
	sdk      *sdktrace.TracerProvider
)

func setup() {
	endpoint := strings.TrimSpace(os.Getenv(envEndpoint))
	if endpoint == "" {
		return
	}
	ctx := context.Background()

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(stripScheme(endpoint))}
	if !strings.HasPrefix(endpoint, "https://") {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		res = resource.Default()
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	mu.Lock()
	sdk = tp
	provider = tp
	mu.Unlock()
	otel.SetTracerProvider(tp)
}

func stripScheme(endpoint string) string {
	for _, prefix := range []string{"https://", "http://"} {
		if rest, ok := strings.CutPrefix(endpoint, prefix); ok {
			return strings.TrimSuffix(rest, "/")
		}
	}
	return endpoint
}

// Tracer returns a named tracer.
func Tracer(name string) trace.Tracer {
	initOnce.Do(setup)
	mu.Lock()
	defer mu.Unlock()
	return provider.Tracer(name)
}

// SetProvider replaces the provider, e.g. with an in-memory recorder in tests.
func SetProvider(tp trace.TracerProvider) {
	initOnce.Do(func() {})
	mu.Lock()
	defer mu.Unlock()
	provider = tp
}

// Shutdown flushes pending spans.
func Shutdown(ctx context.Context) error {
	mu.Lock()
	tp := sdk
	mu.Unlock()
	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}
