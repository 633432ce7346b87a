package tracing

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"unicornio-backend/internal/shared/telemetry"
)

// Options configures the global tracer provider.
type Options struct {
	Enabled     bool
	ServiceName string
	Environment string
	Endpoint    string
	Insecure    bool
	SampleRatio float64
}

// Init installs a tracer provider and W3C propagators. When tracing is
// disabled it returns a no-op shutdown and leaves the global no-op provider.
func Init(ctx context.Context, opts Options) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	if !opts.Enabled {
		return noop, nil
	}

	serviceName := strings.TrimSpace(opts.ServiceName)
	if serviceName == "" {
		serviceName = "unicornio-backend"
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", serviceName),
		attribute.String("deployment.environment", opts.Environment),
	))
	if err != nil {
		telemetry.Warn("tracing.resource_failed", map[string]any{"error": err.Error()})
	}

	exporter, err := newExporter(ctx, opts)
	if err != nil {
		return noop, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(clampRatio(opts.SampleRatio)))),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	telemetry.Info("tracing.initialized", map[string]any{
		"service":  serviceName,
		"endpoint": opts.Endpoint,
	})
	return tp.Shutdown, nil
}

func newExporter(ctx context.Context, opts Options) (sdktrace.SpanExporter, error) {
	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint == "" {
		telemetry.Warn("tracing.stdout_exporter", map[string]any{"reason": "no OTLP endpoint configured"})
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	}
	httpOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(stripScheme(endpoint))}
	if opts.Insecure || strings.HasPrefix(endpoint, "http://") {
		httpOpts = append(httpOpts, otlptracehttp.WithInsecure())
	}
	return otlptracehttp.New(ctx, httpOpts...)
}

// WithEndpoint expects host:port.
func stripScheme(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "https://")
	endpoint = strings.TrimPrefix(endpoint, "http://")
	return strings.TrimRight(endpoint, "/")
}

func clampRatio(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
