package obs

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// TracingConfig controls tracer provider initialisation.
type TracingConfig struct {
	ServiceName    string
	ServiceVersion string
	Endpoint       string
	// Exporter is "otlp" (default) or "none".
	Exporter      string
	SamplingRatio float64
	Environment   string
	// SpanExporter overrides Exporter, e.g. with an in-memory exporter in tests.
	SpanExporter sdktrace.SpanExporter
}

// InitTracer installs the global tracer provider and W3C propagators and returns its shutdown function.
// Root spans are sampled at SamplingRatio; spans continuing a caller's trace follow the caller's decision,
// so a storefront trace is not cut in half at the checkout API.
func InitTracer(ctx context.Context, cfg TracingConfig) (func(context.Context) error, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	exporter := cfg.SpanExporter
	if exporter == nil {
		kind := strings.ToLower(strings.TrimSpace(cfg.Exporter))
		switch kind {
		case "none", "noop":
			return func(context.Context) error { return nil }, nil
		case "", "otlp":
			var opts []otlptracehttp.Option
			if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
				opts = append(opts, otlptracehttp.WithEndpointURL(endpoint))
			}
			var err error
			if exporter, err = otlptracehttp.New(ctx, opts...); err != nil {
				return nil, fmt.Errorf("otlp exporter: %w", err)
			}
		default:
			return nil, fmt.Errorf("unsupported tracing exporter: %s", kind)
		}
	}

	attrs := []resource.Option{
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	}
	if v := strings.TrimSpace(cfg.ServiceVersion); v != "" {
		attrs = append(attrs, resource.WithAttributes(semconv.ServiceVersion(v)))
	}
	res, err := resource.New(ctx, attrs...)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(samplingRatio(cfg.SamplingRatio)))),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// samplingRatio maps unset or out-of-range ratios to "sample everything".
func samplingRatio(r float64) float64 {
	if r <= 0 || r > 1 {
		return 1
	}
	return r
}
