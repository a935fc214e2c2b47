package telemetry

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/fraudshield/fraudshield/internal/config"
)

const instrumentation = "fraudshield"

// Provider owns the tracer provider. Metrics go through Prometheus, so only
// traces are exported over OTLP.
type Provider struct {
	Enabled  bool
	tracer   trace.Tracer
	shutdown func(context.Context) error
}

// NewProvider configures an OTLP trace exporter. When telemetry is disabled
// it returns a provider with a no-op tracer.
func NewProvider(ctx context.Context, cfg config.TelemetryConfig, version string) (*Provider, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !cfg.Enabled {
		return &Provider{tracer: noop.NewTracerProvider().Tracer(instrumentation)}, nil
	}

	protocol := strings.ToLower(cfg.Protocol)
	log.WithFields(log.Fields{
		"protocol": protocol,
		"endpoint": cfg.Endpoint,
	}).Info("telemetry enabled (OpenTelemetry OTLP traces); export errors are expected if no collector is listening")

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			attribute.String("service.name", cfg.Service),
			attribute.String("service.version", version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}

	var exp sdktrace.SpanExporter
	switch protocol {
	case "", "grpc":
		exp, err = otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(cfg.Endpoint), otlptracegrpc.WithInsecure())
	case "http":
		exp, err = otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(cfg.Endpoint), otlptracehttp.WithInsecure())
	default:
		return nil, fmt.Errorf("telemetry: unknown protocol %q", cfg.Protocol)
	}
	if err != nil {
		return nil, fmt.Errorf("telemetry exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return &Provider{
		Enabled:  true,
		tracer:   tp.Tracer(instrumentation),
		shutdown: tp.Shutdown,
	}, nil
}

// Tracer returns the tracer. A nil provider yields a no-op tracer.
func (p *Provider) Tracer() trace.Tracer {
	if p == nil || p.tracer == nil {
		return noop.NewTracerProvider().Tracer(instrumentation)
	}
	return p.tracer
}

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) {
	if p == nil || p.shutdown == nil {
		return
	}
	if err := p.shutdown(ctx); err != nil {
		log.WithError(err).Warn("telemetry shutdown")
	}
}
