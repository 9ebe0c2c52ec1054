// Package telemetry wires OpenTelemetry trace export. Every engine call
// produces one span tree so a pipeline operator can line mutation attempts
// up against the rest of the pentest run.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/bypassforge/bypassforge/pkg/defaults"
)

// Options configures the OTLP trace exporter.
type Options struct {
	// Endpoint is the OTLP gRPC endpoint, e.g. "localhost:4317". Empty
	// disables export entirely.
	Endpoint string

	// ServiceName overrides the default service name.
	ServiceName string

	// Insecure disables TLS on the exporter connection.
	Insecure bool

	// Headers adds headers to every export call.
	Headers map[string]string

	// ConnectTimeout bounds exporter setup.
	ConnectTimeout time.Duration
}

// Provider owns the tracer provider lifecycle.
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
}

// NewProvider sets up OTLP gRPC trace export. An empty endpoint yields a
// provider whose tracer is a no-op, so call sites never branch.
func NewProvider(ctx context.Context, opts Options) (*Provider, error) {
	if opts.Endpoint == "" {
		return &Provider{tracer: noop.NewTracerProvider().Tracer(defaults.ToolName)}, nil
	}
	if opts.ServiceName == "" {
		opts.ServiceName = defaults.ToolName
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = defaults.ProbeTimeout
	}

	exporterOpts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(opts.Endpoint),
	}
	if opts.Insecure {
		exporterOpts = append(exporterOpts,
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
	}
	if len(opts.Headers) > 0 {
		exporterOpts = append(exporterOpts, otlptracegrpc.WithHeaders(opts.Headers))
	}

	setupCtx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()

	exporter, err := otlptracegrpc.New(setupCtx, exporterOpts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create exporter: %w", err)
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(opts.ServiceName),
		semconv.ServiceVersion(defaults.Version),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return &Provider{
		tp:     tp,
		tracer: tp.Tracer(defaults.ToolName),
	}, nil
}

// Tracer returns the tracer for engine spans.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}
