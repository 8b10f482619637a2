// Package tracing sets up OpenTelemetry tracing for scans. With no OTLP
// endpoint configured the provider is a no-op and spans cost nothing.
package tracing

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/vulnscan/vulnscan/pkg/defaults"
	"github.com/vulnscan/vulnscan/pkg/duration"
)

// InstrumentationName names the tracer used by the scanner.
const InstrumentationName = defaults.ToolName + "/scanner"

// Config configures the OTLP exporter.
type Config struct {
	// Endpoint is the OTLP/gRPC collector address, e.g. "localhost:4317".
	// Empty disables tracing.
	Endpoint string

	// ServiceName defaults to "vulnscan".
	ServiceName string

	// Insecure dials the collector without TLS.
	Insecure bool

	// Headers are sent with every export.
	Headers map[string]string
}

// Provider owns the tracer provider. The zero value is not usable; call
// New, NewWithExporter or Noop.
type Provider struct {
	tracer trace.Tracer
	sdk    *sdktrace.TracerProvider // nil for the no-op provider

	once sync.Once
	err  error
}

// Noop returns a provider whose spans record nothing.
func Noop() *Provider {
	return &Provider{tracer: noop.NewTracerProvider().Tracer(InstrumentationName)}
}

// New builds a provider exporting over OTLP/gRPC. An empty endpoint
// returns Noop. The exporter dials lazily, so an unreachable collector
// does not fail New.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.Endpoint == "" {
		return Noop(), nil
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts,
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
	}

	exp, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("tracing: create exporter: %w", err)
	}
	return NewWithExporter(exp, cfg.ServiceName), nil
}

// NewWithExporter builds a provider around any span exporter. Spans are
// batched.
func NewWithExporter(exp sdktrace.SpanExporter, serviceName string) *Provider {
	return newSDK(sdktrace.WithBatcher(exp), serviceName)
}

// NewSynchronous exports each span as it ends. Intended for tests.
func NewSynchronous(exp sdktrace.SpanExporter) *Provider {
	return newSDK(sdktrace.WithSyncer(exp), "")
}

func newSDK(proc sdktrace.TracerProviderOption, serviceName string) *Provider {
	if serviceName == "" {
		serviceName = defaults.ToolName
	}
	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(defaults.Version),
	)
	tp := sdktrace.NewTracerProvider(
		proc,
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	return &Provider{tracer: tp.Tracer(InstrumentationName), sdk: tp}
}

// Tracer returns the scanner tracer.
func (p *Provider) Tracer() trace.Tracer {
	if p == nil {
		return noop.NewTracerProvider().Tracer(InstrumentationName)
	}
	return p.tracer
}

// Enabled reports whether spans are exported.
func (p *Provider) Enabled() bool { return p != nil && p.sdk != nil }

// Shutdown flushes pending spans. Later calls return the first result.
func (p *Provider) Shutdown(ctx context.Context) error {
	if !p.Enabled() {
		return nil
	}
	p.once.Do(func() {
		ctx, cancel := context.WithTimeout(ctx, duration.Shutdown)
		defer cancel()
		if err := p.sdk.Shutdown(ctx); err != nil {
			p.err = fmt.Errorf("tracing: shutdown: %w", err)
		}
	})
	return p.err
}

// End finishes span, marking it failed when err is non-nil.
func End(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
