// Package tracing wires OpenTelemetry spans around context builds.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName names the tracer used by StartSpan.
const InstrumentationName = "ctxasm"

// Exporter types accepted by Init.
const (
	ExporterOTLPHTTP = "otlp-http"
	ExporterOTLPGRPC = "otlp-grpc"
	ExporterNoop     = "noop"
)

// Config holds tracing configuration.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	// Environment is the deployment environment (dev, staging, prod).
	Environment string
	// ExporterType is one of ExporterOTLPHTTP, ExporterOTLPGRPC or ExporterNoop.
	ExporterType string
	Endpoint     string
	Insecure     bool
	// SampleRate is clamped to [0, 1].
	SampleRate float64
}

// DefaultConfig returns tracing disabled, exporting to a local collector
// once turned on.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "ctxasm",
		ServiceVersion: "0.1.0",
		Environment:    "development",
		ExporterType:   ExporterOTLPHTTP,
		Endpoint:       "localhost:4318",
		Insecure:       true,
		SampleRate:     1.0,
	}
}

// TracerProvider owns the SDK provider installed by Init.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
}

// Init installs a global tracer provider. With tracing disabled the global
// no-op provider stays in place and the returned provider does nothing.
func Init(ctx context.Context, cfg Config) (*TracerProvider, error) {
	if !cfg.Enabled {
		return &TracerProvider{}, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(newSampler(cfg.SampleRate)),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracerProvider{provider: provider}, nil
}

func newExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	var (
		exporter sdktrace.SpanExporter
		err      error
	)
	switch cfg.ExporterType {
	case ExporterOTLPHTTP:
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exporter, err = otlptracehttp.New(ctx, opts...)
	case ExporterOTLPGRPC:
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
	case ExporterNoop:
		exporter = noopExporter{}
	default:
		return nil, fmt.Errorf("unsupported exporter type: %s", cfg.ExporterType)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}
	return exporter, nil
}

func newSampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

// Shutdown flushes pending spans.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.provider == nil {
		return nil
	}
	return tp.provider.Shutdown(ctx)
}

// Tracer returns a named tracer from the global provider.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// SpanFromContext returns the current span.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// StartSpan starts a span on the ctxasm tracer.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer(InstrumentationName).Start(ctx, name, opts...)
}

// SetSpanAttributes sets attributes on the current span if it is recording.
func SetSpanAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	span := SpanFromContext(ctx)
	if span.IsRecording() {
		span.SetAttributes(attrs...)
	}
}

// RecordError records err on the current span and marks it failed.
func RecordError(ctx context.Context, err error) {
	span := SpanFromContext(ctx)
	if err == nil || !span.IsRecording() {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// AddInsertionEvent records the outcome of placing one entry.
func AddInsertionEvent(ctx context.Context, identifier, resultType, reason string, tokensUsed int) {
	span := SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.AddEvent("insertion", trace.WithAttributes(
		AttrEntryID.String(identifier),
		AttrInsertionType.String(resultType),
		AttrInsertionReason.String(reason),
		AttrInsertionTokens.Int(tokensUsed),
	))
}

// Attribute keys for context builds.
var (
	AttrBuildID         = attribute.Key("ctxasm.build.id")
	AttrEntryID         = attribute.Key("ctxasm.entry.id")
	AttrEntryType       = attribute.Key("ctxasm.entry.type")
	AttrEntryCount      = attribute.Key("ctxasm.entry.count")
	AttrGroupCount      = attribute.Key("ctxasm.group.count")
	AttrInsertionType   = attribute.Key("ctxasm.insertion.type")
	AttrInsertionReason = attribute.Key("ctxasm.insertion.reason")
	AttrInsertionTokens = attribute.Key("ctxasm.insertion.tokens")
	AttrContextTokens   = attribute.Key("ctxasm.context.tokens")
	AttrContextBudget   = attribute.Key("ctxasm.context.budget")
	AttrTrimBudget      = attribute.Key("ctxasm.trim.budget")
	AttrTrimType        = attribute.Key("ctxasm.trim.type")
)

// noopExporter drops every span.
type noopExporter struct{}

func (noopExporter) ExportSpans(context.Context, []sdktrace.ReadOnlySpan) error { return nil }

func (noopExporter) Shutdown(context.Context) error { return nil }
