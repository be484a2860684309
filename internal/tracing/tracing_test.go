package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.False(t, cfg.Enabled)
	assert.Equal(t, "ctxasm", cfg.ServiceName)
	assert.Equal(t, ExporterOTLPHTTP, cfg.ExporterType)
	assert.Equal(t, "localhost:4318", cfg.Endpoint)
	assert.True(t, cfg.Insecure)
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestInit(t *testing.T) {
	tests := []struct {
		name    string
		enabled bool
		typ     string
		wantErr string
	}{
		{name: "disabled", enabled: false, typ: "ignored"},
		{name: "noop exporter", enabled: true, typ: ExporterNoop},
		{name: "unknown exporter", enabled: true, typ: "zipkin", wantErr: "unsupported exporter type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			cfg := DefaultConfig()
			cfg.Enabled = tt.enabled
			cfg.ExporterType = tt.typ

			tp, err := Init(ctx, cfg)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, tp.Shutdown(ctx))
		})
	}
}

func TestNewSampler(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{1.0, "AlwaysOnSampler"},
		{1.5, "AlwaysOnSampler"},
		{0, "AlwaysOffSampler"},
		{-0.5, "AlwaysOffSampler"},
		{0.5, "TraceIDRatioBased{0.5}"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, newSampler(tt.rate).Description(), "rate %v", tt.rate)
	}
}

func TestSpanHelpers(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tracer := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)).Tracer("test")

	ctx, span := tracer.Start(context.Background(), "assemble")
	assert.Equal(t, span.SpanContext(), SpanFromContext(ctx).SpanContext())

	SetSpanAttributes(ctx, AttrContextBudget.Int(100), AttrContextTokens.Int(42))
	AddInsertionEvent(ctx, "story", "insertAfter", "", 12)
	RecordError(ctx, nil)
	RecordError(ctx, assert.AnError)
	span.End()

	ended := rec.Ended()
	require.Len(t, ended, 1)
	got := ended[0]

	assert.Contains(t, got.Attributes(), AttrContextBudget.Int(100))
	assert.Contains(t, got.Attributes(), AttrContextTokens.Int(42))
	assert.Equal(t, codes.Error, got.Status().Code)

	var names []string
	for _, e := range got.Events() {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"insertion", "exception"}, names)
	assert.Contains(t, got.Events()[0].Attributes, AttrEntryID.String("story"))
	assert.Contains(t, got.Events()[0].Attributes, AttrInsertionTokens.Int(12))
}

func TestHelpers_WithoutSpan(t *testing.T) {
	ctx := context.Background()
	assert.False(t, SpanFromContext(ctx).IsRecording())

	SetSpanAttributes(ctx, AttrEntryID.String("x"))
	AddInsertionEvent(ctx, "x", "rejected", "noSpace", 0)
	RecordError(ctx, assert.AnError)
}

func TestStartSpan(t *testing.T) {
	ctx := context.Background()
	ctx, span := StartSpan(ctx, "op")
	defer span.End()
	assert.NotNil(t, ctx)
	assert.NotNil(t, Tracer("other"))
}

func TestAttributeKeys(t *testing.T) {
	assert.Equal(t, attribute.Key("ctxasm.build.id"), AttrBuildID)
	assert.Equal(t, attribute.Key("ctxasm.entry.id"), AttrEntryID)
	assert.Equal(t, attribute.Key("ctxasm.context.tokens"), AttrContextTokens)
	assert.Equal(t, attribute.Key("ctxasm.context.budget"), AttrContextBudget)
	assert.Equal(t, attribute.Key("ctxasm.insertion.type"), AttrInsertionType)
}

func TestNoopExporter(t *testing.T) {
	ctx := context.Background()
	var exp noopExporter
	assert.NoError(t, exp.ExportSpans(ctx, nil))
	assert.NoError(t, exp.Shutdown(ctx))
}

func TestTracerProvider_ShutdownNil(t *testing.T) {
	tp := &TracerProvider{}
	assert.NoError(t, tp.Shutdown(context.Background()))
}
