package observability

import (
	"context"
	"io"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"genomicore/internal/core"
)

const instrumentationScope = "genomicore"

var _ core.Tracer = (*OtelTracer)(nil)

// OtelTracer adapts an OpenTelemetry tracer to core.Tracer.
type OtelTracer struct {
	tracer trace.Tracer
}

// NewOtelTracer takes its tracer from tp; nil means a noop provider.
func NewOtelTracer(tp trace.TracerProvider) *OtelTracer {
	if tp == nil {
		tp = tracenoop.NewTracerProvider()
	}
	return &OtelTracer{tracer: tp.Tracer(instrumentationScope)}
}

// Start implements core.Tracer.
func (t *OtelTracer) Start(ctx context.Context, operation string) (context.Context, core.TraceSpan) {
	ctx, span := t.tracer.Start(ctx, operation)
	return ctx, otelSpan{span: span}
}

type otelSpan struct {
	span trace.Span
}

func (s otelSpan) End(err error) {
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	} else {
		s.span.SetStatus(codes.Ok, "")
	}
	s.span.End()
}

// SetupTracing returns a tracer provider and its shutdown function. When
// disabled the provider is a noop; otherwise spans are written to w as JSON.
func SetupTracing(enabled bool, w io.Writer, serviceName string) (trace.TracerProvider, func(context.Context) error, error) {
	if !enabled {
		return tracenoop.NewTracerProvider(), func(context.Context) error { return nil }, nil
	}
	opts := []stdouttrace.Option{}
	if w != nil {
		opts = append(opts, stdouttrace.WithWriter(w))
	}
	exp, err := stdouttrace.New(opts...)
	if err != nil {
		return nil, nil, err
	}
	if serviceName == "" {
		serviceName = instrumentationScope
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", serviceName))),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithSyncer(exp),
	)
	return tp, tp.Shutdown, nil
}
