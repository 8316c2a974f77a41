package observe

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// RequestMeta describes a backend request for telemetry purposes.
type RequestMeta struct {
	Method    string // HTTP method
	Route     string // route template, e.g. /stocks/{symbol}/prices
	Path      string // concrete path, recorded on spans only (optional)
	Signature string // full request signature (optional)
}

// SpanName returns the span name for this request.
// Format: "<METHOD> <route>"
func (m RequestMeta) SpanName() string {
	method := m.Method
	if method == "" {
		method = "GET"
	}
	return method + " " + m.Route
}

func (m RequestMeta) attributes() []attribute.KeyValue {
	method := m.Method
	if method == "" {
		method = "GET"
	}
	return []attribute.KeyValue{
		attribute.String("http.request.method", method),
		attribute.String("http.route", m.Route),
	}
}

// Tracer wraps OpenTelemetry tracing with request span management.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: EndSpan must be best-effort and must not panic.
type Tracer interface {
	// StartSpan starts a client span for a backend request.
	StartSpan(ctx context.Context, meta RequestMeta) (context.Context, trace.Span)

	// EndSpan ends the span, recording any error.
	EndSpan(span trace.Span, err error)
}

// tracerImpl is the concrete implementation of Tracer.
type tracerImpl struct {
	tracer trace.Tracer
}

// NewTracer creates a Tracer wrapping the given OpenTelemetry tracer.
func NewTracer(t trace.Tracer) Tracer {
	if t == nil {
		return newNoopTracer()
	}
	return &tracerImpl{tracer: t}
}

// StartSpan starts a new span with request metadata as attributes.
func (t *tracerImpl) StartSpan(ctx context.Context, meta RequestMeta) (context.Context, trace.Span) {
	attrs := meta.attributes()
	if meta.Path != "" {
		attrs = append(attrs, attribute.String("url.path", meta.Path))
	}
	if meta.Signature != "" {
		attrs = append(attrs, attribute.String("quotelink.signature", meta.Signature))
	}

	return t.tracer.Start(ctx, meta.SpanName(),
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// EndSpan ends the span and records the error status if present.
func (t *tracerImpl) EndSpan(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("error.type", errorType(err)))
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// kinded is satisfied by classified errors that expose their category.
type kinded interface {
	KindName() string
}

// errorType returns the error category for the error.type attribute.
func errorType(err error) string {
	var k kinded
	if errors.As(err, &k) {
		return k.KindName()
	}
	return "_OTHER"
}

// noopTracer is a tracer that does nothing.
type noopTracer struct {
	noop trace.Tracer
}

func newNoopTracer() Tracer {
	return &noopTracer{
		noop: tracenoop.NewTracerProvider().Tracer("noop"),
	}
}

func (t *noopTracer) StartSpan(ctx context.Context, meta RequestMeta) (context.Context, trace.Span) {
	return t.noop.Start(ctx, meta.SpanName())
}

func (t *noopTracer) EndSpan(span trace.Span, err error) {
	span.End()
}
