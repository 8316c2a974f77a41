package observe

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type middlewareFixture struct {
	mw     *Middleware
	spans  *tracetest.SpanRecorder
	reader *sdkmetric.ManualReader
	logs   *bytes.Buffer
}

func newMiddlewareFixture(t *testing.T) middlewareFixture {
	t.Helper()
	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	metrics, err := newMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatalf("newMetrics: %v", err)
	}

	logs := &bytes.Buffer{}
	mw := NewMiddleware(NewTracer(tp.Tracer("test")), metrics, NewLoggerWithWriter("debug", logs))
	return middlewareFixture{mw: mw, spans: spans, reader: reader, logs: logs}
}

func TestMiddleware_SuccessPath(t *testing.T) {
	f := newMiddlewareFixture(t)
	meta := RequestMeta{Method: "GET", Route: "/stocks"}

	wrapped := f.mw.Wrap(func(ctx context.Context, m RequestMeta) (any, error) {
		return "payload", nil
	})
	result, err := wrapped(context.Background(), meta)

	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if result != "payload" {
		t.Errorf("result = %v, want payload", result)
	}

	spans := f.spans.Ended()
	if len(spans) != 1 || spans[0].Name() != "GET /stocks" {
		t.Fatalf("spans = %v, want one GET /stocks span", spans)
	}
	if spans[0].Status().Code != codes.Ok {
		t.Errorf("status = %v, want Ok", spans[0].Status().Code)
	}

	if got := sumValue(t, collect(t, f.reader), "quotelink.request.total", attribute.String("outcome", "success")); got != 1 {
		t.Errorf("request.total{success} = %d, want 1", got)
	}

	lines := decodeLines(t, f.logs)
	if len(lines) != 1 || lines[0]["level"] != "debug" {
		t.Errorf("log lines = %v, want one debug entry", lines)
	}
}

func TestMiddleware_ErrorPath(t *testing.T) {
	f := newMiddlewareFixture(t)
	boom := errors.New("connection reset")

	wrapped := f.mw.Wrap(func(ctx context.Context, m RequestMeta) (any, error) {
		return nil, boom
	})
	_, err := wrapped(context.Background(), RequestMeta{Method: "GET", Route: "/sectors"})

	if err != boom {
		t.Errorf("error = %v, want unchanged %v", err, boom)
	}
	if f.spans.Ended()[0].Status().Code != codes.Error {
		t.Error("span status should be Error")
	}
	if got := sumValue(t, collect(t, f.reader), "quotelink.request.errors"); got != 1 {
		t.Errorf("request.errors = %d, want 1", got)
	}
	lines := decodeLines(t, f.logs)
	if len(lines) != 1 || lines[0]["level"] != "warn" || lines[0]["error"] != "connection reset" {
		t.Errorf("log lines = %v, want one warn entry with error", lines)
	}
}

func TestMiddleware_PropagatesSpanContext(t *testing.T) {
	f := newMiddlewareFixture(t)

	var sawSpan bool
	wrapped := f.mw.Wrap(func(ctx context.Context, m RequestMeta) (any, error) {
		sawSpan = spanFromContextValid(ctx)
		return nil, nil
	})
	_, _ = wrapped(context.Background(), RequestMeta{Route: "/x"})

	if !sawSpan {
		t.Error("wrapped function should receive a context carrying the span")
	}
}

func TestNewMiddleware_NilComponents(t *testing.T) {
	mw := NewMiddleware(nil, nil, nil)
	wrapped := mw.Wrap(func(ctx context.Context, m RequestMeta) (any, error) { return 1, nil })
	if v, err := wrapped(context.Background(), RequestMeta{Route: "/x"}); v != 1 || err != nil {
		t.Errorf("wrapped = (%v, %v), want (1, nil)", v, err)
	}
	if mw.Metrics() == nil || mw.Logger() == nil {
		t.Error("accessors should return no-op components")
	}
}
