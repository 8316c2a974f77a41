package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records data-access layer metrics.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: must return quickly.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordRequest records one backend request with its outcome.
	RecordRequest(ctx context.Context, meta RequestMeta, duration time.Duration, err error)

	// RecordCache records a cache lookup for route, a template such as
	// /stocks/{symbol} rather than a concrete path.
	RecordCache(ctx context.Context, route string, hit bool)

	// RecordRetry records a retry scheduled after a failure of kind.
	RecordRetry(ctx context.Context, kind string)

	// RecordReconnect records a push reconnect attempt.
	RecordReconnect(ctx context.Context, attempt int, err error)

	// RecordDispatch records one push event handed to delivered handlers.
	RecordDispatch(ctx context.Context, event string, delivered int)
}

// metricsImpl is the concrete implementation of Metrics.
type metricsImpl struct {
	requests     metric.Int64Counter
	errors       metric.Int64Counter
	duration     metric.Float64Histogram
	cacheLookups metric.Int64Counter
	retries      metric.Int64Counter
	reconnects   metric.Int64Counter
	dispatched   metric.Int64Counter
}

// NewMetrics creates the instruments on meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	return newMetrics(meter)
}

func newMetrics(meter metric.Meter) (*metricsImpl, error) {
	m := &metricsImpl{}
	var err error

	if m.requests, err = meter.Int64Counter(
		"quotelink.request.total",
		metric.WithDescription("Total number of backend requests"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}

	if m.errors, err = meter.Int64Counter(
		"quotelink.request.errors",
		metric.WithDescription("Total number of failed backend requests"),
		metric.WithUnit("{error}"),
	); err != nil {
		return nil, err
	}

	if m.duration, err = meter.Float64Histogram(
		"quotelink.request.duration_ms",
		metric.WithDescription("Backend request duration in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}

	if m.cacheLookups, err = meter.Int64Counter(
		"quotelink.cache.lookups",
		metric.WithDescription("Cache lookups by result"),
		metric.WithUnit("{lookup}"),
	); err != nil {
		return nil, err
	}

	if m.retries, err = meter.Int64Counter(
		"quotelink.retry.total",
		metric.WithDescription("Retries scheduled by failure kind"),
		metric.WithUnit("{retry}"),
	); err != nil {
		return nil, err
	}

	if m.reconnects, err = meter.Int64Counter(
		"quotelink.push.reconnects",
		metric.WithDescription("Push channel reconnect attempts"),
		metric.WithUnit("{attempt}"),
	); err != nil {
		return nil, err
	}

	if m.dispatched, err = meter.Int64Counter(
		"quotelink.push.dispatched",
		metric.WithDescription("Push events delivered to subscription handlers"),
		metric.WithUnit("{delivery}"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// RecordRequest records metrics for a backend request.
func (m *metricsImpl) RecordRequest(ctx context.Context, meta RequestMeta, duration time.Duration, err error) {
	attrs := meta.attributes()
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	attrs = append(attrs, attribute.String("outcome", outcome))
	opt := metric.WithAttributes(attrs...)

	m.requests.Add(ctx, 1, opt)
	if err != nil {
		m.errors.Add(ctx, 1, metric.WithAttributes(append(meta.attributes(), attribute.String("error.type", errorType(err)))...))
	}
	m.duration.Record(ctx, float64(duration.Milliseconds()), opt)
}

func (m *metricsImpl) RecordCache(ctx context.Context, route string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("http.route", route),
		attribute.String("result", result),
	))
}

func (m *metricsImpl) RecordRetry(ctx context.Context, kind string) {
	m.retries.Add(ctx, 1, metric.WithAttributes(attribute.String("error.type", kind)))
}

func (m *metricsImpl) RecordReconnect(ctx context.Context, attempt int, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.reconnects.Add(ctx, 1, metric.WithAttributes(
		attribute.Int("attempt", attempt),
		attribute.String("outcome", outcome),
	))
}

func (m *metricsImpl) RecordDispatch(ctx context.Context, event string, delivered int) {
	if delivered <= 0 {
		return
	}
	m.dispatched.Add(ctx, int64(delivered), metric.WithAttributes(attribute.String("event", event)))
}

// noopMetrics is a metrics implementation that does nothing.
type noopMetrics struct{}

// NopMetrics returns a Metrics that records nothing.
func NopMetrics() Metrics { return noopMetrics{} }

func (noopMetrics) RecordRequest(context.Context, RequestMeta, time.Duration, error) {}
func (noopMetrics) RecordCache(context.Context, string, bool)                        {}
func (noopMetrics) RecordRetry(context.Context, string)                              {}
func (noopMetrics) RecordReconnect(context.Context, int, error)                      {}
func (noopMetrics) RecordDispatch(context.Context, string, int)                      {}
