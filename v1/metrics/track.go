package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/mirkobrombin/go-warmlock/v1")

// Op is an instrumented operation started by TrackCache or TrackLock.
// Callers must call End exactly once.
type Op struct {
	name    string
	start   time.Time
	span    trace.Span
	counter *prometheus.CounterVec
	latency *prometheus.HistogramVec
}

// TrackCache starts a span and a latency measurement for a cache operation.
func TrackCache(ctx context.Context, op, key string) (context.Context, *Op) {
	return track(ctx, "Cache."+op, op, key, CacheOps, CacheLatency)
}

// TrackLock starts a span and a latency measurement for a lock operation.
func TrackLock(ctx context.Context, op, resource string) (context.Context, *Op) {
	return track(ctx, "Lock."+op, op, resource, LockOps, LockLatency)
}

func track(ctx context.Context, spanName, op, key string, c *prometheus.CounterVec, h *prometheus.HistogramVec) (context.Context, *Op) {
	ctx, span := tracer.Start(ctx, spanName, trace.WithAttributes(
		attribute.String("warmlock.key", key),
	))
	return ctx, &Op{name: op, start: time.Now(), span: span, counter: c, latency: h}
}

// End records the outcome of the operation and closes its span.
func (o *Op) End(result string) {
	latency := time.Since(o.start)
	o.counter.WithLabelValues(o.name, result).Inc()
	o.latency.WithLabelValues(o.name).Observe(latency.Seconds())
	o.span.SetAttributes(
		attribute.String("warmlock.result", result),
		attribute.Int64("warmlock.latency_ms", latency.Milliseconds()),
	)
	o.span.End()
}
