// Package metrics exposes the Prometheus collectors used across warmlock and
// the Track helpers that wrap cache and lock operations with a latency
// measurement and an OpenTelemetry span.
package metrics
