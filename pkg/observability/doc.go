// Package observability bundles the operational concerns of the
// authorization service: structured JSON logging, Prometheus metrics,
// OpenTelemetry tracing, dependency health checks, and graceful shutdown.
//
// The rest of the codebase takes these as plain values (a *Logger, a
// *Metrics) so packages stay testable without a running collector.
package observability
