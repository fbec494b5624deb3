// Package observability provides structured logging, Prometheus metrics, health
// checks, OpenTelemetry setup and graceful shutdown for quotagate.
//
// # Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("request_id", reqID).Warn("IPN signature mismatch")
//
// Request-scoped loggers travel in the context:
//
//	ctx = observability.WithLogger(ctx, logger)
//	observability.FromContext(ctx, nil).Info("settled")
//
// # Metrics
//
// NewMetrics registers the quotagate_* collectors on a registry. Services take a
// *Metrics and record domain events (top-ups, webhook outcomes, purchases, quota
// denials); HTTPMetricsMiddleware labels requests by mux route template.
//
// # Tracing
//
// InitOTel installs OTLP/gRPC tracer and meter providers. Services start spans
// with Tracer(); outbound HTTP clients and the router are wrapped with otelhttp.
package observability
