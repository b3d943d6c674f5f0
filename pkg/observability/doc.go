// Package observability provides structured logging, Prometheus metrics, OpenTelemetry
// tracing and health probes for the tenancy core.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithTenant(tenantID).Info("tenant resolved")
//
// FromContext returns a logger carrying the request, user, tenant and run ids
// found in the context. The tenant and run ids are only present while an
// execution binding is live.
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	router.Handle("/metrics", observability.MetricsHandler(registry))
//
// A nil *Metrics is accepted everywhere; recording on it is a no-op.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(version,
//		observability.Dependency{Name: "postgres", Pinger: observability.DBPinger(db)},
//		observability.Dependency{Name: "redis", Pinger: redisClient, Optional: true},
//	)
//
// Redis is optional: the shared cache tier degrades to misses, so a Redis
// outage marks the service degraded rather than unhealthy.
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, cfg, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
//
// StartSpan and EndSpan wrap the global tracer and tag spans with the tenant id.
package observability
