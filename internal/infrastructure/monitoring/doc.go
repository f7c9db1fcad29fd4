/*
Package monitoring provides Prometheus metrics for the service.

# Overview

Metrics cover the parts of the service that matter on a short-lived
execution environment: invocations and cold starts, the one-time trace
bootstrap, collector endpoint resolution, and span balance (spans started
vs. spans ended) for the span scopes.

# Usage

	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(reg)
	router.Use(monitoring.Middleware(metrics))

	metrics.RecordInvocation("2xx", time.Since(start), coldStart)

All recording methods are safe on a nil *Metrics, so components can be
built without metrics in tests.

# Metrics Endpoint

The registry passed to NewMetrics is served on /metrics:

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
*/
package monitoring
