// Package http serves the traced demonstration routes.
//
// Routes come from an embedded YAML table. Each one runs inside its own span
// and echoes the trace id in the X-Trace-ID header and the JSON body.
//
// Endpoints:
//   - GET /       greeting
//   - GET /trace  confirmation that the route is traced
//   - GET /slow   replies after a fixed delay
//   - GET /error  replies 500 and marks its span as failed
//   - GET /health and /metrics, untraced
//
// Example Usage:
//
//	table, err := http.DefaultTable()
//	router, err := http.NewRouter(table, http.Options{Scope: scope, SlowDelay: 2 * time.Second})
//	router.Mount(engine, tracing.AwaitReady(boot, logger))
package http
