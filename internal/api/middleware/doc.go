// Package middleware provides the HTTP middleware shared by the local server
// and the Lambda adapter.
//
// Middleware stack includes:
//   - RequestID: X-Request-ID propagation with ULID generation
//   - AccessLog: one structured line per request with the trace id
//   - Recovery: panic recovery with a JSON 500
//   - CORS: exposes X-Trace-ID and accepts trace context headers
//   - RateLimit: token bucket limiting, shared or per client IP
//
// Example Usage:
//
//	router.Use(middleware.RequestID(), middleware.AccessLog(logger))
//	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
package middleware
