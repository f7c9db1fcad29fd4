// Package main runs the traced routes as a plain HTTP server.
//
// This is the local counterpart of cmd/lambda: the same gin engine, trace
// bootstrap and collector discovery, listening on a port instead of being
// driven by Lambda invocations.
//
// Configuration:
//   - Environment variables (see internal/infrastructure/config)
//   - CLI flags (override env vars)
//
// Usage:
//
//	# Export to a local collector
//	./server -port 8080 -collector localhost:4317
//
//	# Development mode (colored logs, debug level)
//	./server -dev
//
//	# Discover the collector from the S3 outputs document
//	COLLECTOR_CONFIG_BUCKET=my-bucket ./server
package main
