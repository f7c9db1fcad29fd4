// Package adapter serves AWS Lambda HTTP invocations through a gin engine.
//
// API Gateway HTTP API and function URL payloads (format 2.0) and REST API
// proxy payloads (format 1.0) are translated into net/http requests, run
// inside an "invocation" server span, and translated back. Every invocation
// waits for the trace bootstrap and flushes spans before returning.
package adapter
