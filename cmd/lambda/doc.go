// Package main is the AWS Lambda entry point.
//
// It builds the server, starts the trace bootstrap during the init phase and
// hands API Gateway and function URL invocations to the adapter. On SIGTERM
// the trace pipeline is flushed before the sandbox goes away.
//
// Build for the provided.al2023 runtime:
//
//	GOOS=linux GOARCH=arm64 go build -tags lambda.norpc -o bootstrap ./cmd/lambda
package main
