// Package server is the composition root.
//
// New builds every component from configuration: the collector resolver
// (pinned address, OTLP environment, S3 outputs document), the trace
// bootstrap, the route table and the gin engine with its middleware. The
// same Server then backs either the Lambda adapter or a local listener.
//
// Example Usage:
//
//	cfg, err := config.Load()
//	srv, err := server.New(ctx, cfg)
//	srv.Bootstrap().Start()
//	lambda.Start(srv.Adapter().Handle)
package server
