/*
Package tracing owns the OpenTelemetry pipeline and the spans opened on it.

# Bootstrap

A Bootstrap resolves the collector endpoint and builds the tracer provider at
most once per process. Callers that arrive while construction is running
wait on the same latch and see the same Outcome. A failed bootstrap is not an
error for request handling: Tracer then hands out noop tracers and the
service keeps answering untraced.

	boot := tracing.NewBootstrap(cfg, resolver, tracing.NewOTLPPipeline(pcfg, logger, metrics).Build, logger, metrics)
	boot.Start()
	outcome, err := boot.EnsureReady(ctx)

# Scoped spans

Run opens a span around a function call and guarantees it ends exactly once,
whether the body returns, fails, panics or outlives its timeout.

	msg, err := tracing.Run(ctx, scope, "slow-operation", func(ctx context.Context, span *tracing.Active) (string, error) {
		span.AddEvent("waiting")
		return "done", nil
	}, tracing.WithTimeout(10*time.Second))

# Propagation

Incoming context is read from traceparent, baggage and X-Amzn-Trace-Id.
*/
package tracing
