// Package testutil holds fakes shared by package tests.
package testutil

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/GriffinCanCode/tracedlambda/internal/infrastructure/collector"
	"github.com/GriffinCanCode/tracedlambda/internal/infrastructure/monitoring"
)

// CollectorEndpoint is the address used across scenario tests.
var CollectorEndpoint = collector.Endpoint{Host: "10.0.1.183", Port: collector.DefaultPort}

// Resolver is a fake endpoint resolver. With Gate set, Resolve blocks until
// the gate is closed or ctx ends.
type Resolver struct {
	Endpoint collector.Endpoint
	Err      error
	Gate     chan struct{}
	calls    atomic.Int32
}

// NewResolver resolves to CollectorEndpoint.
func NewResolver() *Resolver {
	return &Resolver{Endpoint: CollectorEndpoint}
}

// NewGatedResolver resolves to CollectorEndpoint once Release is called.
func NewGatedResolver() *Resolver {
	return &Resolver{Endpoint: CollectorEndpoint, Gate: make(chan struct{})}
}

func (r *Resolver) Resolve(ctx context.Context) (collector.Resolution, error) {
	r.calls.Add(1)
	if r.Gate != nil {
		select {
		case <-r.Gate:
		case <-ctx.Done():
			return collector.Resolution{}, ctx.Err()
		}
	}
	if r.Err != nil {
		return collector.Resolution{}, r.Err
	}
	return collector.Resolution{Endpoint: r.Endpoint, Source: "test"}, nil
}

// Release unblocks a gated resolver.
func (r *Resolver) Release() {
	close(r.Gate)
}

// Calls reports how many times Resolve ran.
func (r *Resolver) Calls() int {
	return int(r.calls.Load())
}

// Pipeline builds tracer providers that record spans in memory.
type Pipeline struct {
	Recorder *tracetest.SpanRecorder
	Err      error
	builds   atomic.Int32
}

// NewPipeline creates a recording pipeline.
func NewPipeline() *Pipeline {
	return &Pipeline{Recorder: tracetest.NewSpanRecorder()}
}

// Build matches tracing.PipelineFactory.
func (p *Pipeline) Build(_ context.Context, _ collector.Endpoint) (*sdktrace.TracerProvider, error) {
	p.builds.Add(1)
	if p.Err != nil {
		return nil, p.Err
	}
	return sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(p.Recorder)), nil
}

// Builds reports how many providers were constructed.
func (p *Pipeline) Builds() int {
	return int(p.builds.Load())
}

// Ended returns the spans ended so far, oldest first.
func (p *Pipeline) Ended() []sdktrace.ReadOnlySpan {
	return p.Recorder.Ended()
}

// SpanNamed returns the first ended span called name.
func (p *Pipeline) SpanNamed(t testing.TB, name string) sdktrace.ReadOnlySpan {
	t.Helper()
	for _, s := range p.Recorder.Ended() {
		if s.Name() == name {
			return s
		}
	}
	t.Fatalf("no ended span named %q", name)
	return nil
}

// NewMetrics returns metrics on a private registry.
func NewMetrics() (*monitoring.Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return monitoring.NewMetrics(reg), reg
}
