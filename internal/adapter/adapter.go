package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/aws/aws-lambda-go/lambdacontext"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/tracedlambda/internal/api/middleware"
	"github.com/GriffinCanCode/tracedlambda/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/tracedlambda/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/tracedlambda/internal/shared/id"
)

// SpanName names the span opened around every invocation.
const SpanName = "invocation"

// Readiness is the part of the trace bootstrap an invocation needs.
// *tracing.Bootstrap implements it.
type Readiness interface {
	EnsureReady(ctx context.Context) (tracing.Outcome, error)
	Flush(ctx context.Context) error
}

// Options configures an Adapter.
type Options struct {
	Bootstrap    Readiness
	Scope        *tracing.Scope
	Propagator   propagation.TextMapPropagator
	FlushTimeout time.Duration
	Logger       *zap.Logger
	Metrics      *monitoring.Metrics
}

// Adapter turns Lambda HTTP invocations into requests on an http.Handler.
type Adapter struct {
	handler      http.Handler
	boot         Readiness
	scope        *tracing.Scope
	propagator   propagation.TextMapPropagator
	flushTimeout time.Duration
	logger       *zap.Logger
	metrics      *monitoring.Metrics
	cold         atomic.Bool
}

// New creates an adapter dispatching into handler.
func New(handler http.Handler, opts Options) *Adapter {
	if opts.Scope == nil {
		opts.Scope = tracing.NewScope(nil, nil)
	}
	if opts.Propagator == nil {
		opts.Propagator = tracing.NewPropagator()
	}
	if opts.FlushTimeout <= 0 {
		opts.FlushTimeout = 2 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	a := &Adapter{
		handler:      handler,
		boot:         opts.Bootstrap,
		scope:        opts.Scope,
		propagator:   opts.Propagator,
		flushTimeout: opts.FlushTimeout,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
	}
	a.cold.Store(true)
	return a
}

// errServerFault marks the invocation span failed without discarding the
// reply the handler produced.
var errServerFault = errors.New("handler replied with a server error")

// Handle serves one invocation. It waits for the trace bootstrap to settle
// before dispatching, so no request is served ahead of tracing. A failed
// bootstrap is not an invocation error; the request is then served untraced.
func (a *Adapter) Handle(ctx context.Context, payload json.RawMessage) (any, error) {
	start := time.Now()
	cold := a.cold.CompareAndSwap(true, false)

	if a.boot != nil {
		outcome, err := a.boot.EnsureReady(ctx)
		if err != nil {
			a.metrics.RecordInvocation("error", time.Since(start), cold)
			return nil, fmt.Errorf("await trace bootstrap: %w", err)
		}
		if cold {
			a.logger.Info("Cold start",
				zap.String("tracing", outcome.State.String()),
				zap.String("collector", outcome.Endpoint.String()),
				zap.Duration("bootstrap", outcome.Elapsed),
			)
		}
	}

	ev, err := decodeEvent(payload)
	if err != nil {
		a.metrics.RecordInvocation("unsupported", time.Since(start), cold)
		return nil, err
	}

	req, err := ev.Request(ctx)
	if err != nil {
		a.metrics.RecordInvocation("error", time.Since(start), cold)
		return nil, err
	}

	invocationID := invocationIDFrom(ctx)
	if req.Header.Get(middleware.RequestIDHeader) == "" {
		req.Header.Set(middleware.RequestIDHeader, invocationID)
	}

	parent := tracing.Extract(ctx, a.propagator, req.Header)
	res := newResponseBuffer()

	reply, err := tracing.Run(parent, a.scope, SpanName, func(ctx context.Context, span *tracing.Active) (any, error) {
		a.handler.ServeHTTP(res, req.WithContext(ctx))
		span.SetAttributes(semconv.HTTPResponseStatusCode(res.status))
		reply := ev.Reply(res)
		if res.status >= http.StatusInternalServerError {
			return reply, errServerFault
		}
		return reply, nil
	},
		tracing.WithSpanKind(trace.SpanKindServer),
		tracing.WithAttributes(
			semconv.FaaSInvocationID(invocationID),
			semconv.FaaSColdstart(cold),
			semconv.FaaSTriggerHTTP,
			semconv.HTTPRequestMethodKey.String(req.Method),
			semconv.URLPath(req.URL.Path),
			attribute.String("lambda.event.format", ev.Format()),
		),
	)
	if err != nil && !errors.Is(err, errServerFault) {
		a.metrics.RecordInvocation("error", time.Since(start), cold)
		return nil, err
	}

	a.flush(ctx)
	a.metrics.RecordInvocation(monitoring.StatusClass(res.status), time.Since(start), cold)
	return reply, nil
}

// flush exports the invocation's spans before Lambda freezes the sandbox.
func (a *Adapter) flush(ctx context.Context) {
	if a.boot == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.flushTimeout)
	defer cancel()

	if err := a.boot.Flush(ctx); err != nil {
		a.logger.Warn("Span flush failed", zap.Error(err))
	}
}

func invocationIDFrom(ctx context.Context) string {
	if lc, ok := lambdacontext.FromContext(ctx); ok && lc.AwsRequestID != "" {
		return lc.AwsRequestID
	}
	return id.NewInvocationID().String()
}
