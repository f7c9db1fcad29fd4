package tracing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/GriffinCanCode/tracedlambda/internal/infrastructure/monitoring"
)

// InstrumentationName names the tracer used for every span this module opens.
const InstrumentationName = "github.com/GriffinCanCode/tracedlambda"

var (
	// ErrTimeout is returned by Run when the body outlives WithTimeout.
	ErrTimeout = errors.New("span scope timed out")
	// ErrPanic wraps a panic recovered from a timed body.
	ErrPanic = errors.New("span body panicked")
)

// TracerSource hands out tracers. *Bootstrap and every trace.TracerProvider
// satisfy it.
type TracerSource interface {
	Tracer(name string, opts ...trace.TracerOption) trace.Tracer
}

// Scope opens spans whose lifetime is bound to a function call.
type Scope struct {
	source  TracerSource
	metrics *monitoring.Metrics
}

// NewScope creates a scope. A nil source yields noop spans.
func NewScope(source TracerSource, metrics *monitoring.Metrics) *Scope {
	if source == nil {
		source = noop.NewTracerProvider()
	}
	return &Scope{source: source, metrics: metrics}
}

func (s *Scope) tracer() trace.Tracer {
	return s.source.Tracer(InstrumentationName)
}

// Option adjusts a single Run.
type Option func(*runOptions)

type runOptions struct {
	timeout time.Duration
	kind    trace.SpanKind
	attrs   []attribute.KeyValue
	hooks   []func(*Active)
}

// WithTimeout bounds the body. On expiry the span ends with an error status
// and Run returns ErrTimeout; whatever the body returns later is discarded.
func WithTimeout(d time.Duration) Option {
	return func(o *runOptions) { o.timeout = d }
}

// WithSpanKind sets the span kind. The default is internal.
func WithSpanKind(kind trace.SpanKind) Option {
	return func(o *runOptions) { o.kind = kind }
}

// WithAttributes sets attributes at span start.
func WithAttributes(attrs ...attribute.KeyValue) Option {
	return func(o *runOptions) { o.attrs = append(o.attrs, attrs...) }
}

// WithStartHook runs fn after the span starts and before the body.
func WithStartHook(fn func(*Active)) Option {
	return func(o *runOptions) { o.hooks = append(o.hooks, fn) }
}

// Active is the body's handle on its span. It cannot end the span.
type Active struct {
	span    trace.Span
	metrics *monitoring.Metrics

	mu    sync.Mutex
	ended bool
	once  sync.Once
}

// TraceID returns the hex trace id, or "" when the span is not sampled into
// a valid context.
func (a *Active) TraceID() string {
	sc := a.span.SpanContext()
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// SpanID returns the hex span id, or "".
func (a *Active) SpanID() string {
	sc := a.span.SpanContext()
	if !sc.HasSpanID() {
		return ""
	}
	return sc.SpanID().String()
}

// SetAttributes annotates the span. Ignored once the span has ended.
func (a *Active) SetAttributes(attrs ...attribute.KeyValue) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ended {
		return
	}
	a.span.SetAttributes(attrs...)
}

// AddEvent records an event. Ignored once the span has ended.
func (a *Active) AddEvent(name string, attrs ...attribute.KeyValue) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ended {
		return
	}
	a.span.AddEvent(name, trace.WithAttributes(attrs...))
}

func (a *Active) end(err error) {
	a.once.Do(func() {
		a.mu.Lock()
		defer a.mu.Unlock()

		status := "ok"
		if err != nil {
			status = "error"
			a.span.RecordError(err)
			a.span.SetStatus(codes.Error, err.Error())
		}
		a.span.End()
		a.ended = true
		a.metrics.SpanEnded(status)
	})
}

// Run opens a span named name as a child of ctx, calls body with the child
// context, and ends the span exactly once however body exits. A returned
// error marks the span as failed. A panic marks it failed and is re-raised,
// except under WithTimeout where it is returned wrapped in ErrPanic.
func Run[T any](ctx context.Context, s *Scope, name string, body func(context.Context, *Active) (T, error), opts ...Option) (T, error) {
	o := runOptions{kind: trace.SpanKindInternal}
	for _, opt := range opts {
		opt(&o)
	}

	ctx, span := s.tracer().Start(ctx, name,
		trace.WithSpanKind(o.kind),
		trace.WithAttributes(o.attrs...),
	)
	s.metrics.SpanStarted()

	active := &Active{span: span, metrics: s.metrics}
	for _, hook := range o.hooks {
		hook(active)
	}

	if o.timeout > 0 {
		return runTimed(ctx, active, o.timeout, body)
	}
	return runInline(ctx, active, body)
}

func runInline[T any](ctx context.Context, a *Active, body func(context.Context, *Active) (T, error)) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			a.end(fmt.Errorf("%w: %v", ErrPanic, r))
			panic(r)
		}
	}()

	result, err = body(ctx, a)
	a.end(err)
	return result, err
}

type result[T any] struct {
	value T
	err   error
}

func runTimed[T any](ctx context.Context, a *Active, timeout time.Duration, body func(context.Context, *Active) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Buffered so a body finishing after the deadline never blocks.
	results := make(chan result[T], 1)
	go func() {
		var r result[T]
		defer func() {
			if p := recover(); p != nil {
				r = result[T]{err: fmt.Errorf("%w: %v", ErrPanic, p)}
			}
			results <- r
		}()
		r.value, r.err = body(ctx, a)
	}()

	select {
	case r := <-results:
		a.end(r.err)
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		err := ctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}
		a.end(err)
		return zero, err
	}
}
