package tracing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/tracedlambda/internal/infrastructure/collector"
	"github.com/GriffinCanCode/tracedlambda/internal/infrastructure/monitoring"
)

// State is the bootstrap lifecycle state.
type State int32

const (
	StateNotStarted State = iota
	StateInProgress
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateInProgress:
		return "in_progress"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Settled reports whether s is terminal.
func (s State) Settled() bool {
	return s == StateReady || s == StateFailed
}

// ErrDisabled is the failure reason when tracing is switched off.
var ErrDisabled = errors.New("tracing disabled by configuration")

// BootstrapError records which stage of pipeline setup failed.
type BootstrapError struct {
	Stage string
	Err   error
}

func (e *BootstrapError) Error() string {
	return fmt.Sprintf("trace bootstrap failed at %s: %v", e.Stage, e.Err)
}

func (e *BootstrapError) Unwrap() error {
	return e.Err
}

// EndpointResolver finds the collector. *collector.Resolver implements it.
type EndpointResolver interface {
	Resolve(ctx context.Context) (collector.Resolution, error)
}

// PipelineFactory constructs and starts a tracer provider exporting to
// endpoint.
type PipelineFactory func(ctx context.Context, endpoint collector.Endpoint) (*sdktrace.TracerProvider, error)

// Outcome is the settled result of a bootstrap, shared by every caller.
type Outcome struct {
	State    State
	Endpoint collector.Endpoint
	Source   string
	Err      error
	Elapsed  time.Duration
}

// Ready reports whether tracing is attached.
func (o Outcome) Ready() bool {
	return o.State == StateReady
}

// BootstrapConfig configures a Bootstrap.
type BootstrapConfig struct {
	Enabled bool
	// Timeout bounds the whole setup, independent of any caller
	Timeout time.Duration
}

// Bootstrap owns the process-wide trace pipeline. The pipeline is built at
// most once; every EnsureReady caller, including ones that arrive while
// construction is running, observes the same Outcome.
type Bootstrap struct {
	cfg      BootstrapConfig
	resolver EndpointResolver
	factory  PipelineFactory
	logger   *zap.Logger
	metrics  *monitoring.Metrics

	start    sync.Once
	done     chan struct{}
	state    atomic.Int32
	outcome  Outcome
	provider *sdktrace.TracerProvider
	fallback trace.TracerProvider
}

// NewBootstrap creates a bootstrap in the NotStarted state.
func NewBootstrap(cfg BootstrapConfig, resolver EndpointResolver, factory PipelineFactory, logger *zap.Logger, metrics *monitoring.Metrics) *Bootstrap {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	b := &Bootstrap{
		cfg:      cfg,
		resolver: resolver,
		factory:  factory,
		logger:   logger,
		metrics:  metrics,
		done:     make(chan struct{}),
		fallback: noop.NewTracerProvider(),
	}
	metrics.SetBootstrapState(int(StateNotStarted))
	return b
}

// Start begins construction if it has not begun and returns immediately.
func (b *Bootstrap) Start() {
	b.start.Do(func() {
		b.setState(StateInProgress)
		go b.construct()
	})
}

// EnsureReady starts construction if needed and waits for the outcome. The
// error is non-nil only when ctx ends before the bootstrap settles; a failed
// bootstrap is reported through Outcome.Err.
func (b *Bootstrap) EnsureReady(ctx context.Context) (Outcome, error) {
	b.Start()

	// a settled outcome wins over an expired ctx
	select {
	case <-b.done:
		return b.outcome, nil
	default:
	}

	select {
	case <-b.done:
		return b.outcome, nil
	case <-ctx.Done():
		return Outcome{State: b.State()}, ctx.Err()
	}
}

// Done is closed once the bootstrap has settled.
func (b *Bootstrap) Done() <-chan struct{} {
	return b.done
}

// State returns the current state without waiting.
func (b *Bootstrap) State() State {
	return State(b.state.Load())
}

// Tracer returns a tracer from the pipeline when Ready and a noop tracer
// otherwise, so spans degrade to no-ops when setup failed.
func (b *Bootstrap) Tracer(name string, opts ...trace.TracerOption) trace.Tracer {
	if b.State() == StateReady {
		return b.provider.Tracer(name, opts...)
	}
	return b.fallback.Tracer(name, opts...)
}

// Flush exports buffered spans. It is a no-op unless Ready.
func (b *Bootstrap) Flush(ctx context.Context) error {
	if b.State() != StateReady {
		return nil
	}
	return b.provider.ForceFlush(ctx)
}

// Shutdown flushes and stops the pipeline. It is a no-op unless Ready.
func (b *Bootstrap) Shutdown(ctx context.Context) error {
	if b.State() != StateReady {
		return nil
	}
	return b.provider.Shutdown(ctx)
}

func (b *Bootstrap) construct() {
	start := time.Now()
	outcome := Outcome{State: StateFailed}

	defer func() {
		if r := recover(); r != nil {
			outcome = Outcome{State: StateFailed, Err: &BootstrapError{Stage: "panic", Err: fmt.Errorf("%v", r)}}
		}
		outcome.Elapsed = time.Since(start)
		b.settle(outcome)
	}()

	if !b.cfg.Enabled {
		outcome.Err = ErrDisabled
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.Timeout)
	defer cancel()

	res, err := b.resolver.Resolve(ctx)
	if err != nil {
		outcome.Err = &BootstrapError{Stage: "resolve", Err: err}
		return
	}
	outcome.Endpoint = res.Endpoint
	outcome.Source = res.Source

	provider, err := b.factory(ctx, res.Endpoint)
	if err != nil {
		outcome.Err = &BootstrapError{Stage: "pipeline", Err: err}
		return
	}
	if provider == nil {
		outcome.Err = &BootstrapError{Stage: "pipeline", Err: errors.New("factory returned no provider")}
		return
	}

	b.provider = provider
	outcome.State = StateReady
}

// settle publishes the outcome exactly once. The provider and outcome are
// written before the state store and the channel close, so readers that
// observe either see them.
func (b *Bootstrap) settle(outcome Outcome) {
	b.outcome = outcome
	b.setState(outcome.State)
	close(b.done)

	if !errors.Is(outcome.Err, ErrDisabled) {
		b.metrics.RecordBootstrap(outcome.Elapsed)
	}

	if outcome.Ready() {
		b.logger.Info("Tracing ready",
			zap.String("endpoint", outcome.Endpoint.String()),
			zap.String("source", outcome.Source),
			zap.Duration("elapsed", outcome.Elapsed),
		)
		return
	}
	b.logger.Warn("Tracing unavailable, serving untraced",
		zap.Error(outcome.Err),
		zap.Duration("elapsed", outcome.Elapsed),
	)
}

func (b *Bootstrap) setState(s State) {
	b.state.Store(int32(s))
	b.metrics.SetBootstrapState(int(s))
}
