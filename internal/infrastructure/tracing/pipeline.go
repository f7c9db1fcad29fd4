package tracing

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	lambdadetector "go.opentelemetry.io/contrib/detectors/aws/lambda"
	"go.opentelemetry.io/contrib/propagators/aws/xray"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/GriffinCanCode/tracedlambda/internal/infrastructure/collector"
	"github.com/GriffinCanCode/tracedlambda/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/tracedlambda/internal/infrastructure/resilience"
)

// PipelineConfig configures the exporting tracer provider.
type PipelineConfig struct {
	ServiceName    string
	ServiceVersion string
	SampleRatio    float64
	// SyncExport selects the simple span processor, which exports every span
	// as it ends. Lambda freezes the sandbox between invocations, so batched
	// spans may never leave the process.
	SyncExport    bool
	ExportTimeout time.Duration
	UserAgent     string
	Breaker       resilience.Settings
}

// DefaultPipelineConfig returns settings suited to a Lambda function.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		ServiceName:    "traced-lambda",
		ServiceVersion: "dev",
		SampleRatio:    1,
		SyncExport:     true,
		ExportTimeout:  3 * time.Second,
		UserAgent:      "traced-lambda",
	}
}

// OTLPPipeline builds tracer providers exporting over OTLP/gRPC and keeps
// the export guard of the last one built for health reporting.
type OTLPPipeline struct {
	cfg     PipelineConfig
	logger  *zap.Logger
	metrics *monitoring.Metrics
	guard   atomic.Pointer[GuardedExporter]
}

// NewOTLPPipeline routes OpenTelemetry's internal errors to logger.
func NewOTLPPipeline(cfg PipelineConfig, logger *zap.Logger, metrics *monitoring.Metrics) *OTLPPipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("otel")
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		log.Warn("OpenTelemetry error", zap.Error(err))
	}))

	return &OTLPPipeline{cfg: cfg, logger: logger, metrics: metrics}
}

// Build satisfies PipelineFactory.
func (p *OTLPPipeline) Build(ctx context.Context, endpoint collector.Endpoint) (*sdktrace.TracerProvider, error) {
	cfg := p.cfg
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(endpoint.String()),
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithDialOption(grpc.WithUserAgent(cfg.UserAgent)),
	}
	if cfg.ExportTimeout > 0 {
		opts = append(opts, otlptracegrpc.WithTimeout(cfg.ExportTimeout))
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	res, err := NewResource(ctx, cfg)
	if err != nil {
		_ = exporter.Shutdown(ctx)
		return nil, err
	}

	guarded := NewGuardedExporter(exporter, cfg.Breaker, p.logger, p.metrics)
	p.guard.Store(guarded)
	return NewProvider(guarded, res, cfg), nil
}

// ExportState reports the export breaker state, or "" before any pipeline
// has been built.
func (p *OTLPPipeline) ExportState() string {
	g := p.guard.Load()
	if g == nil {
		return ""
	}
	return g.BreakerState().String()
}

// NewProvider assembles a tracer provider around exporter.
func NewProvider(exporter sdktrace.SpanExporter, res *resource.Resource, cfg PipelineConfig) *sdktrace.TracerProvider {
	var processor sdktrace.SpanProcessor
	if cfg.SyncExport {
		processor = sdktrace.NewSimpleSpanProcessor(exporter)
	} else {
		processor = sdktrace.NewBatchSpanProcessor(exporter)
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(processor),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(rootSampler(cfg.SampleRatio))),
		sdktrace.WithIDGenerator(xray.NewIDGenerator()),
	)
}

// rootSampler clamps ratio to [0,1]; 0 records nothing and 1 records
// every root span.
func rootSampler(ratio float64) sdktrace.Sampler {
	switch {
	case ratio <= 0:
		return sdktrace.NeverSample()
	case ratio >= 1:
		return sdktrace.AlwaysSample()
	default:
		return sdktrace.TraceIDRatioBased(ratio)
	}
}

// NewResource describes this service. Lambda attributes are added when the
// runtime environment is present.
func NewResource(ctx context.Context, cfg PipelineConfig) (*resource.Resource, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}

	if _, ok := os.LookupEnv("AWS_LAMBDA_FUNCTION_NAME"); !ok {
		return res, nil
	}

	detected, err := lambdadetector.NewResourceDetector().Detect(ctx)
	if err != nil {
		return res, nil
	}
	// Schema URLs differ between the SDK and the detector; keep attributes only.
	merged, err := resource.Merge(res, resource.NewSchemaless(detected.Attributes()...))
	if err != nil {
		return res, nil
	}
	return merged, nil
}

// GuardedExporter puts a circuit breaker in front of an exporter so an
// unreachable collector costs one export timeout per breaker window instead
// of one per span.
type GuardedExporter struct {
	next    sdktrace.SpanExporter
	breaker *resilience.Breaker
	logger  *zap.Logger
	metrics *monitoring.Metrics
}

// NewGuardedExporter wraps next.
func NewGuardedExporter(next sdktrace.SpanExporter, settings resilience.Settings, logger *zap.Logger, metrics *monitoring.Metrics) *GuardedExporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &GuardedExporter{next: next, logger: logger, metrics: metrics}
	onChange := settings.OnStateChange
	settings.OnStateChange = func(name string, from, to resilience.State) {
		logger.Info("Export breaker state changed",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
		if onChange != nil {
			onChange(name, from, to)
		}
	}
	g.breaker = resilience.New("span-export", settings)
	return g
}

// ExportSpans exports through the breaker. Spans refused by an open breaker
// are dropped and counted; that is not reported as an error.
func (g *GuardedExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	err := g.breaker.Do(ctx, func(ctx context.Context) error {
		return g.next.ExportSpans(ctx, spans)
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, resilience.ErrRejected):
		g.metrics.SpansDroppedAdd(len(spans))
		g.logger.Debug("Spans dropped while collector is unavailable",
			zap.Int("spans", len(spans)),
			zap.Error(err),
		)
		return nil
	default:
		g.metrics.SpansDroppedAdd(len(spans))
		return fmt.Errorf("export %d spans: %w", len(spans), err)
	}
}

// Shutdown stops the wrapped exporter.
func (g *GuardedExporter) Shutdown(ctx context.Context) error {
	return g.next.Shutdown(ctx)
}

// BreakerState exposes the breaker state for health reporting.
func (g *GuardedExporter) BreakerState() resilience.State {
	return g.breaker.State()
}
