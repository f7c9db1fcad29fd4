package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/tracedlambda/internal/adapter"
	apihttp "github.com/GriffinCanCode/tracedlambda/internal/api/http"
	"github.com/GriffinCanCode/tracedlambda/internal/api/middleware"
	"github.com/GriffinCanCode/tracedlambda/internal/infrastructure/blobstore"
	"github.com/GriffinCanCode/tracedlambda/internal/infrastructure/collector"
	"github.com/GriffinCanCode/tracedlambda/internal/infrastructure/config"
	"github.com/GriffinCanCode/tracedlambda/internal/infrastructure/logging"
	"github.com/GriffinCanCode/tracedlambda/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/tracedlambda/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/tracedlambda/internal/infrastructure/tracing"
)

const shutdownTimeout = 10 * time.Second

// Server wires configuration, tracing and routes together. One Server backs
// either the Lambda adapter or the local HTTP listener.
type Server struct {
	cfg       *config.Config
	logger    *logging.Logger
	registry  *prometheus.Registry
	metrics   *monitoring.Metrics
	bootstrap *tracing.Bootstrap
	engine    *gin.Engine
	adapter   *adapter.Adapter

	fetcher  blobstore.Fetcher
	resolver tracing.EndpointResolver
	factory  tracing.PipelineFactory
	pipeline *tracing.OTLPPipeline
}

// Option overrides a dependency, mostly for tests.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithRegistry sets the prometheus registry metrics are registered on.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) { s.registry = reg }
}

// WithFetcher replaces the S3 fetcher used to read the collector document.
func WithFetcher(f blobstore.Fetcher) Option {
	return func(s *Server) { s.fetcher = f }
}

// WithResolver replaces collector endpoint discovery entirely.
func WithResolver(r tracing.EndpointResolver) Option {
	return func(s *Server) { s.resolver = r }
}

// WithPipelineFactory replaces the OTLP pipeline.
func WithPipelineFactory(f tracing.PipelineFactory) Option {
	return func(s *Server) { s.factory = f }
}

// New builds a server. The only error is a malformed route table; telemetry
// problems degrade to untraced serving instead.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Server, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	s := &Server{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = logging.NewFromLevel(cfg.Logging.Level, cfg.Logging.Development)
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
		s.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	s.metrics = monitoring.NewMetrics(s.registry)

	if s.resolver == nil {
		s.resolver = s.newResolver(ctx)
	}
	if s.factory == nil {
		s.pipeline = tracing.NewOTLPPipeline(s.pipelineConfig(), s.logger.Component("pipeline"), s.metrics)
		s.factory = s.pipeline.Build
	}

	s.bootstrap = tracing.NewBootstrap(tracing.BootstrapConfig{
		Enabled: cfg.Tracing.Enabled,
		Timeout: cfg.Tracing.BootstrapTimeout,
	}, s.resolver, s.factory, s.logger.Component("bootstrap"), s.metrics)

	scope := tracing.NewScope(s.bootstrap, s.metrics)

	table, err := apihttp.DefaultTable()
	if err != nil {
		return nil, fmt.Errorf("load route table: %w", err)
	}
	router, err := apihttp.NewRouter(table, apihttp.Options{
		Scope:     scope,
		SlowDelay: cfg.Routes.SlowDelay,
		Timeout:   cfg.Routes.Timeout,
		Logger:    s.logger.Component("router"),
	})
	if err != nil {
		return nil, fmt.Errorf("build router: %w", err)
	}

	propagator := tracing.NewPropagator()
	s.engine = s.newEngine(router, propagator)

	s.adapter = adapter.New(s.engine, adapter.Options{
		Bootstrap:    s.bootstrap,
		Scope:        scope,
		Propagator:   propagator,
		FlushTimeout: cfg.Tracing.FlushTimeout,
		Logger:       s.logger.Component("adapter"),
		Metrics:      s.metrics,
	})

	s.logger.Info("Server initialized",
		zap.Int("routes", len(router.Routes())),
		zap.Bool("tracing_enabled", cfg.Tracing.Enabled),
	)
	return s, nil
}

func (s *Server) newEngine(router *apihttp.Router, propagator propagation.TextMapPropagator) *gin.Engine {
	engine := gin.New()
	engine.Use(middleware.Recovery(s.logger.Component("recovery")))
	engine.Use(middleware.RequestID())
	engine.Use(middleware.AccessLog(s.logger.Component("access")))
	engine.Use(monitoring.Middleware(s.metrics))
	engine.Use(middleware.CORS(middleware.DefaultCORSConfig()))

	if s.cfg.RateLimit.Enabled {
		s.logger.Info("Rate limiting enabled",
			zap.Int("rps", s.cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", s.cfg.RateLimit.Burst),
			zap.Bool("per_client", s.cfg.RateLimit.PerClient),
		)
		engine.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: float64(s.cfg.RateLimit.RequestsPerSecond),
			Burst:             s.cfg.RateLimit.Burst,
			PerClient:         s.cfg.RateLimit.PerClient,
			Logger:            s.logger.Component("ratelimit"),
		}))
	}

	apihttp.RegisterSystem(engine, s.health, s.registry)
	router.Mount(engine,
		tracing.AwaitReady(s.bootstrap, s.logger.Component("readiness")),
		tracing.Propagation(propagator),
	)
	return engine
}

// newResolver orders discovery: pinned address, OTLP environment variables,
// then the deployment outputs document in S3.
func (s *Server) newResolver(ctx context.Context) *collector.Resolver {
	cc := s.cfg.Collector

	fetcher := s.fetcher
	if fetcher == nil && cc.Bucket != "" {
		client, err := blobstore.NewS3Client(ctx, blobstore.S3Options{
			Region:   cc.S3Region,
			Endpoint: cc.S3Endpoint,
		}, s.logger.Component("s3"))
		if err != nil {
			s.logger.Warn("S3 unavailable, collector document will be skipped", zap.Error(err))
		} else {
			fetcher = blobstore.NewS3Fetcher(client, s.logger.Component("blobstore"))
		}
	}

	return collector.NewResolver(s.logger.Component("collector"), s.metrics,
		collector.StaticSource{Address: cc.Address, DefaultPort: cc.Port},
		collector.EnvSource{DefaultPort: cc.Port},
		collector.BlobSource{
			Fetcher:     fetcher,
			Location:    blobstore.Location{Bucket: cc.Bucket, Key: cc.Key},
			Fields:      cc.AddressFields,
			DefaultPort: cc.Port,
			Attempts:    cc.FetchAttempts,
		},
	)
}

func (s *Server) pipelineConfig() tracing.PipelineConfig {
	tc := s.cfg.Tracing
	return tracing.PipelineConfig{
		ServiceName:    tc.ServiceName,
		ServiceVersion: tc.ServiceVersion,
		SampleRatio:    tc.SampleRatio,
		SyncExport:     tc.SyncExport,
		ExportTimeout:  tc.ExportTimeout,
		UserAgent:      tc.ServiceName + "/" + tc.ServiceVersion,
		Breaker: resilience.Settings{
			Trials:    1,
			Threshold: 3,
			Cooldown:  30 * time.Second,
		},
	}
}

func (s *Server) health() gin.H {
	h := gin.H{"tracing": s.bootstrap.State().String()}
	if s.pipeline != nil {
		if state := s.pipeline.ExportState(); state != "" {
			h["export"] = state
		}
	}
	return h
}

// Handler returns the gin engine.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Adapter returns the Lambda invocation adapter.
func (s *Server) Adapter() *adapter.Adapter {
	return s.adapter
}

// Bootstrap returns the trace bootstrap.
func (s *Server) Bootstrap() *tracing.Bootstrap {
	return s.bootstrap
}

// Logger returns the server logger.
func (s *Server) Logger() *logging.Logger {
	return s.logger
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Server.Host, s.cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.bootstrap.Start()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen on %s: %w", addr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.logger.Info("Shutting down HTTP server")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Close flushes and stops the trace pipeline.
func (s *Server) Close(ctx context.Context) error {
	s.logger.Info("Shutting down server...")
	err := s.bootstrap.Shutdown(ctx)
	if err != nil {
		s.logger.Error("Trace pipeline shutdown failed", zap.Error(err))
	}
	_ = s.logger.Sync()
	return err
}
