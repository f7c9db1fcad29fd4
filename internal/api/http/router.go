package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/tracedlambda/internal/infrastructure/tracing"
)

// TraceHeader carries the trace id of the request's span back to the caller.
const TraceHeader = "X-Trace-ID"

// Options configures a Router.
type Options struct {
	Scope *tracing.Scope
	// SlowDelay is how long delay routes wait before replying
	SlowDelay time.Duration
	// Timeout bounds every traced route; zero disables it
	Timeout time.Duration
	Logger  *zap.Logger
}

type entry struct {
	route   Route
	handler Handler
}

// Router serves the traced route table.
type Router struct {
	entries []entry
	scope   *tracing.Scope
	timeout time.Duration
	logger  *zap.Logger
}

// NewRouter binds each route in table to its behavior.
func NewRouter(table *Table, opts Options) (*Router, error) {
	if table == nil {
		return nil, errors.New("route table is nil")
	}
	if err := table.Validate(); err != nil {
		return nil, err
	}
	if opts.Scope == nil {
		opts.Scope = tracing.NewScope(nil, nil)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.SlowDelay <= 0 {
		opts.SlowDelay = 2 * time.Second
	}

	r := &Router{
		scope:   opts.Scope,
		timeout: opts.Timeout,
		logger:  opts.Logger,
	}
	for _, route := range table.Routes {
		r.entries = append(r.entries, entry{route: route, handler: handlerFor(route, opts.SlowDelay)})
	}
	return r, nil
}

// Routes returns the bound routes in table order.
func (r *Router) Routes() []Route {
	routes := make([]Route, len(r.entries))
	for i, e := range r.entries {
		routes[i] = e.route
	}
	return routes
}

// Mount registers every traced route on engine behind middleware, and makes
// every unmatched method and path a 404.
func (r *Router) Mount(engine *gin.Engine, middleware ...gin.HandlerFunc) {
	group := engine.Group("/", middleware...)
	for _, e := range r.entries {
		group.Handle(e.route.Method, e.route.Path, r.serve(e))
	}
	engine.NoRoute(NotFound)
}

// NotFound replies 404 with a JSON error.
func NotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

func (r *Router) serve(e entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		// Under an invocation span the route span is a child, not a second
		// server span.
		kind := trace.SpanKindServer
		if trace.SpanContextFromContext(ctx).IsValid() && !trace.SpanContextFromContext(ctx).IsRemote() {
			kind = trace.SpanKindInternal
		}

		opts := []tracing.Option{
			tracing.WithSpanKind(kind),
			tracing.WithAttributes(
				semconv.HTTPRequestMethodKey.String(e.route.Method),
				semconv.HTTPRoute(e.route.Path),
				semconv.URLPath(c.Request.URL.Path),
			),
			tracing.WithStartHook(func(span *tracing.Active) {
				if id := span.TraceID(); id != "" {
					c.Header(TraceHeader, id)
				}
			}),
		}
		if r.timeout > 0 {
			opts = append(opts, tracing.WithTimeout(r.timeout))
		}

		reply, err := tracing.Run(ctx, r.scope, e.route.Span, func(ctx context.Context, span *tracing.Active) (Reply, error) {
			reply, err := e.handler(ctx, span)
			span.SetAttributes(semconv.HTTPResponseStatusCode(statusOf(reply, err)))
			return reply, err
		}, opts...)

		if err != nil {
			r.fail(c, e.route, err)
			return
		}
		c.JSON(reply.Status, reply)
	}
}

func (r *Router) fail(c *gin.Context, route Route, err error) {
	code := statusOf(Reply{}, err)
	traceID := c.Writer.Header().Get(TraceHeader)

	r.logger.Warn("Route failed",
		zap.String("route", route.Key()),
		zap.Int("status", code),
		zap.String("trace_id", traceID),
		zap.Error(err),
	)

	body := gin.H{"error": err.Error()}
	if errors.Is(err, tracing.ErrTimeout) {
		body["error"] = "request timed out"
	}
	if traceID != "" {
		body["traceId"] = traceID
	}
	c.JSON(code, body)
}

func statusOf(reply Reply, err error) int {
	var statusErr *StatusError
	switch {
	case err == nil:
		return reply.Status
	case errors.As(err, &statusErr):
		return statusErr.Code
	case errors.Is(err, tracing.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		// nginx's client-closed-request; nobody is listening anyway
		return 499
	default:
		return http.StatusInternalServerError
	}
}
