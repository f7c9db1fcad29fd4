package adapter

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apihttp "github.com/GriffinCanCode/tracedlambda/internal/api/http"
	"github.com/GriffinCanCode/tracedlambda/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/tracedlambda/internal/infrastructure/tracing"
	tu "github.com/GriffinCanCode/tracedlambda/internal/testutil"
)

type fixture struct {
	adapter  *Adapter
	boot     *tracing.Bootstrap
	resolver *tu.Resolver
	pipeline *tu.Pipeline
	metrics  *monitoring.Metrics
	served   *atomic.Int32
}

func newFixture(t *testing.T, resolver *tu.Resolver) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	pipeline := tu.NewPipeline()
	metrics, _ := tu.NewMetrics()
	boot := tracing.NewBootstrap(tracing.BootstrapConfig{Enabled: true, Timeout: time.Second},
		resolver, pipeline.Build, nil, metrics)
	scope := tracing.NewScope(boot, metrics)

	table, err := apihttp.DefaultTable()
	require.NoError(t, err)
	router, err := apihttp.NewRouter(table, apihttp.Options{Scope: scope, SlowDelay: 30 * time.Millisecond})
	require.NoError(t, err)

	served := &atomic.Int32{}
	engine := gin.New()
	engine.Use(func(c *gin.Context) {
		served.Add(1)
		c.Next()
	})
	engine.GET("/echo", func(c *gin.Context) {
		body, _ := io.ReadAll(c.Request.Body)
		c.JSON(http.StatusOK, gin.H{
			"query":  c.Request.URL.Query(),
			"accept": c.Request.Header.Values("Accept"),
			"cookie": c.GetHeader("Cookie"),
			"body":   string(body),
			"rid":    c.GetHeader("X-Request-ID"),
			"remote": c.ClientIP(),
		})
	})
	engine.GET("/files/*name", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"path":    c.Request.URL.Path,
			"escaped": c.Request.URL.EscapedPath(),
			"uri":     c.Request.RequestURI,
			"name":    c.Param("name"),
		})
	})
	engine.GET("/pixel", func(c *gin.Context) {
		c.Writer.Header().Add("Set-Cookie", "a=1")
		c.Writer.Header().Add("Set-Cookie", "b=2")
		c.Data(http.StatusOK, "", pngBytes)
	})
	router.Mount(engine, tracing.AwaitReady(boot, nil), tracing.Propagation(tracing.NewPropagator()))

	a := New(engine, Options{Bootstrap: boot, Scope: scope, Metrics: metrics})
	return &fixture{adapter: a, boot: boot, resolver: resolver, pipeline: pipeline, metrics: metrics, served: served}
}

var pngBytes = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R', 0xff, 0x00}

func v2Payload(t *testing.T, method, path string, mutate func(*events.APIGatewayV2HTTPRequest)) json.RawMessage {
	t.Helper()
	ev := events.APIGatewayV2HTTPRequest{
		Version: "2.0",
		RawPath: path,
		Headers: map[string]string{"accept": "application/json"},
	}
	ev.RequestContext.HTTP.Method = method
	ev.RequestContext.HTTP.Path = path
	ev.RequestContext.HTTP.SourceIP = "203.0.113.7"
	ev.RequestContext.DomainName = "abc.lambda-url.ap-southeast-1.on.aws"
	if mutate != nil {
		mutate(&ev)
	}
	raw, err := json.Marshal(ev)
	require.NoError(t, err)
	return raw
}

func v1Payload(t *testing.T, method, path string, mutate func(*events.APIGatewayProxyRequest)) json.RawMessage {
	t.Helper()
	ev := events.APIGatewayProxyRequest{
		HTTPMethod: method,
		Path:       path,
		Headers:    map[string]string{"Accept": "application/json"},
	}
	ev.RequestContext.Identity.SourceIP = "198.51.100.4"
	if mutate != nil {
		mutate(&ev)
	}
	raw, err := json.Marshal(ev)
	require.NoError(t, err)
	return raw
}

func bodyOf(t *testing.T, body string) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &out))
	return out
}

func TestHandleV2TraceRoute(t *testing.T) {
	f := newFixture(t, tu.NewResolver())

	out, err := f.adapter.Handle(context.Background(), v2Payload(t, "GET", "/trace", nil))
	require.NoError(t, err)

	reply, ok := out.(events.APIGatewayV2HTTPResponse)
	require.True(t, ok)
	assert.Equal(t, http.StatusOK, reply.StatusCode)
	assert.False(t, reply.IsBase64Encoded)

	body := bodyOf(t, reply.Body)
	assert.Equal(t, "This route is traced with OpenTelemetry.", body["message"])
	assert.Equal(t, body["traceId"], reply.Headers["X-Trace-Id"])

	invocation := f.pipeline.SpanNamed(t, SpanName)
	route := f.pipeline.SpanNamed(t, "trace-route")
	assert.Equal(t, trace.SpanKindServer, invocation.SpanKind())
	assert.Equal(t, trace.SpanKindInternal, route.SpanKind())
	assert.Equal(t, invocation.SpanContext().SpanID(), route.Parent().SpanID())
	assert.Equal(t, body["traceId"], invocation.SpanContext().TraceID().String())
	assert.Contains(t, invocation.Attributes(), attribute.Bool("faas.coldstart", true))
	assert.Contains(t, invocation.Attributes(), attribute.String("faas.trigger", "http"))
}

func TestHandleV1ErrorRoute(t *testing.T) {
	f := newFixture(t, tu.NewResolver())

	out, err := f.adapter.Handle(context.Background(), v1Payload(t, "GET", "/error", nil))
	require.NoError(t, err)

	reply, ok := out.(events.APIGatewayProxyResponse)
	require.True(t, ok)
	assert.Equal(t, http.StatusInternalServerError, reply.StatusCode)
	assert.Equal(t, "This is a test error", bodyOf(t, reply.Body)["error"])
	assert.Equal(t, []string{"application/json; charset=utf-8"}, reply.MultiValueHeaders["Content-Type"])

	assert.Equal(t, codes.Error, f.pipeline.SpanNamed(t, "error-operation").Status().Code)
	assert.Equal(t, codes.Error, f.pipeline.SpanNamed(t, SpanName).Status().Code)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Invocations.WithLabelValues("5xx")))
}

func TestHandleNotFound(t *testing.T) {
	f := newFixture(t, tu.NewResolver())

	out, err := f.adapter.Handle(context.Background(), v2Payload(t, "POST", "/nowhere", nil))
	require.NoError(t, err)

	reply := out.(events.APIGatewayV2HTTPResponse)
	assert.Equal(t, http.StatusNotFound, reply.StatusCode)
	assert.JSONEq(t, `{"error":"route not found"}`, reply.Body)
}

func TestHandleWaitsForBootstrap(t *testing.T) {
	f := newFixture(t, tu.NewGatedResolver())

	type result struct {
		out any
		err error
	}
	payload := v2Payload(t, "GET", "/", nil)
	results := make(chan result, 2)
	for i := 0; i < 2; i++ {
		go func() {
			out, err := f.adapter.Handle(context.Background(), payload)
			results <- result{out, err}
		}()
	}

	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, f.served.Load(), "dispatched before tracing settled")
	assert.Equal(t, tracing.StateInProgress, f.boot.State())

	f.resolver.Release()
	for i := 0; i < 2; i++ {
		select {
		case r := <-results:
			require.NoError(t, r.err)
			assert.Equal(t, http.StatusOK, r.out.(events.APIGatewayV2HTTPResponse).StatusCode)
		case <-time.After(time.Second):
			t.Fatal("invocation never completed")
		}
	}

	assert.Equal(t, 1, f.resolver.Calls())
	assert.Equal(t, 1, f.pipeline.Builds())
	assert.Len(t, f.pipeline.Ended(), 4)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.ColdStarts))
}

func TestHandleDeadlineBeforeBootstrap(t *testing.T) {
	f := newFixture(t, tu.NewGatedResolver())
	defer f.resolver.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := f.adapter.Handle(ctx, v2Payload(t, "GET", "/", nil))

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, f.served.Load())
}

func TestHandleServesUntracedWhenBootstrapFails(t *testing.T) {
	resolver := tu.NewResolver()
	resolver.Err = errors.New("no collector anywhere")
	f := newFixture(t, resolver)

	out, err := f.adapter.Handle(context.Background(), v2Payload(t, "GET", "/", nil))
	require.NoError(t, err)

	reply := out.(events.APIGatewayV2HTTPResponse)
	assert.Equal(t, http.StatusOK, reply.StatusCode)
	assert.Equal(t, "Hello, World!", bodyOf(t, reply.Body)["message"])
	assert.Empty(t, reply.Headers["X-Trace-Id"])
	assert.Zero(t, f.pipeline.Builds())
	assert.Equal(t, tracing.StateFailed, f.boot.State())
}

func TestHandleUnsupportedEvent(t *testing.T) {
	f := newFixture(t, tu.NewResolver())

	for _, payload := range []string{
		`{"Records":[{"eventSource":"aws:sqs"}]}`,
		`{"version":"2.0","routeKey":"$default"}`,
		`[]`,
	} {
		_, err := f.adapter.Handle(context.Background(), json.RawMessage(payload))
		assert.ErrorIs(t, err, ErrUnsupportedEvent, payload)
	}
	assert.Zero(t, f.served.Load())
}

func TestHandleContinuesIncomingTrace(t *testing.T) {
	f := newFixture(t, tu.NewResolver())

	payload := v2Payload(t, "GET", "/trace", func(ev *events.APIGatewayV2HTTPRequest) {
		ev.Headers["traceparent"] = "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"
	})
	out, err := f.adapter.Handle(context.Background(), payload)
	require.NoError(t, err)

	reply := out.(events.APIGatewayV2HTTPResponse)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", bodyOf(t, reply.Body)["traceId"])
	invocation := f.pipeline.SpanNamed(t, SpanName)
	assert.Equal(t, "00f067aa0ba902b7", invocation.Parent().SpanID().String())
}

func TestRequestTranslationV2(t *testing.T) {
	f := newFixture(t, tu.NewResolver())

	payload := v2Payload(t, "GET", "/echo", func(ev *events.APIGatewayV2HTTPRequest) {
		ev.RawQueryString = "a=1&a=2&b=x"
		ev.Cookies = []string{"session=abc", "theme=dark"}
		ev.Body = base64.StdEncoding.EncodeToString([]byte("raw bytes"))
		ev.IsBase64Encoded = true
	})
	ctx := lambdacontext.NewContext(context.Background(), &lambdacontext.LambdaContext{AwsRequestID: "req-123"})

	out, err := f.adapter.Handle(ctx, payload)
	require.NoError(t, err)

	body := bodyOf(t, out.(events.APIGatewayV2HTTPResponse).Body)
	assert.Equal(t, map[string]any{"a": []any{"1", "2"}, "b": []any{"x"}}, body["query"])
	assert.Equal(t, []any{"application/json"}, body["accept"])
	assert.Equal(t, "session=abc; theme=dark", body["cookie"])
	assert.Equal(t, "raw bytes", body["body"])
	assert.Equal(t, "req-123", body["rid"])
	assert.Equal(t, "203.0.113.7", body["remote"])

	assert.Contains(t, f.pipeline.SpanNamed(t, SpanName).Attributes(), attribute.String("faas.invocation_id", "req-123"))
}

func TestRequestTranslationV1(t *testing.T) {
	f := newFixture(t, tu.NewResolver())

	payload := v1Payload(t, "GET", "/echo", func(ev *events.APIGatewayProxyRequest) {
		ev.MultiValueQueryStringParameters = map[string][]string{"a": {"1", "2"}}
		ev.MultiValueHeaders = map[string][]string{"Accept": {"text/html", "application/json"}}
		ev.Body = "plain"
	})

	out, err := f.adapter.Handle(context.Background(), payload)
	require.NoError(t, err)

	body := bodyOf(t, out.(events.APIGatewayProxyResponse).Body)
	assert.Equal(t, map[string]any{"a": []any{"1", "2"}}, body["query"])
	assert.Equal(t, []any{"text/html", "application/json"}, body["accept"])
	assert.Equal(t, "plain", body["body"])
	assert.Equal(t, "198.51.100.4", body["remote"])
}

func TestRequestPathKeptVerbatim(t *testing.T) {
	f := newFixture(t, tu.NewResolver())

	tests := []struct {
		name    string
		payload json.RawMessage
		reply   func(any) string
		path    string
		escaped string
		uri     string
	}{
		{
			name: "v2 raw path",
			payload: v2Payload(t, "GET", "/files/a%2Fb%20c", func(ev *events.APIGatewayV2HTTPRequest) {
				ev.RequestContext.HTTP.Path = "/files/a/b c"
				ev.RawQueryString = "q=%2F"
			}),
			reply:   func(out any) string { return out.(events.APIGatewayV2HTTPResponse).Body },
			path:    "/files/a/b c",
			escaped: "/files/a%2Fb%20c",
			uri:     "/files/a%2Fb%20c?q=%2F",
		},
		{
			name: "v2 decoded path only",
			payload: v2Payload(t, "GET", "", func(ev *events.APIGatewayV2HTTPRequest) {
				ev.RequestContext.HTTP.Path = "/files/a b"
			}),
			reply:   func(out any) string { return out.(events.APIGatewayV2HTTPResponse).Body },
			path:    "/files/a b",
			escaped: "/files/a%20b",
			uri:     "/files/a%20b",
		},
		{
			name:    "v1 decoded path",
			payload: v1Payload(t, "GET", "/files/a b", nil),
			reply:   func(out any) string { return out.(events.APIGatewayProxyResponse).Body },
			path:    "/files/a b",
			escaped: "/files/a%20b",
			uri:     "/files/a%20b",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := f.adapter.Handle(context.Background(), tt.payload)
			require.NoError(t, err)

			body := bodyOf(t, tt.reply(out))
			assert.Equal(t, tt.path, body["path"])
			assert.Equal(t, tt.escaped, body["escaped"])
			assert.Equal(t, tt.uri, body["uri"])
		})
	}
}

func TestReplyBinaryAndCookies(t *testing.T) {
	f := newFixture(t, tu.NewResolver())

	out, err := f.adapter.Handle(context.Background(), v2Payload(t, "GET", "/pixel", nil))
	require.NoError(t, err)
	v2 := out.(events.APIGatewayV2HTTPResponse)
	assert.True(t, v2.IsBase64Encoded)
	assert.Equal(t, base64.StdEncoding.EncodeToString(pngBytes), v2.Body)
	assert.Equal(t, []string{"a=1", "b=2"}, v2.Cookies)
	assert.NotContains(t, v2.Headers, "Set-Cookie")

	out, err = f.adapter.Handle(context.Background(), v1Payload(t, "GET", "/pixel", nil))
	require.NoError(t, err)
	v1 := out.(events.APIGatewayProxyResponse)
	assert.True(t, v1.IsBase64Encoded)
	assert.Equal(t, []string{"a=1", "b=2"}, v1.MultiValueHeaders["Set-Cookie"])
}

func TestColdStartOnlyOnce(t *testing.T) {
	f := newFixture(t, tu.NewResolver())

	for i := 0; i < 3; i++ {
		_, err := f.adapter.Handle(context.Background(), v2Payload(t, "GET", "/", nil))
		require.NoError(t, err)
	}

	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.ColdStarts))
	assert.Equal(t, float64(3), testutil.ToFloat64(f.metrics.Invocations.WithLabelValues("2xx")))

	var cold, warm int
	for _, s := range f.pipeline.Ended() {
		if s.Name() != SpanName {
			continue
		}
		if assert.ObjectsAreEqual(attribute.Bool("faas.coldstart", true), findAttr(s.Attributes(), "faas.coldstart")) {
			cold++
		} else {
			warm++
		}
	}
	assert.Equal(t, 1, cold)
	assert.Equal(t, 2, warm)
}

func findAttr(attrs []attribute.KeyValue, key attribute.Key) attribute.KeyValue {
	for _, kv := range attrs {
		if kv.Key == key {
			return kv
		}
	}
	return attribute.KeyValue{}
}
