package tracing

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

// Propagation extracts an incoming trace context from request headers so
// route spans join the caller's trace. Requests whose context already holds
// a span, as adapter-dispatched ones do, are left alone.
func Propagation(prop propagation.TextMapPropagator) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := Extract(c.Request.Context(), prop, c.Request.Header)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// AwaitReady holds each request until the bootstrap settles. A failed
// bootstrap lets requests through untraced; a request whose context ends
// first gets 503.
func AwaitReady(b *Bootstrap, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		if _, err := b.EnsureReady(c.Request.Context()); err != nil {
			logger.Warn("Request abandoned before tracing settled",
				zap.String("path", c.Request.URL.Path),
				zap.Error(err),
			)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": "service starting",
			})
			return
		}
		c.Next()
	}
}
