package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthFunc reports component status for /health.
type HealthFunc func() gin.H

// RegisterSystem mounts the untraced /health and /metrics endpoints.
func RegisterSystem(engine *gin.Engine, health HealthFunc, gatherer prometheus.Gatherer) {
	engine.GET("/health", func(c *gin.Context) {
		body := gin.H{"status": "healthy"}
		if health != nil {
			for k, v := range health() {
				body[k] = v
			}
		}
		c.JSON(http.StatusOK, body)
	})

	if gatherer != nil {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
}
