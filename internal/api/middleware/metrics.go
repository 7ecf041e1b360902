// Package middleware provides Gin middleware for the direct server.
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/proxypilot/copilot-proxy/internal/metrics"
)

// PrometheusMiddleware records request count and duration for every request
// except scrapes of the metrics endpoint itself.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !metrics.Enabled() || c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		metrics.ObserveHTTP(c.Request.Method, c.Writer.Status(), time.Since(start))
	}
}
