package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vietlearn/class-access-api/internal/service"
)

// Metrics returns middleware that captures request metrics using the provided service.
// Scrapes and probes are left out so the request series reflects API traffic.
func Metrics(metricsSvc *service.MetricsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if metricsSvc == nil || isOperational(c.Request.URL.Path) {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		duration := time.Since(start)
		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, path, status, duration)
	}
}

func isOperational(path string) bool {
	switch path {
	case "/metrics", "/health", "/ready":
		return true
	}
	return false
}
