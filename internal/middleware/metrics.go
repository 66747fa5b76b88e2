package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/gridkit/internal/service"
)

// unmatchedRoute labels requests no route matched, keeping raw URLs out of
// metric labels.
const unmatchedRoute = "unmatched"

// Metrics records every request against its route template.
func Metrics(metricsSvc *service.MetricsService) gin.HandlerFunc {
	if metricsSvc == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
