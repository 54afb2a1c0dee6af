package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ecosense/enviro-api/internal/service"
)

// Metrics records per-request duration and count, labelled by the
// matched route template so path parameters do not explode cardinality.
func Metrics(metricsSvc *service.MetricsService) gin.HandlerFunc {
	if metricsSvc == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		route := c.FullPath()
		switch route {
		case "":
			route = "unmatched"
		case "/metrics":
			// Scrapes are not pipeline traffic.
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		metricsSvc.ObserveHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
