package middleware

import (
	"strconv"
	"time"

	"gembalance/internal/monitoring"

	"github.com/gin-gonic/gin"
)

// Metrics records request counts, latency, and in-flight gauge per request.
// Paths are labeled with the matched route pattern to keep cardinality low;
// unmatched proxy paths collapse into "proxy".
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		monitoring.HTTPInFlight.Inc()
		defer monitoring.HTTPInFlight.Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "proxy"
		}
		class := statusClass(c.Writer.Status())
		monitoring.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, class).Inc()
		monitoring.HTTPRequestDuration.WithLabelValues(c.Request.Method, path, class).Observe(time.Since(start).Seconds())
	}
}

func statusClass(code int) string {
	if code < 100 || code > 599 {
		return strconv.Itoa(code)
	}
	return strconv.Itoa(code/100) + "xx"
}
