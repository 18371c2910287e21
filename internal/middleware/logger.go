package middleware

import (
	"time"

	"gembalance/internal/logging"
	"gembalance/internal/store"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// RequestLogger logs one structured line per HTTP request. Caller keys are
// masked before they reach the log stream.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		latency := time.Since(start)
		apiKey := ""
		if v, ok := c.Get("api_key"); ok {
			if s, ok := v.(string); ok {
				apiKey = store.MaskKey(s)
			}
		}
		logging.WithReq(c, log.Fields{
			"status":     c.Writer.Status(),
			"latency_ms": logging.DurationMS(latency),
			"user_agent": c.Request.UserAgent(),
			"method":     method,
			"path":       path,
			"api_key":    apiKey,
		}).Info("http_request")
	}
}
