package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// Recovery converts handler panics into a 500 response instead of tearing
// down the connection.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.WithFields(log.Fields{
					"error":  err,
					"stack":  string(debug.Stack()),
					"path":   c.Request.URL.Path,
					"method": c.Request.Method,
				}).Error("Panic recovered")

				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": gin.H{
						"message": "Internal server error",
						"type":    "internal_error",
						"code":    "panic_recovered",
					},
				})
			}
		}()
		c.Next()
	}
}

// SafeGo starts a goroutine that logs panics instead of crashing the process.
func SafeGo(name string, fn func()) {
	go func() {
		defer func() {
			if err := recover(); err != nil {
				log.WithFields(log.Fields{
					"goroutine": name,
					"error":     err,
					"stack":     string(debug.Stack()),
				}).Error("Goroutine panic recovered")
			}
		}()
		fn()
	}()
}
