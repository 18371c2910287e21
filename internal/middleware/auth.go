package middleware

import (
	"net/http"
	"strings"

	apperrors "gembalance/internal/errors"

	"github.com/gin-gonic/gin"
)

// AuthConfig controls how KeyAuth extracts and validates caller credentials.
type AuthConfig struct {
	// Validator decides whether a presented key is acceptable. A nil
	// validator disables authentication entirely.
	Validator func(key string) bool
	// QueryParam, when true, also accepts the key via the ?key= query
	// parameter the upstream API uses natively.
	QueryParam bool
}

// KeyAuth authenticates callers from any of the supported locations:
// Authorization: Bearer, x-goog-api-key, x-api-key, or the key query
// parameter. The accepted key is stored in the context as "api_key".
func KeyAuth(cfg AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.Validator == nil {
			c.Next()
			return
		}

		providedKey := extractKey(c, cfg.QueryParam)
		if providedKey == "" {
			respondUnauthorized(c, "API key not provided")
			return
		}
		if !cfg.Validator(providedKey) {
			respondUnauthorized(c, "Invalid API key")
			return
		}

		c.Set("api_key", providedKey)
		c.Next()
	}
}

func extractKey(c *gin.Context, allowQuery bool) string {
	auth := strings.TrimSpace(c.GetHeader("Authorization"))
	if auth != "" {
		if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
			return strings.TrimSpace(auth[7:])
		}
		return auth
	}
	if key := strings.TrimSpace(c.GetHeader("x-goog-api-key")); key != "" {
		return key
	}
	if key := strings.TrimSpace(c.GetHeader("x-api-key")); key != "" {
		return key
	}
	if allowQuery {
		if key := strings.TrimSpace(c.Query("key")); key != "" {
			return key
		}
	}
	return ""
}

func respondUnauthorized(c *gin.Context, message string) {
	err := apperrors.New(http.StatusUnauthorized, "invalid_api_key", "invalid_request_error", message)
	c.AbortWithStatusJSON(http.StatusUnauthorized, err.Envelope())
}
