package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestIDGenerated(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/ping", func(c *gin.Context) {
		rid, _ := c.Get("request_id")
		c.String(http.StatusOK, "%v", rid)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	require.Equal(t, http.StatusOK, w.Code)
	rid := w.Header().Get("X-Request-ID")
	assert.NotEmpty(t, rid)
	assert.Equal(t, rid, w.Body.String(), "context and header carry the same id")
}

func TestRequestIDPassthrough(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Request-ID", "caller-supplied")
	r.ServeHTTP(w, req)

	assert.Equal(t, "caller-supplied", w.Header().Get("X-Request-ID"))
}
