// Package server assembles the HTTP surface: the streaming proxy catch-all,
// the management API, and the operational endpoints.
package server

import (
	"net/http"

	"gembalance/internal/config"
	"gembalance/internal/healthcheck"
	"gembalance/internal/keypool"
	mw "gembalance/internal/middleware"
	"gembalance/internal/proxy"
	"gembalance/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dependencies carries the runtime services the router needs.
type Dependencies struct {
	Provider *keypool.Provider
	Engine   *proxy.Engine
	Checker  *healthcheck.Checker
	Errors   store.ErrorLister
}

// NewRouter builds the gin engine with all routes and middleware attached.
func NewRouter(cfg *config.Config, deps Dependencies) *gin.Engine {
	if cfg.Security.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(mw.Recovery())
	r.Use(mw.RequestID())
	r.Use(mw.CORS())
	r.Use(mw.Metrics())
	if cfg.Server.RequestLogEnabled {
		r.Use(mw.RequestLogger())
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	registerManagementRoutes(r, cfg, deps)

	// Everything else is the proxy surface. The upstream API's path space is
	// open ended, so the relay hangs off NoRoute rather than a route table.
	chain := []gin.HandlerFunc{clientAuth(cfg)}
	if cfg.RateLimit.Enabled {
		chain = append(chain, mw.RateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
	}
	chain = append(chain, func(c *gin.Context) {
		deps.Engine.Forward(c, cfg.Server.RoutePrefix)
	})
	r.NoRoute(chain...)

	return r
}

// clientAuth guards the proxy surface. An empty client key list disables
// authentication, mirroring an open relay deployment behind a trusted edge.
func clientAuth(cfg *config.Config) gin.HandlerFunc {
	if len(cfg.Security.ClientKeys) == 0 {
		return func(c *gin.Context) { c.Next() }
	}
	return mw.KeyAuth(mw.AuthConfig{
		Validator:  config.ClientKeyValidator(cfg),
		QueryParam: true,
	})
}
