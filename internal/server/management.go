package server

import (
	"net/http"
	"strconv"

	"gembalance/internal/config"
	"gembalance/internal/keypool"
	mw "gembalance/internal/middleware"
	"gembalance/internal/store"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// registerManagementRoutes mounts the admin API under /api/management. The
// surface is read/act only; credential writes go through the backing store.
func registerManagementRoutes(r *gin.Engine, cfg *config.Config, deps Dependencies) {
	mg := r.Group("/api/management")
	if cfg.Security.AdminKey != "" || cfg.Security.AdminKeyHash != "" {
		mg.Use(mw.KeyAuth(mw.AuthConfig{Validator: config.AdminKeyValidator(cfg)}))
	}

	mg.GET("/keys", func(c *gin.Context) { handlePoolStatus(c, deps) })
	mg.POST("/keys/check", func(c *gin.Context) { handleHealthSweep(c, deps) })
	mg.POST("/pool/reset", func(c *gin.Context) { handlePoolReset(c, deps) })
	mg.GET("/errors", func(c *gin.Context) { handleRecentErrors(c, deps) })
}

// maskedSnapshot renders pool state with credentials masked. Raw keys never
// leave the process through the management API.
func maskedSnapshot(pool *keypool.Pool) ([]keypool.KeyStatus, int) {
	statuses := pool.Snapshot()
	healthy := 0
	for i := range statuses {
		statuses[i].Key = store.MaskKey(statuses[i].Key)
		if statuses[i].Healthy {
			healthy++
		}
	}
	return statuses, healthy
}

func handlePoolStatus(c *gin.Context, deps Dependencies) {
	pool, err := deps.Provider.Get(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"message": "pool unavailable"}})
		return
	}
	statuses, healthy := maskedSnapshot(pool)
	c.JSON(http.StatusOK, gin.H{
		"keys":         statuses,
		"total":        pool.Len(),
		"healthy":      healthy,
		"max_failures": pool.MaxFailures(),
	})
}

func handleHealthSweep(c *gin.Context, deps Dependencies) {
	pool, err := deps.Provider.Get(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"message": "pool unavailable"}})
		return
	}
	recovered := pool.ReactivateUnhealthy(c.Request.Context(), deps.Checker)
	log.WithField("recovered", recovered).Info("manual health sweep completed")
	statuses, healthy := maskedSnapshot(pool)
	c.JSON(http.StatusOK, gin.H{
		"recovered": recovered,
		"healthy":   healthy,
		"keys":      statuses,
	})
}

func handlePoolReset(c *gin.Context, deps Dependencies) {
	pool, err := deps.Provider.Rebuild(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"message": "pool rebuild failed"}})
		return
	}
	log.WithField("keys", pool.Len()).Info("pool rebuilt via management API")
	c.JSON(http.StatusOK, gin.H{"status": "rebuilt", "total": pool.Len()})
}

func handleRecentErrors(c *gin.Context, deps Dependencies) {
	if deps.Errors == nil {
		c.JSON(http.StatusOK, gin.H{"errors": []store.StoredError{}})
		return
	}
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	recs, err := deps.Errors.RecentErrors(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"message": "audit store unavailable"}})
		return
	}
	if recs == nil {
		recs = []store.StoredError{}
	}
	c.JSON(http.StatusOK, gin.H{"errors": recs})
}
