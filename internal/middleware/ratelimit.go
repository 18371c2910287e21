package middleware

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"gembalance/internal/monitoring"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// ttlLimiterCache holds per-caller limiters with opportunistic sweeping so
// one-off callers do not accumulate forever.
type ttlLimiterCache struct {
	mu        sync.Mutex
	items     map[string]*limiterEntry
	ttl       time.Duration
	lastSweep time.Time
}

func newTTLLimiterCache(ttl time.Duration) *ttlLimiterCache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &ttlLimiterCache{items: make(map[string]*limiterEntry), ttl: ttl}
}

func (c *ttlLimiterCache) get(key string, makeFn func() *rate.Limiter) *rate.Limiter {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.items[key]; ok {
		e.lastSeen = now
		return e.lim
	}
	lim := makeFn()
	c.items[key] = &limiterEntry{lim: lim, lastSeen: now}
	if c.lastSweep.IsZero() || now.Sub(c.lastSweep) > 2*time.Minute {
		for k, e := range c.items {
			if now.Sub(e.lastSeen) > c.ttl {
				delete(c.items, k)
			}
		}
		c.lastSweep = now
	}
	monitoring.RateLimitKeysGauge.Set(float64(len(c.items)))
	return lim
}

// RateLimiter limits each caller, keyed by API key when authenticated and
// client IP otherwise. A coarser global limiter guards the process.
func RateLimiter(rps, burst int) gin.HandlerFunc {
	if rps <= 0 {
		rps = 10
	}
	if burst <= 0 {
		burst = 20
	}
	cache := newTTLLimiterCache(15 * time.Minute)
	global := rate.NewLimiter(rate.Limit(rps*5), burst*5)

	return func(c *gin.Context) {
		if !global.Allow() {
			rejectRateLimited(c, "Global rate limit exceeded")
			return
		}
		key := callerIdentity(c)
		lim := cache.get(key, func() *rate.Limiter {
			return rate.NewLimiter(rate.Limit(rps), burst)
		})
		if !lim.Allow() {
			rejectRateLimited(c, "Rate limit exceeded")
			return
		}
		c.Next()
	}
}

func callerIdentity(c *gin.Context) string {
	if v, ok := c.Get("api_key"); ok {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	if key := extractKey(c, true); key != "" {
		return key
	}
	return c.ClientIP()
}

func rejectRateLimited(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"error": gin.H{
			"message": message,
			"type":    "rate_limit_error",
			"code":    "rate_limit_exceeded",
		},
	})
}
