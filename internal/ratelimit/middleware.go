package ratelimit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/northcloud/jobforge/internal/domain"
)

// KeyFunc extracts the rate-limit bucket key from a request — typically the
// client's API key or remote address.
type KeyFunc func(c *gin.Context) string

// ByRemoteAddr is the default KeyFunc for unauthenticated or api_key-less
// deployments.
func ByRemoteAddr(c *gin.Context) string { return c.ClientIP() }

// Middleware enforces limit requests per minute per KeyFunc bucket,
// responding with the JSON-RPC/REST-agnostic 429 the Administrative API and
// MCP transport both surface (§6.5's mcp.security.rate_limiting, §7's
// RateLimited kind).
func Middleware(limiter *Limiter, keyFn KeyFunc, limit int) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limit <= 0 {
			c.Next()
			return
		}
		key := keyFn(c)
		allowed, err := limiter.Allow(c.Request.Context(), key, limit, time.Minute)
		if err != nil {
			// Fail open: a Redis outage degrades rate limiting, it doesn't
			// take down the API.
			c.Next()
			return
		}
		remaining, _ := limiter.Remaining(c.Request.Context(), key, limit)
		c.Writer.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Writer.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": gin.H{"kind": domain.KindRateLimited, "message": "rate limit exceeded"},
			})
			return
		}
		c.Next()
	}
}
