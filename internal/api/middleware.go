// Package api implements §6.1's Administrative API: a gin router exposing
// Task/Execution/Job/Schedule CRUD and stats over the core services
// directly, adapted from infrastructure/gin's middleware ordering
// (recovery, request logging, CORS) and infrastructure/jwt's bearer-token
// auth, since infrastructure/ is a separate Go module and its packages
// cannot be imported directly from this one.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/northcloud/jobforge/internal/logger"
)

// RecoveryMiddleware catches panics in handlers, logs them, and responds
// with a sanitized 500 — no stack trace or internal path reaches the
// client, per §7's "error messages returned to external clients are
// sanitized" rule.
func RecoveryMiddleware(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Error("panic recovered",
					logger.Any("error", err),
					logger.String("path", c.Request.URL.Path),
					logger.String("method", c.Request.Method))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": gin.H{"kind": "internal_error", "message": "an unexpected error occurred"},
				})
			}
		}()
		c.Next()
	}
}

// LoggerMiddleware logs one structured entry per request.
func LoggerMiddleware(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()

		fields := []logger.Field{
			logger.String("method", c.Request.Method),
			logger.String("path", path),
			logger.Int("status", c.Writer.Status()),
			logger.Duration("duration", time.Since(start)),
		}
		if len(c.Errors) > 0 {
			log.Error("admin api request", append(fields, logger.String("errors", c.Errors.String()))...)
		} else {
			log.Info("admin api request", fields...)
		}
	}
}
