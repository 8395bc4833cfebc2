package observability

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/northcloud/jobforge/internal/logger"
)

const correlationIDByteLen = 16

// NewCorrelationID mints a correlation_id the way infrastructure/gin's
// generateRequestID does (crypto/rand, hex-encoded), but as a jobforge-level
// domain concept: a Job's correlation_id is assigned once at creation and
// must survive every retry in its chain (§8's round-trip property), unlike
// a per-HTTP-request request_id which is scoped to one admin API call.
func NewCorrelationID() string {
	b := make([]byte, correlationIDByteLen)
	if _, err := rand.Read(b); err != nil {
		now := time.Now().UnixNano()
		for i := correlationIDByteLen - 1; i >= 0; i-- {
			b[i] = byte(now)
			now >>= 8
		}
	}
	return hex.EncodeToString(b)
}

const correlationHeader = "X-Correlation-ID"

// CorrelationMiddleware stores a request-scoped logger carrying
// correlation_id in both the gin context and the Go context, adapted from
// infrastructure/gin's RequestIDLoggerMiddleware. Requests that name an
// existing Job or Execution (e.g. GET/cancel endpoints) should prefer that
// entity's own correlation_id over the header; this middleware only seeds
// the value for requests that create new work.
func CorrelationMiddleware(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(correlationHeader)
		if id == "" {
			id = NewCorrelationID()
		}
		c.Set("correlation_id", id)
		c.Writer.Header().Set(correlationHeader, id)

		reqLog := log.With(logger.String("correlation_id", id))
		ctx := logger.WithContext(c.Request.Context(), reqLog)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// CorrelationFromRequest extracts correlation_id from a plain net/http
// request (used by the delivery pipeline's webhook envelope and the worker
// IPC dispatch path, neither of which goes through gin).
func CorrelationFromRequest(r *http.Request) string {
	return r.Header.Get(correlationHeader)
}
