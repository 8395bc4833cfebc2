package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/northcloud/jobforge/internal/domain"
)

// httpStatusFor maps a domain.ErrorKind to the HTTP status §6.1/§7 require
// (4xx for client errors, 5xx for server errors).
func httpStatusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindAuthenticationFailed:
		return http.StatusUnauthorized
	case domain.KindAuthorizationDenied:
		return http.StatusForbidden
	case domain.KindRateLimited:
		return http.StatusTooManyRequests
	case domain.KindQueueFull:
		return http.StatusServiceUnavailable
	case domain.KindSchemaValidationInput, domain.KindSchemaValidationOutput, domain.KindConfigError:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes a sanitized error body: domain.Error's Kind and
// Message are safe to expose, everything else (cause chains, stack
// context) stays in the structured log only (§7).
func respondError(c *gin.Context, err error) {
	var de *domain.Error
	if errors.As(err, &de) {
		c.JSON(httpStatusFor(de.Kind), gin.H{"error": gin.H{"kind": de.Kind, "message": de.Message}})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{
		"error": gin.H{"kind": domain.KindInternalError, "message": "an unexpected error occurred"},
	})
}
