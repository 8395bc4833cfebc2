package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/northcloud/jobforge/internal/domain"
)

func TestHTTPStatusFor(t *testing.T) {
	cases := map[domain.ErrorKind]int{
		domain.KindNotFound:              http.StatusNotFound,
		domain.KindConflict:              http.StatusConflict,
		domain.KindAuthenticationFailed:  http.StatusUnauthorized,
		domain.KindAuthorizationDenied:   http.StatusForbidden,
		domain.KindRateLimited:           http.StatusTooManyRequests,
		domain.KindQueueFull:             http.StatusServiceUnavailable,
		domain.KindSchemaValidationInput: http.StatusBadRequest,
		domain.KindConfigError:           http.StatusBadRequest,
		domain.KindInternalError:         http.StatusInternalServerError,
		domain.KindWorkerCrash:           http.StatusInternalServerError,
	}
	for kind, want := range cases {
		require.Equal(t, want, httpStatusFor(kind), "kind %q", kind)
	}
}

func TestRespondErrorWithDomainError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	respondError(c, domain.NewError(domain.KindNotFound, "task not found", nil))

	require.Equal(t, http.StatusNotFound, w.Code)
	require.Contains(t, w.Body.String(), "task not found")
	require.Contains(t, w.Body.String(), string(domain.KindNotFound))
}

func TestRespondErrorWithGenericErrorIsSanitized(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	respondError(c, errors.New("pq: password authentication failed for user \"admin\""))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.NotContains(t, w.Body.String(), "password")
	require.Contains(t, w.Body.String(), string(domain.KindInternalError))
}

func TestRespondErrorUnwrapsWrappedDomainError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	wrapped := errors.Join(errors.New("context"), domain.NewError(domain.KindConflict, "already exists", nil))
	respondError(c, wrapped)

	require.Equal(t, http.StatusConflict, w.Code)
}
