package ratelimit

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func newTestMiddlewareContext(t *testing.T) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/tasks", nil)
	return c, w
}

func fixedKey(key string) KeyFunc {
	return func(c *gin.Context) string { return key }
}

func TestMiddlewareAllowsRequestsWithinLimit(t *testing.T) {
	fr := newFakeRedis()
	limiter := &Limiter{client: fr, prefix: "mw:"}
	c, w := newTestMiddlewareContext(t)

	Middleware(limiter, fixedKey("client-1"), 5)(c)

	require.False(t, c.IsAborted())
	require.Equal(t, "5", w.Header().Get("X-RateLimit-Limit"))
	require.Equal(t, "4", w.Header().Get("X-RateLimit-Remaining"))
}

func TestMiddlewareBlocksRequestsOverLimit(t *testing.T) {
	fr := newFakeRedis()
	limiter := &Limiter{client: fr, prefix: "mw:"}

	for i := 0; i < 2; i++ {
		c, _ := newTestMiddlewareContext(t)
		Middleware(limiter, fixedKey("client-1"), 2)(c)
	}

	c, w := newTestMiddlewareContext(t)
	Middleware(limiter, fixedKey("client-1"), 2)(c)

	require.True(t, c.IsAborted())
	require.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestMiddlewareZeroLimitDisablesEnforcement(t *testing.T) {
	fr := newFakeRedis()
	limiter := &Limiter{client: fr, prefix: "mw:"}
	c, _ := newTestMiddlewareContext(t)

	Middleware(limiter, fixedKey("client-1"), 0)(c)

	require.False(t, c.IsAborted())
	require.Empty(t, fr.counts)
}

func TestMiddlewareFailsOpenOnRedisError(t *testing.T) {
	fr := newFakeRedis()
	fr.incrErr = errors.New("connection refused")
	limiter := &Limiter{client: fr, prefix: "mw:"}
	c, _ := newTestMiddlewareContext(t)

	Middleware(limiter, fixedKey("client-1"), 5)(c)

	require.False(t, c.IsAborted(), "a redis error must not block the request")
}
