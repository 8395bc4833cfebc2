package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func signToken(t *testing.T, secret string, claims *Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func runAuthMiddleware(secret, path, header string) *httptest.ResponseRecorder {
	r := gin.New()
	r.Use(AuthMiddleware(secret))
	r.GET(path, func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, path, nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddlewareExemptsHealthEndpoint(t *testing.T) {
	w := runAuthMiddleware("secret", "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
}

func TestAuthMiddlewareRejectsMissingHeader(t *testing.T) {
	w := runAuthMiddleware("secret", "/api/v1/tasks", "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMiddlewareRejectsMalformedHeader(t *testing.T) {
	w := runAuthMiddleware("secret", "/api/v1/tasks", "Token abc123")
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMiddlewareRejectsInvalidSignature(t *testing.T) {
	claims := &Claims{Subject: "user-1", RegisteredClaims: jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	token := signToken(t, "wrong-secret", claims)

	w := runAuthMiddleware("secret", "/api/v1/tasks", "Bearer "+token)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMiddlewareRejectsExpiredToken(t *testing.T) {
	claims := &Claims{Subject: "user-1", RegisteredClaims: jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	}}
	token := signToken(t, "secret", claims)

	w := runAuthMiddleware("secret", "/api/v1/tasks", "Bearer "+token)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMiddlewareAcceptsValidToken(t *testing.T) {
	claims := &Claims{Subject: "user-1", RegisteredClaims: jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	token := signToken(t, "secret", claims)

	w := runAuthMiddleware("secret", "/api/v1/tasks", "Bearer "+token)
	require.Equal(t, http.StatusOK, w.Code)
}
