package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"storefront/config"
	"storefront/internal/auth"
	"storefront/internal/domain"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var jwtCfg = &config.JWTConfig{AccessSecret: "test-secret", AccessExpiry: time.Minute}

func bearer(t *testing.T, userID, role string) string {
	t.Helper()
	tok, err := auth.GenerateAccessToken(jwtCfg, userID, userID+"@example.com", role)
	require.NoError(t, err)
	return "Bearer " + tok
}

func newRouter(mw ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	handlers := append(mw, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": GetUserID(c), "role": GetRole(c)})
	})
	r.GET("/x", handlers...)
	return r
}

func do(r http.Handler, authz string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthRequired(t *testing.T) {
	r := newRouter(AuthRequired(jwtCfg))

	assert.Equal(t, http.StatusUnauthorized, do(r, "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, "Token abc").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, "Bearer nope").Code)

	w := do(r, bearer(t, "buyer-1", domain.RoleCustomer))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"user_id":"buyer-1"`)
}

func TestAdminRequired(t *testing.T) {
	r := newRouter(AuthRequired(jwtCfg), AdminRequired())

	assert.Equal(t, http.StatusForbidden, do(r, bearer(t, "buyer-1", domain.RoleCustomer)).Code)
	assert.Equal(t, http.StatusOK, do(r, bearer(t, "admin-1", domain.RoleAdmin)).Code)
}

func TestInMemoryRateLimiter(t *testing.T) {
	l := NewInMemoryRateLimiter(2, time.Minute)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"), "keys are independent")

	now = now.Add(30 * time.Second)
	assert.True(t, l.Allow("a"), "one token refilled after half the window")

	now = now.Add(2 * time.Minute)
	l.sweep()
	assert.Equal(t, 0, l.size())
}

type denyAll struct{}

func (denyAll) Allow(string) bool { return false }

func TestRateLimitMiddleware(t *testing.T) {
	assert.Equal(t, http.StatusTooManyRequests, do(newRouter(RateLimit(denyAll{})), "").Code)

	r := newRouter(AuthRequired(jwtCfg), RateLimitByUser(NewInMemoryRateLimiter(1, time.Minute)))
	assert.Equal(t, http.StatusOK, do(r, bearer(t, "buyer-1", domain.RoleCustomer)).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(r, bearer(t, "buyer-1", domain.RoleCustomer)).Code)
	assert.Equal(t, http.StatusOK, do(r, bearer(t, "buyer-2", domain.RoleCustomer)).Code)
}
