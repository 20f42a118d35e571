package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopcore/gateway/internal/config"
	"github.com/shopcore/gateway/internal/http/respond"
	"github.com/shopcore/gateway/internal/identity"
	"github.com/shopcore/gateway/internal/ratelimit"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testSecret = "middleware-test-secret"

func newTestEnforcer(t *testing.T, buckets map[string]config.BucketConfig) *ratelimit.Enforcer {
	t.Helper()
	mr, errRun := miniredis.Run()
	require.NoError(t, errRun)
	t.Cleanup(mr.Close)

	store := ratelimit.NewStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test")
	store.Probe(context.Background())

	return ratelimit.NewEnforcer(store, config.RateLimitConfig{Enabled: true, Buckets: buckets}, time.Now)
}

// allowAllChecker satisfies identity.UserChecker for resolver construction.
type allowAllChecker struct{ exists bool }

func (a allowAllChecker) UserExists(context.Context, *identity.Principal) (bool, error) {
	return a.exists, nil
}

func newTestResolver(exists bool) *identity.Resolver {
	return identity.NewResolver(config.AuthConfig{
		Secret:          testSecret,
		TokenPrecedence: config.CookieFirst,
		CookieName:      "auth_token",
	}, allowAllChecker{exists: exists})
}

func signTestToken(t *testing.T, userID string) string {
	t.Helper()
	token, errSign := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":    userID,
		"email": userID + "@example.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, errSign)
	return token
}

func TestRequireAuth(t *testing.T) {
	okHandler := func(c *gin.Context) {
		principal, _ := identity.PrincipalFrom(c)
		c.JSON(http.StatusOK, gin.H{"user": principal.ID})
	}

	t.Run("missing token", func(t *testing.T) {
		r := gin.New()
		r.GET("/api/orders", RequireAuth(newTestResolver(true)), okHandler)

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/orders", nil))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		var body respond.ErrorBody
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, identity.CodeMissingToken, body.Code)
	})

	t.Run("deleted user", func(t *testing.T) {
		r := gin.New()
		r.GET("/api/orders", RequireAuth(newTestResolver(false)), okHandler)

		req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
		req.Header.Set("Authorization", "Bearer "+signTestToken(t, "ghost"))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		var body respond.ErrorBody
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, identity.CodeUserNotFound, body.Code)
	})

	t.Run("valid token reaches handler with principal", func(t *testing.T) {
		r := gin.New()
		r.GET("/api/orders", RequireAuth(newTestResolver(true)), okHandler)

		req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
		req.Header.Set("Authorization", "Bearer "+signTestToken(t, "user-9"))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "user-9")
	})
}

func TestRouteQuotaHeadersAndDenial(t *testing.T) {
	enforcer := newTestEnforcer(t, map[string]config.BucketConfig{
		config.BucketAuthLogin: {Enabled: true, WindowMs: 900_000, MaxRequests: 2},
	})

	r := gin.New()
	r.POST("/api/auth/login", RouteQuota(enforcer, config.BucketAuthLogin), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	doPost := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
		req.RemoteAddr = "203.0.113.9:4444"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	first := doPost()
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "2", first.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Remaining"))
	reset, errParse := time.Parse(time.RFC3339, first.Header().Get("X-RateLimit-Reset"))
	require.NoError(t, errParse)
	assert.True(t, reset.After(time.Now().Add(-time.Second)))

	second := doPost()
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "0", second.Header().Get("X-RateLimit-Remaining"))

	third := doPost()
	assert.Equal(t, http.StatusTooManyRequests, third.Code)
	assert.Equal(t, "0", third.Header().Get("X-RateLimit-Remaining"))

	var body respond.ErrorBody
	require.NoError(t, json.Unmarshal(third.Body.Bytes(), &body))
	assert.Equal(t, "RATE_LIMITED", body.Code)
	assert.Greater(t, body.RetryAfter, 0)
	assert.LessOrEqual(t, body.RetryAfter, 900)
}

func TestRouteQuotaKeysByPrincipal(t *testing.T) {
	enforcer := newTestEnforcer(t, map[string]config.BucketConfig{
		config.BucketAPIWrite: {Enabled: true, WindowMs: 60_000, MaxRequests: 1},
	})

	r := gin.New()
	r.POST("/api/orders", func(c *gin.Context) {
		identity.SetPrincipal(c, &identity.Principal{ID: c.GetHeader("X-Test-User")})
		c.Next()
	}, RouteQuota(enforcer, ""), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	doPost := func(userID string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/orders", nil)
		req.RemoteAddr = "203.0.113.9:4444"
		req.Header.Set("X-Test-User", userID)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, doPost("alice"))
	assert.Equal(t, http.StatusTooManyRequests, doPost("alice"))
	// A different principal from the same address has its own counter.
	assert.Equal(t, http.StatusOK, doPost("bob"))
}

func TestRouteQuotaDisabledBucketOmitsHeaders(t *testing.T) {
	enforcer := newTestEnforcer(t, map[string]config.BucketConfig{
		config.BucketAdmin: {Enabled: false, WindowMs: 60_000, MaxRequests: 1},
	})

	r := gin.New()
	r.GET("/api/admin/products/all", RouteQuota(enforcer, config.BucketAdmin), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/admin/products/all", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
	}
}

func TestGlobalQuotaSkipsHealthPaths(t *testing.T) {
	enforcer := newTestEnforcer(t, map[string]config.BucketConfig{
		config.BucketGlobalIP: {Enabled: true, WindowMs: 60_000, MaxRequests: 1},
	})

	r := gin.New()
	r.Use(GlobalQuota(enforcer))
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/api/products", func(c *gin.Context) { c.Status(http.StatusOK) })

	get := func(path string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = "203.0.113.9:4444"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, get("/api/products"))
	assert.Equal(t, http.StatusTooManyRequests, get("/api/products"))
	// Health checks never consume global quota.
	for i := 0; i < 10; i++ {
		assert.Equal(t, http.StatusOK, get("/healthz"))
	}
}

func TestRequestIDReusesInboundHeader(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-abc")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "req-abc", w.Header().Get("X-Request-ID"))

	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, w2.Header().Get("X-Request-ID"))
}

func TestRecoveryWritesEnvelope(t *testing.T) {
	r := gin.New()
	r.Use(Recovery())
	r.GET("/boom", func(c *gin.Context) { panic("kaboom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var body respond.ErrorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "INTERNAL_ERROR", body.Code)
}
