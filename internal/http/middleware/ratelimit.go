package middleware

import (
	"math"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/shopcore/gateway/internal/config"
	"github.com/shopcore/gateway/internal/http/respond"
	"github.com/shopcore/gateway/internal/identity"
	"github.com/shopcore/gateway/internal/ratelimit"
)

// healthPaths are exempt from the global per-IP gate.
var healthPaths = map[string]bool{
	"/healthz": true,
	"/readyz":  true,
}

// GlobalQuota is the first-pass gate: a catch-all per-IP bucket applied to
// every request except health checks, independent of route-specific
// buckets.
func GlobalQuota(enforcer *ratelimit.Enforcer) gin.HandlerFunc {
	return func(c *gin.Context) {
		if healthPaths[c.Request.URL.Path] {
			c.Next()
			return
		}
		ip := ratelimit.ClientIP(c.Request)
		result := enforcer.Check(c.Request.Context(), config.BucketGlobalIP, ip)
		writeQuotaHeaders(c, result)
		if !result.Allowed {
			respond.TooManyRequests(c, retryAfterSeconds(result.RetryAfter))
			return
		}
		c.Next()
	}
}

// RouteQuota enforces the route-specific bucket. The hint comes from the
// route declaration; requests without one are classified by verb, keyed by
// the principal when the auth middleware has already resolved one.
func RouteQuota(enforcer *ratelimit.Enforcer, bucketHint string) gin.HandlerFunc {
	return func(c *gin.Context) {
		principalID := ""
		if principal, ok := identity.PrincipalFrom(c); ok {
			principalID = principal.ID
		}
		decision := ratelimit.Classify(c.Request.Method, bucketHint, principalID, ratelimit.ClientIP(c.Request))
		result := enforcer.Check(c.Request.Context(), decision.Bucket, decision.Identifier)
		writeQuotaHeaders(c, result)
		if !result.Allowed {
			respond.TooManyRequests(c, retryAfterSeconds(result.RetryAfter))
			return
		}
		c.Next()
	}
}

// writeQuotaHeaders emits quota metadata on success and denial alike.
// Disabled buckets surface no headers: there is no quota to report.
func writeQuotaHeaders(c *gin.Context, result ratelimit.Result) {
	if result.Unlimited {
		return
	}
	c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	c.Header("X-RateLimit-Reset", result.Reset.UTC().Format(time.RFC3339))
}

// retryAfterSeconds rounds the wait up to whole seconds, at least 1.
func retryAfterSeconds(d time.Duration) int {
	seconds := int(math.Ceil(d.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}
