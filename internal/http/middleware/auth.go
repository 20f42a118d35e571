// Package middleware holds the gin middleware chain for the gateway:
// request correlation, logging, panic recovery, quota enforcement, and
// authentication.
package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/shopcore/gateway/internal/http/respond"
	"github.com/shopcore/gateway/internal/identity"
)

// RequireAuth resolves and attaches the request principal, rejecting with a
// structured envelope when authentication fails. Processing stops on any
// rejection.
func RequireAuth(resolver *identity.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, rejection := resolver.Authenticate(c.Request.Context(), c.Request)
		if rejection != nil {
			respond.Error(c, rejection.Status, rejection.Code, "authentication failed", rejection.Message)
			return
		}
		identity.SetPrincipal(c, principal)
		c.Next()
	}
}
