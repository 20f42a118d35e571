// Package identity implements the gateway's identity resolver: bearer
// credential extraction, JWT verification against the shared signing secret,
// and an upstream existence check that invalidates tokens for accounts
// deleted after issuance.
package identity

import (
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Principal is the authenticated identity decoded from a verified
// credential. It is attached to the request context for the remainder of
// the request's lifecycle and never persisted.
type Principal struct {
	ID     string
	Email  string
	Claims jwt.MapClaims
}

// Rejection codes surfaced in the machine-readable `code` field.
const (
	CodeMissingToken      = "MISSING_TOKEN"
	CodeInvalidToken      = "INVALID_TOKEN"
	CodeUserNotFound      = "USER_NOT_FOUND"
	CodeVerificationError = "VERIFICATION_ERROR"
)

// Rejection describes a terminal authentication failure. Dependency
// failures carry status 500; everything else is 401.
type Rejection struct {
	Status  int
	Code    string
	Message string
}

func reject(status int, code, message string) *Rejection {
	return &Rejection{Status: status, Code: code, Message: message}
}

const principalContextKey = "gateway/principal"

// SetPrincipal attaches the principal to the gin context.
func SetPrincipal(c *gin.Context, p *Principal) {
	c.Set(principalContextKey, p)
}

// PrincipalFrom returns the principal attached by the auth middleware, if
// any.
func PrincipalFrom(c *gin.Context) (*Principal, bool) {
	value, ok := c.Get(principalContextKey)
	if !ok {
		return nil, false
	}
	principal, ok := value.(*Principal)
	return principal, ok && principal != nil
}
