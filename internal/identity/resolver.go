package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	log "github.com/sirupsen/logrus"

	"github.com/shopcore/gateway/internal/config"
)

// UserChecker confirms a principal's backing account still exists upstream.
type UserChecker interface {
	UserExists(ctx context.Context, p *Principal) (bool, error)
}

// Resolver produces a Principal (or a rejection) from an inbound request.
type Resolver struct {
	secret     []byte
	precedence config.TokenPrecedence
	cookieName string
	directory  UserChecker
}

// NewResolver constructs a Resolver from auth config and an upstream
// directory.
func NewResolver(cfg config.AuthConfig, directory UserChecker) *Resolver {
	cookieName := strings.TrimSpace(cfg.CookieName)
	if cookieName == "" {
		cookieName = "auth_token"
	}
	return &Resolver{
		secret:     []byte(cfg.Secret),
		precedence: cfg.TokenPrecedence,
		cookieName: cookieName,
		directory:  directory,
	}
}

// ExtractCredential pulls the bearer token from the request. Lookup order
// follows the configured precedence; the production cross-domain deployment
// is cookie-first so header tokens still work when third-party cookies are
// blocked.
func (r *Resolver) ExtractCredential(req *http.Request) string {
	if r.precedence == config.HeaderFirst {
		if token := bearerToken(req.Header.Get("Authorization")); token != "" {
			return token
		}
		return r.cookieToken(req)
	}
	if token := r.cookieToken(req); token != "" {
		return token
	}
	return bearerToken(req.Header.Get("Authorization"))
}

func (r *Resolver) cookieToken(req *http.Request) string {
	cookie, errCookie := req.Cookie(r.cookieName)
	if errCookie != nil {
		return ""
	}
	return strings.TrimSpace(cookie.Value)
}

// bearerToken extracts the token from an Authorization header value.
func bearerToken(authHeader string) string {
	if authHeader == "" {
		return ""
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// VerifyCredential verifies the token signature and expiry against the
// process-wide secret. Every verification failure is uniform: no Principal,
// never a panic.
func (r *Resolver) VerifyCredential(credential string) (*Principal, error) {
	token, errParse := jwt.Parse(credential, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return r.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if errParse != nil {
		return nil, errParse
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}

	principal := &Principal{Claims: claims}
	if id, okID := claims["id"].(string); okID {
		principal.ID = id
	} else if sub, okSub := claims["sub"].(string); okSub {
		principal.ID = sub
	}
	if email, okEmail := claims["email"].(string); okEmail {
		principal.Email = email
	}
	if principal.ID == "" {
		return nil, errors.New("token carries no principal id")
	}
	return principal, nil
}

// Authenticate composes extraction, verification, and the upstream
// existence check. All failures are terminal for the current request; no
// retries.
func (r *Resolver) Authenticate(ctx context.Context, req *http.Request) (*Principal, *Rejection) {
	credential := r.ExtractCredential(req)
	if credential == "" {
		return nil, reject(http.StatusUnauthorized, CodeMissingToken, "authentication token required")
	}

	principal, errVerify := r.VerifyCredential(credential)
	if errVerify != nil {
		log.WithError(errVerify).Debug("credential verification failed")
		return nil, reject(http.StatusUnauthorized, CodeInvalidToken, "invalid or expired token")
	}

	exists, errCheck := r.directory.UserExists(ctx, principal)
	if errCheck != nil {
		// Dependency failure, not an authentication failure: a
		// verification that cannot complete must not silently
		// authenticate.
		log.WithError(errCheck).Error("upstream identity check failed")
		return nil, reject(http.StatusInternalServerError, CodeVerificationError, "could not verify account")
	}
	if !exists {
		return nil, reject(http.StatusUnauthorized, CodeUserNotFound, "account no longer exists")
	}
	return principal, nil
}
