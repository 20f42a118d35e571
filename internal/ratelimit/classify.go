package ratelimit

import (
	"net"
	"net/http"
	"strings"

	"github.com/shopcore/gateway/internal/config"
)

// principalKeyed lists buckets keyed by principal id once authentication has
// resolved one. Pre-auth buckets (login, registration, password reset) and
// read buckets always key by client IP.
var principalKeyed = map[string]bool{
	config.BucketAPIWrite:  true,
	config.BucketAPIDelete: true,
	config.BucketPayment:   true,
	config.BucketAdmin:     true,
}

// Classify resolves the rate-limit bucket and identifier for one request.
// A non-empty bucketHint comes from the route table and wins over verb
// classification; mutating verbs without a resolved principal fall back to
// the stricter per-IP write bucket.
func Classify(method, bucketHint, principalID, clientIP string) Decision {
	if bucketHint != "" {
		if principalKeyed[bucketHint] && principalID != "" {
			return Decision{Bucket: bucketHint, Identifier: principalID, Scope: ScopePrincipal}
		}
		return Decision{Bucket: bucketHint, Identifier: clientIP, Scope: ScopeIP}
	}

	switch method {
	case http.MethodDelete:
		if principalID != "" {
			return Decision{Bucket: config.BucketAPIDelete, Identifier: principalID, Scope: ScopePrincipal}
		}
		return Decision{Bucket: config.BucketAPIDelete, Identifier: clientIP, Scope: ScopeIP}
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		if principalID != "" {
			return Decision{Bucket: config.BucketAPIWrite, Identifier: principalID, Scope: ScopePrincipal}
		}
		return Decision{Bucket: config.BucketAPIWriteIP, Identifier: clientIP, Scope: ScopeIP}
	default:
		return Decision{Bucket: config.BucketAPIRead, Identifier: clientIP, Scope: ScopeIP}
	}
}

// ClientIP extracts the caller address. Precedence: first x-forwarded-for
// entry, then x-real-ip, then the connection's remote address.
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	if r.RemoteAddr != "" {
		if host, _, errSplit := net.SplitHostPort(r.RemoteAddr); errSplit == nil && host != "" {
			return host
		}
		return r.RemoteAddr
	}
	return "unknown"
}
