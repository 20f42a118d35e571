// Package ratelimit implements the gateway's quota enforcer: multi-bucket
// fixed-window rate limiting backed by a shared Redis counter store, with
// fail-open degradation when the store is unavailable.
package ratelimit

import "time"

// Result describes the outcome of a quota check.
type Result struct {
	Allowed bool
	Limit   int
	// Remaining is the quota left in the current window, never negative.
	Remaining int
	// Reset is when the current window expires.
	Reset time.Time
	// RetryAfter is how long a denied caller should wait before retrying.
	RetryAfter time.Duration
	// Unlimited marks checks against a disabled bucket; no counter was
	// touched and no quota headers should be emitted.
	Unlimited bool
	// Degraded marks fail-open results produced while the counter store
	// was unavailable.
	Degraded bool
}

// Scope indicates which identifier dimension a bucket is keyed by.
type Scope int

const (
	ScopeIP Scope = iota
	ScopePrincipal
)

// Decision is a resolved (bucket, identifier) pair for one request.
type Decision struct {
	Bucket     string
	Identifier string
	Scope      Scope
}
