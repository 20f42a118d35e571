package ratelimit

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/shopcore/gateway/internal/config"
)

// Enforcer decides whether classified requests may proceed and surfaces
// remaining-quota metadata. Counting is delegated to the shared store;
// correctness under concurrent checks relies on Redis INCR being atomic.
// Store outages never block requests: the enforcer fails open with the full
// configured quota.
type Enforcer struct {
	store *Store
	cfg   config.RateLimitConfig
	nowFn func() time.Time
}

// NewEnforcer constructs an Enforcer with default dependencies when nil.
func NewEnforcer(store *Store, cfg config.RateLimitConfig, nowFn func() time.Time) *Enforcer {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Enforcer{store: store, cfg: cfg, nowFn: nowFn}
}

// Check increments the counter for {bucket}:{identifier} and returns the
// allow/deny verdict. A request is allowed iff the post-increment count is
// within the bucket's maximum; remaining quota never goes negative.
func (e *Enforcer) Check(ctx context.Context, bucketName, identifier string) Result {
	bucket := e.cfg.Bucket(bucketName)
	if !e.cfg.Enabled || !bucket.Enabled || bucket.MaxRequests <= 0 {
		return Result{Allowed: true, Remaining: -1, Unlimited: true}
	}

	now := e.nowFn()
	if e.store == nil || !e.store.available(now) {
		return e.failOpen(bucket, now)
	}

	count, ttl, errIncr := e.store.Incr(ctx, bucketName+":"+identifier, bucket.Window())
	if errIncr != nil {
		e.store.markFailure(errIncr, now)
		return e.failOpen(bucket, now)
	}
	e.store.markSuccess()

	reset := now.Add(ttl)
	remaining := bucket.MaxRequests - int(count)
	if remaining < 0 {
		remaining = 0
	}
	result := Result{
		Allowed:   count <= int64(bucket.MaxRequests),
		Limit:     bucket.MaxRequests,
		Remaining: remaining,
		Reset:     reset,
	}
	if !result.Allowed {
		result.RetryAfter = ttl
		log.WithFields(log.Fields{
			"bucket":     bucketName,
			"identifier": identifier,
			"limit":      bucket.MaxRequests,
		}).Warn("rate limit exceeded")
	}
	return result
}

// failOpen reports the request allowed with the full quota. Availability is
// favored over enforcement when the counter store is down.
func (e *Enforcer) failOpen(bucket config.BucketConfig, now time.Time) Result {
	return Result{
		Allowed:   true,
		Limit:     bucket.MaxRequests,
		Remaining: bucket.MaxRequests,
		Reset:     now.Add(bucket.Window()),
		Degraded:  true,
	}
}

// StoreState reports the counter store's availability for health checks.
func (e *Enforcer) StoreState() State {
	if e == nil || e.store == nil {
		return StateDegraded
	}
	return e.store.State()
}
