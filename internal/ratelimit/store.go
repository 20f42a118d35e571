package ratelimit

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// retryHoldoff is how long a degraded store waits before the next attempt
// is allowed through to Redis.
const retryHoldoff = 30 * time.Second

// State tracks counter store health. The store starts Connecting until the
// readiness probe or the first operation settles it.
type State int32

const (
	StateConnecting State = iota
	StateReady
	StateDegraded
)

// String returns the state name for logs and health reporting.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// incrScript atomically increments the window counter, stamps the window
// expiry on first increment, and reads back the remaining TTL.
var incrScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {current, ttl}
`)

// ErrUnexpectedReply indicates Redis returned a malformed script result.
var ErrUnexpectedReply = errors.New("rate limit store: unexpected script reply")

// Store wraps the Redis client with explicit availability tracking so the
// enforcer can fail open without waiting for an operation to time out.
type Store struct {
	client *redis.Client
	prefix string

	mu      sync.Mutex
	state   State
	retryAt time.Time
}

// NewStore constructs a Store in the Connecting state.
func NewStore(client *redis.Client, prefix string) *Store {
	return &Store{
		client: client,
		prefix: strings.TrimSpace(prefix),
		state:  StateConnecting,
	}
}

// Probe pings Redis and settles the initial state. Run it in the background
// shortly after startup; request handling does not wait for it.
func (s *Store) Probe(ctx context.Context) {
	if s == nil || s.client == nil {
		return
	}
	ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if errPing := s.client.Ping(ctxPing).Err(); errPing != nil {
		s.markFailure(errPing, time.Now())
		return
	}
	s.markSuccess()
}

// State reports the current availability state.
func (s *Store) State() State {
	if s == nil {
		return StateDegraded
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// available reports whether an operation should be attempted. A degraded
// store lets one attempt through once the holdoff has elapsed.
func (s *Store) available(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateDegraded {
		return true
	}
	return !now.Before(s.retryAt)
}

func (s *Store) markSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady {
		log.Info("rate limit store ready")
	}
	s.state = StateReady
	s.retryAt = time.Time{}
}

func (s *Store) markFailure(err error, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDegraded && now.Before(s.retryAt) {
		return
	}
	s.state = StateDegraded
	s.retryAt = now.Add(retryHoldoff)
	log.WithError(err).Warn("rate limit store unavailable, failing open")
}

// Incr increments the counter for key, applying the window expiry on the
// first hit, and returns the post-increment count with the window's
// remaining TTL. The TTL falls back to the full window when Redis cannot
// report one.
func (s *Store) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if s == nil || s.client == nil {
		return 0, 0, errors.New("rate limit store: no client")
	}
	reply, errEval := incrScript.Run(ctx, s.client, []string{s.buildKey(key)}, window.Milliseconds()).Result()
	if errEval != nil {
		return 0, 0, errEval
	}
	values, ok := reply.([]interface{})
	if !ok || len(values) != 2 {
		return 0, 0, ErrUnexpectedReply
	}
	count, okCount := values[0].(int64)
	ttlMs, okTTL := values[1].(int64)
	if !okCount || !okTTL {
		return 0, 0, ErrUnexpectedReply
	}
	ttl := time.Duration(ttlMs) * time.Millisecond
	if ttlMs < 0 {
		ttl = window
	}
	return count, ttl, nil
}

func (s *Store) buildKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + ":" + key
}
