// Package ratelimit throttles per-IP and per-connection actions with the
// Redis INCR + EXPIRE fixed-window scheme. When no Redis client is
// configured the limiter is a no-op, so a single-process deployment without
// Redis still works, just without throttling.
package ratelimit

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Rule is one throttling policy: key prefix, max count, window length.
type Rule struct {
	Key    string
	Limit  int
	Window time.Duration
}

var (
	// RuleConnect allows 5 WebSocket connections per minute per IP.
	RuleConnect = Rule{Key: "rl:conn:", Limit: 5, Window: time.Minute}

	// RuleMessage allows 10 chat messages per 10 seconds per connection.
	RuleMessage = Rule{Key: "rl:msg:", Limit: 10, Window: 10 * time.Second}

	// RuleReport allows 5 abuse reports per hour per connection.
	RuleReport = Rule{Key: "rl:report:", Limit: 5, Window: time.Hour}
)

// Limiter checks rules against Redis.
type Limiter struct {
	client *redis.Client
}

// NewLimiter creates a Limiter. client may be nil, in which case every
// check passes.
func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client}
}

// Allow increments the counter for identifier under rule and reports whether
// the action is inside the limit. On Redis errors it fails open so an outage
// never blocks legitimate traffic.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) (bool, error) {
	if l.client == nil {
		return true, nil
	}

	key := rule.Key + identifier

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		log.Printf("[ratelimit] redis INCR error key=%s: %v (failing open)", key, err)
		return true, err
	}

	// First increment in the window defines the window boundary.
	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			log.Printf("[ratelimit] redis EXPIRE error key=%s: %v (failing open)", key, err)
			// The key has no TTL and would throttle the identifier forever.
			// Best effort: remove it.
			l.client.Del(ctx, key)
			return true, err
		}
	}

	if int(count) > rule.Limit {
		return false, nil
	}
	return true, nil
}

// Remaining reports how many actions identifier has left in the current
// window. Unknown keys and Redis errors both return the full limit.
func (l *Limiter) Remaining(ctx context.Context, identifier string, rule Rule) (int, error) {
	if l.client == nil {
		return rule.Limit, nil
	}

	key := rule.Key + identifier

	count, err := l.client.Get(ctx, key).Int()
	if err == redis.Nil {
		return rule.Limit, nil
	}
	if err != nil {
		log.Printf("[ratelimit] redis GET error key=%s: %v (failing open)", key, err)
		return rule.Limit, err
	}

	remaining := rule.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}
