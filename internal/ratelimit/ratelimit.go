package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Defaults for the login limiter.
const (
	DefaultLimit  = 10
	DefaultWindow = 15 * time.Minute
)

// Limiter is a fixed-window counter backed by Redis. The first hit in a
// window creates the key with an expiry; subsequent hits increment it. When
// Redis is unreachable the limiter fails open so an outage does not lock
// everyone out.
type Limiter struct {
	client *redis.Client
	prefix string
	limit  int
	window time.Duration
}

// NewLimiter creates a limiter with the given budget per window. A
// non-positive limit or window falls back to the defaults.
func NewLimiter(client *redis.Client, prefix string, limit int, window time.Duration) *Limiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &Limiter{client: client, prefix: prefix, limit: limit, window: window}
}

// Allow records a hit for the key and reports whether it is still within
// budget for the current window.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := l.prefix + ":" + key

	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return true, fmt.Errorf("rate limit check: %w", err)
	}
	if count == 1 {
		// First hit opens the window.
		if err := l.client.Expire(ctx, redisKey, l.window).Err(); err != nil {
			return true, fmt.Errorf("rate limit window: %w", err)
		}
	}

	return count <= int64(l.limit), nil
}

// Reset clears the counter for the key, typically after a successful login.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, l.prefix+":"+key).Err(); err != nil {
		return fmt.Errorf("rate limit reset: %w", err)
	}
	return nil
}

// LoginKey builds the limiter key for a login attempt. Attempts are counted
// per e-mail and client address pair so one caller cannot exhaust another's
// budget.
func LoginKey(email, remoteAddr string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	host := remoteAddr
	if i := strings.LastIndex(remoteAddr, ":"); i > 0 {
		host = remoteAddr[:i]
	}
	return "login:" + email + ":" + host
}
