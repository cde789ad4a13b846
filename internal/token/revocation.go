package token

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RevocationList records account-level access token revocations. A revoked
// account invalidates every access token issued at or before the revocation
// time, closing the window between logout or a password change and the
// token's natural expiry.
type RevocationList interface {
	Revoke(ctx context.Context, accountID string) error
	RevokedAt(ctx context.Context, accountID string) (time.Time, bool, error)
}

// RedisRevocationList stores revocation timestamps in Redis, keyed by
// account id. Entries expire with the access token lifetime since older
// tokens are already dead.
type RedisRevocationList struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisRevocationList creates a Redis-backed revocation list. ttl should
// be the access token expiry.
func NewRedisRevocationList(client *redis.Client, prefix string, ttl time.Duration) *RedisRevocationList {
	return &RedisRevocationList{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (l *RedisRevocationList) key(accountID string) string {
	return l.prefix + ":" + accountID
}

// Revoke stamps the account's revocation time.
func (l *RedisRevocationList) Revoke(ctx context.Context, accountID string) error {
	ts := strconv.FormatInt(l.now().Unix(), 10)
	if err := l.client.Set(ctx, l.key(accountID), ts, l.ttl).Err(); err != nil {
		return fmt.Errorf("store revocation: %w", err)
	}
	return nil
}

// RevokedAt reports the account's last revocation time, if any.
func (l *RedisRevocationList) RevokedAt(ctx context.Context, accountID string) (time.Time, bool, error) {
	val, err := l.client.Get(ctx, l.key(accountID)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("load revocation: %w", err)
	}
	unix, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse revocation timestamp: %w", err)
	}
	return time.Unix(unix, 0).UTC(), true, nil
}

// MemoryRevocationList is an in-memory RevocationList for tests and
// single-process deployments.
type MemoryRevocationList struct {
	mu      sync.RWMutex
	entries map[string]time.Time
}

// NewMemoryRevocationList creates an empty in-memory revocation list.
func NewMemoryRevocationList() *MemoryRevocationList {
	return &MemoryRevocationList{entries: make(map[string]time.Time)}
}

// Revoke stamps the account's revocation time.
func (l *MemoryRevocationList) Revoke(_ context.Context, accountID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[accountID] = time.Now().UTC()
	return nil
}

// RevokedAt reports the account's last revocation time, if any.
func (l *MemoryRevocationList) RevokedAt(_ context.Context, accountID string) (time.Time, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	at, ok := l.entries[accountID]
	return at, ok, nil
}
