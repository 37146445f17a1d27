package messaging

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Locker guarantees at most one dispatch in flight. token identifies the
// holder so only it can release the lock.
type Locker interface {
	TryLock(ctx context.Context, token string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, token string) error
}

// DispatchLockKey builds the redis key guarding dispatches on a session.
func DispatchLockKey(session string) string {
	return fmt.Sprintf("whatsapp:session:%s:dispatch", session)
}

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLocker is a SET NX lock shared by every API replica.
type RedisLocker struct {
	client *redis.Client
	key    string
}

// NewRedisLocker returns a redis lock on key, or an in-process lock when
// client is nil.
func NewRedisLocker(client *redis.Client, key string) Locker {
	if client == nil {
		return &LocalLocker{}
	}
	return &RedisLocker{client: client, key: key}
}

// TryLock acquires the lock for ttl unless it is already held.
func (l *RedisLocker) TryLock(ctx context.Context, token string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("messaging: acquire lock: %w", err)
	}
	return ok, nil
}

// Unlock releases the lock if token still holds it.
func (l *RedisLocker) Unlock(ctx context.Context, token string) error {
	if err := unlockScript.Run(ctx, l.client, []string{l.key}, token).Err(); err != nil {
		return fmt.Errorf("messaging: release lock: %w", err)
	}
	return nil
}

// LocalLocker is the single-process fallback used without redis.
type LocalLocker struct {
	mu      sync.Mutex
	holder  string
	expires time.Time
}

// TryLock acquires the lock for ttl unless it is held, by any token, and not
// yet expired.
func (l *LocalLocker) TryLock(_ context.Context, token string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	if l.holder != "" && now.Before(l.expires) {
		return false, nil
	}
	l.holder = token
	l.expires = now.Add(ttl)
	return true, nil
}

// Unlock releases the lock if token still holds it.
func (l *LocalLocker) Unlock(_ context.Context, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.holder == token {
		l.holder = ""
	}
	return nil
}
