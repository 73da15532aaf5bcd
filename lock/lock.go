// Package lock provides the sweep lock: a redis key shared by every process
// pointing at the same store, or an in-process lock when redis is not
// configured.
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "listing_dedup:lock:"

// releaseScript deletes the key only while it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock is a SetNX lock with a TTL so a crashed holder cannot block
// sweeps forever
type RedisLock struct {
	rdb   *redis.Client
	key   string
	ttl   time.Duration
	mu    sync.Mutex
	token string
}

func NewRedisLock(rdb *redis.Client, name string, ttl time.Duration) *RedisLock {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &RedisLock{rdb: rdb, key: keyPrefix + name, ttl: ttl}
}

// Acquire reports whether the lock was taken. It does not wait.
func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("lock setnx: %w", err)
	}
	if ok {
		l.mu.Lock()
		l.token = token
		l.mu.Unlock()
	}
	return ok, nil
}

// Release drops the lock if this holder still owns it
func (l *RedisLock) Release(ctx context.Context) error {
	l.mu.Lock()
	token := l.token
	l.token = ""
	l.mu.Unlock()
	if token == "" {
		return nil
	}
	if err := releaseScript.Run(ctx, l.rdb, []string{l.key}, token).Err(); err != nil {
		return fmt.Errorf("lock release: %w", err)
	}
	return nil
}

// Local is an in-process lock for single-process deployments
type Local struct {
	mu sync.Mutex
}

func (l *Local) Acquire(context.Context) (bool, error) {
	return l.mu.TryLock(), nil
}

func (l *Local) Release(context.Context) error {
	l.mu.Unlock()
	return nil
}
