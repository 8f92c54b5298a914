// Package lock implements the per-project generation lock.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/bazaar-it/bazaar-sub000/internal/model"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ProjectLock is a lease held in Redis. Acquire never waits: a held lock
// yields model.ErrSessionLocked. The lease expires after ttl so a crashed
// worker cannot block a project forever.
type ProjectLock struct {
	redis *redis.Client
	ttl   time.Duration
}

// New creates a new ProjectLock
func New(redisClient *redis.Client, ttl time.Duration) *ProjectLock {
	return &ProjectLock{redis: redisClient, ttl: ttl}
}

func key(projectID string) string {
	return fmt.Sprintf("lock:project:%s", projectID)
}

// Acquire takes the lock and returns the token needed to release it.
func (l *ProjectLock) Acquire(ctx context.Context, projectID string) (string, error) {
	token := uuid.New().String()
	ok, err := l.redis.SetNX(ctx, key(projectID), token, l.ttl).Result()
	if err != nil {
		return "", fmt.Errorf("acquire lock: %w: %v", model.ErrStoreUnavailable, err)
	}
	if !ok {
		return "", model.ErrSessionLocked
	}
	return token, nil
}

// Release frees the lock if token still owns it. It reports whether this
// call released the lock, so a second release is a no-op.
func (l *ProjectLock) Release(ctx context.Context, projectID, token string) (bool, error) {
	n, err := releaseScript.Run(ctx, l.redis, []string{key(projectID)}, token).Int()
	if err != nil {
		return false, fmt.Errorf("release lock: %w: %v", model.ErrStoreUnavailable, err)
	}
	return n == 1, nil
}

// Extend pushes the lease expiry out while a long session is still running.
func (l *ProjectLock) Extend(ctx context.Context, projectID, token string) (bool, error) {
	n, err := extendScript.Run(ctx, l.redis, []string{key(projectID)}, token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("extend lock: %w: %v", model.ErrStoreUnavailable, err)
	}
	return n == 1, nil
}

// Held reports whether any session holds the project lock.
func (l *ProjectLock) Held(ctx context.Context, projectID string) (bool, error) {
	n, err := l.redis.Exists(ctx, key(projectID)).Result()
	if err != nil {
		return false, fmt.Errorf("check lock: %w: %v", model.ErrStoreUnavailable, err)
	}
	return n > 0, nil
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)
