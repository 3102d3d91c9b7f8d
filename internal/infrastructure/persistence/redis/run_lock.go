package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RunLock implements segmentation.RunLock with SET NX PX and a
// compare-and-delete release.
type RunLock struct {
	client Client
	key    string
	ttl    time.Duration
}

// NewRunLock creates a lock on LockKey(resource). A non-positive ttl uses TTLRunLock.
func NewRunLock(cache *Cache, resource string, ttl time.Duration) *RunLock {
	if ttl <= 0 {
		ttl = TTLRunLock
	}
	return &RunLock{client: cache.Client(), key: LockKey(resource), ttl: ttl}
}

// Acquire tries to take the lock once. ok is false when another holder has it.
func (l *RunLock) Acquire(ctx context.Context) (func(context.Context) error, bool, error) {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire %s: %w", l.key, err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Err(); err != nil {
			return fmt.Errorf("release %s: %w", l.key, err)
		}
		return nil
	}
	return release, true, nil
}
