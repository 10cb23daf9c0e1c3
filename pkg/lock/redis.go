package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fatflowers/billing/pkg/tool"
)

// releaseScript deletes the key only when it still carries our token, so an
// expired lock re-acquired by someone else is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker holds keys with SET NX PX. The TTL bounds how long a crashed
// holder can wedge a transaction.
type RedisLocker struct {
	client redis.UniversalClient
	ttl    time.Duration
	// onReleaseErr is called when the release script fails; nil ignores.
	onReleaseErr func(key string, err error)
}

func NewRedisLocker(client redis.UniversalClient, ttl time.Duration, onReleaseErr func(string, error)) *RedisLocker {
	return &RedisLocker{client: client, ttl: ttl, onReleaseErr: onReleaseErr}
}

func (r *RedisLocker) Backend() string { return "redis" }

func (r *RedisLocker) TryLock(ctx context.Context, key string) (Unlock, error) {
	token := tool.GenerateUUIDV7()
	ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis setnx %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockContention
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			// release must run even when the caller's ctx is already cancelled
			relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			defer cancel()
			if err := releaseScript.Run(relCtx, r.client, []string{key}, token).Err(); err != nil && r.onReleaseErr != nil {
				r.onReleaseErr(key, err)
			}
		})
	}, nil
}
