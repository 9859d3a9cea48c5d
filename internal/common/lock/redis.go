package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultTTL  = 60 * time.Second
	DefaultWait = 10 * time.Second

	minRetry = 20 * time.Millisecond
	maxRetry = 250 * time.Millisecond
)

// unlockScript deletes the key only while it still holds our token.
const unlockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// RedisLocker holds a lock as a Redis key carrying a random token. The lease
// expires after ttl even if its holder never releases it, and it is never
// renewed, so ttl has to outlast the job timeout of the worker holding it.
//
// Waiters poll with backoff. Waiters on the same key in different processes
// are admitted in no particular order; only mutual exclusion is guaranteed.
// Arrival order inside one process comes from a KeyedMutex in front of it.
type RedisLocker struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
	wait   time.Duration
	token  func() string
}

type RedisOption func(*RedisLocker)

func WithPrefix(prefix string) RedisOption {
	return func(l *RedisLocker) { l.prefix = prefix }
}

func WithTokenFunc(fn func() string) RedisOption {
	return func(l *RedisLocker) { l.token = fn }
}

func NewRedisLocker(client redis.Cmdable, ttl, wait time.Duration, opts ...RedisOption) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if wait < 0 {
		wait = DefaultWait
	}
	l := &RedisLocker{
		client: client,
		prefix: "lock:",
		ttl:    ttl,
		wait:   wait,
		token:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (Release, error) {
	rkey := l.prefix + key
	token := l.token()

	wctx, cancel := withWait(ctx, l.wait)
	defer cancel()

	backoff := minRetry
	for {
		ok, err := l.client.SetNX(wctx, rkey, token, l.ttl).Result()
		if err != nil {
			if wctx.Err() != nil {
				return nil, timeoutError(key, wctx.Err())
			}
			return nil, fmt.Errorf("acquire %s: %w", rkey, err)
		}
		if ok {
			return l.release(rkey, token), nil
		}

		select {
		case <-time.After(backoff):
		case <-wctx.Done():
			return nil, timeoutError(key, wctx.Err())
		}
		backoff = min(backoff*2, maxRetry)
	}
}

func (l *RedisLocker) release(rkey, token string) Release {
	var once sync.Once
	var relErr error
	return func(ctx context.Context) error {
		once.Do(func() {
			if err := l.client.Eval(ctx, unlockScript, []string{rkey}, token).Err(); err != nil {
				relErr = fmt.Errorf("release %s: %w", rkey, err)
			}
		})
		return relErr
	}
}
