package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockNotHeld is returned when releasing a lock that expired or was
// taken over by another holder.
var ErrLockNotHeld = errors.New("lock not held")

// Locker hands out named mutual-exclusion locks.
type Locker interface {
	// Acquire blocks until the lock is held or ctx is done. The returned
	// release func must be called exactly once.
	Acquire(ctx context.Context, name string, ttl time.Duration) (release func(context.Context) error, err error)
}

const lockPollInterval = 50 * time.Millisecond

// releaseScript deletes the key only while it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX PX on a shared Redis.
type RedisLocker struct {
	client *RedisClient
}

// NewRedisLocker creates a locker on an existing Redis client.
func NewRedisLocker(client *RedisClient) *RedisLocker {
	return &RedisLocker{client: client}
}

// Acquire implements Locker.
func (l *RedisLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, error) {
	key := l.client.prefix + CacheKey("lock", name)
	token := uuid.NewString()

	ticker := time.NewTicker(lockPollInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.client.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", name, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire lock %s: %w", name, ctx.Err())
		case <-ticker.C:
		}
	}

	release := func(ctx context.Context) error {
		n, err := releaseScript.Run(ctx, l.client.client, []string{key}, token).Int()
		if err != nil {
			return fmt.Errorf("release lock %s: %w", name, err)
		}
		if n == 0 {
			return fmt.Errorf("release lock %s: %w", name, ErrLockNotHeld)
		}
		return nil
	}
	return release, nil
}

// MemoryLocker implements Locker inside one process. The ttl is ignored;
// a holder keeps the lock until it releases.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewMemoryLocker creates an in-process locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: map[string]chan struct{}{}}
}

func (l *MemoryLocker) slot(name string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch, ok := l.locks[name]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[name] = ch
	}
	return ch
}

// Acquire implements Locker.
func (l *MemoryLocker) Acquire(ctx context.Context, name string, _ time.Duration) (func(context.Context) error, error) {
	ch := l.slot(name)

	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire lock %s: %w", name, ctx.Err())
	}

	var once sync.Once
	release := func(context.Context) error {
		err := fmt.Errorf("release lock %s: %w", name, ErrLockNotHeld)
		once.Do(func() {
			<-ch
			err = nil
		})
		return err
	}
	return release, nil
}
