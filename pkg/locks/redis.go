package locks

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	mefRedis "github.com/Ramsey-B/mef/pkg/redis"
)

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

var extendScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

// Lock is one held Redis lock.
type Lock struct {
	client *mefRedis.Client
	key    string
	value  string
	ttl    time.Duration
}

// Redis is a distributed Locker using SET NX with an owner token.
type Redis struct {
	client  *mefRedis.Client
	ttl     time.Duration
	timeout time.Duration
}

// NewRedis returns a locker whose locks expire after ttl and whose acquisition
// gives up after timeout.
func NewRedis(client *mefRedis.Client, ttl, timeout time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if timeout <= 0 {
		timeout = ttl
	}
	return &Redis{client: client, ttl: ttl, timeout: timeout}
}

// Acquire attempts to acquire a lock once.
func (l *Redis) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	lockKey := l.client.Key("lock", key)
	lockValue := uuid.New().String()

	ok, err := l.client.Redis().SetNX(ctx, lockKey, lockValue, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockNotAcquired
	}

	l.client.Logger().WithContext(ctx).Debugf("Acquired lock: %s", key)
	return &Lock{client: l.client, key: lockKey, value: lockValue, ttl: ttl}, nil
}

// TryAcquire retries Acquire with capped exponential backoff until timeout.
func (l *Redis) TryAcquire(ctx context.Context, key string, ttl, timeout time.Duration) (*Lock, error) {
	deadline := time.Now().Add(timeout)
	backoff := 10 * time.Millisecond

	for time.Now().Before(deadline) {
		lock, err := l.Acquire(ctx, key, ttl)
		if err == nil {
			return lock, nil
		}
		if !errors.Is(err, ErrLockNotAcquired) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
			if backoff > 500*time.Millisecond {
				backoff = 500 * time.Millisecond
			}
		}
	}
	return nil, ErrLockNotAcquired
}

func (l *Redis) Lock(ctx context.Context, keys ...string) (func(), error) {
	keys = normalize(keys)
	held := make([]*Lock, 0, len(keys))
	unlock := func() {
		for i := len(held) - 1; i >= 0; i-- {
			if err := held[i].Release(context.WithoutCancel(ctx)); err != nil {
				l.client.Logger().WithContext(ctx).WithError(err).Warnf("Failed to release lock %s", held[i].key)
			}
		}
		held = held[:0]
	}

	for _, key := range keys {
		lock, err := l.TryAcquire(ctx, key, l.ttl, l.timeout)
		if err != nil {
			unlock()
			return nil, err
		}
		held = append(held, lock)
	}
	return unlock, nil
}

// Release deletes the lock if this owner still holds it.
func (lock *Lock) Release(ctx context.Context) error {
	result, err := releaseScript.Run(ctx, lock.client.Redis(), []string{lock.key}, lock.value).Int64()
	if err != nil {
		return err
	}
	if result == 0 {
		return ErrLockNotHeld
	}
	lock.client.Logger().WithContext(ctx).Debugf("Released lock: %s", lock.key)
	return nil
}

// Extend extends the lock's TTL
func (lock *Lock) Extend(ctx context.Context, ttl time.Duration) error {
	result, err := extendScript.Run(ctx, lock.client.Redis(), []string{lock.key}, lock.value, ttl.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if result == 0 {
		return ErrLockNotHeld
	}
	lock.ttl = ttl
	return nil
}
