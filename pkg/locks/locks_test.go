package locks

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mefRedis "github.com/Ramsey-B/mef/pkg/redis"
)

func redisLocker(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	return NewRedis(mefRedis.Wrap(rdb, "test", logger), time.Second, 100*time.Millisecond), mr
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, normalize([]string{"b", "", "a", "b"}))
}

func TestLockersExclude(t *testing.T) {
	rl, _ := redisLocker(t)
	for name, l := range map[string]Locker{"memory": NewMemory(), "redis": rl} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			unlock, err := l.Lock(ctx, "cluster:1", "key:viaf:9")
			require.NoError(t, err)

			short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
			defer cancel()
			_, err = l.Lock(short, "key:viaf:9")
			assert.Error(t, err)

			unlock()
			unlock2, err := l.Lock(ctx, "key:viaf:9")
			require.NoError(t, err)
			unlock2()
		})
	}
}

func TestMemoryLockSerializes(t *testing.T) {
	l := NewMemory()
	ctx := context.Background()
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, "b", "a")
			if err != nil {
				return
			}
			counter++
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
	assert.Empty(t, l.slots)
}

func TestRedisLockRelease(t *testing.T) {
	l, mr := redisLocker(t)
	ctx := context.Background()

	lock, err := l.Acquire(ctx, "x", time.Second)
	require.NoError(t, err)
	_, err = l.Acquire(ctx, "x", time.Second)
	assert.ErrorIs(t, err, ErrLockNotAcquired)

	require.NoError(t, lock.Extend(ctx, 2*time.Second))
	mr.FastForward(3 * time.Second)
	assert.ErrorIs(t, lock.Release(ctx), ErrLockNotHeld)

	lock, err = l.Acquire(ctx, "x", time.Second)
	require.NoError(t, err)
	assert.NoError(t, lock.Release(ctx))
}
