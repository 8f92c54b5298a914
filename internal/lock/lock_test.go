package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bazaar-it/bazaar-sub000/internal/model"
)

func newTestLock(t *testing.T, ttl time.Duration) (*ProjectLock, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client, ttl), mr
}

func TestAcquire_RejectsSecondHolder(t *testing.T) {
	l, _ := newTestLock(t, time.Minute)
	ctx := context.Background()

	token, err := l.Acquire(ctx, "p1")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	_, err = l.Acquire(ctx, "p1")
	assert.ErrorIs(t, err, model.ErrSessionLocked)

	_, err = l.Acquire(ctx, "p2")
	assert.NoError(t, err, "projects lock independently")
}

func TestRelease_ExactlyOnce(t *testing.T) {
	l, _ := newTestLock(t, time.Minute)
	ctx := context.Background()

	token, err := l.Acquire(ctx, "p1")
	require.NoError(t, err)

	released, err := l.Release(ctx, "p1", "someone-else")
	require.NoError(t, err)
	assert.False(t, released)

	released, err = l.Release(ctx, "p1", token)
	require.NoError(t, err)
	assert.True(t, released)

	released, err = l.Release(ctx, "p1", token)
	require.NoError(t, err)
	assert.False(t, released)

	held, err := l.Held(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, held)
}

func TestRelease_DoesNotFreeNewerHolder(t *testing.T) {
	l, mr := newTestLock(t, time.Second)
	ctx := context.Background()

	stale, err := l.Acquire(ctx, "p1")
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	fresh, err := l.Acquire(ctx, "p1")
	require.NoError(t, err)

	released, err := l.Release(ctx, "p1", stale)
	require.NoError(t, err)
	assert.False(t, released)

	held, err := l.Held(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, held)

	ok, err := l.Extend(ctx, "p1", fresh)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAcquire_ConcurrentRequestsOneWinner(t *testing.T) {
	l, _ := newTestLock(t, time.Minute)

	var winners, locked int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Acquire(context.Background(), "p1")
			switch {
			case err == nil:
				atomic.AddInt32(&winners, 1)
			case err == model.ErrSessionLocked:
				atomic.AddInt32(&locked, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners)
	assert.Equal(t, int32(19), locked)
}

func TestAcquire_StoreDown(t *testing.T) {
	l, mr := newTestLock(t, time.Minute)
	mr.Close()

	_, err := l.Acquire(context.Background(), "p1")
	assert.ErrorIs(t, err, model.ErrStoreUnavailable)
}
