package workflow

import (
	"context"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/adops_backend/utils"
	"github.com/alicebob/miniredis/v2"
	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedMutex_SerializesPerKey(t *testing.T) {
	ctx := context.Background()
	k := NewKeyedMutex(30 * time.Millisecond)

	unlock, err := k.Lock(ctx, "M-1")
	require.NoError(t, err)

	_, err = k.Lock(ctx, "M-1")
	assert.True(t, utils.IsTransientConflict(err), "second holder: %v", err)

	other, err := k.Lock(ctx, "M-2")
	require.NoError(t, err, "other keys are independent")
	other()

	unlock()
	unlock()

	again, err := k.Lock(ctx, "M-1")
	require.NoError(t, err)
	again()

	k.mu.Lock()
	assert.Empty(t, k.slots)
	k.mu.Unlock()
}

func TestKeyedMutex_WaiterProceedsAfterRelease(t *testing.T) {
	ctx := context.Background()
	k := NewKeyedMutex(time.Second)

	unlock, err := k.Lock(ctx, "M-1")
	require.NoError(t, err)

	acquired := make(chan error, 1)
	go func() {
		u, err := k.Lock(ctx, "M-1")
		if err == nil {
			u()
		}
		acquired <- err
	}()

	time.Sleep(20 * time.Millisecond)
	unlock()
	assert.NoError(t, <-acquired)
}

func TestKeyedMutex_CancelledContext(t *testing.T) {
	k := NewKeyedMutex(0)
	unlock, err := k.Lock(context.Background(), "M-1")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = k.Lock(ctx, "M-1")
	assert.True(t, utils.IsTransientConflict(err))
}

func TestLockWait_NeverUnbounded(t *testing.T) {
	assert.Equal(t, defaultLockWait, lockWait(0))
	assert.Equal(t, defaultLockWait, lockWait(-time.Second))
	assert.Equal(t, time.Second, lockWait(time.Second))

	k := NewKeyedMutex(0)
	unlock, err := k.Lock(context.Background(), "M-1")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = k.Lock(ctx, "M-1")
	assert.True(t, utils.IsTransientConflict(err))
}

func TestRedisMatrixLocker_ExclusiveAcrossClients(t *testing.T) {
	mr := miniredis.RunT(t)
	newLocker := func() *RedisMatrixLocker {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		return NewRedisMatrixLocker(redislock.New(client), 100*time.Millisecond)
	}
	first, second := newLocker(), newLocker()
	ctx := context.Background()

	unlock, err := first.Lock(ctx, "M-1")
	require.NoError(t, err)
	assert.True(t, mr.Exists("matrix-budget:M-1"))

	_, err = second.Lock(ctx, "M-1")
	assert.True(t, utils.IsTransientConflict(err), "got %v", err)

	unlock()
	assert.False(t, mr.Exists("matrix-budget:M-1"))

	unlock2, err := second.Lock(ctx, "M-1")
	require.NoError(t, err)
	unlock2()
}

func TestBalanceLedger_WithRedisLocker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	l, ctx := newTestLedger(t)
	l.Locker = NewRedisMatrixLocker(redislock.New(client), time.Second)
	mustMatrix(t, ctx, l, "M-1", "100")
	mustAbatement(t, ctx, l, "M-1", "A-1", "60")

	_, err := l.CreateAbatement(ctx, "M-1", mustInput("A-2", "41"))
	assert.True(t, utils.IsConflict(err))
	assert.False(t, mr.Exists("matrix-budget:M-1"), "lock released after the request")
}
