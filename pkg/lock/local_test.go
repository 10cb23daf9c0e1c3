package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLocalLocker_ContentionAndRelease(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	unlock, err := l.TryLock(ctx, "a")
	require.NoError(t, err)

	_, err = l.TryLock(ctx, "a")
	require.ErrorIs(t, err, ErrLockContention)

	// independent keys never contend
	unlockB, err := l.TryLock(ctx, "b")
	require.NoError(t, err)
	unlockB()

	unlock()
	unlock() // idempotent

	again, err := l.TryLock(ctx, "a")
	require.NoError(t, err)
	again()
	require.Equal(t, 0, l.size())
}

func TestLocalLocker_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewLocalLocker().TryLock(ctx, "a")
	require.ErrorIs(t, err, context.Canceled)
}

func testGuard(l Locker, retries uint64) *Guard {
	return NewGuard(l, RetryPolicy{
		MaxRetries:      retries,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
	}, zap.NewNop().Sugar(), nil)
}

func TestGuard_SurfacesContentionAfterBoundedRetries(t *testing.T) {
	l := NewLocalLocker()
	hold, err := l.TryLock(context.Background(), "k")
	require.NoError(t, err)
	defer hold()

	_, err = testGuard(l, 2).Acquire(context.Background(), "k")
	require.ErrorIs(t, err, ErrLockContention)
}

func TestGuard_RetriesUntilReleased(t *testing.T) {
	l := NewLocalLocker()
	hold, err := l.TryLock(context.Background(), "k")
	require.NoError(t, err)
	go func() {
		time.Sleep(10 * time.Millisecond)
		hold()
	}()

	g := NewGuard(l, RetryPolicy{MaxRetries: 50, InitialInterval: 2 * time.Millisecond, MaxInterval: 5 * time.Millisecond}, zap.NewNop().Sugar(), nil)
	ran := false
	require.NoError(t, g.Do(context.Background(), "k", func() error {
		ran = true
		return nil
	}))
	require.True(t, ran)
	require.Equal(t, 0, l.size())
}

func TestGuard_DoIsMutuallyExclusive(t *testing.T) {
	g := NewGuard(NewLocalLocker(), RetryPolicy{MaxRetries: 1000, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}, zap.NewNop().Sugar(), nil)

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, g.Do(context.Background(), TransactionKey("t1"), func() error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			}))
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), maxInside)
}

func TestGuard_ReleasesOnPanic(t *testing.T) {
	l := NewLocalLocker()
	g := testGuard(l, 0)
	require.Panics(t, func() {
		_ = g.Do(context.Background(), "k", func() error { panic("boom") })
	})
	unlock, err := l.TryLock(context.Background(), "k")
	require.NoError(t, err)
	unlock()
}
