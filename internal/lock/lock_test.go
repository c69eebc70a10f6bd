package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func lockers(t *testing.T, wait time.Duration) map[string]Locker {
	client, _ := setupTestRedis(t)
	return map[string]Locker{
		"redis": NewRedisLocker(client, 5*time.Second, wait),
		"local": NewLocalLocker(wait),
	}
}

func TestWithDoctorLockSerializes(t *testing.T) {
	for name, l := range lockers(t, 5*time.Second) {
		t.Run(name, func(t *testing.T) {
			doctorID := uuid.New()
			var inside, maxInside int32
			var wg sync.WaitGroup

			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					err := l.WithDoctorLock(context.Background(), doctorID, func(ctx context.Context) error {
						n := atomic.AddInt32(&inside, 1)
						for {
							m := atomic.LoadInt32(&maxInside)
							if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
								break
							}
						}
						time.Sleep(5 * time.Millisecond)
						atomic.AddInt32(&inside, -1)
						return nil
					})
					assert.NoError(t, err)
				}()
			}
			wg.Wait()

			assert.Equal(t, int32(1), atomic.LoadInt32(&maxInside))
		})
	}
}

func TestWithDoctorLockTimesOut(t *testing.T) {
	for name, l := range lockers(t, 30*time.Millisecond) {
		t.Run(name, func(t *testing.T) {
			doctorID := uuid.New()
			held := make(chan struct{})
			release := make(chan struct{})
			done := make(chan struct{})

			go func() {
				defer close(done)
				_ = l.WithDoctorLock(context.Background(), doctorID, func(ctx context.Context) error {
					close(held)
					<-release
					return nil
				})
			}()
			<-held

			err := l.WithDoctorLock(context.Background(), doctorID, func(ctx context.Context) error {
				t.Fatal("critical section must not run while the lock is held")
				return nil
			})
			assert.ErrorIs(t, err, ErrLockNotAcquired)

			close(release)
			<-done
		})
	}
}

func TestWithDoctorLockIndependentDoctors(t *testing.T) {
	for name, l := range lockers(t, 30*time.Millisecond) {
		t.Run(name, func(t *testing.T) {
			err := l.WithDoctorLock(context.Background(), uuid.New(), func(ctx context.Context) error {
				return l.WithDoctorLock(ctx, uuid.New(), func(ctx context.Context) error { return nil })
			})
			assert.NoError(t, err)
		})
	}
}

func TestWithDoctorLockPropagatesError(t *testing.T) {
	boom := errors.New("boom")
	for name, l := range lockers(t, time.Second) {
		t.Run(name, func(t *testing.T) {
			doctorID := uuid.New()
			err := l.WithDoctorLock(context.Background(), doctorID, func(ctx context.Context) error { return boom })
			assert.ErrorIs(t, err, boom)

			// released after the error
			err = l.WithDoctorLock(context.Background(), doctorID, func(ctx context.Context) error { return nil })
			assert.NoError(t, err)
		})
	}
}

func TestRedisLockerReleasesOnlyOwnToken(t *testing.T) {
	client, mr := setupTestRedis(t)
	l := NewRedisLocker(client, 5*time.Second, 10*time.Millisecond)
	doctorID := uuid.New()
	key := "lock:doctor:" + doctorID.String()

	err := l.WithDoctorLock(context.Background(), doctorID, func(ctx context.Context) error {
		// simulate TTL expiry and another owner taking the key
		require.NoError(t, mr.Set(key, "someone-else"))
		return nil
	})
	require.NoError(t, err)

	got, err := mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}
