package locker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpaceDayKeys(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	tests := []struct {
		name  string
		loc   *time.Location
		start time.Time
		end   time.Time
		want  []string
	}{
		{
			name:  "same day",
			loc:   time.UTC,
			start: time.Date(2030, 1, 2, 10, 0, 0, 0, time.UTC),
			end:   time.Date(2030, 1, 2, 12, 0, 0, 0, time.UTC),
			want:  []string{"space:7:2030-01-02"},
		},
		{
			name:  "crosses midnight",
			loc:   time.UTC,
			start: time.Date(2030, 1, 2, 22, 0, 0, 0, time.UTC),
			end:   time.Date(2030, 1, 3, 2, 0, 0, 0, time.UTC),
			want:  []string{"space:7:2030-01-02", "space:7:2030-01-03"},
		},
		{
			name:  "ends at midnight",
			loc:   time.UTC,
			start: time.Date(2030, 1, 2, 22, 0, 0, 0, time.UTC),
			end:   time.Date(2030, 1, 3, 0, 0, 0, 0, time.UTC),
			want:  []string{"space:7:2030-01-02"},
		},
		{
			name:  "local date differs from utc",
			loc:   ny,
			start: time.Date(2030, 1, 3, 2, 0, 0, 0, time.UTC),
			end:   time.Date(2030, 1, 3, 3, 0, 0, 0, time.UTC),
			want:  []string{"space:7:2030-01-02"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SpaceDayKeys(7, tt.loc, tt.start, tt.end))
		})
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, normalize([]string{"c", "a", "b", "a"}))
}

func exerciseMutualExclusion(t *testing.T, l Locker) {
	t.Helper()
	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			keys := []string{"space:1:2030-01-02", "space:1:2030-01-03"}
			if i%2 == 0 {
				keys = []string{keys[1], keys[0]}
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			unlock, err := l.Lock(ctx, keys...)
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}(i)
	}
	wg.Wait()
	assert.EqualValues(t, 1, maxInside)
}

func TestLocalLock(t *testing.T) {
	l := NewLocal()
	exerciseMutualExclusion(t, l)
	assert.Zero(t, l.size())
}

func TestLocalLockTimeout(t *testing.T) {
	l := NewLocal()
	unlock, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "k")
	assert.ErrorIs(t, err, ErrLockTimeout)

	unlock()
	unlock()
	assert.Zero(t, l.size())
}

func newRedisLocker(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client, time.Second, zerolog.Nop()), mr
}

func TestRedisLock(t *testing.T) {
	l, mr := newRedisLocker(t)
	exerciseMutualExclusion(t, l)
	assert.False(t, mr.Exists("lock:space:1:2030-01-02"))
}

func TestRedisLockOnlyOwnerReleases(t *testing.T) {
	l, mr := newRedisLocker(t)
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "k")
	require.NoError(t, err)

	// Simulate expiry and takeover by another holder.
	mr.FastForward(2 * time.Second)
	require.NoError(t, mr.Set("lock:k", "other"))

	unlock()
	v, err := mr.Get("lock:k")
	require.NoError(t, err)
	assert.Equal(t, "other", v)

	tctx, cancel := context.WithTimeout(ctx, 60*time.Millisecond)
	defer cancel()
	_, err = l.Lock(tctx, "k")
	assert.ErrorIs(t, err, ErrLockTimeout)
}

func TestChain(t *testing.T) {
	l, _ := newRedisLocker(t)
	exerciseMutualExclusion(t, Chain{NewLocal(), l})
}
