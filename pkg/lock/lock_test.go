package lock

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/chronograph/pkg/config"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "episode:g:abc", EpisodeKey("g", "abc"))
	assert.Equal(t, "entity:g:acme corp", EntityKey("g", "  Acme   Corp "))
	assert.Equal(t, EdgeKey("g", "a", "b"), EdgeKey("g", "b", "a"))
	assert.Equal(t, []string{"a", "b", "c"}, sortedKeys([]string{"c", "a", "b", "a"}))
}

func TestNew(t *testing.T) {
	l, err := New(config.LockConfig{Backend: "local"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &LocalLocker{}, l)

	_, err = New(config.LockConfig{Backend: "zookeeper"}, nil)
	assert.ErrorIs(t, err, ErrUnknownBackend)
}

func TestLocalLockerMutualExclusion(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	var (
		inside  int32
		maxSeen int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Overlapping key sets in different orders.
			keys := []string{"entity:g:acme", "entity:g:alice"}
			if i%2 == 0 {
				keys = []string{"entity:g:alice", "entity:g:acme"}
			}
			unlock, err := l.Lock(ctx, keys...)
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxSeen)
				if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxSeen)
	assert.Equal(t, 0, l.Len())
}

func TestLocalLockerContextCancel(t *testing.T) {
	l := NewLocalLocker()
	unlock, err := l.Lock(context.Background(), "a", "b")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "0", "b")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// "0" was taken before the timeout and must have been released.
	unlock0, err := l.Lock(context.Background(), "0")
	require.NoError(t, err)
	unlock0()

	unlock()
	unlock() // second call is a no-op
	assert.Equal(t, 0, l.Len())
}

func TestRedisLocker(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	l, err := NewRedisLockerFromConfig(config.LockConfig{Addr: addr, TTL: 3 * time.Second}, nil)
	require.NoError(t, err)
	defer l.Close()

	key := "test:" + time.Now().Format(time.RFC3339Nano)
	unlock, err := l.Lock(context.Background(), key)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, key)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock2, err := l.Lock(context.Background(), key)
	require.NoError(t, err)
	unlock2()
}
