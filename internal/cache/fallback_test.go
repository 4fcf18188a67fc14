package cache

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketpulse/internal/logger"
)

// flakyStore wraps a MemoryStore and fails every call while down is set.
type flakyStore struct {
	*MemoryStore
	down  atomic.Bool
	calls atomic.Int64
}

var errDown = errors.New("connection refused")

func newFlakyStore() *flakyStore {
	return &flakyStore{MemoryStore: NewMemoryStore(100)}
}

func (f *flakyStore) Get(ctx context.Context, key string) ([]byte, error) {
	f.calls.Add(1)
	if f.down.Load() {
		return nil, errDown
	}
	return f.MemoryStore.Get(ctx, key)
}

func (f *flakyStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	f.calls.Add(1)
	if f.down.Load() {
		return errDown
	}
	return f.MemoryStore.Set(ctx, key, value, ttl)
}

func (f *flakyStore) Ping(ctx context.Context) error {
	if f.down.Load() {
		return errDown
	}
	return nil
}

func TestFallbackStore(t *testing.T) {
	ctx := context.Background()
	primary := newFlakyStore()
	config := DefaultFallbackConfig()
	config.FailureThreshold = 2
	config.RecoveryThreshold = 2

	store := NewFallbackStore(primary, config, logger.Discard())

	var switches []bool
	store.OnStateChange(func(on bool) { switches = append(switches, on) })

	t.Run("Healthy primary serves everything", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute))
		got, err := store.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "v", string(got))
		assert.False(t, store.InFallback())
	})

	t.Run("A miss is not a failure", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			_, err := store.Get(ctx, "absent")
			assert.ErrorIs(t, err, ErrNotFound)
		}
		assert.False(t, store.InFallback())
	})

	t.Run("Consecutive failures trip the fallback", func(t *testing.T) {
		primary.down.Store(true)

		// failed primary writes still land in the standby
		require.NoError(t, store.Set(ctx, "a", []byte("1"), time.Minute))
		assert.False(t, store.InFallback())
		require.NoError(t, store.Set(ctx, "b", []byte("2"), time.Minute))
		assert.True(t, store.InFallback())

		before := primary.calls.Load()
		got, err := store.Get(ctx, "b")
		require.NoError(t, err)
		assert.Equal(t, "2", string(got))
		assert.Equal(t, before, primary.calls.Load(), "primary must be skipped while in fallback")
	})

	t.Run("Health checks recover the primary", func(t *testing.T) {
		store.CheckHealth(ctx)
		assert.True(t, store.InFallback())

		primary.down.Store(false)
		store.CheckHealth(ctx)
		assert.True(t, store.InFallback())
		store.CheckHealth(ctx)
		assert.False(t, store.InFallback())

		got, err := store.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "v", string(got))
	})

	assert.Equal(t, []bool{true, false}, switches)
	stats := store.Stats()
	assert.Equal(t, int64(2), stats.FallbackEvents)
	assert.Equal(t, 2, stats.StandbyKeys)
}

func TestNewStoreMemory(t *testing.T) {
	store, err := NewStore(&Config{Memory: true}, nil)
	require.NoError(t, err)
	_, ok := store.(*MemoryStore)
	assert.True(t, ok)

	_, err = NewStore(nil, nil)
	assert.Error(t, err)
}

func TestNewStoreStartsDegraded(t *testing.T) {
	fallback := DefaultFallbackConfig()
	fallback.StartDegraded = true

	store, err := NewStore(&Config{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, Fallback: fallback}, logger.Discard())
	require.NoError(t, err)
	defer store.Close()

	fb, ok := store.(*FallbackStore)
	require.True(t, ok)
	assert.True(t, fb.InFallback())
	require.NoError(t, fb.Set(context.Background(), "k", []byte("v"), time.Minute))
}

func TestNewStoreRecoversWhenRedisComesUp(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	fallback := DefaultFallbackConfig()
	fallback.StartDegraded = true
	fallback.HealthCheckInterval = 20 * time.Millisecond
	fallback.RecoveryThreshold = 1
	fallback.FallbackTimeout = 200 * time.Millisecond

	store, err := NewStore(&Config{Addr: addr, DialTimeout: 100 * time.Millisecond, Fallback: fallback}, logger.Discard())
	require.NoError(t, err)
	defer store.Close()

	fb, ok := store.(*FallbackStore)
	require.True(t, ok)
	require.True(t, fb.InFallback())

	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.StartAddr(addr))
	t.Cleanup(mr.Close)

	assert.Eventually(t, func() bool { return !fb.InFallback() }, 3*time.Second, 20*time.Millisecond,
		"health loop should switch back to redis")

	require.NoError(t, store.Set(context.Background(), "k", []byte("v"), time.Minute))
	assert.True(t, mr.Exists("k"))
}
