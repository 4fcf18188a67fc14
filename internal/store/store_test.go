package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketpulse/internal/cache"
	apperrors "marketpulse/internal/errors"
	"marketpulse/internal/market"
)

type stepClock struct{ now time.Time }

func (c *stepClock) Now() time.Time          { return c.now }
func (c *stepClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newClock() *stepClock {
	return &stepClock{now: time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC)}
}

func TestRecordStore(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	mem := cache.NewMemoryStore(100)
	mem.SetClock(clock.Now)
	prices := NewRecordStore[market.PriceRecord](mem, PricePrefix)

	rec := market.PriceRecord{Symbol: "AAPL", Price: 150, Change: 1, PercentChange: 0.67, Timestamp: clock.Now()}

	t.Run("Missing record", func(t *testing.T) {
		_, ok, err := prices.Get(ctx, "AAPL")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Round trip under the price prefix", func(t *testing.T) {
		require.NoError(t, prices.Set(ctx, "AAPL", rec, time.Minute))

		got, ok, err := prices.Get(ctx, "AAPL")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, rec.Price, got.Price)
		assert.True(t, rec.Timestamp.Equal(got.Timestamp))

		exists, _ := mem.Exists(ctx, "market_data:symbol:AAPL")
		assert.True(t, exists)
	})

	t.Run("Expired reads like absent", func(t *testing.T) {
		clock.Advance(time.Minute)
		_, ok, err := prices.Get(ctx, "AAPL")
		require.NoError(t, err)
		assert.False(t, ok)

		ttl, err := prices.TTL(ctx, "AAPL")
		require.NoError(t, err)
		assert.Equal(t, cache.KeyMissing, ttl)
	})

	t.Run("Sliding TTL", func(t *testing.T) {
		ttl := 60 * time.Second
		require.NoError(t, prices.Set(ctx, "MSFT", rec, ttl))
		clock.Advance(ttl / 2)
		require.NoError(t, prices.Set(ctx, "MSFT", rec, ttl))
		clock.Advance(ttl / 2)

		_, ok, err := prices.Get(ctx, "MSFT")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("Corrupt payload is a store error", func(t *testing.T) {
		require.NoError(t, mem.Set(ctx, prices.Key("BAD"), []byte("{"), time.Minute))
		_, _, err := prices.Get(ctx, "BAD")
		assert.True(t, apperrors.Is(err, apperrors.ErrCodeStore))
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, prices.Delete(ctx, "MSFT", "BAD"))
		_, ok, _ := prices.Get(ctx, "MSFT")
		assert.False(t, ok)
	})
}

func TestIndexRecordsUseTheirOwnNamespace(t *testing.T) {
	ctx := context.Background()
	mem := cache.NewMemoryStore(100)
	prices := NewRecordStore[market.PriceRecord](mem, PricePrefix)
	indices := NewRecordStore[market.IndexRecord](mem, IndexPrefix)

	require.NoError(t, indices.Set(ctx, "SPX", market.IndexRecord{Name: "S&P 500"}, time.Minute))

	_, ok, err := prices.Get(ctx, "SPX")
	require.NoError(t, err)
	assert.False(t, ok)

	got, ok, err := indices.Get(ctx, "SPX")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "S&P 500", got.Name)
}

func TestAccessTrackerIdempotentTracking(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	tracker := NewAccessTracker(cache.NewMemoryStore(100), PriceTrackerKey, clock.Now)

	var last time.Time
	for i := 0; i < 5; i++ {
		require.NoError(t, tracker.Track(ctx, []string{"AAPL"}))
		last = clock.Now()
		clock.Advance(time.Second)
	}

	count, err := tracker.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	access, err := tracker.LastAccess(ctx)
	require.NoError(t, err)
	assert.True(t, access["AAPL"].Equal(last), "score should be the last call's timestamp")
}

func TestAccessTrackerPrune(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	tracker := NewAccessTracker(cache.NewMemoryStore(100), PriceTrackerKey, clock.Now)

	require.NoError(t, tracker.Track(ctx, []string{"OLD", "OLDER"}))
	clock.Advance(5 * time.Minute)
	require.NoError(t, tracker.Track(ctx, []string{"NEW"}))

	cutoff := clock.Now().Add(-time.Minute)

	active, err := tracker.ListActive(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, []string{"NEW"}, active)

	removed, err := tracker.PruneOlderThan(ctx, cutoff)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"OLD", "OLDER"}, removed)

	tracked, err := tracker.ListTracked(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"NEW"}, tracked)

	removed, err = tracker.PruneOlderThan(ctx, cutoff)
	require.NoError(t, err)
	assert.Empty(t, removed)
}

type brokenStore struct{ cache.Store }

func (brokenStore) ZAdd(context.Context, string, ...cache.Member) error {
	return errors.New("connection reset")
}

func TestAccessTrackerWrapsStoreErrors(t *testing.T) {
	tracker := NewAccessTracker(brokenStore{cache.NewMemoryStore(10)}, PriceTrackerKey, nil)
	err := tracker.Track(context.Background(), []string{"AAPL"})
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeStore))
}
