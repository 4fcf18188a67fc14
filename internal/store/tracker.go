package store

import (
	"context"
	"math"
	"time"

	"marketpulse/internal/cache"
	apperrors "marketpulse/internal/errors"
)

// Tracker keys, one sorted set per namespace.
const (
	PriceTrackerKey = "market_data:accessed_symbols"
	IndexTrackerKey = "market_data:accessed_indices"
)

// AccessTracker records the last time each symbol was requested. Members are
// symbols and scores are unix milliseconds, so re-tracking a symbol moves
// it forward instead of adding a second entry.
type AccessTracker struct {
	cache cache.Store
	key   string
	now   func() time.Time
}

// NewAccessTracker creates a tracker over the sorted set at key.
func NewAccessTracker(c cache.Store, key string, now func() time.Time) *AccessTracker {
	if now == nil {
		now = time.Now
	}
	return &AccessTracker{cache: c, key: key, now: now}
}

// Track stamps every symbol with the current time.
func (t *AccessTracker) Track(ctx context.Context, symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}

	score := float64(t.now().UnixMilli())
	members := make([]cache.Member, len(symbols))
	for i, sym := range symbols {
		members[i] = cache.Member{Name: sym, Score: score}
	}

	if err := t.cache.ZAdd(ctx, t.key, members...); err != nil {
		return apperrors.Store("track access", err)
	}
	return nil
}

// ListTracked returns every tracked symbol, least recently accessed first.
func (t *AccessTracker) ListTracked(ctx context.Context) ([]string, error) {
	return t.rangeNames(ctx, math.Inf(-1), math.Inf(1))
}

// ListActive returns symbols accessed at or after cutoff.
func (t *AccessTracker) ListActive(ctx context.Context, cutoff time.Time) ([]string, error) {
	return t.rangeNames(ctx, float64(cutoff.UnixMilli()), math.Inf(1))
}

// LastAccess returns the recorded access time per symbol.
func (t *AccessTracker) LastAccess(ctx context.Context) (map[string]time.Time, error) {
	members, err := t.cache.ZRangeByScore(ctx, t.key, math.Inf(-1), math.Inf(1))
	if err != nil {
		return nil, apperrors.Store("list tracked", err)
	}
	out := make(map[string]time.Time, len(members))
	for _, m := range members {
		out[m.Name] = time.UnixMilli(int64(m.Score))
	}
	return out, nil
}

// PruneOlderThan removes and returns the symbols last accessed before cutoff.
func (t *AccessTracker) PruneOlderThan(ctx context.Context, cutoff time.Time) ([]string, error) {
	stale, err := t.rangeNames(ctx, math.Inf(-1), float64(cutoff.UnixMilli()-1))
	if err != nil {
		return nil, err
	}
	if len(stale) == 0 {
		return stale, nil
	}

	if _, err := t.cache.ZRem(ctx, t.key, stale...); err != nil {
		return nil, apperrors.Store("prune tracked", err)
	}
	return stale, nil
}

// Count returns the number of tracked symbols.
func (t *AccessTracker) Count(ctx context.Context) (int64, error) {
	n, err := t.cache.ZCard(ctx, t.key)
	if err != nil {
		return 0, apperrors.Store("count tracked", err)
	}
	return n, nil
}

func (t *AccessTracker) rangeNames(ctx context.Context, min, max float64) ([]string, error) {
	members, err := t.cache.ZRangeByScore(ctx, t.key, min, max)
	if err != nil {
		return nil, apperrors.Store("list tracked", err)
	}
	names := make([]string, len(members))
	for i, m := range members {
		names[i] = m.Name
	}
	return names, nil
}
