package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"marketpulse/internal/cache"
	apperrors "marketpulse/internal/errors"
)

// Key prefixes for cached records.
const (
	PricePrefix = "market_data:symbol:"
	IndexPrefix = "market_data:index:"
	NewsPrefix  = "news:"
)

// RecordStore keeps one JSON-encoded record per symbol under a key prefix.
// Absent and expired records are indistinguishable.
type RecordStore[T any] struct {
	cache  cache.Store
	prefix string
}

// NewRecordStore creates a record store rooted at prefix.
func NewRecordStore[T any](c cache.Store, prefix string) *RecordStore[T] {
	return &RecordStore[T]{cache: c, prefix: prefix}
}

// Key returns the cache key for symbol.
func (s *RecordStore[T]) Key(symbol string) string {
	return s.prefix + symbol
}

// Get returns the record and true, or false when there is none.
func (s *RecordStore[T]) Get(ctx context.Context, symbol string) (T, bool, error) {
	var rec T

	data, err := s.cache.Get(ctx, s.Key(symbol))
	if errors.Is(err, cache.ErrNotFound) {
		return rec, false, nil
	}
	if err != nil {
		return rec, false, apperrors.Store("read record", err).WithContext("symbol", symbol)
	}

	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, false, apperrors.Store("decode record", err).WithContext("symbol", symbol)
	}
	return rec, true, nil
}

// Set overwrites the record and restarts its TTL.
func (s *RecordStore[T]) Set(ctx context.Context, symbol string, rec T, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return apperrors.Store("encode record", err).WithContext("symbol", symbol)
	}
	if err := s.cache.Set(ctx, s.Key(symbol), data, ttl); err != nil {
		return apperrors.Store("write record", err).WithContext("symbol", symbol)
	}
	return nil
}

// Delete removes the records for symbols.
func (s *RecordStore[T]) Delete(ctx context.Context, symbols ...string) error {
	if len(symbols) == 0 {
		return nil
	}
	keys := make([]string, len(symbols))
	for i, sym := range symbols {
		keys[i] = s.Key(sym)
	}
	if err := s.cache.Del(ctx, keys...); err != nil {
		return apperrors.Store("delete records", err)
	}
	return nil
}

// TTL returns the remaining lifetime of symbol's record, or one of
// cache.KeyMissing and cache.NoExpiry.
func (s *RecordStore[T]) TTL(ctx context.Context, symbol string) (time.Duration, error) {
	ttl, err := s.cache.TTL(ctx, s.Key(symbol))
	if err != nil {
		return 0, apperrors.Store("read ttl", err).WithContext("symbol", symbol)
	}
	return ttl, nil
}
