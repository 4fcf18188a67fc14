package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketpulse/internal/logger"
)

// Sentinel TTL values, matching what Redis reports.
const (
	KeyMissing time.Duration = -2
	NoExpiry   time.Duration = -1
)

// ErrNotFound is returned by Get for a key that is absent or expired.
var ErrNotFound = errors.New("cache: key not found")

// ErrWrongType is returned when a key holds a different kind of value.
var ErrWrongType = errors.New("cache: operation against a key holding the wrong kind of value")

// Member is one sorted-set entry.
type Member struct {
	Name  string
	Score float64
}

// Store is the key/value, sorted-set and set surface the rest of the
// service relies on. Every operation is atomic for a single key; there are
// no cross-key transactions.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// Set overwrites key and resets its TTL; ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	// TTL returns the remaining lifetime, KeyMissing or NoExpiry.
	TTL(ctx context.Context, key string) (time.Duration, error)
	// Keys lists keys matching a glob pattern (*, ? and \ escapes).
	Keys(ctx context.Context, pattern string) ([]string, error)

	ZAdd(ctx context.Context, key string, members ...Member) error
	// ZRangeByScore returns members with min <= score <= max, lowest first.
	ZRangeByScore(ctx context.Context, key string, min, max float64) ([]Member, error)
	// ZRangeByLex takes Redis lex bounds ("[a", "(a", "-", "+"); count < 0 means all.
	ZRangeByLex(ctx context.Context, key, min, max string, offset, count int64) ([]string, error)
	ZRem(ctx context.Context, key string, members ...string) (int64, error)
	ZCard(ctx context.Context, key string) (int64, error)

	SAdd(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)

	Ping(ctx context.Context) error
	Close() error
}

// Config represents the store configuration
type Config struct {
	Addr        string
	Password    string
	DB          int
	PoolSize    int
	DialTimeout time.Duration

	// Memory selects the in-process store instead of Redis.
	Memory        bool
	MemoryMaxSize int

	// Fallback wraps Redis with an in-memory standby.
	Fallback *FallbackConfig
}

// NewStore creates the store described by cfg. A FallbackStore is returned
// with its health loop running; Close stops it.
func NewStore(cfg *Config, log logger.Logger) (Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("cache config is required")
	}

	if cfg.Memory {
		return NewMemoryStore(cfg.MemoryMaxSize), nil
	}

	redisStore, err := NewRedisStore(cfg, log)
	if err != nil {
		if cfg.Fallback == nil || !cfg.Fallback.StartDegraded {
			return nil, err
		}
		logger.Component(log, "cache").Warn("Redis unreachable, starting on the memory store", "error", err)
		redisStore = NewRedisStoreUnchecked(cfg)
		fb := NewFallbackStore(redisStore, cfg.Fallback, log)
		fb.enableFallback("startup_ping_failed")
		fb.Start(context.Background())
		return fb, nil
	}

	if cfg.Fallback != nil && cfg.Fallback.EnableFallback {
		fb := NewFallbackStore(redisStore, cfg.Fallback, log)
		fb.Start(context.Background())
		return fb, nil
	}
	return redisStore, nil
}

// Match reports whether s matches a Redis-style glob of *, ? and \ escapes.
// Character classes are not supported.
func Match(pattern, s string) bool {
	p, i := 0, 0
	starP, starI := -1, 0
	for i < len(s) {
		if p < len(pattern) {
			switch c := pattern[p]; c {
			case '*':
				starP, starI = p, i
				p++
				continue
			case '?':
				p++
				i++
				continue
			case '\\':
				if p+1 < len(pattern) && pattern[p+1] == s[i] {
					p += 2
					i++
					continue
				}
			default:
				if c == s[i] {
					p++
					i++
					continue
				}
			}
		}
		if starP < 0 {
			return false
		}
		starI++
		p, i = starP+1, starI
	}
	for p < len(pattern) && pattern[p] == '*' {
		p++
	}
	return p == len(pattern)
}
