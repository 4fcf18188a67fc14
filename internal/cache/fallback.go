package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"marketpulse/internal/logger"
)

// FallbackConfig defines fallback configuration
type FallbackConfig struct {
	EnableFallback      bool          `yaml:"enable_fallback" json:"enable_fallback"`
	StartDegraded       bool          `yaml:"start_degraded" json:"start_degraded"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`
	FailureThreshold    int           `yaml:"failure_threshold" json:"failure_threshold"`
	RecoveryThreshold   int           `yaml:"recovery_threshold" json:"recovery_threshold"`
	FallbackTimeout     time.Duration `yaml:"fallback_timeout" json:"fallback_timeout"`
	MaxMemoryCacheSize  int           `yaml:"max_memory_cache_size" json:"max_memory_cache_size"`
}

// DefaultFallbackConfig returns default fallback configuration
func DefaultFallbackConfig() *FallbackConfig {
	return &FallbackConfig{
		EnableFallback:      true,
		HealthCheckInterval: 30 * time.Second,
		FailureThreshold:    3,
		RecoveryThreshold:   2,
		FallbackTimeout:     5 * time.Second,
		MaxMemoryCacheSize:  10000,
	}
}

// FallbackStats is a snapshot of the fallback state.
type FallbackStats struct {
	InFallback          bool      `json:"in_fallback"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	ConsecutiveRecovery int       `json:"consecutive_recovery"`
	FallbackEvents      int64     `json:"fallback_events"`
	LastFailure         string    `json:"last_failure,omitempty"`
	LastChange          time.Time `json:"last_change"`
	StandbyKeys         int       `json:"standby_keys"`
	StandbyEvictions    int64     `json:"standby_evictions"`
}

// FallbackStore routes every operation to the primary store and switches to
// an in-memory standby after FailureThreshold consecutive primary failures.
// A health loop started with Start switches back once the primary answers
// RecoveryThreshold pings in a row. Data written to the standby is not
// copied back.
type FallbackStore struct {
	primary Store
	memory  *MemoryStore
	config  *FallbackConfig
	log     logger.Logger

	mu        sync.RWMutex
	fallback  bool
	failures  int
	recovery  int
	events    int64
	lastError string
	changed   time.Time
	onChange  func(inFallback bool)

	stopOnce sync.Once
	stop     chan struct{}
}

// NewFallbackStore wraps primary with an in-memory standby.
func NewFallbackStore(primary Store, config *FallbackConfig, log logger.Logger) *FallbackStore {
	if config == nil {
		config = DefaultFallbackConfig()
	}
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 3
	}
	if config.RecoveryThreshold <= 0 {
		config.RecoveryThreshold = 2
	}

	return &FallbackStore{
		primary: primary,
		memory:  NewMemoryStore(config.MaxMemoryCacheSize),
		config:  config,
		log:     logger.Component(log, "cache-fallback"),
		changed: time.Now(),
		stop:    make(chan struct{}),
	}
}

// Start runs the primary health check loop until Stop or ctx is done.
func (f *FallbackStore) Start(ctx context.Context) {
	interval := f.config.HealthCheckInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-f.stop:
				return
			case <-ticker.C:
				f.CheckHealth(ctx)
			}
		}
	}()
}

// Stop stops the health loop started by Start.
func (f *FallbackStore) Stop() {
	f.stopOnce.Do(func() {
		close(f.stop)
	})
}

// CheckHealth pings the primary once and updates the fallback state.
func (f *FallbackStore) CheckHealth(ctx context.Context) {
	timeout := f.config.FallbackTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := f.primary.Ping(pingCtx); err != nil {
		f.recordFailure("health_check", err)
		return
	}

	f.mu.Lock()
	f.failures = 0
	if !f.fallback {
		f.mu.Unlock()
		return
	}
	f.recovery++
	recovered := f.recovery >= f.config.RecoveryThreshold
	f.mu.Unlock()

	if recovered {
		f.disableFallback("health_check_recovery")
	}
}

// OnStateChange registers fn to be called after every switch.
func (f *FallbackStore) OnStateChange(fn func(inFallback bool)) {
	f.mu.Lock()
	f.onChange = fn
	f.mu.Unlock()
}

// InFallback reports whether operations are currently served by the standby.
func (f *FallbackStore) InFallback() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.fallback
}

// Stats returns a snapshot of the fallback state
func (f *FallbackStore) Stats() FallbackStats {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return FallbackStats{
		InFallback:          f.fallback,
		ConsecutiveFailures: f.failures,
		ConsecutiveRecovery: f.recovery,
		FallbackEvents:      f.events,
		LastFailure:         f.lastError,
		LastChange:          f.changed,
		StandbyKeys:         f.memory.Size(),
		StandbyEvictions:    f.memory.Evictions(),
	}
}

func (f *FallbackStore) recordFailure(op string, err error) {
	f.mu.Lock()
	f.failures++
	f.recovery = 0
	f.lastError = op + ": " + err.Error()
	trip := !f.fallback && f.failures >= f.config.FailureThreshold
	f.mu.Unlock()

	f.log.Warn("Primary store operation failed", "op", op, "error", err)
	if trip {
		f.enableFallback(op + "_failure")
	}
}

func (f *FallbackStore) recordSuccess() {
	f.mu.Lock()
	f.failures = 0
	f.mu.Unlock()
}

// enableFallback enables fallback mode
func (f *FallbackStore) enableFallback(reason string) {
	f.setFallback(true, reason)
}

// disableFallback disables fallback mode
func (f *FallbackStore) disableFallback(reason string) {
	f.setFallback(false, reason)
}

func (f *FallbackStore) setFallback(on bool, reason string) {
	f.mu.Lock()
	if f.fallback == on {
		f.mu.Unlock()
		return
	}
	f.fallback = on
	f.failures = 0
	f.recovery = 0
	f.events++
	f.changed = time.Now()
	callback := f.onChange
	f.mu.Unlock()

	if on {
		f.log.Warn("Cache fallback enabled", "reason", reason)
	} else {
		f.log.Info("Cache fallback disabled", "reason", reason)
	}
	if callback != nil {
		callback(on)
	}
}

// try runs fn on the primary unless in fallback, and on the standby when
// the primary is skipped or fails. Misses are not failures.
func (f *FallbackStore) try(op string, fn func(Store) error) error {
	if !f.InFallback() {
		err := fn(f.primary)
		if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrWrongType) {
			f.recordSuccess()
			return err
		}
		f.recordFailure(op, err)
	}
	return fn(f.memory)
}

func (f *FallbackStore) Get(ctx context.Context, key string) ([]byte, error) {
	var out []byte
	err := f.try("get", func(s Store) error {
		var err error
		out, err = s.Get(ctx, key)
		return err
	})
	return out, err
}

func (f *FallbackStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return f.try("set", func(s Store) error { return s.Set(ctx, key, value, ttl) })
}

func (f *FallbackStore) Del(ctx context.Context, keys ...string) error {
	// the standby may hold copies written during an outage
	_ = f.memory.Del(ctx, keys...)
	return f.try("del", func(s Store) error { return s.Del(ctx, keys...) })
}

func (f *FallbackStore) Exists(ctx context.Context, key string) (bool, error) {
	var out bool
	err := f.try("exists", func(s Store) error {
		var err error
		out, err = s.Exists(ctx, key)
		return err
	})
	return out, err
}

func (f *FallbackStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	var out time.Duration
	err := f.try("ttl", func(s Store) error {
		var err error
		out, err = s.TTL(ctx, key)
		return err
	})
	return out, err
}

func (f *FallbackStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	var out []string
	err := f.try("keys", func(s Store) error {
		var err error
		out, err = s.Keys(ctx, pattern)
		return err
	})
	return out, err
}

func (f *FallbackStore) ZAdd(ctx context.Context, key string, members ...Member) error {
	return f.try("zadd", func(s Store) error { return s.ZAdd(ctx, key, members...) })
}

func (f *FallbackStore) ZRangeByScore(ctx context.Context, key string, min, max float64) ([]Member, error) {
	var out []Member
	err := f.try("zrangebyscore", func(s Store) error {
		var err error
		out, err = s.ZRangeByScore(ctx, key, min, max)
		return err
	})
	return out, err
}

func (f *FallbackStore) ZRangeByLex(ctx context.Context, key, min, max string, offset, count int64) ([]string, error) {
	var out []string
	err := f.try("zrangebylex", func(s Store) error {
		var err error
		out, err = s.ZRangeByLex(ctx, key, min, max, offset, count)
		return err
	})
	return out, err
}

func (f *FallbackStore) ZRem(ctx context.Context, key string, members ...string) (int64, error) {
	var out int64
	err := f.try("zrem", func(s Store) error {
		var err error
		out, err = s.ZRem(ctx, key, members...)
		return err
	})
	return out, err
}

func (f *FallbackStore) ZCard(ctx context.Context, key string) (int64, error) {
	var out int64
	err := f.try("zcard", func(s Store) error {
		var err error
		out, err = s.ZCard(ctx, key)
		return err
	})
	return out, err
}

func (f *FallbackStore) SAdd(ctx context.Context, key string, members ...string) error {
	return f.try("sadd", func(s Store) error { return s.SAdd(ctx, key, members...) })
}

func (f *FallbackStore) SMembers(ctx context.Context, key string) ([]string, error) {
	var out []string
	err := f.try("smembers", func(s Store) error {
		var err error
		out, err = s.SMembers(ctx, key)
		return err
	})
	return out, err
}

// Ping reports the primary's health; the standby is always reachable.
func (f *FallbackStore) Ping(ctx context.Context) error {
	return f.primary.Ping(ctx)
}

func (f *FallbackStore) Close() error {
	f.Stop()
	return f.primary.Close()
}
