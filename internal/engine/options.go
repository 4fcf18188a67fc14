package engine

import (
	"time"

	"marketpulse/internal/config"
)

// Options tune the read and sweep paths. They are swapped atomically, so a
// change applies to the next read or sweep without a restart.
type Options struct {
	// TrackingEnabled records accesses on the read path. With it off nothing
	// new becomes due and tracked symbols age out.
	TrackingEnabled bool

	CacheTTL        time.Duration
	StaleThreshold  time.Duration
	DueWindow       time.Duration
	SweepInterval   time.Duration
	SweepTimeout    time.Duration
	UpstreamTimeout time.Duration

	BatchSize        int
	BatchConcurrency int
}

// DefaultOptions returns the engine defaults.
func DefaultOptions() Options {
	return Options{
		TrackingEnabled:  true,
		CacheTTL:         60 * time.Second,
		StaleThreshold:   300 * time.Second,
		DueWindow:        10 * time.Second,
		SweepInterval:    60 * time.Second,
		SweepTimeout:     30 * time.Second,
		UpstreamTimeout:  30 * time.Second,
		BatchSize:        20,
		BatchConcurrency: 1,
	}
}

// OptionsFromConfig maps the engine config section.
func OptionsFromConfig(cfg config.EngineConfig) Options {
	return Options{
		TrackingEnabled:  cfg.TrackingEnabled,
		CacheTTL:         cfg.CacheTTL,
		StaleThreshold:   cfg.StaleThreshold,
		DueWindow:        cfg.DueWindow,
		SweepInterval:    cfg.SweepInterval,
		SweepTimeout:     cfg.SweepTimeout,
		UpstreamTimeout:  cfg.UpstreamTimeout,
		BatchSize:        cfg.BatchSize,
		BatchConcurrency: cfg.BatchConcurrency,
	}.withDefaults()
}

// withDefaults fills zero fields. TrackingEnabled is left as given.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.CacheTTL <= 0 {
		o.CacheTTL = d.CacheTTL
	}
	if o.StaleThreshold <= 0 {
		o.StaleThreshold = d.StaleThreshold
	}
	if o.DueWindow <= 0 {
		o.DueWindow = d.DueWindow
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = d.SweepInterval
	}
	if o.SweepTimeout <= 0 {
		o.SweepTimeout = d.SweepTimeout
	}
	if o.UpstreamTimeout <= 0 {
		o.UpstreamTimeout = d.UpstreamTimeout
	}
	if o.BatchSize <= 0 {
		o.BatchSize = d.BatchSize
	}
	if o.BatchConcurrency <= 0 {
		o.BatchConcurrency = d.BatchConcurrency
	}
	return o
}
