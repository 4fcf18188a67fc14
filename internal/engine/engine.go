// Package engine is the demand-driven cache and refresh engine. Reads serve
// from the record store and fetch misses from the provider in one batch;
// a periodic sweep refreshes what readers still want before it expires and
// drops what they stopped asking for.
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"marketpulse/internal/cache"
	"marketpulse/internal/logger"
	"marketpulse/internal/market"
	"marketpulse/internal/monitoring"
	"marketpulse/internal/provider"
	"marketpulse/internal/store"
)

// Namespace labels used in logs and metrics.
const (
	NamespacePrices  = "prices"
	NamespaceIndices = "indices"
)

// Deps are the engine's collaborators. Store and Provider are required.
type Deps struct {
	Store    cache.Store
	Provider provider.Provider

	// Subscriber, when set, is told about symbols first served on a miss
	// and about symbols pruned as stale. Prices only.
	Subscriber provider.Subscriber

	Metrics *monitoring.Metrics
	Logger  logger.Logger
	Clock   func() time.Time
}

// Engine owns the read path, the sweep path and the sweep timer.
type Engine struct {
	provider   provider.Provider
	subscriber provider.Subscriber
	metrics    *monitoring.Metrics
	log        logger.Logger
	now        func() time.Time

	opts atomic.Pointer[Options]

	prices  *namespace[market.PriceRecord]
	indices *namespace[market.IndexRecord]

	// cycle serialises sweeps; reads never take it.
	cycle sync.Mutex

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
}

// namespace binds one record type to its store, tracker and provider call.
type namespace[T any] struct {
	name      string
	records   *store.RecordStore[T]
	tracker   *store.AccessTracker
	fetch     func(ctx context.Context, p provider.Provider, symbols []string) ([]T, error)
	symbolOf  func(T) string
	subscribe bool
}

// New creates an engine. It starts nothing; call Start for the sweep timer.
func New(deps Deps, opts Options) (*Engine, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("engine: store is required")
	}
	if deps.Provider == nil {
		return nil, fmt.Errorf("engine: provider is required")
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}

	e := &Engine{
		provider:   deps.Provider,
		subscriber: deps.Subscriber,
		metrics:    deps.Metrics,
		log:        logger.Component(deps.Logger, "engine"),
		now:        deps.Clock,
	}
	e.UpdateOptions(opts)

	e.prices = &namespace[market.PriceRecord]{
		name:    NamespacePrices,
		records: store.NewRecordStore[market.PriceRecord](deps.Store, store.PricePrefix),
		tracker: store.NewAccessTracker(deps.Store, store.PriceTrackerKey, deps.Clock),
		fetch: func(ctx context.Context, p provider.Provider, symbols []string) ([]market.PriceRecord, error) {
			return p.FetchPrices(ctx, symbols)
		},
		symbolOf:  func(r market.PriceRecord) string { return r.Symbol },
		subscribe: deps.Subscriber != nil,
	}
	e.indices = &namespace[market.IndexRecord]{
		name:    NamespaceIndices,
		records: store.NewRecordStore[market.IndexRecord](deps.Store, store.IndexPrefix),
		tracker: store.NewAccessTracker(deps.Store, store.IndexTrackerKey, deps.Clock),
		fetch: func(ctx context.Context, p provider.Provider, symbols []string) ([]market.IndexRecord, error) {
			return p.FetchIndices(ctx, symbols)
		},
		symbolOf: func(r market.IndexRecord) string { return r.Symbol },
	}

	return e, nil
}

// Options returns the options in effect.
func (e *Engine) Options() Options {
	return *e.opts.Load()
}

// UpdateOptions swaps the options; zero durations and sizes take defaults.
// A changed SweepInterval applies from the next tick.
func (e *Engine) UpdateOptions(opts Options) {
	o := opts.withDefaults()
	e.opts.Store(&o)
}

// SetTracking toggles access tracking.
func (e *Engine) SetTracking(enabled bool) {
	o := e.Options()
	o.TrackingEnabled = enabled
	e.opts.Store(&o)
}

// GetPrices returns cached or freshly fetched prices for symbols.
func (e *Engine) GetPrices(ctx context.Context, symbols []string) (*market.PriceBatch, error) {
	prices, err := read(ctx, e, e.prices, symbols)
	if err != nil {
		return nil, err
	}
	return &market.PriceBatch{Prices: prices, Timestamp: e.now()}, nil
}

// GetIndices returns cached or freshly fetched indices for symbols.
func (e *Engine) GetIndices(ctx context.Context, symbols []string) (*market.IndexBatch, error) {
	indices, err := read(ctx, e, e.indices, symbols)
	if err != nil {
		return nil, err
	}
	return &market.IndexBatch{Indices: indices, Timestamp: e.now()}, nil
}

// Start runs a sweep every SweepInterval until Stop or ctx is done.
func (e *Engine) Start(ctx context.Context) error {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	if e.cancel != nil {
		return fmt.Errorf("engine already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})

	go e.loop(ctx, e.done)

	e.log.Info("Refresh engine started", "interval", e.Options().SweepInterval.String(), "provider", e.provider.Name())
	return nil
}

// Stop cancels the sweep timer and waits for an in-flight sweep to return.
func (e *Engine) Stop() {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	if e.cancel == nil {
		return
	}
	e.cancel()
	<-e.done
	e.cancel = nil
	e.done = nil

	e.log.Info("Refresh engine stopped")
}

func (e *Engine) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	interval := e.Options().SweepInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Sweep(ctx)

			if next := e.Options().SweepInterval; next != interval {
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}
