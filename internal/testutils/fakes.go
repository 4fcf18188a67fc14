package testutils

import (
	"context"
	"sync"
	"time"

	"marketpulse/internal/market"
)

// FakeClock is a manually advanced time source.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock starts the clock at t.
func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{now: t}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Set moves the clock to t.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// FakeProvider serves fixed prices and indices and records every call.
type FakeProvider struct {
	mu sync.Mutex

	prices  map[string]float64
	indices map[string]float64
	// failing symbols are dropped from results, as an adapter skipping
	// a symbol it could not fetch would do
	failing map[string]bool
	err     error

	// partialErr is returned alongside whatever records resolved
	partialErr error

	// Block, when set, is received from before each fetch returns.
	Block chan struct{}
	// Entered, when set, is signalled at the start of each fetch.
	Entered chan struct{}

	calls        [][]string
	subscribed   []string
	unsubscribed []string
}

// NewFakeProvider creates an empty fake.
func NewFakeProvider() *FakeProvider {
	return &FakeProvider{
		prices:  make(map[string]float64),
		indices: make(map[string]float64),
		failing: make(map[string]bool),
	}
}

func (f *FakeProvider) Name() string { return "fake" }

// SetPrice makes symbol resolve to price.
func (f *FakeProvider) SetPrice(symbol string, price float64) {
	f.mu.Lock()
	f.prices[symbol] = price
	f.mu.Unlock()
}

// SetIndex makes index symbol resolve to price.
func (f *FakeProvider) SetIndex(symbol string, price float64) {
	f.mu.Lock()
	f.indices[symbol] = price
	f.mu.Unlock()
}

// Fail makes symbol unresolvable.
func (f *FakeProvider) Fail(symbols ...string) {
	f.mu.Lock()
	for _, s := range symbols {
		f.failing[s] = true
	}
	f.mu.Unlock()
}

// SetError makes every fetch fail with err; nil restores normal behaviour.
func (f *FakeProvider) SetError(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

// SetPartialError makes fetches return the records that resolve together
// with err, as an adapter that gave up part way through would.
func (f *FakeProvider) SetPartialError(err error) {
	f.mu.Lock()
	f.partialErr = err
	f.mu.Unlock()
}

// Calls returns the symbol lists of every fetch so far.
func (f *FakeProvider) Calls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]string, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallCount returns the number of fetches so far.
func (f *FakeProvider) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// Reset forgets recorded calls.
func (f *FakeProvider) Reset() {
	f.mu.Lock()
	f.calls = nil
	f.mu.Unlock()
}

func (f *FakeProvider) enter(ctx context.Context, symbols []string) error {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string(nil), symbols...))
	entered, block := f.Entered, f.Block
	err := f.err
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (f *FakeProvider) FetchPrices(ctx context.Context, symbols []string) ([]market.PriceRecord, error) {
	if err := f.enter(ctx, symbols); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var out []market.PriceRecord
	for _, sym := range symbols {
		price, ok := f.prices[sym]
		if !ok || f.failing[sym] {
			continue
		}
		out = append(out, market.PriceRecord{Symbol: sym, Price: price, Timestamp: time.Now()})
	}
	return out, f.partialErr
}

func (f *FakeProvider) FetchIndices(ctx context.Context, symbols []string) ([]market.IndexRecord, error) {
	if err := f.enter(ctx, symbols); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var out []market.IndexRecord
	for _, sym := range symbols {
		price, ok := f.indices[sym]
		if !ok || f.failing[sym] {
			continue
		}
		out = append(out, market.IndexRecord{
			PriceRecord: market.PriceRecord{Symbol: sym, Price: price, Timestamp: time.Now()},
			Name:        sym,
			Status:      market.StatusOpen,
		})
	}
	return out, f.partialErr
}

func (f *FakeProvider) Subscribe(ctx context.Context, symbols []string) error {
	f.mu.Lock()
	f.subscribed = append(f.subscribed, symbols...)
	f.mu.Unlock()
	return nil
}

func (f *FakeProvider) Unsubscribe(ctx context.Context, symbols []string) error {
	f.mu.Lock()
	f.unsubscribed = append(f.unsubscribed, symbols...)
	f.mu.Unlock()
	return nil
}

// Subscriptions returns the symbols passed to Subscribe and Unsubscribe.
func (f *FakeProvider) Subscriptions() (subscribed, unsubscribed []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.subscribed...), append([]string(nil), f.unsubscribed...)
}
