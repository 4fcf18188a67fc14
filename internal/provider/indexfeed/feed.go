// Package indexfeed serves market indices from the collection an external
// scraper publishes into the shared store.
package indexfeed

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"marketpulse/internal/cache"
	apperrors "marketpulse/internal/errors"
	"marketpulse/internal/logger"
	"marketpulse/internal/market"
)

// DefaultKey is where the scraper writes its latest snapshot.
const DefaultKey = "indices:tradingview:latest"

// Collection is the scraper's snapshot format.
type Collection struct {
	Indices   []Index   `json:"indices"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

// Index is one scraped index row.
type Index struct {
	Symbol           string    `json:"symbol"`
	Name             string    `json:"name"`
	Price            float64   `json:"price"`
	Currency         string    `json:"currency"`
	ChangePercentage float64   `json:"change_percentage"`
	ChangeAbsolute   float64   `json:"change_absolute"`
	High             float64   `json:"high"`
	Low              float64   `json:"low"`
	TechnicalRating  string    `json:"technical_rating"`
	Status           string    `json:"status,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// Feed reads index snapshots from the store.
type Feed struct {
	store cache.Store
	key   string
	log   logger.Logger
}

// New creates a feed reading key; an empty key means DefaultKey.
func New(store cache.Store, key string, log logger.Logger) *Feed {
	if key == "" {
		key = DefaultKey
	}
	return &Feed{store: store, key: key, log: logger.Component(log, "indexfeed")}
}

func (f *Feed) Name() string { return "indexfeed" }

// FetchPrices is unsupported; the scraper only publishes indices.
func (f *Feed) FetchPrices(ctx context.Context, symbols []string) ([]market.PriceRecord, error) {
	return nil, nil
}

// FetchIndices returns the requested indices present in the latest
// snapshot, or every index when symbols is empty. A missing snapshot
// resolves nothing.
func (f *Feed) FetchIndices(ctx context.Context, symbols []string) ([]market.IndexRecord, error) {
	data, err := f.store.Get(ctx, f.key)
	if errors.Is(err, cache.ErrNotFound) {
		f.log.Warn("No index snapshot available", "key", f.key)
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Upstream("read index snapshot", err).WithContext("key", f.key)
	}

	var coll Collection
	if err := json.Unmarshal(data, &coll); err != nil {
		return nil, apperrors.Upstream("decode index snapshot", err).WithContext("key", f.key)
	}

	wanted := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		wanted[market.CanonicalSymbol(s)] = struct{}{}
	}

	var out []market.IndexRecord
	for _, idx := range coll.Indices {
		sym := market.CanonicalSymbol(idx.Symbol)
		if len(wanted) > 0 {
			if _, ok := wanted[sym]; !ok {
				continue
			}
		}
		out = append(out, idx.record(sym, coll.Timestamp))
	}
	return out, nil
}

func (idx Index) record(symbol string, fallback time.Time) market.IndexRecord {
	ts := idx.Timestamp
	if ts.IsZero() {
		ts = fallback
	}

	status := market.MarketStatus(strings.ToLower(idx.Status))
	if !status.Valid() {
		status = market.StatusClosed
	}

	return market.IndexRecord{
		PriceRecord: market.PriceRecord{
			Symbol:        symbol,
			Price:         idx.Price,
			Change:        idx.ChangeAbsolute,
			PercentChange: idx.ChangePercentage,
			Timestamp:     ts,
			Extra: map[string]interface{}{
				"currency":        idx.Currency,
				"name":            idx.Name,
				"highPrice":       idx.High,
				"lowPrice":        idx.Low,
				"technicalRating": idx.TechnicalRating,
			},
		},
		Name:   idx.Name,
		Status: status,
	}
}
