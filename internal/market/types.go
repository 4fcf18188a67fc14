package market

import (
	"strings"
	"time"
)

// PriceRecord is the cached quote for one equity symbol.
type PriceRecord struct {
	Symbol        string                 `json:"symbol"`
	Price         float64                `json:"price"`
	Change        float64                `json:"change"`
	PercentChange float64                `json:"percentChange"`
	Volume        uint64                 `json:"volume"`
	Timestamp     time.Time              `json:"timestamp"`
	Extra         map[string]interface{} `json:"extra,omitempty"`
}

// MarketStatus is the trading state reported for an index.
type MarketStatus string

const (
	StatusOpen       MarketStatus = "open"
	StatusClosed     MarketStatus = "closed"
	StatusPreMarket  MarketStatus = "pre-market"
	StatusAfterHours MarketStatus = "after-hours"
	StatusHoliday    MarketStatus = "holiday"
)

// Valid reports whether s is one of the known statuses.
func (s MarketStatus) Valid() bool {
	switch s {
	case StatusOpen, StatusClosed, StatusPreMarket, StatusAfterHours, StatusHoliday:
		return true
	}
	return false
}

// IndexRecord is a PriceRecord for a market index plus its display name and status.
type IndexRecord struct {
	PriceRecord
	Name   string       `json:"name"`
	Status MarketStatus `json:"status"`
}

// PriceBatch is the read-path response for equities.
type PriceBatch struct {
	Prices    map[string]PriceRecord `json:"prices"`
	Timestamp time.Time              `json:"timestamp"`
}

// IndexBatch is the read-path response for indices.
type IndexBatch struct {
	Indices   map[string]IndexRecord `json:"indices"`
	Timestamp time.Time              `json:"timestamp"`
}

// AssetType classifies a SymbolReference.
type AssetType string

const (
	AssetStock AssetType = "STOCK"
	AssetETF   AssetType = "ETF"
	AssetIndex AssetType = "INDEX"
	AssetOther AssetType = "OTHER"
)

// ParseAssetType maps free-form upstream labels onto the closed set.
func ParseAssetType(s string) AssetType {
	t, _ := LookupAssetType(s)
	return t
}

// LookupAssetType is ParseAssetType that also reports whether s named a
// known type. Unknown labels map to AssetOther with false.
func LookupAssetType(s string) (AssetType, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "STOCK", "EQUITY", "COMMON STOCK":
		return AssetStock, true
	case "ETF":
		return AssetETF, true
	case "INDEX":
		return AssetIndex, true
	case "OTHER":
		return AssetOther, true
	default:
		return AssetOther, false
	}
}

// SymbolReference is one row of the bulk symbol universe.
type SymbolReference struct {
	Ticker    string    `json:"ticker"`
	Exchange  string    `json:"exchange"`
	AssetType AssetType `json:"assetType"`
	Currency  string    `json:"priceCurrency"`
	StartDate *string   `json:"startDate,omitempty"`
	EndDate   *string   `json:"endDate,omitempty"`
}

// CanonicalSymbol trims and upper-cases a requested symbol. An empty result
// means the input was blank.
func CanonicalSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// CanonicalSymbols canonicalizes and de-duplicates, keeping first-seen order
// and dropping blanks.
func CanonicalSymbols(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		c := CanonicalSymbol(s)
		if c == "" {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
