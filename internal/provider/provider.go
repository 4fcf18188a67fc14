// Package provider defines the upstream market-data adapter contract, the
// closed set of adapter kinds and the ordered fallback combinator.
package provider

import (
	"context"
	"fmt"
	"strings"

	"marketpulse/internal/market"
)

// Provider fetches fresh records from one upstream source. Both methods
// return only the symbols that resolved; a provider without data of one
// kind returns nil, nil for it. Symbols are canonical and returned records
// carry the requested symbol unchanged.
type Provider interface {
	Name() string
	FetchPrices(ctx context.Context, symbols []string) ([]market.PriceRecord, error)
	FetchIndices(ctx context.Context, symbols []string) ([]market.IndexRecord, error)
}

// Subscriber is implemented by push-based providers.
type Subscriber interface {
	Subscribe(ctx context.Context, symbols []string) error
	Unsubscribe(ctx context.Context, symbols []string) error
}

// Kind is the closed set of configured provider variants.
type Kind string

const (
	KindRealtimeEquity Kind = "realtime-equity"
	KindIndexScrape    Kind = "index-scrape"
	KindDisabled       Kind = "disabled"
)

// ParseKind maps a configuration string onto a Kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindRealtimeEquity, KindIndexScrape, KindDisabled:
		return k, nil
	case "":
		return KindDisabled, nil
	default:
		return "", fmt.Errorf("unknown provider kind %q", s)
	}
}

// Disabled serves nothing. Reads against it resolve to not-found.
type Disabled struct{}

func (Disabled) Name() string { return string(KindDisabled) }

func (Disabled) FetchPrices(context.Context, []string) ([]market.PriceRecord, error) {
	return nil, nil
}

func (Disabled) FetchIndices(context.Context, []string) ([]market.IndexRecord, error) {
	return nil, nil
}
