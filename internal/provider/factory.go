package provider

import (
	"fmt"

	"marketpulse/internal/cache"
	"marketpulse/internal/config"
	"marketpulse/internal/logger"
	"marketpulse/internal/provider/indexfeed"
	"marketpulse/internal/provider/tiingo"
)

// New builds the provider selected by cfg.Kind. The index feed reads from
// store, the same store the engine caches into.
func New(cfg config.ProviderConfig, store cache.Store, log logger.Logger) (Provider, error) {
	kind, err := ParseKind(cfg.Kind)
	if err != nil {
		return nil, err
	}

	switch kind {
	case KindRealtimeEquity:
		if cfg.Tiingo.APIKey == "" {
			return nil, fmt.Errorf("provider %s requires an API key", kind)
		}
		return NewChain(log, NewTiingo(cfg, log), indexfeed.New(store, cfg.IndexFeed.Key, log)), nil

	case KindIndexScrape:
		return indexfeed.New(store, cfg.IndexFeed.Key, log), nil

	default:
		return Disabled{}, nil
	}
}

// NewTiingo builds a Tiingo client from the provider settings. The news
// service uses it directly since news is not part of the price chain.
func NewTiingo(cfg config.ProviderConfig, log logger.Logger) *tiingo.Client {
	return tiingo.NewClient(tiingo.Config{
		APIKey:    cfg.Tiingo.APIKey,
		BaseURL:   cfg.Tiingo.BaseURL,
		Calendar:  cfg.Tiingo.Calendar,
		RateLimit: cfg.RateLimit,
		RateBurst: cfg.RateBurst,
		Timeout:   cfg.HTTPTimeout,
	}, log)
}
