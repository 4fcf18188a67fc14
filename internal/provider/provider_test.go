package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketpulse/internal/cache"
	"marketpulse/internal/config"
	apperrors "marketpulse/internal/errors"
	"marketpulse/internal/logger"
	"marketpulse/internal/market"
	"marketpulse/internal/provider/indexfeed"
	"marketpulse/internal/provider/tiingo"
)

type stubProvider struct {
	name     string
	prices   map[string]float64
	err      error
	asked    [][]string
	subbed   []string
	unsubbed []string
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) FetchPrices(ctx context.Context, symbols []string) ([]market.PriceRecord, error) {
	s.asked = append(s.asked, append([]string(nil), symbols...))
	if s.err != nil {
		return nil, s.err
	}
	var out []market.PriceRecord
	for _, sym := range symbols {
		if p, ok := s.prices[sym]; ok {
			out = append(out, market.PriceRecord{Symbol: sym, Price: p})
		}
	}
	return out, nil
}

func (s *stubProvider) FetchIndices(ctx context.Context, symbols []string) ([]market.IndexRecord, error) {
	s.asked = append(s.asked, append([]string(nil), symbols...))
	if s.err != nil {
		return nil, s.err
	}
	var out []market.IndexRecord
	for _, sym := range symbols {
		if p, ok := s.prices[sym]; ok {
			out = append(out, market.IndexRecord{PriceRecord: market.PriceRecord{Symbol: sym, Price: p}})
		}
	}
	return out, nil
}

func (s *stubProvider) Subscribe(ctx context.Context, symbols []string) error {
	s.subbed = append(s.subbed, symbols...)
	return nil
}

func (s *stubProvider) Unsubscribe(ctx context.Context, symbols []string) error {
	s.unsubbed = append(s.unsubbed, symbols...)
	return nil
}

func TestParseKind(t *testing.T) {
	for in, want := range map[string]Kind{
		"realtime-equity": KindRealtimeEquity,
		" Index-Scrape ":  KindIndexScrape,
		"disabled":        KindDisabled,
		"":                KindDisabled,
	} {
		got, err := ParseKind(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseKind("bloomberg")
	assert.Error(t, err)
}

func TestDisabledReturnsNothing(t *testing.T) {
	var p Provider = Disabled{}
	prices, err := p.FetchPrices(context.Background(), []string{"AAPL"})
	assert.NoError(t, err)
	assert.Empty(t, prices)

	indices, err := p.FetchIndices(context.Background(), []string{"SPX"})
	assert.NoError(t, err)
	assert.Empty(t, indices)
}

func TestChainPassesOnlyUnresolvedSymbols(t *testing.T) {
	first := &stubProvider{name: "first", prices: map[string]float64{"AAPL": 1}}
	second := &stubProvider{name: "second", prices: map[string]float64{"MSFT": 2, "AAPL": 99}}
	chain := NewChain(logger.Discard(), first, second)

	recs, err := chain.FetchPrices(context.Background(), []string{"AAPL", "MSFT", "NOPE"})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "AAPL", recs[0].Symbol)
	assert.Equal(t, 1.0, recs[0].Price)
	assert.Equal(t, "MSFT", recs[1].Symbol)

	assert.Equal(t, [][]string{{"AAPL", "MSFT", "NOPE"}}, first.asked)
	assert.Equal(t, [][]string{{"MSFT", "NOPE"}}, second.asked)
	assert.Equal(t, "chain(first,second)", chain.Name())
}

func TestChainStopsWhenEverythingResolved(t *testing.T) {
	first := &stubProvider{name: "first", prices: map[string]float64{"SPX": 1}}
	second := &stubProvider{name: "second"}
	chain := NewChain(logger.Discard(), first, second)

	recs, err := chain.FetchIndices(context.Background(), []string{"SPX"})
	require.NoError(t, err)
	assert.Len(t, recs, 1)
	assert.Empty(t, second.asked)
}

func TestChainFallsThroughOnError(t *testing.T) {
	broken := &stubProvider{name: "broken", err: apperrors.Upstream("down", nil)}
	backup := &stubProvider{name: "backup", prices: map[string]float64{"AAPL": 3}}
	chain := NewChain(logger.Discard(), broken, backup)

	recs, err := chain.FetchPrices(context.Background(), []string{"AAPL"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 3.0, recs[0].Price)
}

func TestChainErrors(t *testing.T) {
	single := NewChain(logger.Discard(),
		&stubProvider{name: "a", err: apperrors.Timeout("slow", nil)},
		&stubProvider{name: "b"},
	)
	_, err := single.FetchPrices(context.Background(), []string{"AAPL"})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeTimeout))

	both := NewChain(logger.Discard(),
		&stubProvider{name: "a", err: errors.New("a failed")},
		&stubProvider{name: "b", err: errors.New("b failed")},
	)
	_, err = both.FetchPrices(context.Background(), []string{"AAPL"})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeUpstream))
	assert.Contains(t, err.Error(), "b failed")

	// nothing resolved without failures is not an error
	empty := NewChain(logger.Discard(), &stubProvider{name: "a"})
	recs, err := empty.FetchPrices(context.Background(), []string{"AAPL"})
	assert.NoError(t, err)
	assert.Empty(t, recs)
}

func TestChainCancelled(t *testing.T) {
	p := &stubProvider{name: "a", prices: map[string]float64{"AAPL": 1}}
	chain := NewChain(logger.Discard(), p)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := chain.FetchPrices(ctx, []string{"AAPL"})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeTimeout))
	assert.Empty(t, p.asked)
}

func TestChainForwardsSubscriptions(t *testing.T) {
	p := &stubProvider{name: "a"}
	chain := NewChain(logger.Discard(), p, Disabled{})

	require.NoError(t, chain.Subscribe(context.Background(), []string{"AAPL"}))
	require.NoError(t, chain.Unsubscribe(context.Background(), []string{"AAPL"}))
	assert.Equal(t, []string{"AAPL"}, p.subbed)
	assert.Equal(t, []string{"AAPL"}, p.unsubbed)
}

func TestNew(t *testing.T) {
	store := cache.NewMemoryStore(0)

	p, err := New(config.ProviderConfig{Kind: "disabled"}, store, logger.Discard())
	require.NoError(t, err)
	assert.IsType(t, Disabled{}, p)

	p, err = New(config.ProviderConfig{Kind: "index-scrape"}, store, logger.Discard())
	require.NoError(t, err)
	assert.IsType(t, &indexfeed.Feed{}, p)

	p, err = New(config.ProviderConfig{
		Kind:   "realtime-equity",
		Tiingo: config.TiingoConfig{APIKey: "k"},
	}, store, logger.Discard())
	require.NoError(t, err)
	chain, ok := p.(*Chain)
	require.True(t, ok)
	require.Len(t, chain.providers, 2)
	assert.IsType(t, &tiingo.Client{}, chain.providers[0])
	assert.Equal(t, "chain(tiingo,indexfeed)", p.Name())

	_, err = New(config.ProviderConfig{Kind: "realtime-equity"}, store, logger.Discard())
	assert.Error(t, err)

	_, err = New(config.ProviderConfig{Kind: "nope"}, store, logger.Discard())
	assert.Error(t, err)
}
