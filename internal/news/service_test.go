package news

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "marketpulse/internal/errors"
	"marketpulse/internal/market"
	"marketpulse/internal/testutils"
)

type fakeFetcher struct {
	mu      sync.Mutex
	queries []market.NewsQuery
	err     error
}

func (f *fakeFetcher) FetchNews(ctx context.Context, q market.NewsQuery) ([]market.NewsArticle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if f.err != nil {
		return nil, f.err
	}
	out := []market.NewsArticle{{Title: "Markets rally", URL: "https://example.com/a", Source: "example.com"}}
	for _, t := range q.Tickers {
		out = append(out, market.NewsArticle{Title: t + " earnings", Tags: []string{t}})
	}
	return out, nil
}

func (f *fakeFetcher) calls() []market.NewsQuery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]market.NewsQuery(nil), f.queries...)
}

func newTestService(t *testing.T) (*Service, *fakeFetcher, *testutils.TestSuite) {
	t.Helper()
	suite := testutils.NewTestSuite(t, nil)
	fetcher := &fakeFetcher{}
	svc := NewService(suite.Store, fetcher, Options{
		TTL:    time.Minute,
		Logger: suite.Logger,
		Clock:  suite.Clock.Now,
	})
	return svc, fetcher, suite
}

func TestTrendingIsCached(t *testing.T) {
	svc, fetcher, suite := newTestService(t)
	ctx := context.Background()

	first, err := svc.Trending(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, first.TotalCount)
	assert.Equal(t, suite.Clock.Now().UTC(), first.FetchedAt)

	second, err := svc.Trending(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, first.Articles, second.Articles)

	calls := fetcher.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, DefaultLimit, calls[0].Limit)

	ttl, err := suite.Store.TTL(ctx, "news:limit:10")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, ttl)
}

func TestCacheExpiresAfterTTL(t *testing.T) {
	svc, fetcher, suite := newTestService(t)
	ctx := context.Background()

	_, err := svc.Ticker(ctx, "aapl", 5)
	require.NoError(t, err)
	suite.Advance(61 * time.Second)
	_, err = svc.Ticker(ctx, "AAPL", 5)
	require.NoError(t, err)

	assert.Len(t, fetcher.calls(), 2)
}

func TestEquivalentQueriesShareCacheEntry(t *testing.T) {
	svc, fetcher, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Personalized(ctx, []string{"msft", "AAPL"}, []string{"Tech"}, "", 20)
	require.NoError(t, err)
	feed, err := svc.Personalized(ctx, []string{"AAPL", "MSFT", "aapl"}, []string{"tech", " "}, "", 20)
	require.NoError(t, err)

	calls := fetcher.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"AAPL", "MSFT"}, calls[0].Tickers)
	assert.Equal(t, []string{"tech"}, calls[0].Tags)
	assert.Equal(t, 3, feed.TotalCount)
}

func TestLimitBounds(t *testing.T) {
	svc, fetcher, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Trending(ctx, -1)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeInvalidRequest))

	_, err = svc.Trending(ctx, 1000)
	require.NoError(t, err)
	assert.Equal(t, MaxLimit, fetcher.calls()[0].Limit)
}

func TestTickerRequired(t *testing.T) {
	svc, fetcher, _ := newTestService(t)

	_, err := svc.Ticker(context.Background(), "  ", 0)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeInvalidRequest))
	assert.Empty(t, fetcher.calls())
}

func TestFetchFailureIsUpstreamAndNotCached(t *testing.T) {
	svc, fetcher, suite := newTestService(t)
	ctx := context.Background()
	fetcher.err = errors.New("connection reset")

	_, err := svc.Trending(ctx, 0)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeUpstream))

	exists, err := suite.Store.Exists(ctx, "news:limit:10")
	require.NoError(t, err)
	assert.False(t, exists)

	fetcher.err = apperrors.Timeout("slow", nil)
	_, err = svc.Trending(ctx, 0)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeTimeout))
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, "limit:10", cacheKey(market.NewsQuery{Limit: 10}))
	assert.Equal(t, "tickers:AAPL,MSFT:tags:tech:source:reuters.com:offset:20:limit:5",
		cacheKey(market.NewsQuery{Tickers: []string{"AAPL", "MSFT"}, Tags: []string{"tech"}, Source: "reuters.com", Offset: 20, Limit: 5}))
}
