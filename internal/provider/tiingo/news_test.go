package tiingo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "marketpulse/internal/errors"
	"marketpulse/internal/logger"
	"marketpulse/internal/market"
)

const newsBody = `[{
	"id": 1,
	"title": "Apple beats estimates",
	"url": "https://example.com/apple",
	"description": "Quarterly results",
	"publishedDate": "2024-03-06T14:00:00Z",
	"source": "example.com",
	"tickers": ["aapl"],
	"tags": ["Earnings", "Consumer Electronics"]
}]`

func TestFetchNews(t *testing.T) {
	c, _ := newTestClient(t, map[string]route{
		"/tiingo/news": {200, newsBody},
	})

	articles, err := c.FetchNews(context.Background(), market.NewsQuery{Tickers: []string{"AAPL"}})
	require.NoError(t, err)
	require.Len(t, articles, 1)

	a := articles[0]
	assert.Equal(t, "Apple beats estimates", a.Title)
	assert.Equal(t, time.Date(2024, 3, 6, 14, 0, 0, 0, time.UTC), a.PublishedDate)
	assert.Equal(t, []string{"AAPL", "Earnings", "Consumer Electronics"}, a.Tags)
	assert.Equal(t, []string{"Earnings"}, a.Categories)
}

func TestFetchNewsQuery(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tiingo/news", r.URL.Path)
		got = map[string]string{}
		for k := range r.URL.Query() {
			got[k] = r.URL.Query().Get(k)
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	t.Cleanup(srv.Close)

	c := NewClient(Config{APIKey: "secret", BaseURL: srv.URL, RateLimit: 1000, RateBurst: 10}, logger.Discard())
	articles, err := c.FetchNews(context.Background(), market.NewsQuery{
		Tickers: []string{"BRK.A", "msft"},
		Tags:    []string{"tech"},
		Source:  "reuters.com",
		Limit:   5,
		Offset:  10,
	})
	require.NoError(t, err)
	assert.Empty(t, articles)

	assert.Equal(t, map[string]string{
		"token":   "secret",
		"tickers": "brk-a,msft",
		"tags":    "tech",
		"source":  "reuters.com",
		"limit":   "5",
		"offset":  "10",
		"sortBy":  "publishedDate",
	}, got)
}

func TestFetchNewsErrors(t *testing.T) {
	c, _ := newTestClient(t, map[string]route{
		"/tiingo/news": {429, `{"detail":"rate limited"}`},
	})
	_, err := c.FetchNews(context.Background(), market.NewsQuery{})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeUpstream))

	missing, _ := newTestClient(t, nil)
	articles, err := missing.FetchNews(context.Background(), market.NewsQuery{})
	require.NoError(t, err)
	assert.NotNil(t, articles)
	assert.Empty(t, articles)
}
