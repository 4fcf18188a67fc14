package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketpulse/internal/cache"
	"marketpulse/internal/config"
	"marketpulse/internal/engine"
	apperrors "marketpulse/internal/errors"
	"marketpulse/internal/market"
	"marketpulse/internal/monitoring"
	"marketpulse/internal/news"
	"marketpulse/internal/scheduler"
	"marketpulse/internal/symbols"
	"marketpulse/internal/testutils"
)

// headlineFetcher returns one article per requested ticker, or a single
// market headline.
type headlineFetcher struct {
	queries []market.NewsQuery
}

func (f *headlineFetcher) FetchNews(ctx context.Context, q market.NewsQuery) ([]market.NewsArticle, error) {
	f.queries = append(f.queries, q)
	if len(q.Tickers) == 0 {
		return []market.NewsArticle{{Title: "Markets open higher", Source: "example.com"}}, nil
	}
	var out []market.NewsArticle
	for _, t := range q.Tickers {
		out = append(out, market.NewsArticle{Title: t + " headline", Tags: []string{t}})
	}
	return out, nil
}

type testServer struct {
	suite    *testutils.TestSuite
	http     *testutils.HTTPTestHelper
	provider *testutils.FakeProvider
	engine   *engine.Engine
	symbols  *symbols.Cache
	news     *headlineFetcher
}

func newTestServer(t *testing.T, database Pinger) *testServer {
	suite := testutils.NewTestSuite(t, nil)
	fake := testutils.NewFakeProvider()
	metrics := monitoring.NewMetrics(nil)

	eng, err := engine.New(engine.Deps{
		Store:    suite.Store,
		Provider: fake,
		Metrics:  metrics,
		Logger:   suite.Logger,
		Clock:    suite.Clock.Now,
	}, engine.DefaultOptions())
	require.NoError(t, err)

	refs, err := symbols.ParseStaticEntries([]string{
		"AAPL:NASDAQ:stock",
		"AAL:NASDAQ:stock",
		"ABT:NYSE:stock",
		"SPY:NYSEARCA:etf",
	})
	require.NoError(t, err)
	sym := symbols.NewCache(suite.Store, symbols.NewStaticSource(refs...), symbols.Options{
		ChunkSize: 2,
		Metrics:   metrics,
		Logger:    suite.Logger,
		Clock:     suite.Clock.Now,
	})

	headlines := &headlineFetcher{}
	feed := news.NewService(suite.Store, headlines, news.Options{Logger: suite.Logger, Clock: suite.Clock.Now})

	sched := scheduler.NewScheduler(time.Minute, suite.Logger)
	sched.RegisterHandler(scheduler.TaskTypeSymbolReload, scheduler.HandlerFunc(func(ctx context.Context) error {
		_, err := sym.Reload(ctx)
		return err
	}))
	require.NoError(t, sched.AddTask(scheduler.TaskTypeSymbolReload, "0 0 6 * * *"))

	server := NewServer(config.ServerConfig{Mode: "test"}, "/metrics", Deps{
		Market:   eng,
		Symbols:  sym,
		News:     feed,
		Tasks:    sched,
		Store:    suite.Store,
		Database: database,
		Metrics:  metrics,
		Logger:   suite.Logger,
		Version:  "test",
	})

	return &testServer{
		suite:    suite,
		http:     testutils.NewHTTPTestHelper(suite, server.Router()),
		provider: fake,
		engine:   eng,
		symbols:  sym,
		news:     headlines,
	}
}

type errorBody struct {
	Success bool `json:"success"`
	Error   struct {
		Code      string `json:"code"`
		RequestID string `json:"request_id"`
	} `json:"error"`
}

func TestHealth(t *testing.T) {
	t.Run("ok without database", func(t *testing.T) {
		ts := newTestServer(t, nil)
		var health map[string]interface{}
		ts.http.GET("/health").AssertStatus(http.StatusOK).DecodeJSON(&health)
		assert.Equal(t, "ok", health["status"])
		services := health["services"].(map[string]interface{})
		assert.Equal(t, "ok", services["store"])
		assert.Equal(t, "disabled", services["database"])
	})

	t.Run("database failure degrades", func(t *testing.T) {
		ts := newTestServer(t, PingFunc(func(context.Context) error { return errors.New("down") }))
		var health map[string]interface{}
		ts.http.GET("/health").AssertStatus(http.StatusOK).DecodeJSON(&health)
		assert.Equal(t, "degraded", health["status"])
	})

	t.Run("store failure is unavailable", func(t *testing.T) {
		h := NewHealthHandler(PingFunc(func(context.Context) error { return errors.New("down") }), nil, "test")
		ts := newTestServer(t, nil)
		ts.http.Router.GET("/health/store", h.Check)
		ts.http.GET("/health/store").AssertStatus(http.StatusServiceUnavailable).AssertContains(`"unavailable"`)
	})

	t.Run("store in fallback degrades", func(t *testing.T) {
		ts := newTestServer(t, nil)
		primary := cache.NewRedisStoreUnchecked(&cache.Config{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond})
		fb := cache.NewFallbackStore(primary, &cache.FallbackConfig{FailureThreshold: 1}, ts.suite.Logger)
		t.Cleanup(func() { fb.Close() })
		require.NoError(t, fb.Set(context.Background(), "k", []byte("v"), time.Minute))
		require.True(t, fb.InFallback())

		ts.http.Router.GET("/health/fallback", NewHealthHandler(fb, nil, "test").Check)
		var health map[string]interface{}
		ts.http.GET("/health/fallback").AssertStatus(http.StatusOK).DecodeJSON(&health)
		assert.Equal(t, "degraded", health["status"])
		services := health["services"].(map[string]interface{})
		assert.Equal(t, "fallback", services["store"])
		stats := services["store_fallback"].(map[string]interface{})
		assert.Equal(t, true, stats["in_fallback"])
		assert.Equal(t, float64(1), stats["standby_keys"])
	})
}

func TestGetPrices(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.provider.SetPrice("AAPL", 190.5)
	ts.provider.SetPrice("MSFT", 410.25)

	var batch market.PriceBatch
	ts.http.GET("/api/prices?symbols=aapl,%20MSFT").AssertStatus(http.StatusOK).DecodeJSON(&batch)
	require.Len(t, batch.Prices, 2)
	assert.Equal(t, 190.5, batch.Prices["AAPL"].Price)
	assert.Equal(t, 410.25, batch.Prices["MSFT"].Price)

	// repeated parameters are accepted too
	ts.http.GET("/api/prices?symbols=AAPL&symbols=MSFT").AssertStatus(http.StatusOK)
	// both requests after the first are cache hits
	assert.Equal(t, 1, ts.provider.CallCount())
}

func TestGetPricesErrors(t *testing.T) {
	ts := newTestServer(t, nil)

	var body errorBody
	ts.http.GET("/api/prices").AssertStatus(http.StatusBadRequest).DecodeJSON(&body)
	assert.False(t, body.Success)
	assert.Equal(t, string(apperrors.ErrCodeInvalidRequest), body.Error.Code)
	assert.NotEmpty(t, body.Error.RequestID)

	ts.http.GET("/api/prices?symbols=NOPE").
		AssertStatus(http.StatusNotFound).
		AssertContains(string(apperrors.ErrCodeNotFound))

	ts.provider.SetError(apperrors.Upstream("tiingo unavailable", nil))
	ts.http.GET("/api/prices?symbols=AAPL").
		AssertStatus(http.StatusBadGateway).
		AssertContains(string(apperrors.ErrCodeUpstream))
}

func TestGetIndices(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.provider.SetIndex("SPX", 5100)

	var batch market.IndexBatch
	ts.http.GET("/api/indices?symbols=spx").AssertStatus(http.StatusOK).DecodeJSON(&batch)
	require.Contains(t, batch.Indices, "SPX")
	assert.Equal(t, 5100.0, batch.Indices["SPX"].Price)
}

func TestMarketRefresh(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.provider.SetPrice("AAPL", 190.5)
	ts.http.GET("/api/prices?symbols=AAPL").AssertStatus(http.StatusOK)

	var resp struct {
		Success bool               `json:"success"`
		Data    engine.SweepReport `json:"data"`
	}
	ts.http.POST("/api/market/refresh", nil).AssertStatus(http.StatusOK).DecodeJSON(&resp)
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.Data.ID)
	assert.Equal(t, 1, resp.Data.Prices.Active)
}

func TestSymbolEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)

	var status symbols.Status
	ts.http.GET("/api/symbols/cache/status").AssertStatus(http.StatusOK).DecodeJSON(&status)
	assert.Equal(t, 0, status.SymbolCount)
	assert.Nil(t, status.LastUpdated)

	var reload map[string]int
	ts.http.POST("/api/symbols/cache/refresh", nil).AssertStatus(http.StatusOK).DecodeJSON(&reload)
	assert.Equal(t, 4, reload["count"])

	ts.http.GET("/api/symbols/cache/status").AssertStatus(http.StatusOK).DecodeJSON(&status)
	assert.Equal(t, 4, status.SymbolCount)
	require.NotNil(t, status.LastUpdated)

	type refsBody struct {
		Success bool                     `json:"success"`
		Data    []market.SymbolReference `json:"data"`
	}

	var search refsBody
	ts.http.GET("/api/symbols/search?q=aa").AssertStatus(http.StatusOK).DecodeJSON(&search)
	require.Len(t, search.Data, 2)
	assert.Equal(t, "AAL", search.Data[0].Ticker)
	assert.Equal(t, "AAPL", search.Data[1].Ticker)

	search = refsBody{}
	ts.http.GET("/api/symbols/search?q=A&limit=1").AssertStatus(http.StatusOK).DecodeJSON(&search)
	assert.Len(t, search.Data, 1)

	ts.http.GET("/api/symbols/search?q=A&limit=x").AssertStatus(http.StatusBadRequest)
	ts.http.GET("/api/symbols/search").AssertStatus(http.StatusBadRequest)

	var byExchange refsBody
	ts.http.GET("/api/symbols/exchange/nasdaq").AssertStatus(http.StatusOK).DecodeJSON(&byExchange)
	assert.Len(t, byExchange.Data, 2)

	var byType refsBody
	ts.http.GET("/api/symbols/type/etf").AssertStatus(http.StatusOK).DecodeJSON(&byType)
	require.Len(t, byType.Data, 1)
	assert.Equal(t, "SPY", byType.Data[0].Ticker)

	ts.http.GET("/api/symbols/type/bond").
		AssertStatus(http.StatusBadRequest).
		AssertContains(string(apperrors.ErrCodeInvalidRequest))
}

func TestTrackingToggle(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.http.GET("/api/analytics/config").AssertStatus(http.StatusOK).AssertContains(`"tracking_enabled":true`)

	ts.http.Request(http.MethodPut, "/api/analytics/config", map[string]bool{"enable_tracking": false}).
		AssertStatus(http.StatusOK).
		AssertContains(`"tracking_enabled":false`)
	assert.False(t, ts.engine.Options().TrackingEnabled)

	ts.provider.SetPrice("AAPL", 190.5)
	var resp struct {
		Data engine.SweepReport `json:"data"`
	}
	ts.http.GET("/api/prices?symbols=AAPL").AssertStatus(http.StatusOK)
	ts.http.POST("/api/market/refresh", nil).AssertStatus(http.StatusOK).DecodeJSON(&resp)
	assert.Zero(t, resp.Data.Prices.Active, "reads while tracking is off are not tracked")

	ts.http.Request(http.MethodPut, "/api/analytics/config", map[string]bool{"enableTracking": true}).
		AssertStatus(http.StatusOK)
	assert.True(t, ts.engine.Options().TrackingEnabled)

	ts.http.Request(http.MethodPut, "/api/analytics/config", map[string]string{}).AssertStatus(http.StatusBadRequest)
	ts.http.Request(http.MethodPut, "/api/analytics/config", "not an object").AssertStatus(http.StatusBadRequest)
}

func TestNewsEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)

	var feed news.Feed
	ts.http.GET("/api/news/trending").AssertStatus(http.StatusOK).DecodeJSON(&feed)
	require.Len(t, feed.Articles, 1)
	assert.Equal(t, "Markets open higher", feed.Articles[0].Title)

	feed = news.Feed{}
	ts.http.GET("/api/news/ticker/aapl?limit=3").AssertStatus(http.StatusOK).DecodeJSON(&feed)
	require.Len(t, feed.Articles, 1)
	assert.Equal(t, "AAPL headline", feed.Articles[0].Title)

	feed = news.Feed{}
	ts.http.GET("/api/news/personalized?tickers=msft,aapl&topics=tech&source=reuters.com").
		AssertStatus(http.StatusOK).DecodeJSON(&feed)
	assert.Equal(t, 2, feed.TotalCount)

	// cached
	ts.http.GET("/api/news/trending").AssertStatus(http.StatusOK)
	require.Len(t, ts.news.queries, 3)
	last := ts.news.queries[2]
	assert.Equal(t, []string{"AAPL", "MSFT"}, last.Tickers)
	assert.Equal(t, []string{"tech"}, last.Tags)
	assert.Equal(t, "reuters.com", last.Source)

	ts.http.GET("/api/news/trending?limit=x").AssertStatus(http.StatusBadRequest)
}

func TestSchedulerTasks(t *testing.T) {
	ts := newTestServer(t, nil)

	var list struct {
		Data []scheduler.Task `json:"data"`
	}
	ts.http.GET("/api/scheduler/tasks").AssertStatus(http.StatusOK).DecodeJSON(&list)
	require.Len(t, list.Data, 1)
	assert.Equal(t, scheduler.TaskTypeSymbolReload, list.Data[0].Type)
	assert.Equal(t, "0 0 6 * * *", list.Data[0].Schedule)

	ts.http.GET("/api/scheduler/tasks/symbol_reload").AssertStatus(http.StatusOK).AssertContains(`"status":"pending"`)
	ts.http.GET("/api/scheduler/tasks/nope").
		AssertStatus(http.StatusNotFound).
		AssertContains(string(apperrors.ErrCodeNotFound))
}

func TestOptionalRoutesAbsent(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	eng, err := engine.New(engine.Deps{Store: suite.Store, Provider: testutils.NewFakeProvider(), Logger: suite.Logger}, engine.DefaultOptions())
	require.NoError(t, err)

	server := NewServer(config.ServerConfig{Mode: "test"}, "", Deps{
		Market:  eng,
		Symbols: symbols.NewCache(suite.Store, symbols.NewStaticSource(), symbols.Options{Logger: suite.Logger}),
		Store:   suite.Store,
		Logger:  suite.Logger,
	})
	h := testutils.NewHTTPTestHelper(suite, server.Router())
	for _, path := range []string{"/api/news/trending", "/api/scheduler/tasks", "/metrics"} {
		resp := h.GET(path)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
		assert.False(t, strings.Contains(string(resp.Body), `"success":true`))
	}
}

func TestRequestIDPropagation(t *testing.T) {
	ts := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/prices", nil)
	req.Header.Set(requestIDHeader, "req-123")
	w := httptest.NewRecorder()
	ts.http.Router.ServeHTTP(w, req)

	assert.Equal(t, "req-123", w.Header().Get(requestIDHeader))
	assert.Contains(t, w.Body.String(), `"request_id":"req-123"`)

	resp := ts.http.GET("/health")
	assert.NotEmpty(t, resp.Headers.Get(requestIDHeader))
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.http.GET("/health").AssertStatus(http.StatusOK)
	ts.http.GET("/metrics").AssertStatus(http.StatusOK).AssertContains("http_requests_total")
}

func TestPanicRecovery(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.http.Router.GET("/boom", func(c *gin.Context) { panic("boom") })
	ts.http.GET("/boom").
		AssertStatus(http.StatusInternalServerError).
		AssertContains(string(apperrors.ErrCodeInternal))
}
