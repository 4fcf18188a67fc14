package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"marketpulse/internal/cache"
	"marketpulse/internal/errors"
	"marketpulse/internal/logger"
	"marketpulse/internal/scheduler"
)

// MarketHandler serves prices and indices.
type MarketHandler struct {
	market MarketService
	log    logger.Logger
}

// NewMarketHandler creates a new market handler
func NewMarketHandler(market MarketService, log logger.Logger) *MarketHandler {
	return &MarketHandler{market: market, log: log}
}

// GetPrices handles GET /api/prices?symbols=A,B
func (h *MarketHandler) GetPrices(c *gin.Context) {
	batch, err := h.market.GetPrices(c.Request.Context(), querySymbols(c))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, batch)
}

// GetIndices handles GET /api/indices?symbols=A,B
func (h *MarketHandler) GetIndices(c *gin.Context) {
	batch, err := h.market.GetIndices(c.Request.Context(), querySymbols(c))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, batch)
}

// Refresh runs one sweep inline. A sweep already in flight yields 409.
func (h *MarketHandler) Refresh(c *gin.Context) {
	report, ran := h.market.RefreshNow(c.Request.Context())
	if !ran {
		c.JSON(http.StatusConflict, Response{
			Success:   false,
			Message:   "a refresh cycle is already running",
			Timestamp: time.Now(),
		})
		return
	}
	ok(c, http.StatusOK, report)
}

// trackingConfig is the body of PUT /api/analytics/config. Both spellings
// of the flag are accepted.
type trackingConfig struct {
	EnableTracking      *bool `json:"enable_tracking"`
	EnableTrackingCamel *bool `json:"enableTracking"`
}

// GetTracking handles GET /api/analytics/config
func (h *MarketHandler) GetTracking(c *gin.Context) {
	ok(c, http.StatusOK, gin.H{"tracking_enabled": h.market.Options().TrackingEnabled})
}

// SetTracking handles PUT /api/analytics/config. The change lasts until the
// next config reload.
func (h *MarketHandler) SetTracking(c *gin.Context) {
	var req trackingConfig
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewAppErrorWithDetails(errors.ErrCodeInvalidRequest, "invalid request body", err.Error(), err))
		return
	}
	flag := req.EnableTracking
	if flag == nil {
		flag = req.EnableTrackingCamel
	}
	if flag == nil {
		c.Error(errors.InvalidRequest("enable_tracking is required"))
		return
	}

	h.market.SetTracking(*flag)
	state := "disabled"
	if *flag {
		state = "enabled"
	}
	h.log.WithContext(c.Request.Context()).Info("Access tracking " + state)
	ok(c, http.StatusOK, gin.H{
		"tracking_enabled": *flag,
		"message":          "access tracking " + state,
	})
}

// querySymbols accepts both symbols=A,B and repeated symbols= parameters.
func querySymbols(c *gin.Context) []string {
	return queryList(c, "symbols")
}

// queryList splits comma lists and repeated parameters into one list.
func queryList(c *gin.Context, name string) []string {
	var out []string
	for _, v := range c.QueryArray(name) {
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// SymbolsHandler serves the bulk symbol cache.
type SymbolsHandler struct {
	symbols SymbolService
}

// NewSymbolsHandler creates a new symbols handler
func NewSymbolsHandler(symbols SymbolService) *SymbolsHandler {
	return &SymbolsHandler{symbols: symbols}
}

// Search handles GET /api/symbols/search?q=&limit=
func (h *SymbolsHandler) Search(c *gin.Context) {
	limit, err := queryLimit(c)
	if err != nil {
		c.Error(err)
		return
	}
	refs, err := h.symbols.SearchByPrefix(c.Request.Context(), c.Query("q"), limit)
	if err != nil {
		c.Error(err)
		return
	}
	ok(c, http.StatusOK, refs)
}

// ByExchange handles GET /api/symbols/exchange/:name
func (h *SymbolsHandler) ByExchange(c *gin.Context) {
	limit, err := queryLimit(c)
	if err != nil {
		c.Error(err)
		return
	}
	refs, err := h.symbols.ByExchange(c.Request.Context(), c.Param("name"), limit)
	if err != nil {
		c.Error(err)
		return
	}
	ok(c, http.StatusOK, refs)
}

// ByAssetType handles GET /api/symbols/type/:type
func (h *SymbolsHandler) ByAssetType(c *gin.Context) {
	limit, err := queryLimit(c)
	if err != nil {
		c.Error(err)
		return
	}
	refs, err := h.symbols.ByAssetType(c.Request.Context(), c.Param("type"), limit)
	if err != nil {
		c.Error(err)
		return
	}
	ok(c, http.StatusOK, refs)
}

// CacheStatus handles GET /api/symbols/cache/status
func (h *SymbolsHandler) CacheStatus(c *gin.Context) {
	status, err := h.symbols.Status(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// RefreshCache handles POST /api/symbols/cache/refresh
func (h *SymbolsHandler) RefreshCache(c *gin.Context) {
	count, err := h.symbols.Reload(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

func queryLimit(c *gin.Context) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.InvalidRequest("limit must be a non-negative integer").WithContext("limit", raw)
	}
	return n, nil
}

// NewsHandler serves the cached news feed.
type NewsHandler struct {
	news NewsService
}

// NewNewsHandler creates a news handler
func NewNewsHandler(news NewsService) *NewsHandler {
	return &NewsHandler{news: news}
}

// Trending handles GET /api/news/trending?limit=
func (h *NewsHandler) Trending(c *gin.Context) {
	limit, err := queryLimit(c)
	if err != nil {
		c.Error(err)
		return
	}
	feed, err := h.news.Trending(c.Request.Context(), limit)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, feed)
}

// Ticker handles GET /api/news/ticker/:ticker?limit=
func (h *NewsHandler) Ticker(c *gin.Context) {
	limit, err := queryLimit(c)
	if err != nil {
		c.Error(err)
		return
	}
	feed, err := h.news.Ticker(c.Request.Context(), c.Param("ticker"), limit)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, feed)
}

// Personalized handles GET /api/news/personalized?tickers=&topics=&source=&limit=
func (h *NewsHandler) Personalized(c *gin.Context) {
	limit, err := queryLimit(c)
	if err != nil {
		c.Error(err)
		return
	}
	feed, err := h.news.Personalized(c.Request.Context(),
		queryList(c, "tickers"), queryList(c, "topics"), c.Query("source"), limit)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, feed)
}

// TasksHandler reports scheduled maintenance jobs.
type TasksHandler struct {
	tasks TaskService
}

// NewTasksHandler creates a tasks handler
func NewTasksHandler(tasks TaskService) *TasksHandler {
	return &TasksHandler{tasks: tasks}
}

// List handles GET /api/scheduler/tasks
func (h *TasksHandler) List(c *gin.Context) {
	ok(c, http.StatusOK, h.tasks.ListTasks())
}

// Get handles GET /api/scheduler/tasks/:type
func (h *TasksHandler) Get(c *gin.Context) {
	task, err := h.tasks.GetTask(scheduler.TaskType(c.Param("type")))
	if err != nil {
		c.Error(err)
		return
	}
	ok(c, http.StatusOK, task)
}

// HealthHandler reports backend reachability.
type HealthHandler struct {
	store    Pinger
	database Pinger
	version  string
}

// NewHealthHandler creates a health handler. database may be nil.
func NewHealthHandler(store, database Pinger, version string) *HealthHandler {
	return &HealthHandler{store: store, database: database, version: version}
}

// Check handles GET /health. The store is required; the database only
// degrades the report.
func (h *HealthHandler) Check(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	code := http.StatusOK
	services := gin.H{}

	var fallback *cache.FallbackStats
	if fr, isFallback := h.store.(FallbackReporter); isFallback {
		stats := fr.Stats()
		fallback = &stats
		services["store_fallback"] = stats
	}

	switch err := h.store.Ping(ctx); {
	case err == nil:
		services["store"] = "ok"
	case fallback != nil && fallback.InFallback:
		// the in-memory standby keeps serving
		services["store"] = "fallback"
		status = "degraded"
	default:
		services["store"] = "error"
		status = "unavailable"
		code = http.StatusServiceUnavailable
	}

	switch {
	case h.database == nil:
		services["database"] = "disabled"
	case h.database.Ping(ctx) != nil:
		services["database"] = "error"
		if status == "ok" {
			status = "degraded"
		}
	default:
		services["database"] = "ok"
	}

	c.JSON(code, gin.H{
		"status":   status,
		"version":  h.version,
		"time":     time.Now().UTC(),
		"services": services,
	})
}
