// Package api exposes the engine and the symbol cache over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"marketpulse/internal/cache"
	"marketpulse/internal/config"
	"marketpulse/internal/engine"
	"marketpulse/internal/logger"
	"marketpulse/internal/market"
	"marketpulse/internal/monitoring"
	"marketpulse/internal/news"
	"marketpulse/internal/scheduler"
	"marketpulse/internal/symbols"
)

// MarketService is the read and refresh surface of the engine.
type MarketService interface {
	GetPrices(ctx context.Context, symbols []string) (*market.PriceBatch, error)
	GetIndices(ctx context.Context, symbols []string) (*market.IndexBatch, error)
	RefreshNow(ctx context.Context) (engine.SweepReport, bool)
	Options() engine.Options
	SetTracking(enabled bool)
}

// SymbolService is the bulk symbol cache.
type SymbolService interface {
	Reload(ctx context.Context) (int, error)
	Status(ctx context.Context) (symbols.Status, error)
	SearchByPrefix(ctx context.Context, prefix string, limit int) ([]market.SymbolReference, error)
	ByExchange(ctx context.Context, exchange string, limit int) ([]market.SymbolReference, error)
	ByAssetType(ctx context.Context, assetType string, limit int) ([]market.SymbolReference, error)
}

// NewsService is the cached news feed.
type NewsService interface {
	Trending(ctx context.Context, limit int) (*news.Feed, error)
	Ticker(ctx context.Context, ticker string, limit int) (*news.Feed, error)
	Personalized(ctx context.Context, tickers, topics []string, source string, limit int) (*news.Feed, error)
}

// TaskService exposes the maintenance scheduler.
type TaskService interface {
	ListTasks() []scheduler.Task
	GetTask(taskType scheduler.TaskType) (scheduler.Task, error)
}

// FallbackReporter is implemented by stores with an in-memory standby.
type FallbackReporter interface {
	Stats() cache.FallbackStats
}

// Pinger is anything /health can probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a health check function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Deps groups the services the router needs. Database, News and Tasks may
// be nil; their routes are then not registered.
type Deps struct {
	Market   MarketService
	Symbols  SymbolService
	News     NewsService
	Tasks    TaskService
	Store    Pinger
	Database Pinger
	Metrics  *monitoring.Metrics
	Logger   logger.Logger
	Version  string
}

// Server represents the API server
type Server struct {
	config     config.ServerConfig
	router     *gin.Engine
	httpServer *http.Server
	handlers   *Handlers
	deps       Deps
	log        logger.Logger
}

// Handlers contains all API handlers
type Handlers struct {
	Market  *MarketHandler
	Symbols *SymbolsHandler
	News    *NewsHandler
	Tasks   *TasksHandler
	Health  *HealthHandler
}

// NewServer builds the router. It does not listen until Start.
func NewServer(cfg config.ServerConfig, metricsPath string, deps Deps) *Server {
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}
	log := logger.Component(deps.Logger, "api")

	s := &Server{
		config: cfg,
		router: gin.New(),
		deps:   deps,
		log:    log,
		handlers: &Handlers{
			Market:  NewMarketHandler(deps.Market, log),
			Symbols: NewSymbolsHandler(deps.Symbols),
			Health:  NewHealthHandler(deps.Store, deps.Database, deps.Version),
		},
	}
	if deps.News != nil {
		s.handlers.News = NewNewsHandler(deps.News)
	}
	if deps.Tasks != nil {
		s.handlers.Tasks = NewTasksHandler(deps.Tasks)
	}
	s.setupRoutes(metricsPath)
	return s
}

// Router returns the gin engine, mainly for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes(metricsPath string) {
	// Middleware
	s.router.Use(RequestID())
	s.router.Use(ErrorHandler(s.log))
	s.router.Use(RequestLogger(s.log))
	s.router.Use(s.deps.Metrics.MetricsMiddleware())
	s.router.Use(HandleError(s.log))

	if metricsPath != "" {
		s.router.GET(metricsPath, gin.WrapH(s.deps.Metrics.Handler()))
	}
	s.router.GET("/health", s.handlers.Health.Check)

	api := s.router.Group("/api")
	{
		api.GET("/prices", s.handlers.Market.GetPrices)
		api.GET("/indices", s.handlers.Market.GetIndices)
		api.POST("/market/refresh", s.handlers.Market.Refresh)
		api.GET("/analytics/config", s.handlers.Market.GetTracking)
		api.PUT("/analytics/config", s.handlers.Market.SetTracking)

		sym := api.Group("/symbols")
		{
			sym.GET("/search", s.handlers.Symbols.Search)
			sym.GET("/exchange/:name", s.handlers.Symbols.ByExchange)
			sym.GET("/type/:type", s.handlers.Symbols.ByAssetType)
			sym.GET("/cache/status", s.handlers.Symbols.CacheStatus)
			sym.POST("/cache/refresh", s.handlers.Symbols.RefreshCache)
		}

		if s.handlers.News != nil {
			n := api.Group("/news")
			{
				n.GET("/trending", s.handlers.News.Trending)
				n.GET("/ticker/:ticker", s.handlers.News.Ticker)
				n.GET("/personalized", s.handlers.News.Personalized)
			}
		}

		if s.handlers.Tasks != nil {
			api.GET("/scheduler/tasks", s.handlers.Tasks.List)
			api.GET("/scheduler/tasks/:type", s.handlers.Tasks.Get)
		}
	}
}

// Start listens until Stop is called. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.log.Info("Starting API server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.log.Info("Shutting down API server")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.log.Info("API server stopped")
	return nil
}

// Response represents a standard API response
type Response struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

func ok(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Response{Success: true, Data: data, Timestamp: time.Now()})
}
