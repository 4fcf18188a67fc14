package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"marketpulse/internal/api"
	"marketpulse/internal/cache"
	"marketpulse/internal/config"
	"marketpulse/internal/database"
	"marketpulse/internal/engine"
	"marketpulse/internal/logger"
	"marketpulse/internal/market"
	"marketpulse/internal/monitoring"
	"marketpulse/internal/news"
	"marketpulse/internal/provider"
	"marketpulse/internal/provider/stream"
	"marketpulse/internal/scheduler"
	"marketpulse/internal/store"
	"marketpulse/internal/symbols"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "marketpulse: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger.Init(cfg.Logging)
	log := logger.GetGlobalLogger().WithField("version", version)
	log.Info("Starting marketpulse", "env", cfg.App.Environment, "provider", cfg.Provider.Kind)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metrics *monitoring.Metrics
	metricsPath := ""
	if cfg.Monitoring.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = monitoring.NewMetrics(reg)
		metricsPath = cfg.Monitoring.MetricsPath
	}

	// storage
	storeCfg := &cache.Config{
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		PoolSize:    cfg.Redis.PoolSize,
		DialTimeout: cfg.Redis.DialTimeout,
		Memory:      cfg.Redis.Memory,
	}
	if cfg.Redis.Fallback {
		storeCfg.Fallback = cache.DefaultFallbackConfig()
		storeCfg.Fallback.StartDegraded = cfg.Redis.StartDegraded
	}
	kv, err := cache.NewStore(storeCfg, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer kv.Close()
	if fb, ok := kv.(*cache.FallbackStore); ok {
		metrics.SetStoreFallback(fb.InFallback())
		fb.OnStateChange(metrics.SetStoreFallback)
	}

	// optional database
	var db *database.DB
	if cfg.Database.Enabled {
		db, err = database.NewConnection(ctx, database.FromConfig(cfg.Database), log)
		if err != nil {
			return err
		}
		defer db.Close()

		migrator, err := database.NewMigrator(db, cfg.Database.MigrationsPath)
		if err != nil {
			return err
		}
		err = migrator.Up()
		migrator.Close()
		if err != nil {
			return err
		}
	}

	upstream, err := provider.New(cfg.Provider, kv, log)
	if err != nil {
		return err
	}

	var subscriber provider.Subscriber
	if cfg.Provider.Stream.Enabled {
		feed := stream.NewClient(stream.Config{
			URL:    cfg.Provider.Stream.URL,
			APIKey: cfg.Provider.Tiingo.APIKey,
			TTL:    cfg.Engine.CacheTTL,
		}, store.NewRecordStore[market.PriceRecord](kv, store.PricePrefix), log)
		feed.OnTick = func(market.PriceRecord) { metrics.RecordStreamTick() }

		if err := feed.Start(ctx); err != nil {
			return fmt.Errorf("start stream: %w", err)
		}
		defer feed.Close()

		if len(cfg.Provider.Stream.Symbols) > 0 {
			if err := feed.Subscribe(ctx, market.CanonicalSymbols(cfg.Provider.Stream.Symbols)); err != nil {
				log.Warn("Initial stream subscription failed", "error", err)
			}
		}
		subscriber = feed
	}

	eng, err := engine.New(engine.Deps{
		Store:      kv,
		Provider:   upstream,
		Subscriber: subscriber,
		Metrics:    metrics,
		Logger:     log,
	}, engine.OptionsFromConfig(cfg.Engine))
	if err != nil {
		return err
	}
	if err := eng.Start(ctx); err != nil {
		return err
	}
	defer eng.Stop()

	source, err := symbolSource(cfg.Symbols, db)
	if err != nil {
		return err
	}
	symCache := symbols.NewCache(kv, source, symbols.Options{
		ChunkSize: cfg.Symbols.ChunkSize,
		Metrics:   metrics,
		Logger:    log,
	})

	sched := scheduler.NewScheduler(5*time.Minute, log)
	sched.RegisterHandler(scheduler.TaskTypeSymbolReload, scheduler.HandlerFunc(func(ctx context.Context) error {
		_, err := symCache.Reload(ctx)
		return err
	}))
	if err := sched.AddTask(scheduler.TaskTypeSymbolReload, cfg.Symbols.ReloadSchedule); err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	if cfg.Symbols.ReloadOnStart {
		go func() {
			if err := sched.RunNow(ctx, scheduler.TaskTypeSymbolReload); err != nil {
				log.Warn("Initial symbol reload failed", "error", err)
			}
		}()
	}

	// hot reload: engine windows, tracking and the reload schedule
	watcher := config.NewConfigWatcher(configPath, 10*time.Second, log)
	watcher.AddCallback(func(next *config.Config) error {
		eng.UpdateOptions(engine.OptionsFromConfig(next.Engine))
		logger.GetGlobalLogger().SetLevel(next.Logging.Level)
		if next.Symbols.ReloadSchedule != cfg.Symbols.ReloadSchedule {
			if err := sched.AddTask(scheduler.TaskTypeSymbolReload, next.Symbols.ReloadSchedule); err != nil {
				return err
			}
			cfg.Symbols.ReloadSchedule = next.Symbols.ReloadSchedule
		}
		return nil
	})
	go watcher.Start(ctx)

	deps := api.Deps{
		Market:  eng,
		Symbols: symCache,
		Store:   kv,
		Metrics: metrics,
		Logger:  log,
		Version: version,
		Tasks:   sched,
	}
	if cfg.News.Enabled {
		deps.News = news.NewService(kv, provider.NewTiingo(cfg.Provider, log), news.Options{
			TTL:          cfg.News.CacheTTL,
			DefaultLimit: cfg.News.DefaultLimit,
			Logger:       log,
		})
	}
	if db != nil {
		deps.Database = api.PingFunc(db.HealthCheck)
	}
	server := api.NewServer(cfg.Server, metricsPath, deps)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Error("API server shutdown failed", "error", err)
	}

	log.Info("marketpulse stopped")
	return nil
}

func symbolSource(cfg config.SymbolsConfig, db *database.DB) (symbols.Source, error) {
	switch cfg.Source {
	case "postgres":
		if db == nil {
			return nil, fmt.Errorf("symbol source postgres requires the database")
		}
		return symbols.NewPostgresSource(db.DB), nil
	default:
		refs, err := symbols.ParseStaticEntries(cfg.Static)
		if err != nil {
			return nil, err
		}
		return symbols.NewStaticSource(refs...), nil
	}
}
