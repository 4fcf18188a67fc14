package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"marketpulse/internal/logger"
)

// Config represents the application configuration
type Config struct {
	App        AppConfig        `yaml:"app"`
	Server     ServerConfig     `yaml:"server"`
	Redis      RedisConfig      `yaml:"redis"`
	Database   DatabaseConfig   `yaml:"database"`
	Logging    logger.Config    `yaml:"logging"`
	Engine     EngineConfig     `yaml:"engine"`
	Provider   ProviderConfig   `yaml:"provider"`
	Symbols    SymbolsConfig    `yaml:"symbols"`
	News       NewsConfig       `yaml:"news"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// AppConfig represents application configuration
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Port         int           `yaml:"port"`
	Host         string        `yaml:"host"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	Mode         string        `yaml:"mode"` // gin mode: debug, release, test
}

// RedisConfig represents Redis configuration
type RedisConfig struct {
	Addr        string        `yaml:"addr"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	PoolSize    int           `yaml:"pool_size"`
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// Memory runs on the in-process store; for development only.
	Memory bool `yaml:"memory"`
	// Fallback keeps serving from memory while Redis is unreachable.
	Fallback      bool `yaml:"fallback"`
	StartDegraded bool `yaml:"start_degraded"`
}

// DatabaseConfig represents the optional Postgres holding symbol reference data
type DatabaseConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	User           string        `yaml:"user"`
	Password       string        `yaml:"password"`
	DBName         string        `yaml:"dbname"`
	SSLMode        string        `yaml:"sslmode"`
	MaxOpen        int           `yaml:"max_open"`
	MaxIdle        int           `yaml:"max_idle"`
	Timeout        time.Duration `yaml:"timeout"`
	MigrationsPath string        `yaml:"migrations_path"`
}

// EngineConfig tunes the refresh engine.
type EngineConfig struct {
	TrackingEnabled  bool          `yaml:"tracking_enabled"`
	CacheTTL         time.Duration `yaml:"cache_ttl"`
	StaleThreshold   time.Duration `yaml:"stale_threshold"`
	DueWindow        time.Duration `yaml:"due_window"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
	SweepTimeout     time.Duration `yaml:"sweep_timeout"`
	UpstreamTimeout  time.Duration `yaml:"upstream_timeout"`
	BatchSize        int           `yaml:"batch_size"`
	BatchConcurrency int           `yaml:"batch_concurrency"`
}

// ProviderConfig selects and configures the upstream adapters.
type ProviderConfig struct {
	// Kind is one of realtime-equity, index-scrape, disabled.
	Kind        string        `yaml:"kind"`
	Tiingo      TiingoConfig  `yaml:"tiingo"`
	IndexFeed   IndexConfig   `yaml:"index_feed"`
	Stream      StreamConfig  `yaml:"stream"`
	RateLimit   float64       `yaml:"rate_limit"` // requests per second
	RateBurst   int           `yaml:"rate_burst"`
	HTTPTimeout time.Duration `yaml:"http_timeout"`
}

type TiingoConfig struct {
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
	Calendar string `yaml:"calendar"` // MIC used for prior trading day lookups
}

type IndexConfig struct {
	Key string `yaml:"key"`
}

type StreamConfig struct {
	Enabled bool     `yaml:"enabled"`
	URL     string   `yaml:"url"`
	Symbols []string `yaml:"symbols"`
}

// SymbolsConfig configures the bulk symbol cache.
type SymbolsConfig struct {
	ChunkSize      int      `yaml:"chunk_size"`
	ReloadSchedule string   `yaml:"reload_schedule"` // cron spec with seconds
	ReloadOnStart  bool     `yaml:"reload_on_start"`
	Source         string   `yaml:"source"` // static, postgres
	Static         []string `yaml:"static"` // TICKER:EXCHANGE:TYPE entries for the static source
}

// NewsConfig configures the cached Tiingo news feed.
type NewsConfig struct {
	Enabled      bool          `yaml:"enabled"`
	CacheTTL     time.Duration `yaml:"cache_ttl"`
	DefaultLimit int           `yaml:"default_limit"`
}

// MonitoringConfig represents monitoring configuration
type MonitoringConfig struct {
	Enabled     bool   `yaml:"enabled"`
	MetricsPath string `yaml:"metrics_path"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.Logging.Timestamp = true
	cfg.Engine.TrackingEnabled = true
	cfg.Monitoring.Enabled = true
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "marketpulse"
	}
	if c.App.Environment == "" {
		c.App.Environment = "development"
	}

	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout <= 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout <= 0 {
		c.Server.WriteTimeout = 45 * time.Second
	}
	if c.Server.Mode == "" {
		c.Server.Mode = "release"
	}

	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.PoolSize <= 0 {
		c.Redis.PoolSize = 20
	}
	if c.Redis.DialTimeout <= 0 {
		c.Redis.DialTimeout = 5 * time.Second
	}

	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.MigrationsPath == "" {
		c.Database.MigrationsPath = "migrations"
	}

	l, d := &c.Logging, logger.DefaultConfig
	if l.Level == "" {
		l.Level = d.Level
	}
	if l.Format == "" {
		l.Format = d.Format
	}
	if l.Output == "" {
		l.Output = d.Output
	}
	if l.MaxSize <= 0 {
		l.MaxSize, l.MaxAge, l.MaxBackups = d.MaxSize, d.MaxAge, d.MaxBackups
	}

	e := &c.Engine
	if e.CacheTTL <= 0 {
		e.CacheTTL = 60 * time.Second
	}
	if e.StaleThreshold <= 0 {
		e.StaleThreshold = 300 * time.Second
	}
	if e.DueWindow <= 0 {
		e.DueWindow = 10 * time.Second
	}
	if e.SweepInterval <= 0 {
		e.SweepInterval = 60 * time.Second
	}
	if e.SweepTimeout <= 0 {
		e.SweepTimeout = 30 * time.Second
	}
	if e.UpstreamTimeout <= 0 {
		e.UpstreamTimeout = 30 * time.Second
	}
	if e.BatchSize <= 0 {
		e.BatchSize = 20
	}
	if e.BatchConcurrency <= 0 {
		e.BatchConcurrency = 1
	}

	p := &c.Provider
	if p.Kind == "" {
		p.Kind = "realtime-equity"
	}
	if p.Tiingo.BaseURL == "" {
		p.Tiingo.BaseURL = "https://api.tiingo.com"
	}
	if p.Tiingo.Calendar == "" {
		p.Tiingo.Calendar = "XNYS"
	}
	if p.IndexFeed.Key == "" {
		p.IndexFeed.Key = "indices:tradingview:latest"
	}
	if p.RateLimit <= 0 {
		p.RateLimit = 5
	}
	if p.RateBurst <= 0 {
		p.RateBurst = 5
	}
	if p.HTTPTimeout <= 0 {
		p.HTTPTimeout = 30 * time.Second
	}

	if c.Symbols.ChunkSize <= 0 {
		c.Symbols.ChunkSize = 5000
	}
	if c.Symbols.ReloadSchedule == "" {
		c.Symbols.ReloadSchedule = "0 0 6 * * *"
	}
	if c.Symbols.Source == "" {
		c.Symbols.Source = "static"
	}

	if c.News.CacheTTL <= 0 {
		c.News.CacheTTL = 15 * time.Minute
	}
	if c.News.DefaultLimit <= 0 {
		c.News.DefaultLimit = 10
	}

	if c.Monitoring.MetricsPath == "" {
		c.Monitoring.MetricsPath = "/metrics"
	}
}

// Load loads configuration from a YAML file, a sibling .env file and the
// MARKETPULSE_ environment, in that order of increasing precedence. Values
// from .env never override variables already set in the environment.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	envFile := filepath.Join(filepath.Dir(filename), ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	return Parse(data)
}

// Parse builds a Config from YAML bytes plus the environment.
func Parse(data []byte) (*Config, error) {
	config := Config{
		Logging:    logger.Config{Timestamp: true},
		Engine:     EngineConfig{TrackingEnabled: true},
		Monitoring: MonitoringConfig{Enabled: true},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyEnv(NewEnvManager(""))
	config.applyDefaults()

	if err := NewValidator(&config).Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) applyEnv(em *EnvManager) {
	c.App.Environment = em.GetString("ENV", c.App.Environment)
	c.Server.Port = em.GetInt("SERVER_PORT", c.Server.Port)
	c.Server.Host = em.GetString("SERVER_HOST", c.Server.Host)

	c.Redis.Addr = em.GetString("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = em.GetString("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = em.GetInt("REDIS_DB", c.Redis.DB)
	c.Redis.Memory = em.GetBool("REDIS_MEMORY", c.Redis.Memory)

	c.Database.Enabled = em.GetBool("DATABASE_ENABLED", c.Database.Enabled)
	c.Database.Host = em.GetString("DATABASE_HOST", c.Database.Host)
	c.Database.Port = em.GetInt("DATABASE_PORT", c.Database.Port)
	c.Database.User = em.GetString("DATABASE_USER", c.Database.User)
	c.Database.Password = em.GetString("DATABASE_PASSWORD", c.Database.Password)
	c.Database.DBName = em.GetString("DATABASE_NAME", c.Database.DBName)

	c.Logging.Level = logger.LogLevel(em.GetString("LOG_LEVEL", string(c.Logging.Level)))

	c.Engine.TrackingEnabled = em.GetBool("TRACKING_ENABLED", c.Engine.TrackingEnabled)
	c.Engine.CacheTTL = em.GetDuration("CACHE_TTL", c.Engine.CacheTTL)
	c.Engine.StaleThreshold = em.GetDuration("STALE_THRESHOLD", c.Engine.StaleThreshold)
	c.Engine.DueWindow = em.GetDuration("DUE_WINDOW", c.Engine.DueWindow)
	c.Engine.SweepInterval = em.GetDuration("SWEEP_INTERVAL", c.Engine.SweepInterval)

	c.News.Enabled = em.GetBool("NEWS_ENABLED", c.News.Enabled)
	c.News.CacheTTL = em.GetDuration("NEWS_CACHE_TTL", c.News.CacheTTL)

	c.Provider.Kind = em.GetString("PROVIDER", c.Provider.Kind)
	c.Provider.Tiingo.APIKey = em.GetString("TIINGO_API_KEY", c.Provider.Tiingo.APIKey)
	if c.Provider.Tiingo.APIKey == "" {
		c.Provider.Tiingo.APIKey = os.Getenv("TIINGO_API_KEY")
	}
}

// Addr returns the host:port the HTTP server listens on.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
